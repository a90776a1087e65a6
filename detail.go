package atlas

import (
	"math"
	"sort"
	"strconv"
)

// DetailLevel identifies one discrete level of detail. Levels are ordered:
// a higher value means a higher target resolution. Every atlas belongs to
// exactly one detail level.
type DetailLevel int

// Detail levels of the default table, coarsest first.
const (
	LevelThumb DetailLevel = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelFull
)

// String returns a human-readable level name.
func (l DetailLevel) String() string {
	switch l {
	case LevelThumb:
		return "thumb"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelFull:
		return "full"
	}
	return "level(" + strconv.Itoa(int(l)) + ")"
}

// LevelSpec binds one detail level to a target raster resolution and a
// half-open zoom range [MinZoom, MaxZoom).
type LevelSpec struct {
	// Target is the longest-edge resolution, in pixels, that photos are
	// decoded at for this level.
	Target int

	// MinZoom is the inclusive lower bound of the zoom range.
	MinZoom float64

	// MaxZoom is the exclusive upper bound of the zoom range.
	MaxZoom float64
}

// LevelTable is an ordered set of level specs, coarsest first. The index
// into the table is the DetailLevel. Ranges must be contiguous and
// non-overlapping: for any zoom value exactly one level matches, except
// values below the first lower bound or at/above the last upper bound,
// which clamp to the nearest end level.
type LevelTable []LevelSpec

// DefaultLevels returns the default five-level table.
func DefaultLevels() LevelTable {
	return LevelTable{
		{Target: 64, MinZoom: 0, MaxZoom: 0.5},
		{Target: 128, MinZoom: 0.5, MaxZoom: 1.0},
		{Target: 256, MinZoom: 1.0, MaxZoom: 2.0},
		{Target: 512, MinZoom: 2.0, MaxZoom: 4.0},
		{Target: 1024, MinZoom: 4.0, MaxZoom: math.Inf(1)},
	}
}

// Validate checks that the table is non-empty, targets are positive and
// strictly increasing, and zoom ranges are contiguous half-open intervals.
func (t LevelTable) Validate() error {
	if len(t) == 0 {
		return &ConfigError{Field: "Levels", Reason: "must have at least one level"}
	}
	for i, s := range t {
		if s.Target <= 0 {
			return &ConfigError{Field: "Levels", Reason: "target resolution must be positive"}
		}
		if s.MaxZoom <= s.MinZoom {
			return &ConfigError{Field: "Levels", Reason: "zoom range must be non-empty"}
		}
		if i > 0 {
			if s.Target <= t[i-1].Target {
				return &ConfigError{Field: "Levels", Reason: "target resolutions must be strictly increasing"}
			}
			if s.MinZoom != t[i-1].MaxZoom {
				return &ConfigError{Field: "Levels", Reason: "zoom ranges must be contiguous"}
			}
		}
	}
	return nil
}

// Max returns the highest defined detail level.
func (t LevelTable) Max() DetailLevel {
	return DetailLevel(len(t) - 1)
}

// Target returns the target longest-edge resolution for a level. Levels
// outside the table clamp to the nearest end.
func (t LevelTable) Target(l DetailLevel) int {
	if l < 0 {
		l = 0
	}
	if int(l) >= len(t) {
		l = t.Max()
	}
	return t[l].Target
}

// LevelFor maps a zoom value to its detail level by binary search over the
// ordered range table. Zoom values below the first lower bound clamp to the
// first level; values at or above the last upper bound clamp to the last.
func (t LevelTable) LevelFor(zoom float64) DetailLevel {
	if zoom < t[0].MinZoom {
		return 0
	}
	if zoom >= t[len(t)-1].MaxZoom {
		return t.Max()
	}
	// First level whose MaxZoom exceeds zoom; ranges are contiguous so
	// that level's MinZoom is <= zoom. A NaN zoom fails every comparison
	// above and in the search, so the not-found result clamps to the last
	// level.
	i := sort.Search(len(t), func(i int) bool { return zoom < t[i].MaxZoom })
	if i >= len(t) {
		return t.Max()
	}
	return DetailLevel(i)
}

// CrossedBoundary reports whether moving from prev to next zoom crosses a
// level boundary, and if so, the level the next zoom maps to. Equal levels
// report no crossing: regeneration must not be triggered by sub-pixel zoom
// deltas during a continuous gesture.
func (t LevelTable) CrossedBoundary(prev, next float64) (DetailLevel, bool) {
	a, b := t.LevelFor(prev), t.LevelFor(next)
	if a == b {
		return 0, false
	}
	return b, true
}
