package atlas

import (
	"fmt"

	units "github.com/docker/go-units"
)

// DeviceTier classifies a device's capability, derived from available
// memory and the largest texture edge the device supports.
type DeviceTier int

const (
	// TierLow allows only the smallest atlas size.
	TierLow DeviceTier = iota
	// TierMedium allows small and medium atlas sizes.
	TierMedium
	// TierHigh allows the full range of atlas sizes.
	TierHigh
)

// String returns the tier name.
func (t DeviceTier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Pressure is the current memory-pressure level reported by the platform.
type Pressure int

const (
	PressureNormal Pressure = iota
	PressureMedium
	PressureHigh
	PressureCritical
)

// String returns the pressure level name.
func (p Pressure) String() string {
	switch p {
	case PressureNormal:
		return "normal"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	}
	return fmt.Sprintf("pressure(%d)", int(p))
}

// Budget bounds atlas generation: the atlas sizes generation may use, how
// many tasks may run concurrently, and a byte ceiling for resident atlas
// buffers. Budgets are values computed by ComputeBudget and read by the
// distribution strategist; nothing mutates one after computation.
type Budget struct {
	// AllowedSizes lists the permitted atlas edge lengths, ascending.
	AllowedSizes []int

	// Parallelism is the maximum number of concurrent generation tasks.
	Parallelism int

	// MemoryBytes is the ceiling for resident atlas buffers.
	MemoryBytes int64
}

// SmallestSize returns the smallest allowed atlas edge, or 0 when none.
func (b Budget) SmallestSize() int {
	if len(b.AllowedSizes) == 0 {
		return 0
	}
	return b.AllowedSizes[0]
}

// LargestSize returns the largest allowed atlas edge, or 0 when none.
func (b Budget) LargestSize() int {
	if len(b.AllowedSizes) == 0 {
		return 0
	}
	return b.AllowedSizes[len(b.AllowedSizes)-1]
}

// Exhausted reports whether the budget permits no generation at all.
func (b Budget) Exhausted() bool {
	return b.Parallelism <= 0 || len(b.AllowedSizes) == 0
}

// String returns a compact description for logs.
func (b Budget) String() string {
	return fmt.Sprintf("sizes=%v parallelism=%d memory=%s",
		b.AllowedSizes, b.Parallelism, units.BytesSize(float64(b.MemoryBytes)))
}

// Per-tier base tables. Pressure scales these down, never up.
var tierTable = map[DeviceTier]Budget{
	TierLow:    {AllowedSizes: []int{2048}, Parallelism: 2, MemoryBytes: 128 * units.MiB},
	TierMedium: {AllowedSizes: []int{2048, 4096}, Parallelism: 4, MemoryBytes: 256 * units.MiB},
	TierHigh:   {AllowedSizes: []int{2048, 4096, 8192}, Parallelism: 6, MemoryBytes: 512 * units.MiB},
}

// ComputeBudget maps a device tier and pressure level to a budget. It is a
// pure table lookup, idempotent and side-effect-free, so callers may invoke
// it on every request without accumulating state.
//
// Pressure scales the byte ceiling down monotonically. Critical pressure
// additionally forces the smallest allowed atlas size and parallelism 1.
func ComputeBudget(tier DeviceTier, pressure Pressure) Budget {
	base, ok := tierTable[tier]
	if !ok {
		base = tierTable[TierLow]
	}

	b := Budget{
		AllowedSizes: append([]int(nil), base.AllowedSizes...),
		Parallelism:  base.Parallelism,
		MemoryBytes:  base.MemoryBytes,
	}

	switch pressure {
	case PressureMedium:
		b.MemoryBytes = base.MemoryBytes * 3 / 4
	case PressureHigh:
		b.MemoryBytes = base.MemoryBytes / 2
	case PressureCritical:
		b.MemoryBytes = base.MemoryBytes / 4
		b.AllowedSizes = b.AllowedSizes[:1]
		b.Parallelism = 1
	}
	return b
}

// DetectTier derives a device tier from total memory and the largest
// texture edge the device supports.
func DetectTier(totalMemoryBytes int64, maxTextureSize int) DeviceTier {
	switch {
	case totalMemoryBytes >= 8*units.GiB && maxTextureSize >= 8192:
		return TierHigh
	case totalMemoryBytes >= 4*units.GiB && maxTextureSize >= 4096:
		return TierMedium
	default:
		return TierLow
	}
}
