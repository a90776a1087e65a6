package atlas

// RegenState bundles the observed deltas the regeneration decision is made
// from. The coordinator computes one per submission.
type RegenState struct {
	// HasAtlas reports whether any atlas exists at all.
	HasAtlas bool

	// VisibleChanged reports whether the visible-identifier set changed.
	VisibleChanged bool

	// LevelCrossed reports whether the zoom moved across a detail-level
	// boundary.
	LevelCrossed bool

	// Invalidated reports whether any cached atlas's buffer was
	// reclaimed externally.
	Invalidated bool

	// FocusChanged reports whether the focused identifier changed.
	FocusChanged bool
}

// Decision is the outcome of the regeneration decider.
type Decision int

const (
	// RegenNone regenerates nothing.
	RegenNone Decision = iota
	// RegenSelective regenerates only the focused-priority atlas.
	RegenSelective
	// RegenFull regenerates every required level.
	RegenFull
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case RegenNone:
		return "none"
	case RegenSelective:
		return "selective"
	case RegenFull:
		return "full"
	}
	return "decision(?)"
}

// Decide chooses between full, selective, and no regeneration. Rules apply
// in order, first match wins:
//
//  1. No atlas exists: full.
//  2. Any cached atlas was invalidated: full.
//  3. The visible set changed or a level boundary was crossed: full.
//  4. Only the focused identifier changed: selective.
//  5. Otherwise: none.
//
// The ordering matters: a focus change arriving together with a pan must
// pick the full pass the pan requires, not be under-prioritized to a
// selective one.
func Decide(s RegenState) Decision {
	switch {
	case !s.HasAtlas:
		return RegenFull
	case s.Invalidated:
		return RegenFull
	case s.VisibleChanged || s.LevelCrossed:
		return RegenFull
	case s.FocusChanged:
		return RegenSelective
	default:
		return RegenNone
	}
}
