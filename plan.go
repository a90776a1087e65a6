package atlas

// PlanPolicy names the distribution policy a plan was produced under.
type PlanPolicy int

const (
	// PolicySingleSize assigns every image to the one allowed atlas size.
	PolicySingleSize PlanPolicy = iota
	// PolicyPriority plans the focused image alone at maximum detail and
	// distributes the rest with PolicyMultiSize.
	PolicyPriority
	// PolicyMultiSize buckets images across the allowed sizes by a
	// per-level minimum-images-per-atlas threshold.
	PolicyMultiSize
)

// String returns the policy name.
func (p PlanPolicy) String() string {
	switch p {
	case PolicySingleSize:
		return "single-size"
	case PolicyPriority:
		return "priority"
	case PolicyMultiSize:
		return "multi-size"
	}
	return "policy(?)"
}

// PlanEntry is one atlas to generate: its size, the images assigned to it,
// and the placement the packer chose for them.
type PlanEntry struct {
	Size        int
	Members     []Item
	Placement   []PackedRect
	Utilization float64

	// Priority marks the focused-content atlas. Priority atlases are
	// regenerated alone on a selective pass.
	Priority bool

	// Level the members were scaled for. The priority entry uses the
	// maximum level regardless of the request level.
	Level DetailLevel
}

// Plan is the full distribution decision for one generation pass.
type Plan struct {
	Policy  PlanPolicy
	Entries []PlanEntry

	// Failed lists images that exceed even the largest allowed atlas
	// size. This is the only way an image is permanently lost.
	Failed []string
}

// Strategist decides how many atlases of which size to produce for a photo
// set, given a detail level and a memory budget. It is stateless between
// calls; all fields are configuration.
type Strategist struct {
	// Levels maps detail levels to target resolutions.
	Levels LevelTable

	// Padding is the packing margin in pixels.
	Padding int

	// MinPerAtlas is the minimum images per atlas, indexed by detail
	// level. Coarser levels require more images per atlas since
	// thumbnails are small. Indexes beyond the slice clamp to its last
	// entry.
	MinPerAtlas []int
}

// DefaultMinPerAtlas returns the default per-level thresholds for the
// default five-level table.
func DefaultMinPerAtlas() []int {
	return []int{4, 4, 3, 2, 1}
}

func (s *Strategist) minFor(level DetailLevel) int {
	if len(s.MinPerAtlas) == 0 {
		return 1
	}
	i := int(level)
	if i < 0 {
		i = 0
	}
	if i >= len(s.MinPerAtlas) {
		i = len(s.MinPerAtlas) - 1
	}
	if s.MinPerAtlas[i] < 1 {
		return 1
	}
	return s.MinPerAtlas[i]
}

// scaledItems converts images to packer items at the level's target
// resolution, preserving input order.
func (s *Strategist) scaledItems(images []Image, level DetailLevel) []Item {
	target := s.Levels.Target(level)
	items := make([]Item, len(images))
	for i, im := range images {
		w, h := im.scaledTo(target)
		items[i] = Item{ID: im.ID, Width: w, Height: h}
	}
	return items
}

// Plan distributes images across atlases for one detail level under the
// given budget. Three policies apply in rule order, first match wins:
//
//  1. The budget restricts to one atlas size: every image is assigned to
//     that size, split into as many atlas instances as packing requires.
//  2. A focused image is set: it is planned alone into the largest allowed
//     size at the maximum detail level, and the rest use the multi-size
//     policy among themselves.
//  3. Otherwise multi-size: images are bucketed by the per-level
//     minimum-images-per-atlas threshold, packed largest-size-first at high
//     detail levels (large images benefit from more room) and
//     smallest-first otherwise.
//
// An image rejected at its assigned size escalates through the remaining
// allowed sizes, then falls back to a dedicated single-image atlas in the
// smallest allowed size that fits it. Only an image exceeding the largest
// allowed size is marked failed: no silent photo loss short of a truly
// oversized source.
func (s *Strategist) Plan(images []Image, level DetailLevel, focusedID string, budget Budget) Plan {
	if len(budget.AllowedSizes) == 1 {
		items := s.scaledItems(images, level)
		entries, leftover := s.fill(items, budget.SmallestSize(), level, 1, true)
		p := Plan{Policy: PolicySingleSize, Entries: entries}
		s.rescue(leftover, budget, level, &p)
		return p
	}

	if focusedID != "" {
		if focused, rest, ok := splitFocused(images, focusedID); ok {
			p := Plan{Policy: PolicyPriority}
			maxLevel := s.Levels.Max()
			fw, fh := focused.scaledTo(s.Levels.Target(maxLevel))
			size := budget.LargestSize()
			if !Fits(fw, fh, size, s.Padding) {
				p.Failed = append(p.Failed, focused.ID)
			} else {
				item := Item{ID: focused.ID, Width: fw, Height: fh}
				res := Pack([]Item{item}, size, s.Padding)
				p.Entries = append(p.Entries, PlanEntry{
					Size:        size,
					Members:     []Item{item},
					Placement:   res.Placed,
					Utilization: res.Utilization,
					Priority:    true,
					Level:       maxLevel,
				})
			}
			s.multiSize(rest, level, budget, &p)
			return p
		}
	}

	p := Plan{Policy: PolicyMultiSize}
	s.multiSize(images, level, budget, &p)
	return p
}

// splitFocused separates the focused image from the rest, preserving
// order. An unknown focused id reports ok=false.
func splitFocused(images []Image, focusedID string) (focused Image, rest []Image, ok bool) {
	rest = make([]Image, 0, len(images))
	for _, im := range images {
		if im.ID == focusedID && !ok {
			focused = im
			ok = true
			continue
		}
		rest = append(rest, im)
	}
	return focused, rest, ok
}

// multiSize appends multi-size entries for images to the plan.
func (s *Strategist) multiSize(images []Image, level DetailLevel, budget Budget, p *Plan) {
	if len(images) == 0 {
		return
	}
	items := s.scaledItems(images, level)
	min := s.minFor(level)

	sizes := append([]int(nil), budget.AllowedSizes...)
	// High detail levels pack largest-atlas-size-first: large images
	// benefit from more room. Coarse levels fill small atlases first.
	if int(level)*2 >= len(s.Levels) {
		reverse(sizes)
	}

	remaining := items
	for si, size := range sizes {
		last := si == len(sizes)-1
		var entries []PlanEntry
		entries, remaining = s.fill(remaining, size, level, min, last)
		p.Entries = append(p.Entries, entries...)
		if len(remaining) == 0 {
			break
		}
	}
	s.rescue(remaining, budget, level, p)
}

// fill repeatedly packs remaining items into atlases of one size. An atlas
// instance is accepted only when it holds at least min images, unless
// acceptAny is set (the last size in the ladder takes whatever remains).
// Returns the accepted entries and the items still unplaced.
func (s *Strategist) fill(items []Item, size int, level DetailLevel, min int, acceptAny bool) (entries []PlanEntry, leftover []Item) {
	remaining := items
	for len(remaining) > 0 {
		if !acceptAny && len(remaining) < min {
			break
		}
		res := Pack(remaining, size, s.Padding)
		if len(res.Placed) == 0 {
			break
		}
		if !acceptAny && len(res.Placed) < min {
			break
		}
		members := membersOf(remaining, res.Placed)
		entries = append(entries, PlanEntry{
			Size:        size,
			Members:     members,
			Placement:   res.Placed,
			Utilization: res.Utilization,
			Level:       level,
		})
		remaining = withoutPlaced(remaining, res.Placed)
	}
	return entries, remaining
}

// rescue places each still-unplaced item into a dedicated single-image
// atlas in the smallest allowed size that fits it, or marks it permanently
// failed when it exceeds even the largest allowed size.
func (s *Strategist) rescue(leftover []Item, budget Budget, level DetailLevel, p *Plan) {
	for _, it := range leftover {
		rescued := false
		for _, size := range budget.AllowedSizes {
			if !Fits(it.Width, it.Height, size, s.Padding) {
				continue
			}
			res := Pack([]Item{it}, size, s.Padding)
			if len(res.Placed) != 1 {
				continue
			}
			p.Entries = append(p.Entries, PlanEntry{
				Size:        size,
				Members:     []Item{it},
				Placement:   res.Placed,
				Utilization: res.Utilization,
				Level:       level,
			})
			rescued = true
			break
		}
		if !rescued {
			p.Failed = append(p.Failed, it.ID)
		}
	}
}

// membersOf returns the items whose ids appear in placed, in input order.
func membersOf(items []Item, placed []PackedRect) []Item {
	ids := make(map[string]struct{}, len(placed))
	for _, r := range placed {
		ids[r.ID] = struct{}{}
	}
	members := make([]Item, 0, len(placed))
	for _, it := range items {
		if _, ok := ids[it.ID]; ok {
			members = append(members, it)
		}
	}
	return members
}

// withoutPlaced returns the items not in placed, preserving input order so
// subsequent packs stay deterministic.
func withoutPlaced(items []Item, placed []PackedRect) []Item {
	ids := make(map[string]struct{}, len(placed))
	for _, r := range placed {
		ids[r.ID] = struct{}{}
	}
	var rest []Item
	for _, it := range items {
		if _, ok := ids[it.ID]; !ok {
			rest = append(rest, it)
		}
	}
	return rest
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
