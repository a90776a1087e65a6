package atlas

import "sort"

// PackResult is the outcome of one packing pass over one atlas.
type PackResult struct {
	// Placed holds the accepted rectangles with their positions.
	Placed []PackedRect

	// Rejected holds the identifiers that did not fit.
	Rejected []string

	// Utilization is occupied area divided by the atlas's total area,
	// in [0, 1].
	Utilization float64
}

// shelf is a horizontal strip of the atlas. Its height is fixed by the
// tallest item assigned to it, which under the height-descending insertion
// order is always the first item placed on it.
type shelf struct {
	y      int // top edge
	height int // fixed height
	x      int // width cursor (next free slot)
}

// Pack arranges items into one square atlas of edge atlasSize using shelf
// packing, with padding pixels of margin consumed from the cursor on each
// placed rectangle's trailing edges so adjacent items never touch.
//
// The algorithm sorts items by height descending (stable on ties, so
// identical inputs always produce identical outputs), then scans shelves
// in creation order and places each item on the first shelf with enough
// remaining width. A new shelf opens below the last one when no existing
// shelf fits and vertical room remains; otherwise the item is rejected.
// Rotation is never used, and an item with either dimension exceeding
// atlasSize-2*padding is always rejected, never force-fit.
//
// Pack is a pure function: it shares no state across calls.
func Pack(items []Item, atlasSize, padding int) PackResult {
	order := make([]Item, len(items))
	copy(order, items)
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Height > order[j].Height
	})

	var (
		shelves   []shelf
		nextY     int // cumulative shelf-height offset, tracked incrementally
		placed    = make([]PackedRect, 0, len(order))
		rejected  []string
		usedArea  int
		oversized = atlasSize - 2*padding
	)

	for _, it := range order {
		if it.Width <= 0 || it.Height <= 0 || it.Width > oversized || it.Height > oversized {
			rejected = append(rejected, it.ID)
			continue
		}

		placedHere := false
		for i := range shelves {
			sh := &shelves[i]
			if it.Height > sh.height {
				continue
			}
			if sh.x+it.Width+padding > atlasSize {
				continue
			}
			placed = append(placed, PackedRect{
				ID: it.ID, X: sh.x, Y: sh.y,
				Width: it.Width, Height: it.Height,
			})
			sh.x += it.Width + padding
			usedArea += it.Width * it.Height
			placedHere = true
			break
		}
		if placedHere {
			continue
		}

		// Open a new shelf below the last one.
		if nextY+it.Height+padding > atlasSize {
			rejected = append(rejected, it.ID)
			continue
		}
		placed = append(placed, PackedRect{
			ID: it.ID, X: 0, Y: nextY,
			Width: it.Width, Height: it.Height,
		})
		shelves = append(shelves, shelf{
			y:      nextY,
			height: it.Height,
			x:      it.Width + padding,
		})
		nextY += it.Height + padding
		usedArea += it.Width * it.Height
	}

	res := PackResult{Placed: placed, Rejected: rejected}
	if atlasSize > 0 {
		res.Utilization = float64(usedArea) / (float64(atlasSize) * float64(atlasSize))
	}
	return res
}

// Fits reports whether a single item of the given dimensions can ever be
// placed in an atlas of edge atlasSize with the given padding. Used by the
// distribution strategist's size-retry ladder.
func Fits(width, height, atlasSize, padding int) bool {
	limit := atlasSize - 2*padding
	return width > 0 && height > 0 && width <= limit && height <= limit
}
