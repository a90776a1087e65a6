package atlas

import (
	"context"
	"image"

	xdraw "golang.org/x/image/draw"
)

// Assemble composes decoded rasters into one atlas bitmap according to a
// packing placement. Each raster is drawn at its rectangle, scaled with
// Catmull-Rom resampling when its decoded size differs from the placement
// size, and released immediately after its draw call.
//
// A missing or corrupt raster does not abort the assembly: its rectangle is
// left transparent and its identifier is returned in failed. Partial
// success is the contract; the only error Assemble returns is context
// cancellation, which is checked between draws so a cancelled task
// abandons work at the next checkpoint. On cancellation all remaining
// rasters are released and no atlas is returned.
func Assemble(ctx context.Context, rasters []*Raster, placement []PackedRect, atlasSize int, level DetailLevel) (*Atlas, []string, error) {
	byID := make(map[string]*Raster, len(rasters))
	for _, r := range rasters {
		if r != nil {
			byID[r.ID] = r
		}
	}
	// Release anything decoded but not placed, whatever happens.
	defer func() {
		for _, r := range byID {
			r.Release()
		}
	}()

	dst := image.NewRGBA(image.Rect(0, 0, atlasSize, atlasSize))
	regions := make(map[string]Region, len(placement))
	var failed []string

	for _, p := range placement {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		r, ok := byID[p.ID]
		if !ok || r.Img == nil {
			failed = append(failed, p.ID)
			continue
		}
		delete(byID, p.ID)

		sb := r.Img.Bounds()
		if sb.Dx() <= 0 || sb.Dy() <= 0 {
			failed = append(failed, p.ID)
			r.Release()
			continue
		}

		dr := image.Rect(p.X, p.Y, p.X+p.Width, p.Y+p.Height)
		if sb.Dx() == p.Width && sb.Dy() == p.Height {
			xdraw.Draw(dst, dr, r.Img, sb.Min, xdraw.Src)
		} else {
			xdraw.CatmullRom.Scale(dst, dr, r.Img, sb, xdraw.Src, nil)
		}

		regions[p.ID] = Region{
			ID: p.ID, X: p.X, Y: p.Y,
			Width: p.Width, Height: p.Height,
			AspectRatio: float64(sb.Dx()) / float64(sb.Dy()),
			Level:       level,
		}
		r.Release()
	}

	a := &Atlas{
		pix:     dst,
		size:    atlasSize,
		level:   level,
		regions: regions,
	}
	return a, failed, nil
}
