package atlas

import (
	"fmt"
	"image"
	"sync/atomic"
)

// Image describes one source photo: an opaque identifier plus its natural
// pixel dimensions. Images are immutable once processing begins and remain
// owned by the caller.
type Image struct {
	ID     string
	Width  int
	Height int
}

// AspectRatio returns width/height, or 1 for degenerate dimensions.
func (im Image) AspectRatio() float64 {
	if im.Width <= 0 || im.Height <= 0 {
		return 1
	}
	return float64(im.Width) / float64(im.Height)
}

// scaledTo returns the image's dimensions scaled so the longest edge equals
// target, preserving aspect ratio. Dimensions never round down to zero.
func (im Image) scaledTo(target int) (w, h int) {
	if im.Width <= 0 || im.Height <= 0 {
		return target, target
	}
	if im.Width >= im.Height {
		w = target
		h = im.Height * target / im.Width
	} else {
		h = target
		w = im.Width * target / im.Height
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Raster is one decoded photo raster. It is owned exclusively by the
// component that decoded it until handed to assembly, which consumes and
// releases it immediately after composition. A raster is never retained
// past one atlas's assembly.
type Raster struct {
	ID  string
	Img image.Image

	// release returns the backing buffer to its owner (a decoder pool,
	// typically). May be nil.
	release func()
}

// NewRaster wraps a decoded image. The optional release callback is invoked
// exactly once when the raster is consumed.
func NewRaster(id string, img image.Image, release func()) *Raster {
	return &Raster{ID: id, Img: img, release: release}
}

// Release frees the raster's backing buffer. Safe to call more than once;
// only the first call has effect.
func (r *Raster) Release() {
	if r == nil {
		return
	}
	r.Img = nil
	if r.release != nil {
		rel := r.release
		r.release = nil
		rel()
	}
}

// Item is one rectangle presented to the shelf packer: an identifier plus
// the dimensions it should occupy in the atlas (already scaled for the
// target detail level).
type Item struct {
	ID     string
	Width  int
	Height int
}

// PackedRect is one placed rectangle in an atlas's coordinate space.
// Produced by Pack, immutable.
type PackedRect struct {
	ID     string
	X, Y   int
	Width  int
	Height int
}

// String returns a compact description, useful in logs and test failures.
func (r PackedRect) String() string {
	return fmt.Sprintf("%s@(%d,%d %dx%d)", r.ID, r.X, r.Y, r.Width, r.Height)
}

// Region locates one source photo inside an atlas: its rectangle in atlas
// pixel space, the photo's original aspect ratio, and the detail level the
// atlas was generated at.
type Region struct {
	ID          string
	X, Y        int
	Width       int
	Height      int
	AspectRatio float64
	Level       DetailLevel
}

// Atlas is one fixed-size square composed bitmap containing many packed
// photos, plus the region index locating each photo inside it.
//
// An Atlas is immutable once assembled: the coordinator replaces a cache
// entry with a newly assembled Atlas rather than mutating one in place, so
// a reader never observes a half-drawn atlas. The pixel buffer is released
// to the garbage collector when the last reference is dropped.
type Atlas struct {
	pix        *image.RGBA
	size       int
	level      DetailLevel
	generation uint64
	priority   bool
	regions    map[string]Region

	// invalid is set when the buffer was reclaimed externally. An
	// invalidated atlas triggers full regeneration for its level.
	invalid atomic.Bool
}

// Size returns the atlas edge length in pixels (atlases are square).
func (a *Atlas) Size() int { return a.size }

// Level returns the detail level this atlas was generated at.
func (a *Atlas) Level() DetailLevel { return a.level }

// Generation returns the sequence number of the generation pass that
// produced this atlas. Later generations supersede earlier ones within the
// same detail level.
func (a *Atlas) Generation() uint64 { return a.generation }

// Priority reports whether this atlas holds focused-priority content.
func (a *Atlas) Priority() bool { return a.priority }

// Image returns the composed pixel buffer. Read-only: writing to it after
// assembly is a data race with renderers holding the same snapshot.
func (a *Atlas) Image() *image.RGBA { return a.pix }

// Region returns the region for an identifier, if the atlas contains it.
func (a *Atlas) Region(id string) (Region, bool) {
	r, ok := a.regions[id]
	return r, ok
}

// Len returns the number of photos packed into this atlas.
func (a *Atlas) Len() int { return len(a.regions) }

// IDs returns the identifiers present in this atlas, in no defined order.
func (a *Atlas) IDs() []string {
	ids := make([]string, 0, len(a.regions))
	for id := range a.regions {
		ids = append(ids, id)
	}
	return ids
}

// Invalidate marks the atlas's buffer as externally reclaimed. The next
// submission observing an invalidated atlas forces full regeneration for
// its level.
func (a *Atlas) Invalidate() { a.invalid.Store(true) }

// Valid reports whether the atlas's buffer is still usable.
func (a *Atlas) Valid() bool { return !a.invalid.Load() }

// MemoryBytes returns the size of the pixel buffer in bytes.
func (a *Atlas) MemoryBytes() int64 {
	return int64(a.size) * int64(a.size) * 4
}
