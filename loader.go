package atlas

import "context"

// Loader produces decoded photo rasters at a requested resolution. It is
// implemented by the host application; the pipeline treats decoding as
// opaque. Implementations are expected to be safe for concurrent use and
// to honor context cancellation.
//
// A failed decode should be reported as a [*DecodeError] so the pipeline
// can distinguish retryable failures (retried once) from permanent ones.
// Any other error is treated as permanent.
type Loader interface {
	Decode(ctx context.Context, id string, targetWidth, targetHeight int) (*Raster, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, id string, targetWidth, targetHeight int) (*Raster, error)

// Decode implements Loader.
func (f LoaderFunc) Decode(ctx context.Context, id string, targetWidth, targetHeight int) (*Raster, error) {
	return f(ctx, id, targetWidth, targetHeight)
}
