// Package atlas packs many variably-sized photos into large square atlas
// textures at a resolution matched to the current viewing scale, so a
// renderer can draw thousands of photos with a handful of texture binds
// instead of one bind per photo.
//
// # Overview
//
// The pipeline has four mechanical stages and one coordinator:
//
//   - Shelf packing: deterministic bin-packing of rectangles into a fixed
//     square (Pack).
//   - Detail levels: discrete levels of detail bound to half-open zoom
//     ranges (LevelTable).
//   - Assembly: composing decoded rasters into one atlas bitmap with
//     smooth resampling (Assemble).
//   - Distribution: deciding how many atlases of which size to produce
//     under a device/memory budget (Strategist).
//   - Streaming: a Coordinator that generates independent detail levels
//     concurrently, cancels stale work by sequence number, and emits
//     results incrementally over an event stream.
//
// # Quick Start
//
//	co, err := atlas.NewCoordinator(loader, photos)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer co.Close()
//
//	// Build the persistent lowest-level atlas before first use.
//	if err := co.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	events := make(chan atlas.Event, 16)
//	co.Subscribe("renderer", events)
//
//	co.Submit(ctx, atlas.Request{
//	    Visible: visibleIDs,
//	    Zoom:    1.4,
//	})
//
//	// The renderer looks regions up synchronously on its draw path.
//	if a, region, ok := co.FindRegion("photo-42"); ok {
//	    drawTexturedQuad(a, region)
//	}
//
// # Ordering
//
// Sequence numbers assigned at submission time are the sole authority for
// "latest wins": within one detail level only the result carrying the
// highest sequence number is authoritative, and consumers must discard any
// LevelReady event older than the newest they have observed for that level.
// Across detail levels no ordering is promised; results are independent.
//
// # Lifetime
//
// A decoded raster is consumed and released by assembly; it is never
// retained past one atlas's composition. An Atlas, once handed out, is
// never mutated in place: regeneration produces a new Atlas that replaces
// the cache entry only after it is fully assembled. The persistent
// lowest-level atlas, built once at startup, is the only unconditionally
// retained object and survives any memory pressure.
package atlas

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"
)
