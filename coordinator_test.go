package atlas

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeLoader decodes solid rasters at the requested size. Failures and
// gating are configurable per test.
type fakeLoader struct {
	mu       sync.Mutex
	failOnce map[string]bool // retryable failure on first call
	perm     map[string]bool // permanent failure
	calls    map[string]int

	failAll atomic.Bool
	gate    chan struct{} // when non-nil, decode blocks until closed
	started chan string   // receives ids as decodes begin
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		failOnce: make(map[string]bool),
		perm:     make(map[string]bool),
		calls:    make(map[string]int),
	}
}

func (l *fakeLoader) Decode(ctx context.Context, id string, w, h int) (*Raster, error) {
	l.mu.Lock()
	l.calls[id]++
	n := l.calls[id]
	retryable := l.failOnce[id]
	permanent := l.perm[id]
	gate := l.gate
	started := l.started
	l.mu.Unlock()

	if started != nil {
		select {
		case started <- id:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.failAll.Load() {
		return nil, &DecodeError{ID: id, Reason: "loader offline"}
	}
	if permanent {
		return nil, &DecodeError{ID: id, Reason: "corrupt file"}
	}
	if retryable && n == 1 {
		return nil, &DecodeError{ID: id, Reason: "transient io", Retryable: true}
	}
	return NewRaster(id, image.NewRGBA(image.Rect(0, 0, w, h)), nil), nil
}

func (l *fakeLoader) callCount(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[id]
}

func testPhotos(n int) []Image {
	images := make([]Image, n)
	for i := range images {
		images[i] = Image{ID: "p" + string(rune('1'+i)), Width: 400, Height: 300}
	}
	return images
}

func idsOf(images []Image) []string {
	ids := make([]string, len(images))
	for i, im := range images {
		ids[i] = im.ID
	}
	return ids
}

func startedCoordinator(t *testing.T, loader Loader, photos []Image, opts ...Option) *Coordinator {
	t.Helper()
	co, err := NewCoordinator(loader, photos, opts...)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { co.Close() })
	if err := co.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return co
}

// collectUntil reads events until stop returns true, failing the test on
// timeout. All events read are returned, the stopping one last.
func collectUntil(t *testing.T, ch <-chan Event, stop func(Event) bool) []Event {
	t.Helper()
	var events []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			events = append(events, ev)
			if stop(ev) {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event; got %d so far", len(events))
		}
	}
}

func assertNoEvents(t *testing.T, ch <-chan Event) {
	t.Helper()
	time.Sleep(100 * time.Millisecond)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %v (seq %d, level %v)", ev.Kind, ev.Seq, ev.Level)
	default:
	}
}

func TestCoordinator_SubmitBeforeStart(t *testing.T) {
	co, err := NewCoordinator(newFakeLoader(), testPhotos(3))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer co.Close()

	if _, err := co.Submit(context.Background(), Request{Zoom: 1}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("submit before start = %v, want ErrNotStarted", err)
	}
}

func TestCoordinator_StartBuildsPersistentBase(t *testing.T) {
	photos := testPhotos(5)
	co := startedCoordinator(t, newFakeLoader(), photos, WithDeviceTier(TierLow))

	for _, im := range photos {
		a, reg, ok := co.FindRegion(im.ID)
		if !ok {
			t.Fatalf("FindRegion(%s) failed after Start", im.ID)
		}
		if reg.Level != 0 {
			t.Errorf("%s region level = %v, want lowest", im.ID, reg.Level)
		}
		if a.Size() != 2048 {
			t.Errorf("base atlas size = %d, want smallest allowed 2048", a.Size())
		}
	}
	if _, _, ok := co.FindRegion("unknown"); ok {
		t.Error("FindRegion for unknown id should fail")
	}
}

func TestCoordinator_FullPassStreamsLevelReady(t *testing.T) {
	photos := testPhotos(5)
	co := startedCoordinator(t, newFakeLoader(), photos,
		WithDeviceTier(TierLow), WithBoostLevel(false))

	events := make(chan Event, 64)
	if err := co.Subscribe("test", events); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	seq, err := co.Submit(context.Background(), Request{Visible: idsOf(photos), Zoom: 1.2})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })

	var ready *Event
	for i := range got {
		if got[i].Kind == EventLevelReady {
			ready = &got[i]
		}
	}
	if ready == nil {
		t.Fatal("no LevelReady event")
	}
	if ready.Seq != seq || ready.Level != LevelMedium {
		t.Errorf("LevelReady seq=%d level=%v, want seq=%d level=medium", ready.Seq, ready.Level, seq)
	}
	if len(ready.FailedIDs) != 0 {
		t.Errorf("failed ids = %v, want none", ready.FailedIDs)
	}
	if len(ready.Atlases) == 0 || ready.Atlases[0].Generation() != seq {
		t.Error("atlases missing or carrying wrong generation")
	}

	// The index now serves the higher-detail match.
	_, reg, ok := co.FindRegion(photos[0].ID)
	if !ok || reg.Level != LevelMedium {
		t.Errorf("FindRegion level = %v ok=%v, want medium", reg.Level, ok)
	}
}

func TestCoordinator_IdenticalRequestRegeneratesNothing(t *testing.T) {
	photos := testPhotos(4)
	co := startedCoordinator(t, newFakeLoader(), photos,
		WithDeviceTier(TierLow), WithBoostLevel(false))

	events := make(chan Event, 64)
	_ = co.Subscribe("test", events)

	req := Request{Visible: idsOf(photos), Zoom: 1.2}
	if _, err := co.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })
	completed := co.Stats().CompletedLevels

	// Identical request: no deltas, no regeneration, no events.
	if _, err := co.Submit(context.Background(), req); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	assertNoEvents(t, events)

	// Zoom moving inside the same level range is also not a delta.
	req.Zoom = 1.7
	if _, err := co.Submit(context.Background(), req); err != nil {
		t.Fatalf("zoom resubmit: %v", err)
	}
	assertNoEvents(t, events)

	if got := co.Stats().CompletedLevels; got != completed {
		t.Errorf("completed levels went %d -> %d, want unchanged", completed, got)
	}
}

func TestCoordinator_SelectiveFocusRegeneration(t *testing.T) {
	photos := testPhotos(4)
	co := startedCoordinator(t, newFakeLoader(), photos,
		WithDeviceTier(TierMedium), WithBoostLevel(false))

	events := make(chan Event, 64)
	_ = co.Subscribe("test", events)

	req := Request{Visible: idsOf(photos), Zoom: 1.2}
	if _, err := co.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })

	otherBefore, _, ok := co.FindRegion(photos[1].ID)
	if !ok {
		t.Fatal("photo missing before focus change")
	}

	// Only the focus changes: a selective pass regenerates the priority
	// atlas alone.
	req.Focused = photos[0].ID
	seq, err := co.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("focus submit: %v", err)
	}
	got := collectUntil(t, events, func(ev Event) bool {
		return ev.Kind == EventAllComplete && ev.Seq == seq
	})

	for _, ev := range got {
		if ev.Kind == EventLevelReady && ev.Level != DefaultLevels().Max() {
			t.Errorf("selective pass regenerated level %v", ev.Level)
		}
	}

	a, reg, ok := co.FindRegion(photos[0].ID)
	if !ok || reg.Level != DefaultLevels().Max() {
		t.Fatalf("focused region level = %v ok=%v, want max", reg.Level, ok)
	}
	if !a.Priority() {
		t.Error("focused photo should live in a priority atlas")
	}

	// Cached non-priority atlases stay untouched.
	otherAfter, _, ok := co.FindRegion(photos[1].ID)
	if !ok || otherAfter != otherBefore {
		t.Error("selective pass must leave other cached atlases intact")
	}

	// Clearing the focus drops the priority atlas again.
	req.Focused = ""
	seq, err = co.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("clear focus: %v", err)
	}
	collectUntil(t, events, func(ev Event) bool {
		return ev.Kind == EventAllComplete && ev.Seq == seq
	})
	_, reg, ok = co.FindRegion(photos[0].ID)
	if !ok || reg.Level == DefaultLevels().Max() {
		t.Errorf("after clearing focus, region level = %v, want a non-priority level", reg.Level)
	}
}

func TestCoordinator_NewerSequenceCancelsSameLevel(t *testing.T) {
	photos := testPhotos(5)
	loader := newFakeLoader()
	co := startedCoordinator(t, loader, photos,
		WithDeviceTier(TierLow), WithBoostLevel(false))

	// Gate decodes only after Start, so the base build ran unhindered.
	loader.mu.Lock()
	loader.gate = make(chan struct{})
	loader.started = make(chan string, 64)
	loader.mu.Unlock()

	events := make(chan Event, 64)
	_ = co.Subscribe("test", events)

	seqA, err := co.Submit(context.Background(), Request{Visible: idsOf(photos[:4]), Zoom: 1.2})
	if err != nil {
		t.Fatalf("submit A: %v", err)
	}

	// Wait until A is inside a decode, parked on the gate.
	select {
	case <-loader.started:
	case <-time.After(5 * time.Second):
		t.Fatal("decode for A never started")
	}

	// B targets the same level with a changed visible set: A's task for
	// that level is cancelled.
	seqB, err := co.Submit(context.Background(), Request{Visible: idsOf(photos), Zoom: 1.2})
	if err != nil {
		t.Fatalf("submit B: %v", err)
	}
	close(loader.gate)

	got := collectUntil(t, events, func(ev Event) bool {
		return ev.Kind == EventAllComplete && ev.Seq == seqB
	})
	// Drain anything that trailed after B's completion.
	time.Sleep(100 * time.Millisecond)
	for {
		select {
		case ev := <-events:
			got = append(got, ev)
			continue
		default:
		}
		break
	}

	sawB := false
	for _, ev := range got {
		if ev.Kind != EventLevelReady {
			continue
		}
		if ev.Seq == seqA {
			t.Error("cancelled sequence A must not emit LevelReady")
		}
		if ev.Seq == seqB {
			sawB = true
		}
	}
	if !sawB {
		t.Error("no LevelReady for the winning sequence B")
	}
	if co.Stats().CancelledTasks == 0 {
		t.Error("cancellation counter should have advanced")
	}
}

func TestCoordinator_PerPhotoFailuresAreReported(t *testing.T) {
	photos := testPhotos(4)
	loader := newFakeLoader()
	loader.perm[photos[2].ID] = true
	co := startedCoordinator(t, loader, photos,
		WithDeviceTier(TierLow), WithBoostLevel(false))

	events := make(chan Event, 64)
	_ = co.Subscribe("test", events)

	if _, err := co.Submit(context.Background(), Request{Visible: idsOf(photos), Zoom: 1.2}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	got := collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })

	found := false
	for _, ev := range got {
		if ev.Kind != EventLevelReady {
			continue
		}
		found = true
		if len(ev.FailedIDs) != 1 || ev.FailedIDs[0] != photos[2].ID {
			t.Errorf("failed ids = %v, want [%s]", ev.FailedIDs, photos[2].ID)
		}
	}
	if !found {
		t.Fatal("no LevelReady despite partial success being mandatory")
	}
}

func TestCoordinator_RetryableDecodeRetriedOnce(t *testing.T) {
	photos := testPhotos(3)
	loader := newFakeLoader()
	flaky := photos[1].ID
	co, err := NewCoordinator(loader, photos, WithDeviceTier(TierLow), WithBoostLevel(false))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer co.Close()
	if err := co.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	loader.mu.Lock()
	loader.failOnce[flaky] = true
	loader.calls = make(map[string]int) // forget the base build's decodes
	loader.mu.Unlock()

	events := make(chan Event, 64)
	_ = co.Subscribe("test", events)

	if _, err := co.Submit(context.Background(), Request{Visible: idsOf(photos), Zoom: 1.2}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	got := collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })

	for _, ev := range got {
		if ev.Kind == EventLevelReady && len(ev.FailedIDs) != 0 {
			t.Errorf("failed ids = %v, want none after retry", ev.FailedIDs)
		}
	}
	if n := loader.callCount(flaky); n != 2 {
		t.Errorf("flaky photo decoded %d times, want 2", n)
	}
}

func TestCoordinator_LevelFailureKeepsStaleCache(t *testing.T) {
	photos := testPhotos(5)
	loader := newFakeLoader()
	co := startedCoordinator(t, loader, photos,
		WithDeviceTier(TierLow), WithBoostLevel(false))

	events := make(chan Event, 64)
	_ = co.Subscribe("test", events)

	if _, err := co.Submit(context.Background(), Request{Visible: idsOf(photos[:4]), Zoom: 1.2}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })

	before, _, ok := co.FindRegion(photos[0].ID)
	if !ok {
		t.Fatal("photo missing after first pass")
	}

	// Loader goes down entirely; a changed visible set forces a full
	// pass, which fails as a whole.
	loader.failAll.Store(true)
	if _, err := co.Submit(context.Background(), Request{Visible: idsOf(photos), Zoom: 1.2}); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	got := collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })

	sawFailure := false
	for _, ev := range got {
		if ev.Kind == EventLevelFailed {
			sawFailure = true
			if !errors.Is(ev.Err, ErrLoaderUnavailable) {
				t.Errorf("level failure err = %v", ev.Err)
			}
		}
		if ev.Kind == EventLevelReady {
			t.Error("a fully failed level must not emit LevelReady")
		}
	}
	if !sawFailure {
		t.Fatal("no LevelFailed event")
	}

	// Stale-but-valid beats empty: the previous atlas is still served.
	after, _, ok := co.FindRegion(photos[0].ID)
	if !ok || after != before {
		t.Error("failed pass must leave the cached atlas untouched")
	}
}

func TestCoordinator_CriticalPressureSparesOnlyBase(t *testing.T) {
	photos := testPhotos(4)
	co := startedCoordinator(t, newFakeLoader(), photos,
		WithDeviceTier(TierMedium), WithBoostLevel(false))

	events := make(chan Event, 64)
	_ = co.Subscribe("test", events)

	if _, err := co.Submit(context.Background(), Request{Visible: idsOf(photos), Zoom: 1.2}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })

	_, reg, _ := co.FindRegion(photos[0].ID)
	if reg.Level != LevelMedium {
		t.Fatalf("pre-pressure level = %v, want medium", reg.Level)
	}

	co.SetPressure(PressureCritical)

	// Higher-detail atlases are gone; the persistent base still answers.
	_, reg, ok := co.FindRegion(photos[0].ID)
	if !ok {
		t.Fatal("FindRegion must still succeed under critical pressure")
	}
	if reg.Level != 0 {
		t.Errorf("post-pressure level = %v, want base level 0", reg.Level)
	}
}

func TestCoordinator_SetKnownRebuildsBase(t *testing.T) {
	photos := testPhotos(3)
	co := startedCoordinator(t, newFakeLoader(), photos, WithDeviceTier(TierLow))

	grown := append(testPhotos(3), Image{ID: "new", Width: 800, Height: 600})
	co.SetKnown(grown)

	// The rebuild is asynchronous.
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, _, ok := co.FindRegion("new")
		if ok && co.Stats().BaseRebuilds > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("base never rebuilt to include the new photo")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCoordinator_CloseRejectsWork(t *testing.T) {
	co := startedCoordinator(t, newFakeLoader(), testPhotos(2))
	if err := co.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := co.Submit(context.Background(), Request{Zoom: 1}); !errors.Is(err, ErrClosed) {
		t.Errorf("submit after close = %v, want ErrClosed", err)
	}
	if err := co.Close(); err != nil {
		t.Errorf("second close = %v, want nil", err)
	}
}

func TestCoordinator_InvalidatedStaleClassConverges(t *testing.T) {
	photos := testPhotos(4)
	co := startedCoordinator(t, newFakeLoader(), photos,
		WithDeviceTier(TierLow), WithBoostLevel(false))

	events := make(chan Event, 64)
	_ = co.Subscribe("test", events)

	// Populate the medium class, then cross down to thumb so medium stays
	// cached but outside later job sets.
	if _, err := co.Submit(context.Background(), Request{Visible: idsOf(photos), Zoom: 1.2}); err != nil {
		t.Fatalf("submit medium: %v", err)
	}
	collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })

	medium, _, ok := co.FindRegion(photos[0].ID)
	if !ok || medium.Level() != LevelMedium {
		t.Fatalf("medium atlas missing before invalidation")
	}

	req := Request{Visible: idsOf(photos), Zoom: 0.2}
	if _, err := co.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit thumb: %v", err)
	}
	collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })

	// The medium buffer is reclaimed externally. One corrective full pass
	// must clear the invalidation even though no job regenerates medium.
	medium.Invalidate()
	if _, err := co.Submit(context.Background(), req); err != nil {
		t.Fatalf("corrective submit: %v", err)
	}
	collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })
	completed := co.Stats().CompletedLevels

	// Identical no-delta requests after the corrective pass regenerate
	// nothing.
	for range 3 {
		if _, err := co.Submit(context.Background(), req); err != nil {
			t.Fatalf("no-delta submit: %v", err)
		}
	}
	assertNoEvents(t, events)
	if got := co.Stats().CompletedLevels; got != completed {
		t.Errorf("completed levels went %d -> %d after no-delta submits, want unchanged", completed, got)
	}

	// The invalidated atlas is gone from the index; lookups fall back to a
	// lowest-level region.
	a, reg, ok := co.FindRegion(photos[0].ID)
	if !ok {
		t.Fatal("FindRegion must still succeed after invalidation")
	}
	if a == medium || reg.Level == LevelMedium {
		t.Errorf("lookup still serves the invalidated medium atlas (level %v)", reg.Level)
	}
}

func TestCoordinator_UnknownFocusStillCompletes(t *testing.T) {
	photos := testPhotos(3)
	co := startedCoordinator(t, newFakeLoader(), photos,
		WithDeviceTier(TierLow), WithBoostLevel(false))

	events := make(chan Event, 64)
	_ = co.Subscribe("test", events)

	req := Request{Visible: idsOf(photos), Zoom: 1.2}
	if _, err := co.Submit(context.Background(), req); err != nil {
		t.Fatalf("submit: %v", err)
	}
	collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })

	// A focus change to an unknown id runs nothing, but the sequence must
	// still complete so waiting consumers are not stranded.
	req.Focused = "ghost"
	seq, err := co.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("unknown focus submit: %v", err)
	}
	got := collectUntil(t, events, func(ev Event) bool {
		return ev.Kind == EventAllComplete && ev.Seq == seq
	})
	for _, ev := range got {
		if ev.Kind == EventLevelReady {
			t.Errorf("unknown focus must not regenerate anything, got LevelReady for level %v", ev.Level)
		}
	}
}

func TestCoordinator_BoostGeneratesNextLevel(t *testing.T) {
	photos := testPhotos(4)
	co := startedCoordinator(t, newFakeLoader(), photos, WithDeviceTier(TierLow))

	events := make(chan Event, 64)
	_ = co.Subscribe("test", events)

	if _, err := co.Submit(context.Background(), Request{Visible: idsOf(photos), Zoom: 1.2}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	got := collectUntil(t, events, func(ev Event) bool { return ev.Kind == EventAllComplete })

	levels := make(map[DetailLevel]bool)
	for _, ev := range got {
		if ev.Kind == EventLevelReady {
			levels[ev.Level] = true
		}
	}
	if !levels[LevelMedium] || !levels[LevelHigh] {
		t.Errorf("ready levels = %v, want medium and the high boost", levels)
	}
}
