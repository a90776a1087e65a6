package atlas

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/gogpu/atlas/cache"
	"github.com/gogpu/atlas/internal/parallel"
)

// fallbackAtlasSize is used when the computed budget permits no sizes at
// all: generation degrades to single-atlas, smallest-size, sequential
// work instead of failing outright.
const fallbackAtlasSize = 2048

// Request asks the coordinator to (re)generate atlases for the current
// viewport: the set of visible photo identifiers, the zoom, and the
// optional single focused identifier granted maximum-detail priority.
//
// Each submission is assigned a monotonically increasing sequence number,
// the sole authority for latest-wins ordering. Wall-clock time is never
// compared.
type Request struct {
	Visible []string
	Zoom    float64
	Focused string
}

// taskClass identifies one cancellation/caching slot: a detail level plus
// whether it holds focused-priority content.
type taskClass struct {
	level    DetailLevel
	priority bool
}

// refKey distinguishes index entries for the same photo across levels.
// The persistent base atlas gets its own slot so a regular coarse-level
// pass never displaces it.
type refKey struct {
	level    DetailLevel
	priority bool
	base     bool
}

// regionRef is one index entry: where a photo currently lives.
type regionRef struct {
	key    refKey
	atlas  *Atlas
	region Region
}

// levelTask tracks a running generation task for cancellation.
type levelTask struct {
	seq    uint64
	cancel context.CancelFunc
}

// Stats is a snapshot of coordinator counters.
type Stats struct {
	Submissions     uint64
	CancelledTasks  uint64
	CompletedLevels uint64
	FailedLevels    uint64
	BaseRebuilds    uint64
	Stream          StreamStats
	Index           cache.Stats
}

// Coordinator owns the atlas generation pipeline: it decides what to
// regenerate, runs one concurrent task per required detail level, cancels
// stale same-level work by sequence number, maintains the persistent
// lowest-level atlas, and emits results incrementally over an event
// stream.
//
// The atlas cache is mutated only by the coordinator under a single-writer
// discipline; readers receive immutable snapshots. An atlas handed out is
// never mutated in place.
type Coordinator struct {
	loader     Loader
	cfg        config
	strategist Strategist
	bus        *eventBus
	index      *cache.Sharded[string, []regionRef]

	rootCtx    context.Context
	rootCancel context.CancelFunc

	seq          atomic.Uint64
	cancelled    atomic.Uint64
	completed    atomic.Uint64
	failedLevels atomic.Uint64
	baseRebuilds atomic.Uint64

	mu          sync.Mutex
	started     bool
	closed      bool
	pool        *parallel.Pool
	known       map[string]Image
	knownIDs    mapset.Set[string]
	budget      Budget
	base        []*Atlas
	atlases     map[taskClass][]*Atlas
	latest      map[taskClass]uint64
	running     map[taskClass]*levelTask
	pending     map[uint64]int
	lastVisible mapset.Set[string]
	lastZoom    float64
	lastFocus   string
	hasRequest  bool
}

// NewCoordinator creates a coordinator over the given photo loader and the
// full set of known photos. Call Start before submitting requests.
func NewCoordinator(loader Loader, known []Image, opts ...Option) (*Coordinator, error) {
	if loader == nil {
		return nil, &ConfigError{Field: "Loader", Reason: "must not be nil"}
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	budget := effectiveBudget(ComputeBudget(cfg.tier, cfg.pressure))

	km := make(map[string]Image, len(known))
	ids := mapset.NewThreadUnsafeSet[string]()
	for _, im := range known {
		km[im.ID] = im
		ids.Add(im.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		loader: loader,
		cfg:    cfg,
		strategist: Strategist{
			Levels:      cfg.levels,
			Padding:     cfg.padding,
			MinPerAtlas: cfg.minPerAtlas,
		},
		bus:        newEventBus(),
		index:      cache.New[string, []regionRef](cache.StringHasher),
		rootCtx:    ctx,
		rootCancel: cancel,
		pool:       parallel.NewPool(budget.Parallelism),
		known:      km,
		knownIDs:   ids,
		budget:     budget,
		atlases:    make(map[taskClass][]*Atlas),
		latest:     make(map[taskClass]uint64),
		running:    make(map[taskClass]*levelTask),
		pending:    make(map[uint64]int),
	}
	return c, nil
}

// effectiveBudget degrades an exhausted budget to single-atlas,
// smallest-size, sequential generation.
func effectiveBudget(b Budget) Budget {
	if len(b.AllowedSizes) == 0 {
		b.AllowedSizes = []int{fallbackAtlasSize}
	}
	if b.Parallelism < 1 {
		b.Parallelism = 1
	}
	return b
}

// Start builds the persistent lowest-level atlas covering every known
// photo. It is retained for the lifetime of the coordinator as an
// unconditional fallback and rebuilt only when the known set changes.
// Start must complete before Submit; call it once.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.buildBase(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return nil
}

// Submit registers a new generation request and returns its sequence
// number. It never blocks on generation: work runs on background tasks
// and results arrive over the event stream. Submitting a request cancels
// still-running tasks of strictly lower sequence numbers that target the
// same detail level; tasks for other levels are left to finish, since
// their results stay valid until superseded by content.
func (c *Coordinator) Submit(ctx context.Context, req Request) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	if !c.started {
		c.mu.Unlock()
		return 0, ErrNotStarted
	}

	seq := c.seq.Add(1)
	visible := mapset.NewThreadUnsafeSet(req.Visible...)
	level := c.cfg.levels.LevelFor(req.Zoom)
	_, crossed := c.cfg.levels.CrossedBoundary(c.lastZoom, req.Zoom)

	state := RegenState{
		HasAtlas:       len(c.atlases) > 0,
		VisibleChanged: !c.hasRequest || !visible.Equal(c.lastVisible),
		LevelCrossed:   c.hasRequest && crossed,
		Invalidated:    c.anyInvalidatedLocked(),
		FocusChanged:   c.hasRequest && req.Focused != c.lastFocus,
	}
	decision := Decide(state)

	c.lastVisible = visible
	c.lastZoom = req.Zoom
	c.lastFocus = req.Focused
	c.hasRequest = true

	if decision == RegenNone {
		c.mu.Unlock()
		return seq, nil
	}

	Logger().Debug("regeneration decided",
		"seq", seq, "decision", decision.String(), "level", level.String())

	var (
		jobs      []taskClass
		jobImages [][]Image
	)
	switch decision {
	case RegenSelective:
		if req.Focused == "" {
			// Focus cleared: the priority atlases no longer apply.
			c.uninstallPriorityLocked()
			c.mu.Unlock()
			c.bus.publish(Event{Kind: EventAllComplete, Seq: seq})
			return seq, nil
		}
		if im, ok := c.known[req.Focused]; ok {
			jobs = append(jobs, taskClass{level: c.cfg.levels.Max(), priority: true})
			jobImages = append(jobImages, []Image{im})
		}
	case RegenFull:
		images := c.imagesForLocked(req.Visible)
		jobs = append(jobs, taskClass{level: level})
		jobImages = append(jobImages, images)
		if c.cfg.boostLevel && level < c.cfg.levels.Max() {
			jobs = append(jobs, taskClass{level: level + 1})
			jobImages = append(jobImages, images)
		}
		if req.Focused != "" {
			if im, ok := c.known[req.Focused]; ok {
				jobs = append(jobs, taskClass{level: c.cfg.levels.Max(), priority: true})
				jobImages = append(jobImages, []Image{im})
			}
		}
		if c.baseInvalidatedLocked() {
			go c.rebuildBase()
		}
		c.dropInvalidatedLocked(jobs)
	}

	if len(jobs) == 0 {
		// Nothing to run (a selective pass whose focused id is unknown).
		// Still emit completion so a consumer waiting on this sequence is
		// not stranded.
		c.mu.Unlock()
		c.bus.publish(Event{Kind: EventAllComplete, Seq: seq})
		return seq, nil
	}

	c.pending[seq] = len(jobs)
	for i, job := range jobs {
		if t, ok := c.running[job]; ok && t.seq < seq {
			t.cancel()
			c.cancelled.Add(1)
		}
		tctx, cancel := context.WithCancel(c.rootCtx)
		c.running[job] = &levelTask{seq: seq, cancel: cancel}
		go c.runLevel(tctx, seq, job, jobImages[i], req.Focused)
	}
	c.mu.Unlock()
	return seq, nil
}

// Subscribe registers an event channel. Delivery is non-blocking: events
// are dropped for a subscriber whose channel is full, so give the channel
// a reasonable buffer. A consumer that missed an event recovers the latest
// state from FindRegion.
func (c *Coordinator) Subscribe(id string, ch chan<- Event) error {
	return c.bus.subscribe(id, ch)
}

// Unsubscribe removes an event channel.
func (c *Coordinator) Unsubscribe(id string) error {
	return c.bus.unsubscribe(id)
}

// FindRegion returns the highest-detail atlas region currently cached for
// a photo. It always succeeds for any identifier present in the persistent
// lowest-level atlas, and may return a higher-detail match if one has been
// emitted and not superseded. Safe to call from any goroutine; this is the
// renderer's per-draw hot path.
func (c *Coordinator) FindRegion(id string) (*Atlas, Region, bool) {
	refs, ok := c.index.Get(id)
	if !ok {
		return nil, Region{}, false
	}
	var best *regionRef
	for i := range refs {
		r := &refs[i]
		if !r.atlas.Valid() {
			continue
		}
		if best == nil || r.key.level > best.key.level {
			best = r
		}
	}
	if best == nil {
		return nil, Region{}, false
	}
	return best.atlas, best.region, true
}

// SetPressure applies a new memory-pressure level: the budget is
// recomputed, the worker pool resized, and under critical pressure every
// atlas except the persistent base is evicted.
func (c *Coordinator) SetPressure(p Pressure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cfg.pressure = p
	c.budget = effectiveBudget(ComputeBudget(c.cfg.tier, p))

	if c.pool.Workers() != c.budget.Parallelism {
		old := c.pool
		c.pool = parallel.NewPool(c.budget.Parallelism)
		go old.Close()
	}

	Logger().Info("memory pressure changed", "pressure", p.String(), "budget", c.budget.String())

	if p == PressureCritical {
		for class := range c.atlases {
			c.uninstallLocked(class)
		}
	}
}

// SetKnown replaces the full set of known photos. When the identifier set
// actually changed the persistent base atlas is rebuilt; dimension-only
// updates are recorded without a rebuild.
func (c *Coordinator) SetKnown(images []Image) {
	km := make(map[string]Image, len(images))
	ids := mapset.NewThreadUnsafeSet[string]()
	for _, im := range images {
		km[im.ID] = im
		ids.Add(im.ID)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	changed := !ids.Equal(c.knownIDs)
	c.known = km
	c.knownIDs = ids
	started := c.started
	c.mu.Unlock()

	if changed && started {
		go c.rebuildBase()
	}
}

// Stats returns a snapshot of coordinator counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Submissions:     c.seq.Load(),
		CancelledTasks:  c.cancelled.Load(),
		CompletedLevels: c.completed.Load(),
		FailedLevels:    c.failedLevels.Load(),
		BaseRebuilds:    c.baseRebuilds.Load(),
		Stream: StreamStats{
			Published: c.bus.published.Load(),
			Dropped:   c.bus.dropped.Load(),
		},
		Index: c.index.Stats(),
	}
}

// Close cancels all running tasks and releases the worker pool. The event
// channels owned by subscribers are not closed.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pool := c.pool
	c.mu.Unlock()

	c.rootCancel()
	pool.Close()
	return nil
}

// --- generation tasks ---

// runLevel generates every atlas one level needs and emits the result.
// It never blocks sibling levels: the LevelReady event goes out the moment
// this level completes.
func (c *Coordinator) runLevel(ctx context.Context, seq uint64, class taskClass, images []Image, focused string) {
	defer c.finishSeq(seq)

	c.bus.publish(Event{Kind: EventLoading, Seq: seq, Level: class.level})

	c.mu.Lock()
	budget := c.budget
	pool := c.pool
	c.mu.Unlock()

	focusArg := ""
	if class.priority {
		focusArg = focused
	}
	plan := c.strategist.Plan(images, class.level, focusArg, budget)
	failed := append([]string(nil), plan.Failed...)

	sem := semaphore.NewWeighted(int64(budget.Parallelism))
	var out []*Atlas
	members := 0
	for i, entry := range plan.Entries {
		members += len(entry.Members)
		if ctx.Err() != nil {
			return
		}

		rasters, decodeFailed, err := c.decodeMembers(ctx, sem, entry)
		if err != nil {
			releaseAll(rasters)
			return
		}
		failed = append(failed, decodeFailed...)

		var (
			a         *Atlas
			asmFailed []string
			asmErr    error
		)
		runErr := pool.Run(ctx, func() {
			a, asmFailed, asmErr = Assemble(ctx, rasters, entry.Placement, entry.Size, entry.Level)
		})
		if runErr != nil && a == nil && asmErr == nil {
			// Never admitted: the rasters were not consumed.
			releaseAll(rasters)
			return
		}
		if asmErr != nil {
			return
		}
		failed = append(failed, asmFailed...)

		a.generation = seq
		a.priority = class.priority || entry.Priority
		out = append(out, a)

		Logger().Debug("atlas assembled",
			"seq", seq, "level", class.level.String(), "size", entry.Size,
			"photos", a.Len(), "utilization", entry.Utilization)

		c.bus.publish(Event{
			Kind: EventProgress, Seq: seq, Level: class.level,
			Fraction: float64(i+1) / float64(len(plan.Entries)),
		})
	}

	drawn := 0
	for _, a := range out {
		drawn += a.Len()
	}
	if members > 0 && drawn == 0 {
		// Whole-level failure: leave any previously cached atlases for
		// this level untouched. Stale-but-valid beats empty.
		c.failedLevels.Add(1)
		c.bus.publish(Event{
			Kind: EventLevelFailed, Seq: seq, Level: class.level,
			FailedIDs: failed, Err: ErrLoaderUnavailable,
		})
		return
	}

	if ctx.Err() != nil {
		// Cancelled while assembling the tail; a cancelled sequence
		// must not emit.
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if cur, ok := c.latest[class]; ok && cur > seq {
		// A newer sequence already installed for this class.
		c.mu.Unlock()
		return
	}
	c.installLocked(class, out, seq)
	if t, ok := c.running[class]; ok && t.seq == seq {
		delete(c.running, class)
	}
	c.enforceCeilingLocked(class)
	c.mu.Unlock()

	c.completed.Add(1)
	c.bus.publish(Event{
		Kind: EventLevelReady, Seq: seq, Level: class.level,
		Atlases: out, FailedIDs: failed,
	})
}

// finishSeq decrements the outstanding-task count of one submission and
// emits AllComplete when the last task finishes.
func (c *Coordinator) finishSeq(seq uint64) {
	c.mu.Lock()
	c.pending[seq]--
	done := c.pending[seq] <= 0
	if done {
		delete(c.pending, seq)
	}
	c.mu.Unlock()
	if done {
		c.bus.publish(Event{Kind: EventAllComplete, Seq: seq})
	}
}

// decodeMembers decodes one plan entry's members concurrently, bounded by
// the budget semaphore. Per-photo failures are collected, not raised; the
// only error returned is cancellation, in which case every raster decoded
// so far has been released.
func (c *Coordinator) decodeMembers(ctx context.Context, sem *semaphore.Weighted, entry PlanEntry) ([]*Raster, []string, error) {
	results := make([]*Raster, len(entry.Members))
	failedSlots := make([]bool, len(entry.Members))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range entry.Members {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			r, err := c.decodeOne(gctx, m)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failedSlots[i] = true
				Logger().Warn("photo decode failed", "id", m.ID, "err", err)
				return nil
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		releaseAll(results)
		return nil, nil, err
	}

	rasters := make([]*Raster, 0, len(results))
	var failed []string
	for i, r := range results {
		if r != nil {
			rasters = append(rasters, r)
		} else if failedSlots[i] {
			failed = append(failed, entry.Members[i].ID)
		}
	}
	return rasters, failed, nil
}

// decodeOne decodes a single photo, retrying once when the loader reports
// the failure as retryable.
func (c *Coordinator) decodeOne(ctx context.Context, m Item) (*Raster, error) {
	r, err := c.decodeAttempt(ctx, m)
	if err == nil {
		return r, nil
	}
	var de *DecodeError
	if errors.As(err, &de) && de.Retryable && ctx.Err() == nil {
		return c.decodeAttempt(ctx, m)
	}
	return nil, err
}

// decodeAttempt runs one bounded decode. A decode that exceeds the
// configured timeout is a per-photo failure, not a task failure.
func (c *Coordinator) decodeAttempt(ctx context.Context, m Item) (*Raster, error) {
	dctx := ctx
	if c.cfg.decodeTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, c.cfg.decodeTimeout)
		defer cancel()
	}
	r, err := c.loader.Decode(dctx, m.ID, m.Width, m.Height)
	if err != nil && dctx.Err() != nil && ctx.Err() == nil {
		return nil, &DecodeError{ID: m.ID, Reason: "decode timed out"}
	}
	return r, err
}

// --- base atlas ---

// buildBase generates the persistent lowest-level atlas set covering
// every known photo, sequentially and at the smallest allowed size.
func (c *Coordinator) buildBase(ctx context.Context) error {
	c.mu.Lock()
	images := make([]Image, 0, len(c.known))
	for _, im := range c.known {
		images = append(images, im)
	}
	budget := Budget{
		AllowedSizes: []int{c.budget.SmallestSize()},
		Parallelism:  1,
		MemoryBytes:  c.budget.MemoryBytes,
	}
	c.mu.Unlock()
	sort.Slice(images, func(i, j int) bool { return images[i].ID < images[j].ID })

	plan := c.strategist.Plan(images, 0, "", budget)
	sem := semaphore.NewWeighted(1)
	var out []*Atlas
	members := 0
	for _, entry := range plan.Entries {
		members += len(entry.Members)
		rasters, _, err := c.decodeMembers(ctx, sem, entry)
		if err != nil {
			releaseAll(rasters)
			return err
		}
		a, _, err := Assemble(ctx, rasters, entry.Placement, entry.Size, entry.Level)
		if err != nil {
			return err
		}
		out = append(out, a)
	}

	drawn := 0
	for _, a := range out {
		drawn += a.Len()
	}
	if members > 0 && drawn == 0 {
		return ErrLoaderUnavailable
	}

	c.mu.Lock()
	for _, oa := range c.base {
		for id := range oa.regions {
			c.removeRefLocked(id, refKey{level: oa.level, base: true})
		}
	}
	c.base = out
	for _, a := range out {
		for id, reg := range a.regions {
			c.addRefLocked(id, regionRef{
				key:    refKey{level: a.level, base: true},
				atlas:  a,
				region: reg,
			})
		}
	}
	c.mu.Unlock()

	Logger().Info("base atlas built", "atlases", len(out), "photos", drawn)
	return nil
}

// rebuildBase rebuilds the persistent atlas in the background, used when
// the known set changed or the base buffer was reclaimed externally.
func (c *Coordinator) rebuildBase() {
	if err := c.buildBase(c.rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		Logger().Warn("base atlas rebuild failed", "err", err)
		return
	}
	c.baseRebuilds.Add(1)
}

// --- cache bookkeeping (all require c.mu) ---

func (c *Coordinator) anyInvalidatedLocked() bool {
	for _, set := range c.atlases {
		for _, a := range set {
			if !a.Valid() {
				return true
			}
		}
	}
	return c.baseInvalidatedLocked()
}

func (c *Coordinator) baseInvalidatedLocked() bool {
	for _, a := range c.base {
		if !a.Valid() {
			return true
		}
	}
	return false
}

// installLocked atomically replaces one class's atlas set. The new
// atlases are fully assembled before this point, so a reader either sees
// the complete old set or the complete new set, never a half-drawn atlas.
func (c *Coordinator) installLocked(class taskClass, atlases []*Atlas, seq uint64) {
	old := c.atlases[class]
	c.atlases[class] = atlases
	c.latest[class] = seq

	key := refKey{level: class.level, priority: class.priority}
	for _, oa := range old {
		for id := range oa.regions {
			c.removeRefLocked(id, key)
		}
	}
	for _, a := range atlases {
		for id, reg := range a.regions {
			c.addRefLocked(id, regionRef{key: key, atlas: a, region: reg})
		}
	}
}

func (c *Coordinator) uninstallLocked(class taskClass) {
	key := refKey{level: class.level, priority: class.priority}
	for _, a := range c.atlases[class] {
		for id := range a.regions {
			c.removeRefLocked(id, key)
		}
	}
	delete(c.atlases, class)
	delete(c.latest, class)
}

// dropInvalidatedLocked uninstalls any class holding an invalidated atlas
// that the current job set will not regenerate. Classes in the job set are
// replaced when their task installs; classes outside it (a stale boost or
// priority level) would otherwise keep reporting the invalidation and force
// a full pass on every subsequent submission.
func (c *Coordinator) dropInvalidatedLocked(jobs []taskClass) {
	inJobs := make(map[taskClass]bool, len(jobs))
	for _, j := range jobs {
		inJobs[j] = true
	}
	for class, set := range c.atlases {
		if inJobs[class] {
			continue
		}
		for _, a := range set {
			if !a.Valid() {
				c.uninstallLocked(class)
				break
			}
		}
	}
}

func (c *Coordinator) uninstallPriorityLocked() {
	for class := range c.atlases {
		if class.priority {
			c.uninstallLocked(class)
		}
	}
}

// enforceCeilingLocked evicts whole atlas classes, oldest generation
// first, until resident bytes fit the budget. The just-installed class and
// the persistent base are never evicted.
func (c *Coordinator) enforceCeilingLocked(keep taskClass) {
	if c.budget.MemoryBytes <= 0 {
		return
	}
	resident := func() int64 {
		var n int64
		for _, a := range c.base {
			n += a.MemoryBytes()
		}
		for _, set := range c.atlases {
			for _, a := range set {
				n += a.MemoryBytes()
			}
		}
		return n
	}
	for resident() > c.budget.MemoryBytes {
		victim := taskClass{}
		found := false
		var oldest uint64
		for class := range c.atlases {
			if class == keep {
				continue
			}
			if gen := c.latest[class]; !found || gen < oldest {
				victim, oldest, found = class, gen, true
			}
		}
		if !found {
			return
		}
		Logger().Warn("evicting atlases over memory ceiling",
			"level", victim.level.String(), "priority", victim.priority)
		c.uninstallLocked(victim)
	}
}

// addRefLocked and removeRefLocked replace the ref slice rather than
// mutating it: FindRegion callers hold slices obtained without the shard
// lock, so published slices must stay immutable.
func (c *Coordinator) addRefLocked(id string, ref regionRef) {
	c.index.Update(id, func(refs []regionRef, _ bool) []regionRef {
		out := make([]regionRef, 0, len(refs)+1)
		replaced := false
		for _, r := range refs {
			if r.key == ref.key {
				out = append(out, ref)
				replaced = true
			} else {
				out = append(out, r)
			}
		}
		if !replaced {
			out = append(out, ref)
		}
		return out
	})
}

func (c *Coordinator) removeRefLocked(id string, key refKey) {
	c.index.Update(id, func(refs []regionRef, _ bool) []regionRef {
		out := make([]regionRef, 0, len(refs))
		for _, r := range refs {
			if r.key != key {
				out = append(out, r)
			}
		}
		return out
	})
}

// imagesForLocked resolves visible identifiers to known images, keeping
// request order and skipping identifiers the coordinator does not know.
func (c *Coordinator) imagesForLocked(ids []string) []Image {
	images := make([]Image, 0, len(ids))
	for _, id := range ids {
		if im, ok := c.known[id]; ok {
			images = append(images, im)
		}
	}
	return images
}

func releaseAll(rasters []*Raster) {
	for _, r := range rasters {
		r.Release()
	}
}
