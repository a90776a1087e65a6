package atlas

import (
	"sync"
	"sync/atomic"
)

// EventKind discriminates stream events.
type EventKind int

const (
	// EventLoading announces that generation for a level has started.
	EventLoading EventKind = iota
	// EventProgress reports fractional progress for a level.
	EventProgress
	// EventLevelReady carries the assembled atlases for one level. It is
	// emitted the moment the level completes; sibling levels are not
	// waited for.
	EventLevelReady
	// EventLevelFailed reports that a whole level task failed. Any
	// previously cached atlases for the level remain untouched.
	EventLevelFailed
	// EventAllComplete reports that every level task of one submission
	// has finished.
	EventAllComplete
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventLoading:
		return "loading"
	case EventProgress:
		return "progress"
	case EventLevelReady:
		return "level-ready"
	case EventLevelFailed:
		return "level-failed"
	case EventAllComplete:
		return "all-complete"
	}
	return "event(?)"
}

// Event is one entry of the coordinator's result stream.
//
// Consumers key off (Seq, Level): within one level, an event whose Seq is
// lower than the highest already observed for that level is stale and must
// be discarded.
type Event struct {
	Kind  EventKind
	Seq   uint64
	Level DetailLevel

	// Fraction is set on progress events, in [0, 1].
	Fraction float64

	// Atlases is set on level-ready events.
	Atlases []*Atlas

	// FailedIDs lists photos that could not be decoded or packed for
	// this level.
	FailedIDs []string

	// Err is set on level-failed events.
	Err error
}

// subscriber is one registered event channel with delivery counters.
type subscriber struct {
	ch      chan<- Event
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// eventBus distributes events to subscribers without blocking the
// coordinator: an event is dropped for a subscriber whose channel is full.
// Dropping is safe because the atlas cache and FindRegion always expose
// the latest authoritative state; a consumer that missed an event catches
// up on its next lookup.
type eventBus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber

	published atomic.Uint64
	dropped   atomic.Uint64
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[string]*subscriber)}
}

func (b *eventBus) subscribe(id string, ch chan<- Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; ok {
		return ErrSubscriberExists
	}
	b.subs[id] = &subscriber{ch: ch}
	return nil
}

func (b *eventBus) unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[id]; !ok {
		return ErrSubscriberNotFound
	}
	delete(b.subs, id)
	return nil
}

// publish fans the event out to every subscriber, non-blocking.
func (b *eventBus) publish(ev Event) {
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- ev:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// StreamStats is a snapshot of event delivery counters.
type StreamStats struct {
	Published uint64
	Dropped   uint64
}
