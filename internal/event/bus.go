package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// subscriberQueueCap bounds each subscriber's pending events. A full
	// queue drops new events for that subscriber only.
	subscriberQueueCap = 256

	// historyCap is the size of the bus's recent-event ring.
	historyCap = 200
)

// subscriber owns one delivery queue and one drain goroutine.
type subscriber struct {
	// types is nil for SubscribeAll, otherwise the subscribed set.
	types map[Type]struct{}
	queue chan Event
}

func (s *subscriber) wants(t Type) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus is an asynchronous in-process pub/sub bus with a bounded per-subscriber
// queue and a fixed-size history ring. All methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
	wg     sync.WaitGroup

	// history is a ring of the most recent events; next is the write
	// position and count saturates at historyCap. histMu serializes ring
	// access because Publish only holds the read lock.
	histMu  sync.Mutex
	history [historyCap]Event
	next    int
	count   int

	published atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64

	dropHook func(Event)
}

// Option configures a [Bus].
type Option func(*Bus)

// WithDropHook installs f to be called (synchronously, from Publish) each
// time an event is dropped because a subscriber's queue is full.
func WithDropHook(f func(Event)) Option {
	return func(b *Bus) { b.dropHook = f }
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{subs: make(map[int]*subscriber)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events of type t and returns an unsubscribe
// function. Unsubscribing is idempotent; the handler's goroutine exits after
// draining already-queued events.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	return b.subscribe(map[Type]struct{}{t: {}}, h)
}

// SubscribeTypes registers h for every listed type on a single delivery
// queue, so matching events reach h in publish order across those types.
// Separate Subscribe calls give no ordering between their handlers.
func (b *Bus) SubscribeTypes(h Handler, types ...Type) func() {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return b.subscribe(set, h)
}

// SubscribeAll registers h for every event type and returns an unsubscribe
// function.
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.subscribe(nil, h)
}

func (b *Bus) subscribe(types map[Type]struct{}, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}

	id := b.nextID
	b.nextID++
	sub := &subscriber{
		types: types,
		queue: make(chan Event, subscriberQueueCap),
	}
	b.subs[id] = sub

	b.wg.Add(1)
	go b.drain(sub, h)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; !ok {
				return
			}
			delete(b.subs, id)
			close(sub.queue)
		})
	}
}

// drain delivers queued events to h until the queue is closed, recovering
// handler panics so one bad subscriber cannot take down the others.
func (b *Bus) drain(sub *subscriber, h Handler) {
	defer b.wg.Done()
	for ev := range sub.queue {
		b.invoke(h, ev)
	}
}

func (b *Bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			slog.Error("event handler panicked",
				"type", ev.Type,
				"source", ev.Source,
				"panic", r)
		}
	}()
	h(ev)
}

// Publish delivers ev to every matching subscriber without blocking: each
// subscriber's queue gets a non-blocking send, and a full queue drops the
// event for that subscriber. A zero Timestamp is stamped with the current
// time. Publishing on a closed bus, or with an already-canceled ctx, is a
// no-op.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ctx.Err() != nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	b.record(ev)
	b.published.Add(1)

	for _, sub := range b.subs {
		if !sub.wants(ev.Type) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			b.dropped.Add(1)
			if b.dropHook != nil {
				b.dropHook(ev)
			}
			slog.Warn("event dropped: subscriber queue full",
				"type", ev.Type,
				"source", ev.Source)
		}
	}
}

// record appends ev to the history ring.
func (b *Bus) record(ev Event) {
	b.histMu.Lock()
	b.history[b.next] = ev
	b.next = (b.next + 1) % historyCap
	if b.count < historyCap {
		b.count++
	}
	b.histMu.Unlock()
}

// History returns up to limit of the most recent events, oldest first.
// limit <= 0 or larger than the retained count returns everything retained
// (at most the ring size).
func (b *Bus) History(limit int) []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	start := b.next - n
	if start < 0 {
		start += historyCap
	}
	for i := range n {
		out = append(out, b.history[(start+i)%historyCap])
	}
	return out
}

// Published reports the number of events accepted by Publish.
func (b *Bus) Published() uint64 { return b.published.Load() }

// Dropped reports the number of per-subscriber deliveries lost to full queues.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// HandlerPanics reports the number of recovered handler panics.
func (b *Bus) HandlerPanics() uint64 { return b.panics.Load() }

// Close stops all subscriber goroutines after their queues drain and marks
// the bus closed; subsequent Publish and Subscribe calls are no-ops. Close
// blocks until every queued event has been handled.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
