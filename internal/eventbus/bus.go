// Package eventbus decouples producers and consumers of domain events
// (download progress, plugin lifecycle, playback milestones) without
// shared references.
package eventbus

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jfigueroa88/muselink/internal/logger"
)

// ErrTimeout is returned by WaitFor when no matching event arrives in time.
var ErrTimeout = errors.New("eventbus: wait timed out")

// DefaultHistoryCapacity bounds the per-event replay ring buffer.
const DefaultHistoryCapacity = 100

// Handler receives the payload of an emitted event.
type Handler func(payload any)

// UnsubscribeFunc removes the subscription it was returned for. It is
// idempotent; removing an already-removed subscription is a no-op.
type UnsubscribeFunc func()

// Publisher is the emit-side surface shared by Bus and ScopedBus.
type Publisher interface {
	Subscribe(event string, h Handler) UnsubscribeFunc
	SubscribeOnce(event string, h Handler) UnsubscribeFunc
	Emit(event string, payload any)
	EmitAsync(event string, payload any) <-chan struct{}
	WaitFor(event string, timeout time.Duration) (any, error)
	History(event string, limit int) []any
}

type subscription struct {
	handler Handler
	once    bool
	removed bool
}

// Bus is a synchronous pub/sub bus with bounded per-event replay history.
// Subscription sets are owned exclusively by the bus; callers only ever
// hold the opaque UnsubscribeFunc.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]*subscription
	history map[string]*ring
	histCap int
	log     *logger.Logger
}

// New creates a bus with the default history capacity.
func New(log *logger.Logger) *Bus {
	return NewWithHistory(log, DefaultHistoryCapacity)
}

// NewWithHistory creates a bus retaining up to capacity payloads per event.
func NewWithHistory(log *logger.Logger, capacity int) *Bus {
	if log == nil {
		log = logger.Default()
	}
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &Bus{
		subs:    make(map[string][]*subscription),
		history: make(map[string]*ring),
		histCap: capacity,
		log:     log.WithComponent("eventbus"),
	}
}

// Subscribe registers a handler for an event. Safe to call mid-emit: the
// new handler is not delivered the in-flight payload.
func (b *Bus) Subscribe(event string, h Handler) UnsubscribeFunc {
	return b.add(event, h, false)
}

// SubscribeOnce registers a handler that is removed after first delivery.
func (b *Bus) SubscribeOnce(event string, h Handler) UnsubscribeFunc {
	return b.add(event, h, true)
}

func (b *Bus) add(event string, h Handler, once bool) UnsubscribeFunc {
	sub := &subscription{handler: h, once: once}
	b.mu.Lock()
	b.subs[event] = append(b.subs[event], sub)
	b.mu.Unlock()

	return func() { b.remove(event, sub) }
}

func (b *Bus) remove(event string, target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target.removed {
		return
	}
	target.removed = true
	list := b.subs[event]
	for i, sub := range list {
		if sub == target {
			b.subs[event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[event]) == 0 {
		delete(b.subs, event)
	}
}

// Emit delivers the payload synchronously to a snapshot of the current
// subscribers, in registration order. A handler that panics is logged and
// does not prevent delivery to the remaining handlers.
func (b *Bus) Emit(event string, payload any) {
	b.mu.Lock()
	r, ok := b.history[event]
	if !ok {
		r = newRing(b.histCap)
		b.history[event] = r
	}
	r.push(payload)

	list := b.subs[event]
	snapshot := make([]Handler, 0, len(list))
	for _, sub := range list {
		if sub.removed {
			continue
		}
		snapshot = append(snapshot, sub.handler)
		if sub.once {
			sub.removed = true
		}
	}
	// Compact out the consumed one-shot subscriptions.
	kept := list[:0]
	for _, sub := range list {
		if !sub.removed {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, event)
	} else {
		b.subs[event] = kept
	}
	b.mu.Unlock()

	for _, h := range snapshot {
		b.deliver(event, h, payload)
	}
}

func (b *Bus) deliver(event string, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("Handler panicked", "event", event, "panic", r)
		}
	}()
	h(payload)
}

// EmitAsync schedules delivery on a separate goroutine. The returned
// channel is closed once delivery to all handlers has completed.
func (b *Bus) EmitAsync(event string, payload any) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Emit(event, payload)
	}()
	return done
}

// WaitFor blocks until the next payload for the event arrives, or until
// the timeout elapses, in which case it returns ErrTimeout. A timeout of
// zero or less waits indefinitely.
func (b *Bus) WaitFor(event string, timeout time.Duration) (any, error) {
	ch := make(chan any, 1)
	unsub := b.SubscribeOnce(event, func(payload any) {
		ch <- payload
	})

	if timeout <= 0 {
		return <-ch, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-ch:
		return payload, nil
	case <-timer.C:
		unsub()
		// The handler may have fired between the timer and the unsubscribe.
		select {
		case payload := <-ch:
			return payload, nil
		default:
			return nil, ErrTimeout
		}
	}
}

// History returns up to limit of the most recent payloads for the event,
// oldest first. A limit of zero or less returns everything retained.
func (b *Bus) History(event string, limit int) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.history[event]
	if !ok {
		return nil
	}
	return r.tail(limit)
}

// EventNames enumerates every event name the bus has seen, either through
// a live subscription or retained history. Scoped emitters show up under
// their real, prefixed names.
func (b *Bus) EventNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]struct{}, len(b.subs)+len(b.history))
	for name := range b.subs {
		seen[name] = struct{}{}
	}
	for name := range b.history {
		seen[name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scope returns a view of the bus that prefixes every event name with
// "prefix:", so each plugin or subsystem can emit and listen without
// name collisions.
func (b *Bus) Scope(prefix string) *ScopedBus {
	return &ScopedBus{bus: b, prefix: prefix + ":"}
}

// ring is a bounded FIFO of emitted payloads.
type ring struct {
	buf   []any
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]any, capacity)}
}

func (r *ring) push(v any) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	// Full: overwrite the oldest entry.
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) tail(limit int) []any {
	n := r.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]any, n)
	for i := 0; i < n; i++ {
		idx := (r.start + r.size - n + i) % len(r.buf)
		out[i] = r.buf[idx]
	}
	return out
}
