package live

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Bus delivers session events to subscribers. Each Client owns one.
// Handlers run in subscription order; a handler that panics is logged and
// skipped.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscription
	logger *slog.Logger
}

type subscription struct {
	name   string // event name, "" for all
	fn     func(Event)
	active atomic.Bool
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers fn for events of type T, which is normally a concrete
// event type such as ContentEvent. The returned cancel removes
// the subscription and is safe to call more than once.
func Subscribe[T Event](b *Bus, fn func(T)) (cancel func()) {
	var zero T
	name := ""
	if any(zero) != nil {
		name = zero.EventName()
	}
	return b.add(name, func(e Event) {
		if t, ok := e.(T); ok {
			fn(t)
		}
	})
}

// SubscribeAll registers fn for every event.
func SubscribeAll(b *Bus, fn func(Event)) (cancel func()) {
	return b.add("", fn)
}

func (b *Bus) add(name string, fn func(Event)) func() {
	s := &subscription{name: name, fn: fn}
	s.active.Store(true)

	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Store(false)
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, x := range b.subs {
				if x == s {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers e to every matching subscriber, in order, on the calling
// goroutine.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	name := e.EventName()
	for _, s := range subs {
		if s.name != "" && s.name != name {
			continue
		}
		if !s.active.Load() {
			continue
		}
		b.call(s, e)
	}
}

func (b *Bus) call(s *subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", e.EventName(), "panic", fmt.Sprint(r))
		}
	}()
	s.fn(e)
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// mailbox delivers events to a Bus from a single goroutine, in the order
// they were posted. Posting never blocks.
type mailbox struct {
	bus *Bus

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	closed bool
	start  sync.Once
	done   chan struct{}
}

func newMailbox(bus *Bus) *mailbox {
	m := &mailbox{bus: bus, done: make(chan struct{})}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// post queues e. Events posted after close are dropped.
func (m *mailbox) post(e Event) {
	m.start.Do(func() { go m.run() })

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.queue = append(m.queue, e)
	m.cond.Signal()
}

// close lets the queue drain and stops the delivery goroutine.
func (m *mailbox) close() {
	m.start.Do(func() { go m.run() })

	m.mu.Lock()
	m.closed = true
	m.cond.Signal()
	m.mu.Unlock()
}

func (m *mailbox) run() {
	defer close(m.done)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		e := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.bus.Publish(e)
	}
}
