package bus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type simpleEvent struct {
	typeStr string
	source  string
	ts      time.Time
	data    any
}

func (e simpleEvent) Type() string         { return e.typeStr }
func (e simpleEvent) Source() string       { return e.source }
func (e simpleEvent) Timestamp() time.Time { return e.ts }
func (e simpleEvent) Data() any            { return e.data }

// NewEvent creates a simple Event stamped with the current time.
func NewEvent(typ, src string, data any) Event {
	return simpleEvent{typeStr: typ, source: src, ts: time.Now(), data: data}
}

type subscription struct {
	id        string
	eventType string
	handler   EventHandler
	filters   []EventFilter
	active    atomic.Bool
	cancel    func()
}

func (s *subscription) ID() string        { return s.id }
func (s *subscription) EventType() string { return s.eventType }
func (s *subscription) IsActive() bool    { return s.active.Load() }

func (s *subscription) Cancel() {
	if s.active.CompareAndSwap(true, false) {
		s.cancel()
	}
}

func (s *subscription) accepts(e Event) bool {
	for _, f := range s.filters {
		if !f(e) {
			return false
		}
	}
	return true
}

type inMemoryBus struct {
	mu sync.RWMutex
	// eventType -> subID -> subscription
	handlers map[string]map[string]*subscription
	subs     int

	published atomic.Uint64
	delivered atomic.Uint64
	filtered  atomic.Uint64
	errs      atomic.Uint64
}

// New creates a new EventBus instance.
func New() EventBus {
	return &inMemoryBus{handlers: make(map[string]map[string]*subscription)}
}

func (b *inMemoryBus) Subscribe(eventType string, handler EventHandler, filters ...EventFilter) Subscription {
	s := &subscription{
		id:        uuid.NewString(),
		eventType: eventType,
		handler:   handler,
		filters:   filters,
	}
	s.active.Store(true)
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.handlers[eventType]; ok {
			if _, ok = m[s.id]; ok {
				delete(m, s.id)
				b.subs--
			}
			if len(m) == 0 {
				delete(b.handlers, eventType)
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]*subscription)
	}
	b.handlers[eventType][s.id] = s
	b.subs++
	return s
}

func (b *inMemoryBus) Unsubscribe(sub Subscription) {
	if sub != nil {
		sub.Cancel()
	}
}

func (b *inMemoryBus) Publish(event Event) error {
	etype := event.Type()

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.handlers[etype])+len(b.handlers[AnyType]))
	for _, s := range b.handlers[etype] {
		subs = append(subs, s)
	}
	if etype != AnyType {
		for _, s := range b.handlers[AnyType] {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	b.published.Add(1)
	var all error
	for _, s := range subs {
		if !s.IsActive() {
			continue
		}
		if !s.accepts(event) {
			b.filtered.Add(1)
			continue
		}
		b.delivered.Add(1)
		if err := s.handler(event); err != nil {
			b.errs.Add(1)
			all = errors.Join(all, err)
		}
	}
	return all
}

func (b *inMemoryBus) Metrics() Metrics {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	return Metrics{
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Filtered:    b.filtered.Load(),
		Errors:      b.errs.Load(),
		Subscribers: subs,
	}
}
