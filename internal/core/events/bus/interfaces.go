package bus

import "time"

// AnyType subscribes a handler to every event type.
const AnyType = "*"

// EventBus is a thread-safe, in-process pub/sub bus.
//
// Key characteristics:
// - Type-based fan-out: handlers subscribe by Event.Type(), or to AnyType.
// - Synchronous delivery: Publish calls handlers in the caller goroutine.
// - Error aggregation: handler errors are joined and returned from Publish.
// - Per-subscription filters: an event rejected by a filter is skipped for
//   that subscription only.
type EventBus interface {
	// Publish delivers event to every active subscriber of its type and of AnyType.
	Publish(event Event) error
	// Subscribe registers handler for eventType. Filters run before handler.
	Subscribe(eventType string, handler EventHandler, filters ...EventFilter) Subscription
	// Unsubscribe cancels sub. It is safe to call with nil.
	Unsubscribe(sub Subscription)
	// Metrics returns a snapshot of the delivery counters.
	Metrics() Metrics
}

// Event is an immutable message transported by the EventBus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type (
	// EventHandler is invoked per delivered event.
	EventHandler func(event Event) error
	// EventFilter decides whether an event reaches a subscription.
	EventFilter func(event Event) bool
)

// Subscription is a registered handler. Cancel it to stop receiving events.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel()
}

type Metrics struct {
	Published   uint64
	Delivered   uint64
	Filtered    uint64
	Errors      uint64
	Subscribers int
}
