package event

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler processes a delivered event. A returned error is counted in bus
// stats but never stops delivery to other subscribers.
type Handler func(Event) error

// DeliveryMode selects how events reach a handler.
type DeliveryMode int

const (
	// DeliverySync delivers on the publisher's goroutine.
	DeliverySync DeliveryMode = iota
	// DeliveryAsync delivers on the bus worker pool.
	DeliveryAsync
)

// Filter decides whether a matched event is delivered to a subscription.
type Filter func(Event) bool

// Subscription is a handler registered for a topic pattern.
type Subscription struct {
	id      string
	pattern Topic
	handler Handler

	mode   DeliveryMode
	once   bool
	filter Filter

	cancelled atomic.Bool
}

// SubscriptionOption configures a subscription.
type SubscriptionOption func(*Subscription)

// WithAsync delivers events on the bus worker pool instead of the
// publisher's goroutine.
func WithAsync() SubscriptionOption {
	return func(s *Subscription) {
		s.mode = DeliveryAsync
	}
}

// WithOnce cancels the subscription after its first successful delivery.
func WithOnce() SubscriptionOption {
	return func(s *Subscription) {
		s.once = true
	}
}

// WithFilter delivers only events the filter accepts.
func WithFilter(f Filter) SubscriptionOption {
	return func(s *Subscription) {
		s.filter = f
	}
}

func newSubscription(pattern Topic, handler Handler, opts ...SubscriptionOption) *Subscription {
	s := &Subscription{
		id:      uuid.New().String(),
		pattern: pattern,
		handler: handler,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the subscription's unique ID.
func (s *Subscription) ID() string {
	return s.id
}

// Pattern returns the topic pattern this subscription matches.
func (s *Subscription) Pattern() Topic {
	return s.pattern
}

// Cancel deactivates the subscription. Idempotent.
func (s *Subscription) Cancel() {
	s.cancelled.Store(true)
}

// Active returns true if the subscription has not been cancelled.
func (s *Subscription) Active() bool {
	return !s.cancelled.Load()
}

// shouldDeliver applies cancellation and filter checks.
func (s *Subscription) shouldDeliver(e Event) bool {
	if s.cancelled.Load() {
		return false
	}
	if s.filter != nil && !s.filter(e) {
		return false
	}
	return true
}
