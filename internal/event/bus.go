// Package event provides the host event bus. Topics form a closed
// vocabulary shared by the plugin manager and the sandbox facade; handlers
// are isolated from each other: a panic or error in one never reaches
// another subscriber or the publisher.
package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Stats reports bus activity counters.
type Stats struct {
	Published         uint64
	Delivered         uint64
	Dropped           uint64
	HandlerErrors     uint64
	HandlerPanics     uint64
	ActiveSubscribers int
	AvgDeliveryNs     int64
}

// Bus routes events from publishers to topic-matched subscriptions.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*Subscription

	// Async delivery
	queue   chan delivery
	workers int
	wg      sync.WaitGroup
	done    chan struct{}

	running atomic.Bool

	// Counters
	published     atomic.Uint64
	delivered     atomic.Uint64
	dropped       atomic.Uint64
	handlerErrors atomic.Uint64
	handlerPanics atomic.Uint64
	deliveryNs    atomic.Int64
	executed      atomic.Uint64
}

type delivery struct {
	event Event
	sub   *Subscription
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithQueueSize sets the async delivery queue size.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan delivery, n)
		}
	}
}

// WithWorkers sets the async worker count.
func WithWorkers(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.workers = n
		}
	}
}

// NewBus creates a bus. Call Start before publishing.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:    make(map[string]*Subscription),
		queue:   make(chan delivery, 256),
		workers: 4,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start launches the async worker pool.
func (b *Bus) Start() error {
	if b.running.Swap(true) {
		return ErrBusAlreadyRunning
	}
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return nil
}

// Stop drains the async queue and stops the workers. Waits until the
// workers exit or the context is cancelled.
func (b *Bus) Stop(ctx context.Context) error {
	if !b.running.Swap(false) {
		return ErrBusNotRunning
	}
	close(b.done)

	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns true if the bus has been started and not stopped.
func (b *Bus) IsRunning() bool {
	return b.running.Load()
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			// Drain what is already queued, then exit.
			for {
				select {
				case d := <-b.queue:
					b.dispatch(d.event, d.sub)
				default:
					return
				}
			}
		case d := <-b.queue:
			b.dispatch(d.event, d.sub)
		}
	}
}

// Subscribe registers a handler for a topic pattern.
func (b *Bus) Subscribe(pattern Topic, handler Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if pattern == "" {
		return nil, ErrInvalidTopic
	}

	sub := newSubscription(pattern, handler, opts...)

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Unsubscribe cancels and removes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return ErrSubscriptionNotFound
	}
	sub.Cancel()

	b.mu.Lock()
	_, ok := b.subs[sub.id]
	delete(b.subs, sub.id)
	b.mu.Unlock()

	if !ok {
		return ErrSubscriptionNotFound
	}
	return nil
}

// Publish delivers an event to all matching subscriptions. Sync
// subscriptions run on the caller's goroutine; async ones are queued for the
// worker pool. A full queue drops the delivery (counted, never blocking).
func (b *Bus) Publish(e Event) error {
	if !b.running.Load() {
		return ErrBusNotRunning
	}
	if e.Topic == "" {
		return ErrInvalidTopic
	}

	b.published.Add(1)

	for _, sub := range b.matching(e.Topic) {
		if !sub.shouldDeliver(e) {
			continue
		}
		if sub.mode == DeliveryAsync {
			select {
			case b.queue <- delivery{event: e, sub: sub}:
			default:
				b.dropped.Add(1)
			}
			continue
		}
		b.dispatch(e, sub)
	}

	return nil
}

// matching returns active subscriptions whose pattern matches the topic.
func (b *Bus) matching(topic Topic) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Subscription
	for _, sub := range b.subs {
		if sub.Active() && Match(sub.pattern, topic) {
			out = append(out, sub)
		}
	}
	return out
}

// dispatch runs one handler with panic containment.
func (b *Bus) dispatch(e Event, sub *Subscription) {
	start := time.Now()
	err := b.safeCall(sub.handler, e)
	b.deliveryNs.Add(time.Since(start).Nanoseconds())
	b.executed.Add(1)

	switch {
	case err == errHandlerPanic:
		b.handlerPanics.Add(1)
	case err != nil:
		b.handlerErrors.Add(1)
	default:
		b.delivered.Add(1)
		if sub.once {
			sub.Cancel()
			b.mu.Lock()
			delete(b.subs, sub.id)
			b.mu.Unlock()
		}
	}
}

// errHandlerPanic marks a recovered handler panic inside dispatch.
var errHandlerPanic = &panicError{}

type panicError struct{ value any }

func (e *panicError) Error() string { return "handler panicked" }

func (b *Bus) safeCall(h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errHandlerPanic
		}
	}()
	return h(e)
}

// Stats returns a snapshot of bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	active := 0
	for _, sub := range b.subs {
		if sub.Active() {
			active++
		}
	}
	b.mu.RUnlock()

	var avg int64
	if n := b.executed.Load(); n > 0 {
		avg = b.deliveryNs.Load() / int64(n)
	}

	return Stats{
		Published:         b.published.Load(),
		Delivered:         b.delivered.Load(),
		Dropped:           b.dropped.Load(),
		HandlerErrors:     b.handlerErrors.Load(),
		HandlerPanics:     b.handlerPanics.Load(),
		ActiveSubscribers: active,
		AvgDeliveryNs:     avg,
	}
}
