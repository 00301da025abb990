package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue errors.
var (
	// ErrQueueFull is returned when publishing to a full queue.
	ErrQueueFull = errors.New("queue is full")

	// ErrBrokerClosed is returned when using a closed broker.
	ErrBrokerClosed = errors.New("queue broker is closed")
)

// Message is one queued item.
type Message struct {
	ID      string
	Queue   string
	Payload any
	Time    time.Time
}

// Broker manages named in-process message queues. Queues are created
// lazily on first publish or receive.
type Broker struct {
	mu     sync.Mutex
	queues map[string]chan Message

	capacity int
	closed   bool
}

// NewBroker creates a broker whose queues buffer up to capacity messages.
func NewBroker(capacity int) *Broker {
	if capacity <= 0 {
		capacity = 256
	}
	return &Broker{
		queues:   make(map[string]chan Message),
		capacity: capacity,
	}
}

func (b *Broker) queue(name string) (chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	q, ok := b.queues[name]
	if !ok {
		q = make(chan Message, b.capacity)
		b.queues[name] = q
	}
	return q, nil
}

// Publish enqueues a payload. Returns ErrQueueFull rather than blocking
// when the queue buffer is exhausted.
func (b *Broker) Publish(name string, payload any) (Message, error) {
	q, err := b.queue(name)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ID:      uuid.New().String(),
		Queue:   name,
		Payload: payload,
		Time:    time.Now(),
	}

	select {
	case q <- msg:
		return msg, nil
	default:
		return Message{}, ErrQueueFull
	}
}

// Receive dequeues the next message, blocking until one arrives or the
// context is cancelled.
func (b *Broker) Receive(ctx context.Context, name string) (Message, error) {
	q, err := b.queue(name)
	if err != nil {
		return Message{}, err
	}

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case msg, ok := <-q:
		if !ok {
			return Message{}, ErrBrokerClosed
		}
		return msg, nil
	}
}

// TryReceive dequeues without blocking. The boolean is false when the
// queue is empty.
func (b *Broker) TryReceive(name string) (Message, bool, error) {
	q, err := b.queue(name)
	if err != nil {
		return Message{}, false, err
	}

	select {
	case msg, ok := <-q:
		if !ok {
			return Message{}, false, ErrBrokerClosed
		}
		return msg, true, nil
	default:
		return Message{}, false, nil
	}
}

// Depth returns the number of buffered messages in a queue.
func (b *Broker) Depth(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[name]; ok {
		return len(q)
	}
	return 0
}

// Queues returns the names of all existing queues, sorted.
func (b *Broker) Queues() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every queue. Pending messages remain receivable until
// drained; publishes fail afterwards.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
}
