package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBroker_PublishReceiveOrder(t *testing.T) {
	b := NewBroker(0)
	defer b.Close()

	for _, p := range []string{"one", "two", "three"} {
		if _, err := b.Publish("jobs", p); err != nil {
			t.Fatalf("Publish(%q) error = %v", p, err)
		}
	}

	ctx := context.Background()
	for _, want := range []string{"one", "two", "three"} {
		msg, err := b.Receive(ctx, "jobs")
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if msg.Payload != want {
			t.Errorf("Receive() payload = %v, want %v", msg.Payload, want)
		}
		if msg.ID == "" {
			t.Error("Receive() message has empty ID")
		}
	}
}

func TestBroker_QueueFull(t *testing.T) {
	b := NewBroker(2)
	defer b.Close()

	if _, err := b.Publish("jobs", 1); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if _, err := b.Publish("jobs", 2); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if _, err := b.Publish("jobs", 3); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Publish() on full queue error = %v, want ErrQueueFull", err)
	}
}

func TestBroker_TryReceiveEmpty(t *testing.T) {
	b := NewBroker(0)
	defer b.Close()

	if _, ok, err := b.TryReceive("empty"); ok || err != nil {
		t.Errorf("TryReceive() on empty queue = (_, %v, %v)", ok, err)
	}

	_, _ = b.Publish("empty", "x")
	msg, ok, err := b.TryReceive("empty")
	if err != nil || !ok || msg.Payload != "x" {
		t.Errorf("TryReceive() = (%v, %v, %v), want (x, true, nil)", msg.Payload, ok, err)
	}
}

func TestBroker_ReceiveContextCancel(t *testing.T) {
	b := NewBroker(0)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Receive(ctx, "never")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Receive() error = %v, want DeadlineExceeded", err)
	}
}

func TestBroker_Depth(t *testing.T) {
	b := NewBroker(0)
	defer b.Close()

	_, _ = b.Publish("jobs", 1)
	_, _ = b.Publish("jobs", 2)
	if got := b.Depth("jobs"); got != 2 {
		t.Errorf("Depth() = %d, want 2", got)
	}
	if got := b.Depth("unknown"); got != 0 {
		t.Errorf("Depth(unknown) = %d, want 0", got)
	}
}

func TestBroker_Closed(t *testing.T) {
	b := NewBroker(0)
	b.Close()

	if _, err := b.Publish("jobs", 1); !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrBrokerClosed", err)
	}
	if _, err := b.Receive(context.Background(), "jobs"); !errors.Is(err, ErrBrokerClosed) {
		t.Errorf("Receive() after Close error = %v, want ErrBrokerClosed", err)
	}
}
