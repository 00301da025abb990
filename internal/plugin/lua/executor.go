package lua

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// call is a queued Lua operation. The result channel is buffered and
// closed after the outcome is delivered.
type call struct {
	fn     func(L *lua.LState) error
	result chan error
}

// Executor serializes Lua operations onto a single goroutine.
//
// gopher-lua's LState is not goroutine-safe. Tool executions and event
// handler dispatch can arrive from many goroutines at once, so every
// operation against a plugin's VM goes through its executor.
type Executor struct {
	L         *lua.LState
	queue     chan *call
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewExecutor creates an executor for the given Lua state. queueSize
// bounds how many operations may be pending; values <= 0 use 100.
func NewExecutor(L *lua.LState, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Executor{
		L:     L,
		queue: make(chan *call, queueSize),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until the context ends or Close is called. Must
// run on the goroutine that owns the Lua state.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		case c, ok := <-e.queue:
			if !ok {
				return
			}
			err := e.run(c)
			select {
			case c.result <- err:
			default:
			}
			close(c.result)
		}
	}
}

// run executes one queued operation with panic containment.
func (e *Executor) run(c *call) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			case string:
				err = errors.New(v)
			default:
				err = errors.New("lua panic")
			}
		}
	}()
	return c.fn(e.L)
}

// drain fails all pending calls with err.
func (e *Executor) drain(err error) {
	for {
		select {
		case c, ok := <-e.queue:
			if !ok {
				return
			}
			select {
			case c.result <- err:
			default:
			}
			close(c.result)
		default:
			return
		}
	}
}

// Execute queues fn and blocks until it completes on the executor
// goroutine, the context ends, or the executor closes.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		// The call stays queued and will still run; we stop waiting.
		return ctx.Err()
	case err, ok := <-c.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// ExecuteAsync queues fn without waiting. Used for event handler
// dispatch where the publisher must not block on plugin code.
func (e *Executor) ExecuteAsync(fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{fn: fn, result: make(chan error, 1)}

	select {
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
		go func() {
			<-c.result // prevent goroutine leak on the Run side
		}()
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the executor. Pending calls fail with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsClosed reports whether Close has been called.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
