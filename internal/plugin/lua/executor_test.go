package lua

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"
)

func newTestExecutor(t *testing.T) (*Executor, context.CancelFunc) {
	t.Helper()
	L := glua.NewState()
	exec := NewExecutor(L, 10)

	ctx, cancel := context.WithCancel(context.Background())
	go exec.Run(ctx)

	t.Cleanup(func() {
		cancel()
		exec.Close()
		L.Close()
	})
	return exec, cancel
}

func TestExecutor_Execute(t *testing.T) {
	exec, _ := newTestExecutor(t)

	err := exec.Execute(context.Background(), func(L *glua.LState) error {
		return L.DoString(`x = 1 + 1`)
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var got glua.LValue
	_ = exec.Execute(context.Background(), func(L *glua.LState) error {
		got = L.GetGlobal("x")
		return nil
	})
	if got != glua.LNumber(2) {
		t.Errorf("x = %v, want 2", got)
	}
}

func TestExecutor_SerializesConcurrentCalls(t *testing.T) {
	exec, _ := newTestExecutor(t)

	_ = exec.Execute(context.Background(), func(L *glua.LState) error {
		return L.DoString(`count = 0`)
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = exec.Execute(context.Background(), func(L *glua.LState) error {
				return L.DoString(`count = count + 1`)
			})
		}()
	}
	wg.Wait()

	var got glua.LValue
	_ = exec.Execute(context.Background(), func(L *glua.LState) error {
		got = L.GetGlobal("count")
		return nil
	})
	if got != glua.LNumber(50) {
		t.Errorf("count = %v, want 50", got)
	}
}

func TestExecutor_PanicContained(t *testing.T) {
	exec, _ := newTestExecutor(t)

	err := exec.Execute(context.Background(), func(L *glua.LState) error {
		panic("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Errorf("Execute() error = %v, want boom", err)
	}

	// Executor keeps working after a panic.
	if err := exec.Execute(context.Background(), func(L *glua.LState) error { return nil }); err != nil {
		t.Errorf("Execute() after panic error = %v", err)
	}
}

func TestExecutor_Closed(t *testing.T) {
	L := glua.NewState()
	defer L.Close()

	exec := NewExecutor(L, 10)
	go exec.Run(context.Background())
	exec.Close()

	err := exec.Execute(context.Background(), func(L *glua.LState) error { return nil })
	if !errors.Is(err, ErrExecutorClosed) {
		t.Errorf("Execute() on closed executor error = %v, want ErrExecutorClosed", err)
	}
	if !exec.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
}

func TestExecutor_ExecuteAsync(t *testing.T) {
	exec, _ := newTestExecutor(t)

	done := make(chan struct{})
	err := exec.ExecuteAsync(func(L *glua.LState) error {
		close(done)
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteAsync() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async call never ran")
	}
}

func TestExecutor_ContextCancelled(t *testing.T) {
	exec, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := exec.Execute(ctx, func(L *glua.LState) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() with cancelled context error = %v", err)
	}
}
