// Package lua wraps gopher-lua with the sandboxing used for plugin code.
package lua

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/toolhost/internal/plugin/security"
)

// State wraps a gopher-lua VM configured for untrusted plugin code.
//
// gopher-lua's LState is not goroutine-safe: all operations on a State
// must come from a single goroutine or be serialized externally. The
// mutex here guards the State's own bookkeeping; callers that need
// concurrent access should go through an Executor.
//
// Memory and instruction limits are advisory. gopher-lua provides no
// hard enforcement hooks, so the Monitor records usage and the host
// decides what to do when a plugin runs hot.
type State struct {
	L *lua.LState

	mu     sync.Mutex
	closed bool

	limits  security.ResourceLimits
	monitor *security.Monitor
	sandbox *Sandbox
}

// NewState creates a sandboxed Lua state for a plugin. The checker
// decides which permission-gated modules the sandbox exposes.
func NewState(limits security.ResourceLimits, checker *security.Checker) *State {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	openSafeLibraries(L)

	monitor := security.NewMonitor(limits)
	sb := NewSandbox(L, checker, monitor)
	sb.Install()

	return &State{
		L:       L,
		limits:  limits,
		monitor: monitor,
		sandbox: sb,
	}
}

// openSafeLibraries opens only the Lua standard libraries that cannot
// touch the host system.
func openSafeLibraries(L *lua.LState) {
	// The package library must open first: PreloadModule and require
	// both go through package.preload. The sandbox then clears
	// package.path/cpath and replaces require with a whitelist, so no
	// disk loading survives.
	lua.OpenPackage(L)
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	// io, os and debug stay closed. The sandbox exposes gated
	// replacements where a permission allows it.
}

// DoFile evaluates a Lua file in the sandbox.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	s.monitor.ResetInstructionCount()
	return recoverPanic(func() error { return s.L.DoFile(path) })
}

// DoString evaluates a Lua chunk in the sandbox.
func (s *State) DoString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	s.monitor.ResetInstructionCount()
	return recoverPanic(func() error { return s.L.DoString(code) })
}

// CallGlobal invokes a global Lua function by name. The returned slice
// is empty (not nil) when the function returns nothing.
func (s *State) CallGlobal(name string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}
	s.monitor.ResetInstructionCount()

	fn := s.L.GetGlobal(name)
	if fn == lua.LNil {
		return nil, fmt.Errorf("function %q not found", name)
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("%q is not a function (got %s)", name, fn.Type())
	}

	top := s.L.GetTop()
	s.L.Push(fn)
	for _, arg := range args {
		s.L.Push(arg)
	}

	if err := recoverPanic(func() error {
		return s.L.PCall(len(args), lua.MultRet, nil)
	}); err != nil {
		return nil, err
	}

	n := s.L.GetTop() - top
	if n <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		results[i] = s.L.Get(top + i + 1)
	}
	s.L.Pop(n)
	return results, nil
}

// CallGlobalCtx is CallGlobal bounded by the context and the state's
// execution timeout. The Lua VM cannot be interrupted mid-chunk so on
// timeout the call keeps running in the background; the state must be
// considered poisoned and closed by the caller.
func (s *State) CallGlobalCtx(ctx context.Context, name string, args ...lua.LValue) ([]lua.LValue, error) {
	if s.limits.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.limits.ExecutionTimeout)
		defer cancel()
	}

	type result struct {
		vals []lua.LValue
		err  error
	}
	done := make(chan result, 1)
	go func() {
		vals, err := s.CallGlobal(name, args...)
		done <- result{vals, err}
	}()

	select {
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrExecutionTimeout
		}
		return nil, ctx.Err()
	case r := <-done:
		return r.vals, r.err
	}
}

// HasGlobalFunc reports whether a global with the given name exists and
// is a function.
func (s *State) HasGlobalFunc(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetGlobal(name, value)
}

// GetGlobal returns a global variable, or LNil on a closed state.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// PreloadModule registers a Lua module loader so plugin code can
// require() it by name.
func (s *State) PreloadModule(name string, loader lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.PreloadModule(name, loader)
}

// Sandbox returns the state's sandbox.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// Monitor returns the resource monitor for this state.
func (s *State) Monitor() *security.Monitor {
	return s.monitor
}

// LuaState exposes the raw LState. Callers bypass the mutex and the
// sandbox when using it directly.
func (s *State) LuaState() *lua.LState {
	return s.L
}

// IsClosed reports whether the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua VM. Further calls return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

// recoverPanic runs fn, converting a Lua panic into an error.
func recoverPanic(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}
