package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/gamehook/internal/logging"
)

// DefaultTimeout bounds a single call into a script.
const DefaultTimeout = 250 * time.Millisecond

// State wraps gopher-lua with the sandbox and call bounds used for plugins.
//
// gopher-lua's LState is not goroutine-safe. Every call takes the state's
// mutex; a call that finds the state already running returns ErrBusy
// instead of waiting, so the server thread never blocks on a script.
type State struct {
	L *lua.LState

	mu      sync.Mutex
	timeout time.Duration
	log     *logging.Logger
	sandbox *Sandbox
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithTimeout sets the time limit of each call. Zero disables it.
func WithTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.timeout = d
	}
}

// WithLogger sets the logger scripts print to.
func WithLogger(l *logging.Logger) StateOption {
	return func(s *State) {
		s.log = l
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	s := &State{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNull(s.log)

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	s.L = L
	openSafeLibraries(L)

	s.sandbox = NewSandbox(L, s.log)
	s.sandbox.Install()
	return s, nil
}

// openSafeLibraries opens only the libraries scripts may use.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// DoFile executes a Lua file.
func (s *State) DoFile(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	return s.run(func() error { return s.L.DoFile(path) })
}

// DoString executes a Lua string.
func (s *State) DoString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}
	return s.run(func() error { return s.L.DoString(code) })
}

// Call calls fn with args and returns its results, waiting for the state
// if another call is running.
func (s *State) Call(fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call(fn, args)
}

// TryCall is Call without waiting: it returns ErrBusy when the state is
// already running.
func (s *State) TryCall(fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	if !s.mu.TryLock() {
		return nil, ErrBusy
	}
	defer s.mu.Unlock()
	return s.call(fn, args)
}

func (s *State) call(fn lua.LValue, args []lua.LValue) ([]lua.LValue, error) {
	if s.closed {
		return nil, ErrStateClosed
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("cannot call a %s", fn.Type())
	}

	var results []lua.LValue
	err := s.run(func() error {
		top := s.L.GetTop()
		s.L.Push(fn)
		for _, a := range args {
			s.L.Push(a)
		}
		if err := s.L.PCall(len(args), lua.MultRet, nil); err != nil {
			return err
		}
		n := s.L.GetTop() - top
		results = make([]lua.LValue, n)
		for i := 0; i < n; i++ {
			results[i] = s.L.Get(top + i + 1)
		}
		s.L.Pop(n)
		return nil
	})
	return results, err
}

// run executes fn under the call timeout with panic recovery. Must be
// called with mu held.
func (s *State) run(fn func() error) (err error) {
	if s.timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.L.SetContext(ctx)
		defer func() {
			s.L.RemoveContext()
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w after %v: %v", ErrExecutionTimeout, s.timeout, err)
			}
		}()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
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

// RegisterModule sets a global table holding funcs.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) *lua.LTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	mod := s.L.SetFuncs(s.L.NewTable(), funcs)
	if !s.closed {
		s.L.SetGlobal(name, mod)
	}
	return mod
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. It waits for a running call to finish.
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
