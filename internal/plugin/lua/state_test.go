package lua

import (
	"errors"
	"testing"
	"time"

	glua "github.com/yuin/gopher-lua"
)

func newTestState(t *testing.T, opts ...StateOption) *State {
	t.Helper()
	state, err := NewState(opts...)
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	t.Cleanup(func() { _ = state.Close() })
	return state
}

func TestNewState(t *testing.T) {
	state := newTestState(t)

	if state.IsClosed() {
		t.Error("NewState() returned closed state")
	}
	if state.L == nil {
		t.Error("NewState() L is nil")
	}
}

func TestStateDoString(t *testing.T) {
	state := newTestState(t)

	if err := state.DoString(`x = 1 + 1`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	num, ok := state.GetGlobal("x").(glua.LNumber)
	if !ok {
		t.Fatalf("x is not a number, got %T", state.GetGlobal("x"))
	}
	if float64(num) != 2 {
		t.Errorf("x = %v, want 2", num)
	}
}

func TestStateDoStringSyntaxError(t *testing.T) {
	state := newTestState(t)

	if err := state.DoString(`invalid lua code !!!`); err == nil {
		t.Error("DoString() with invalid code should return error")
	}
}

func TestStateCall(t *testing.T) {
	state := newTestState(t)

	if err := state.DoString(`function add(a, b) return a + b, a * b end`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	rets, err := state.Call(state.GetGlobal("add"), glua.LNumber(3), glua.LNumber(4))
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if len(rets) != 2 {
		t.Fatalf("Call() returned %d values, want 2", len(rets))
	}
	if rets[0] != glua.LNumber(7) || rets[1] != glua.LNumber(12) {
		t.Errorf("Call() = %v, want [7 12]", rets)
	}
	if top := state.L.GetTop(); top != 0 {
		t.Errorf("stack top after Call() = %d, want 0", top)
	}
}

func TestStateCallNotFunction(t *testing.T) {
	state := newTestState(t)

	if _, err := state.Call(state.GetGlobal("missing")); err == nil {
		t.Error("Call() of nil should return error")
	}
}

func TestStateCallRuntimeError(t *testing.T) {
	state := newTestState(t)

	if err := state.DoString(`function boom() error("boom") end`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if _, err := state.Call(state.GetGlobal("boom")); err == nil {
		t.Error("Call() of a failing function should return error")
	}
	// The state is still usable.
	if err := state.DoString(`y = 1`); err != nil {
		t.Errorf("DoString() after error = %v", err)
	}
}

func TestStateTimeout(t *testing.T) {
	state := newTestState(t, WithTimeout(20*time.Millisecond))

	err := state.DoString(`while true do end`)
	if !errors.Is(err, ErrExecutionTimeout) {
		t.Fatalf("DoString() error = %v, want ErrExecutionTimeout", err)
	}

	// The deadline does not leak into the next call.
	if err := state.DoString(`z = 3`); err != nil {
		t.Errorf("DoString() after timeout = %v", err)
	}
}

func TestStateTryCallBusy(t *testing.T) {
	state := newTestState(t)

	var inner error
	state.RegisterModule("probe", map[string]glua.LGFunction{
		"reenter": func(L *glua.LState) int {
			_, inner = state.TryCall(L.GetGlobal("noop"))
			return 0
		},
	})
	if err := state.DoString(`function noop() end`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}

	if err := state.DoString(`probe.reenter()`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if !errors.Is(inner, ErrBusy) {
		t.Errorf("nested TryCall() error = %v, want ErrBusy", inner)
	}

	if _, err := state.TryCall(state.GetGlobal("noop")); err != nil {
		t.Errorf("TryCall() on idle state = %v", err)
	}
}

func TestStateRegisterModule(t *testing.T) {
	state := newTestState(t)

	state.RegisterModule("mymod", map[string]glua.LGFunction{
		"double": func(L *glua.LState) int {
			L.Push(glua.LNumber(L.CheckNumber(1) * 2))
			return 1
		},
	})

	if err := state.DoString(`result = mymod.double(21)`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	if got := state.GetGlobal("result"); got != glua.LNumber(42) {
		t.Errorf("result = %v, want 42", got)
	}
}

func TestStateSetGetGlobal(t *testing.T) {
	state := newTestState(t)

	state.SetGlobal("greeting", glua.LString("hello"))
	if got := state.GetGlobal("greeting"); got != glua.LString("hello") {
		t.Errorf("GetGlobal(greeting) = %v, want hello", got)
	}
}

func TestStateClose(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}

	if err := state.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !state.IsClosed() {
		t.Error("IsClosed() = false after Close()")
	}
	if err := state.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestStateClosedOperations(t *testing.T) {
	state, err := NewState()
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	_ = state.Close()

	if err := state.DoString(`x = 1`); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoString() on closed state = %v, want ErrStateClosed", err)
	}
	if err := state.DoFile("missing.lua"); !errors.Is(err, ErrStateClosed) {
		t.Errorf("DoFile() on closed state = %v, want ErrStateClosed", err)
	}
	if _, err := state.TryCall(glua.LNil); !errors.Is(err, ErrStateClosed) {
		t.Errorf("TryCall() on closed state = %v, want ErrStateClosed", err)
	}
	if got := state.GetGlobal("x"); got != glua.LNil {
		t.Errorf("GetGlobal() on closed state = %v, want nil", got)
	}
}
