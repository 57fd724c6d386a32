package lua

import (
	"errors"
	"fmt"
	"testing"

	glua "github.com/yuin/gopher-lua"

	"github.com/dshills/gamehook/internal/event"
	"github.com/dshills/gamehook/internal/event/events"
)

type fakeHost struct {
	cvars    map[string]string
	commands []string
	sent     map[int][]string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		cvars: map[string]string{"sv_hostname": "test server"},
		sent:  make(map[int][]string),
	}
}

func (h *fakeHost) Player(id int) (map[string]any, error) {
	if id != 0 {
		return nil, fmt.Errorf("client %d is not connected", id)
	}
	return map[string]any{"id": 0, "name": "ranger", "team": 1}, nil
}

func (h *fakeHost) Cvar(name string) (string, error) {
	v, ok := h.cvars[name]
	if !ok {
		return "", fmt.Errorf("cvar %s not found", name)
	}
	return v, nil
}

func (h *fakeHost) SetCvar(name, value string) error {
	h.cvars[name] = value
	return nil
}

func (h *fakeHost) Command(text string) error {
	h.commands = append(h.commands, text)
	return nil
}

func (h *fakeHost) Send(id int, text string) error {
	h.sent[id] = append(h.sent[id], text)
	return nil
}

type apiFixture struct {
	reg   *event.Registry
	host  *fakeHost
	state *State
	api   *API
}

func newAPIFixture(t *testing.T, script string) *apiFixture {
	t.Helper()
	reg := event.NewRegistry(0, nil)
	if err := events.Define(reg); err != nil {
		t.Fatalf("Define() error = %v", err)
	}
	f := &apiFixture{reg: reg, host: newFakeHost(), state: newTestState(t)}
	f.api = NewAPI(f.state, "test", reg, f.host, nil)
	f.api.Install()
	if err := f.state.DoString(script); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	return f
}

func TestAPIConstants(t *testing.T) {
	f := newAPIFixture(t, "")

	for name, want := range map[string]int{
		"RET_NONE":     RetNone,
		"RET_STOP":     RetStop,
		"RET_STOP_ALL": RetStopAll,
		"PRI_HIGHEST":  event.PriorityHighest,
		"PRI_NORMAL":   event.PriorityNormal,
		"PRI_LOWEST":   event.PriorityLowest,
	} {
		if got := f.state.GetGlobal(name); got != glua.LNumber(want) {
			t.Errorf("%s = %v, want %d", name, got, want)
		}
	}
}

func TestAPIHookReturns(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		decision event.Decision
		text     string
	}{
		{name: "nothing", body: `return`, decision: event.Allow},
		{name: "none", body: `return RET_NONE`, decision: event.Allow},
		{name: "stop", body: `return RET_STOP`, decision: event.Allow},
		{name: "stop event", body: `return RET_STOP_EVENT`, decision: event.Suppress},
		{name: "stop all", body: `return RET_STOP_ALL`, decision: event.Suppress},
		{name: "replace", body: `return "say " .. cmd:upper()`, decision: event.Replaced, text: "say HELLO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, `
				hook.add("client_command", function(id, cmd)
					`+tt.body+`
				end)
			`)

			r := f.reg.Dispatch(events.ClientCommand, events.NewClientCommand(0, "hello"))
			if r.Decision != tt.decision {
				t.Errorf("Decision = %v, want %v", r.Decision, tt.decision)
			}
			if text, _ := r.Text(); text != tt.text {
				t.Errorf("Text() = %q, want %q", text, tt.text)
			}
			if r.Faults != 0 {
				t.Errorf("Faults = %d, want 0", r.Faults)
			}
		})
	}
}

func TestAPIHookArguments(t *testing.T) {
	f := newAPIFixture(t, `
		seen = {}
		hook.add("damage", function(target, attacker, dmg, dflags, mod)
			seen = {target, attacker, dmg, dflags, mod}
		end)
	`)

	f.reg.Dispatch(events.Damage, events.NewDamage(3, -1, 50, 0, 7))

	got, ok := NewBridge(f.state.L).ToGoValue(f.state.GetGlobal("seen")).([]any)
	if !ok || len(got) != 5 {
		t.Fatalf("seen = %v", got)
	}
	want := []int64{3, -1, 50, 0, 7}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("arg %d = %v, want %d", i, got[i], w)
		}
	}
}

func TestAPIHookPriority(t *testing.T) {
	f := newAPIFixture(t, `
		order = ""
		hook.add("frame", function() order = order .. "low " end, PRI_LOW)
		hook.add("frame", function() order = order .. "high " end, PRI_HIGH)
		hook.add("frame", function() order = order .. "normal " end)
	`)

	f.reg.Dispatch(events.Frame, events.NewFrame(1))

	if got := f.state.GetGlobal("order"); got != glua.LString("high normal low ") {
		t.Errorf("order = %q", got)
	}
}

func TestAPIHookAddErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{name: "unknown event", code: `hook.add("no_such_event", function() end)`},
		{name: "bad priority", code: `hook.add("frame", function() end, 99)`},
		{name: "not a function", code: `hook.add("frame", 1)`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t, "")
			if err := f.state.DoString(tt.code); err == nil {
				t.Error("DoString() should return error")
			}
			if f.api.Len() != 0 {
				t.Errorf("Len() = %d, want 0", f.api.Len())
			}
		})
	}
}

func TestAPIHookRemove(t *testing.T) {
	f := newAPIFixture(t, `
		calls = 0
		id = hook.add("frame", function() calls = calls + 1 end)
	`)

	f.reg.Dispatch(events.Frame, events.NewFrame(1))
	if err := f.state.DoString(`
		removed = hook.remove("frame", id)
		again = hook.remove("frame", id)
		wrong = hook.remove("new_game", id)
	`); err != nil {
		t.Fatalf("DoString() error = %v", err)
	}
	f.reg.Dispatch(events.Frame, events.NewFrame(2))

	if got := f.state.GetGlobal("calls"); got != glua.LNumber(1) {
		t.Errorf("calls = %v, want 1", got)
	}
	if f.state.GetGlobal("removed") != glua.LTrue {
		t.Error("first remove should succeed")
	}
	if f.state.GetGlobal("again") != glua.LFalse {
		t.Error("second remove should fail")
	}
	if f.state.GetGlobal("wrong") != glua.LFalse {
		t.Error("remove from another event should fail")
	}
}

func TestAPIClose(t *testing.T) {
	f := newAPIFixture(t, `
		hook.add("frame", function() end)
		hook.add("new_game", function() end)
	`)

	if f.api.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", f.api.Len())
	}
	if n := f.api.Close(); n != 2 {
		t.Errorf("Close() removed %d handlers, want 2", n)
	}
	if r := f.reg.Dispatch(events.Frame, events.NewFrame(1)); r.Ran != 0 {
		t.Errorf("Ran = %d after Close(), want 0", r.Ran)
	}
}

func TestAPIHandlerFault(t *testing.T) {
	f := newAPIFixture(t, `
		hook.add("client_command", function() error("broken") end, PRI_HIGH)
		hook.add("client_command", function() return {} end, PRI_NORMAL)
		hook.add("client_command", function() return RET_STOP_EVENT end, PRI_LOW)
	`)

	r := f.reg.Dispatch(events.ClientCommand, events.NewClientCommand(0, "kill"))
	if r.Faults != 2 {
		t.Errorf("Faults = %d, want 2", r.Faults)
	}
	if r.Decision != event.Suppress {
		t.Errorf("Decision = %v, want suppress", r.Decision)
	}
}

func TestAPIReentrantDispatchSkipped(t *testing.T) {
	f := newAPIFixture(t, `
		inner = 0
		hook.add("console_print", function(text) inner = inner + 1 end)
		hook.add("frame", function() fire() end)
	`)
	f.state.SetGlobal("fire", f.state.L.NewFunction(func(L *glua.LState) int {
		f.reg.Dispatch(events.ConsolePrint, events.NewConsolePrint("nested"))
		return 0
	}))

	r := f.reg.Dispatch(events.Frame, events.NewFrame(1))
	if r.Faults != 0 {
		t.Errorf("Faults = %d, want 0", r.Faults)
	}
	if got := f.state.GetGlobal("inner"); got != glua.LNumber(0) {
		t.Errorf("inner = %v, want 0", got)
	}

	f.reg.Dispatch(events.ConsolePrint, events.NewConsolePrint("direct"))
	if got := f.state.GetGlobal("inner"); got != glua.LNumber(1) {
		t.Errorf("inner = %v, want 1", got)
	}
}

func TestAPIGame(t *testing.T) {
	f := newAPIFixture(t, `
		name = game.player(0).name
		missing, perr = game.player(5)
		host = game.cvar("sv_hostname")
		ok = game.set_cvar("g_gravity", "400")
		game.command("map campgrounds")
		game.send(0, "welcome")
	`)

	checks := map[string]glua.LValue{
		"name":    glua.LString("ranger"),
		"missing": glua.LNil,
		"host":    glua.LString("test server"),
		"ok":      glua.LTrue,
	}
	for name, want := range checks {
		if got := f.state.GetGlobal(name); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
	if f.state.GetGlobal("perr") == glua.LNil {
		t.Error("game.player(5) should return an error message")
	}
	if f.host.cvars["g_gravity"] != "400" {
		t.Errorf("g_gravity = %q", f.host.cvars["g_gravity"])
	}
	if len(f.host.commands) != 1 || f.host.commands[0] != "map campgrounds" {
		t.Errorf("commands = %v", f.host.commands)
	}
	if len(f.host.sent[0]) != 1 {
		t.Errorf("sent = %v", f.host.sent)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		in      glua.LValue
		kind    event.Kind
		wantErr bool
	}{
		{in: glua.LNil, kind: event.KindContinue},
		{in: glua.LNumber(RetStop), kind: event.KindStop},
		{in: glua.LNumber(RetStopEvent), kind: event.KindStopEvent},
		{in: glua.LNumber(RetStopAll), kind: event.KindStopAll},
		{in: glua.LString("x"), kind: event.KindReplace},
		{in: glua.LNumber(9), wantErr: true},
		{in: glua.LTrue, wantErr: true},
	}
	for _, tt := range tests {
		out, err := Outcome(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrBadReturn) {
				t.Errorf("Outcome(%v) error = %v, want ErrBadReturn", tt.in, err)
			}
			continue
		}
		if err != nil || out.Kind() != tt.kind {
			t.Errorf("Outcome(%v) = %v, %v; want %v", tt.in, out, err, tt.kind)
		}
	}
}
