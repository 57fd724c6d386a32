package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dshills/gamehook/internal/event"
	"github.com/dshills/gamehook/internal/event/events"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var pb dto.Metric
	if err := (<-ch).Write(&pb); err != nil {
		t.Fatal(err)
	}
	return pb.GetCounter().GetValue()
}

func TestDispatched(t *testing.T) {
	m := New(Sources{})
	reg := event.NewRegistry(0, nil)
	reg.Observe(m)
	if err := events.Define(reg); err != nil {
		t.Fatal(err)
	}

	_, _ = reg.Register(events.ClientCommand, "test", event.PriorityNormal, func(p *event.Payload) (event.Outcome, error) {
		if p.Value == "kill" {
			return event.StopEvent, nil
		}
		return event.Continue, nil
	})
	reg.Dispatch(events.ClientCommand, events.NewClientCommand(0, "kill"))
	reg.Dispatch(events.ClientCommand, events.NewClientCommand(0, "say hi"))

	if got := counterValue(t, m.dispatches.WithLabelValues(events.ClientCommand)); got != 2 {
		t.Errorf("dispatches = %v, want 2", got)
	}
	if got := counterValue(t, m.decisions.WithLabelValues(events.ClientCommand, "suppress")); got != 1 {
		t.Errorf("suppress decisions = %v, want 1", got)
	}
}

func TestHandlerFault(t *testing.T) {
	m := New(Sources{})
	m.HandlerFault(&event.FaultError{Event: events.Frame, Owner: "motd", ID: uuid.New(), Err: errors.New("boom")})
	m.HandlerFault(&event.FaultError{Event: events.Frame, Owner: "motd", ID: uuid.New(), Err: &event.PanicError{Value: "nil index"}})

	if got := counterValue(t, m.faults.WithLabelValues(events.Frame, "motd")); got != 2 {
		t.Errorf("faults = %v, want 2", got)
	}
	if got := counterValue(t, m.panics.WithLabelValues(events.Frame)); got != 1 {
		t.Errorf("panics = %v, want 1", got)
	}
}

func TestHandlerServesSampledGauges(t *testing.T) {
	m := New(Sources{
		Hooks:        func() int { return 7 },
		Plugins:      func() int { return 2 },
		PluginErrors: func() int { return 1 },
	})
	m.PluginEvent("motd", "error")
	m.ScanMiss("qagamex64.so", "G_Damage", false)
	m.Dispatched(events.Frame, events.NewFrame(1), event.Result{}, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		"gamehook_hooks_installed 7",
		"gamehook_plugins_loaded 2",
		"gamehook_plugins_failed 1",
		`gamehook_plugin_events_total{kind="error",plugin="motd"} 1`,
		"gamehook_commands_pending 0",
		`gamehook_scan_misses_total{function="G_Damage",module="qagamex64.so",required="false"} 1`,
		`gamehook_dispatches_total{event="frame"} 1`,
		`gamehook_dispatch_seconds_count{event="frame"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q", want)
		}
	}
}
