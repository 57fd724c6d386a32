// Package metrics exposes dispatch and hook statistics to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dshills/gamehook/internal/event"
)

const namespace = "gamehook"

// Sources supplies gauge values sampled on every scrape. Nil fields are
// reported as zero.
type Sources struct {
	// Hooks returns the number of installed detours.
	Hooks func() int
	// Plugins returns the number of loaded plugins.
	Plugins func() int
	// PluginErrors returns the number of plugins that failed to load.
	PluginErrors func() int
	// Commands returns the number of queued console commands.
	Commands func() int
}

// Metrics holds the collectors. It implements event.Observer and
// scan.MissObserver.
type Metrics struct {
	registry  *prometheus.Registry
	sources   Sources
	startTime time.Time

	dispatches   *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	faults       *prometheus.CounterVec
	panics       *prometheus.CounterVec
	dispatchTime *prometheus.HistogramVec
	scanMisses   *prometheus.CounterVec
	pluginEvents *prometheus.CounterVec

	hooksInstalled  prometheus.Gauge
	pluginsLoaded   prometheus.Gauge
	pluginErrors    prometheus.Gauge
	commandsPending prometheus.Gauge
	uptimeSeconds   prometheus.Gauge
	memoryHeapBytes prometheus.Gauge
	goroutines      prometheus.Gauge
}

// New creates the collectors on a private registry.
func New(sources Sources) *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		sources:   sources,
		startTime: time.Now(),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Events dispatched, by event.",
		}, []string{"event"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Dispatch decisions other than allow, by event and decision.",
		}, []string{"event", "decision"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_faults_total",
			Help:      "Handlers that returned an error or panicked, by event and owner.",
		}, []string{"event", "owner"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Handlers that panicked, by event.",
		}, []string{"event"}),
		dispatchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_seconds",
			Help:      "Time spent running an event's handler chain.",
			Buckets:   []float64{1e-6, 1e-5, 1e-4, 5e-4, 1e-3, 5e-3, 1e-2, 5e-2},
		}, []string{"event"}),
		scanMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_misses_total",
			Help:      "Signatures that did not resolve, by module and function.",
		}, []string{"module", "function", "required"}),
		pluginEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_events_total",
			Help:      "Plugin lifecycle changes, by plugin and kind.",
		}, []string{"plugin", "kind"}),
		hooksInstalled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hooks_installed",
			Help:      "Detours currently installed.",
		}),
		pluginsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_loaded",
			Help:      "Plugins currently loaded.",
		}),
		pluginErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "plugins_failed",
			Help:      "Plugins whose last load failed.",
		}),
		commandsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "commands_pending",
			Help:      "Console commands waiting for the next frame.",
		}),
		uptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the library was initialised.",
		}),
		memoryHeapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_heap_bytes",
			Help:      "Go heap memory allocated in bytes.",
		}),
		goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of active goroutines.",
		}),
	}

	m.registry.MustRegister(
		m.dispatches,
		m.decisions,
		m.faults,
		m.panics,
		m.dispatchTime,
		m.scanMisses,
		m.pluginEvents,
		m.hooksInstalled,
		m.pluginsLoaded,
		m.pluginErrors,
		m.commandsPending,
		m.uptimeSeconds,
		m.memoryHeapBytes,
		m.goroutines,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Dispatched implements event.Observer.
func (m *Metrics) Dispatched(name string, _ *event.Payload, r event.Result, elapsed time.Duration) {
	m.dispatches.WithLabelValues(name).Inc()
	if r.Decision != event.Allow {
		m.decisions.WithLabelValues(name, r.Decision.String()).Inc()
	}
	m.dispatchTime.WithLabelValues(name).Observe(elapsed.Seconds())
}

// HandlerFault implements event.Observer.
func (m *Metrics) HandlerFault(f *event.FaultError) {
	m.faults.WithLabelValues(f.Event, f.Owner).Inc()
	if errors.Is(f, event.ErrHandlerPanic) {
		m.panics.WithLabelValues(f.Event).Inc()
	}
}

// ScanMiss implements scan.MissObserver.
func (m *Metrics) ScanMiss(module, name string, required bool) {
	req := "false"
	if required {
		req = "true"
	}
	m.scanMisses.WithLabelValues(module, name, req).Inc()
}

// PluginEvent counts a plugin lifecycle change.
func (m *Metrics) PluginEvent(plugin, kind string) {
	m.pluginEvents.WithLabelValues(plugin, kind).Inc()
}

// Update refreshes the sampled gauges.
func (m *Metrics) Update() {
	m.hooksInstalled.Set(sample(m.sources.Hooks))
	m.pluginsLoaded.Set(sample(m.sources.Plugins))
	m.pluginErrors.Set(sample(m.sources.PluginErrors))
	m.commandsPending.Set(sample(m.sources.Commands))
	m.uptimeSeconds.Set(time.Since(m.startTime).Seconds())

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	m.memoryHeapBytes.Set(float64(mem.HeapAlloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
}

// Handler returns an http.Handler that updates gauges before serving.
func (m *Metrics) Handler() http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Update()
		h.ServeHTTP(w, r)
	})
}

func sample(fn func() int) float64 {
	if fn == nil {
		return 0
	}
	return float64(fn())
}
