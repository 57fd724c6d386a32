package app

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/gamehook/internal/config"
	"github.com/dshills/gamehook/internal/detour"
	"github.com/dshills/gamehook/internal/event"
	"github.com/dshills/gamehook/internal/host"
	"github.com/dshills/gamehook/internal/intercept"
	"github.com/dshills/gamehook/internal/logging"
	"github.com/dshills/gamehook/internal/memory"
	"github.com/dshills/gamehook/internal/metrics"
	"github.com/dshills/gamehook/internal/plugin"
	"github.com/dshills/gamehook/internal/scan"
	"github.com/dshills/gamehook/internal/stats"
)

// Owner is the handler owner for the application's own event handlers.
const Owner = "gamehook"

// scratchSize is the host memory reserved for strings passed to native code.
const scratchSize = 64 << 10

// Options configures an Application. Zero fields use the live process.
type Options struct {
	// Config is used as is when set. Otherwise ConfigPath is loaded.
	Config     *config.Config
	ConfigPath string

	// Region and Caller default to the running process.
	Region memory.Region
	Caller detour.Caller

	// Maps lists the mappings modules are found in. It defaults to
	// /proc/self/maps.
	Maps func() ([]memory.Mapping, error)

	// LogOutput overrides core.log_file.
	LogOutput io.Writer
}

// Application owns every component of the running library.
type Application struct {
	opts Options

	cfg     *config.Config
	log     *logging.Logger
	logFile io.Closer

	region    memory.Region
	caller    detour.Caller
	scratch   *host.Scratch
	funcs     *scan.Resolved
	resolver  *scan.Resolver
	engine    *detour.Engine
	host      *host.Host
	events    *event.Registry
	intercept *intercept.Interceptor
	plugins   *plugin.Manager
	feed      *stats.Feed
	stats     *stats.Server
	metrics   *metrics.Metrics

	started  atomic.Bool
	running  atomic.Bool
	stopOnce sync.Once
}

// New creates an application. Nothing touches the host until Start.
func New(opts Options) *Application {
	return &Application{opts: opts}
}

// Start brings every component up in order. On failure everything already
// started is torn down again and the error is returned. An application
// starts at most once.
func (app *Application) Start() error {
	if !app.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	app.running.Store(true)
	b := newBootstrapper(app)
	if err := b.bootstrap(); err != nil {
		if app.log != nil {
			app.log.Error("startup failed: %v", err)
		}
		app.shutdown()
		return err
	}
	app.log.Info("started: %d hooks, %d plugins", app.engine.Len(), app.pluginCount())
	return nil
}

// Shutdown removes the hooks and releases everything. It is safe to call
// more than once. A failure to restore the host's code panics with a
// *RestoreError.
func (app *Application) Shutdown() error {
	if !app.running.Load() {
		return ErrNotRunning
	}
	app.shutdown()
	return nil
}

// shutdown is the single teardown path, also used when Start fails. Hooks
// are disabled first so no new call enters a component being closed.
func (app *Application) shutdown() {
	app.stopOnce.Do(func() {
		log := logging.OrNull(app.log)

		if app.engine != nil {
			if err := app.engine.DisableAll(); err != nil {
				panic(&RestoreError{Err: err})
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if app.stats != nil {
			if err := app.stats.Close(ctx); err != nil {
				log.Warn("close stats server: %v", err)
			}
		}
		if app.feed != nil {
			if err := app.feed.Close(ctx); err != nil {
				log.Warn("close feed: %v", err)
			}
		}

		if app.plugins != nil {
			if err := app.plugins.Close(); err != nil {
				log.Warn("close plugins: %v", err)
			}
		}
		if app.events != nil {
			app.events.Retire()
		}

		if app.engine != nil {
			if err := app.engine.Close(); err != nil {
				panic(&RestoreError{Err: err})
			}
		}
		if app.scratch != nil {
			if err := app.scratch.Close(); err != nil {
				log.Warn("release scratch: %v", err)
			}
		}

		log.Info("stopped")
		if app.logFile != nil {
			_ = app.logFile.Close()
		}
		app.running.Store(false)
	})
}

// IsRunning reports whether Start succeeded and Shutdown has not run.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

func (app *Application) pluginCount() int {
	if app.plugins == nil {
		return 0
	}
	return app.plugins.Count()
}

func (app *Application) pluginErrors() int {
	if app.plugins == nil {
		return 0
	}
	return len(app.plugins.Errors())
}

// pluginChanged reports a plugin manager event on the feed and in the
// metrics.
func (app *Application) pluginChanged(e plugin.ManagerEvent) {
	kind := e.Type.String()
	if app.feed != nil {
		app.feed.PluginChanged(e.Plugin, kind, e.Error)
	}
	if app.metrics != nil {
		app.metrics.PluginEvent(e.Plugin, kind)
	}
}

func (app *Application) pluginStatus() []stats.PluginStatus {
	if app.plugins == nil {
		return nil
	}
	list := app.plugins.List()
	out := make([]stats.PluginStatus, 0, len(list))
	for _, p := range list {
		st := stats.PluginStatus{
			Name:     p.Name(),
			Version:  p.Manifest().Version,
			State:    p.State().String(),
			Handlers: p.Handlers(),
		}
		if err := p.Error(); err != nil {
			st.Error = err.Error()
		}
		out = append(out, st)
	}
	return out
}

// Config returns the active configuration.
func (app *Application) Config() *config.Config { return app.cfg }

// Logger returns the root logger.
func (app *Application) Logger() *logging.Logger { return app.log }

// Events returns the event registry.
func (app *Application) Events() *event.Registry { return app.events }

// Host returns the host facade.
func (app *Application) Host() *host.Host { return app.host }

// Engine returns the detour engine.
func (app *Application) Engine() *detour.Engine { return app.engine }

// Interceptor returns the hook set.
func (app *Application) Interceptor() *intercept.Interceptor { return app.intercept }

// Plugins returns the plugin manager, or nil when plugins are disabled.
func (app *Application) Plugins() *plugin.Manager { return app.plugins }

// Stats returns the stats server, or nil when it is disabled.
func (app *Application) Stats() *stats.Server { return app.stats }

// Metrics returns the collectors, or nil when metrics are disabled.
func (app *Application) Metrics() *metrics.Metrics { return app.metrics }
