package app

import (
	"os"

	"github.com/dshills/gamehook/internal/config"
	"github.com/dshills/gamehook/internal/detour"
	"github.com/dshills/gamehook/internal/event"
	"github.com/dshills/gamehook/internal/event/events"
	"github.com/dshills/gamehook/internal/host"
	"github.com/dshills/gamehook/internal/intercept"
	"github.com/dshills/gamehook/internal/memory"
	"github.com/dshills/gamehook/internal/metrics"
	"github.com/dshills/gamehook/internal/plugin"
	"github.com/dshills/gamehook/internal/scan"
	"github.com/dshills/gamehook/internal/stats"
)

// ConfigEnv names the variable holding the configuration file path.
const ConfigEnv = "GAMEHOOK_CONFIG"

// bootstrapper initializes components in dependency order. Each step only
// assigns to the application once its component is usable, so the
// teardown path can release exactly what exists.
type bootstrapper struct {
	app *Application
}

func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{app: app}
}

func (b *bootstrapper) bootstrap() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"config", b.initConfig},
		{"logging", b.initLogging},
		{"memory", b.initMemory},
		{"metrics", b.initMetrics},
		{"resolver", b.initResolver},
		{"host", b.initHost},
		{"events", b.initEvents},
		{"intercept", b.initIntercept},
		{"plugins", b.initPlugins},
		{"stats", b.initStats},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return &InitError{Component: s.name, Err: err}
		}
		if b.app.log != nil {
			b.app.log.Debug("initialized %s", s.name)
		}
	}
	return nil
}

func (b *bootstrapper) initConfig() error {
	if b.app.opts.Config != nil {
		b.app.cfg = b.app.opts.Config
		return b.app.cfg.Validate()
	}
	path := b.app.opts.ConfigPath
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	b.app.cfg = cfg
	return nil
}

func (b *bootstrapper) initLogging() error {
	log, closer, err := openLogger(b.app.cfg.Core, b.app.opts.LogOutput)
	if err != nil {
		return err
	}
	b.app.log = log
	b.app.logFile = closer
	return nil
}

// initMemory selects the memory capability and reserves scratch space for
// strings passed to native calls.
func (b *bootstrapper) initMemory() error {
	opts := &b.app.opts
	if opts.Region == nil || opts.Caller == nil || opts.Maps == nil {
		if err := nativeDefaults(opts); err != nil {
			return err
		}
	}
	b.app.region = opts.Region
	b.app.caller = opts.Caller

	scratch, err := host.NewScratch(b.app.region, scratchSize)
	if err != nil {
		return err
	}
	b.app.scratch = scratch
	return nil
}

func (b *bootstrapper) findModule(name string) (memory.Module, bool) {
	maps, err := b.app.opts.Maps()
	if err != nil {
		b.app.log.Error("read mappings: %v", err)
		return memory.Module{}, false
	}
	return memory.FindModule(maps, name)
}

// initMetrics creates the collectors early so the resolver can report
// misses. Gauges sample components created later.
func (b *bootstrapper) initMetrics() error {
	if !b.app.cfg.Metrics.Enabled {
		return nil
	}
	app := b.app
	app.metrics = metrics.New(metrics.Sources{
		Hooks: func() int {
			if app.engine == nil {
				return 0
			}
			return app.engine.Len()
		},
		Plugins:      app.pluginCount,
		PluginErrors: app.pluginErrors,
		Commands: func() int {
			if app.host == nil {
				return 0
			}
			return app.host.Pending()
		},
	})
	return nil
}

func (b *bootstrapper) initResolver() error {
	app := b.app
	app.funcs = scan.NewResolved()
	app.resolver = scan.NewResolver(app.region, app.cfg.Required(), app.log)
	if app.metrics != nil {
		app.resolver.SetObserver(app.metrics)
	}
	app.engine = detour.NewEngine(app.region, app.log)
	return nil
}

func (b *bootstrapper) initHost() error {
	app := b.app
	layout := app.cfg.Layout
	app.host = host.New(host.Config{
		Region:  app.region,
		Caller:  app.caller,
		Funcs:   app.funcs,
		Layout:  &layout,
		Scratch: app.scratch,
		Log:     app.log,
	})
	return nil
}

// initEvents creates the registry. Observers are attached before the
// events are defined because dispatchers capture them on creation.
func (b *bootstrapper) initEvents() error {
	app := b.app
	reg := event.NewRegistry(app.cfg.Dispatch.Levels, app.log)
	if app.metrics != nil {
		reg.Observe(app.metrics)
	}
	if app.cfg.Stats.Enabled {
		app.feed = stats.NewFeed(stats.FeedConfig{
			Queue:   app.cfg.Stats.Queue,
			Exclude: app.cfg.Stats.Exclude,
			Log:     app.log,
		})
		reg.Observe(app.feed)
	}
	if err := events.Define(reg); err != nil {
		return err
	}
	app.events = reg
	return nil
}

func (b *bootstrapper) initIntercept() error {
	app := b.app
	patches, err := app.cfg.Patches()
	if err != nil {
		return err
	}
	app.intercept = intercept.New(intercept.Config{
		Region:     app.region,
		Caller:     app.caller,
		Engine:     app.engine,
		Resolver:   app.resolver,
		Policy:     app.cfg.Required(),
		Funcs:      app.funcs,
		Host:       app.host,
		Events:     app.events,
		Overrides:  app.cfg.Scan.Signatures,
		Patches:    patches,
		FindModule: b.findModule,
		GameModule: app.cfg.Core.GameModule,
		Log:        app.log,
	})
	return app.intercept.StartModule(app.cfg.Core.Module)
}

// initPlugins loads the configured plugins. A plugin that fails to load is
// logged and skipped. Reloads queued by the watcher are applied at the end
// of each frame, on the server thread.
func (b *bootstrapper) initPlugins() error {
	app := b.app
	pc := app.cfg.Plugins
	if !pc.Enabled {
		return nil
	}

	m := plugin.NewManager(plugin.Config{
		Dir:      pc.Dir,
		Timeout:  pc.CallTimeout.Std(),
		Debounce: pc.Debounce.Std(),
		Log:      app.log,
	}, app.events, plugin.NewHostAPI(app.host))
	app.plugins = m
	m.Subscribe(app.pluginChanged)

	lowest := app.events.Levels() - 1
	_, err := app.events.Register(events.Frame, Owner, lowest, func(*event.Payload) (event.Outcome, error) {
		m.RunPending()
		return event.Continue, nil
	})
	if err != nil {
		return err
	}

	if err := m.LoadAll(pc.Load); err != nil {
		app.log.Warn("%v", err)
	}
	if pc.Watch {
		if err := m.Watch(); err != nil {
			app.log.Warn("plugin watch disabled: %v", err)
		}
	}
	return nil
}

func (b *bootstrapper) initStats() error {
	app := b.app
	if app.feed == nil {
		return nil
	}
	if err := app.feed.Start(); err != nil {
		return err
	}

	srv := stats.NewServer(stats.ServerConfig{
		Listen:       app.cfg.Stats.Listen,
		PasswordHash: app.cfg.Stats.PasswordHash,
		Origins:      app.cfg.Stats.Origins,
		Plugins:      app.pluginStatus,
		Log:          app.log,
	}, app.feed, app.host)
	if app.metrics != nil {
		srv.Handle("GET /metrics", app.metrics.Handler())
	}
	if err := srv.Start(); err != nil {
		return err
	}
	app.stats = srv
	return nil
}
