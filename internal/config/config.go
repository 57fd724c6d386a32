package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/gamehook/internal/event"
	"github.com/dshills/gamehook/internal/host"
	"github.com/dshills/gamehook/internal/intercept"
	"github.com/dshills/gamehook/internal/patch"
	"github.com/dshills/gamehook/internal/scan"
	"github.com/dshills/gamehook/internal/view"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GAMEHOOK_"

// DefaultPath is the configuration file read when none is named.
const DefaultPath = "gamehook.toml"

// Config is the complete configuration.
type Config struct {
	Core     CoreConfig     `toml:"core" envPrefix:"CORE_"`
	Scan     ScanConfig     `toml:"scan" envPrefix:"SCAN_"`
	Dispatch DispatchConfig `toml:"dispatch" envPrefix:"DISPATCH_"`
	Plugins  PluginsConfig  `toml:"plugins" envPrefix:"PLUGINS_"`
	Stats    StatsConfig    `toml:"stats" envPrefix:"STATS_"`
	Metrics  MetricsConfig  `toml:"metrics" envPrefix:"METRICS_"`
	Layout   view.Layout    `toml:"layout"`
}

// CoreConfig names the host modules and configures logging.
type CoreConfig struct {
	// Module is the host executable's name in /proc/self/maps.
	Module string `toml:"module" env:"MODULE"`
	// GameModule is the late-loaded game logic module.
	GameModule string `toml:"game_module" env:"GAME_MODULE"`
	LogLevel   string `toml:"log_level" env:"LOG_LEVEL"`
	// LogFile is appended to. Empty logs to stderr.
	LogFile string `toml:"log_file" env:"LOG_FILE"`
}

// ScanConfig controls signature resolution.
type ScanConfig struct {
	// Required names functions whose miss aborts startup.
	Required []string `toml:"required" env:"REQUIRED" envSeparator:","`
	// Signatures overrides built-in patterns by function name.
	Signatures map[string]string `toml:"signatures"`
	// Patches are masked byte fixes inside located functions.
	Patches []PatchConfig `toml:"patches"`
}

// PatchConfig is one [[scan.patches]] entry. Bytes uses the signature hex
// form; "??" leaves the host's byte in place.
type PatchConfig struct {
	Name     string `toml:"name"`
	Function string `toml:"function"`
	Offset   int    `toml:"offset"`
	Bytes    string `toml:"bytes"`
}

// DispatchConfig sizes the event dispatchers.
type DispatchConfig struct {
	Levels int `toml:"levels" env:"LEVELS"`
}

// PluginsConfig controls the Lua plugin manager.
type PluginsConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Dir     string `toml:"dir" env:"DIR"`
	// Load lists plugins to load. Empty loads every discovered plugin.
	Load        []string `toml:"load" env:"LOAD" envSeparator:","`
	Watch       bool     `toml:"watch" env:"WATCH"`
	CallTimeout Duration `toml:"call_timeout" env:"CALL_TIMEOUT"`
	Debounce    Duration `toml:"debounce" env:"DEBOUNCE"`
}

// StatsConfig controls the telemetry feed and remote console.
type StatsConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Listen  string `toml:"listen" env:"LISTEN"`
	// PasswordHash is a bcrypt hash. Empty disables the remote console.
	PasswordHash string   `toml:"password_hash" env:"PASSWORD_HASH"`
	Queue        int      `toml:"queue" env:"QUEUE"`
	Exclude      []string `toml:"exclude" env:"EXCLUDE" envSeparator:","`
	Origins      []string `toml:"origins" env:"ORIGINS" envSeparator:","`
}

// MetricsConfig controls the Prometheus endpoint on the stats listener.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" env:"ENABLED"`
}

// Duration is a time.Duration written as a string such as "250ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Core: CoreConfig{
			Module:     "qzeroded.x64",
			GameModule: intercept.DefaultGameModule,
			LogLevel:   "info",
		},
		Scan: ScanConfig{
			Required: []string{
				host.FnCmdExecuteString,
				host.FnSysSetModuleOffset,
				host.FnGInitGame,
				host.FnGRunFrame,
			},
			Signatures: map[string]string{},
		},
		Dispatch: DispatchConfig{Levels: event.DefaultLevels},
		Plugins: PluginsConfig{
			Enabled:     true,
			Dir:         "plugins",
			CallTimeout: Duration(250 * time.Millisecond),
			Debounce:    Duration(200 * time.Millisecond),
		},
		Stats: StatsConfig{
			Listen:  "127.0.0.1:27961",
			Queue:   1024,
			Exclude: []string{"frame"},
		},
		Layout: view.DefaultLayout(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error when path is the
// default.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.Decode(path, data); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads TOML data over cfg. Unknown keys are rejected.
func (c *Config) Decode(source string, data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		perr := &ParseError{Path: source, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
		}
		return perr
	}
	return nil
}

// ApplyEnv overrides fields from GAMEHOOK_* environment variables.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(nil)
}

func (c *Config) applyEnv(environ map[string]string) error {
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks every section. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	add := func(path, msg string, v any) {
		errs = append(errs, &ValidationError{Path: path, Message: msg, Value: v})
	}

	if c.Core.Module == "" {
		add("core.module", "must not be empty", c.Core.Module)
	}
	if c.Core.GameModule == "" {
		add("core.game_module", "must not be empty", c.Core.GameModule)
	}
	switch c.Core.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("core.log_level", "must be debug, info, warn or error", c.Core.LogLevel)
	}

	for _, name := range c.Scan.Required {
		if !intercept.Known(name) {
			add("scan.required", "unknown function", name)
		}
	}
	for name, pattern := range c.Scan.Signatures {
		if !intercept.Known(name) {
			add("scan.signatures."+name, "unknown function", name)
			continue
		}
		if _, err := scan.ParseSignature(name, pattern); err != nil {
			add("scan.signatures."+name, err.Error(), pattern)
		}
	}

	for i, pc := range c.Scan.Patches {
		path := fmt.Sprintf("scan.patches[%d]", i)
		if !intercept.Known(pc.Function) {
			add(path+".function", "unknown function", pc.Function)
		}
		if pc.Offset < 0 {
			add(path+".offset", "must not be negative", pc.Offset)
		}
		if _, err := patch.Parse(pc.Name, pc.Function, 0, pc.Bytes); err != nil {
			add(path+".bytes", err.Error(), pc.Bytes)
		}
	}

	if c.Dispatch.Levels < 1 {
		add("dispatch.levels", "must be at least 1", c.Dispatch.Levels)
	}

	if c.Plugins.Enabled && c.Plugins.Dir == "" {
		add("plugins.dir", "must not be empty", c.Plugins.Dir)
	}
	if c.Plugins.CallTimeout < 0 {
		add("plugins.call_timeout", "must not be negative", c.Plugins.CallTimeout.Std())
	}
	if c.Plugins.Debounce < 0 {
		add("plugins.debounce", "must not be negative", c.Plugins.Debounce.Std())
	}

	if c.Stats.Enabled && c.Stats.Listen == "" {
		add("stats.listen", "must not be empty", c.Stats.Listen)
	}
	if c.Stats.Queue < 1 {
		add("stats.queue", "must be at least 1", c.Stats.Queue)
	}
	if c.Metrics.Enabled && !c.Stats.Enabled {
		add("metrics.enabled", "requires stats.enabled", c.Metrics.Enabled)
	}

	if err := c.Layout.Validate(); err != nil {
		add("layout", err.Error(), nil)
	}

	return errors.Join(errs...)
}

// Patches returns the configured patches. The configuration must be valid.
func (c *Config) Patches() ([]patch.Patch, error) {
	out := make([]patch.Patch, 0, len(c.Scan.Patches))
	for _, pc := range c.Scan.Patches {
		name := pc.Name
		if name == "" {
			name = fmt.Sprintf("%s+%#x", pc.Function, pc.Offset)
		}
		p, err := patch.Parse(name, pc.Function, uintptr(pc.Offset), pc.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Required returns the scan policy.
func (c *Config) Required() scan.Policy {
	return scan.NewPolicy(c.Scan.Required...)
}
