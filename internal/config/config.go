// Package config loads kinectkart settings from YAML, .env files and the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ayusman/kinectkart/internal/input"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KINECTKART_"

// Tracker modes.
const (
	ModeProcess = "process"
	ModeReplay  = "replay"
)

// Injector kinds.
const (
	InjectorRobot  = "robotgo"
	InjectorPlugin = "plugin"
	InjectorNone   = "none"
)

// Config is the whole application configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Tracker  TrackerConfig `yaml:"tracker"`
	Input    InputConfig   `yaml:"input"`
	Overlay  OverlayConfig `yaml:"overlay"`
	Journal  PathConfig    `yaml:"journal"`
	Record   PathConfig    `yaml:"record"`
	Debug    DebugConfig   `yaml:"debug"`
	Tray     TrayConfig    `yaml:"tray"`
}

// TrackerConfig selects and configures the tracking engine.
type TrackerConfig struct {
	Mode         string   `yaml:"mode"`
	Command      []string `yaml:"command"`
	EngineConfig string   `yaml:"engine_config"`
	ReplayPath   string   `yaml:"replay_path"`
	Loop         bool     `yaml:"loop"`
}

// InputConfig selects the key injector and its bindings.
type InputConfig struct {
	Injector          string            `yaml:"injector"`
	Keys              map[string]string `yaml:"keys"`
	PluginDir         string            `yaml:"plugin_dir"`
	Plugin            string            `yaml:"plugin"`
	PluginConfig      map[string]any    `yaml:"plugin_config"`
	TimeoutMs         int               `yaml:"timeout_ms"`
	RequireConfidence bool              `yaml:"require_confidence"`
}

// OverlayConfig controls the debug window.
type OverlayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
}

// PathConfig enables a file-backed feature when Path is set.
type PathConfig struct {
	Path string `yaml:"path"`
}

// DebugConfig controls the debug HTTP server. An empty Addr disables it.
// StaticDir, when set, is served at the root path.
type DebugConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

// TrayConfig controls the system tray icon.
type TrayConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Dir returns ~/.kinectkart, or .kinectkart when there is no home directory.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kinectkart"
	}
	return filepath.Join(home, ".kinectkart")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Tracker: TrackerConfig{
			Mode:         ModeProcess,
			Command:      []string{"kinectkart-bridge"},
			EngineConfig: "config.xml",
		},
		Input: InputConfig{
			Injector:          InjectorRobot,
			Keys:              map[string]string{"left": "left", "right": "right", "z": "z", "a": "a"},
			PluginDir:         filepath.Join(Dir(), "plugins"),
			Plugin:            "keyboard",
			TimeoutMs:         1000,
			RequireConfidence: true,
		},
		Overlay: OverlayConfig{
			Enabled: true,
			Title:   "kinectkart",
			Width:   640,
			Height:  480,
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are skipped and existing variables win.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv applies KINECTKART_* overrides using lookup, usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("TRACKER_MODE", &c.Tracker.Mode)
	str("ENGINE_CONFIG", &c.Tracker.EngineConfig)
	str("REPLAY", &c.Tracker.ReplayPath)
	str("INJECTOR", &c.Input.Injector)
	str("PLUGIN_DIR", &c.Input.PluginDir)
	str("PLUGIN", &c.Input.Plugin)
	str("JOURNAL", &c.Journal.Path)
	str("RECORD", &c.Record.Path)
	str("DEBUG_ADDR", &c.Debug.Addr)
	str("STATIC_DIR", &c.Debug.StaticDir)

	if v, ok := lookup(EnvPrefix + "TRACKER_COMMAND"); ok {
		c.Tracker.Command = strings.Fields(v)
	}

	return errors.Join(
		boolean("LOOP", &c.Tracker.Loop),
		boolean("OVERLAY", &c.Overlay.Enabled),
		boolean("TRAY", &c.Tray.Enabled),
		boolean("REQUIRE_CONFIDENCE", &c.Input.RequireConfidence),
	)
}

// Validate checks the configuration for values the app cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Tracker.Mode {
	case ModeProcess:
		if len(c.Tracker.Command) == 0 {
			errs = append(errs, errors.New("tracker.command is required in process mode"))
		}
	case ModeReplay:
		if c.Tracker.ReplayPath == "" {
			errs = append(errs, errors.New("tracker.replay_path is required in replay mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("tracker.mode %q is not one of process, replay", c.Tracker.Mode))
	}

	switch c.Input.Injector {
	case InjectorRobot, InjectorNone:
	case InjectorPlugin:
		if c.Input.TimeoutMs <= 0 {
			errs = append(errs, errors.New("input.timeout_ms must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("input.injector %q is not one of robotgo, plugin, none", c.Input.Injector))
	}

	if _, err := c.KeyNames(); err != nil {
		errs = append(errs, err)
	}

	if c.Overlay.Enabled && (c.Overlay.Width <= 0 || c.Overlay.Height <= 0) {
		errs = append(errs, errors.New("overlay width and height must be positive"))
	}

	return errors.Join(errs...)
}

// KeyNames converts the configured key bindings. Unbound keys keep defaults.
func (c *Config) KeyNames() (input.KeyNames, error) {
	names := input.DefaultKeyNames()
	for logical, name := range c.Input.Keys {
		k, err := input.ParseKey(logical)
		if err != nil {
			return nil, fmt.Errorf("input.keys: %w", err)
		}
		if name = strings.TrimSpace(name); name != "" {
			names[k] = name
		}
	}
	return names, nil
}

// PluginConfigJSON returns input.plugin_config encoded for plugin requests.
func (c *Config) PluginConfigJSON() (json.RawMessage, error) {
	if len(c.Input.PluginConfig) == 0 {
		return nil, nil
	}
	return json.Marshal(c.Input.PluginConfig)
}
