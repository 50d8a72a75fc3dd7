package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/kinectkart/internal/app"
	"github.com/ayusman/kinectkart/internal/config"
	"github.com/ayusman/kinectkart/internal/input"
	"github.com/ayusman/kinectkart/internal/overlay"
	"github.com/ayusman/kinectkart/internal/plugin"
	"github.com/ayusman/kinectkart/internal/server"
	"github.com/ayusman/kinectkart/internal/store"
	"github.com/ayusman/kinectkart/internal/telemetry"
	"github.com/ayusman/kinectkart/internal/tracker"
	"github.com/ayusman/kinectkart/internal/tray"
)

// The overlay window and the tray both need the main thread.
func init() {
	runtime.LockOSThread()
}

type flags struct {
	config string
	replay string
	record string
	dryRun bool
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", config.DefaultPath(), "path to the YAML config file")
	flag.StringVar(&f.replay, "replay", "", "replay a recorded session instead of running the engine")
	flag.StringVar(&f.record, "record", "", "record polled frames to this file (.jsonl or .jsonl.zst)")
	flag.BoolVar(&f.dryRun, "dry-run", false, "log key transitions instead of sending them")
	flag.Parse()

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	if err := run(f); err != nil {
		if errors.Is(err, tracker.ErrEngineInit) {
			log.Fatal().Err(err).Msg("tracking engine failed to start")
		}
		log.Fatal().Err(err).Msg("kinectkart stopped")
	}
}

func run(f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	trk, source, err := openTracker(cfg)
	if err != nil {
		return err
	}
	defer trk.Close()

	names, err := cfg.KeyNames()
	if err != nil {
		return err
	}
	inj, err := newInjector(cfg, names)
	if err != nil {
		return err
	}

	hub := telemetry.NewHub()

	var st *store.Store
	if cfg.Journal.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0755); err != nil {
			return fmt.Errorf("create journal directory: %w", err)
		}
		if st, err = store.New(cfg.Journal.Path); err != nil {
			return err
		}
		defer st.Close()
	}

	appConfig := app.Config{
		Tracker:           trk,
		Injector:          inj,
		Store:             st,
		Hub:               hub,
		Source:            source,
		RequireConfidence: cfg.Input.RequireConfidence,
	}

	if cfg.Record.Path != "" {
		rec, err := tracker.NewRecorder(cfg.Record.Path)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close recording")
			}
		}()
		appConfig.Recorder = rec
		log.Info().Str("path", cfg.Record.Path).Msg("recording frames")
	}

	// The tray owns the main thread, so the window is only used without it.
	var renderer overlay.Renderer
	if cfg.Overlay.Enabled && !cfg.Tray.Enabled {
		renderer = overlay.NewWindow(cfg.Overlay.Title, cfg.Overlay.Width, cfg.Overlay.Height, hub)
	} else {
		renderer = overlay.NewHeadless(hub)
	}
	defer renderer.Close()
	appConfig.Renderer = renderer

	a := app.New(appConfig)

	if cfg.Debug.Addr != "" {
		srv := server.New(server.Config{StaticDir: cfg.Debug.StaticDir, Store: st, Hub: hub})
		go func() {
			if err := srv.Serve(ctx, cfg.Debug.Addr); err != nil {
				log.Error().Err(err).Msg("debug server failed")
			}
		}()
	}

	go func() {
		err := config.Watch(ctx, f.config, func(c *config.Config) {
			names, err := c.KeyNames()
			if err != nil {
				log.Warn().Err(err).Msg("ignoring key bindings")
				return
			}
			a.Reload(names)
		})
		if err != nil {
			log.Warn().Err(err).Msg("config hot reload disabled")
		}
	}()

	if !cfg.Tray.Enabled {
		return a.Run(ctx)
	}

	t := tray.New()
	t.OnToggle(a.SetEnabled)
	t.OnQuit(stop)
	if cfg.Debug.Addr != "" {
		t.OnSettings(func() { openBrowser("http://" + cfg.Debug.Addr + "/api/state") })
	}
	go t.Follow(ctx, hub)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Run(ctx)
		t.Quit()
	}()
	t.Run()
	stop()
	return <-errCh
}

func loadConfig(f flags) (*config.Config, error) {
	if err := config.LoadEnvFiles(".env", filepath.Join(config.Dir(), ".env")); err != nil {
		return nil, err
	}

	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if f.replay != "" {
		cfg.Tracker.Mode = config.ModeReplay
		cfg.Tracker.ReplayPath = f.replay
	}
	if f.record != "" {
		cfg.Record.Path = f.record
	}
	if f.dryRun {
		cfg.Input.Injector = config.InjectorNone
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openTracker(cfg *config.Config) (tracker.Tracker, string, error) {
	if cfg.Tracker.Mode == config.ModeReplay {
		t, err := tracker.OpenReplay(cfg.Tracker.ReplayPath, cfg.Tracker.Loop)
		if err != nil {
			return nil, "", err
		}
		log.Info().Str("path", cfg.Tracker.ReplayPath).Bool("loop", cfg.Tracker.Loop).Msg("replaying session")
		return t, config.ModeReplay, nil
	}

	t := tracker.NewProcessTracker(tracker.Config{
		Command:      cfg.Tracker.Command,
		EngineConfig: cfg.Tracker.EngineConfig,
	})
	if err := t.Start(); err != nil {
		return nil, "", err
	}
	log.Info().Strs("command", cfg.Tracker.Command).Msg("tracking engine started")
	return t, config.ModeProcess, nil
}

func newInjector(cfg *config.Config, names input.KeyNames) (input.Injector, error) {
	switch cfg.Input.Injector {
	case config.InjectorNone:
		log.Info().Msg("dry run: key transitions are only logged")
		return input.LogInjector{}, nil

	case config.InjectorPlugin:
		mgr := plugin.NewManager(cfg.Input.PluginDir)
		if err := mgr.Discover(); err != nil {
			return nil, err
		}
		var p *plugin.Plugin
		var err error
		if cfg.Input.Plugin == "" {
			p, err = mgr.FindAction(plugin.ActionKeyDown, plugin.ActionKeyUp)
		} else {
			p, err = mgr.Get(cfg.Input.Plugin)
		}
		if err != nil {
			return nil, fmt.Errorf("plugin %q in %s: %w", cfg.Input.Plugin, mgr.PluginDir(), err)
		}
		if !p.Manifest.Supports(plugin.ActionKeyDown) || !p.Manifest.Supports(plugin.ActionKeyUp) {
			return nil, fmt.Errorf("plugin %q does not support %s and %s", p.Manifest.Name, plugin.ActionKeyDown, plugin.ActionKeyUp)
		}
		pluginConfig, err := cfg.PluginConfigJSON()
		if err != nil {
			return nil, err
		}
		log.Info().Str("plugin", p.Manifest.Name).Msg("injecting keys through plugin")
		return input.NewPluginInjector(plugin.NewExecutor(cfg.Input.TimeoutMs), p, pluginConfig, names), nil
	}

	return input.NewRobotInjector(names), nil
}

func openBrowser(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("failed to open browser")
	}
}
