// Package app runs the kinectkart frame loop: poll the tracking engine, follow
// each subject's lifecycle, map the active player's pose to keys and draw the
// overlay.
package app

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/kinectkart/internal/input"
	"github.com/ayusman/kinectkart/internal/lifecycle"
	"github.com/ayusman/kinectkart/internal/overlay"
	"github.com/ayusman/kinectkart/internal/pose"
	"github.com/ayusman/kinectkart/internal/store"
	"github.com/ayusman/kinectkart/internal/telemetry"
	"github.com/ayusman/kinectkart/internal/tracker"
)

// ErrNoTracker is returned by Run when the app has no tracking engine.
var ErrNoTracker = errors.New("no tracker configured")

// FrameRecorder persists polled frames.
type FrameRecorder interface {
	Write(f *tracker.Frame) error
}

// Config holds configuration options for the application.
// Everything except Tracker is optional.
type Config struct {
	Tracker  tracker.Tracker
	Injector input.Injector
	Renderer overlay.Renderer
	Store    *store.Store
	Hub      *telemetry.Hub
	Recorder FrameRecorder
	// Source labels the journal session, e.g. "process" or "replay".
	Source            string
	RequireConfidence bool
}

// App is the frame loop and the state it owns.
type App struct {
	config    Config
	machine   *lifecycle.Machine
	extractor pose.Extractor

	// subjects holds the latest joints of every tracked subject.
	subjects map[int]tracker.Joints
	active   int
	state    input.State

	reload chan input.KeyNames

	mu        sync.RWMutex
	enabled   bool
	published input.State
	status    string
	frames    int
	session   string
}

// New creates a new App instance with the given configuration.
// A nil Injector falls back to logging transitions only.
func New(config Config) *App {
	if config.Injector == nil {
		config.Injector = input.LogInjector{}
	}
	if config.Source == "" {
		config.Source = "process"
	}

	a := &App{
		config:    config,
		extractor: pose.Extractor{RequireConfidence: config.RequireConfidence},
		subjects:  make(map[int]tracker.Joints),
		reload:    make(chan input.KeyNames, 1),
		enabled:   true,
	}
	if config.Tracker != nil {
		a.machine = lifecycle.New(config.Tracker.NeedsPoseForCalibration(), config.Tracker.CalibrationPose())
	}
	return a
}

// SetEnabled turns key injection on or off. Held keys are released on the
// next iteration after disabling.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled != enabled {
		log.Info().Bool("enabled", enabled).Msg("steering toggled")
	}
	a.enabled = enabled
}

// IsEnabled returns whether key injection is enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// Reload hands new key bindings to the loop. Only the most recent bindings
// are kept if the loop has not picked up the previous ones yet.
func (a *App) Reload(names input.KeyNames) {
	for {
		select {
		case a.reload <- names:
			return
		default:
		}
		select {
		case <-a.reload:
		default:
		}
	}
}

// State returns the keys held after the last iteration.
func (a *App) State() input.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.published
}

// Status returns the overlay status line of the last iteration.
func (a *App) Status() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// SessionID returns the journal session id, empty without a journal.
func (a *App) SessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

// Frames returns the number of frames processed.
func (a *App) Frames() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.frames
}
