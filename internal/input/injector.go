package input

import (
	"fmt"
	"sync"

	"github.com/go-vgo/robotgo"
	"github.com/rs/zerolog/log"
)

// Rebinder is implemented by injectors whose key names can change at runtime.
type Rebinder interface {
	Rebind(names KeyNames)
}

// RobotInjector toggles OS keys directly through robotgo.
type RobotInjector struct {
	names KeyNames
	mu    sync.RWMutex
}

// NewRobotInjector creates an injector with the given key bindings.
func NewRobotInjector(names KeyNames) *RobotInjector {
	return &RobotInjector{names: names}
}

func (r *RobotInjector) Press(k Key) error {
	return r.toggle(k, "down")
}

func (r *RobotInjector) Release(k Key) error {
	return r.toggle(k, "up")
}

// Rebind replaces the key bindings.
func (r *RobotInjector) Rebind(names KeyNames) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = names
}

func (r *RobotInjector) toggle(k Key, dir string) error {
	r.mu.RLock()
	name := r.names.Name(k)
	r.mu.RUnlock()

	if err := robotgo.KeyToggle(name, dir); err != nil {
		return fmt.Errorf("robotgo key %s %s: %w", name, dir, err)
	}
	return nil
}

// LogInjector only logs transitions. Used for dry runs.
type LogInjector struct{}

func (LogInjector) Press(k Key) error {
	log.Info().Stringer("key", k).Msg("press (dry run)")
	return nil
}

func (LogInjector) Release(k Key) error {
	log.Info().Stringer("key", k).Msg("release (dry run)")
	return nil
}

// RecordingInjector is a test implementation of Injector.
// It records every successful call and fails calls for chosen keys.
type RecordingInjector struct {
	calls []Transition
	fail  map[Key]error
	mu    sync.Mutex
}

// NewRecordingInjector creates a new RecordingInjector instance.
func NewRecordingInjector() *RecordingInjector {
	return &RecordingInjector{fail: make(map[Key]error)}
}

// FailOn makes every call for k return err. A nil err clears the failure.
func (r *RecordingInjector) FailOn(k Key, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, k)
		return
	}
	r.fail[k] = err
}

// Calls returns the transitions received so far.
func (r *RecordingInjector) Calls() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition(nil), r.calls...)
}

// Reset forgets recorded calls.
func (r *RecordingInjector) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *RecordingInjector) Press(k Key) error {
	return r.record(Press(k))
}

func (r *RecordingInjector) Release(k Key) error {
	return r.record(Release(k))
}

func (r *RecordingInjector) record(t Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail[t.Key]; err != nil {
		return err
	}
	r.calls = append(r.calls, t)
	return nil
}
