package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/kinectkart/internal/input"
	"github.com/ayusman/kinectkart/internal/overlay"
	"github.com/ayusman/kinectkart/internal/pose"
	"github.com/ayusman/kinectkart/internal/store"
	"github.com/ayusman/kinectkart/internal/telemetry"
	"github.com/ayusman/kinectkart/internal/tracker"
)

// Run drives the frame loop until ctx is cancelled, the overlay is closed
// or a replay ends. Every held key is released before Run returns.
// Losing the engine is returned as an error.
//
// Each iteration, in order:
// 1. Pick up reloaded key bindings
// 2. Poll the tracker and record the frame
// 3. Advance subject lifecycles and dispatch engine commands
// 4. Refresh joints of tracked subjects
// 5. Extract features for the active subject and update keys
// 6. Publish telemetry and render the overlay
func (a *App) Run(ctx context.Context) error {
	if a.config.Tracker == nil {
		return ErrNoTracker
	}

	if err := a.startSession(); err != nil {
		return err
	}
	defer a.shutdown()

	log.Info().Str("source", a.config.Source).Str("session", a.session).Msg("frame loop started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := a.Step(ctx)
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			log.Info().Int("frames", a.frames).Msg("replay finished")
			return nil
		case errors.Is(err, overlay.ErrClosed):
			log.Info().Msg("overlay closed")
			return nil
		case ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

// Step runs one iteration of the frame loop. Per-frame problems are logged;
// only tracker and renderer failures that end the loop are returned.
func (a *App) Step(ctx context.Context) error {
	if a.config.Tracker == nil {
		return ErrNoTracker
	}

	var journal []*store.Event

	select {
	case names := <-a.reload:
		journal = append(journal, a.releaseAll("bindings reloaded")...)
		if r, ok := a.config.Injector.(input.Rebinder); ok {
			r.Rebind(names)
		}
		log.Info().Msg("key bindings reloaded")
	default:
	}

	frame, err := a.config.Tracker.Update(ctx)
	if err != nil {
		a.writeJournal(journal)
		return err
	}
	a.mu.Lock()
	a.frames++
	a.mu.Unlock()

	if a.config.Recorder != nil {
		if err := a.config.Recorder.Write(frame); err != nil {
			log.Warn().Err(err).Msg("failed to record frame")
		}
	}

	journal = append(journal, a.handleEvents(frame)...)
	a.refreshSubjects(frame)

	var features *pose.Features
	active := a.activeSubject()
	if a.active != 0 && active != a.active {
		journal = append(journal, a.releaseAll("active subject lost")...)
	}
	a.active = active

	enabled := a.IsEnabled()
	if !enabled && a.state.Any() {
		journal = append(journal, a.releaseAll("steering disabled")...)
	}

	var transitions []input.Transition
	if active != 0 {
		f, err := a.extractor.Extract(a.subjects[active])
		if err != nil {
			log.Debug().Err(err).Int("user", active).Msg("skipping frame")
		} else {
			features = &f
			if enabled {
				var events []*store.Event
				transitions, events = a.update(f)
				journal = append(journal, events...)
			}
		}
	}

	status := statusLine(features, enabled)
	a.writeJournal(journal)

	a.mu.Lock()
	a.published = a.state
	a.status = status
	a.mu.Unlock()

	if a.config.Hub != nil {
		a.config.Hub.Publish(a.snapshot(frame, features, transitions, enabled, status))
	}

	if a.config.Renderer != nil {
		if err := a.config.Renderer.Render(a.view(frame, status)); err != nil {
			if errors.Is(err, overlay.ErrClosed) {
				return err
			}
			log.Warn().Err(err).Msg("failed to render overlay")
		}
	}

	return nil
}

// handleEvents advances lifecycles and dispatches the resulting commands.
func (a *App) handleEvents(frame *tracker.Frame) []*store.Event {
	var journal []*store.Event

	for _, ev := range frame.Events {
		log.Info().Str("event", string(ev.Type)).Int("user", ev.User).Str("status", string(ev.Status)).Msg("tracker event")

		for _, cmd := range a.machine.Handle(ev) {
			if err := cmd.Dispatch(a.config.Tracker); err != nil {
				log.Error().Err(err).Str("command", string(cmd.Kind)).Int("user", cmd.User).Msg("engine command failed")
			}
		}

		switch {
		case ev.Type == tracker.EventLostUser:
			delete(a.subjects, ev.User)
		case ev.Type == tracker.EventCalibrationComplete && ev.Status == tracker.CalibrationOK:
			a.subjects[ev.User] = tracker.Joints{}
		}

		detail := ev.Pose
		if ev.Status != "" {
			detail = string(ev.Status)
		}
		journal = append(journal, &store.Event{
			SessionID: a.session,
			Kind:      string(ev.Type),
			UserID:    ev.User,
			Detail:    detail,
		})
	}

	return journal
}

// refreshSubjects re-reads the joints of every tracked subject. A subject
// missing from this frame is dropped until it reappears.
func (a *App) refreshSubjects(frame *tracker.Frame) {
	for _, id := range a.machine.TrackingIDs() {
		joints, err := frame.Snapshot(id)
		if err != nil {
			if _, ok := a.subjects[id]; ok {
				log.Debug().Err(err).Int("user", id).Msg("tracked subject missing from frame")
			}
			delete(a.subjects, id)
			continue
		}
		a.subjects[id] = joints
	}
}

// activeSubject is the lowest tracked subject id, 0 when nobody is tracked.
func (a *App) activeSubject() int {
	for _, id := range a.machine.TrackingIDs() {
		if _, ok := a.subjects[id]; ok {
			return id
		}
	}
	return 0
}

// update maps features to keys and applies the transitions.
func (a *App) update(f pose.Features) ([]input.Transition, []*store.Event) {
	_, ts := input.Next(a.state, f)
	if len(ts) == 0 {
		return nil, nil
	}
	return ts, a.apply(ts)
}

// releaseAll releases every held key.
func (a *App) releaseAll(reason string) []*store.Event {
	_, ts := input.ReleaseAll(a.state)
	if len(ts) == 0 {
		return nil
	}
	log.Info().Str("reason", reason).Stringer("keys", a.state).Msg("releasing keys")
	return a.apply(ts)
}

// apply sends transitions to the injector and journals what reached the OS.
func (a *App) apply(ts []input.Transition) []*store.Event {
	before := a.state
	after, err := input.Apply(a.config.Injector, before, ts)
	a.state = after

	var journal []*store.Event
	for _, t := range ts {
		if before.Held(t.Key) == t.Press || after.Held(t.Key) != t.Press {
			continue
		}
		log.Debug().Stringer("transition", t).Msg("key")
		kind := store.KindRelease
		if t.Press {
			kind = store.KindPress
		}
		journal = append(journal, &store.Event{
			SessionID: a.session,
			Kind:      kind,
			UserID:    a.active,
			Detail:    t.Key.String(),
		})
	}

	if err != nil {
		log.Error().Err(err).Msg("key injection failed")
		journal = append(journal, &store.Event{
			SessionID: a.session,
			Kind:      store.KindInjectionError,
			UserID:    a.active,
			Detail:    err.Error(),
		})
	}
	return journal
}

func (a *App) startSession() error {
	if a.config.Store == nil {
		return nil
	}
	sess := &store.Session{ID: uuid.New().String(), Source: a.config.Source}
	if err := a.config.Store.Sessions().Create(sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	a.mu.Lock()
	a.session = sess.ID
	a.mu.Unlock()
	return nil
}

func (a *App) shutdown() {
	a.writeJournal(a.releaseAll("stopping"))

	a.mu.Lock()
	a.published = a.state
	a.mu.Unlock()

	if a.config.Store != nil && a.session != "" {
		if err := a.config.Store.Sessions().End(a.session, a.frames); err != nil {
			log.Warn().Err(err).Msg("failed to end session")
		}
	}
	log.Info().Int("frames", a.frames).Msg("frame loop stopped")
}

func (a *App) writeJournal(events []*store.Event) {
	if a.config.Store == nil || a.session == "" || len(events) == 0 {
		return
	}
	if err := a.config.Store.Events().CreateBatch(events); err != nil {
		log.Warn().Err(err).Msg("failed to journal events")
	}
}

func statusLine(f *pose.Features, enabled bool) string {
	if !enabled {
		return "Paused"
	}
	if f == nil {
		return ""
	}
	return pose.Direction(f.LeanAngle)
}

func (a *App) snapshot(frame *tracker.Frame, f *pose.Features, ts []input.Transition, enabled bool, status string) telemetry.Snapshot {
	s := telemetry.Snapshot{
		Timestamp:   frame.Timestamp,
		Session:     a.session,
		Active:      a.active,
		Features:    f,
		Input:       a.state,
		Transitions: ts,
		Enabled:     enabled,
		Status:      status,
	}
	if f != nil {
		s.Direction = pose.Direction(f.LeanAngle)
	}
	if s.Timestamp == 0 {
		s.Timestamp = time.Now().UnixMilli()
	}
	for _, u := range frame.Users {
		s.Subjects = append(s.Subjects, telemetry.Subject{
			ID:           u.ID,
			Label:        a.machine.Label(u.ID),
			Tracking:     a.machine.Tracking(u.ID),
			CenterOfMass: u.CenterOfMass,
		})
	}
	return s
}

func (a *App) view(frame *tracker.Frame, status string) *overlay.View {
	v := &overlay.View{
		Width:  frame.Width,
		Height: frame.Height,
		Depth:  frame.Depth,
		Status: status,
	}
	for _, u := range frame.Users {
		v.Subjects = append(v.Subjects, overlay.Subject{
			ID:           u.ID,
			Label:        a.machine.Label(u.ID),
			CenterOfMass: u.CenterOfMass,
			Joints:       a.subjects[u.ID],
			Tracking:     a.machine.Tracking(u.ID),
		})
	}
	return v
}
