package app

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ayusman/kinectkart/internal/input"
	"github.com/ayusman/kinectkart/internal/overlay"
	"github.com/ayusman/kinectkart/internal/store"
	"github.com/ayusman/kinectkart/internal/telemetry"
	"github.com/ayusman/kinectkart/internal/tracker"
)

func p(x, y float64) tracker.Point3D {
	return tracker.Point3D{X: x, Y: y, Z: 2000}
}

// leanRight has the right hand 50 below the left and the left foot raised.
func leanRight(user int) tracker.Frame {
	return tracker.PoseFrame(user, p(200, 200), p(300, 250), p(250, 420), p(350, 400))
}

// leanLeft mirrors leanRight.
func leanLeft(user int) tracker.Frame {
	return tracker.PoseFrame(user, p(200, 250), p(300, 200), p(250, 400), p(350, 420))
}

func level(user int) tracker.Frame {
	return tracker.PoseFrame(user, p(200, 200), p(300, 200), p(250, 400), p(350, 400))
}

func withEvents(f tracker.Frame, events ...tracker.Event) tracker.Frame {
	f.Events = events
	return f
}

func calibrated(user int) []tracker.Frame {
	return []tracker.Frame{
		withEvents(level(user), tracker.Event{Type: tracker.EventNewUser, User: user}),
		withEvents(level(user), tracker.Event{Type: tracker.EventCalibrationComplete, User: user, Status: tracker.CalibrationOK}),
	}
}

type fakeRenderer struct {
	views   []*overlay.View
	closeAt int
	err     error
}

func (r *fakeRenderer) Render(v *overlay.View) error {
	r.views = append(r.views, v)
	if r.closeAt > 0 && len(r.views) >= r.closeAt {
		return overlay.ErrClosed
	}
	return r.err
}

func (r *fakeRenderer) Close() error { return nil }

func runAll(t *testing.T, a *App) {
	t.Helper()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestApp_LeanSession(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.Push(calibrated(1)...)
	mt.Push(leanRight(1), leanRight(1), level(1), leanLeft(1))
	mt.Push(withEvents(tracker.Frame{}, tracker.Event{Type: tracker.EventLostUser, User: 1}))

	inj := input.NewRecordingInjector()
	a := New(Config{Tracker: mt, Injector: inj, RequireConfidence: true})
	runAll(t, a)

	want := []input.Transition{
		input.Press(input.Right), input.Press(input.Z),
		input.Release(input.Right),
		input.Press(input.Left), input.Release(input.Z), input.Press(input.A),
		input.Release(input.Left), input.Release(input.A),
	}
	if got := inj.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v\nwant    %v", got, want)
	}
	if a.State().Any() {
		t.Errorf("state after run = %v, want empty", a.State())
	}
	if a.Frames() != 7 {
		t.Errorf("Frames() = %d, want 7", a.Frames())
	}

	wantCmds := []string{"request_calibration(1)", "start_tracking(1)"}
	if got := mt.Commands(); !reflect.DeepEqual(got, wantCmds) {
		t.Errorf("commands = %v, want %v", got, wantCmds)
	}
}

func TestApp_PoseDetectionFlow(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.SetNeedsPose(true)
	mt.Push(
		withEvents(tracker.Frame{}, tracker.Event{Type: tracker.EventNewUser, User: 2}),
		withEvents(tracker.Frame{}, tracker.Event{Type: tracker.EventPoseDetected, User: 2, Pose: "Psi"}),
		withEvents(tracker.Frame{}, tracker.Event{Type: tracker.EventCalibrationComplete, User: 2, Status: tracker.CalibrationFailed}),
	)

	a := New(Config{Tracker: mt})
	runAll(t, a)

	want := []string{
		"start_pose_detection(Psi,2)",
		"stop_pose_detection(2)",
		"request_calibration(2)",
		"start_pose_detection(Psi,2)",
	}
	if got := mt.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
}

func TestApp_CommandFailureDoesNotStopLoop(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.SetCommandError(errors.New("engine busy"))
	mt.Push(calibrated(1)...)
	mt.Push(leanRight(1))

	inj := input.NewRecordingInjector()
	a := New(Config{Tracker: mt, Injector: inj})
	runAll(t, a)

	// The machine still believes calibration succeeded and steers.
	if len(inj.Calls()) == 0 {
		t.Error("expected key transitions after failed engine commands")
	}
}

func TestApp_ActiveSubjectIsLowestID(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.Push(calibrated(3)...)
	mt.Push(calibrated(1)...)

	both := leanRight(1)
	both.Users = append(both.Users, leanLeft(3).Users...)
	mt.Push(both)

	inj := input.NewRecordingInjector()
	hub := telemetry.NewHub()
	a := New(Config{Tracker: mt, Injector: inj, Hub: hub})

	for i := 0; i < 5; i++ {
		if err := a.Step(context.Background()); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}

	want := []input.Transition{input.Press(input.Right), input.Press(input.Z)}
	if got := inj.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}

	snap, ok := hub.Latest()
	if !ok {
		t.Fatal("expected a snapshot")
	}
	if snap.Active != 1 {
		t.Errorf("Active = %d, want 1", snap.Active)
	}
	if snap.Features == nil || snap.Direction != "turn right" || snap.Status != "turn right" {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Subjects) != 2 || snap.Subjects[0].Label != "1 - Tracking" {
		t.Errorf("subjects = %+v", snap.Subjects)
	}
}

func TestApp_ActiveSubjectDisappearsFromFrame(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.Push(calibrated(1)...)
	mt.Push(leanRight(1), tracker.Frame{})

	inj := input.NewRecordingInjector()
	a := New(Config{Tracker: mt, Injector: inj})
	for i := 0; i < 4; i++ {
		if err := a.Step(context.Background()); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}

	if a.State().Any() {
		t.Errorf("keys still held: %v", a.State())
	}
}

func TestApp_SetEnabled(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.Push(calibrated(1)...)
	mt.Push(leanRight(1), leanRight(1), leanLeft(1))

	inj := input.NewRecordingInjector()
	a := New(Config{Tracker: mt, Injector: inj})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := a.Step(ctx); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}
	if !a.State().Right {
		t.Fatalf("expected RIGHT held, got %v", a.State())
	}

	a.SetEnabled(false)
	if err := a.Step(ctx); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if a.State().Any() {
		t.Errorf("disabled steering should release keys, got %v", a.State())
	}
	if a.Status() != "Paused" {
		t.Errorf("Status() = %q, want Paused", a.Status())
	}

	inj.Reset()
	if err := a.Step(ctx); err != nil {
		t.Fatalf("Step() error = %v", err)
	}
	if len(inj.Calls()) != 0 {
		t.Errorf("no keys should be sent while disabled, got %v", inj.Calls())
	}
}

type rebindingInjector struct {
	*input.RecordingInjector
	names []input.KeyNames
}

func (r *rebindingInjector) Rebind(names input.KeyNames) {
	r.names = append(r.names, names)
}

func TestApp_Reload(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.Push(calibrated(1)...)
	mt.Push(leanRight(1), leanRight(1))

	inj := &rebindingInjector{RecordingInjector: input.NewRecordingInjector()}
	a := New(Config{Tracker: mt, Injector: inj})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := a.Step(ctx); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}

	a.Reload(input.KeyNames{input.Right: "d"})
	a.Reload(input.KeyNames{input.Right: "l"})
	inj.Reset()

	if err := a.Step(ctx); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	if len(inj.names) != 1 || inj.names[0][input.Right] != "l" {
		t.Errorf("rebinds = %v, want only the latest bindings", inj.names)
	}
	want := []input.Transition{
		input.Release(input.Right), input.Release(input.Z),
		input.Press(input.Right), input.Press(input.Z),
	}
	if got := inj.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestApp_InjectionFailure(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.Push(calibrated(1)...)
	mt.Push(leanRight(1), leanRight(1))

	inj := input.NewRecordingInjector()
	inj.FailOn(input.Right, errors.New("no display"))
	a := New(Config{Tracker: mt, Injector: inj})
	runAll(t, a)

	// Z still went through, RIGHT was retried on the next frame and failed again.
	want := []input.Transition{input.Press(input.Z), input.Release(input.Z)}
	if got := inj.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestApp_UntrackedJointSkipsFrame(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.Push(calibrated(1)...)
	f := leanRight(1)
	f.Users[0].Joints[tracker.RightHand] = tracker.JointSample{Position: p(300, 250), Confidence: 0}
	mt.Push(f)

	inj := input.NewRecordingInjector()
	a := New(Config{Tracker: mt, Injector: inj, RequireConfidence: true})
	runAll(t, a)

	if len(inj.Calls()) != 0 {
		t.Errorf("expected no transitions, got %v", inj.Calls())
	}
}

func TestApp_Journal(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	mt := tracker.NewMockTracker()
	mt.Push(calibrated(1)...)
	mt.Push(leanRight(1))

	a := New(Config{Tracker: mt, Injector: input.NewRecordingInjector(), Store: st, Source: "replay"})
	runAll(t, a)

	sess, err := st.Sessions().GetByID(a.SessionID())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if sess.Source != "replay" || sess.Frames != 3 || sess.EndedAt == nil {
		t.Errorf("session = %+v", sess)
	}

	events, err := st.Events().ListBySession(sess.ID)
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	var got []string
	for _, e := range events {
		got = append(got, e.Kind+":"+e.Detail)
	}
	want := []string{
		"new_user:",
		"calibration_complete:ok",
		"press:RIGHT",
		"press:Z",
		"release:RIGHT",
		"release:Z",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("journal = %v, want %v", got, want)
	}
}

func TestApp_Renderer(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.Push(calibrated(1)...)
	mt.Push(leanRight(1), leanRight(1), leanRight(1))

	r := &fakeRenderer{closeAt: 3}
	inj := input.NewRecordingInjector()
	a := New(Config{Tracker: mt, Injector: inj, Renderer: r})
	runAll(t, a)

	if len(r.views) != 3 {
		t.Fatalf("rendered %d views, want 3", len(r.views))
	}
	last := r.views[2]
	if last.Status != "turn right" || len(last.Subjects) != 1 || !last.Subjects[0].Tracking {
		t.Errorf("view = %+v", last)
	}
	if a.State().Any() {
		t.Error("closing the overlay should release keys")
	}

	r = &fakeRenderer{err: errors.New("draw failed")}
	mt.Push(level(1))
	a = New(Config{Tracker: mt, Renderer: r})
	if err := a.Step(context.Background()); err != nil {
		t.Errorf("render errors should be logged, got %v", err)
	}
}

func TestApp_TrackerErrors(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.SetError(tracker.ErrEngineStopped)

	a := New(Config{Tracker: mt})
	if err := a.Run(context.Background()); !errors.Is(err, tracker.ErrEngineStopped) {
		t.Errorf("Run() error = %v, want ErrEngineStopped", err)
	}

	if err := New(Config{}).Run(context.Background()); !errors.Is(err, ErrNoTracker) {
		t.Errorf("Run() without tracker = %v, want ErrNoTracker", err)
	}
}

func TestApp_ContextCancelled(t *testing.T) {
	mt := tracker.NewMockTracker()
	mt.Push(calibrated(1)...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(Config{Tracker: mt})
	if err := a.Run(ctx); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if a.Frames() != 0 {
		t.Errorf("Frames() = %d, want 0", a.Frames())
	}
}

func TestApp_AccessorsDuringRun(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	mt := tracker.NewMockTracker()
	mt.Push(calibrated(1)...)
	for i := 0; i < 50; i++ {
		mt.Push(leanRight(1), leanLeft(1))
	}

	a := New(Config{Tracker: mt, Injector: input.NewRecordingInjector(), Store: st})

	done := make(chan struct{})
	polled := make(chan int)
	go func() {
		n := 0
		for {
			select {
			case <-done:
				polled <- n
				return
			default:
				_ = a.SessionID()
				if a.Frames() > 0 {
					n++
				}
			}
		}
	}()

	runAll(t, a)
	close(done)
	<-polled

	if a.Frames() != 102 {
		t.Errorf("Frames() = %d, want 102", a.Frames())
	}
	if a.SessionID() == "" {
		t.Error("expected a session id")
	}
}
