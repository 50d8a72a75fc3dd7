package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/ayusman/kinectkart/internal/app"
	"github.com/ayusman/kinectkart/internal/input"
	"github.com/ayusman/kinectkart/internal/overlay"
	"github.com/ayusman/kinectkart/internal/server"
	"github.com/ayusman/kinectkart/internal/store"
	"github.com/ayusman/kinectkart/internal/telemetry"
	"github.com/ayusman/kinectkart/internal/tracker"
)

const fixture = "testdata/lean_session.jsonl"

func TestE2E_ReplaySession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	tmpDir := t.TempDir()

	s, err := store.New(filepath.Join(tmpDir, "journal.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	replay, err := tracker.OpenReplay(fixture, false)
	if err != nil {
		t.Fatalf("OpenReplay() error = %v", err)
	}

	recordPath := filepath.Join(tmpDir, "session.jsonl.zst")
	rec, err := tracker.NewRecorder(recordPath)
	if err != nil {
		t.Fatalf("NewRecorder() error = %v", err)
	}

	hub := telemetry.NewHub()
	inj := input.NewRecordingInjector()
	application := app.New(app.Config{
		Tracker:           replay,
		Injector:          inj,
		Renderer:          overlay.NewHeadless(hub),
		Store:             s,
		Hub:               hub,
		Recorder:          rec,
		Source:            "replay",
		RequireConfidence: true,
	})

	t.Run("Run", func(t *testing.T) {
		if err := application.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if err := rec.Close(); err != nil {
			t.Fatalf("Recorder.Close() error = %v", err)
		}
	})

	t.Run("KeyTransitions", func(t *testing.T) {
		want := []input.Transition{
			input.Press(input.Right), input.Press(input.Z),
			input.Release(input.Right),
			input.Press(input.Left), input.Release(input.Z), input.Press(input.A),
			input.Release(input.Left), input.Release(input.A),
		}
		if got := inj.Calls(); !reflect.DeepEqual(got, want) {
			t.Errorf("calls = %v\nwant    %v", got, want)
		}
	})

	t.Run("Recording", func(t *testing.T) {
		original, err := tracker.OpenReplay(fixture, false)
		if err != nil {
			t.Fatalf("OpenReplay() error = %v", err)
		}
		recorded, err := tracker.OpenReplay(recordPath, false)
		if err != nil {
			t.Fatalf("OpenReplay(recording) error = %v", err)
		}

		ctx := context.Background()
		for i := 0; ; i++ {
			want, wantErr := original.Update(ctx)
			got, gotErr := recorded.Update(ctx)
			if wantErr != nil || gotErr != nil {
				if wantErr == nil || gotErr == nil {
					t.Fatalf("frame %d: errors differ: %v vs %v", i, wantErr, gotErr)
				}
				break
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("frame %d differs after recording", i)
			}
		}
	})

	srv := server.New(server.Config{Store: s, Hub: hub})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := ts.Client()

	t.Run("SessionJournal", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/sessions/" + application.SessionID() + "/events")
		if err != nil {
			t.Fatalf("get events error = %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var body struct {
			Events []store.Event `json:"events"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode error = %v", err)
		}

		var presses, releases int
		for _, e := range body.Events {
			switch e.Kind {
			case store.KindPress:
				presses++
			case store.KindRelease:
				releases++
			}
		}
		if presses != 4 || releases != 4 {
			t.Errorf("journal has %d presses and %d releases, want 4 and 4", presses, releases)
		}

		sess, err := s.Sessions().GetByID(application.SessionID())
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if sess.Frames != 7 || sess.EndedAt == nil {
			t.Errorf("session = %+v", sess)
		}
	})

	t.Run("State", func(t *testing.T) {
		resp, err := client.Get(ts.URL + "/api/state")
		if err != nil {
			t.Fatalf("get state error = %v", err)
		}
		defer resp.Body.Close()

		var snap telemetry.Snapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			t.Fatalf("decode error = %v", err)
		}
		if snap.Active != 0 || snap.Input.Any() || len(snap.Subjects) != 0 {
			t.Errorf("final snapshot = %+v", snap)
		}
	})
}
