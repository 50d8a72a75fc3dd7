package tracker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// maxLine bounds a single recorded frame, depth image included.
const maxLine = 16 << 20

// ReplayTracker plays back a session written by a Recorder.
// Lifecycle commands are accepted and ignored since the recorded
// events already carry the engine's reactions.
type ReplayTracker struct {
	frames []Frame
	index  int
	loop   bool
	mu     sync.Mutex
}

// NewReplayTracker creates a tracker that returns the given frames in order.
func NewReplayTracker(frames []Frame, loop bool) *ReplayTracker {
	return &ReplayTracker{
		frames: frames,
		loop:   loop,
	}
}

// OpenReplay loads a recorded session from disk.
// Files ending in .zst are zstd-compressed.
func OpenReplay(path string, loop bool) (*ReplayTracker, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	frames, err := ReadFrames(r)
	if err != nil {
		return nil, fmt.Errorf("read replay %s: %w", path, err)
	}
	return NewReplayTracker(frames, loop), nil
}

// ReadFrames decodes JSON-lines frames until EOF. Blank lines are skipped.
func ReadFrames(r io.Reader) ([]Frame, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var frames []Frame
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		frames = append(frames, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// Update returns the next recorded frame, or io.EOF once exhausted.
func (t *ReplayTracker) Update(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.frames) == 0 {
		return nil, io.EOF
	}

	if t.index >= len(t.frames) {
		if !t.loop {
			return nil, io.EOF
		}
		t.index = 0
	}

	f := t.frames[t.index]
	t.index++
	return &f, nil
}

func (t *ReplayTracker) NeedsPoseForCalibration() bool { return false }

func (t *ReplayTracker) CalibrationPose() string { return "" }

func (t *ReplayTracker) StartPoseDetection(pose string, user int) error { return nil }

func (t *ReplayTracker) StopPoseDetection(user int) error { return nil }

func (t *ReplayTracker) RequestCalibration(user int, force bool) error { return nil }

func (t *ReplayTracker) StartTracking(user int) error { return nil }

func (t *ReplayTracker) Close() error { return nil }

// Recorder writes polled frames as JSON lines for later replay.
type Recorder struct {
	file *os.File
	zw   *zstd.Encoder
	w    *bufio.Writer
	enc  *json.Encoder
}

// NewRecorder creates or truncates the file at path.
// Paths ending in .zst are written zstd-compressed.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	rec := &Recorder{file: f}
	var w io.Writer = f
	if strings.HasSuffix(path, ".zst") {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		rec.zw = zw
		w = zw
	}
	rec.w = bufio.NewWriter(w)
	rec.enc = json.NewEncoder(rec.w)
	return rec, nil
}

// Write appends a frame to the recording.
func (r *Recorder) Write(f *Frame) error {
	return r.enc.Encode(f)
}

// Close flushes buffered frames and closes the file.
func (r *Recorder) Close() error {
	err := r.w.Flush()
	if r.zw != nil {
		if zerr := r.zw.Close(); err == nil {
			err = zerr
		}
	}
	if ferr := r.file.Close(); err == nil {
		err = ferr
	}
	return err
}
