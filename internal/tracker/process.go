package tracker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ProcessTracker implements Tracker on top of an engine bridge subprocess.
// Requests and responses are newline-delimited JSON over stdin/stdout.
type ProcessTracker struct {
	config  Config
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	mu      sync.Mutex
	started bool
	hello   hello
}

// hello is the first line the bridge writes after startup.
type hello struct {
	NeedsPose       bool   `json:"needs_pose"`
	CalibrationPose string `json:"calibration_pose"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
}

type request struct {
	Op    string `json:"op"`
	User  int    `json:"user,omitempty"`
	Pose  string `json:"pose,omitempty"`
	Force bool   `json:"force,omitempty"`
}

type response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Frame *Frame `json:"frame,omitempty"`
}

// NewProcessTracker creates a tracker for the given bridge configuration.
// The bridge is not started until Start is called.
func NewProcessTracker(config Config) *ProcessTracker {
	return &ProcessTracker{config: config}
}

// Start launches the bridge and waits for its hello line.
// Any failure is reported as ErrEngineInit.
func (t *ProcessTracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}
	if len(t.config.Command) == 0 {
		return fmt.Errorf("%w: no bridge command configured", ErrEngineInit)
	}

	args := append([]string{}, t.config.Command[1:]...)
	if t.config.EngineConfig != "" {
		args = append(args, "--config", t.config.EngineConfig)
	}
	t.cmd = exec.Command(t.config.Command[0], args...)

	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: create stdin pipe: %v", ErrEngineInit, err)
	}

	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: create stdout pipe: %v", ErrEngineInit, err)
	}

	t.cmd.Stderr = bridgeLog{}

	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("%w: start bridge: %v", ErrEngineInit, err)
	}

	t.stdin = stdin
	t.stdout = bufio.NewReader(stdout)

	line, err := t.stdout.ReadBytes('\n')
	if err != nil {
		t.kill()
		return fmt.Errorf("%w: read hello: %v", ErrEngineInit, err)
	}
	if err := json.Unmarshal(line, &t.hello); err != nil {
		t.kill()
		return fmt.Errorf("%w: parse hello: %v", ErrEngineInit, err)
	}

	t.started = true
	return nil
}

// Update asks the bridge for the next frame.
func (t *ProcessTracker) Update(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	resp, err := t.roundTrip(request{Op: "frame"})
	if err != nil {
		return nil, err
	}
	if resp.Frame == nil {
		return nil, errors.New("bridge returned no frame")
	}
	if resp.Frame.Width == 0 {
		resp.Frame.Width = t.hello.Width
	}
	if resp.Frame.Height == 0 {
		resp.Frame.Height = t.hello.Height
	}
	return resp.Frame, nil
}

// NeedsPoseForCalibration reports what the bridge announced at startup.
func (t *ProcessTracker) NeedsPoseForCalibration() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hello.NeedsPose
}

// CalibrationPose returns the calibration pose announced at startup.
func (t *ProcessTracker) CalibrationPose() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hello.CalibrationPose
}

func (t *ProcessTracker) StartPoseDetection(pose string, user int) error {
	return t.command(request{Op: "start_pose_detection", User: user, Pose: pose})
}

func (t *ProcessTracker) StopPoseDetection(user int) error {
	return t.command(request{Op: "stop_pose_detection", User: user})
}

func (t *ProcessTracker) RequestCalibration(user int, force bool) error {
	return t.command(request{Op: "request_calibration", User: user, Force: force})
}

func (t *ProcessTracker) StartTracking(user int) error {
	return t.command(request{Op: "start_tracking", User: user})
}

// Close shuts down the bridge process.
func (t *ProcessTracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return nil
	}

	if t.stdin != nil {
		t.stdin.Close()
	}

	err := t.cmd.Wait()
	t.started = false
	t.cmd = nil
	t.stdin = nil
	t.stdout = nil

	return err
}

func (t *ProcessTracker) command(req request) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	resp, err := t.roundTrip(req)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s user %d: bridge did not acknowledge", req.Op, req.User)
	}
	return nil
}

// roundTrip writes one request line and reads one response line.
// Callers must hold t.mu.
func (t *ProcessTracker) roundTrip(req request) (*response, error) {
	if !t.started {
		return nil, fmt.Errorf("%w: bridge not started", ErrEngineStopped)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	data = append(data, '\n')

	if _, err := t.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("%w: write request: %v", ErrEngineStopped, err)
	}

	line, err := t.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrEngineStopped, err)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s: %s", req.Op, resp.Error)
	}
	return &resp, nil
}

func (t *ProcessTracker) kill() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
		t.cmd.Wait()
	}
	t.cmd = nil
	t.stdin = nil
	t.stdout = nil
}

// bridgeLog logs each line the bridge writes to stderr.
type bridgeLog struct{}

func (bridgeLog) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			log.Warn().Str("source", "bridge").Msg(line)
		}
	}
	return len(p), nil
}
