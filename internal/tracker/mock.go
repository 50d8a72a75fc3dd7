package tracker

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MockTracker is a test implementation of the Tracker interface.
// It returns queued frames and records the lifecycle commands it receives.
type MockTracker struct {
	frames    []Frame
	err       error
	needsPose bool
	pose      string
	commands  []string
	cmdErr    error
	closed    bool
	mu        sync.Mutex
}

// NewMockTracker creates a new MockTracker instance.
func NewMockTracker() *MockTracker {
	return &MockTracker{pose: "Psi"}
}

// Push queues frames to be returned by Update.
func (m *MockTracker) Push(frames ...Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, frames...)
}

// SetError sets the error that will be returned by Update.
func (m *MockTracker) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetCommandError sets the error returned by every lifecycle command.
func (m *MockTracker) SetCommandError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmdErr = err
}

// SetNeedsPose controls whether calibration requires pose detection.
func (m *MockTracker) SetNeedsPose(needs bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.needsPose = needs
}

// Commands returns the lifecycle commands received so far.
func (m *MockTracker) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Closed reports whether Close was called.
func (m *MockTracker) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Update pops the next queued frame. It returns io.EOF when the queue is empty.
func (m *MockTracker) Update(ctx context.Context) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	if len(m.frames) == 0 {
		return nil, io.EOF
	}
	f := m.frames[0]
	m.frames = m.frames[1:]
	return &f, nil
}

func (m *MockTracker) NeedsPoseForCalibration() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needsPose
}

func (m *MockTracker) CalibrationPose() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pose
}

func (m *MockTracker) StartPoseDetection(pose string, user int) error {
	return m.record(fmt.Sprintf("start_pose_detection(%s,%d)", pose, user))
}

func (m *MockTracker) StopPoseDetection(user int) error {
	return m.record(fmt.Sprintf("stop_pose_detection(%d)", user))
}

func (m *MockTracker) RequestCalibration(user int, force bool) error {
	return m.record(fmt.Sprintf("request_calibration(%d)", user))
}

func (m *MockTracker) StartTracking(user int) error {
	return m.record(fmt.Sprintf("start_tracking(%d)", user))
}

// Close marks the tracker closed.
func (m *MockTracker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockTracker) record(cmd string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append(m.commands, cmd)
	return m.cmdErr
}

// PoseFrame builds a frame with one subject whose hands and feet sit at the
// given projective positions. Elbows and knees are placed above their hand
// or foot so the overlay has lines to draw.
func PoseFrame(user int, leftHand, rightHand, leftFoot, rightFoot Point3D) Frame {
	sample := func(p Point3D) JointSample {
		return JointSample{Position: p, Confidence: 1}
	}
	above := func(p Point3D, dy float64) Point3D {
		return Point3D{X: p.X, Y: p.Y - dy, Z: p.Z}
	}

	return Frame{
		Width:  640,
		Height: 480,
		Users: []User{{
			ID:           user,
			CenterOfMass: Point3D{X: (leftHand.X + rightHand.X) / 2, Y: 240, Z: 2000},
			Joints: Joints{
				LeftHand:   sample(leftHand),
				RightHand:  sample(rightHand),
				LeftElbow:  sample(above(leftHand, 60)),
				RightElbow: sample(above(rightHand, 60)),
				LeftFoot:   sample(leftFoot),
				RightFoot:  sample(rightFoot),
				LeftKnee:   sample(above(leftFoot, 80)),
				RightKnee:  sample(above(rightFoot, 80)),
			},
		}},
	}
}
