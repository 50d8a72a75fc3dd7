package tracker

import (
	"context"
	"errors"
)

var (
	// ErrEngineInit is returned when the tracking engine cannot be started.
	ErrEngineInit = errors.New("tracking engine initialization failed")
	// ErrEngineStopped is returned when the engine goes away mid-session.
	ErrEngineStopped = errors.New("tracking engine stopped")
)

// Tracker defines the interface to a skeletal tracking engine.
type Tracker interface {
	// Update blocks until the engine has produced the next frame.
	// Replay sources return io.EOF once exhausted.
	Update(ctx context.Context) (*Frame, error)

	// NeedsPoseForCalibration reports whether calibration must be preceded
	// by pose detection.
	NeedsPoseForCalibration() bool

	// CalibrationPose is the pose the user has to strike for calibration.
	CalibrationPose() string

	StartPoseDetection(pose string, user int) error
	StopPoseDetection(user int) error
	RequestCalibration(user int, force bool) error
	StartTracking(user int) error

	// Close releases any resources held by the tracker.
	Close() error
}

// Config holds options for starting the tracking engine bridge.
type Config struct {
	// Command is the bridge executable followed by its arguments.
	Command []string

	// EngineConfig is the engine setup document passed to the bridge.
	EngineConfig string
}

// DefaultConfig returns a Config pointing at the stock bridge binary.
func DefaultConfig() Config {
	return Config{
		Command:      []string{"kinectkart-bridge"},
		EngineConfig: "config.xml",
	}
}
