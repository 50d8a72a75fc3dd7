// Package lifecycle tracks each subject through pose detection, calibration
// and skeleton tracking.
package lifecycle

import (
	"fmt"
	"sort"

	"github.com/ayusman/kinectkart/internal/tracker"
)

// State is the lifecycle stage of one subject.
type State int

const (
	Idle State = iota
	PoseDetectionPending
	CalibrationPending
	Tracking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PoseDetectionPending:
		return "pose_detection_pending"
	case CalibrationPending:
		return "calibration_pending"
	case Tracking:
		return "tracking"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CommandKind names an engine call requested by the machine.
type CommandKind string

const (
	StartPoseDetection CommandKind = "start_pose_detection"
	StopPoseDetection  CommandKind = "stop_pose_detection"
	RequestCalibration CommandKind = "request_calibration"
	StartTracking      CommandKind = "start_tracking"
)

// Command is an engine call the frame loop must perform.
type Command struct {
	Kind CommandKind
	User int
	Pose string
}

// Dispatch performs the command against the tracking engine.
func (c Command) Dispatch(t tracker.Tracker) error {
	switch c.Kind {
	case StartPoseDetection:
		return t.StartPoseDetection(c.Pose, c.User)
	case StopPoseDetection:
		return t.StopPoseDetection(c.User)
	case RequestCalibration:
		return t.RequestCalibration(c.User, true)
	case StartTracking:
		return t.StartTracking(c.User)
	}
	return fmt.Errorf("unknown command %q", c.Kind)
}

// Machine holds the lifecycle state of every subject the engine reported.
type Machine struct {
	needsPose bool
	pose      string
	subjects  map[int]State
}

// New creates a Machine. needsPose and pose come from the tracking engine.
func New(needsPose bool, pose string) *Machine {
	return &Machine{
		needsPose: needsPose,
		pose:      pose,
		subjects:  make(map[int]State),
	}
}

// Handle advances the subject named by the event and returns the engine
// commands needed to follow up.
func (m *Machine) Handle(ev tracker.Event) []Command {
	switch ev.Type {
	case tracker.EventNewUser:
		return m.beginCalibration(ev.User)

	case tracker.EventLostUser:
		delete(m.subjects, ev.User)
		return nil

	case tracker.EventPoseDetected:
		m.subjects[ev.User] = CalibrationPending
		return []Command{
			{Kind: StopPoseDetection, User: ev.User},
			{Kind: RequestCalibration, User: ev.User},
		}

	case tracker.EventCalibrationComplete:
		switch ev.Status {
		case tracker.CalibrationOK:
			m.subjects[ev.User] = Tracking
			return []Command{{Kind: StartTracking, User: ev.User}}
		case tracker.CalibrationManualAbort:
			m.subjects[ev.User] = Idle
			return nil
		default:
			return m.beginCalibration(ev.User)
		}
	}
	return nil
}

func (m *Machine) beginCalibration(user int) []Command {
	if m.needsPose {
		m.subjects[user] = PoseDetectionPending
		return []Command{{Kind: StartPoseDetection, User: user, Pose: m.pose}}
	}
	m.subjects[user] = CalibrationPending
	return []Command{{Kind: RequestCalibration, User: user}}
}

// State returns the lifecycle state of a subject.
// Unknown subjects are Idle.
func (m *Machine) State(user int) State {
	return m.subjects[user]
}

// Tracking reports whether the subject's skeleton is being tracked.
func (m *Machine) Tracking(user int) bool {
	return m.subjects[user] == Tracking
}

// TrackingIDs returns the tracked subjects in ascending id order.
func (m *Machine) TrackingIDs() []int {
	var ids []int
	for id, s := range m.subjects {
		if s == Tracking {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Label returns the overlay text for a subject.
func (m *Machine) Label(user int) string {
	switch m.subjects[user] {
	case Tracking:
		return fmt.Sprintf("%d - Tracking", user)
	case CalibrationPending:
		return fmt.Sprintf("%d - Calibrating", user)
	}
	return fmt.Sprintf("%d - Looking for pose (%s)", user, m.pose)
}
