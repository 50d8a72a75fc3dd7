// Package tracker provides the skeletal tracking engine interface and the
// per-frame joint data it produces.
package tracker

import (
	"errors"
	"sort"
)

// Joint identifies a skeletal landmark reported by the tracking engine.
type Joint string

// Joints the engine is queried for.
const (
	Head       Joint = "head"
	Torso      Joint = "torso"
	LeftElbow  Joint = "left_elbow"
	LeftHand   Joint = "left_hand"
	RightElbow Joint = "right_elbow"
	RightHand  Joint = "right_hand"
	LeftKnee   Joint = "left_knee"
	LeftFoot   Joint = "left_foot"
	RightKnee  Joint = "right_knee"
	RightFoot  Joint = "right_foot"
)

// RequiredJoints are refreshed every frame for each tracked subject.
var RequiredJoints = []Joint{
	LeftElbow, LeftHand,
	RightElbow, RightHand,
	LeftKnee, LeftFoot,
	RightKnee, RightFoot,
}

var (
	// ErrUnknownSubject is returned when a frame has no data for a subject.
	ErrUnknownSubject = errors.New("unknown subject")
	// ErrMissingJoint is returned when a subject has no sample for a joint.
	ErrMissingJoint = errors.New("missing joint")
)

// Point3D is a position in projective space: X and Y in pixels, Z is depth.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// JointSample is one joint's observed position and confidence in one frame.
type JointSample struct {
	Position   Point3D `json:"position"`
	Confidence float64 `json:"confidence"`
}

// Tracked reports whether the sample is usable this frame.
func (s JointSample) Tracked() bool {
	return s.Confidence > 0
}

// Normalize replaces samples without depth or confidence with the zero
// sentinel sample.
func (s JointSample) Normalize() JointSample {
	if s.Position.Z == 0 || s.Confidence <= 0 {
		return JointSample{}
	}
	return s
}

// Joints maps joint identifiers to samples for one subject in one frame.
type Joints map[Joint]JointSample

// User is one subject as seen by the engine in a frame.
type User struct {
	ID           int     `json:"id"`
	CenterOfMass Point3D `json:"com"`
	Joints       Joints  `json:"joints,omitempty"`
}

// EventType identifies a subject lifecycle signal.
type EventType string

const (
	EventNewUser             EventType = "new_user"
	EventLostUser            EventType = "lost_user"
	EventPoseDetected        EventType = "pose_detected"
	EventCalibrationComplete EventType = "calibration_complete"
)

// CalibrationStatus is the outcome carried by a calibration_complete event.
type CalibrationStatus string

const (
	CalibrationOK          CalibrationStatus = "ok"
	CalibrationFailed      CalibrationStatus = "failed"
	CalibrationManualAbort CalibrationStatus = "manual_abort"
)

// Event is a subject lifecycle signal raised by the engine.
type Event struct {
	Type   EventType         `json:"type"`
	User   int               `json:"user"`
	Pose   string            `json:"pose,omitempty"`
	Status CalibrationStatus `json:"status,omitempty"`
}

// Frame is the result of one engine poll.
type Frame struct {
	Timestamp int64   `json:"timestamp"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Depth     []byte  `json:"depth,omitempty"` // PNG, 16-bit depth
	Users     []User  `json:"users"`
	Events    []Event `json:"events,omitempty"`
}

// UserIDs returns the ids of all subjects in the frame in ascending order.
func (f *Frame) UserIDs() []int {
	ids := make([]int, 0, len(f.Users))
	for _, u := range f.Users {
		ids = append(ids, u.ID)
	}
	sort.Ints(ids)
	return ids
}

// User returns the subject with the given id.
func (f *Frame) User(id int) (User, bool) {
	for _, u := range f.Users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

// JointSample returns the normalized sample of a joint for a subject.
func (f *Frame) JointSample(user int, joint Joint) (JointSample, error) {
	u, ok := f.User(user)
	if !ok {
		return JointSample{}, ErrUnknownSubject
	}
	s, ok := u.Joints[joint]
	if !ok {
		return JointSample{}, ErrMissingJoint
	}
	return s.Normalize(), nil
}

// Snapshot collects the required joints for a subject.
// Joints the engine did not report are left out of the result.
func (f *Frame) Snapshot(user int) (Joints, error) {
	joints := make(Joints, len(RequiredJoints))
	for _, j := range RequiredJoints {
		s, err := f.JointSample(user, j)
		if errors.Is(err, ErrMissingJoint) {
			continue
		}
		if err != nil {
			return nil, err
		}
		joints[j] = s
	}
	return joints, nil
}
