// Package pose derives steering features from a subject's skeleton.
package pose

import (
	"errors"
	"fmt"
	"math"

	"github.com/ayusman/kinectkart/internal/tracker"
)

// LeanThreshold is the half-width in degrees of the steering dead zone.
const LeanThreshold = 20.0

var (
	// ErrMissingJoint is returned when a hand or foot sample is absent.
	ErrMissingJoint = errors.New("required joint missing")
	// ErrUntrackedJoint is returned when a hand or foot has zero confidence
	// and the extractor requires confidence.
	ErrUntrackedJoint = errors.New("required joint not tracked")
)

// featureJoints feed the lean angle and foot height formulas.
var featureJoints = []tracker.Joint{
	tracker.LeftHand, tracker.RightHand,
	tracker.LeftFoot, tracker.RightFoot,
}

// Features are the per-frame scalars the input mapper acts on.
type Features struct {
	// LeanAngle is the tilt of the hand-to-hand line in degrees, [-180, 180].
	LeanAngle float64 `json:"lean_angle"`
	// FootHeightDiff is left_foot.y - right_foot.y in projective space.
	FootHeightDiff float64 `json:"foot_height_diff"`
}

// Extractor computes Features from a joint snapshot.
type Extractor struct {
	// RequireConfidence rejects snapshots where a hand or foot dropped out
	// of tracking. Without it the zero sentinel position flows into the
	// formulas unchanged.
	RequireConfidence bool
}

// Extract computes the lean angle and foot height differential.
func (e Extractor) Extract(joints tracker.Joints) (Features, error) {
	for _, j := range featureJoints {
		s, ok := joints[j]
		if !ok {
			return Features{}, fmt.Errorf("%w: %s", ErrMissingJoint, j)
		}
		if e.RequireConfidence && !s.Tracked() {
			return Features{}, fmt.Errorf("%w: %s", ErrUntrackedJoint, j)
		}
	}

	return Features{
		LeanAngle:      LeanAngle(joints[tracker.LeftHand].Position, joints[tracker.RightHand].Position),
		FootHeightDiff: FootHeightDiff(joints[tracker.LeftFoot].Position, joints[tracker.RightFoot].Position),
	}, nil
}

// LeanAngle returns the angle in degrees between the horizontal axis and the
// line from the left hand to the right hand. The sign is negative when the
// left hand sits lower on screen (larger y) than the right hand.
// Coincident hands give 0.
func LeanAngle(leftHand, rightHand tracker.Point3D) float64 {
	dx := rightHand.X - leftHand.X
	dy := rightHand.Y - leftHand.Y

	length := math.Hypot(dx, dy)
	if length == 0 {
		return 0
	}

	cos := math.Max(-1, math.Min(1, dx/length))
	alpha := math.Acos(cos) * 180 / math.Pi

	if leftHand.Y > rightHand.Y {
		alpha = -alpha
	}
	return alpha
}

// FootHeightDiff returns left_foot.y - right_foot.y.
func FootHeightDiff(leftFoot, rightFoot tracker.Point3D) float64 {
	return leftFoot.Y - rightFoot.Y
}

// Direction describes the steering implied by a lean angle.
func Direction(angle float64) string {
	switch {
	case angle > LeanThreshold:
		return "turn right"
	case angle < -LeanThreshold:
		return "turn left"
	}
	return "Straight"
}
