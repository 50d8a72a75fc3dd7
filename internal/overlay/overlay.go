// Package overlay draws the depth feed, tracked limbs and user labels.
package overlay

import (
	"errors"
	"image/color"

	"github.com/ayusman/kinectkart/internal/tracker"
)

// ErrClosed is returned by Render when the user closed the overlay.
var ErrClosed = errors.New("overlay closed")

// Subject is one user to draw.
type Subject struct {
	ID           int
	Label        string
	CenterOfMass tracker.Point3D
	Joints       tracker.Joints
	Tracking     bool
}

// View is everything drawn for one frame.
type View struct {
	Width    int
	Height   int
	Depth    []byte // PNG-encoded depth image, optional
	Subjects []Subject
	Status   string
}

// Renderer displays views.
type Renderer interface {
	Render(v *View) error
	Close() error
}

// FrameSink receives JPEG-encoded composites for remote viewers.
type FrameSink interface {
	WantsFrames() bool
	PublishFrame(jpeg []byte)
}

// Limbs are the joint pairs drawn for tracked users.
var Limbs = [][2]tracker.Joint{
	{tracker.LeftElbow, tracker.LeftHand},
	{tracker.RightElbow, tracker.RightHand},
	{tracker.LeftKnee, tracker.LeftFoot},
	{tracker.RightKnee, tracker.RightFoot},
}

// palette is indexed by user id.
var palette = []color.RGBA{
	{255, 0, 0, 255},     // red
	{0, 0, 255, 255},     // blue
	{0, 255, 255, 255},   // cyan
	{0, 255, 0, 255},     // green
	{255, 0, 255, 255},   // magenta
	{255, 175, 175, 255}, // pink
	{255, 255, 0, 255},   // yellow
	{255, 255, 255, 255}, // white
}

// UserColor returns the inverted palette color for a user id.
func UserColor(id int) color.RGBA {
	i := id % len(palette)
	if i < 0 {
		i += len(palette)
	}
	c := palette[i]
	return color.RGBA{R: 255 - c.R, G: 255 - c.G, B: 255 - c.B, A: 255}
}

// bgr converts an RGB color to the channel order gocv draws with.
func bgr(c color.RGBA) color.RGBA {
	return color.RGBA{R: c.B, G: c.G, B: c.R, A: c.A}
}
