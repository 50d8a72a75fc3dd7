package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/kinectkart/internal/tracker"
)

// ErrInvalidDepth is returned when the depth image cannot be decoded.
var ErrInvalidDepth = errors.New("invalid depth image")

const (
	lineThickness = 2
	fontScale     = 0.5
)

var statusColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Compose draws v onto a new BGR image. The caller must close the result.
func Compose(v *View) (gocv.Mat, error) {
	canvas, err := depthCanvas(v)
	if err != nil {
		return gocv.NewMat(), err
	}

	for _, s := range v.Subjects {
		c := bgr(UserColor(s.ID))
		if s.Tracking {
			for _, limb := range Limbs {
				drawLimb(&canvas, s.Joints, limb[0], limb[1], c)
			}
		}
		if s.Label != "" {
			org := image.Pt(int(s.CenterOfMass.X), int(s.CenterOfMass.Y))
			gocv.PutText(&canvas, s.Label, org, gocv.FontHersheySimplex, fontScale, c, 1)
		}
	}

	if v.Status != "" {
		gocv.PutText(&canvas, v.Status, image.Pt(10, 20), gocv.FontHersheySimplex, fontScale, statusColor, 1)
	}

	return canvas, nil
}

// drawLimb skips the line when either end has zero confidence.
func drawLimb(canvas *gocv.Mat, joints tracker.Joints, from, to tracker.Joint, c color.RGBA) {
	a, okA := joints[from]
	b, okB := joints[to]
	if !okA || !okB || !a.Tracked() || !b.Tracked() {
		return
	}
	gocv.Line(canvas, point(a.Position), point(b.Position), c, lineThickness)
}

func point(p tracker.Point3D) image.Point {
	return image.Pt(int(p.X), int(p.Y))
}

// depthCanvas decodes the depth image and scales it to an 8-bit BGR image.
// Without depth data the canvas is black.
func depthCanvas(v *View) (gocv.Mat, error) {
	if len(v.Depth) == 0 {
		if v.Width <= 0 || v.Height <= 0 {
			return gocv.NewMat(), fmt.Errorf("%w: no depth and no frame size", ErrInvalidDepth)
		}
		return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), v.Height, v.Width, gocv.MatTypeCV8UC3), nil
	}

	raw, err := gocv.IMDecode(v.Depth, gocv.IMReadAnyDepth)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrInvalidDepth, err)
	}
	defer raw.Close()
	if raw.Empty() {
		return gocv.NewMat(), ErrInvalidDepth
	}

	scaled := gocv.NewMat()
	defer scaled.Close()
	gocv.Normalize(raw, &scaled, 0, 255, gocv.NormMinMax)

	gray := gocv.NewMat()
	defer gray.Close()
	scaled.ConvertTo(&gray, gocv.MatTypeCV8U)

	out := gocv.NewMat()
	gocv.CvtColor(gray, &out, gocv.ColorGrayToBGR)
	return out, nil
}

// encodeJPEG encodes img and copies the bytes out of the native buffer.
func encodeJPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(".jpg", img)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// publish encodes img and hands the JPEG to sink.
func publish(sink FrameSink, img gocv.Mat) error {
	jpeg, err := encodeJPEG(img)
	if err != nil {
		return fmt.Errorf("encode overlay: %w", err)
	}
	sink.PublishFrame(jpeg)
	return nil
}
