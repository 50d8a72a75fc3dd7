package overlay

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/kinectkart/internal/tracker"
)

type fakeSink struct {
	mu     sync.Mutex
	wants  bool
	frames [][]byte
}

func (s *fakeSink) WantsFrames() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wants
}

func (s *fakeSink) PublishFrame(jpeg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, jpeg)
}

func trackedSubject(id int) Subject {
	f := tracker.PoseFrame(id,
		tracker.Point3D{X: 200, Y: 200, Z: 1500},
		tracker.Point3D{X: 300, Y: 200, Z: 1500},
		tracker.Point3D{X: 250, Y: 420, Z: 1500},
		tracker.Point3D{X: 350, Y: 420, Z: 1500},
	)
	u := f.Users[0]
	return Subject{
		ID:           id,
		Label:        "1 - Tracking",
		CenterOfMass: u.CenterOfMass,
		Joints:       u.Joints,
		Tracking:     true,
	}
}

func nonZero(t *testing.T, img gocv.Mat) int {
	t.Helper()
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	return gocv.CountNonZero(gray)
}

func TestUserColor(t *testing.T) {
	tests := []struct {
		id   int
		want color.RGBA
	}{
		{0, color.RGBA{0, 255, 255, 255}},
		{1, color.RGBA{255, 255, 0, 255}},
		{7, color.RGBA{0, 0, 0, 255}},
		{8, color.RGBA{0, 255, 255, 255}},
		{5, color.RGBA{0, 80, 80, 255}},
	}

	for _, tt := range tests {
		if got := UserColor(tt.id); got != tt.want {
			t.Errorf("UserColor(%d) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestCompose_BlankCanvas(t *testing.T) {
	img, err := Compose(&View{Width: 640, Height: 480})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	defer img.Close()

	if img.Rows() != 480 || img.Cols() != 640 {
		t.Errorf("size = %dx%d, want 640x480", img.Cols(), img.Rows())
	}
	if img.Type() != gocv.MatTypeCV8UC3 {
		t.Errorf("type = %v, want CV8UC3", img.Type())
	}
	if n := nonZero(t, img); n != 0 {
		t.Errorf("blank canvas has %d lit pixels", n)
	}
}

func TestCompose_DrawsTrackedLimbs(t *testing.T) {
	s := trackedSubject(1)
	s.Label = ""

	img, err := Compose(&View{Width: 640, Height: 480, Subjects: []Subject{s}})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	defer img.Close()

	if nonZero(t, img) == 0 {
		t.Error("expected limb lines to be drawn")
	}
}

func TestCompose_SkipsUntrackedJoints(t *testing.T) {
	s := trackedSubject(1)
	s.Label = ""
	for joint, sample := range s.Joints {
		if joint == tracker.LeftHand || joint == tracker.RightHand || joint == tracker.LeftFoot || joint == tracker.RightFoot {
			sample.Confidence = 0
			s.Joints[joint] = sample
		}
	}

	img, err := Compose(&View{Width: 640, Height: 480, Subjects: []Subject{s}})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	defer img.Close()

	if n := nonZero(t, img); n != 0 {
		t.Errorf("expected no lines, got %d lit pixels", n)
	}
}

func TestCompose_NotTrackingDrawsLabelOnly(t *testing.T) {
	s := trackedSubject(2)
	s.Tracking = false
	s.Label = ""

	img, err := Compose(&View{Width: 640, Height: 480, Subjects: []Subject{s}})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	defer img.Close()
	if n := nonZero(t, img); n != 0 {
		t.Errorf("untracked user should not draw limbs, got %d lit pixels", n)
	}

	s.Label = "2 - Calibrating"
	labelled, err := Compose(&View{Width: 640, Height: 480, Subjects: []Subject{s}, Status: "Straight"})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	defer labelled.Close()
	if nonZero(t, labelled) == 0 {
		t.Error("expected label and status text")
	}
}

func TestCompose_DecodesDepth(t *testing.T) {
	depth := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1000, 0, 0, 0), 120, 160, gocv.MatTypeCV16U)
	defer depth.Close()
	region := depth.Region(image.Rect(80, 0, 160, 120))
	region.SetTo(gocv.NewScalar(3000, 0, 0, 0))
	region.Close()

	buf, err := gocv.IMEncode(".png", depth)
	if err != nil {
		t.Fatalf("IMEncode() error = %v", err)
	}
	png := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	img, err := Compose(&View{Width: 160, Height: 120, Depth: png})
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	defer img.Close()

	if img.Rows() != 120 || img.Cols() != 160 || img.Type() != gocv.MatTypeCV8UC3 {
		t.Errorf("composite = %dx%d type %v", img.Cols(), img.Rows(), img.Type())
	}
	if nonZero(t, img) == 0 {
		t.Error("expected the far half of the depth image to be lit")
	}
}

func TestCompose_InvalidDepth(t *testing.T) {
	_, err := Compose(&View{Width: 10, Height: 10, Depth: []byte("not a png")})
	if !errors.Is(err, ErrInvalidDepth) {
		t.Errorf("expected ErrInvalidDepth, got %v", err)
	}

	_, err = Compose(&View{})
	if !errors.Is(err, ErrInvalidDepth) {
		t.Errorf("expected ErrInvalidDepth for empty view, got %v", err)
	}
}

func TestHeadless(t *testing.T) {
	sink := &fakeSink{}
	h := NewHeadless(sink)
	view := &View{Width: 64, Height: 48, Status: "Straight"}

	if err := h.Render(view); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(sink.frames) != 0 {
		t.Fatal("no frames should be published without viewers")
	}

	sink.wants = true
	if err := h.Render(view); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(sink.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(sink.frames))
	}
	if !bytes.HasPrefix(sink.frames[0], []byte{0xFF, 0xD8}) {
		t.Error("published frame is not a JPEG")
	}

	if err := NewHeadless(nil).Render(view); err != nil {
		t.Errorf("Render() without sink error = %v", err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestWindow_PollsOnComposeError(t *testing.T) {
	var polls int
	key := -1
	w := &Window{poll: func() int {
		polls++
		return key
	}}

	if err := w.Render(&View{}); !errors.Is(err, ErrInvalidDepth) {
		t.Fatalf("expected ErrInvalidDepth, got %v", err)
	}
	if polls != 1 {
		t.Fatalf("expected 1 poll, got %d", polls)
	}

	key = escapeKey
	if err := w.Render(&View{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed while frames fail, got %v", err)
	}
}
