package overlay

import (
	"sync"

	"gocv.io/x/gocv"
)

const escapeKey = 27

// Window shows the overlay in a highgui window. It must be used from the
// main goroutine on platforms that require it.
type Window struct {
	window *gocv.Window
	poll   func() int
	sink   FrameSink
	once   sync.Once
}

// NewWindow opens a window of the given size. sink may be nil.
func NewWindow(title string, width, height int, sink FrameSink) *Window {
	w := gocv.NewWindow(title)
	w.ResizeWindow(width, height)
	return &Window{window: w, poll: func() int { return w.WaitKey(1) }, sink: sink}
}

// Render shows v and polls the keyboard. The escape key returns ErrClosed.
// Window events are pumped even when v cannot be drawn.
func (w *Window) Render(v *View) error {
	img, err := Compose(v)
	if err != nil {
		return w.pump(err)
	}
	defer img.Close()

	w.window.IMShow(img)
	if w.sink != nil && w.sink.WantsFrames() {
		err = publish(w.sink, img)
	}
	return w.pump(err)
}

func (w *Window) pump(err error) error {
	if w.poll() == escapeKey {
		return ErrClosed
	}
	return err
}

// Close closes the window.
func (w *Window) Close() error {
	var err error
	w.once.Do(func() {
		err = w.window.Close()
	})
	return err
}

// Headless composes only when the sink has viewers.
type Headless struct {
	sink FrameSink
}

// NewHeadless creates a renderer without a window. sink may be nil.
func NewHeadless(sink FrameSink) *Headless {
	return &Headless{sink: sink}
}

func (h *Headless) Render(v *View) error {
	if h.sink == nil || !h.sink.WantsFrames() {
		return nil
	}

	img, err := Compose(v)
	if err != nil {
		return err
	}
	defer img.Close()

	return publish(h.sink, img)
}

func (h *Headless) Close() error {
	return nil
}
