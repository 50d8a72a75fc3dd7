// Package telemetry shares the frame loop's latest state with debug viewers.
package telemetry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ayusman/kinectkart/internal/input"
	"github.com/ayusman/kinectkart/internal/pose"
	"github.com/ayusman/kinectkart/internal/tracker"
)

// Subject is one user as seen by the lifecycle machine.
type Subject struct {
	ID           int             `json:"id"`
	Label        string          `json:"label"`
	Tracking     bool            `json:"tracking"`
	CenterOfMass tracker.Point3D `json:"com"`
}

// Snapshot is the state after one loop iteration.
type Snapshot struct {
	Sequence  uint64    `json:"seq"`
	Timestamp int64     `json:"timestamp"`
	Session   string    `json:"session,omitempty"`
	Subjects  []Subject `json:"subjects"`
	// Active is the id of the steering subject, 0 when there is none.
	Active      int                `json:"active"`
	Features    *pose.Features     `json:"features,omitempty"`
	Direction   string             `json:"direction"`
	Input       input.State        `json:"input"`
	Transitions []input.Transition `json:"transitions,omitempty"`
	Enabled     bool               `json:"enabled"`
	Status      string             `json:"status"`
}

// Hub keeps the latest snapshot and overlay frame and fans snapshots out to
// subscribers. Publishing never blocks: a lagging subscriber loses its
// oldest pending snapshot.
type Hub struct {
	mu     sync.RWMutex
	seq    uint64
	latest *Snapshot
	subs   map[chan Snapshot]struct{}

	frameMu    sync.RWMutex
	frame      []byte
	frameSeq   uint64
	frameReady chan struct{}
	viewers    atomic.Int32
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:       make(map[chan Snapshot]struct{}),
		frameReady: make(chan struct{}),
	}
}

// Publish stores s as the latest snapshot and sends it to subscribers.
// The hub assigns the sequence number.
func (h *Hub) Publish(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	s.Sequence = h.seq
	h.latest = &s

	for ch := range h.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		// Full: drop the stale snapshot and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// Latest returns the most recent snapshot.
func (h *Hub) Latest() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return Snapshot{}, false
	}
	return *h.latest, true
}

// Subscribe registers a subscriber with a buffer of size buf (minimum 1).
// The returned cancel function unsubscribes and closes the channel.
func (h *Hub) Subscribe(buf int) (<-chan Snapshot, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Snapshot, buf)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of snapshot subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// PublishFrame stores an encoded overlay image and wakes frame waiters.
func (h *Hub) PublishFrame(jpeg []byte) {
	h.frameMu.Lock()
	h.frame = jpeg
	h.frameSeq++
	close(h.frameReady)
	h.frameReady = make(chan struct{})
	h.frameMu.Unlock()
}

// LatestFrame returns the last overlay image and its sequence number.
func (h *Hub) LatestFrame() ([]byte, uint64) {
	h.frameMu.RLock()
	defer h.frameMu.RUnlock()
	return h.frame, h.frameSeq
}

// NextFrame blocks until a frame newer than after is published.
func (h *Hub) NextFrame(ctx context.Context, after uint64) ([]byte, uint64, error) {
	for {
		h.frameMu.RLock()
		frame, seq, ready := h.frame, h.frameSeq, h.frameReady
		h.frameMu.RUnlock()

		if seq > after {
			return frame, seq, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, seq, ctx.Err()
		}
	}
}

// Watch registers a frame viewer. Call the returned function when done.
func (h *Hub) Watch() func() {
	h.viewers.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { h.viewers.Add(-1) })
	}
}

// WantsFrames reports whether anyone is watching the overlay stream.
func (h *Hub) WantsFrames() bool {
	return h.viewers.Load() > 0
}
