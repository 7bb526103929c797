package edge

import (
	"time"

	"github.com/google/uuid"
)

// Frame is one captured camera frame (encoded JPEG).
type Frame struct {
	CameraID   uuid.UUID
	CapturedAt time.Time
	Data       []byte
}

// frameRing is a fixed-capacity buffer of recent frames, oldest evicted
// first. Only the owning camera goroutine touches it.
type frameRing struct {
	frames []Frame
	head   int
	count  int
}

func newFrameRing(capacity int) *frameRing {
	if capacity < 1 {
		capacity = 1
	}
	return &frameRing{frames: make([]Frame, capacity)}
}

func (r *frameRing) push(f Frame) {
	idx := (r.head + r.count) % len(r.frames)
	r.frames[idx] = f
	if r.count < len(r.frames) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.frames)
	}
}

// window returns frames captured in [from, to], in capture order.
func (r *frameRing) window(from, to time.Time) []Frame {
	var out []Frame
	for i := 0; i < r.count; i++ {
		f := r.frames[(r.head+i)%len(r.frames)]
		if f.CapturedAt.Before(from) || f.CapturedAt.After(to) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (r *frameRing) len() int { return r.count }
