package face

import (
	"sync"
	"time"
)

// HaveEnoughData is the media readyState at which a video frame can be
// sampled.
const HaveEnoughData = 4

// Source yields the most recent camera frame and whether it can be sampled.
type Source interface {
	Frame() (image []byte, ready bool)
}

// FrameBuffer keeps only the latest frame pushed by the client.
type FrameBuffer struct {
	mu         sync.RWMutex
	image      []byte
	readyState int
	updatedAt  time.Time
	maxAge     time.Duration
}

// NewFrameBuffer returns an empty buffer. Frames older than maxAge are
// treated as not ready; zero disables the age check.
func NewFrameBuffer(maxAge time.Duration) *FrameBuffer {
	return &FrameBuffer{maxAge: maxAge}
}

// Put stores a frame along with the video readyState it was captured at.
func (b *FrameBuffer) Put(image []byte, readyState int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readyState = readyState
	if len(image) > 0 {
		b.image = image
		b.updatedAt = time.Now()
	}
}

// Clear drops the stored frame, for example when the camera stops.
func (b *FrameBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.image = nil
	b.readyState = 0
	b.updatedAt = time.Time{}
}

// Frame implements Source.
func (b *FrameBuffer) Frame() ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.readyState != HaveEnoughData || len(b.image) == 0 {
		return nil, false
	}
	if b.maxAge > 0 && time.Since(b.updatedAt) > b.maxAge {
		return nil, false
	}
	return b.image, true
}
