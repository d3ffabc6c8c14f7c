package server

import (
	"context"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
)

// JPEGQuality of the preview stream
const JPEGQuality = 85

// LatestFrame holds the most recent preview frame, already compressed to JPEG.
// The capture loop writes, and any number of HTTP streams read.
// Readers may see a frame that is one frame behind. That's fine for a preview.
type LatestFrame struct {
	lock    sync.Mutex
	jpg     []byte
	seq     int64
	updated chan struct{} // closed (and replaced) whenever a new frame arrives
}

func NewLatestFrame() *LatestFrame {
	return &LatestFrame{
		updated: make(chan struct{}),
	}
}

// Publish compresses the image and makes it the latest frame
func (l *LatestFrame) Publish(img *cimg.Image) error {
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, JPEGQuality, 0))
	if err != nil {
		return err
	}
	l.SetJPEG(jpg)
	return nil
}

// SetJPEG replaces the latest frame. The caller must not modify jpg afterwards.
func (l *LatestFrame) SetJPEG(jpg []byte) {
	l.lock.Lock()
	l.jpg = jpg
	l.seq++
	close(l.updated)
	l.updated = make(chan struct{})
	l.lock.Unlock()
}

// Get returns the latest frame and its sequence number. If there is no frame yet, jpg is nil.
func (l *LatestFrame) Get() (jpg []byte, seq int64) {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.jpg, l.seq
}

// Wait blocks until there is a frame newer than 'after', or until 'timeout' has elapsed, in which
// case the current frame is returned again (possibly nil).
// An error is returned only if the context is cancelled.
func (l *LatestFrame) Wait(ctx context.Context, after int64, timeout time.Duration) ([]byte, int64, error) {
	l.lock.Lock()
	if l.seq > after {
		jpg, seq := l.jpg, l.seq
		l.lock.Unlock()
		return jpg, seq, nil
	}
	updated := l.updated
	l.lock.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-updated:
	case <-timer.C:
	}
	jpg, seq := l.Get()
	return jpg, seq, nil
}
