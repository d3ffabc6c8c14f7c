package fps

import (
	"sort"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
)

// Size of each stream's ring of tick times. Must be a power of 2.
// The ring holds one less than this, which is the maximum frame rate we can measure.
const ringSize = 256

// Counter measures the frame rate of named streams, over a sliding window
type Counter struct {
	lock    sync.Mutex
	window  time.Duration
	streams map[string]*ringbuffer.RingP[time.Time]
	now     func() time.Time
}

// New creates a counter with a one second window
func New() *Counter {
	return &Counter{
		window:  time.Second,
		streams: map[string]*ringbuffer.RingP[time.Time]{},
		now:     time.Now,
	}
}

// Tick records a frame of the named stream
func (c *Counter) Tick(name string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.tick(name)
}

// TickFPS records a frame, and returns the frame rate including that frame
func (c *Counter) TickFPS(name string) float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.tick(name)
	return c.fps(name)
}

// FPS returns the number of frames of the stream in the last window, per second
func (c *Counter) FPS(name string) float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.fps(name)
}

// All returns the frame rate of every stream that has ticked at least once
func (c *Counter) All() map[string]float64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	all := map[string]float64{}
	for name := range c.streams {
		all[name] = c.fps(name)
	}
	return all
}

// Names returns the streams that have ticked, sorted
func (c *Counter) Names() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	names := make([]string, 0, len(c.streams))
	for name := range c.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Counter) tick(name string) {
	r := c.streams[name]
	if r == nil {
		ring := ringbuffer.NewRingP[time.Time](ringSize)
		r = &ring
		c.streams[name] = r
	}
	r.Add(c.now())
}

func (c *Counter) fps(name string) float64 {
	r := c.streams[name]
	if r == nil {
		return 0
	}
	cutoff := c.now().Add(-c.window)
	n := 0
	for i := r.Len() - 1; i >= 0; i-- {
		if !r.Peek(i).After(cutoff) {
			break
		}
		n++
	}
	return float64(n) / c.window.Seconds()
}
