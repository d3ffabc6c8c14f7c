package fps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCounter(t *testing.T) {
	c := New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.Equal(t, 0.0, c.FPS("previewout"))
	for i := 0; i < 10; i++ {
		c.Tick("previewout")
		now = now.Add(100 * time.Millisecond)
	}
	// The oldest tick is exactly one window ago, so it has just dropped out
	require.Equal(t, 9.0, c.FPS("previewout"))
	require.Equal(t, 1.0, c.TickFPS("left"))

	now = now.Add(2 * time.Second)
	require.Equal(t, 0.0, c.FPS("previewout"))
	require.Equal(t, []string{"left", "previewout"}, c.Names())
	require.Equal(t, map[string]float64{"left": 0, "previewout": 0}, c.All())
}

func TestCounterSaturates(t *testing.T) {
	c := New()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	for i := 0; i < ringSize*2; i++ {
		c.Tick("metaout")
	}
	capacity := c.streams["metaout"].Capacity()
	require.Equal(t, ringSize-1, capacity)
	require.Equal(t, float64(capacity), c.FPS("metaout"))
}
