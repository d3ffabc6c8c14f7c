package watchdog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchdog(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := New(0)
	require.Equal(t, DefaultTimeout, w.Timeout())
	w.now = func() time.Time { return now }
	w.Reset()

	now = now.Add(9 * time.Second)
	require.False(t, w.Expired())
	require.Equal(t, time.Second, w.Remaining())

	w.Reset()
	now = now.Add(10 * time.Second)
	require.False(t, w.Expired())
	now = now.Add(time.Millisecond)
	require.True(t, w.Expired())
	require.Less(t, w.Remaining(), time.Duration(0))

	w.Reset()
	require.False(t, w.Expired())
}
