package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ts(unix int64) *time.Time {
	t := time.Unix(unix, 0).UTC()
	return &t
}

func TestPledge_Rewards_Window_Resolve(t *testing.T) {
	t.Parallel()

	cutoff := 24 * time.Hour
	cutoffSecs := int64(cutoff / time.Second)

	t.Run("no completion time means no window", func(t *testing.T) {
		t.Parallel()

		w := Resolve(Timestamps{ReviewOpenedAt: ts(1000), DueAt: ts(2000)}, cutoff)
		require.Nil(t, w)
	})

	t.Run("review open time anchors the window when present", func(t *testing.T) {
		t.Parallel()

		w := Resolve(Timestamps{CompletedAt: ts(500), ReviewOpenedAt: ts(1000), DueAt: ts(2000)}, cutoff)
		require.NotNil(t, w)
		require.Equal(t, int64(1000), w.StartUnix)
		require.Equal(t, 1000+cutoffSecs, w.EndUnix)
	})

	t.Run("due time anchors the window when review never opened", func(t *testing.T) {
		t.Parallel()

		w := Resolve(Timestamps{CompletedAt: ts(500), DueAt: ts(2000)}, cutoff)
		require.NotNil(t, w)
		require.Equal(t, int64(2000), w.StartUnix)
		require.Equal(t, 2000+cutoffSecs, w.EndUnix)
	})

	t.Run("completion time anchors the window as last resort", func(t *testing.T) {
		t.Parallel()

		w := Resolve(Timestamps{CompletedAt: ts(500)}, cutoff)
		require.NotNil(t, w)
		require.Equal(t, int64(500), w.StartUnix)
		require.Equal(t, 500+cutoffSecs, w.EndUnix)
	})

	t.Run("degenerate window is treated as no window", func(t *testing.T) {
		t.Parallel()

		w := Resolve(Timestamps{CompletedAt: ts(500)}, 0)
		require.Nil(t, w)

		w = Resolve(Timestamps{CompletedAt: ts(500)}, -time.Hour)
		require.Nil(t, w)
	})
}

func TestPledge_Rewards_Window_ClosedAt(t *testing.T) {
	t.Parallel()

	w := Window{StartUnix: 1000, EndUnix: 2000}

	t.Run("window ending exactly at now is closed", func(t *testing.T) {
		t.Parallel()
		require.True(t, w.ClosedAt(time.Unix(2000, 0)))
	})

	t.Run("window ending one second after now is open", func(t *testing.T) {
		t.Parallel()
		require.False(t, w.ClosedAt(time.Unix(1999, 0)))
	})

	t.Run("window stays closed after its end", func(t *testing.T) {
		t.Parallel()
		require.True(t, w.ClosedAt(time.Unix(5000, 0)))
	})
}
