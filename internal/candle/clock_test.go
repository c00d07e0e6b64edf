package candle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartFloorsWithinInterval(t *testing.T) {
	for _, ts := range []int64{
		time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
		time.Date(2025, 3, 1, 12, 7, 31, 0, time.UTC).UnixMilli(),
		time.Date(2025, 3, 1, 12, 14, 59, 999_000_000, time.UTC).UnixMilli(),
		time.Date(2025, 3, 1, 12, 45, 1, 0, time.UTC).UnixMilli(),
	} {
		start := Start(ts)
		require.LessOrEqual(t, start, ts)
		require.Greater(t, start+int64(intervalMillis), ts)
	}
}

func TestStartIdempotent(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 7, 31, 0, time.UTC).UnixMilli()
	assert.Equal(t, Start(ts), Start(Start(ts)))
}

func TestStartUnitDetection(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 7, 31, 0, time.UTC)
	wantMs := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()

	assert.Equal(t, wantMs, Start(at.UnixMilli()))
	// Seconds in, seconds out.
	assert.Equal(t, wantMs/1000, Start(at.Unix()))
	// StartMillis normalizes both units to milliseconds.
	assert.Equal(t, wantMs, StartMillis(at.UnixMilli()))
	assert.Equal(t, wantMs, StartMillis(at.Unix()))
}

func TestMinuteOffset(t *testing.T) {
	cases := []struct {
		minute int
		want   int
	}{
		{0, 0}, {1, 1}, {14, 14}, {15, 0}, {22, 7}, {30, 0}, {59, 14},
	}
	for _, c := range cases {
		at := time.Date(2025, 3, 1, 9, c.minute, 42, 0, time.UTC)
		assert.Equal(t, c.want, MinuteOffset(at.UnixMilli()), "minute %d", c.minute)
		assert.Equal(t, c.want, MinuteOffset(at.Unix()), "minute %d (seconds)", c.minute)
	}
}

func TestIsBoundary(t *testing.T) {
	assert.True(t, IsBoundary(time.Date(2025, 3, 1, 9, 15, 0, 0, time.UTC).UnixMilli()))
	assert.True(t, IsBoundary(time.Date(2025, 3, 1, 9, 45, 0, 0, time.UTC).Unix()))
	assert.False(t, IsBoundary(time.Date(2025, 3, 1, 9, 15, 0, 1_000_000, time.UTC).UnixMilli()))
	assert.False(t, IsBoundary(time.Date(2025, 3, 1, 9, 16, 0, 0, time.UTC).UnixMilli()))
}

func TestWindowBounds(t *testing.T) {
	cs := time.Date(2025, 3, 1, 9, 15, 0, 0, time.UTC).UnixMilli()

	start, end := WindowBounds(cs, 2, 30, 10)
	assert.Equal(t, cs+2*60_000+30_000, start)
	assert.Equal(t, cs+10*60_000+59_999, end)

	// End minute below start minute is clamped up to the start minute.
	start, end = WindowBounds(cs, 13, 0, 5)
	assert.Equal(t, cs+13*60_000, start)
	assert.Equal(t, cs+13*60_000+59_999, end)

	// Out-of-range inputs stay inside the candle.
	start, end = WindowBounds(cs, -3, 99, 99)
	assert.Equal(t, cs+59_000, start)
	assert.Equal(t, cs+14*60_000+59_999, end)
	assert.Less(t, end, cs+int64(intervalMillis))
}
