// Package candle maps wall-clock timestamps onto fixed 15-minute buckets.
// All functions are pure; timestamps are accepted in seconds or milliseconds
// and unit-detected, since upstream producers supply either.
package candle

import "time"

const (
	IntervalMinutes = 15

	intervalSeconds = IntervalMinutes * 60
	intervalMillis  = intervalSeconds * 1000

	// Above this a timestamp is treated as milliseconds.
	millisCutoff = int64(1e12)
)

// Start floors ts to the containing candle boundary, in whatever unit ts is
// expressed in.
func Start(ts int64) int64 {
	if ts > millisCutoff {
		return ts / intervalMillis * intervalMillis
	}
	return ts / intervalSeconds * intervalSeconds
}

// StartMillis floors ts to the containing candle boundary and always returns
// milliseconds.
func StartMillis(ts int64) int64 {
	return toMillis(ts) / intervalMillis * intervalMillis
}

// MinuteOffset reports how many whole minutes ts lies past its candle start.
// Offset 0 marks the first minute of a candle.
func MinuteOffset(ts int64) int {
	return time.UnixMilli(toMillis(ts)).UTC().Minute() % IntervalMinutes
}

// IsBoundary reports whether ts is exactly a candle start (:00, :15, :30,
// :45 with zero seconds and milliseconds).
func IsBoundary(ts int64) bool {
	return toMillis(ts)%intervalMillis == 0
}

// WindowBounds resolves a strategy's trading window inside the candle that
// starts at candleStartMillis. The window closes at the end of endMin
// (endMin:59.999). Bounds are clamped so endMin >= startMin and everything
// stays inside the candle.
func WindowBounds(candleStartMillis int64, startMin, startSec, endMin int) (int64, int64) {
	startMin = clamp(startMin, 0, IntervalMinutes-1)
	startSec = clamp(startSec, 0, 59)
	endMin = clamp(endMin, startMin, IntervalMinutes-1)

	windowStart := candleStartMillis + int64(startMin)*60_000 + int64(startSec)*1000
	windowEnd := candleStartMillis + int64(endMin)*60_000 + 59_000 + 999
	return windowStart, windowEnd
}

func toMillis(ts int64) int64 {
	if ts > millisCutoff {
		return ts
	}
	return ts * 1000
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
