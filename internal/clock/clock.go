// Package clock provides the monotonic timestamps used for latency
// measurement. All latency spans are (end - start) reads of this clock;
// wall-clock time is only used for load-test duration budgets.
package clock

import "time"

var epoch = time.Now()

// NowMicros returns microseconds since an arbitrary process-local epoch.
// The reading is monotonic: it never jumps backwards on wall-clock
// adjustment.
func NowMicros() uint64 {
	return uint64(time.Since(epoch).Microseconds())
}

// SinceMicros returns the elapsed microseconds since a previous NowMicros
// reading.
func SinceMicros(start uint64) uint64 {
	now := NowMicros()
	if now < start {
		return 0
	}
	return now - start
}
