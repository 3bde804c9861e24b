// Package timestamp works with the engine's event timebase:
// nanoseconds since the Unix epoch, stored as uint64. Ingest stamps,
// tick stamps and window boundaries all share it.
package timestamp

import "time"

// Now returns the current time in the event timebase.
func Now() uint64 {
	return uint64(time.Now().UnixNano())
}

// FromTime converts a time.Time into the event timebase. Times before
// the epoch clamp to zero.
func FromTime(t time.Time) uint64 {
	ns := t.UnixNano()
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}

// ToTime converts an event timestamp back into a time.Time.
func ToTime(ns uint64) time.Time {
	return time.Unix(0, int64(ns))
}

// Add advances a timestamp by a duration. Negative durations clamp at
// zero rather than wrapping.
func Add(ns uint64, d time.Duration) uint64 {
	if d < 0 {
		neg := uint64(-d)
		if neg > ns {
			return 0
		}
		return ns - neg
	}
	return ns + uint64(d)
}

// Since reports how far in the past a timestamp lies.
func Since(ns uint64) time.Duration {
	return time.Duration(Now() - ns)
}

// Format renders a timestamp as RFC 3339 with nanoseconds, the shape
// used in logs and error events.
func Format(ns uint64) string {
	return ToTime(ns).UTC().Format(time.RFC3339Nano)
}
