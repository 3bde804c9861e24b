package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	now := time.Now()
	assert.Equal(t, now.UnixNano(), ToTime(FromTime(now)).UnixNano())
}

func TestFromTimeClampsPreEpoch(t *testing.T) {
	assert.Equal(t, uint64(0), FromTime(time.Unix(-10, 0)))
}

func TestAdd(t *testing.T) {
	base := uint64(time.Second)
	assert.Equal(t, base+uint64(time.Millisecond), Add(base, time.Millisecond))
	assert.Equal(t, uint64(0), Add(base, -2*time.Second), "negative past zero clamps")
	assert.Equal(t, base-uint64(time.Millisecond), Add(base, -time.Millisecond))
}

func TestSince(t *testing.T) {
	past := Now() - uint64(time.Second)
	got := Since(past)
	assert.GreaterOrEqual(t, got, time.Second)
	assert.Less(t, got, 2*time.Second)
}

func TestFormat(t *testing.T) {
	ns := FromTime(time.Date(2024, 3, 1, 12, 0, 0, 500, time.UTC))
	assert.Equal(t, "2024-03-01T12:00:00.0000005Z", Format(ns))
}
