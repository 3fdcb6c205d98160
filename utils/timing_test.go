package utils

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationUS(t *testing.T) {
	d := 1234*time.Microsecond + 567*time.Nanosecond
	got := DurationUS(d)
	if math.Abs(got-1234.567) > 0.001 {
		t.Fatalf("want 1234.567µs, got %.3f", got)
	}
}

func TestTrackAndAdd(t *testing.T) {
	var s TimingStats
	stop := s.Track(&s.ForwardPassTime)
	time.Sleep(time.Millisecond)
	stop()
	assert.GreaterOrEqual(t, s.ForwardPassTime, time.Millisecond)

	total := TimingStats{ForwardPassTime: time.Second}
	total.Add(&s)
	assert.Equal(t, time.Second+s.ForwardPassTime, total.ForwardPassTime)
}

func TestPrintTimingStats(t *testing.T) {
	var buf bytes.Buffer
	oldOut, oldVerbose := Output, Verbose
	t.Cleanup(func() { Output, Verbose = oldOut, oldVerbose })
	Output = &buf

	stats := &TimingStats{TotalTime: 10 * time.Second, ForwardPassTime: 4 * time.Second}
	PrintTimingStats(stats, 0)
	assert.Contains(t, buf.String(), "Forward pass: 4s (40.0%)")
	assert.NotContains(t, buf.String(), "Encryption")

	buf.Reset()
	Verbose = false
	PrintTimingStats(stats, 2)
	assert.Empty(t, buf.String())
}
