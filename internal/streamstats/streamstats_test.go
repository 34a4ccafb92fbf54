package streamstats

import (
	"testing"
	"time"
)

func TestAddFrameAccumulates(t *testing.T) {
	s := New()
	s.AddFrame(100)
	s.AddFrame(200)

	snap := s.Snapshot(5 * time.Second)
	if snap.FramesSent != 2 {
		t.Fatalf("FramesSent = %d, want 2", snap.FramesSent)
	}
	if snap.BytesSent != 300 {
		t.Fatalf("BytesSent = %d, want 300", snap.BytesSent)
	}
	if snap.Progress != 5*time.Second {
		t.Fatalf("Progress = %v, want 5s", snap.Progress)
	}
}

func TestBitrateZeroOnNoElapsedTime(t *testing.T) {
	snap := Snapshot{BytesSent: 1000, Elapsed: 0}
	if got := snap.Bitrate(); got != 0 {
		t.Fatalf("Bitrate = %v, want 0", got)
	}
}

func TestLatencyPercentileZeroWithNoSamples(t *testing.T) {
	lt := NewLatencyTracker()
	if got := lt.Percentile(95); got != 0 {
		t.Fatalf("Percentile = %v, want 0", got)
	}
}

func TestLatencyPercentileInterpolates(t *testing.T) {
	lt := NewLatencyTracker()
	for _, ms := range []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		lt.Add(time.Duration(ms) * time.Millisecond)
	}

	p95 := lt.Percentile(95)
	if p95 < 95*time.Millisecond || p95 > 100*time.Millisecond {
		t.Fatalf("Percentile(95) = %v, want between 95ms and 100ms", p95)
	}

	p0 := lt.Percentile(0)
	if p0 != 10*time.Millisecond {
		t.Fatalf("Percentile(0) = %v, want 10ms", p0)
	}
}
