// Package streamstats reports outbound audio-frame throughput for the
// single audio pump goroutine. It is a supplemented feature, not present in
// the distilled spec, adapted from winkmichael-wink-rtsp-bench's
// internal/rtp.Aggregator: instead of aggregating RTP sequence-number loss
// across many inbound streams, it counts the one outbound stream's frames
// and bytes with the same atomic-counter, no-lock-on-the-hot-path pattern.
package streamstats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stats accumulates frame/byte counts for one audio pump run.
type Stats struct {
	framesSent atomic.Uint64
	bytesSent  atomic.Uint64
	start      time.Time
}

// New starts a Stats clock at the current time.
func New() *Stats {
	return &Stats{start: time.Now()}
}

// AddFrame records one transmitted audio frame of sampleSize bytes of
// payload (the 16-byte header is not counted, matching the pump's own
// notion of "audio data sent").
func (s *Stats) AddFrame(sampleSize int) {
	s.framesSent.Add(1)
	s.bytesSent.Add(uint64(sampleSize))
}

// Snapshot is a point-in-time read of the counters plus derived fields.
type Snapshot struct {
	FramesSent uint64
	BytesSent  uint64
	Elapsed    time.Duration
	Progress   time.Duration
}

// Snapshot reads the current counters and pairs them with progress, the
// way Aggregator.Snapshot pairs packet/byte counts for periodic logging.
func (s *Stats) Snapshot(progress time.Duration) Snapshot {
	return Snapshot{
		FramesSent: s.framesSent.Load(),
		BytesSent:  s.bytesSent.Load(),
		Elapsed:    time.Since(s.start),
		Progress:   progress,
	}
}

// Bitrate reports Snap.BytesSent as megabits/second over Elapsed, mirroring
// the teacher's Snapshot.Bitrate helper.
func (sn Snapshot) Bitrate() float64 {
	seconds := sn.Elapsed.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(sn.BytesSent) * 8 / seconds / 1_000_000
}

// LatencyTracker records RTSP command round-trip latencies and reports
// percentiles, adapted from Runner's latencies slice plus
// calculatePercentile: a streaming session has far fewer RTSP round trips
// than a benchmark has connections, but the same "note every sample, ask
// for p95 on demand" shape fits a handful of ANNOUNCE/SETUP/RECORD/
// SET_PARAMETER round trips just as well as thousands of connects.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []float64 // milliseconds
}

// NewLatencyTracker returns an empty tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{}
}

// Add records one round-trip latency.
func (lt *LatencyTracker) Add(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.samples = append(lt.samples, float64(d.Milliseconds()))
}

// Percentile returns the p-th percentile latency (0-100), linearly
// interpolated between the two bracketing samples, matching
// calculatePercentile. Returns 0 if no samples have been recorded.
func (lt *LatencyTracker) Percentile(p float64) time.Duration {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if len(lt.samples) == 0 {
		return 0
	}

	sorted := make([]float64, len(lt.samples))
	copy(sorted, lt.samples)
	sort.Float64s(sorted)

	index := (p / 100) * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return time.Duration(sorted[lower]) * time.Millisecond
	}

	weight := index - float64(lower)
	return time.Duration(sorted[lower]*(1-weight)+sorted[upper]*weight) * time.Millisecond
}
