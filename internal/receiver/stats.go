package receiver

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/meridian-sensing/framelink/internal/monitoring"
)

// statsWindow bounds the number of inter-frame intervals retained for
// statistics. At 60 fps this covers well over a minute of acquisition.
const statsWindow = 4096

// FrameStats tracks frame delivery counters and inter-frame arrival jitter
// with thread-safe operations.
type FrameStats struct {
	mu            sync.Mutex
	frames        int64
	bytes         int64
	dropped       int64
	lastArrival   time.Time
	intervals     []float64 // seconds, ring-buffered to statsWindow
	intervalIndex int
	intervalFull  bool
}

// StatsSnapshot is a point-in-time copy of the acquisition statistics.
// Interval figures are in seconds over the retained window.
type StatsSnapshot struct {
	Frames         int64   `json:"frames"`
	Bytes          int64   `json:"bytes"`
	PacketsDropped int64   `json:"packets_dropped"`
	IntervalMean   float64 `json:"interval_mean_s"`
	IntervalStdDev float64 `json:"interval_stddev_s"`
	IntervalP99    float64 `json:"interval_p99_s"`
}

// NewFrameStats creates an empty FrameStats.
func NewFrameStats() *FrameStats {
	return &FrameStats{intervals: make([]float64, statsWindow)}
}

// AddFrame records one successfully retrieved frame.
func (s *FrameStats) AddFrame(bytes, dropped int64, arrival time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	s.bytes += bytes
	s.dropped += dropped

	if !s.lastArrival.IsZero() {
		s.intervals[s.intervalIndex] = arrival.Sub(s.lastArrival).Seconds()
		s.intervalIndex++
		if s.intervalIndex == len(s.intervals) {
			s.intervalIndex = 0
			s.intervalFull = true
		}
	}
	s.lastArrival = arrival
}

// Snapshot returns the current statistics.
func (s *FrameStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Frames:         s.frames,
		Bytes:          s.bytes,
		PacketsDropped: s.dropped,
	}

	n := s.intervalIndex
	if s.intervalFull {
		n = len(s.intervals)
	}
	if n == 0 {
		return snap
	}

	window := make([]float64, n)
	copy(window, s.intervals[:n])
	snap.IntervalMean = stat.Mean(window, nil)
	if n > 1 {
		snap.IntervalStdDev = stat.StdDev(window, nil)
	}
	sort.Float64s(window)
	snap.IntervalP99 = stat.Quantile(0.99, stat.Empirical, window, nil)
	return snap
}

// LogStats emits a one-line summary of the current snapshot.
func (s *FrameStats) LogStats() {
	snap := s.Snapshot()
	monitoring.Logf("frames=%d bytes=%d dropped=%d interval mean=%.4fs stddev=%.4fs p99=%.4fs",
		snap.Frames, snap.Bytes, snap.PacketsDropped,
		snap.IntervalMean, snap.IntervalStdDev, snap.IntervalP99)
}
