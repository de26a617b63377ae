package nutrivision

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Rejections counts camera frames turned away by each admission guard
type Rejections struct {
	NotActive int64
	Busy      int64
	Skipped   int64
	Throttled int64
}

// Metrics is a snapshot of the rolling runtime metrics
type Metrics struct {
	// FPS is 1000 / mean latency in milliseconds over the window
	FPS float64
	MinLatency time.Duration
	AvgLatency time.Duration
	MaxLatency time.Duration
	// AvgConfidence is the mean of per frame average confidences over the
	// window frames that had detections
	AvgConfidence float64
	// TotalFrames is the number of frames processed this session
	TotalFrames int64
	// SessionDuration is the time since detection was started
	SessionDuration time.Duration
	// DroppedFrames counts frames admitted but dropped by conversion failure
	DroppedFrames int64
	Rejected      Rejections
}

// sample is one processed frame in the window
type sample struct {
	latencyMs  float64
	confidence float64
	hasConf    bool
}

// metricsWindow keeps the last K frame samples, evicting the oldest
type metricsWindow struct {
	mu      sync.Mutex
	samples []sample
	next    int
	full    bool

	total    int64
	dropped  int64
	rejected Rejections
	started  time.Time
}

func newMetricsWindow(size int) *metricsWindow {

	if size < 1 {
		size = 1
	}

	return &metricsWindow{
		samples: make([]sample, size),
	}
}

// reset clears the session counters and sets the session origin
func (m *metricsWindow) reset(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clear(m.samples)
	m.next = 0
	m.full = false
	m.total = 0
	m.dropped = 0
	m.rejected = Rejections{}
	m.started = now
}

// record adds a processed frame, confidence is only sampled when the frame
// produced detections
func (m *metricsWindow) record(latency time.Duration, avgConfidence float64, detections int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[m.next] = sample{
		latencyMs:  float64(latency) / float64(time.Millisecond),
		confidence: avgConfidence,
		hasConf:    detections > 0,
	}

	m.next = (m.next + 1) % len(m.samples)

	if m.next == 0 {
		m.full = true
	}

	m.total++
}

func (m *metricsWindow) drop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropped++
}

func (m *metricsWindow) reject(fn func(r *Rejections)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn(&m.rejected)
}

// snapshot computes the metrics over the current window
func (m *metricsWindow) snapshot(now time.Time) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := Metrics{
		TotalFrames:   m.total,
		DroppedFrames: m.dropped,
		Rejected:      m.rejected,
	}

	if !m.started.IsZero() {
		out.SessionDuration = now.Sub(m.started)
	}

	n := m.next

	if m.full {
		n = len(m.samples)
	}

	if n == 0 {
		return out
	}

	latencies := make([]float64, 0, n)
	confidences := make([]float64, 0, n)

	for _, s := range m.samples[:n] {
		latencies = append(latencies, s.latencyMs)

		if s.hasConf {
			confidences = append(confidences, s.confidence)
		}
	}

	mean := stat.Mean(latencies, nil)

	if mean > 0 {
		out.FPS = 1000 / mean
	}

	out.AvgLatency = msDuration(mean)
	out.MinLatency = msDuration(floats.Min(latencies))
	out.MaxLatency = msDuration(floats.Max(latencies))

	if len(confidences) > 0 {
		out.AvgConfidence = stat.Mean(confidences, nil)
	}

	return out
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
