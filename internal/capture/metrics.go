package capture

import (
	"sync"
	"time"
)

// Metrics counts frames crossing the router for one session.
type Metrics struct {
	mu sync.RWMutex

	VideoDelivered uint64
	VideoWritten   uint64
	VideoDropped   uint64
	AudioDelivered uint64
	AudioWritten   uint64
	AudioDropped   uint64
	UnknownDropped uint64
	// ReleasedDropped counts frames that arrived after the outputs were
	// released, when they can no longer be classified.
	ReleasedDropped uint64

	BytesWritten  uint64
	LastHandoff   time.Duration
	startTime     time.Time
	recordStarted time.Time
}

func newMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) RecordDelivered(kind MediaKind) {
	m.mu.Lock()
	if kind == MediaAudio {
		m.AudioDelivered++
	} else {
		m.VideoDelivered++
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordWritten(kind MediaKind, size int, handoff time.Duration) {
	m.mu.Lock()
	if kind == MediaAudio {
		m.AudioWritten++
	} else {
		m.VideoWritten++
	}
	m.BytesWritten += uint64(size)
	m.LastHandoff = handoff
	m.mu.Unlock()
}

func (m *Metrics) RecordDrop(kind MediaKind) {
	m.mu.Lock()
	if kind == MediaAudio {
		m.AudioDropped++
	} else {
		m.VideoDropped++
	}
	m.mu.Unlock()
}

func (m *Metrics) RecordUnknown() {
	m.mu.Lock()
	m.UnknownDropped++
	m.mu.Unlock()
}

func (m *Metrics) RecordReleased() {
	m.mu.Lock()
	m.ReleasedDropped++
	m.mu.Unlock()
}

func (m *Metrics) markRecording() {
	m.mu.Lock()
	if m.recordStarted.IsZero() {
		m.recordStarted = time.Now()
	}
	m.mu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of metrics for logging.
type MetricsSnapshot struct {
	VideoDelivered  uint64
	VideoWritten    uint64
	VideoDropped    uint64
	AudioDelivered  uint64
	AudioWritten    uint64
	AudioDropped    uint64
	UnknownDropped  uint64
	ReleasedDropped uint64
	BytesWritten    uint64
	HandoffMs       float64
	ThroughputKBps  float64
	Uptime          time.Duration
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uptime := time.Since(m.startTime)
	kbps := float64(0)
	if !m.recordStarted.IsZero() {
		if secs := time.Since(m.recordStarted).Seconds(); secs > 0 {
			kbps = float64(m.BytesWritten) / secs / 1024.0
		}
	}

	return MetricsSnapshot{
		VideoDelivered:  m.VideoDelivered,
		VideoWritten:    m.VideoWritten,
		VideoDropped:    m.VideoDropped,
		AudioDelivered:  m.AudioDelivered,
		AudioWritten:    m.AudioWritten,
		AudioDropped:    m.AudioDropped,
		UnknownDropped:  m.UnknownDropped,
		ReleasedDropped: m.ReleasedDropped,
		BytesWritten:    m.BytesWritten,
		HandoffMs:       float64(m.LastHandoff.Microseconds()) / 1000.0,
		ThroughputKBps:  kbps,
		Uptime:          uptime,
	}
}
