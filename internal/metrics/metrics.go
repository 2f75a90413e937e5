// Package metrics tracks pixel-plane throughput and connection counts,
// generalized from the block-I/O counters the device layer this codebase
// started as used to track: same atomic-counter-plus-log-bucketed-histogram
// shape, pointed at pixels and connections instead of sectors and queues.
package metrics

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the read-latency histogram buckets in nanoseconds,
// logarithmically spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for the pixelflut
// server as a whole (shared across all lackeys).
type Metrics struct {
	PixelsSet  atomic.Uint64
	PixelsRead atomic.Uint64

	ConnectionsActive atomic.Int64
	ConnectionsTotal  atomic.Uint64

	BytesRead   atomic.Uint64
	ParseErrors atomic.Uint64

	TotalLatencyNs atomic.Uint64 // cumulative GetPixel reply latency
	OpCount        atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// New creates a new metrics instance with StartTime set to now.
func New() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordPixelSet records a successful PX set command.
func (m *Metrics) RecordPixelSet() {
	m.PixelsSet.Add(1)
}

// RecordPixelRead records a PX get command and its reply latency.
func (m *Metrics) RecordPixelRead(latencyNs uint64) {
	m.PixelsRead.Add(1)
	m.recordLatency(latencyNs)
}

// RecordConnectionOpened records a new accepted connection.
func (m *Metrics) RecordConnectionOpened() {
	m.ConnectionsActive.Add(1)
	m.ConnectionsTotal.Add(1)
}

// RecordConnectionClosed records a connection going away.
func (m *Metrics) RecordConnectionClosed() {
	m.ConnectionsActive.Add(-1)
}

// RecordBytesRead records bytes consumed off a connection's socket.
func (m *Metrics) RecordBytesRead(n uint64) {
	m.BytesRead.Add(n)
}

// RecordParseError records one dropped/invalid command.
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Add(1)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the server as stopped, fixing uptime calculations.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// Snapshot is a point-in-time, JSON-serializable view of Metrics.
type Snapshot struct {
	PixelsSet         uint64 `json:"pixels_set"`
	PixelsRead        uint64 `json:"pixels_read"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  uint64 `json:"connections_total"`
	BytesRead         uint64 `json:"bytes_read"`
	ParseErrors       uint64 `json:"parse_errors"`

	AvgReadLatencyNs uint64 `json:"avg_read_latency_ns"`
	UptimeNs         uint64 `json:"uptime_ns"`

	LatencyP50Ns  uint64 `json:"latency_p50_ns"`
	LatencyP99Ns  uint64 `json:"latency_p99_ns"`
	LatencyP999Ns uint64 `json:"latency_p999_ns"`

	LatencyHistogram [numLatencyBuckets]uint64 `json:"latency_histogram"`

	PixelSetRate  float64 `json:"pixel_set_rate"`
	PixelReadRate float64 `json:"pixel_read_rate"`
}

// Snapshot creates a point-in-time snapshot of the metrics.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		PixelsSet:         m.PixelsSet.Load(),
		PixelsRead:        m.PixelsRead.Load(),
		ConnectionsActive: m.ConnectionsActive.Load(),
		ConnectionsTotal:  m.ConnectionsTotal.Load(),
		BytesRead:         m.BytesRead.Load(),
		ParseErrors:       m.ParseErrors.Load(),
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgReadLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.PixelSetRate = float64(snap.PixelsSet) / uptimeSeconds
		snap.PixelReadRate = float64(snap.PixelsRead) / uptimeSeconds
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile (0.0-1.0)
// by linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}

	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable metrics collection independent of the concrete
// Metrics type, so lackeys/empress can be tested against a no-op.
type Observer interface {
	ObservePixelSet()
	ObservePixelRead(latencyNs uint64)
	ObserveConnectionOpened()
	ObserveConnectionClosed()
	ObserveBytesRead(n uint64)
	ObserveParseError()
}

// NoOpObserver discards everything; used in tests that don't care about
// metrics output.
type NoOpObserver struct{}

func (NoOpObserver) ObservePixelSet()             {}
func (NoOpObserver) ObservePixelRead(uint64)       {}
func (NoOpObserver) ObserveConnectionOpened()      {}
func (NoOpObserver) ObserveConnectionClosed()      {}
func (NoOpObserver) ObserveBytesRead(uint64)       {}
func (NoOpObserver) ObserveParseError()            {}

// MetricsObserver implements Observer by recording into a *Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewObserver creates an Observer that records into the given Metrics.
func NewObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObservePixelSet()               { o.metrics.RecordPixelSet() }
func (o *MetricsObserver) ObservePixelRead(latencyNs uint64) { o.metrics.RecordPixelRead(latencyNs) }
func (o *MetricsObserver) ObserveConnectionOpened()        { o.metrics.RecordConnectionOpened() }
func (o *MetricsObserver) ObserveConnectionClosed()        { o.metrics.RecordConnectionClosed() }
func (o *MetricsObserver) ObserveBytesRead(n uint64)       { o.metrics.RecordBytesRead(n) }
func (o *MetricsObserver) ObserveParseError()              { o.metrics.RecordParseError() }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
