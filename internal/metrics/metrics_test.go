package metrics

import "testing"

func TestRecordPixelSetAndRead(t *testing.T) {
	m := New()
	m.RecordPixelSet()
	m.RecordPixelSet()
	m.RecordPixelRead(5_000)

	snap := m.Snapshot()
	if snap.PixelsSet != 2 {
		t.Errorf("PixelsSet = %d, want 2", snap.PixelsSet)
	}
	if snap.PixelsRead != 1 {
		t.Errorf("PixelsRead = %d, want 1", snap.PixelsRead)
	}
}

func TestConnectionLifecycle(t *testing.T) {
	m := New()
	m.RecordConnectionOpened()
	m.RecordConnectionOpened()
	m.RecordConnectionClosed()

	snap := m.Snapshot()
	if snap.ConnectionsActive != 1 {
		t.Errorf("ConnectionsActive = %d, want 1", snap.ConnectionsActive)
	}
	if snap.ConnectionsTotal != 2 {
		t.Errorf("ConnectionsTotal = %d, want 2", snap.ConnectionsTotal)
	}
}

func TestLatencyPercentilesMonotonic(t *testing.T) {
	m := New()
	for i := 0; i < 100; i++ {
		m.RecordPixelRead(uint64(i) * 100_000)
	}
	snap := m.Snapshot()
	if !(snap.LatencyP50Ns <= snap.LatencyP99Ns && snap.LatencyP99Ns <= snap.LatencyP999Ns) {
		t.Fatalf("percentiles not monotonic: p50=%d p99=%d p999=%d", snap.LatencyP50Ns, snap.LatencyP99Ns, snap.LatencyP999Ns)
	}
}

func TestNoOpObserverSatisfiesInterface(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObservePixelSet()
	o.ObserveParseError()
}

func TestMetricsObserverRecordsIntoMetrics(t *testing.T) {
	m := New()
	o := NewObserver(m)
	o.ObservePixelSet()
	o.ObserveConnectionOpened()
	o.ObserveBytesRead(128)

	snap := m.Snapshot()
	if snap.PixelsSet != 1 || snap.ConnectionsActive != 1 || snap.BytesRead != 128 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
