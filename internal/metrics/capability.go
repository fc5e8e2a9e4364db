package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

var latencyBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

// CallStats summarises the calls made to one capability.
type CallStats struct {
	TotalCalls      int64   `json:"total_calls"`
	SuccessfulCalls int64   `json:"successful_calls"`
	FailedCalls     int64   `json:"failed_calls"`
	TotalTime       float64 `json:"total_time"`
	AvgTime         float64 `json:"avg_time"`
}

// Monitor tracks calls to external capabilities (transcribe, translate,
// embed, chat, image, speech, ...) on top of a MetricsCollector.
type Monitor struct {
	collector *MetricsCollector
	mu        sync.Mutex
	names     map[string]struct{}
}

// NewMonitor returns a Monitor that records into c.
func NewMonitor(c *MetricsCollector) *Monitor {
	return &Monitor{collector: c, names: make(map[string]struct{})}
}

// Calls is the process-wide monitor backed by Collector.
var Calls = NewMonitor(Collector)

func capabilityLabel(name string) string {
	return fmt.Sprintf("capability=%q", name)
}

// Observe records one call to the named capability.
func (m *Monitor) Observe(name string, elapsed time.Duration, ok bool) {
	m.mu.Lock()
	m.names[name] = struct{}{}
	m.mu.Unlock()

	label := capabilityLabel(name)
	m.collector.Counter("mmassist_capability_calls_total", "Total external capability calls", label).Inc()
	if !ok {
		m.collector.Counter("mmassist_capability_failures_total", "Failed external capability calls", label).Inc()
	}
	m.collector.Histogram("mmassist_capability_latency_seconds", "External capability latency in seconds", label, latencyBuckets).
		Observe(elapsed.Seconds())
}

// Snapshot returns per-capability statistics keyed by capability name.
func (m *Monitor) Snapshot() map[string]CallStats {
	m.mu.Lock()
	names := make([]string, 0, len(m.names))
	for n := range m.names {
		names = append(names, n)
	}
	m.mu.Unlock()
	sort.Strings(names)

	out := make(map[string]CallStats, len(names))
	for _, n := range names {
		label := capabilityLabel(n)
		total := m.collector.Counter("mmassist_capability_calls_total", "Total external capability calls", label).Value()
		failed := m.collector.Counter("mmassist_capability_failures_total", "Failed external capability calls", label).Value()
		_, sum := m.collector.Histogram("mmassist_capability_latency_seconds", "External capability latency in seconds", label, latencyBuckets).CountSum()
		st := CallStats{
			TotalCalls:      total,
			SuccessfulCalls: total - failed,
			FailedCalls:     failed,
			TotalTime:       sum,
		}
		if total > 0 {
			st.AvgTime = sum / float64(total)
		}
		out[n] = st
	}
	return out
}

// Pre-defined metrics used across the application.
var (
	MessagesTotal = Collector.Counter("mmassist_messages_total", "Total user messages processed", "")
	ChunksIndexed = Collector.Counter("mmassist_chunks_indexed_total", "Total chunks added to the vector index", "")
	IndexEntries  = Collector.Gauge("mmassist_index_entries", "Current number of vector index entries", "")
)
