package plugin

import (
	"sync"
	"time"
)

const (
	// errorRingSize caps the retained error records per plugin.
	errorRingSize = 100

	// degradedThreshold is the error count in degradedWindow that flips
	// health to degraded.
	degradedThreshold = 5
	degradedWindow    = 5 * time.Minute
)

// Metrics accumulates one plugin's execution statistics: load time,
// per-tool call accounting, plugin-reported counters, and a bounded ring
// of recent errors.
type Metrics struct {
	mu       sync.Mutex
	loadTime time.Duration
	tools    map[string]*toolStats
	counters map[string]float64

	errs     [errorRingSize]errorRecord
	errCount int
	errNext  int
}

type toolStats struct {
	calls    int64
	errors   int64
	totalDur time.Duration
}

type errorRecord struct {
	At      time.Time
	Message string
}

// ErrorRecord is one retained plugin error.
type ErrorRecord struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// NewMetrics creates empty metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		tools:    make(map[string]*toolStats),
		counters: make(map[string]float64),
	}
}

// SetLoadTime records how long on_load took.
func (m *Metrics) SetLoadTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadTime = d
}

// RecordCall accounts one tool execution. Failed calls also land in the
// error ring.
func (m *Metrics) RecordCall(tool string, dur time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.tools[tool]
	if ts == nil {
		ts = &toolStats{}
		m.tools[tool] = ts
	}
	ts.calls++
	ts.totalDur += dur
	if err != nil {
		ts.errors++
		m.pushError(err.Error())
	}
}

// RecordError adds an error outside tool execution (hooks, event
// handlers) to the ring.
func (m *Metrics) RecordError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushError(msg)
}

// pushError appends to the ring. Callers hold m.mu.
func (m *Metrics) pushError(msg string) {
	m.errs[m.errNext] = errorRecord{At: time.Now(), Message: msg}
	m.errNext = (m.errNext + 1) % errorRingSize
	if m.errCount < errorRingSize {
		m.errCount++
	}
}

// Errors returns retained errors, oldest first.
func (m *Metrics) Errors() []ErrorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ErrorRecord, 0, m.errCount)
	start := m.errNext - m.errCount
	if start < 0 {
		start += errorRingSize
	}
	for i := 0; i < m.errCount; i++ {
		rec := m.errs[(start+i)%errorRingSize]
		out = append(out, ErrorRecord{At: rec.At, Message: rec.Message})
	}
	return out
}

// Healthy reports whether the plugin is below the recent-error threshold.
func (m *Metrics) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-degradedWindow)
	recent := 0
	for i := 0; i < m.errCount; i++ {
		if m.errs[i].At.After(cutoff) {
			recent++
		}
	}
	return recent <= degradedThreshold
}

// Add increments a plugin-reported counter.
func (m *Metrics) Add(name string, delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

// Snapshot returns current plugin-reported counter values.
func (m *Metrics) Snapshot() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]float64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// ToolReport is the derived statistics for one tool.
type ToolReport struct {
	Calls       int64         `json:"calls"`
	Errors      int64         `json:"errors"`
	ErrorRate   float64       `json:"error_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Report is a full metrics snapshot for one plugin.
type Report struct {
	LoadTime time.Duration         `json:"load_time"`
	Tools    map[string]ToolReport `json:"tools"`
	Counters map[string]float64    `json:"counters,omitempty"`
	Errors   []ErrorRecord         `json:"recent_errors,omitempty"`
	Healthy  bool                  `json:"healthy"`
}

// Report derives the full snapshot.
func (m *Metrics) Report() Report {
	errs := m.Errors()
	healthy := m.Healthy()

	m.mu.Lock()
	defer m.mu.Unlock()

	rep := Report{
		LoadTime: m.loadTime,
		Tools:    make(map[string]ToolReport, len(m.tools)),
		Counters: make(map[string]float64, len(m.counters)),
		Errors:   errs,
		Healthy:  healthy,
	}
	for name, ts := range m.tools {
		tr := ToolReport{Calls: ts.calls, Errors: ts.errors}
		if ts.calls > 0 {
			tr.ErrorRate = float64(ts.errors) / float64(ts.calls)
			tr.AvgDuration = ts.totalDur / time.Duration(ts.calls)
		}
		rep.Tools[name] = tr
	}
	for k, v := range m.counters {
		rep.Counters[k] = v
	}
	return rep
}
