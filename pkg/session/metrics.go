package session

import (
	"sync"
	"time"

	"github.com/teslashibe/go-tony/pkg/protocol"
)

const metricsHistory = 100

// TurnMetrics tracks latency through one turn. All durations are measured
// from the moment the final transcript arrived.
type TurnMetrics struct {
	Start time.Time

	Generate   time.Duration // first generation round
	Tools      time.Duration // tool dispatch and follow-up round
	FirstAudio time.Duration
	Total      time.Duration

	ToolCalls int
	Chunks    int
}

func newTurnMetrics() *TurnMetrics {
	return &TurnMetrics{Start: time.Now()}
}

func (m *TurnMetrics) markFirstAudio() {
	if m.FirstAudio == 0 {
		m.FirstAudio = time.Since(m.Start)
	}
}

func (m *TurnMetrics) finish() {
	m.Total = time.Since(m.Start)
}

// Data returns the monitor feed payload.
func (m *TurnMetrics) Data() protocol.TurnMetricsData {
	return protocol.TurnMetricsData{
		GenerateMs:   m.Generate.Milliseconds(),
		ToolsMs:      m.Tools.Milliseconds(),
		FirstAudioMs: m.FirstAudio.Milliseconds(),
		TotalMs:      m.Total.Milliseconds(),
		Chunks:       m.Chunks,
	}
}

// FormatLatency returns a one-line latency summary.
func (m *TurnMetrics) FormatLatency() string {
	return formatDuration(m.Generate) + " LLM | " +
		formatDuration(m.Tools) + " tools | " +
		formatDuration(m.FirstAudio) + " TTS | " +
		formatDuration(m.Total) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}

// MetricsCollector keeps recent turn metrics for averaging.
// It is safe for concurrent use.
type MetricsCollector struct {
	mu      sync.Mutex
	history []TurnMetrics
	count   int
}

// NewMetricsCollector creates a collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{history: make([]TurnMetrics, 0, metricsHistory)}
}

// Record archives a finished turn.
func (c *MetricsCollector) Record(m TurnMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	c.history = append(c.history, m)
	if len(c.history) > metricsHistory {
		c.history = c.history[1:]
	}
}

// Count returns the number of turns recorded since start.
func (c *MetricsCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Average returns average latencies over recent turns.
func (c *MetricsCollector) Average() TurnMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.history) == 0 {
		return TurnMetrics{}
	}

	var avg TurnMetrics
	for _, h := range c.history {
		avg.Generate += h.Generate
		avg.Tools += h.Tools
		avg.FirstAudio += h.FirstAudio
		avg.Total += h.Total
		avg.Chunks += h.Chunks
		avg.ToolCalls += h.ToolCalls
	}

	n := len(c.history)
	avg.Generate /= time.Duration(n)
	avg.Tools /= time.Duration(n)
	avg.FirstAudio /= time.Duration(n)
	avg.Total /= time.Duration(n)
	avg.Chunks /= n
	avg.ToolCalls /= n
	return avg
}
