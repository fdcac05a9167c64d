package session

import (
	"sync"
)

// Registry maps session ids to conversation histories and to the session
// currently connected under each id. Histories live as long as the
// process.
type Registry struct {
	mu        sync.Mutex
	histories map[string]*History
	active    map[string]*Session
	opened    int64

	metrics *MetricsCollector
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		histories: make(map[string]*History),
		active:    make(map[string]*Session),
		metrics:   NewMetricsCollector(),
	}
}

// History returns the history for id, creating it if needed.
func (r *Registry) History(id string) *History {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histories[id]
	if !ok {
		h = &History{}
		r.histories[id] = h
	}
	return h
}

// Lookup returns the history for id if one exists.
func (r *Registry) Lookup(id string) (*History, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histories[id]
	return h, ok
}

// Active returns the session connected under id, if any.
func (r *Registry) Active(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.active[id]
	return s, ok
}

// Metrics returns the shared turn metrics collector.
func (r *Registry) Metrics() *MetricsCollector {
	return r.metrics
}

// attach makes s the active session for its id and returns the session it
// replaced.
func (r *Registry) attach(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.active[s.id]
	r.active[s.id] = s
	r.opened++
	return old
}

func (r *Registry) detach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[s.id] == s {
		delete(r.active, s.id)
	}
}

// Stats is a registry snapshot.
type Stats struct {
	ActiveSessions int   `json:"active_sessions"`
	KnownSessions  int   `json:"known_sessions"`
	TotalSessions  int64 `json:"total_sessions"`
	Turns          int   `json:"turns"`

	AvgGenerateMs   int64 `json:"avg_generate_ms"`
	AvgFirstAudioMs int64 `json:"avg_first_audio_ms"`
	AvgTotalMs      int64 `json:"avg_total_ms"`
}

// Stats returns current counts and average turn latencies.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	st := Stats{
		ActiveSessions: len(r.active),
		KnownSessions:  len(r.histories),
		TotalSessions:  r.opened,
	}
	r.mu.Unlock()

	avg := r.metrics.Average()
	st.Turns = r.metrics.Count()
	st.AvgGenerateMs = avg.Generate.Milliseconds()
	st.AvgFirstAudioMs = avg.FirstAudio.Milliseconds()
	st.AvgTotalMs = avg.Total.Milliseconds()
	return st
}
