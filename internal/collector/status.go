package collector

import (
	"sync"
	"time"
)

// Report describes the most recent run.
type Report struct {
	RunID    string    `json:"run_id,omitempty"`
	Running  bool      `json:"running"`
	Started  time.Time `json:"started,omitzero"`
	Finished time.Time `json:"finished,omitzero"`
	Summary  Summary   `json:"summary"`
	Error    string    `json:"error,omitempty"`
}

// Status tracks readiness and the latest run for the health endpoints.
// It is safe for concurrent use.
type Status struct {
	mu    sync.RWMutex
	ready bool
	last  Report
}

// MarkReady records that the store is connected.
func (s *Status) MarkReady() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
}

// Ready reports whether MarkReady has been called.
func (s *Status) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// Begin starts a new report.
func (s *Status) Begin(runID string, at time.Time) {
	s.mu.Lock()
	s.last = Report{RunID: runID, Running: true, Started: at}
	s.mu.Unlock()
}

// Finish closes the current report.
func (s *Status) Finish(summary Summary, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last.Running = false
	s.last.Finished = at
	s.last.Summary = summary
	s.last.Error = ""
	if err != nil {
		s.last.Error = err.Error()
	}
}

// Snapshot returns a copy of the latest report.
func (s *Status) Snapshot() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
