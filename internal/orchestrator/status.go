package orchestrator

import (
	"sync"
	"time"
)

// AdapterStatus is one adapter's health as seen by the last request that
// touched it. Zero LastError means the last call succeeded.
type AdapterStatus struct {
	Configured    bool       `json:"configured"`
	LastError     string     `json:"last_error,omitempty"`
	LastErrorAt   *time.Time `json:"last_error_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

type StatusSnapshot struct {
	Internal AdapterStatus `json:"internal_retrieval"`
	External AdapterStatus `json:"external_intelligence"`
}

// Status is the per-adapter health board surfaced by the debug endpoint.
// It is the only state shared across requests.
type Status struct {
	mu       sync.Mutex
	internal AdapterStatus
	external AdapterStatus
}

func NewStatus(internalConfigured, externalConfigured bool) *Status {
	return &Status{
		internal: AdapterStatus{Configured: internalConfigured},
		external: AdapterStatus{Configured: externalConfigured},
	}
}

func (s *Status) RecordInternal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record(&s.internal, err)
}

func (s *Status) RecordExternal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record(&s.external, err)
}

func (s *Status) Snapshot() StatusSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatusSnapshot{Internal: s.internal, External: s.external}
}

func record(status *AdapterStatus, err error) {
	now := time.Now().UTC()
	if err != nil {
		status.LastError = err.Error()
		status.LastErrorAt = &now
		return
	}
	status.LastError = ""
	status.LastErrorAt = nil
	status.LastSuccessAt = &now
}
