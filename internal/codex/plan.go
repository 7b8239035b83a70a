package codex

import (
	"strings"
	"sync"
	"time"
)

// PlanStep is one entry of a turn plan.
type PlanStep struct {
	Step   string `json:"step"`
	Status string `json:"status"`
}

// PlanSnapshot is the latest plan the agent published for a session.
type PlanSnapshot struct {
	SessionID   string     `json:"sessionId"`
	TurnID      string     `json:"turnId"`
	Explanation string     `json:"explanation,omitempty"`
	Plan        []PlanStep `json:"plan"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PlanStore caches the latest turn plan per session, last write wins.
// No history is retained.
type PlanStore struct {
	mu        sync.RWMutex
	snapshots map[string]PlanSnapshot
}

// NewPlanStore creates an empty store.
func NewPlanStore() *PlanStore {
	return &PlanStore{snapshots: make(map[string]PlanSnapshot)}
}

// Upsert replaces the stored snapshot for the snapshot's session. Snapshots
// without a session id are ignored.
func (s *PlanStore) Upsert(snapshot PlanSnapshot) {
	sessionID := strings.TrimSpace(snapshot.SessionID)
	if sessionID == "" {
		return
	}
	s.mu.Lock()
	s.snapshots[sessionID] = snapshot
	s.mu.Unlock()
}

// Get returns the stored snapshot for a session.
func (s *PlanStore) Get(sessionID string) (PlanSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[strings.TrimSpace(sessionID)]
	return snapshot, ok
}
