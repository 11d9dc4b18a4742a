package liveness

import (
	"sync"
	"time"
)

// Status is the heartbeat status ladder.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusBlocked  Status = "blocked"
)

// Snapshot is a copy of the tracker state.
type Snapshot struct {
	LastAction string    `json:"lastAction"`
	NextAction string    `json:"nextAction"`
	LastActive time.Time `json:"lastActive"`
}

// Tracker records the agent's last and next action. One Tracker is shared
// by reference between every operation of a process; last writer wins.
type Tracker struct {
	mu    sync.Mutex
	state Snapshot
	now   func() time.Time
}

// NewTracker returns a tracker in its initial state.
func NewTracker() *Tracker {
	return NewTrackerWithClock(time.Now)
}

func NewTrackerWithClock(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now: now,
		state: Snapshot{
			LastAction: "initialized",
			NextAction: "awaiting discovery",
			LastActive: now(),
		},
	}
}

// Track records a notable step. A nil tracker ignores the call.
func (t *Tracker) Track(action, next string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Snapshot{LastAction: action, NextAction: next, LastActive: t.now()}
}

func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ResolveStatus applies the staged check: no marketplace token blocks the
// agent, no model token degrades it.
func ResolveStatus(marketplaceToken, modelToken string) Status {
	if marketplaceToken == "" {
		return StatusBlocked
	}
	if modelToken == "" {
		return StatusDegraded
	}
	return StatusOK
}
