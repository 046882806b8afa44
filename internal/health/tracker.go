// Package health samples the liveness of pipeline roles on a fixed interval
// and hands each snapshot to pluggable sinks. It is purely observational.
package health

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the coarse liveness of a single role goroutine.
type State int32

// Role states counted in a Snapshot.
const (
	StateRunning State = iota
	StateBlocked
	StateTerminated
)

// String renders the state as a metrics label.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Role is the handle a goroutine uses to publish its state. A nil *Role is
// valid and ignores updates, so roles can run untracked in tests.
type Role struct {
	name  string
	state atomic.Int32
}

// Name returns the registered role name.
func (r *Role) Name() string {
	if r == nil {
		return ""
	}
	return r.name
}

// Running marks the role as doing work.
func (r *Role) Running() { r.set(StateRunning) }

// Blocked marks the role as waiting on a queue or the broker.
func (r *Role) Blocked() { r.set(StateBlocked) }

// Terminated marks the role as exited.
func (r *Role) Terminated() { r.set(StateTerminated) }

// State returns the current state.
func (r *Role) State() State {
	if r == nil {
		return StateTerminated
	}
	return State(r.state.Load())
}

func (r *Role) set(s State) {
	if r == nil {
		return
	}
	r.state.Store(int32(s))
}

// Tracker is the group of all registered roles.
type Tracker struct {
	mu    sync.Mutex
	roles []*Role
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Register adds a role in the running state.
func (t *Tracker) Register(name string) *Role {
	r := &Role{name: name}
	t.mu.Lock()
	t.roles = append(t.roles, r)
	t.mu.Unlock()
	return r
}

// Snapshot is one sample of the role group plus local queue depths.
// ThrottledDomains counts domains inside the per-process revisit window.
type Snapshot struct {
	At               time.Time
	Running          int
	Blocked          int
	Terminated       int
	QueueDepths      map[string]int
	ThrottledDomains int
}

// Total returns the number of roles counted in the snapshot.
func (s Snapshot) Total() int {
	return s.Running + s.Blocked + s.Terminated
}

// Counts tallies roles by state.
func (t *Tracker) Counts() (running, blocked, terminated int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.roles {
		switch r.State() {
		case StateRunning:
			running++
		case StateBlocked:
			blocked++
		default:
			terminated++
		}
	}
	return running, blocked, terminated
}
