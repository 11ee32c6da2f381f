package serverstate

import "sync/atomic"

// State is the shared server status. The draining flag is not part of it:
// each process drains on its own signal and starts undrained.
type State struct {
	Status string `json:"status"`
}

// Store defines how the server state is persisted: in memory for a single
// replica, or in Redis when replicas behind a balancer share it.
type Store interface {
	Load() State
	Store(State)
}

var active Store = NewMemoryStore()

// UseStore replaces the active Store.
func UseStore(s Store) {
	if s != nil {
		active = s
	}
}

type memoryStore struct {
	v atomic.Value
}

// NewMemoryStore returns a memory-backed Store initialized to "not_ready".
func NewMemoryStore() Store {
	ms := &memoryStore{}
	ms.v.Store(State{Status: "not_ready"})
	return ms
}

func (m *memoryStore) Load() State {
	if st, ok := m.v.Load().(State); ok {
		return st
	}
	return State{Status: "unknown"}
}

func (m *memoryStore) Store(s State) {
	m.v.Store(s)
}

// SetState updates the server status string.
func SetState(status string) {
	st := active.Load()
	st.Status = status
	active.Store(st)
}

// GetState returns the current server status.
func GetState() string {
	return active.Load().Status
}

var draining atomic.Bool

// StartDrain marks this process as draining.
func StartDrain() {
	draining.Store(true)
	SetState("draining")
}

// StopDrain clears the draining flag of this process.
func StopDrain() {
	draining.Store(false)
}

// IsDraining reports whether this process is draining.
func IsDraining() bool {
	return draining.Load()
}
