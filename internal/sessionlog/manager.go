package sessionlog

import (
	"sort"
	"strings"
	"sync"

	"hypoguard/domain/core"
)

// Manager owns one Log per session and a shared Sequencer.
type Manager struct {
	seq   *Sequencer
	clock core.Clock

	mu   sync.RWMutex
	logs map[core.SessionID]*Log
}

// NewManager creates a manager with no sessions.
func NewManager(clock core.Clock) *Manager {
	if clock == nil {
		clock = core.SystemClock
	}
	return &Manager{
		seq:   NewSequencer(),
		clock: clock,
		logs:  make(map[core.SessionID]*Log),
	}
}

// Open returns the session's log, creating it on first use.
func (m *Manager) Open(id core.SessionID) (*Log, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, core.NewValidationError("session_id", "cannot be empty")
	}

	m.mu.RLock()
	l, ok := m.logs[id]
	m.mu.RUnlock()
	if ok {
		return l, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.logs[id]; ok {
		return l, nil
	}
	l = NewLog(id, m.seq, m.clock)
	m.logs[id] = l
	return l, nil
}

// Lookup returns an existing log without creating one.
func (m *Manager) Lookup(id core.SessionID) (*Log, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.logs[id]
	return l, ok
}

// Sessions lists known session ids, sorted.
func (m *Manager) Sessions() []core.SessionID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]core.SessionID, 0, len(m.logs))
	for id := range m.logs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Restore loads persisted records into a fresh session log.
func (m *Manager) Restore(id core.SessionID, records []Record) error {
	l, err := m.Open(id)
	if err != nil {
		return err
	}
	return l.Restore(records)
}
