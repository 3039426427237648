package sessionlog

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"hypoguard/domain/core"
)

// Log is the append-only test log of one session.
type Log struct {
	sessionID core.SessionID
	seq       *Sequencer
	clock     core.Clock

	mu      sync.RWMutex
	records []Record
	index   map[core.SessionTestID]int
}

// Snapshot is a read-only copy of a session log.
type Snapshot struct {
	SessionID   core.SessionID `json:"session_id" yaml:"session_id"`
	Records     []Record       `json:"records" yaml:"records"`
	TakenAt     time.Time      `json:"taken_at" yaml:"taken_at"`
	Fingerprint core.Hash      `json:"fingerprint" yaml:"fingerprint"`
}

// NewLog creates an empty log. Nil seq or clock get fresh defaults.
func NewLog(sessionID core.SessionID, seq *Sequencer, clock core.Clock) *Log {
	if seq == nil {
		seq = NewSequencer()
	}
	if clock == nil {
		clock = core.SystemClock
	}
	return &Log{
		sessionID: sessionID,
		seq:       seq,
		clock:     clock,
		index:     make(map[core.SessionTestID]int),
	}
}

// SessionID returns the owning session.
func (l *Log) SessionID() core.SessionID {
	return l.sessionID
}

// Append validates e and adds it as a new record.
func (l *Log) Append(e Entry) (Record, error) {
	if err := e.Validate(); err != nil {
		return Record{}, err
	}
	ts := e.Timestamp
	if ts.IsZero() {
		ts = l.clock()
	}
	rec := Record{
		ID:               core.NewSessionTestID(),
		Timestamp:        ts,
		TestType:         e.TestType,
		Variables:        e.Variables,
		PValue:           *e.PValue,
		EffectSize:       e.EffectSize,
		Corrected:        e.Corrected,
		CorrectionMethod: e.CorrectionMethod,
	}
	rec = rec.clone()

	l.mu.Lock()
	defer l.mu.Unlock()
	rec.Sequence = l.seq.Next()
	l.index[rec.ID] = len(l.records)
	l.records = append(l.records, rec)
	return rec.clone(), nil
}

// SetFlag updates the flagged bit of one record.
func (l *Log) SetFlag(id core.SessionTestID, flagged bool) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i, ok := l.index[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s in session %s", core.ErrSessionTestNotFound, id, l.sessionID)
	}
	l.records[i].Flagged = flagged
	return l.records[i].clone(), nil
}

// Get returns one record.
func (l *Log) Get(id core.SessionTestID) (Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s in session %s", core.ErrSessionTestNotFound, id, l.sessionID)
	}
	return l.records[i].clone(), nil
}

// Records returns copies of every record in append order.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	for i, r := range l.records {
		out[i] = r.clone()
	}
	return out
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Snapshot copies the log and fingerprints its records.
func (l *Log) Snapshot() (Snapshot, error) {
	records := l.Records()
	fp, err := core.Fingerprint(records)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fingerprint session %s: %w", l.sessionID, err)
	}
	return Snapshot{SessionID: l.sessionID, Records: records, TakenAt: l.clock(), Fingerprint: fp}, nil
}

// Restore loads persisted records into an empty log, ordered by sequence.
func (l *Log) Restore(records []Record) error {
	sorted := make([]Record, 0, len(records))
	index := make(map[core.SessionTestID]int, len(records))
	for _, r := range records {
		if err := validRecord(r); err != nil {
			return err
		}
		if _, dup := index[r.ID]; dup {
			return core.NewValidationError("id", fmt.Sprintf("duplicate record %s", r.ID))
		}
		index[r.ID] = -1
		sorted = append(sorted, r.clone())
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })
	for i, r := range sorted {
		index[r.ID] = i
		l.seq.Observe(r.Sequence)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) > 0 {
		return core.NewValidationError("session", fmt.Sprintf("session %s already has records", l.sessionID))
	}
	l.records = sorted
	l.index = index
	return nil
}
