package sessionlog

import (
	"sync/atomic"
)

// Sequencer hands out process-wide, strictly increasing record sequence
// numbers shared by every session log.
type Sequencer struct {
	current int64
}

// NewSequencer creates a sequencer whose first number is 1.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next returns a new sequence number. Safe for concurrent use.
func (s *Sequencer) Next() int64 {
	return atomic.AddInt64(&s.current, 1)
}

// Current returns the last issued number without advancing.
func (s *Sequencer) Current() int64 {
	return atomic.LoadInt64(&s.current)
}

// Observe advances the sequencer so that the next number exceeds seq. Used
// after restoring persisted records.
func (s *Sequencer) Observe(seq int64) {
	for {
		cur := atomic.LoadInt64(&s.current)
		if seq <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&s.current, cur, seq) {
			return
		}
	}
}
