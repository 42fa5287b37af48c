package core

import "sync/atomic"

// Sequencer issues strictly monotonic fill sequence numbers, global
// across all instruments served by one engine instance.
type Sequencer struct {
	next atomic.Uint64
}

// NewSequencer creates a sequencer starting after the given value.
func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued sequence number.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
