// Package sequence issues the monotonic numbers that order the command
// log, the event outbox and server-assigned order ids.
package sequence

import "sync/atomic"

type Sequencer struct {
	last atomic.Uint64
}

// New starts after start; the first Next returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current returns the last issued value.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Observe raises the sequencer to v if it is behind. Replay uses it so
// that ids seen in the log are never issued again.
func (s *Sequencer) Observe(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}
