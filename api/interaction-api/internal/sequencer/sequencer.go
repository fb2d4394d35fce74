// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_sequencer

import (
	"errors"
	"sync"
)

// ErrUnboundSession is returned by Next when the requested session id is not
// the one the sequencer is bound to.
var ErrUnboundSession = errors.New("sequence requested for unbound session")

// Sequencer hands out per-session monotonic sequence numbers, the canonical
// order key of captured records, independent of wall-clock skew. One instance
// is owned by exactly one interaction logger; there is no process-wide
// counter shared across sessions.
type Sequencer struct {
	mu        sync.Mutex
	sessionID string
	next      uint64
}

func New() *Sequencer {
	return &Sequencer{}
}

// Bind resets the counter for a freshly generated session id. Session ids
// are never reused, so binding is the only way the counter returns to 0.
func (s *Sequencer) Bind(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
	s.next = 0
}

// Next returns the next sequence number for sessionID, strictly increasing
// from 0 within one session. A sessionID other than the bound one is rejected
// with ErrUnboundSession: rebinding here would reset the counter and could
// re-issue numbers already handed out for a session that was being rotated
// out concurrently.
func (s *Sequencer) Next(sessionID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.sessionID {
		return 0, ErrUnboundSession
	}
	n := s.next
	s.next++
	return n, nil
}

// Current returns the number of sequence numbers handed out for the bound
// session (i.e. the value the next call to Next would return).
func (s *Sequencer) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
