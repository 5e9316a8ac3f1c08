package negotiation

import (
	"sync"

	"github.com/1ureka/roomcall/internal/protocol"
)

// CandidateBuffer holds remote candidates until the remote description is
// set, then applies them in arrival order. Once flushed it applies new
// candidates immediately.
type CandidateBuffer struct {
	mu      sync.Mutex
	apply   func(protocol.Candidate) error
	ready   bool
	pending []protocol.Candidate
}

// NewCandidateBuffer creates a buffer that applies candidates with apply.
func NewCandidateBuffer(apply func(protocol.Candidate) error) *CandidateBuffer {
	return &CandidateBuffer{apply: apply}
}

// Enqueue applies c if the remote description is set, otherwise appends it
// to the pending queue. applied reports which of the two happened.
func (b *CandidateBuffer) Enqueue(c protocol.Candidate) (applied bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ready {
		b.pending = append(b.pending, c)
		return false, nil
	}
	return true, b.apply(c)
}

// Flush marks the remote description as set and applies every pending
// candidate in order. It stops at the first failure; the failed candidate and
// the ones after it are dropped with the queue. Only the first call does any
// work.
func (b *CandidateBuffer) Flush() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready {
		return 0, nil
	}
	b.ready = true

	pending := b.pending
	b.pending = nil

	for i, c := range pending {
		if err := b.apply(c); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// Clear drops pending candidates without applying them.
func (b *CandidateBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
}

// Pending returns a copy of the candidates still waiting for Flush.
func (b *CandidateBuffer) Pending() []protocol.Candidate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.Candidate(nil), b.pending...)
}

// Ready reports whether Flush has run.
func (b *CandidateBuffer) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}
