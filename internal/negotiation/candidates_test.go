package negotiation

import (
	"errors"
	"testing"

	"github.com/1ureka/roomcall/internal/protocol"
)

func TestCandidateBufferAppliesInOrderAfterFlush(t *testing.T) {
	var applied []string
	b := NewCandidateBuffer(func(c protocol.Candidate) error {
		applied = append(applied, c.Candidate)
		return nil
	})

	for _, name := range []string{"c1", "c2", "c3"} {
		ok, err := b.Enqueue(candidate(name))
		if err != nil || ok {
			t.Fatalf("Enqueue(%s) = %v, %v; want buffered", name, ok, err)
		}
	}
	if len(applied) != 0 {
		t.Fatalf("applied before flush: %v", applied)
	}
	if got := len(b.Pending()); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}

	n, err := b.Flush()
	if err != nil || n != 3 {
		t.Fatalf("Flush() = %d, %v", n, err)
	}

	ok, err := b.Enqueue(candidate("c4"))
	if err != nil || !ok {
		t.Fatalf("Enqueue after flush = %v, %v; want applied", ok, err)
	}

	want := []string{"c1", "c2", "c3", "c4"}
	if len(applied) != len(want) {
		t.Fatalf("applied = %v, want %v", applied, want)
	}
	for i := range want {
		if applied[i] != want[i] {
			t.Fatalf("applied = %v, want %v", applied, want)
		}
	}
	if len(b.Pending()) != 0 || !b.Ready() {
		t.Fatal("buffer should be empty and ready")
	}
}

func TestCandidateBufferFlushOnce(t *testing.T) {
	count := 0
	b := NewCandidateBuffer(func(protocol.Candidate) error {
		count++
		return nil
	})
	b.Enqueue(candidate("c1"))

	b.Flush()
	n, err := b.Flush()
	if n != 0 || err != nil {
		t.Fatalf("second Flush() = %d, %v", n, err)
	}
	if count != 1 {
		t.Fatalf("candidate applied %d times", count)
	}
}

func TestCandidateBufferFlushStopsAtFailure(t *testing.T) {
	boom := errors.New("boom")
	var applied []string
	b := NewCandidateBuffer(func(c protocol.Candidate) error {
		if c.Candidate == "bad" {
			return boom
		}
		applied = append(applied, c.Candidate)
		return nil
	})
	b.Enqueue(candidate("c1"))
	b.Enqueue(candidate("bad"))
	b.Enqueue(candidate("c3"))

	n, err := b.Flush()
	if !errors.Is(err, boom) {
		t.Fatalf("Flush error = %v, want boom", err)
	}
	if n != 1 || len(applied) != 1 {
		t.Fatalf("applied %d (%v), want only c1", n, applied)
	}
	if len(b.Pending()) != 0 {
		t.Fatal("queue should be dropped after a failed flush")
	}
}

func TestCandidateBufferClear(t *testing.T) {
	b := NewCandidateBuffer(func(protocol.Candidate) error {
		t.Fatal("cleared candidates must not be applied")
		return nil
	})
	b.Enqueue(candidate("c1"))
	b.Clear()
	if n, _ := b.Flush(); n != 0 {
		t.Fatalf("Flush after Clear applied %d", n)
	}
}

func TestMailboxOrderAndClose(t *testing.T) {
	m := newMailbox[int]()
	for i := 0; i < 5; i++ {
		if !m.post(i) {
			t.Fatalf("post(%d) rejected", i)
		}
	}
	select {
	case <-m.notify:
	default:
		t.Fatal("expected a pending notification")
	}

	got := m.take()
	for i, v := range got {
		if v != i {
			t.Fatalf("take() = %v, want 0..4", got)
		}
	}

	m.close()
	if m.post(9) {
		t.Fatal("post after close should fail")
	}
	if len(m.take()) != 0 {
		t.Fatal("closed mailbox should be empty")
	}
}
