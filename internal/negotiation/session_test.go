package negotiation

import (
	"context"
	"errors"
	"testing"

	"github.com/1ureka/roomcall/internal/protocol"
)

func newTestSession(t *testing.T, id string) (*Session, *fakeTransport, *fakeEmitter) {
	t.Helper()
	tr := newFakeTransport()
	em := newFakeEmitter()
	s := NewSession(context.Background(), id, tr, em)
	t.Cleanup(s.Close)
	return s, tr, em
}

func assertCalls(t *testing.T, tr *fakeTransport, want ...string) {
	t.Helper()
	got := tr.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}
}

func TestInitiateEmitsOffer(t *testing.T) {
	s, tr, em := newTestSession(t, "A")

	if s.State() != Idle {
		t.Fatalf("new session state = %s", s.State())
	}
	if err := s.Initiate(); err != nil {
		t.Fatal(err)
	}

	f := em.nextForward(t)
	if f.from != "A" || f.msg.Type != protocol.TypeOffer || f.msg.SDPOffer != "v=0 offer" {
		t.Fatalf("forward = %+v", f)
	}
	waitState(t, s, OfferSent)
	assertCalls(t, tr, "createOffer", "setLocal:offer")
}

func TestAnswerCompletesOfferer(t *testing.T) {
	s, tr, em := newTestSession(t, "A")
	s.Initiate()
	em.nextForward(t)
	waitState(t, s, OfferSent)

	s.Deliver("B", protocol.Answer("v=0 remote answer"))
	waitState(t, s, Connected)
	assertCalls(t, tr, "createOffer", "setLocal:offer", "setRemote:answer")
	em.expectQuiet(t)
}

func TestAnswererBuffersEarlyCandidates(t *testing.T) {
	s, tr, em := newTestSession(t, "B")
	s.Prepare()
	waitState(t, s, AwaitingOffer)

	s.Deliver("A", protocol.ICECandidate(candidate("c1")))
	s.Deliver("A", protocol.ICECandidate(candidate("c2")))
	waitFor(t, "two pending candidates", func() bool { return s.PendingCandidates() == 2 })
	if len(tr.Calls()) != 0 {
		t.Fatalf("transport touched before offer: %v", tr.Calls())
	}

	s.Deliver("A", protocol.Offer("v=0 remote offer"))

	f := em.nextForward(t)
	if f.from != "B" || f.msg.Type != protocol.TypeAnswer || f.msg.SDPAnswer != "v=0 answer" {
		t.Fatalf("forward = %+v", f)
	}
	waitState(t, s, Connected)
	assertCalls(t, tr,
		"setRemote:offer",
		"addCandidate:c1",
		"addCandidate:c2",
		"createAnswer",
		"setLocal:answer",
	)

	s.Deliver("A", protocol.ICECandidate(candidate("c3")))
	waitFor(t, "late candidate applied", func() bool { return len(tr.Calls()) == 6 })
	if last := tr.Calls()[5]; last != "addCandidate:c3" {
		t.Fatalf("last call = %s", last)
	}
}

func TestUnexpectedAnswerWhileIdle(t *testing.T) {
	s, tr, em := newTestSession(t, "A")

	s.Deliver("B", protocol.Answer("v=0"))

	r := em.nextReport(t)
	if r.to != "B" || !errors.Is(r.err, ErrUnexpectedMessage) {
		t.Fatalf("report = %+v", r)
	}
	if s.State() != Idle {
		t.Fatalf("state = %s, want Idle", s.State())
	}
	if len(tr.Calls()) != 0 {
		t.Fatalf("transport calls = %v", tr.Calls())
	}
}

func TestUnexpectedOfferWhileOfferSent(t *testing.T) {
	s, _, em := newTestSession(t, "A")
	s.Initiate()
	em.nextForward(t)
	waitState(t, s, OfferSent)

	s.Deliver("B", protocol.Offer("v=0"))
	r := em.nextReport(t)
	if r.to != "B" || !errors.Is(r.err, ErrUnexpectedMessage) {
		t.Fatalf("report = %+v", r)
	}
	if s.State() != OfferSent {
		t.Fatalf("state = %s, want OfferSent", s.State())
	}
}

func TestPrepareOutsideIdleIsReported(t *testing.T) {
	s, tr, em := newTestSession(t, "A")
	s.Initiate()
	em.nextForward(t)
	waitState(t, s, OfferSent)

	s.Prepare()
	r := em.nextReport(t)
	if r.to != "A" || !errors.Is(r.err, ErrUnexpectedMessage) {
		t.Fatalf("report = %+v", r)
	}
	if s.State() != OfferSent {
		t.Fatalf("state = %s, want OfferSent", s.State())
	}
	assertCalls(t, tr, "createOffer", "setLocal:offer")
}

func TestNegotiationErrorClosesSession(t *testing.T) {
	s, tr, em := newTestSession(t, "B")
	boom := errors.New("bad sdp")
	tr.failOn("setRemote", boom)

	s.Prepare()
	s.Deliver("A", protocol.Offer("garbage"))

	r := em.nextReport(t)
	var nerr *NegotiationError
	if r.to != "B" || !errors.As(r.err, &nerr) || !errors.Is(r.err, boom) {
		t.Fatalf("report = %+v", r)
	}
	waitState(t, s, Closed)

	select {
	case <-s.Done():
	case <-waitTimeout():
		t.Fatal("session goroutine did not exit")
	}
	if tr.closeCount() != 1 {
		t.Fatalf("transport closed %d times", tr.closeCount())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, tr, _ := newTestSession(t, "A")
	s.Deliver("B", protocol.ICECandidate(candidate("c1")))
	waitFor(t, "pending candidate", func() bool { return s.PendingCandidates() == 1 })

	s.Close()
	s.Close()

	if s.State() != Closed {
		t.Fatalf("state = %s", s.State())
	}
	if tr.closeCount() != 1 {
		t.Fatalf("transport closed %d times", tr.closeCount())
	}
	if s.PendingCandidates() != 0 {
		t.Fatal("pending candidates should be dropped on close")
	}
	if err := s.Deliver("B", protocol.Answer("v=0")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Deliver after close = %v", err)
	}
}

func TestMessagesQueueWhileTransportBusy(t *testing.T) {
	s, tr, em := newTestSession(t, "A")
	tr.offerGate = make(chan struct{})

	s.Initiate()
	// The answer arrives while CreateOffer is still running; it must wait
	// for OfferSent instead of being rejected.
	s.Deliver("B", protocol.Answer("v=0 remote answer"))
	close(tr.offerGate)

	em.nextForward(t)
	waitState(t, s, Connected)
	assertCalls(t, tr, "createOffer", "setLocal:offer", "setRemote:answer")
	em.expectQuiet(t)
}

func TestCloseCancelsInFlightCall(t *testing.T) {
	s, tr, em := newTestSession(t, "A")
	tr.offerGate = make(chan struct{})

	s.Initiate()
	s.Close()

	select {
	case <-s.Done():
	case <-waitTimeout():
		t.Fatal("session goroutine did not exit after close")
	}
	em.expectQuiet(t)
}

func TestLocalCandidatesAreForwarded(t *testing.T) {
	_, tr, em := newTestSession(t, "A")

	tr.emitLocal(candidate("local1"))
	f := em.nextForward(t)
	if f.from != "A" || f.msg.Type != protocol.TypeICECandidate || f.msg.Candidate.Candidate != "local1" {
		t.Fatalf("forward = %+v", f)
	}
}

func TestParentContextClosesSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := newFakeTransport()
	s := NewSession(ctx, "A", tr, newFakeEmitter())

	cancel()
	select {
	case <-s.Done():
	case <-waitTimeout():
		t.Fatal("session did not stop with its parent context")
	}
	if s.State() != Closed || tr.closeCount() != 1 {
		t.Fatalf("state = %s, closes = %d", s.State(), tr.closeCount())
	}
}

func TestStateString(t *testing.T) {
	if AwaitingAnswer.String() != "AwaitingAnswer" || State(42).String() != "Unknown" {
		t.Fatal("unexpected State.String output")
	}
}
