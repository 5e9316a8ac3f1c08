package negotiation

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/roomcall/internal/protocol"
	"github.com/1ureka/roomcall/internal/util"
)

// State is the negotiation state of one peer session.
type State int

const (
	Idle State = iota
	AwaitingOffer
	OfferSent
	AwaitingAnswer
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitingOffer:
		return "AwaitingOffer"
	case OfferSent:
		return "OfferSent"
	case AwaitingAnswer:
		return "AwaitingAnswer"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	}
	return "Unknown"
}

type eventKind int

const (
	evPrepare eventKind = iota
	evInitiate
	evRemote
	evLocalCandidate
)

type event struct {
	kind      eventKind
	from      string
	msg       protocol.Message
	candidate protocol.Candidate
}

// Session drives one peer connection through the offer/answer handshake.
//
// All transitions run on a single goroutine fed by a FIFO mailbox, so a
// message that arrives while a transport call is in flight waits for it to
// finish. Close is the only operation that does not go through the mailbox:
// it cancels whatever is in flight and wins over anything still queued.
type Session struct {
	id        string
	transport Transport
	emitter   Emitter
	buffer    *CandidateBuffer

	ctx    context.Context
	cancel context.CancelFunc
	inbox  *mailbox[event]
	done   chan struct{}

	mu        sync.Mutex
	state     State
	closeOnce sync.Once
}

// NewSession starts a session in the Idle state. The session owns tr from
// here on and closes it when the session closes or ctx is cancelled.
func NewSession(ctx context.Context, id string, tr Transport, emitter Emitter) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        id,
		transport: tr,
		emitter:   emitter,
		ctx:       ctx,
		cancel:    cancel,
		inbox:     newMailbox[event](),
		done:      make(chan struct{}),
	}
	s.buffer = NewCandidateBuffer(func(c protocol.Candidate) error {
		return tr.AddICECandidate(s.ctx, c)
	})
	tr.OnLocalCandidate(func(c protocol.Candidate) {
		s.inbox.post(event{kind: evLocalCandidate, candidate: c})
	})

	go s.run()
	return s
}

// ID returns the owning peer's id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// PendingCandidates returns the number of remote candidates waiting for a
// remote description.
func (s *Session) PendingCandidates() int { return len(s.buffer.Pending()) }

// Prepare moves an Idle session to AwaitingOffer. Used on the side that
// answers.
func (s *Session) Prepare() error {
	return s.post(event{kind: evPrepare})
}

// Initiate makes an Idle session generate and emit an offer.
func (s *Session) Initiate() error {
	return s.post(event{kind: evInitiate})
}

// Deliver queues an offer, answer or iceCandidate sent by peer from.
func (s *Session) Deliver(from string, msg protocol.Message) error {
	return s.post(event{kind: evRemote, from: from, msg: msg})
}

func (s *Session) post(ev event) error {
	if !s.inbox.post(ev) {
		return ErrSessionClosed
	}
	return nil
}

// Close releases the transport and drops pending candidates. It does not
// wait for the session goroutine and is safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		prev := s.state
		s.state = Closed
		s.mu.Unlock()

		s.cancel()
		s.inbox.close()
		s.buffer.Clear()
		if err := s.transport.Close(); err != nil {
			util.LogDebug("[%s] transport close: %v", s.id, err)
		}
		util.LogDebug("[%s] %s → %s", s.id, prev, Closed)
	})
}

func (s *Session) run() {
	defer close(s.done)
	defer s.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.inbox.notify:
		}

		for _, ev := range s.inbox.take() {
			if s.ctx.Err() != nil {
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev event) {
	switch ev.kind {
	case evPrepare:
		s.prepare()
	case evInitiate:
		s.initiate()
	case evLocalCandidate:
		s.forward(protocol.ICECandidate(ev.candidate))
	case evRemote:
		switch ev.msg.Type {
		case protocol.TypeOffer:
			s.acceptOffer(ev)
		case protocol.TypeAnswer:
			s.acceptAnswer(ev)
		case protocol.TypeICECandidate:
			s.acceptCandidate(ev)
		default:
			s.emitter.Report(ev.from, unexpected(string(ev.msg.Type), s.State()))
		}
	}
}

func (s *Session) prepare() {
	if st := s.State(); st != Idle {
		s.emitter.Report(s.id, unexpected("prepare", st))
		return
	}
	s.enter(AwaitingOffer)
}

func (s *Session) initiate() {
	if st := s.State(); st != Idle {
		s.emitter.Report(s.id, unexpected("initiate", st))
		return
	}

	sdp, err := s.transport.CreateOffer(s.ctx)
	if err != nil {
		s.fail("create offer", err)
		return
	}
	if err := s.transport.SetLocalDescription(s.ctx, Description{Type: SDPOffer, SDP: sdp}); err != nil {
		s.fail("set local description", err)
		return
	}
	if !s.enter(OfferSent) {
		return
	}
	s.forward(protocol.Offer(sdp))
}

func (s *Session) acceptOffer(ev event) {
	if st := s.State(); st != AwaitingOffer {
		s.emitter.Report(ev.from, unexpected("offer", st))
		return
	}

	if err := s.transport.SetRemoteDescription(s.ctx, Description{Type: SDPOffer, SDP: ev.msg.SDPOffer}); err != nil {
		s.fail("set remote description", err)
		return
	}
	if !s.flush() || !s.enter(AwaitingAnswer) {
		return
	}

	sdp, err := s.transport.CreateAnswer(s.ctx)
	if err != nil {
		s.fail("create answer", err)
		return
	}
	if err := s.transport.SetLocalDescription(s.ctx, Description{Type: SDPAnswer, SDP: sdp}); err != nil {
		s.fail("set local description", err)
		return
	}
	if !s.enter(Connected) {
		return
	}
	s.forward(protocol.Answer(sdp))
}

func (s *Session) acceptAnswer(ev event) {
	if st := s.State(); st != OfferSent {
		s.emitter.Report(ev.from, unexpected("answer", st))
		return
	}

	if err := s.transport.SetRemoteDescription(s.ctx, Description{Type: SDPAnswer, SDP: ev.msg.SDPAnswer}); err != nil {
		s.fail("set remote description", err)
		return
	}
	if !s.flush() {
		return
	}
	s.enter(Connected)
}

func (s *Session) acceptCandidate(ev event) {
	if ev.msg.Candidate == nil {
		s.emitter.Report(ev.from, unexpected("empty iceCandidate", s.State()))
		return
	}

	applied, err := s.buffer.Enqueue(*ev.msg.Candidate)
	if err != nil {
		s.fail("add ice candidate", err)
		return
	}
	if !applied {
		util.LogDebug("[%s] buffered remote candidate (%d pending)", s.id, s.PendingCandidates())
	}
}

// flush applies buffered candidates right after the remote description was
// set. It reports false if the session failed.
func (s *Session) flush() bool {
	n, err := s.buffer.Flush()
	if err != nil {
		s.fail("add ice candidate", err)
		return false
	}
	if n > 0 {
		util.LogDebug("[%s] applied %d buffered candidates", s.id, n)
	}
	return true
}

// enter switches to next unless the session was closed meanwhile.
func (s *Session) enter(next State) bool {
	s.mu.Lock()
	prev := s.state
	if prev == Closed {
		s.mu.Unlock()
		return false
	}
	s.state = next
	s.mu.Unlock()

	util.LogDebug("[%s] %s → %s", s.id, prev, next)
	return true
}

func (s *Session) forward(msg protocol.Message) {
	if s.State() == Closed {
		return
	}
	if err := s.emitter.Forward(s.id, msg); err != nil {
		s.emitter.Report(s.id, err)
	}
}

// fail reports a transport failure and closes the session. Failures caused by
// the session being closed underneath an in-flight call are not reported.
func (s *Session) fail(op string, err error) {
	if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	nerr := negotiationError(op, err)
	util.LogWarning("[%s] %v", s.id, nerr)
	s.emitter.Report(s.id, nerr)
	s.Close()
}
