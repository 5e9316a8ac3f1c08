package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/protocol"
)

var errNoPendingSDP = errors.New("no description requested from client")

// relayLink is the connection handle of a server-side session. The real peer
// connection lives in the browser; the link turns each transport call into
// signaling traffic with that client:
//
//   - CreateOffer sends roomJoined and waits for the client's offer
//   - CreateAnswer waits for the client's answer to the offer it was sent
//   - SetRemoteDescription forwards the counterpart's offer or answer
//   - AddICECandidate forwards the counterpart's candidate
//   - candidates sent by the client surface through OnLocalCandidate
type relayLink struct {
	peerID string
	send   func(protocol.Message) error

	mu      sync.Mutex
	pending *pendingSDP
	local   func(protocol.Candidate)
	closed  bool
	done    chan struct{}
}

type pendingSDP struct {
	want   protocol.Type
	sdp    chan string
	filled bool
}

var _ negotiation.Transport = (*relayLink)(nil)

func newRelayLink(peerID string, send func(protocol.Message) error) *relayLink {
	return &relayLink{
		peerID: peerID,
		send:   send,
		done:   make(chan struct{}),
	}
}

// expect registers that the next client message of type want completes the
// in-flight description. It must run before the request reaches the client.
func (l *relayLink) expect(want protocol.Type) (*pendingSDP, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, negotiation.ErrSessionClosed
	}
	p := &pendingSDP{want: want, sdp: make(chan string, 1)}
	l.pending = p
	return p, nil
}

func (l *relayLink) drop(p *pendingSDP) {
	l.mu.Lock()
	if l.pending == p {
		l.pending = nil
	}
	l.mu.Unlock()
}

func (l *relayLink) await(ctx context.Context, want protocol.Type) (string, error) {
	l.mu.Lock()
	p := l.pending
	l.mu.Unlock()
	if p == nil || p.want != want {
		return "", fmt.Errorf("%w: %s", errNoPendingSDP, want)
	}
	defer l.drop(p)

	select {
	case sdp := <-p.sdp:
		return sdp, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-l.done:
		return "", negotiation.ErrSessionClosed
	}
}

// complete hands an offer or answer sent by the client to the waiting
// transport call. It reports false when none was requested.
func (l *relayLink) complete(msg protocol.Message) bool {
	sdp := msg.SDPOffer
	if msg.Type == protocol.TypeAnswer {
		sdp = msg.SDPAnswer
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.pending
	if l.closed || p == nil || p.want != msg.Type || p.filled {
		return false
	}
	p.filled = true
	p.sdp <- sdp
	return true
}

// candidate surfaces a candidate gathered by the client.
func (l *relayLink) candidate(c protocol.Candidate) {
	l.mu.Lock()
	fn := l.local
	closed := l.closed
	l.mu.Unlock()
	if fn != nil && !closed {
		fn(c)
	}
}

func (l *relayLink) CreateOffer(ctx context.Context) (string, error) {
	p, err := l.expect(protocol.TypeOffer)
	if err != nil {
		return "", err
	}
	if err := l.send(protocol.RoomJoined()); err != nil {
		l.drop(p)
		return "", err
	}
	return l.await(ctx, protocol.TypeOffer)
}

func (l *relayLink) CreateAnswer(ctx context.Context) (string, error) {
	return l.await(ctx, protocol.TypeAnswer)
}

// SetLocalDescription is a no-op: the client applied its own description
// before sending it.
func (l *relayLink) SetLocalDescription(ctx context.Context, desc negotiation.Description) error {
	return nil
}

func (l *relayLink) SetRemoteDescription(ctx context.Context, desc negotiation.Description) error {
	switch desc.Type {
	case negotiation.SDPOffer:
		p, err := l.expect(protocol.TypeAnswer)
		if err != nil {
			return err
		}
		if err := l.send(protocol.Offer(desc.SDP)); err != nil {
			l.drop(p)
			return err
		}
		return nil
	case negotiation.SDPAnswer:
		return l.send(protocol.Answer(desc.SDP))
	}
	return fmt.Errorf("unknown description type %q", desc.Type)
}

func (l *relayLink) AddICECandidate(ctx context.Context, c protocol.Candidate) error {
	return l.send(protocol.ICECandidate(c))
}

func (l *relayLink) OnLocalCandidate(fn func(protocol.Candidate)) {
	l.mu.Lock()
	l.local = fn
	l.mu.Unlock()
}

func (l *relayLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		l.pending = nil
		close(l.done)
	}
	return nil
}
