// Package negotiation implements the per-peer offer/answer handshake and the
// buffering of remote ICE candidates that arrive before a remote description.
package negotiation

import (
	"context"

	"github.com/1ureka/roomcall/internal/protocol"
)

// SDPType distinguishes offers from answers.
type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// Description is a session description together with its role.
type Description struct {
	Type SDPType
	SDP  string
}

// Transport is the peer connection capability a Session drives. Calls may
// block until the underlying engine (or the remote client, for a relay)
// completes them; they must return promptly once ctx is cancelled.
type Transport interface {
	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context) (string, error)
	SetLocalDescription(ctx context.Context, desc Description) error
	SetRemoteDescription(ctx context.Context, desc Description) error
	AddICECandidate(ctx context.Context, c protocol.Candidate) error

	// OnLocalCandidate registers the callback for locally discovered candidates.
	OnLocalCandidate(fn func(protocol.Candidate))

	// Close releases the connection. It must be safe to call more than once.
	Close() error
}

// Emitter carries a session's output. Forward delivers offer, answer and
// iceCandidate envelopes to the counterpart of peerID; Report delivers an
// error to peerID itself.
type Emitter interface {
	Forward(peerID string, msg protocol.Message) error
	Report(peerID string, err error)
}
