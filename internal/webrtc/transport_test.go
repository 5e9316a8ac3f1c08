package webrtc

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/protocol"
)

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := NewTransport(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestOfferAnswerBetweenTransports(t *testing.T) {
	ctx := context.Background()
	a := newTestTransport(t)
	b := newTestTransport(t)

	offer, err := a.CreateOffer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []string{"m=audio", "m=video", "m=application"} {
		if !strings.Contains(offer, m) {
			t.Fatalf("offer lacks %s:\n%s", m, offer)
		}
	}
	if err := a.SetLocalDescription(ctx, negotiation.Description{Type: negotiation.SDPOffer, SDP: offer}); err != nil {
		t.Fatal(err)
	}

	if err := b.SetRemoteDescription(ctx, negotiation.Description{Type: negotiation.SDPOffer, SDP: offer}); err != nil {
		t.Fatal(err)
	}
	answer, err := b.CreateAnswer(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetLocalDescription(ctx, negotiation.Description{Type: negotiation.SDPAnswer, SDP: answer}); err != nil {
		t.Fatal(err)
	}
	if err := a.SetRemoteDescription(ctx, negotiation.Description{Type: negotiation.SDPAnswer, SDP: answer}); err != nil {
		t.Fatal(err)
	}
}

func TestRemoteDescriptionRejectsGarbage(t *testing.T) {
	tr := newTestTransport(t)
	err := tr.SetRemoteDescription(context.Background(), negotiation.Description{Type: negotiation.SDPOffer, SDP: "not sdp"})
	if err == nil {
		t.Fatal("expected an error for an invalid offer")
	}
}

func TestClosedTransportRefusesCalls(t *testing.T) {
	tr := newTestTransport(t)
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	tr.Close()

	if _, err := tr.CreateOffer(context.Background()); !errors.Is(err, negotiation.ErrSessionClosed) {
		t.Fatalf("CreateOffer after close = %v", err)
	}
	select {
	case <-tr.Done():
	default:
		t.Fatal("Done should be closed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	open := newTestTransport(t)
	if _, err := open.CreateOffer(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("CreateOffer with cancelled ctx = %v", err)
	}
}

func TestCandidateConversion(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	c := protocol.Candidate{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid, SDPMLineIndex: &idx}

	back := fromCandidateInit(candidateInit(c))
	if back.Candidate != c.Candidate || *back.SDPMid != mid || *back.SDPMLineIndex != idx || back.UsernameFragment != nil {
		t.Fatalf("conversion = %+v", back)
	}
}

func TestSessionDescriptionType(t *testing.T) {
	if _, err := sessionDescription(negotiation.Description{Type: "pranswer"}); !errors.Is(err, errUnknownSDPType) {
		t.Fatalf("err = %v", err)
	}
}
