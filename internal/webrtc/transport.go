package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/protocol"
	"github.com/1ureka/roomcall/internal/util"
)

// Transport wraps one PeerConnection and its control channel.
//
// Its lifetime is bounded by the context passed at construction; Close
// cancels it as well.
type Transport struct {
	pc      *webrtc.PeerConnection
	control *Channel

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	onTrack func(*webrtc.TrackRemote)
}

var _ negotiation.Transport = (*Transport)(nil)

// NewTransport creates a Transport using iceServers.
func NewTransport(ctx context.Context, iceServers []webrtc.ICEServer) (*Transport, error) {
	pc, err := NewPeerConnection(iceServers)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	dc, err := newControlChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create control channel: %w", err)
	}

	tCtx, tCancel := context.WithCancel(ctx)
	t := &Transport{
		pc:      pc,
		control: newChannel(dc),
		ctx:     tCtx,
		cancel:  tCancel,
		pcState: webrtc.PeerConnectionStateNew,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogInfo("peer connection state: %s", state)
		t.mu.Lock()
		t.pcState = state
		t.mu.Unlock()
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			tCancel()
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		util.LogDebug("ice connection state: %s", state)
	})
	pc.OnTrack(t.handleTrack)

	return t, nil
}

// Control returns the control DataChannel.
func (t *Transport) Control() *Channel { return t.control }

// Done is closed when the transport shuts down or the connection fails.
func (t *Transport) Done() <-chan struct{} { return t.ctx.Done() }

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// OnTrack registers the consumer of remote media. Without one, incoming RTP
// is read and counted so the receive buffers do not fill up.
func (t *Transport) OnTrack(fn func(*webrtc.TrackRemote)) {
	t.mu.Lock()
	t.onTrack = fn
	t.mu.Unlock()
}

func (t *Transport) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	util.LogInfo("remote %s track %s (%s)", track.Kind(), track.ID(), track.Codec().MimeType)

	t.mu.RLock()
	fn := t.onTrack
	t.mu.RUnlock()
	if fn != nil {
		fn(track)
		return
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		util.Stats.AddMedia(n)
	}
}

func (t *Transport) alive(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.ctx.Err(); err != nil {
		return negotiation.ErrSessionClosed
	}
	return nil
}

func (t *Transport) CreateOffer(ctx context.Context) (string, error) {
	if err := t.alive(ctx); err != nil {
		return "", err
	}
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (t *Transport) CreateAnswer(ctx context.Context) (string, error) {
	if err := t.alive(ctx); err != nil {
		return "", err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (t *Transport) SetLocalDescription(ctx context.Context, desc negotiation.Description) error {
	if err := t.alive(ctx); err != nil {
		return err
	}
	sd, err := sessionDescription(desc)
	if err != nil {
		return err
	}
	return t.pc.SetLocalDescription(sd)
}

func (t *Transport) SetRemoteDescription(ctx context.Context, desc negotiation.Description) error {
	if err := t.alive(ctx); err != nil {
		return err
	}
	sd, err := sessionDescription(desc)
	if err != nil {
		return err
	}
	return t.pc.SetRemoteDescription(sd)
}

func (t *Transport) AddICECandidate(ctx context.Context, c protocol.Candidate) error {
	if err := t.alive(ctx); err != nil {
		return err
	}
	return t.pc.AddICECandidate(candidateInit(c))
}

// OnLocalCandidate registers fn for gathered candidates. The end-of-gathering
// signal is not forwarded.
func (t *Transport) OnLocalCandidate(fn func(protocol.Candidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			util.LogDebug("ice gathering complete")
			return
		}
		fn(fromCandidateInit(c.ToJSON()))
	})
}

// Close shuts down the PeerConnection. Safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.closeErr = t.pc.Close()
	})
	return t.closeErr
}

var errUnknownSDPType = errors.New("unknown sdp type")

func sessionDescription(desc negotiation.Description) (webrtc.SessionDescription, error) {
	switch desc.Type {
	case negotiation.SDPOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}, nil
	case negotiation.SDPAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}, nil
	}
	return webrtc.SessionDescription{}, fmt.Errorf("%w: %q", errUnknownSDPType, desc.Type)
}

func candidateInit(c protocol.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func fromCandidateInit(c webrtc.ICECandidateInit) protocol.Candidate {
	return protocol.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
