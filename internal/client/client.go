// Package client joins a room on a signaling server and negotiates a peer
// connection with whoever else is in it.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/protocol"
	"github.com/1ureka/roomcall/internal/room"
	"github.com/1ureka/roomcall/internal/util"
	rtc "github.com/1ureka/roomcall/internal/webrtc"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 64

	// serverPeer is the origin given to messages relayed by the server.
	serverPeer = "server"
)

var (
	ErrNegotiationEnded = errors.New("negotiation ended")
	ErrTransportClosed  = errors.New("peer connection closed")
)

// Options configures a Peer.
type Options struct {
	ServerURL  string
	RoomID     string
	Name       string
	ICEServers []webrtc.ICEServer

	// NewTransport overrides the pion transport.
	NewTransport func(ctx context.Context) (negotiation.Transport, error)
}

// Peer is one side of a call.
type Peer struct {
	opts Options
	out  chan []byte

	mu      sync.Mutex
	session *negotiation.Session
}

var _ negotiation.Emitter = (*Peer)(nil)

func New(opts Options) *Peer {
	if opts.Name == "" {
		opts.Name = "roomcall"
	}
	return &Peer{opts: opts, out: make(chan []byte, sendBuffer)}
}

// Connect dials the signaling server.
func Connect(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}
	return conn, nil
}

// State returns the negotiation state, or Idle before Run has started.
func (p *Peer) State() negotiation.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return negotiation.Idle
	}
	return p.session.State()
}

// Run joins the room and negotiates until ctx is cancelled, the counterpart
// leaves, or negotiation fails. A cancelled ctx sends leaveRoom and returns
// nil.
func (p *Peer) Run(ctx context.Context) error {
	conn, err := Connect(ctx, p.opts.ServerURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	util.LogInfo("connected to %s", p.opts.ServerURL)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := make(chan struct{})
	written := make(chan struct{})
	go func() {
		defer close(written)
		p.writePump(conn, stop)
	}()
	defer func() {
		close(stop)
		select {
		case <-written:
		case <-time.After(writeWait):
		}
	}()

	tr, err := p.newTransport(runCtx)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	sess := negotiation.NewSession(runCtx, p.opts.Name, tr, p)
	defer sess.Close()

	p.mu.Lock()
	p.session = sess
	p.mu.Unlock()

	if t, ok := tr.(*rtc.Transport); ok {
		go p.greet(runCtx, t)
	}

	p.queue(protocol.JoinRoom(p.opts.RoomID))
	util.LogInfo("joining room %q", p.opts.RoomID)

	frames := make(chan protocol.Message)
	readErr := make(chan error, 1)
	go p.readPump(runCtx, conn, frames, readErr)

	// Transports that can die on their own (a failed or closed
	// PeerConnection) expose Done.
	var trDone <-chan struct{}
	if d, ok := tr.(interface{ Done() <-chan struct{} }); ok {
		trDone = d.Done()
	}

	for {
		select {
		case <-ctx.Done():
			p.queue(protocol.LeaveRoom())
			return nil
		case <-sess.Done():
			p.queue(protocol.LeaveRoom())
			if ctx.Err() != nil {
				return nil
			}
			return ErrNegotiationEnded
		case <-trDone:
			p.queue(protocol.LeaveRoom())
			if ctx.Err() != nil {
				return nil
			}
			ended := sess.State() == negotiation.Closed
			sess.Close()
			if ended {
				return ErrNegotiationEnded
			}
			if t, ok := tr.(*rtc.Transport); ok {
				util.LogWarning("peer connection %s, leaving room %q", t.ConnectionState(), p.opts.RoomID)
			}
			return ErrTransportClosed
		case err := <-readErr:
			return fmt.Errorf("signaling connection lost: %w", err)
		case msg := <-frames:
			if err := p.handle(sess, msg); err != nil {
				return err
			}
		}
	}
}

func (p *Peer) newTransport(ctx context.Context) (negotiation.Transport, error) {
	if p.opts.NewTransport != nil {
		return p.opts.NewTransport(ctx)
	}
	return rtc.NewTransport(ctx, p.opts.ICEServers)
}

func (p *Peer) handle(sess *negotiation.Session, msg protocol.Message) error {
	switch msg.Type {
	case protocol.TypeRoomJoined:
		util.LogInfo("room %q is full, sending offer", p.opts.RoomID)
		return sess.Initiate()
	case protocol.TypeOffer:
		if sess.State() == negotiation.Idle {
			sess.Prepare()
		}
		return sess.Deliver(serverPeer, msg)
	case protocol.TypeAnswer, protocol.TypeICECandidate:
		return sess.Deliver(serverPeer, msg)
	case protocol.TypeError:
		switch msg.Text {
		case room.ErrRoomFull.Error():
			return room.ErrRoomFull
		case room.ErrCounterpartLeft.Error():
			return room.ErrCounterpartLeft
		}
		util.LogWarning("server: %s", msg.Text)
	default:
		util.LogDebug("ignoring %s from server", msg.Type)
	}
	return nil
}

// Forward sends a local offer, answer or candidate to the server.
func (p *Peer) Forward(_ string, msg protocol.Message) error {
	return p.queue(msg)
}

// Report logs errors raised by the local session.
func (p *Peer) Report(_ string, err error) {
	util.LogWarning("%v", err)
}

func (p *Peer) queue(msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case p.out <- frame:
		return nil
	default:
		return errors.New("signaling send buffer full")
	}
}

// greet exchanges a line over the control channel once it opens.
func (p *Peer) greet(ctx context.Context, t *rtc.Transport) {
	ch := t.Control()
	ch.OnText(func(s string) {
		util.LogSuccess("control channel: %s", s)
	})
	ch.OnClose(func() {
		util.LogInfo("control channel closed")
	})

	select {
	case <-ch.Ready():
	case <-ctx.Done():
		return
	}
	util.LogSuccess("peer connection established (%s)", t.ConnectionState())
	if err := ch.SendText(ctx, "hello from "+p.opts.Name); err != nil {
		util.LogDebug("control channel greeting: %v", err)
	}
}

func (p *Peer) readPump(ctx context.Context, conn *websocket.Conn, frames chan<- protocol.Message, errc chan<- error) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			util.LogWarning("bad frame from server: %v", err)
			continue
		}
		select {
		case frames <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// writePump owns all writes to conn. On stop it flushes what is queued and
// sends a close frame.
func (p *Peer) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(frame []byte) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, frame)
	}

	for {
		select {
		case frame := <-p.out:
			if err := write(frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			for {
				select {
				case frame := <-p.out:
					if err := write(frame); err != nil {
						return
					}
				default:
					conn.SetWriteDeadline(time.Now().Add(writeWait))
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
