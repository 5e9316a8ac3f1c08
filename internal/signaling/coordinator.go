// Package signaling runs the server side of the room protocol: it decodes
// client frames, keeps the room registry and per-peer sessions in step, and
// routes negotiation traffic between the two members of a room.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/presence"
	"github.com/1ureka/roomcall/internal/protocol"
	"github.com/1ureka/roomcall/internal/room"
	"github.com/1ureka/roomcall/internal/util"
)

const presenceTimeout = 2 * time.Second

// Sink writes encoded frames to one connected client.
type Sink interface {
	Send(frame []byte) error
}

type peer struct {
	sink    Sink
	session *negotiation.Session
	link    *relayLink
}

// Coordinator is the protocol state of the whole server. It is safe for
// concurrent use; frames from one peer must be dispatched in order.
type Coordinator struct {
	ctx      context.Context
	registry *room.Registry
	presence presence.Store

	mu    sync.RWMutex
	peers map[string]*peer

	publishing roomLocks
}

// roomLocks hands out one mutex per room id, dropped again when unused.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func (l *roomLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*roomLock)
	}
	rl := l.locks[id]
	if rl == nil {
		rl = &roomLock{}
		l.locks[id] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		if rl.refs--; rl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

var _ negotiation.Emitter = (*Coordinator)(nil)

// NewCoordinator creates a coordinator. Sessions it starts are bound to ctx.
// store may be nil.
func NewCoordinator(ctx context.Context, registry *room.Registry, store presence.Store) *Coordinator {
	return &Coordinator{
		ctx:      ctx,
		registry: registry,
		presence: store,
		peers:    make(map[string]*peer),
	}
}

// Registry exposes the room registry, for read-only views.
func (c *Coordinator) Registry() *room.Registry { return c.registry }

// Attach registers a connected client.
func (c *Coordinator) Attach(peerID string, sink Sink) {
	c.mu.Lock()
	c.peers[peerID] = &peer{sink: sink}
	c.mu.Unlock()
	util.Stats.AddPeer()
	util.LogDebug("peer %s attached", peerID)
}

// Disconnect handles a closed connection exactly like leaveRoom and forgets
// the peer. Repeated calls are no-ops.
func (c *Coordinator) Disconnect(peerID string) {
	c.leave(peerID)

	c.mu.Lock()
	_, ok := c.peers[peerID]
	delete(c.peers, peerID)
	c.mu.Unlock()
	if ok {
		util.Stats.RemovePeer()
		util.LogDebug("peer %s detached", peerID)
	}
}

// Dispatch handles one frame received from peerID.
func (c *Coordinator) Dispatch(ctx context.Context, peerID string, frame []byte) {
	util.Stats.AddFrameIn()

	msg, err := protocol.Decode(frame)
	if err != nil {
		c.Report(peerID, err)
		return
	}

	switch msg.Type {
	case protocol.TypeJoinRoom:
		c.join(ctx, peerID, msg.RoomID)
	case protocol.TypeLeaveRoom:
		c.leave(peerID)
	case protocol.TypeOffer, protocol.TypeAnswer:
		link, err := c.link(peerID)
		if err != nil {
			c.Report(peerID, err)
			return
		}
		if !link.complete(msg) {
			c.Report(peerID, fmt.Errorf("%w: unsolicited %s", negotiation.ErrUnexpectedMessage, msg.Type))
		}
	case protocol.TypeICECandidate:
		link, err := c.link(peerID)
		if err != nil {
			c.Report(peerID, err)
			return
		}
		link.candidate(*msg.Candidate)
	default:
		c.Report(peerID, fmt.Errorf("%w: %s from client", negotiation.ErrUnexpectedMessage, msg.Type))
	}
}

func (c *Coordinator) peer(peerID string) *peer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peers[peerID]
}

func (c *Coordinator) link(peerID string) (*relayLink, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p := c.peers[peerID]; p != nil && p.link != nil {
		return p.link, nil
	}
	return nil, room.ErrPeerNotFound
}

func (c *Coordinator) join(ctx context.Context, peerID, roomID string) {
	if c.peer(peerID) == nil {
		util.LogWarning("join from unattached peer %s", peerID)
		return
	}

	var link *relayLink
	res, err := c.registry.Join(roomID, peerID, func() (*negotiation.Session, error) {
		link = newRelayLink(peerID, func(msg protocol.Message) error {
			return c.send(peerID, msg)
		})
		return negotiation.NewSession(c.ctx, peerID, link, c), nil
	})
	if err != nil {
		c.Report(peerID, err)
		return
	}

	c.mu.Lock()
	if p := c.peers[peerID]; p != nil && res.Self.Session.State() != negotiation.Closed {
		p.session = res.Self.Session
		p.link = link
	}
	c.mu.Unlock()

	go c.watch(peerID, res.Self.Session)
	if res.Arrival == room.First {
		util.Stats.AddRoom()
	}
	util.LogInfo("peer %s joined room %q (%s)", peerID, roomID, res.Arrival)
	c.publish(ctx, roomID)

	if res.Arrival == room.Second {
		res.Self.Session.Prepare()
		res.Counterpart.Session.Initiate()
	}
}

func (c *Coordinator) leave(peerID string) {
	res, err := c.registry.Leave(peerID)
	if errors.Is(err, room.ErrPeerNotFound) {
		return
	}
	if err != nil {
		util.LogError("leave %s: %v", peerID, err)
		return
	}
	util.LogInfo("peer %s left room %q", peerID, res.RoomID)
	c.afterLeave(res)
}

// watch cleans up after a session that ended on its own, such as after a
// negotiation failure.
func (c *Coordinator) watch(peerID string, s *negotiation.Session) {
	<-s.Done()
	res, err := c.registry.LeaveSession(peerID, s)
	if err != nil {
		return
	}
	util.LogInfo("peer %s removed from room %q after its session closed", peerID, res.RoomID)
	c.afterLeave(res)
}

func (c *Coordinator) afterLeave(res room.LeaveResult) {
	c.detach(res.Left)
	if res.Evicted != nil {
		c.detach(*res.Evicted)
		c.Report(res.Evicted.PeerID, room.ErrCounterpartLeft)
	}
	util.Stats.RemoveRoom()
	c.publish(c.ctx, res.RoomID)
}

func (c *Coordinator) detach(p room.Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur := c.peers[p.PeerID]; cur != nil && cur.session == p.Session {
		cur.session = nil
		cur.link = nil
	}
}

// Forward delivers a session's offer, answer or candidate to the other
// member of its room.
func (c *Coordinator) Forward(from string, msg protocol.Message) error {
	other, err := c.registry.Counterpart(from)
	if err != nil {
		return err
	}
	return other.Session.Deliver(from, msg)
}

// Report sends err to peerID as an error envelope.
func (c *Coordinator) Report(peerID string, err error) {
	util.Stats.AddError()
	util.LogWarning("peer %s: %v", peerID, err)
	if sendErr := c.send(peerID, protocol.Error(err.Error())); sendErr != nil {
		util.LogDebug("peer %s: error not delivered: %v", peerID, sendErr)
	}
}

func (c *Coordinator) send(peerID string, msg protocol.Message) error {
	p := c.peer(peerID)
	if p == nil {
		return room.ErrPeerNotFound
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := p.sink.Send(frame); err != nil {
		return err
	}
	util.Stats.AddFrameOut()
	return nil
}

// publish mirrors the current state of roomID to the presence store. Reading
// the registry and writing the store happen under the room's publish lock, so
// the last write for a room always reflects its latest state.
func (c *Coordinator) publish(ctx context.Context, roomID string) {
	if c.presence == nil {
		return
	}
	unlock := c.publishing.lock(roomID)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), presenceTimeout)
	defer cancel()

	info, err := c.registry.Room(roomID)
	if errors.Is(err, room.ErrRoomNotFound) {
		err = c.presence.Delete(ctx, roomID)
	} else if err == nil {
		err = c.presence.Put(ctx, presence.Record{
			RoomID:       info.ID,
			Participants: info.Participants,
			UpdatedAt:    time.Now().UTC(),
		})
	}
	if err != nil {
		util.LogWarning("presence update for room %q: %v", roomID, err)
	}
}
