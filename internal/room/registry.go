// Package room tracks which peers share a room. A room holds at most two
// participants in join order; it is created by the first join and destroyed
// as soon as anyone leaves.
package room

import (
	"fmt"
	"sync"
	"time"

	"github.com/1ureka/roomcall/internal/negotiation"
	"github.com/1ureka/roomcall/internal/util"
)

// Capacity is the number of participants a room admits.
const Capacity = 2

// Arrival tells a joiner whether it opened the room or completed it.
type Arrival int

const (
	First Arrival = iota + 1
	Second
)

func (a Arrival) String() string {
	if a == First {
		return "first"
	}
	return "second"
}

// Participant is one occupied slot of a room.
type Participant struct {
	PeerID   string
	Session  *negotiation.Session
	JoinedAt time.Time
}

// JoinResult describes a successful join.
type JoinResult struct {
	RoomID  string
	Arrival Arrival
	Self    Participant
	// Counterpart is set when Arrival is Second.
	Counterpart *Participant
}

// LeaveResult describes a successful leave.
type LeaveResult struct {
	RoomID string
	Left   Participant
	// Evicted is the participant that was forced out with the leaver, if any.
	Evicted *Participant
}

// Info is a read-only view of a room.
type Info struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

type room struct {
	id        string
	createdAt time.Time

	mu           sync.Mutex
	participants []Participant
	destroyed    bool
}

func (r *room) index(peerID string) int {
	for i, p := range r.participants {
		if p.PeerID == peerID {
			return i
		}
	}
	return -1
}

// Registry maps room ids to rooms and peers to the room they are in.
// Membership changes lock the affected room; the registry lock only guards
// the two index maps and is always taken after a room lock, never before.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
	peers map[string]*room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		peers: make(map[string]*room),
	}
}

// lookupOrCreate returns the live room for id, creating it when absent.
func (g *Registry) lookupOrCreate(id string) (*room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.rooms[id]; ok {
		return r, false
	}
	r := &room{id: id, createdAt: time.Now()}
	g.rooms[id] = r
	return r, true
}

// Join adds peerID to roomID. newSession is called under the room lock once
// the join is known to succeed; if it fails the join is undone.
func (g *Registry) Join(roomID, peerID string, newSession func() (*negotiation.Session, error)) (JoinResult, error) {
	for {
		g.mu.Lock()
		_, joined := g.peers[peerID]
		g.mu.Unlock()
		if joined {
			return JoinResult{}, ErrAlreadyJoined
		}

		r, created := g.lookupOrCreate(roomID)
		res, retry, err := g.joinRoom(r, peerID, newSession)
		if retry {
			// The room was destroyed between lookup and lock.
			continue
		}
		if created && err == nil {
			util.LogDebug("room %q created", roomID)
		}
		return res, err
	}
}

func (g *Registry) joinRoom(r *room, peerID string, newSession func() (*negotiation.Session, error)) (JoinResult, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return JoinResult{}, true, nil
	}
	if len(r.participants) >= Capacity {
		return JoinResult{}, false, ErrRoomFull
	}

	g.mu.Lock()
	if _, joined := g.peers[peerID]; joined {
		g.mu.Unlock()
		if len(r.participants) == 0 {
			g.destroy(r)
		}
		return JoinResult{}, false, ErrAlreadyJoined
	}
	g.peers[peerID] = r
	g.mu.Unlock()

	session, err := newSession()
	if err != nil {
		g.mu.Lock()
		delete(g.peers, peerID)
		g.mu.Unlock()
		if len(r.participants) == 0 {
			g.destroy(r)
		}
		return JoinResult{}, false, fmt.Errorf("create session: %w", err)
	}

	self := Participant{PeerID: peerID, Session: session, JoinedAt: time.Now()}
	r.participants = append(r.participants, self)

	res := JoinResult{RoomID: r.id, Arrival: First, Self: self}
	if len(r.participants) == Capacity {
		other := r.participants[0]
		res.Arrival = Second
		res.Counterpart = &other
	}
	return res, false, nil
}

// destroy unindexes r and its remaining participants. The caller holds r.mu.
func (g *Registry) destroy(r *room) {
	r.destroyed = true
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range r.participants {
		if g.peers[p.PeerID] == r {
			delete(g.peers, p.PeerID)
		}
	}
	if g.rooms[r.id] == r {
		delete(g.rooms, r.id)
	}
	r.participants = nil
}

// Leave removes peerID from its room and closes its session. Any remaining
// participant is closed as well and evicted, which destroys the room.
func (g *Registry) Leave(peerID string) (LeaveResult, error) {
	return g.leave(peerID, nil)
}

// LeaveSession is Leave, restricted to the case where peerID's slot still
// holds s. It is used to clean up after a session that ended on its own
// without racing a newer join by the same peer.
func (g *Registry) LeaveSession(peerID string, s *negotiation.Session) (LeaveResult, error) {
	return g.leave(peerID, s)
}

func (g *Registry) leave(peerID string, only *negotiation.Session) (LeaveResult, error) {
	g.mu.Lock()
	r := g.peers[peerID]
	g.mu.Unlock()
	if r == nil {
		return LeaveResult{}, ErrPeerNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(peerID)
	if r.destroyed || i < 0 {
		return LeaveResult{}, ErrPeerNotFound
	}
	leaver := r.participants[i]
	if only != nil && leaver.Session != only {
		return LeaveResult{}, ErrPeerNotFound
	}

	res := LeaveResult{RoomID: r.id, Left: leaver}
	for j, p := range r.participants {
		if j == i {
			continue
		}
		evicted := p
		res.Evicted = &evicted
	}

	leaver.Session.Close()
	if res.Evicted != nil {
		res.Evicted.Session.Close()
		util.LogDebug("room %q: %s left, %s evicted (%v)", r.id, peerID, res.Evicted.PeerID, ErrCounterpartLeft)
	}
	g.destroy(r)
	util.LogDebug("room %q destroyed", r.id)
	return res, nil
}

// Counterpart returns the other participant in peerID's room, or
// ErrNoCounterpart while peerID is alone in it.
func (g *Registry) Counterpart(peerID string) (Participant, error) {
	g.mu.Lock()
	r := g.peers[peerID]
	g.mu.Unlock()
	if r == nil {
		return Participant{}, ErrPeerNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.index(peerID)
	if r.destroyed || i < 0 {
		return Participant{}, ErrPeerNotFound
	}
	for j, p := range r.participants {
		if j != i {
			return p, nil
		}
	}
	return Participant{}, ErrNoCounterpart
}

// Session returns the session peerID holds in its room.
func (g *Registry) Session(peerID string) (*negotiation.Session, error) {
	g.mu.Lock()
	r := g.peers[peerID]
	g.mu.Unlock()
	if r == nil {
		return nil, ErrPeerNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.index(peerID); i >= 0 && !r.destroyed {
		return r.participants[i].Session, nil
	}
	return nil, ErrPeerNotFound
}

// Room returns a view of one room.
func (g *Registry) Room(id string) (Info, error) {
	g.mu.Lock()
	r := g.rooms[id]
	g.mu.Unlock()
	if r == nil {
		return Info{}, ErrRoomNotFound
	}
	return r.info(), nil
}

// Snapshot lists every live room.
func (g *Registry) Snapshot() []Info {
	g.mu.Lock()
	rooms := make([]*room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.Unlock()

	out := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		info := r.info()
		if len(info.Participants) > 0 {
			out = append(out, info)
		}
	}
	return out
}

func (r *room) info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := Info{ID: r.id, CreatedAt: r.createdAt, Participants: make([]string, 0, len(r.participants))}
	for _, p := range r.participants {
		info.Participants = append(info.Participants, p.PeerID)
	}
	return info
}
