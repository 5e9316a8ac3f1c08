// Package protocol defines the signaling envelope exchanged over the WebSocket.
package protocol

// Type is the tag of a signaling envelope.
type Type string

// Envelope tags.
const (
	TypeJoinRoom     Type = "joinRoom"     // client → coordinator
	TypeRoomJoined   Type = "roomJoined"   // coordinator → client, initiate negotiation
	TypeOffer        Type = "offer"        // either direction
	TypeAnswer       Type = "answer"       // either direction (relayed)
	TypeICECandidate Type = "iceCandidate" // either direction
	TypeLeaveRoom    Type = "leaveRoom"    // client → coordinator
	TypeError        Type = "error"        // coordinator → client
)

// Known reports whether t is one of the envelope tags above.
func (t Type) Known() bool {
	switch t {
	case TypeJoinRoom, TypeRoomJoined, TypeOffer, TypeAnswer,
		TypeICECandidate, TypeLeaveRoom, TypeError:
		return true
	}
	return false
}

// Candidate is a trickled ICE candidate, in the shape browsers produce with
// RTCIceCandidate.toJSON().
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Message is the closed union of signaling envelopes. Only the field that
// belongs to Type is meaningful; Encode drops the others.
type Message struct {
	Type      Type
	RoomID    string     // joinRoom
	SDPOffer  string     // offer
	SDPAnswer string     // answer
	Candidate *Candidate // iceCandidate
	Text      string     // error
}

// JoinRoom builds a joinRoom envelope.
func JoinRoom(roomID string) Message { return Message{Type: TypeJoinRoom, RoomID: roomID} }

// RoomJoined builds a roomJoined envelope.
func RoomJoined() Message { return Message{Type: TypeRoomJoined} }

// Offer builds an offer envelope.
func Offer(sdp string) Message { return Message{Type: TypeOffer, SDPOffer: sdp} }

// Answer builds an answer envelope.
func Answer(sdp string) Message { return Message{Type: TypeAnswer, SDPAnswer: sdp} }

// ICECandidate builds an iceCandidate envelope.
func ICECandidate(c Candidate) Message { return Message{Type: TypeICECandidate, Candidate: &c} }

// LeaveRoom builds a leaveRoom envelope.
func LeaveRoom() Message { return Message{Type: TypeLeaveRoom} }

// Error builds an error envelope.
func Error(text string) Message { return Message{Type: TypeError, Text: text} }
