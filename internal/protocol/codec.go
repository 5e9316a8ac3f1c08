package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeErrorKind classifies why an inbound frame was rejected.
type DecodeErrorKind int

const (
	MalformedEnvelope DecodeErrorKind = iota + 1
	UnknownTag
)

func (k DecodeErrorKind) String() string {
	switch k {
	case MalformedEnvelope:
		return "malformed envelope"
	case UnknownTag:
		return "unknown tag"
	}
	return "decode error"
}

// DecodeError is returned by Decode. It never affects coordinator state.
type DecodeError struct {
	Kind DecodeErrorKind
	Tag  string
	Err  error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Kind == UnknownTag:
		return fmt.Sprintf("%s: %q", e.Kind, e.Tag)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.String()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Wire shapes, one per tag. Required fields are pointers so that a missing
// field can be told apart from an empty one.
type (
	envelope struct {
		Type *string `json:"type"`
	}
	joinRoomWire struct {
		Type   Type    `json:"type"`
		RoomID *string `json:"roomId"`
	}
	offerWire struct {
		Type     Type    `json:"type"`
		SDPOffer *string `json:"sdpOffer"`
	}
	answerWire struct {
		Type      Type    `json:"type"`
		SDPAnswer *string `json:"sdpAnswer"`
	}
	candidateWire struct {
		Type      Type           `json:"type"`
		Candidate *candidateBody `json:"candidate"`
	}
	candidateBody struct {
		Candidate        *string `json:"candidate"`
		SDPMid           *string `json:"sdpMid,omitempty"`
		SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
		UsernameFragment *string `json:"usernameFragment,omitempty"`
	}
	errorWire struct {
		Type    Type    `json:"type"`
		Message *string `json:"message"`
	}
	bareWire struct {
		Type Type `json:"type"`
	}
)

// Encode serializes a Message into a UTF-8 JSON envelope.
func Encode(msg Message) ([]byte, error) {
	var v any
	switch msg.Type {
	case TypeJoinRoom:
		v = joinRoomWire{Type: msg.Type, RoomID: &msg.RoomID}
	case TypeOffer:
		v = offerWire{Type: msg.Type, SDPOffer: &msg.SDPOffer}
	case TypeAnswer:
		v = answerWire{Type: msg.Type, SDPAnswer: &msg.SDPAnswer}
	case TypeICECandidate:
		if msg.Candidate == nil {
			return nil, fmt.Errorf("encode %s: missing candidate", msg.Type)
		}
		c := msg.Candidate
		v = candidateWire{Type: msg.Type, Candidate: &candidateBody{
			Candidate:        &c.Candidate,
			SDPMid:           c.SDPMid,
			SDPMLineIndex:    c.SDPMLineIndex,
			UsernameFragment: c.UsernameFragment,
		}}
	case TypeError:
		v = errorWire{Type: msg.Type, Message: &msg.Text}
	case TypeRoomJoined, TypeLeaveRoom:
		v = bareWire{Type: msg.Type}
	default:
		return nil, fmt.Errorf("encode: unknown message type %q", msg.Type)
	}
	return json.Marshal(v)
}

// Decode parses an inbound envelope. Errors are always *DecodeError.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, malformed(err)
	}
	if env.Type == nil {
		return Message{}, malformed(fmt.Errorf("missing type"))
	}

	t := Type(*env.Type)
	if !t.Known() {
		return Message{}, &DecodeError{Kind: UnknownTag, Tag: *env.Type}
	}

	switch t {
	case TypeJoinRoom:
		var w joinRoomWire
		if err := json.Unmarshal(data, &w); err != nil {
			return Message{}, malformed(err)
		}
		if w.RoomID == nil || *w.RoomID == "" {
			return Message{}, malformed(fmt.Errorf("%s: missing roomId", t))
		}
		return JoinRoom(*w.RoomID), nil

	case TypeOffer:
		var w offerWire
		if err := json.Unmarshal(data, &w); err != nil {
			return Message{}, malformed(err)
		}
		if w.SDPOffer == nil {
			return Message{}, malformed(fmt.Errorf("%s: missing sdpOffer", t))
		}
		return Offer(*w.SDPOffer), nil

	case TypeAnswer:
		var w answerWire
		if err := json.Unmarshal(data, &w); err != nil {
			return Message{}, malformed(err)
		}
		if w.SDPAnswer == nil {
			return Message{}, malformed(fmt.Errorf("%s: missing sdpAnswer", t))
		}
		return Answer(*w.SDPAnswer), nil

	case TypeICECandidate:
		var w candidateWire
		if err := json.Unmarshal(data, &w); err != nil {
			return Message{}, malformed(err)
		}
		if w.Candidate == nil || w.Candidate.Candidate == nil {
			return Message{}, malformed(fmt.Errorf("%s: missing candidate", t))
		}
		return ICECandidate(Candidate{
			Candidate:        *w.Candidate.Candidate,
			SDPMid:           w.Candidate.SDPMid,
			SDPMLineIndex:    w.Candidate.SDPMLineIndex,
			UsernameFragment: w.Candidate.UsernameFragment,
		}), nil

	case TypeError:
		var w errorWire
		if err := json.Unmarshal(data, &w); err != nil {
			return Message{}, malformed(err)
		}
		if w.Message == nil {
			return Message{}, malformed(fmt.Errorf("%s: missing message", t))
		}
		return Error(*w.Message), nil
	}

	// roomJoined and leaveRoom carry no fields.
	return Message{Type: t}, nil
}

func malformed(err error) *DecodeError {
	return &DecodeError{Kind: MalformedEnvelope, Err: err}
}
