package room

import "errors"

var (
	ErrRoomFull        = errors.New("room is full")
	ErrRoomNotFound    = errors.New("room not found")
	ErrPeerNotFound    = errors.New("peer not in a room")
	ErrAlreadyJoined   = errors.New("peer already in a room")
	ErrCounterpartLeft = errors.New("peer left the room")
	ErrNoCounterpart   = errors.New("no other peer in the room")
)
