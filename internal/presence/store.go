// Package presence publishes which rooms are occupied so that other processes
// (and the `rooms` command) can list them.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Record is the published state of one room.
type Record struct {
	RoomID       string    `msgpack:"room_id" json:"roomId"`
	Participants []string  `msgpack:"participants" json:"participants"`
	UpdatedAt    time.Time `msgpack:"updated_at" json:"updatedAt"`
}

// Store tracks occupied rooms.
type Store interface {
	Reset(ctx context.Context) error
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, roomID string) error
	List(ctx context.Context) ([]Record, error)
}

func encodeRecord(rec Record) ([]byte, error) {
	return msgpack.Marshal(&rec)
}

func decodeRecord(b []byte) (Record, error) {
	var rec Record
	err := msgpack.Unmarshal(b, &rec)
	return rec, err
}

func sortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].RoomID < recs[j].RoomID })
}

// MemoryStore keeps records in process. Used when no Redis is configured.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string][]byte)}
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) Put(ctx context.Context, rec Record) error {
	b, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[rec.RoomID] = b
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.rooms))
	for _, b := range s.rooms {
		rec, err := decodeRecord(b)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}
