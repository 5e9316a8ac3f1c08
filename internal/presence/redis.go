package presence

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one hash per deployment, field = room id, value = the
// msgpack-encoded Record.
type RedisStore struct {
	rdb      *redis.Client
	keyRooms string
}

// NewRedisStore builds a presence store under prefix (e.g. "roomcall").
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "roomcall"
	}
	return &RedisStore{
		rdb:      rdb,
		keyRooms: fmt.Sprintf("%s:rooms", p),
	}
}

func (s *RedisStore) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx, s.keyRooms).Err()
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	b, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode presence record: %w", err)
	}
	return s.rdb.HSet(ctx, s.keyRooms, rec.RoomID, b).Err()
}

func (s *RedisStore) Delete(ctx context.Context, roomID string) error {
	return s.rdb.HDel(ctx, s.keyRooms, roomID).Err()
}

func (s *RedisStore) List(ctx context.Context) ([]Record, error) {
	vals, err := s.rdb.HGetAll(ctx, s.keyRooms).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(vals))
	for id, v := range vals {
		rec, err := decodeRecord([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("decode presence record %q: %w", id, err)
		}
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}
