package presence

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a shared Redis instance. All mutations are
// single hash operations, so concurrent writers from any process race only on
// the timestamp comparison performed by the caller.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) CodeState(ctx context.Context, roomID string) (map[string]string, error) {
	return s.client.HGetAll(ctx, codeKey(roomID)).Result()
}

func (s *RedisStore) SeedCodeState(ctx context.Context, roomID string, state map[string]string) error {
	values := make(map[string]interface{}, len(state))
	for key, value := range state {
		values[key] = value
	}
	return s.client.HSet(ctx, codeKey(roomID), values).Err()
}

func (s *RedisStore) FieldStamp(ctx context.Context, roomID, field string) (int64, error) {
	raw, err := s.client.HGet(ctx, codeKey(roomID), StampKey(field)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	stamp, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return stamp, nil
}

func (s *RedisStore) SetField(ctx context.Context, roomID, field, content string, stampMillis int64) error {
	return s.client.HSet(ctx, codeKey(roomID), map[string]interface{}{
		field:           content,
		StampKey(field): strconv.FormatInt(stampMillis, 10),
	}).Err()
}

func (s *RedisStore) Users(ctx context.Context, roomID string) ([][]byte, error) {
	raw, err := s.client.HGetAll(ctx, usersKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	records := make([][]byte, 0, len(raw))
	for _, value := range raw {
		records = append(records, []byte(value))
	}
	return records, nil
}

func (s *RedisStore) AddUser(ctx context.Context, roomID, userID string, record []byte) error {
	return s.client.HSet(ctx, usersKey(roomID), userID, string(record)).Err()
}

func (s *RedisStore) RemoveUser(ctx context.Context, roomID, userID string) error {
	return s.client.HDel(ctx, usersKey(roomID), userID).Err()
}
