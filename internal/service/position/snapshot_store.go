package position

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/krobus00/execution-engine/internal/entity"
	"github.com/redis/go-redis/v9"
)

// SnapshotStore persists position snapshots outside the process. The engine
// writes through after every fill; the store is never on the hot path and a
// write failure only logs.
type SnapshotStore interface {
	Save(ctx context.Context, position entity.Position) error
	Load(ctx context.Context, symbol string) (entity.Position, bool, error)
}

type RedisSnapshotStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisSnapshotStore(cacheDSN string) (*RedisSnapshotStore, error) {
	if cacheDSN == "" {
		return nil, fmt.Errorf("redis cache_dsn is required")
	}

	options, err := redis.ParseURL(cacheDSN)
	if err != nil {
		return nil, fmt.Errorf("parse redis cache_dsn: %w", err)
	}

	return &RedisSnapshotStore{
		client:    redis.NewClient(options),
		keyPrefix: "execution_engine:position:",
	}, nil
}

func (s *RedisSnapshotStore) Save(ctx context.Context, position entity.Position) error {
	payload, err := json.Marshal(position)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, s.keyPrefix+position.Symbol, payload, 0).Err()
}

func (s *RedisSnapshotStore) Load(ctx context.Context, symbol string) (entity.Position, bool, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+symbol).Result()
	if err != nil {
		if err == redis.Nil {
			return entity.Position{}, false, nil
		}
		return entity.Position{}, false, err
	}

	var position entity.Position
	if err := json.Unmarshal([]byte(raw), &position); err != nil {
		return entity.Position{}, false, err
	}

	return position, true, nil
}

func (s *RedisSnapshotStore) Close() error {
	return s.client.Close()
}
