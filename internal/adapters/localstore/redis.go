package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loophabits/loop-client/internal/core/domain"
)

var (
	_ domain.SnapshotStore = (*RedisStore)(nil)
	_ domain.TokenStore    = (*RedisStore)(nil)
)

// Snapshots only matter for the current day; anything older than this
// is stale by definition and can expire on its own.
const snapshotTTL = 48 * time.Hour

func NewRedisClient(host, port, password string, dbIndex int) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           dbIndex,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return rdb, nil
}

// RedisStore backs the snapshot cache and token with Redis, for
// deployments where several client processes share one device state
// (kiosk mode). Semantics match SQLiteStore.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) snapshotKey(userID string) string {
	return fmt.Sprintf("snapshot:%s", userID)
}

const tokenKey = "auth:token"

func (s *RedisStore) LoadSnapshot(ctx context.Context, userID string) (*domain.DailySnapshot, error) {
	key := s.snapshotKey(userID)

	val, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var snap domain.DailySnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		log.Printf("[STORE] Corrupted snapshot for user %s, cleaning up key", userID)
		s.rdb.Del(ctx, key)
		return nil, nil
	}

	return &snap, nil
}

func (s *RedisStore) SaveSnapshot(ctx context.Context, userID string, snap *domain.DailySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.snapshotKey(userID), data, snapshotTTL).Err()
}

func (s *RedisStore) UpdateOne(ctx context.Context, userID, habitID string, actualValue int) error {
	snap, err := s.LoadSnapshot(ctx, userID)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	for i := range snap.Data {
		if snap.Data[i].HabitID == habitID {
			value := actualValue
			snap.Data[i].CompletedToday = true
			snap.Data[i].ActualValue = &value
			break
		}
	}

	return s.SaveSnapshot(ctx, userID, snap)
}

func (s *RedisStore) LoadToken(ctx context.Context) (string, error) {
	val, err := s.rdb.Get(ctx, tokenKey).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", err
	}
	return val, nil
}

func (s *RedisStore) SaveToken(ctx context.Context, token string) error {
	return s.rdb.Set(ctx, tokenKey, token, 0).Err()
}

func (s *RedisStore) ClearToken(ctx context.Context) error {
	return s.rdb.Del(ctx, tokenKey).Err()
}
