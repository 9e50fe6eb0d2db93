package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix  = "quota:"
	redisMaxRetries = 10
)

// RedisStore keeps one hash per identity and updates it under WATCH/MULTI.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, ""), nil
}

func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = redisKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(identity string) string {
	return s.keyPrefix + identity
}

func decodeRedis(identity string, h map[string]string) (Record, bool, error) {
	if len(h) == 0 {
		return Record{}, false, nil
	}
	start, err := strconv.ParseInt(h["period_start"], 10, 64)
	if err != nil {
		return Record{}, false, fmt.Errorf("bad period_start for %s: %w", identity, err)
	}
	count, err := strconv.Atoi(h["count"])
	if err != nil {
		return Record{}, false, fmt.Errorf("bad count for %s: %w", identity, err)
	}
	return Record{
		Identity:    identity,
		PeriodStart: time.Unix(start, 0).UTC(),
		Count:       count,
		Unlimited:   h["unlimited"] == "1",
	}, true, nil
}

func encodeRedis(rec Record) map[string]any {
	return map[string]any{
		"period_start": rec.PeriodStart.Unix(),
		"count":        rec.Count,
		"unlimited":    boolInt(rec.Unlimited),
	}
}

func (s *RedisStore) Get(ctx context.Context, identity string) (Record, bool, error) {
	h, err := s.client.HGetAll(ctx, s.key(identity)).Result()
	if err != nil {
		return Record{}, false, err
	}
	return decodeRedis(identity, h)
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	return s.client.HSet(ctx, s.key(rec.Identity), encodeRedis(rec)).Err()
}

// Update retries the optimistic transaction when another writer touched the key.
func (s *RedisStore) Update(ctx context.Context, identity string, fn func(rec *Record, found bool) (bool, error)) (Record, error) {
	key := s.key(identity)
	var out Record

	txf := func(tx *redis.Tx) error {
		h, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		rec, found, err := decodeRedis(identity, h)
		if err != nil {
			return err
		}
		if !found {
			rec = Record{Identity: identity}
		}

		changed, err := fn(&rec, found)
		if err != nil {
			return err
		}
		out = rec
		if !changed {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeRedis(rec))
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return Record{}, err
		}
	}
	return Record{}, fmt.Errorf("quota update for %s: too much contention", identity)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
