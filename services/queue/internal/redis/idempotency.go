package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/appetiteclub/apt"
	goredis "github.com/redis/go-redis/v9"
)

const (
	keyPrefix     = "queue:submit:"
	inFlightValue = "pending"

	// maxInFlightTTL bounds how long a submission that never recorded its
	// order keeps blocking retries of the same key.
	maxInFlightTTL = 30 * time.Second
)

// IdempotencyStore keeps submission keys in Redis. A key holds "pending"
// while its request runs and the created order id afterwards.
type IdempotencyStore struct {
	client *goredis.Client
	logger apt.Logger
}

func NewIdempotencyStore(config *apt.Config, logger apt.Logger) *IdempotencyStore {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	password, _ := config.GetString("redis.password")
	client := goredis.NewClient(&goredis.Options{
		Addr:     config.GetStringOrDef("redis.addr", "localhost:6379"),
		Password: password,
	})
	return &IdempotencyStore{client: client, logger: logger}
}

func NewIdempotencyStoreWithClient(client *goredis.Client, logger apt.Logger) *IdempotencyStore {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &IdempotencyStore{client: client, logger: logger}
}

func (s *IdempotencyStore) Start(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cannot ping Redis: %w", err)
	}
	s.logger.Info("Connected to Redis", "addr", s.client.Options().Addr)
	return nil
}

func (s *IdempotencyStore) Stop(context.Context) error {
	return s.client.Close()
}

func (s *IdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	k := redisKey(key)

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, k, inFlightValue, inFlightTTL(ttl)).Result()
		if err != nil {
			return "", false, fmt.Errorf("cannot reserve key: %w", err)
		}
		if ok {
			return "", true, nil
		}

		val, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, goredis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("cannot read key: %w", err)
		}
		if val == inFlightValue {
			return "", false, nil
		}
		return val, false, nil
	}

	return "", false, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key, orderID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKey(key), orderID, ttl).Err(); err != nil {
		return fmt.Errorf("cannot store key: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("cannot release key: %w", err)
	}
	return nil
}

func inFlightTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > maxInFlightTTL {
		return maxInFlightTTL
	}
	return ttl
}

func redisKey(key string) string {
	return keyPrefix + key
}
