package profilestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/you-humble/loggenie/internal/domain"

	"github.com/redis/go-redis/v9"
)

const maxUpdateRetries = 5

// redisProfileStore keeps each user as a JSON document under prefix+username.
type redisProfileStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisProfileStore(rdb redis.UniversalClient) *redisProfileStore {
	return &redisProfileStore{rdb: rdb, prefix: "loggenie:user:"}
}

func (s *redisProfileStore) User(ctx context.Context, username string) (domain.User, error) {
	return s.get(ctx, s.rdb, username)
}

func (s *redisProfileStore) Create(ctx context.Context, u domain.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, s.key(u.Username), data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return domain.ErrUserExists
	}
	return nil
}

// Update runs fn inside an optimistic WATCH transaction and retries when the
// user changes concurrently.
func (s *redisProfileStore) Update(
	ctx context.Context,
	username string,
	fn func(*domain.User) error,
) (domain.User, error) {
	key := s.key(username)

	var updated domain.User
	txf := func(tx *redis.Tx) error {
		u, err := s.get(ctx, tx, username)
		if err != nil {
			return err
		}
		if err := fn(&u); err != nil {
			return err
		}
		u.UpdatedAt = time.Now()

		data, err := json.Marshal(u)
		if err != nil {
			return fmt.Errorf("marshal user: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			updated = u
		}
		return err
	}

	for range maxUpdateRetries {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return domain.User{}, err
		}
		return updated, nil
	}

	return domain.User{}, fmt.Errorf("update user %s: too much contention", username)
}

func (s *redisProfileStore) get(ctx context.Context, c redis.Cmdable, username string) (domain.User, error) {
	data, err := c.Get(ctx, s.key(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("redis get: %w", err)
	}

	var u domain.User
	if err := json.Unmarshal(data, &u); err != nil {
		return domain.User{}, fmt.Errorf("unmarshal user: %w", err)
	}
	return u, nil
}

func (s *redisProfileStore) key(username string) string {
	return s.prefix + username
}
