package stores

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChallengeStore keeps challenges in Redis under <prefix>:<challengeID>.
type RedisChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisChallengeStore creates a store. An empty prefix defaults to "amc".
func NewRedisChallengeStore(redisClient redis.UniversalClient, prefix string) *RedisChallengeStore {
	if prefix == "" {
		prefix = "amc"
	}
	return &RedisChallengeStore{
		redis:  redisClient,
		prefix: prefix,
		now:    time.Now,
	}
}

// WithClock replaces the clock used for expiry checks on Consume.
func (s *RedisChallengeStore) WithClock(clock func() time.Time) *RedisChallengeStore {
	if clock != nil {
		s.now = clock
	}
	return s
}

func (s *RedisChallengeStore) key(challengeID string) string {
	return s.prefix + ":" + challengeID
}

// Save implements ChallengeStore.
func (s *RedisChallengeStore) Save(
	ctx context.Context,
	challengeID string,
	record *Challenge,
	ttl time.Duration,
) error {
	encoded, err := encodeChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(challengeID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Consume implements ChallengeStore.
func (s *RedisChallengeStore) Consume(
	ctx context.Context,
	challengeID string,
	codeHash [32]byte,
) (*Challenge, error) {
	const maxRetries = 4
	key := s.key(challengeID)

	for i := 0; i < maxRetries; i++ {
		var consumed *Challenge
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeChallenge(data)
			if err != nil {
				return err
			}
			if record.Expired(s.now()) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrChallengeExpired
			}
			if subtle.ConstantTimeCompare(record.CodeHash[:], codeHash[:]) != 1 {
				return ErrChallengeMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			consumed = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrChallengeNotFound
			case errors.Is(err, ErrChallengeExpired), errors.Is(err, ErrChallengeMismatch):
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		return consumed, nil
	}

	return nil, ErrChallengeNotFound
}
