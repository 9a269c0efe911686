// Package redisstore implements [agriauth.AccountStore] on Redis.
//
// Accounts are stored as JSON under <prefix>:<id>. Email uniqueness is
// enforced by claiming <prefix>:email:<email> with SETNX before the record
// is written, and external identities the same way under
// <prefix>:ext:<provider>:<subject>. Update is a WATCH/MULTI compare-and-set
// on the record's version.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agrivision/agriauth"
)

// Store keeps accounts in Redis.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ agriauth.AccountStore = (*Store)(nil)

// New creates a Store. An empty prefix defaults to "acct".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "acct"
	}
	return &Store{redis: client, prefix: prefix}
}

type record struct {
	ID            string            `json:"id"`
	Email         string            `json:"email"`
	Name          string            `json:"name"`
	PasswordHash  string            `json:"password_hash"`
	Role          string            `json:"role"`
	Active        bool              `json:"active"`
	EmailVerified bool              `json:"email_verified"`
	MFAEnabled    bool              `json:"mfa_enabled"`
	Phone         string            `json:"phone,omitempty"`
	PushToken     string            `json:"push_token,omitempty"`
	ExternalIDs   map[string]string `json:"external_ids,omitempty"`
	Version       int64             `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

func toRecord(a *agriauth.Account) record {
	return record{
		ID:            a.ID,
		Email:         a.Email,
		Name:          a.Name,
		PasswordHash:  a.PasswordHash,
		Role:          string(a.Role),
		Active:        a.Active,
		EmailVerified: a.EmailVerified,
		MFAEnabled:    a.MFAEnabled,
		Phone:         a.Phone,
		PushToken:     a.PushToken,
		ExternalIDs:   a.ExternalIDs,
		Version:       a.Version,
		CreatedAt:     a.CreatedAt.UTC(),
		UpdatedAt:     a.UpdatedAt.UTC(),
	}
}

func (r record) account() *agriauth.Account {
	return &agriauth.Account{
		ID:            r.ID,
		Email:         r.Email,
		Name:          r.Name,
		PasswordHash:  r.PasswordHash,
		Role:          agriauth.Role(r.Role),
		Active:        r.Active,
		EmailVerified: r.EmailVerified,
		MFAEnabled:    r.MFAEnabled,
		Phone:         r.Phone,
		PushToken:     r.PushToken,
		ExternalIDs:   r.ExternalIDs,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *Store) accountKey(id string) string {
	return s.prefix + ":" + id
}

func (s *Store) emailKey(email string) string {
	return s.prefix + ":email:" + email
}

func (s *Store) externalKey(provider, subject string) string {
	return s.prefix + ":ext:" + provider + ":" + subject
}

func (s *Store) Create(ctx context.Context, account *agriauth.Account) error {
	payload, err := json.Marshal(toRecord(account))
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	claims := []string{s.emailKey(account.Email)}
	for provider, subject := range account.ExternalIDs {
		claims = append(claims, s.externalKey(provider, subject))
	}
	for i, key := range claims {
		claimed, err := s.redis.SetNX(ctx, key, account.ID, 0).Result()
		if err != nil || !claimed {
			s.release(ctx, claims[:i])
			if err != nil {
				return err
			}
			return agriauth.ErrAccountExists
		}
	}

	created, err := s.redis.SetNX(ctx, s.accountKey(account.ID), payload, 0).Result()
	if err != nil || !created {
		// release the claims so a retry can succeed
		s.release(ctx, claims)
		if err != nil {
			return err
		}
		return agriauth.ErrAccountExists
	}
	return nil
}

func (s *Store) release(ctx context.Context, keys []string) {
	if len(keys) > 0 {
		_ = s.redis.Del(ctx, keys...).Err()
	}
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*agriauth.Account, error) {
	return s.findByIndex(ctx, s.emailKey(email))
}

func (s *Store) FindByExternalID(ctx context.Context, provider agriauth.Provider, subject string) (*agriauth.Account, error) {
	return s.findByIndex(ctx, s.externalKey(string(provider), subject))
}

func (s *Store) findByIndex(ctx context.Context, key string) (*agriauth.Account, error) {
	id, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, agriauth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

func (s *Store) FindByID(ctx context.Context, id string) (*agriauth.Account, error) {
	raw, err := s.redis.Get(ctx, s.accountKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, agriauth.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(id, raw)
}

func decodeRecord(id string, raw []byte) (*agriauth.Account, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return rec.account(), nil
}

// Update overwrites an existing record when account.Version matches the
// stored version. The email is immutable here; a changed email is rejected
// rather than leaving a stale index entry. Identity index keys are moved in
// the same transaction as the record.
func (s *Store) Update(ctx context.Context, account *agriauth.Account) error {
	key := s.accountKey(account.ID)
	watched := []string{key}
	for provider, subject := range account.ExternalIDs {
		watched = append(watched, s.externalKey(provider, subject))
	}

	rec := toRecord(account)
	rec.Version = account.Version + 1
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}

	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return agriauth.ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeRecord(account.ID, raw)
		if err != nil {
			return err
		}
		if current.Version != account.Version {
			return agriauth.ErrAccountConflict
		}
		if current.Email != account.Email {
			return errEmailChange
		}
		for provider, subject := range account.ExternalIDs {
			owner, err := tx.Get(ctx, s.externalKey(provider, subject)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil && owner != account.ID {
				return agriauth.ErrAccountExists
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			for provider, subject := range current.ExternalIDs {
				if account.ExternalIDs[provider] != subject {
					pipe.Del(ctx, s.externalKey(provider, subject))
				}
			}
			for provider, subject := range account.ExternalIDs {
				pipe.Set(ctx, s.externalKey(provider, subject), account.ID, 0)
			}
			return nil
		})
		return err
	}, watched...)

	if errors.Is(err, redis.TxFailedErr) {
		return agriauth.ErrAccountConflict
	}
	if err != nil {
		return err
	}
	account.Version = rec.Version
	return nil
}

var errEmailChange = errors.New("redisstore: email change not supported")
