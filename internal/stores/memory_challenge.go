package stores

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// MemoryChallengeStore is a process-local ChallengeStore.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	records map[string]Challenge
	now     func() time.Time
}

// NewMemoryChallengeStore creates an empty store. A nil clock uses time.Now.
func NewMemoryChallengeStore(clock func() time.Time) *MemoryChallengeStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryChallengeStore{records: make(map[string]Challenge), now: clock}
}

// Save implements ChallengeStore. The record's ExpiresAt governs expiry.
func (s *MemoryChallengeStore) Save(_ context.Context, challengeID string, record *Challenge, _ time.Duration) error {
	s.mu.Lock()
	s.records[challengeID] = *record
	s.mu.Unlock()
	return nil
}

// Consume implements ChallengeStore.
func (s *MemoryChallengeStore) Consume(_ context.Context, challengeID string, codeHash [32]byte) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[challengeID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	if record.Expired(s.now()) {
		delete(s.records, challengeID)
		return nil, ErrChallengeExpired
	}
	if subtle.ConstantTimeCompare(record.CodeHash[:], codeHash[:]) != 1 {
		return nil, ErrChallengeMismatch
	}

	delete(s.records, challengeID)
	return &record, nil
}

// Sweep removes expired challenges and returns how many were dropped.
func (s *MemoryChallengeStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if record.Expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored challenges.
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
