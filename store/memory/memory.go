// Package memory implements an in-process [agriauth.AccountStore].
package memory

import (
	"context"
	"sync"

	"github.com/agrivision/agriauth"
)

// Store is a mutex-guarded account map with email and external identity
// indexes.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*agriauth.Account
	byEmail    map[string]string
	byExternal map[externalKey]string
}

type externalKey struct {
	provider agriauth.Provider
	subject  string
}

var _ agriauth.AccountStore = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:       make(map[string]*agriauth.Account),
		byEmail:    make(map[string]string),
		byExternal: make(map[externalKey]string),
	}
}

func (s *Store) Create(_ context.Context, account *agriauth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[account.Email]; ok {
		return agriauth.ErrAccountExists
	}
	if _, ok := s.byID[account.ID]; ok {
		return agriauth.ErrAccountExists
	}
	if s.externalTaken(account) {
		return agriauth.ErrAccountExists
	}
	s.byID[account.ID] = account.Clone()
	s.byEmail[account.Email] = account.ID
	s.indexExternal(nil, account)
	return nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (*agriauth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, agriauth.ErrAccountNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *Store) FindByID(_ context.Context, id string) (*agriauth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.byID[id]
	if !ok {
		return nil, agriauth.ErrAccountNotFound
	}
	return account.Clone(), nil
}

func (s *Store) FindByExternalID(_ context.Context, provider agriauth.Provider, subject string) (*agriauth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalKey{provider, subject}]
	if !ok {
		return nil, agriauth.ErrAccountNotFound
	}
	return s.byID[id].Clone(), nil
}

// Update replaces the stored account when account.Version matches. Changing
// the email moves the index entry and fails with ErrAccountExists when the
// new email is taken.
func (s *Store) Update(_ context.Context, account *agriauth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[account.ID]
	if !ok {
		return agriauth.ErrAccountNotFound
	}
	if current.Version != account.Version {
		return agriauth.ErrAccountConflict
	}
	if current.Email != account.Email {
		if _, taken := s.byEmail[account.Email]; taken {
			return agriauth.ErrAccountExists
		}
	}
	if s.externalTaken(account) {
		return agriauth.ErrAccountExists
	}

	if current.Email != account.Email {
		delete(s.byEmail, current.Email)
		s.byEmail[account.Email] = account.ID
	}
	s.indexExternal(current, account)

	account.Version++
	s.byID[account.ID] = account.Clone()
	return nil
}

// Len returns the number of stored accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// externalTaken reports whether any identity on account belongs to a
// different account. Callers hold s.mu.
func (s *Store) externalTaken(account *agriauth.Account) bool {
	for provider, subject := range account.ExternalIDs {
		owner, ok := s.byExternal[externalKey{agriauth.Provider(provider), subject}]
		if ok && owner != account.ID {
			return true
		}
	}
	return false
}

func (s *Store) indexExternal(previous, next *agriauth.Account) {
	if previous != nil {
		for provider, subject := range previous.ExternalIDs {
			if next.ExternalIDs[provider] != subject {
				delete(s.byExternal, externalKey{agriauth.Provider(provider), subject})
			}
		}
	}
	for provider, subject := range next.ExternalIDs {
		s.byExternal[externalKey{agriauth.Provider(provider), subject}] = next.ID
	}
}
