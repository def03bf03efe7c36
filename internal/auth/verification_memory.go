package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryVerificationStore is an in-process VerificationStore.
type MemoryVerificationStore struct {
	mu      sync.Mutex
	records map[string]VerificationRecord
}

func NewMemoryVerificationStore() *MemoryVerificationStore {
	return &MemoryVerificationStore{records: make(map[string]VerificationRecord)}
}

func (s *MemoryVerificationStore) Get(_ context.Context, holderRef string) (VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[holderRef]
	if !ok {
		return VerificationRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryVerificationStore) PutIfAllowed(_ context.Context, rec VerificationRecord, sentBefore time.Time, maxResends int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Attempts = 0
	rec.ResendCount = 0
	if prev, ok := s.records[rec.HolderRef]; ok {
		if prev.ResendCount >= maxResends {
			return ErrResendLimit
		}
		if prev.LastSentAt.After(sentBefore) {
			return ErrResendCooldown
		}
		rec.ResendCount = prev.ResendCount + 1
	}
	s.records[rec.HolderRef] = rec
	return nil
}

func (s *MemoryVerificationStore) ClaimAttempt(_ context.Context, holderRef string, maxAttempts int) (VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[holderRef]
	if !ok {
		return VerificationRecord{}, ErrNotFound
	}
	if rec.Attempts >= maxAttempts {
		return VerificationRecord{}, ErrTooManyAttempts
	}
	rec.Attempts++
	s.records[holderRef] = rec
	return rec, nil
}

func (s *MemoryVerificationStore) Consume(_ context.Context, holderRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[holderRef]
	delete(s.records, holderRef)
	return ok, nil
}

func (s *MemoryVerificationStore) DeleteExpired(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.records {
		if rec.ExpiresAt.Before(t) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}
