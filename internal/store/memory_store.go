package store

import (
	"context"
	"sync"
	"time"

	"github.com/hexlume/castquest/internal/domain"
)

// MemoryStore mirrors the Postgres semantics: append-only slices, latest
// created_at wins. Ties fall to the later insert.
type MemoryStore struct {
	mu           sync.RWMutex
	validations  []domain.Validation
	attestations []domain.Attestation
	notes        []domain.Note
	transactions []domain.Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertValidation(_ context.Context, v domain.Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	s.validations = append(s.validations, v)
	return nil
}

func (s *MemoryStore) LatestValidation(_ context.Context, jobID string) (domain.Validation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest domain.Validation
		found  bool
	)
	for _, v := range s.validations {
		if v.JobID != jobID {
			continue
		}
		if !found || !v.CreatedAt.Before(latest.CreatedAt) {
			latest = v
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) InsertAttestation(_ context.Context, a domain.Attestation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	s.attestations = append(s.attestations, a)
	return nil
}

func (s *MemoryStore) LatestAttestation(_ context.Context, jobID string) (domain.Attestation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest domain.Attestation
		found  bool
	)
	for _, a := range s.attestations {
		if a.JobID != jobID {
			continue
		}
		if !found || !a.CreatedAt.Before(latest.CreatedAt) {
			latest = a
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) InsertNote(_ context.Context, n domain.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notes = append(s.notes, n)
	return nil
}

func (s *MemoryStore) LatestNote(_ context.Context, jobID string) (domain.Note, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest domain.Note
		found  bool
	)
	for _, n := range s.notes {
		if n.JobID != jobID {
			continue
		}
		if !found || !n.CreatedAt.Before(latest.CreatedAt) {
			latest = n
			found = true
		}
	}
	return latest, found, nil
}

func (s *MemoryStore) InsertTransaction(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.transactions = append(s.transactions, tx)
	return nil
}

func (s *MemoryStore) LatestTransaction(_ context.Context, txID string) (domain.Transaction, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest domain.Transaction
		found  bool
	)
	for _, tx := range s.transactions {
		if tx.TxID != txID {
			continue
		}
		if !found || !tx.CreatedAt.Before(latest.CreatedAt) {
			latest = tx
			found = true
		}
	}
	return latest, found, nil
}
