// Package store holds the registry backends: an in-memory map, PostgreSQL and
// Redis. All of them copy name bytes on the way in and out.
package store

import (
	"context"
	"sync"

	"dattas/internal/names/models"
	id "dattas/pkg/domain"
	"dattas/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[id.AccountID]models.NameRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[id.AccountID]models.NameRecord)}
}

func (s *InMemoryStore) Get(_ context.Context, account id.AccountID) (*models.NameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[account]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyRecord(record), nil
}

func (s *InMemoryStore) GetMany(_ context.Context, accounts []id.AccountID) (map[id.AccountID]models.NameRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.AccountID]models.NameRecord, len(accounts))
	for _, account := range accounts {
		if record, ok := s.records[account]; ok {
			out[account] = *copyRecord(record)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Insert(_ context.Context, account id.AccountID, record models.NameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[account] = *copyRecord(record)
	return nil
}

func (s *InMemoryStore) Remove(_ context.Context, account id.AccountID) (*models.NameRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[account]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	delete(s.records, account)
	return &record, nil
}

// Len is the number of named accounts.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func copyRecord(record models.NameRecord) *models.NameRecord {
	return &models.NameRecord{Name: record.Name.Clone(), Deposit: record.Deposit}
}
