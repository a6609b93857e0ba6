// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

// MockIdentityStore is an in-memory database.IdentityWriter that keeps insertion order
type MockIdentityStore struct {
	mu         sync.RWMutex
	identities []facematch.Identity

	// Error injection
	ListError   error
	GetError    error
	SaveError   error
	DeleteError error
}

var _ database.IdentityWriter = (*MockIdentityStore)(nil)

// NewMockIdentityStore creates a store holding a copy of identities
func NewMockIdentityStore(identities ...facematch.Identity) *MockIdentityStore {
	m := &MockIdentityStore{}
	for _, ident := range identities {
		m.identities = append(m.identities, clone(ident))
	}
	return m
}

func clone(ident facematch.Identity) facematch.Identity {
	out := ident
	if ident.ReferenceEmbeddings == nil {
		return out
	}
	out.ReferenceEmbeddings = make([][]float32, len(ident.ReferenceEmbeddings))
	for i, emb := range ident.ReferenceEmbeddings {
		out.ReferenceEmbeddings[i] = slices.Clone(emb)
	}
	return out
}

func (m *MockIdentityStore) indexOf(id string) int {
	return slices.IndexFunc(m.identities, func(ident facematch.Identity) bool { return ident.ID == id })
}

// ListIdentities returns all identities in insertion order
func (m *MockIdentityStore) ListIdentities(ctx context.Context) ([]facematch.Identity, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]facematch.Identity, len(m.identities))
	for i, ident := range m.identities {
		out[i] = clone(ident)
	}
	return out, nil
}

// GetIdentity returns one identity
func (m *MockIdentityStore) GetIdentity(ctx context.Context, id string) (*facematch.Identity, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexOf(id)
	if i < 0 {
		return nil, fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	ident := clone(m.identities[i])
	return &ident, nil
}

// Count returns the number of identities
func (m *MockIdentityStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.identities), nil
}

// SaveIdentity inserts or updates an identity
func (m *MockIdentityStore) SaveIdentity(ctx context.Context, ident facematch.Identity) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ident = clone(ident)
	if i := m.indexOf(ident.ID); i >= 0 {
		if ident.ReferenceEmbeddings == nil {
			ident.ReferenceEmbeddings = m.identities[i].ReferenceEmbeddings
		}
		m.identities[i] = ident
		return nil
	}
	m.identities = append(m.identities, ident)
	return nil
}

// AddReferenceEmbedding appends an embedding
func (m *MockIdentityStore) AddReferenceEmbedding(ctx context.Context, id string, embedding []float32) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	m.identities[i].ReferenceEmbeddings = append(m.identities[i].ReferenceEmbeddings, slices.Clone(embedding))
	return nil
}

// DeleteIdentity removes an identity
func (m *MockIdentityStore) DeleteIdentity(ctx context.Context, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(id)
	if i < 0 {
		return fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	m.identities = slices.Delete(m.identities, i, i+1)
	return nil
}

// MockHistoryStore is an in-memory database.HistoryStore
type MockHistoryStore struct {
	mu      sync.RWMutex
	matches []pipeline.MatchEvent
	alerts  []pipeline.AlertEvent

	// Error injection
	RecordError error
	ListError   error
}

var _ database.HistoryStore = (*MockHistoryStore)(nil)

// NewMockHistoryStore creates an empty history store
func NewMockHistoryStore() *MockHistoryStore {
	return &MockHistoryStore{}
}

// RecordMatch stores a match event
func (m *MockHistoryStore) RecordMatch(ctx context.Context, ev pipeline.MatchEvent) error {
	if m.RecordError != nil {
		return m.RecordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches = append(m.matches, ev)
	return nil
}

// RecordAlert stores an alert event
func (m *MockHistoryStore) RecordAlert(ctx context.Context, ev pipeline.AlertEvent) error {
	if m.RecordError != nil {
		return m.RecordError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, ev)
	return nil
}

// ListMatches returns matches newest first, filtered by q
func (m *MockHistoryStore) ListMatches(ctx context.Context, q database.HistoryQuery) ([]pipeline.MatchEvent, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []pipeline.MatchEvent
	for i := len(m.matches) - 1; i >= 0; i-- {
		ev := m.matches[i]
		if q.IdentityID != "" && ev.IdentityID != q.IdentityID {
			continue
		}
		if q.Source != "" && ev.Source != q.Source {
			continue
		}
		if q.UnknownOnly && ev.Matched {
			continue
		}
		out = append(out, ev)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// ListAlerts returns alerts newest first, filtered by q
func (m *MockHistoryStore) ListAlerts(ctx context.Context, q database.HistoryQuery) ([]pipeline.AlertEvent, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []pipeline.AlertEvent
	for i := len(m.alerts) - 1; i >= 0; i-- {
		ev := m.alerts[i]
		if q.IdentityID != "" && ev.IdentityID != q.IdentityID {
			continue
		}
		if q.Source != "" && ev.Source != q.Source {
			continue
		}
		out = append(out, ev)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// CountAlerts returns the number of stored alerts
func (m *MockHistoryStore) CountAlerts(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerts), nil
}
