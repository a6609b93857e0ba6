package database

import (
	"context"
	"fmt"
	"sync"
)

var (
	mu             sync.RWMutex
	identityName   string
	identityReader func() IdentityReader
	identityWriter func() IdentityWriter
	historyStore   func() HistoryStore
)

// RegisterIdentityBackend registers the identity source constructors.
// writer may be nil for read-only sources.
// This is called from cmd so that storage packages never import each other.
func RegisterIdentityBackend(name string, reader func() IdentityReader, writer func() IdentityWriter) {
	mu.Lock()
	defer mu.Unlock()
	identityName = name
	identityReader = reader
	identityWriter = writer
}

// RegisterHistoryStore registers the history store constructor.
func RegisterHistoryStore(store func() HistoryStore) {
	mu.Lock()
	defer mu.Unlock()
	historyStore = store
}

// IdentityBackendName returns the name of the registered identity source.
func IdentityBackendName() string {
	mu.RLock()
	defer mu.RUnlock()
	return identityName
}

// GetIdentityReader returns the registered IdentityReader
func GetIdentityReader(ctx context.Context) (IdentityReader, error) {
	mu.RLock()
	defer mu.RUnlock()
	if identityReader == nil {
		return nil, fmt.Errorf("identity backend not initialized")
	}
	return identityReader(), nil
}

// GetIdentityWriter returns the registered IdentityWriter, or ErrReadOnly
func GetIdentityWriter(ctx context.Context) (IdentityWriter, error) {
	mu.RLock()
	defer mu.RUnlock()
	if identityReader == nil {
		return nil, fmt.Errorf("identity backend not initialized")
	}
	if identityWriter == nil {
		return nil, fmt.Errorf("%s: %w", identityName, ErrReadOnly)
	}
	return identityWriter(), nil
}

// GetHistoryReader returns the registered HistoryReader
func GetHistoryReader(ctx context.Context) (HistoryReader, error) {
	mu.RLock()
	defer mu.RUnlock()
	if historyStore == nil {
		return nil, fmt.Errorf("history store not configured: HISTORY_DB_PATH is required")
	}
	return historyStore(), nil
}

// ResetForTesting clears all registrations.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	identityName = ""
	identityReader = nil
	identityWriter = nil
	historyStore = nil
}
