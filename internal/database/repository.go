package database

import (
	"context"
	"errors"

	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

var (
	// ErrNotFound is returned when an identity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrReadOnly is returned when the configured identity source cannot be modified.
	ErrReadOnly = errors.New("identity source is read-only")
)

// IdentityReader provides read-only access to known identities
type IdentityReader interface {
	// ListIdentities returns all identities with their reference embeddings, in registry order
	ListIdentities(ctx context.Context) ([]facematch.Identity, error)
	// GetIdentity returns one identity or ErrNotFound
	GetIdentity(ctx context.Context, id string) (*facematch.Identity, error)
	// Count returns the number of stored identities
	Count(ctx context.Context) (int, error)
}

// IdentityNameFinder is implemented by readers that can look identities up by
// normalized display name themselves.
type IdentityNameFinder interface {
	FindByName(ctx context.Context, name string) ([]facematch.Identity, error)
}

// FindIdentitiesByName returns the identities whose display name matches name after
// normalization. Readers without their own lookup are listed and filtered in memory.
func FindIdentitiesByName(ctx context.Context, reader IdentityReader, name string) ([]facematch.Identity, error) {
	if finder, ok := reader.(IdentityNameFinder); ok {
		return finder.FindByName(ctx, name)
	}
	identities, err := reader.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	return facematch.FilterByName(identities, name), nil
}

// IdentityWriter provides write access to identities
type IdentityWriter interface {
	IdentityReader

	// SaveIdentity inserts or updates an identity. Reference embeddings are replaced
	// when ident.ReferenceEmbeddings is non-nil and kept otherwise.
	SaveIdentity(ctx context.Context, ident facematch.Identity) error

	// AddReferenceEmbedding appends one reference embedding to an existing identity
	AddReferenceEmbedding(ctx context.Context, id string, embedding []float32) error

	// DeleteIdentity removes an identity and its embeddings, or returns ErrNotFound
	DeleteIdentity(ctx context.Context, id string) error
}

// HistoryQuery filters history listings
type HistoryQuery struct {
	Limit       int
	IdentityID  string
	Source      string
	UnknownOnly bool // only observations that matched nobody
}

// HistoryWriter persists pipeline events
type HistoryWriter interface {
	RecordMatch(ctx context.Context, ev pipeline.MatchEvent) error
	RecordAlert(ctx context.Context, ev pipeline.AlertEvent) error
}

// HistoryReader lists persisted events, newest first
type HistoryReader interface {
	ListMatches(ctx context.Context, q HistoryQuery) ([]pipeline.MatchEvent, error)
	ListAlerts(ctx context.Context, q HistoryQuery) ([]pipeline.AlertEvent, error)
	CountAlerts(ctx context.Context) (int, error)
}

// HistoryStore is a full history backend
type HistoryStore interface {
	HistoryReader
	HistoryWriter
}
