package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/pgvector/pgvector-go"
)

// IdentityRepository provides PostgreSQL-backed identity storage.
type IdentityRepository struct {
	pool *Pool
}

var _ database.IdentityNameFinder = (*IdentityRepository)(nil)

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identitySelect = `
	SELECT i.id, i.display_name, i.risk_tag, i.notes, e.embedding
	FROM identities i
	LEFT JOIN reference_embeddings e ON e.identity_id = i.id
`

// ListIdentities returns all identities in insertion order, each with its
// reference embeddings in insertion order.
func (r *IdentityRepository) ListIdentities(ctx context.Context) ([]facematch.Identity, error) {
	rows, err := r.pool.query(ctx, identitySelect+" ORDER BY i.position, e.id")
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	return scanIdentities(rows)
}

// GetIdentity returns one identity or database.ErrNotFound.
func (r *IdentityRepository) GetIdentity(ctx context.Context, id string) (*facematch.Identity, error) {
	rows, err := r.pool.query(ctx, identitySelect+" WHERE i.id = $1 ORDER BY e.id", id)
	if err != nil {
		return nil, fmt.Errorf("query identity: %w", err)
	}
	defer rows.Close()

	identities, err := scanIdentities(rows)
	if err != nil {
		return nil, err
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	return &identities[0], nil
}

// FindByName returns identities whose display name matches after normalization
// (lowercase, no diacritics, dashes to spaces).
func (r *IdentityRepository) FindByName(ctx context.Context, name string) ([]facematch.Identity, error) {
	query := identitySelect + `
		WHERE regexp_replace(btrim(LOWER(REPLACE(unaccent(i.display_name), '-', ' '))), '\s+', ' ', 'g') = $1
		ORDER BY i.position, e.id
	`
	rows, err := r.pool.query(ctx, query, facematch.NormalizeDisplayName(name))
	if err != nil {
		return nil, fmt.Errorf("query identities by name: %w", err)
	}
	defer rows.Close()

	return scanIdentities(rows)
}

// Count returns the number of stored identities.
func (r *IdentityRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM identities").Scan(&count); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return count, nil
}

// SaveIdentity upserts an identity. Its position in registry order is kept on update.
func (r *IdentityRepository) SaveIdentity(ctx context.Context, ident facematch.Identity) error {
	if ident.ID == "" {
		return errors.New("identity id is required")
	}
	tag := ident.RiskTag
	if tag == "" {
		tag = facematch.RiskNeutral
	}

	return r.pool.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO identities (id, display_name, risk_tag, notes)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				risk_tag = EXCLUDED.risk_tag,
				notes = EXCLUDED.notes,
				updated_at = NOW()
		`, ident.ID, ident.DisplayName, string(tag), ident.Notes)
		if err != nil {
			return fmt.Errorf("upsert identity %s: %w", ident.ID, err)
		}

		// nil embeddings mean "keep the stored references".
		if ident.ReferenceEmbeddings == nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM reference_embeddings WHERE identity_id = $1", ident.ID); err != nil {
			return fmt.Errorf("delete reference embeddings: %w", err)
		}
		return insertEmbeddings(ctx, tx, ident.ID, ident.ReferenceEmbeddings)
	})
}

// AddReferenceEmbedding appends a reference embedding to an existing identity.
func (r *IdentityRepository) AddReferenceEmbedding(ctx context.Context, id string, embedding []float32) error {
	return r.pool.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE identities SET updated_at = NOW() WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("touch identity: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
		}
		return insertEmbeddings(ctx, tx, id, [][]float32{embedding})
	})
}

// DeleteIdentity removes an identity; its embeddings cascade.
func (r *IdentityRepository) DeleteIdentity(ctx context.Context, id string) error {
	result, err := r.pool.db.ExecContext(ctx, "DELETE FROM identities WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete identity %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	return nil
}

// ReferenceMatch is a stored reference embedding close to a query.
type ReferenceMatch struct {
	IdentityID  string            `json:"identity_id"`
	DisplayName string            `json:"display_name"`
	RiskTag     facematch.RiskTag `json:"risk_tag"`
	Distance    float64           `json:"distance"`
}

// NearestReferences returns the reference embeddings closest to embedding by L2
// distance, computed by pgvector. Used for diagnostics; live matching runs in memory.
func (r *IdentityRepository) NearestReferences(ctx context.Context, embedding []float32, limit int) ([]ReferenceMatch, error) {
	query := `
		SELECT i.id, i.display_name, i.risk_tag, e.embedding <-> $1 AS distance
		FROM reference_embeddings e
		JOIN identities i ON i.id = e.identity_id
		WHERE vector_dims(e.embedding) = $2
		ORDER BY distance, i.position, e.id
		LIMIT $3
	`
	rows, err := r.pool.query(ctx, query, pgvector.NewVector(embedding), len(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query nearest references: %w", err)
	}
	defer rows.Close()

	var matches []ReferenceMatch
	for rows.Next() {
		var m ReferenceMatch
		var tag string
		if err := rows.Scan(&m.IdentityID, &m.DisplayName, &tag, &m.Distance); err != nil {
			return nil, fmt.Errorf("scan reference match: %w", err)
		}
		m.RiskTag = facematch.RiskTag(tag)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference matches: %w", err)
	}
	return matches, nil
}

func insertEmbeddings(ctx context.Context, tx *sql.Tx, id string, embeddings [][]float32) error {
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO reference_embeddings (identity_id, embedding) VALUES ($1, $2::vector)")
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i, emb := range embeddings {
		if len(emb) == 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, id, pgvector.NewVector(emb)); err != nil {
			return fmt.Errorf("insert reference embedding %s/%d: %w", id, i, err)
		}
	}
	return nil
}

// scanIdentities folds joined identity/embedding rows into identities, preserving row order.
func scanIdentities(rows *sql.Rows) ([]facematch.Identity, error) {
	var identities []facematch.Identity
	index := make(map[string]int)

	for rows.Next() {
		var (
			ident facematch.Identity
			tag   string
			vec   sql.Null[pgvector.Vector]
		)
		if err := rows.Scan(&ident.ID, &ident.DisplayName, &tag, &ident.Notes, &vec); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ident.RiskTag = facematch.RiskTag(tag)

		i, seen := index[ident.ID]
		if !seen {
			i = len(identities)
			index[ident.ID] = i
			identities = append(identities, ident)
		}
		if vec.Valid {
			identities[i].ReferenceEmbeddings = append(identities[i].ReferenceEmbeddings, vec.V.Slice())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}
