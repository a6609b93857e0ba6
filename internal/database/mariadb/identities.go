package mariadb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/facematch"
)

// The legacy table holds one row per reference embedding:
//
//	seq BIGINT, identity_id VARCHAR, name VARCHAR, tag VARCHAR, notes TEXT, embedding_json MEDIUMBLOB
//
// embedding_json is a JSON list of floats. Rows are read in seq order.

// IdentityReader implements database.IdentityReader over the legacy table.
type IdentityReader struct {
	pool *Pool
}

// NewIdentityReader creates a reader over the pool's identity table.
func NewIdentityReader(pool *Pool) *IdentityReader {
	return &IdentityReader{pool: pool}
}

func (r *IdentityReader) selectQuery(where string) string {
	return fmt.Sprintf(
		"SELECT identity_id, name, tag, COALESCE(notes, ''), embedding_json FROM `%s` %s ORDER BY seq",
		r.pool.table, where)
}

// ListIdentities returns all identities in first-seen order.
func (r *IdentityReader) ListIdentities(ctx context.Context) ([]facematch.Identity, error) {
	rows, err := r.pool.db.QueryContext(ctx, r.selectQuery(""))
	if err != nil {
		return nil, fmt.Errorf("query legacy identities: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// GetIdentity returns one identity or database.ErrNotFound.
func (r *IdentityReader) GetIdentity(ctx context.Context, id string) (*facematch.Identity, error) {
	rows, err := r.pool.db.QueryContext(ctx, r.selectQuery("WHERE identity_id = ?"), id)
	if err != nil {
		return nil, fmt.Errorf("query legacy identity: %w", err)
	}
	defer rows.Close()

	identities, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	return &identities[0], nil
}

// Count returns the number of distinct identities.
func (r *IdentityReader) Count(ctx context.Context) (int, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(DISTINCT identity_id) FROM `%s`", r.pool.table)
	if err := r.pool.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count legacy identities: %w", err)
	}
	return count, nil
}

// scanRows groups embedding rows by identity. Unknown tags are read as neutral and
// unparsable embeddings are skipped, so one bad row does not hide an identity.
func scanRows(rows *sql.Rows) ([]facematch.Identity, error) {
	var identities []facematch.Identity
	index := make(map[string]int)

	for rows.Next() {
		var id, name, tag, notes string
		var raw []byte
		if err := rows.Scan(&id, &name, &tag, &notes, &raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		i, seen := index[id]
		if !seen {
			riskTag, err := facematch.ParseRiskTag(tag)
			if err != nil {
				log.Warn("legacy identity has unknown tag, using neutral", "id", id, "tag", tag)
				riskTag = facematch.RiskNeutral
			}
			i = len(identities)
			index[id] = i
			identities = append(identities, facematch.Identity{
				ID:          id,
				DisplayName: name,
				RiskTag:     riskTag,
				Notes:       notes,
			})
		}

		emb, err := parseEmbedding(raw)
		if err != nil {
			log.Warn("skipping unparsable legacy embedding", "id", id, "err", err)
			continue
		}
		if emb != nil {
			identities[i].ReferenceEmbeddings = append(identities[i].ReferenceEmbeddings, emb)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return identities, nil
}

// parseEmbedding decodes embedding_json. Both a flat list and the list-of-lists
// form ([[...]]) are accepted; NULL yields nil.
func parseEmbedding(raw []byte) ([]float32, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}
	var nested [][]float32
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("unmarshal embedding: %w", err)
	}
	if len(nested) == 0 {
		return nil, nil
	}
	return nested[0], nil
}
