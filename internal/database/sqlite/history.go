// Package sqlite keeps the match and alert history in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

// Schema is applied on open.
const Schema = `
CREATE TABLE IF NOT EXISTS match_events (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL DEFAULT '',
	observed_at  INTEGER NOT NULL,
	best_label   TEXT NOT NULL,
	nearest_id   TEXT NOT NULL DEFAULT '',
	distance     REAL,
	confidence   REAL NOT NULL,
	matched      INTEGER NOT NULL,
	identity_id  TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	risk_tag     TEXT NOT NULL DEFAULT '',
	alert_worthy INTEGER NOT NULL DEFAULT 0,
	suppressed   INTEGER NOT NULL DEFAULT 0,
	alert_id     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_match_events_observed ON match_events(observed_at);
CREATE INDEX IF NOT EXISTS idx_match_events_identity ON match_events(identity_id, observed_at);

CREATE TABLE IF NOT EXISTS alert_events (
	id             TEXT PRIMARY KEY,
	match_id       TEXT NOT NULL,
	identity_id    TEXT NOT NULL,
	display_name   TEXT NOT NULL DEFAULT '',
	risk_tag       TEXT NOT NULL,
	distance       REAL NOT NULL,
	confidence     REAL NOT NULL,
	confidence_pct INTEGER NOT NULL,
	observed_at    INTEGER NOT NULL,
	source         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_alert_events_observed ON alert_events(observed_at);
`

// maxPageSize caps history queries.
const maxPageSize = 1000

// HistoryStore implements database.HistoryStore using SQLite.
type HistoryStore struct {
	db *sql.DB
}

var _ database.HistoryStore = (*HistoryStore)(nil)

// NewHistoryStore opens (or creates) the history database at dsn.
func NewHistoryStore(dsn string) (*HistoryStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; one connection serialises access.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &HistoryStore{db: db}, nil
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing history database: %w", err)
	}
	return nil
}

// RecordMatch stores a match event. Re-recording the same event is a no-op.
func (s *HistoryStore) RecordMatch(ctx context.Context, ev pipeline.MatchEvent) error {
	var distance sql.NullFloat64
	if ev.Distance != nil {
		distance = sql.NullFloat64{Float64: *ev.Distance, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO match_events (
			id, source, observed_at, best_label, nearest_id, distance, confidence, matched,
			identity_id, display_name, risk_tag, alert_worthy, suppressed, alert_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Source, ev.ObservedAt.UnixNano(), ev.BestLabel, ev.NearestID, distance, ev.Confidence,
		ev.Matched, ev.IdentityID, ev.DisplayName, string(ev.RiskTag), ev.AlertWorthy, ev.Suppressed, ev.AlertID,
	)
	if err != nil {
		return fmt.Errorf("insert match event %s: %w", ev.ID, err)
	}
	return nil
}

// RecordAlert stores an alert event. Re-recording the same event is a no-op.
func (s *HistoryStore) RecordAlert(ctx context.Context, ev pipeline.AlertEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO alert_events (
			id, match_id, identity_id, display_name, risk_tag, distance, confidence,
			confidence_pct, observed_at, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.MatchID, ev.IdentityID, ev.DisplayName, string(ev.RiskTag), ev.Distance, ev.Confidence,
		ev.ConfidencePct, ev.ObservedAt.UnixNano(), ev.Source,
	)
	if err != nil {
		return fmt.Errorf("insert alert event %s: %w", ev.ID, err)
	}
	return nil
}

// filter builds the WHERE clause shared by the list queries.
func filter(q database.HistoryQuery, unknownColumn bool) (string, []any) {
	var clauses []string
	var args []any
	if q.IdentityID != "" {
		clauses = append(clauses, "identity_id = ?")
		args = append(args, q.IdentityID)
	}
	if q.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, q.Source)
	}
	if q.UnknownOnly && unknownColumn {
		clauses = append(clauses, "matched = 0")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// ListMatches returns match events, newest first.
func (s *HistoryStore) ListMatches(ctx context.Context, q database.HistoryQuery) ([]pipeline.MatchEvent, error) {
	where, args := filter(q, true)
	args = append(args, database.ClampLimit(q.Limit, 100, maxPageSize))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, observed_at, best_label, nearest_id, distance, confidence, matched,
		       identity_id, display_name, risk_tag, alert_worthy, suppressed, alert_id
		FROM match_events `+where+`
		ORDER BY observed_at DESC, rowid DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query match events: %w", err)
	}
	defer rows.Close()

	var events []pipeline.MatchEvent
	for rows.Next() {
		var (
			ev       pipeline.MatchEvent
			observed int64
			distance sql.NullFloat64
			tag      string
		)
		if err := rows.Scan(&ev.ID, &ev.Source, &observed, &ev.BestLabel, &ev.NearestID, &distance,
			&ev.Confidence, &ev.Matched, &ev.IdentityID, &ev.DisplayName, &tag, &ev.AlertWorthy,
			&ev.Suppressed, &ev.AlertID); err != nil {
			return nil, fmt.Errorf("scan match event: %w", err)
		}
		ev.ObservedAt = time.Unix(0, observed).UTC()
		ev.RiskTag = facematch.RiskTag(tag)
		if distance.Valid {
			d := distance.Float64
			ev.Distance = &d
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate match events: %w", err)
	}
	return events, nil
}

// ListAlerts returns alert events, newest first.
func (s *HistoryStore) ListAlerts(ctx context.Context, q database.HistoryQuery) ([]pipeline.AlertEvent, error) {
	where, args := filter(q, false)
	args = append(args, database.ClampLimit(q.Limit, 100, maxPageSize))

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, match_id, identity_id, display_name, risk_tag, distance, confidence,
		       confidence_pct, observed_at, source
		FROM alert_events `+where+`
		ORDER BY observed_at DESC, rowid DESC
		LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query alert events: %w", err)
	}
	defer rows.Close()

	var events []pipeline.AlertEvent
	for rows.Next() {
		var (
			ev       pipeline.AlertEvent
			observed int64
			tag      string
		)
		if err := rows.Scan(&ev.ID, &ev.MatchID, &ev.IdentityID, &ev.DisplayName, &tag, &ev.Distance,
			&ev.Confidence, &ev.ConfidencePct, &observed, &ev.Source); err != nil {
			return nil, fmt.Errorf("scan alert event: %w", err)
		}
		ev.ObservedAt = time.Unix(0, observed).UTC()
		ev.RiskTag = facematch.RiskTag(tag)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert events: %w", err)
	}
	return events, nil
}

// CountAlerts returns the number of stored alerts.
func (s *HistoryStore) CountAlerts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alert_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count alert events: %w", err)
	}
	return n, nil
}

// Prune deletes events observed before cutoff and returns how many rows were removed.
func (s *HistoryStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"match_events", "alert_events"} {
		res, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE observed_at < ?", cutoff.UnixNano())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}
