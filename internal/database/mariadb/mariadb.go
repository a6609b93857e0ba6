// Package mariadb reads identities from a legacy MariaDB/MySQL database. The source
// is read-only; identities are managed in the legacy system.
package mariadb

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/watchpost/internal/config"
)

// Pool is a small read-only pool against the legacy table.
type Pool struct {
	db    *sql.DB
	table string
}

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// validTableName guards the table name, which is interpolated into queries.
func validTableName(name string) bool {
	return tableNameRe.MatchString(name)
}

// NewPool parses the DSN, forces the options the reader relies on and checks
// that the server answers.
func NewPool(ctx context.Context, cfg *config.MariaDBConfig) (*Pool, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, fmt.Errorf("MariaDB DSN is required")
	}
	if !validTableName(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse MariaDB DSN: %w", err)
	}
	mc.ParseTime = true
	if mc.Timeout == 0 {
		mc.Timeout = 10 * time.Second
	}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, mc.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return &Pool{db: db, table: cfg.Table}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("closing database connection: %w", err)
	}
	return nil
}
