package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/kozaktomas/watchpost/internal/config"
	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/database/mariadb"
	"github.com/kozaktomas/watchpost/internal/database/postgres"
	"github.com/kozaktomas/watchpost/internal/database/sqlite"
	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/identityfile"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

// identityBackend is the opened identity source selected by IDENTITY_SOURCE.
type identityBackend struct {
	name   string
	reader database.IdentityReader
	writer database.IdentityWriter // nil for read-only sources
	repo   *postgres.IdentityRepository
	file   *identityfile.Store
	close  func() error
}

// openIdentityBackend connects to the configured identity source and registers it
// with the database package.
func openIdentityBackend(ctx context.Context, cfg *config.Config) (*identityBackend, error) {
	b := &identityBackend{name: cfg.Identity.Source, close: func() error { return nil }}

	switch cfg.Identity.Source {
	case config.SourcePostgres:
		log.Info("connecting to PostgreSQL")
		pool, err := postgres.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		b.repo = postgres.NewIdentityRepository(pool)
		b.reader, b.writer, b.close = b.repo, b.repo, pool.Close
	case config.SourceMariaDB:
		log.Info("connecting to legacy MariaDB", "table", cfg.MariaDB.Table)
		pool, err := mariadb.NewPool(ctx, &cfg.MariaDB)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize MariaDB: %w", err)
		}
		b.reader, b.close = mariadb.NewIdentityReader(pool), pool.Close
	case config.SourceFile:
		log.Info("using identity file", "path", cfg.Identity.File)
		b.file = identityfile.NewStore(cfg.Identity.File)
		b.reader, b.writer = b.file, b.file
	default:
		return nil, fmt.Errorf("unknown identity source %q", cfg.Identity.Source)
	}

	var writer func() database.IdentityWriter
	if b.writer != nil {
		writer = func() database.IdentityWriter { return b.writer }
	}
	database.RegisterIdentityBackend(b.name, func() database.IdentityReader { return b.reader }, writer)
	return b, nil
}

func (b *identityBackend) Close() {
	if err := b.close(); err != nil {
		log.Warn("closing identity source", "source", b.name, "err", err)
	}
}

// openHistory opens the SQLite history store when HISTORY_DB_PATH is set and
// registers it. It returns nil when history is disabled.
func openHistory(cfg *config.Config) (*sqlite.HistoryStore, error) {
	if cfg.History.Path == "" {
		return nil, nil
	}
	store, err := sqlite.NewHistoryStore(cfg.History.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	database.RegisterHistoryStore(func() database.HistoryStore { return store })
	log.Info("history enabled", "path", cfg.History.Path)
	return store, nil
}

// newPipeline builds a pipeline from the matching configuration.
func newPipeline(cfg *config.Config, recorder pipeline.Recorder) *pipeline.Pipeline {
	m := cfg.Matching
	return pipeline.New(pipeline.Options{
		MatchThreshold: m.MatchThreshold,
		AlertThreshold: m.AlertThreshold,
		CooldownWindow: m.CooldownWindow,
		Dim:            m.Dim,
		Index:          facematch.IndexKind(m.Index),
		Recorder:       recorder,
	})
}

// loadRegistry reads all identities and swaps in a fresh snapshot, logging anything
// that was left out.
func loadRegistry(ctx context.Context, p *pipeline.Pipeline) (facematch.BuildReport, error) {
	report, err := database.ReloadRegistry(ctx, p)
	if err != nil {
		return report, err
	}
	for _, ex := range report.Excluded {
		log.Warn("identity excluded from registry", "id", ex.ID, "reason", ex.Reason)
	}
	if report.DroppedEmbeddings > 0 {
		log.Warn("reference embeddings dropped", "count", report.DroppedEmbeddings, "dim", report.Dim)
	}
	log.Info("registry loaded",
		"identities", report.Included,
		"references", report.References,
		"dim", report.Dim,
		"indexed", p.Registry().Indexed())
	return report, nil
}

// parseEmbedding parses a comma or whitespace separated list of floats, with or
// without surrounding brackets.
func parseEmbedding(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("embedding component %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
