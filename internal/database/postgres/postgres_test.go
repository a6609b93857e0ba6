//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/kozaktomas/watchpost/internal/config"
	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/facematch"
)

func setupTestContainer(t *testing.T) (*Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}
	if container == nil {
		t.Skip("Docker not available, skipping integration test")
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dbURL := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	cfg := &config.DatabaseConfig{
		URL:          dbURL,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}

	// Run migrations
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}

	return pool, cleanup
}

func embedding(dim int, hot int, val float32) []float32 {
	v := make([]float32, dim)
	v[hot] = val
	return v
}

func TestIdentityRepository(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()
	repo := NewIdentityRepository(pool)

	t.Run("SaveAndList", func(t *testing.T) {
		identities := []facematch.Identity{
			{ID: "william", DisplayName: "William Miller", RiskTag: facematch.RiskBanned,
				Notes: "Previously caught shoplifting electronics.",
				ReferenceEmbeddings: [][]float32{embedding(8, 0, 1), embedding(8, 1, 1)}},
			{ID: "ava", DisplayName: "Ava García", RiskTag: facematch.RiskWatchlist,
				ReferenceEmbeddings: [][]float32{embedding(8, 2, 1)}},
			{ID: "nobody", DisplayName: "No Embeddings"},
		}
		for _, ident := range identities {
			if err := repo.SaveIdentity(ctx, ident); err != nil {
				t.Fatalf("SaveIdentity(%s) error = %v", ident.ID, err)
			}
		}

		got, err := repo.ListIdentities(ctx)
		if err != nil {
			t.Fatalf("ListIdentities() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d identities, want 3", len(got))
		}
		for i, want := range []string{"william", "ava", "nobody"} {
			if got[i].ID != want {
				t.Errorf("identity[%d] = %s, want %s", i, got[i].ID, want)
			}
		}
		if len(got[0].ReferenceEmbeddings) != 2 || got[0].ReferenceEmbeddings[1][1] != 1 {
			t.Errorf("william embeddings = %v", got[0].ReferenceEmbeddings)
		}
		if got[0].RiskTag != facematch.RiskBanned || got[0].Notes == "" {
			t.Errorf("william metadata = %+v", got[0])
		}
		if got[2].ReferenceEmbeddings != nil {
			t.Errorf("nobody should have no embeddings, got %v", got[2].ReferenceEmbeddings)
		}

		count, err := repo.Count(ctx)
		if err != nil || count != 3 {
			t.Errorf("Count() = %d, %v; want 3", count, err)
		}
	})

	t.Run("UpdateKeepsOrderAndEmbeddings", func(t *testing.T) {
		err := repo.SaveIdentity(ctx, facematch.Identity{ID: "william", DisplayName: "William Miller", RiskTag: facematch.RiskWatchlist})
		if err != nil {
			t.Fatalf("SaveIdentity() error = %v", err)
		}
		got, err := repo.ListIdentities(ctx)
		if err != nil {
			t.Fatalf("ListIdentities() error = %v", err)
		}
		if got[0].ID != "william" || got[0].RiskTag != facematch.RiskWatchlist {
			t.Errorf("first identity = %+v, want updated william", got[0])
		}
		if len(got[0].ReferenceEmbeddings) != 2 {
			t.Errorf("embeddings should be kept when not provided, got %d", len(got[0].ReferenceEmbeddings))
		}
	})

	t.Run("AddReferenceEmbedding", func(t *testing.T) {
		if err := repo.AddReferenceEmbedding(ctx, "ava", embedding(8, 3, 1)); err != nil {
			t.Fatalf("AddReferenceEmbedding() error = %v", err)
		}
		ident, err := repo.GetIdentity(ctx, "ava")
		if err != nil {
			t.Fatalf("GetIdentity() error = %v", err)
		}
		if len(ident.ReferenceEmbeddings) != 2 {
			t.Errorf("ava has %d embeddings, want 2", len(ident.ReferenceEmbeddings))
		}

		err = repo.AddReferenceEmbedding(ctx, "missing", embedding(8, 0, 1))
		if !errors.Is(err, database.ErrNotFound) {
			t.Errorf("AddReferenceEmbedding(missing) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("FindByName", func(t *testing.T) {
		found, err := repo.FindByName(ctx, "ava-garcia")
		if err != nil {
			t.Fatalf("FindByName() error = %v", err)
		}
		if len(found) != 1 || found[0].ID != "ava" {
			t.Errorf("FindByName(ava-garcia) = %+v", found)
		}
	})

	t.Run("NearestReferences", func(t *testing.T) {
		query := embedding(8, 2, 0.9)
		matches, err := repo.NearestReferences(ctx, query, 2)
		if err != nil {
			t.Fatalf("NearestReferences() error = %v", err)
		}
		if len(matches) != 2 {
			t.Fatalf("got %d matches, want 2", len(matches))
		}
		if matches[0].IdentityID != "ava" {
			t.Errorf("nearest = %s, want ava", matches[0].IdentityID)
		}
		if d := matches[0].Distance; d < 0.099 || d > 0.101 {
			t.Errorf("distance = %v, want 0.1", d)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteIdentity(ctx, "william"); err != nil {
			t.Fatalf("DeleteIdentity() error = %v", err)
		}
		if _, err := repo.GetIdentity(ctx, "william"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("GetIdentity(deleted) error = %v, want ErrNotFound", err)
		}
		if err := repo.DeleteIdentity(ctx, "william"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("second DeleteIdentity() error = %v, want ErrNotFound", err)
		}
	})
}

func TestMigrationsApplied(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	if pool == nil {
		return
	}
	defer cleanup()

	versions, err := pool.MigrationsApplied(context.Background())
	if err != nil {
		t.Fatalf("MigrationsApplied() error = %v", err)
	}
	if len(versions) != 2 || versions[0] != "001_identities" {
		t.Errorf("applied migrations = %v", versions)
	}

	// Running again is a no-op.
	if err := pool.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}
