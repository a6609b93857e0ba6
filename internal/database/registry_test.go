package database_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/database/mock"
	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

func TestReloadRegistry(t *testing.T) {
	database.ResetForTesting()
	t.Cleanup(database.ResetForTesting)
	ctx := context.Background()

	p := pipeline.New(pipeline.Options{})
	if _, err := database.ReloadRegistry(ctx, p); err == nil {
		t.Fatal("expected error without identity backend")
	}

	store := mock.NewMockIdentityStore(
		facematch.Identity{ID: "A", RiskTag: facematch.RiskBanned, ReferenceEmbeddings: [][]float32{{0, 0}}},
		facematch.Identity{ID: "B", RiskTag: facematch.RiskVIP, ReferenceEmbeddings: [][]float32{{1, 0}}},
	)
	database.RegisterIdentityBackend("mock",
		func() database.IdentityReader { return store },
		func() database.IdentityWriter { return store })

	report, err := database.ReloadRegistry(ctx, p)
	if err != nil {
		t.Fatalf("ReloadRegistry() error = %v", err)
	}
	if report.Included != 2 || p.Registry().Len() != 2 {
		t.Errorf("report.Included = %d, registry len = %d, want 2", report.Included, p.Registry().Len())
	}

	store.ListError = errors.New("connection reset")
	if _, err := database.ReloadRegistry(ctx, p); err == nil {
		t.Error("expected list error")
	}
	if p.Registry().Len() != 2 {
		t.Error("failed reload must keep the previous snapshot")
	}
}

// gatedReader blocks its first ListIdentities after reading, until released.
type gatedReader struct {
	*mock.MockIdentityStore
	once    sync.Once
	listed  chan struct{}
	release chan struct{}
}

func (g *gatedReader) ListIdentities(ctx context.Context) ([]facematch.Identity, error) {
	identities, err := g.MockIdentityStore.ListIdentities(ctx)
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.listed)
		<-g.release
	}
	return identities, err
}

func TestReloadRegistry_OverlappingReloadsKeepNewestList(t *testing.T) {
	database.ResetForTesting()
	t.Cleanup(database.ResetForTesting)
	ctx := context.Background()

	store := mock.NewMockIdentityStore(
		facematch.Identity{ID: "A", RiskTag: facematch.RiskBanned, ReferenceEmbeddings: [][]float32{{0, 0}}},
		facematch.Identity{ID: "B", RiskTag: facematch.RiskVIP, ReferenceEmbeddings: [][]float32{{1, 0}}},
	)
	gated := &gatedReader{MockIdentityStore: store, listed: make(chan struct{}), release: make(chan struct{})}
	database.RegisterIdentityBackend("mock",
		func() database.IdentityReader { return gated },
		func() database.IdentityWriter { return store })

	p := pipeline.New(pipeline.Options{})

	first := make(chan error, 1)
	go func() {
		_, err := database.ReloadRegistry(ctx, p)
		first <- err
	}()
	<-gated.listed

	// The first reload has read A and B; A is deleted before it publishes.
	if err := store.DeleteIdentity(ctx, "A"); err != nil {
		t.Fatalf("DeleteIdentity() error = %v", err)
	}
	second := make(chan error, 1)
	go func() {
		_, err := database.ReloadRegistry(ctx, p)
		second <- err
	}()

	select {
	case err := <-second:
		t.Fatalf("second reload finished while the first was still listing (err = %v)", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gated.release)
	if err := <-first; err != nil {
		t.Fatalf("first ReloadRegistry() error = %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second ReloadRegistry() error = %v", err)
	}

	if _, ok := p.Registry().Lookup("A"); ok {
		t.Error("deleted identity A is still in the registry")
	}
	if p.Registry().Len() != 1 {
		t.Errorf("registry len = %d, want 1", p.Registry().Len())
	}
}

// nameFinder reports whether its own name lookup was used.
type nameFinder struct {
	*mock.MockIdentityStore
	asked string
}

func (f *nameFinder) FindByName(_ context.Context, name string) ([]facematch.Identity, error) {
	f.asked = name
	return []facematch.Identity{{ID: "from-finder"}}, nil
}

func TestFindIdentitiesByName(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockIdentityStore(
		facematch.Identity{ID: "A", DisplayName: "Jiří Novák"},
		facematch.Identity{ID: "B", DisplayName: "Bob"},
	)

	found, err := database.FindIdentitiesByName(ctx, store, "JIRI-NOVAK")
	if err != nil {
		t.Fatalf("FindIdentitiesByName() error = %v", err)
	}
	if len(found) != 1 || found[0].ID != "A" {
		t.Errorf("FindIdentitiesByName(JIRI-NOVAK) = %+v, want A", found)
	}

	finder := &nameFinder{MockIdentityStore: store}
	found, err = database.FindIdentitiesByName(ctx, finder, "Bob")
	if err != nil {
		t.Fatalf("FindIdentitiesByName() error = %v", err)
	}
	if finder.asked != "Bob" || len(found) != 1 || found[0].ID != "from-finder" {
		t.Errorf("reader lookup not used: asked %q, got %+v", finder.asked, found)
	}

	store.ListError = errors.New("connection reset")
	if _, err := database.FindIdentitiesByName(ctx, store, "Bob"); err == nil {
		t.Error("expected list error")
	}
}
