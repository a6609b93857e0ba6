package facematch

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"testing"
)

func testRegistry(t *testing.T, kind IndexKind) *Registry {
	t.Helper()
	reg, _ := BuildRegistry([]Identity{
		{ID: "A", DisplayName: "Alice", RiskTag: RiskBanned, ReferenceEmbeddings: [][]float32{axis(4, 0, 1)}},
		{ID: "B", DisplayName: "Bob", RiskTag: RiskVIP, ReferenceEmbeddings: [][]float32{axis(4, 1, 1), axis(4, 2, 1)}},
	}, BuildOptions{Dim: 4, Index: kind})
	return reg
}

func TestMatch(t *testing.T) {
	reg := testRegistry(t, IndexFlat)

	tests := []struct {
		name         string
		observation  []float32
		threshold    float64
		wantLabel    string
		wantNearest  string
		wantDistance float64
		wantMatched  bool
	}{
		{
			name:         "exact reference",
			observation:  axis(4, 0, 1),
			threshold:    0.6,
			wantLabel:    "A",
			wantNearest:  "A",
			wantDistance: 0,
			wantMatched:  true,
		},
		{
			name:         "second reference of B",
			observation:  []float32{0, 0, 1, 0.25},
			threshold:    0.6,
			wantLabel:    "B",
			wantNearest:  "B",
			wantDistance: 0.25,
			wantMatched:  true,
		},
		{
			name:         "distance equal to threshold is unknown",
			observation:  []float32{1, 0, 0, 0.5},
			threshold:    0.5,
			wantLabel:    UnknownLabel,
			wantNearest:  "A",
			wantDistance: 0.5,
			wantMatched:  false,
		},
		{
			name:         "just below threshold matches",
			observation:  []float32{1, 0, 0, 0.5},
			threshold:    0.5000001,
			wantLabel:    "A",
			wantNearest:  "A",
			wantDistance: 0.5,
			wantMatched:  true,
		},
		{
			name:         "far away is unknown",
			observation:  []float32{0, 0, 0, 3},
			threshold:    0.6,
			wantLabel:    UnknownLabel,
			wantNearest:  "A",
			wantDistance: math.Sqrt(10),
			wantMatched:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Match(tt.observation, reg, tt.threshold)
			if result.BestLabel != tt.wantLabel {
				t.Errorf("BestLabel = %q, want %q", result.BestLabel, tt.wantLabel)
			}
			if result.NearestID != tt.wantNearest {
				t.Errorf("NearestID = %q, want %q", result.NearestID, tt.wantNearest)
			}
			if math.Abs(result.Distance-tt.wantDistance) > 1e-9 {
				t.Errorf("Distance = %v, want %v", result.Distance, tt.wantDistance)
			}
			if result.Matched() != tt.wantMatched {
				t.Errorf("Matched() = %v, want %v", result.Matched(), tt.wantMatched)
			}
			if result.Candidates != 3 {
				t.Errorf("Candidates = %d, want 3", result.Candidates)
			}
		})
	}
}

func TestMatch_IdentityMetadata(t *testing.T) {
	reg := testRegistry(t, IndexFlat)
	result := Match(axis(4, 1, 1), reg, 0.6)
	if !result.Matched() {
		t.Fatal("expected a match")
	}
	if result.Identity.DisplayName != "Bob" || result.Identity.RiskTag != RiskVIP {
		t.Errorf("Identity = %+v, want Bob/vip", result.Identity)
	}
	if result.Identity.ReferenceEmbeddings != nil {
		t.Error("matched identity should not carry reference embeddings")
	}

	// Mutating the returned identity must not leak into the snapshot.
	result.Identity.RiskTag = RiskBanned
	ident, _ := reg.Lookup("B")
	if ident.RiskTag != RiskVIP {
		t.Errorf("snapshot RiskTag = %q after caller mutation, want vip", ident.RiskTag)
	}
}

func TestMatch_EmptyRegistry(t *testing.T) {
	for _, reg := range []*Registry{nil, func() *Registry { r, _ := BuildRegistry(nil, BuildOptions{}); return r }()} {
		result := Match([]float32{0.1, 0.2}, reg, 0.6)
		if result.BestLabel != UnknownLabel {
			t.Errorf("BestLabel = %q, want %q", result.BestLabel, UnknownLabel)
		}
		if result.NearestID != "" {
			t.Errorf("NearestID = %q, want empty", result.NearestID)
		}
		if !math.IsInf(result.Distance, 1) || result.HasDistance() {
			t.Errorf("Distance = %v, want +Inf", result.Distance)
		}
		if result.Candidates != 0 {
			t.Errorf("Candidates = %d, want 0", result.Candidates)
		}
	}
}

func TestMatch_TieBreakRegistryOrder(t *testing.T) {
	// Observation is equidistant from X and Y.
	identities := []Identity{
		{ID: "X", ReferenceEmbeddings: [][]float32{{1, 0}}},
		{ID: "Y", ReferenceEmbeddings: [][]float32{{0, 1}}},
	}
	obs := []float32{0.5, 0.5}

	reg, _ := BuildRegistry(identities, BuildOptions{})
	if got := Match(obs, reg, 1).BestLabel; got != "X" {
		t.Errorf("BestLabel = %q, want X", got)
	}

	reversed, _ := BuildRegistry([]Identity{identities[1], identities[0]}, BuildOptions{})
	if got := Match(obs, reversed, 1).BestLabel; got != "Y" {
		t.Errorf("reversed BestLabel = %q, want Y", got)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	reg := testRegistry(t, IndexFlat)
	obs := []float32{0.3, 0.2, 0.1, 0.05}
	first := Match(obs, reg, 0.6)
	for i := 0; i < 50; i++ {
		got := Match(obs, reg, 0.6)
		if got.BestLabel != first.BestLabel || got.Distance != first.Distance || got.NearestID != first.NearestID {
			t.Fatalf("run %d: %+v differs from %+v", i, got, first)
		}
	}
}

func TestNewMatcher(t *testing.T) {
	if _, ok := NewMatcher(IndexFlat).(FlatMatcher); !ok {
		t.Error("NewMatcher(flat) should return FlatMatcher")
	}
	m, ok := NewMatcher(IndexHNSW).(HNSWMatcher)
	if !ok {
		t.Fatal("NewMatcher(hnsw) should return HNSWMatcher")
	}
	if m.Candidates != DefaultHNSWCandidates {
		t.Errorf("Candidates = %d, want %d", m.Candidates, DefaultHNSWCandidates)
	}
	if _, ok := NewMatcher("").(FlatMatcher); !ok {
		t.Error("NewMatcher(\"\") should default to FlatMatcher")
	}
}

func TestHNSWMatcher_FallsBackWithoutIndex(t *testing.T) {
	reg := testRegistry(t, IndexFlat)
	if reg.Indexed() {
		t.Fatal("flat registry should not be indexed")
	}
	result := HNSWMatcher{}.Match(axis(4, 0, 1), reg, 0.6)
	if result.BestLabel != "A" || result.Candidates != 3 {
		t.Errorf("fallback result = %+v, want A over 3 candidates", result)
	}
}

func TestHNSWMatcher_AgreesWithFlat(t *testing.T) {
	const dim = 16
	var identities []Identity
	for i := 0; i < dim; i++ {
		identities = append(identities, Identity{
			ID: fmt.Sprintf("id-%02d", i),
			ReferenceEmbeddings: [][]float32{
				axis(dim, i, 1),
				axis(dim, i, 0.8),
			},
		})
	}

	flat, _ := BuildRegistry(identities, BuildOptions{Dim: dim, Index: IndexFlat})
	indexed, _ := BuildRegistry(identities, BuildOptions{Dim: dim, Index: IndexHNSW})
	if !indexed.Indexed() {
		t.Fatal("expected HNSW index to be built")
	}

	m := HNSWMatcher{Candidates: 8}
	for i := 0; i < dim; i++ {
		obs := axis(dim, i, 0.95)
		obs[(i+1)%dim] = 0.1

		want := FlatMatcher{}.Match(obs, flat, 0.6)
		got := m.Match(obs, indexed, 0.6)
		if got.BestLabel != want.BestLabel {
			t.Errorf("observation %d: hnsw BestLabel = %q, flat = %q", i, got.BestLabel, want.BestLabel)
		}
		if math.Abs(got.Distance-want.Distance) > 1e-9 {
			t.Errorf("observation %d: hnsw Distance = %v, flat = %v", i, got.Distance, want.Distance)
		}
		if got.NearestID != want.NearestID {
			t.Errorf("observation %d: hnsw NearestID = %q, flat = %q", i, got.NearestID, want.NearestID)
		}
		if got.Candidates > indexed.References() {
			t.Errorf("observation %d: compared %d references, registry has %d", i, got.Candidates, indexed.References())
		}
	}
}

func TestHNSWMatcher_DimensionMismatch(t *testing.T) {
	reg := testRegistry(t, IndexHNSW)
	result := HNSWMatcher{}.Match([]float32{1, 0}, reg, 0.6)
	if result.BestLabel != UnknownLabel || result.NearestID != "" {
		t.Errorf("mismatched observation = %+v, want unknown with no nearest identity", result)
	}
}

// randomEmbedding returns a vector with components uniform in [-1, 1).
func randomEmbedding(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()*2 - 1
	}
	return v
}

func TestHNSWMatcher_RandomRegistryAgreesWithFlat(t *testing.T) {
	const (
		dim        = 64
		identities = 2000
		queries    = 300
		threshold  = 0.6
	)
	rng := rand.New(rand.NewPCG(7, 11))

	var idents []Identity
	for i := 0; i < identities; i++ {
		idents = append(idents, Identity{
			ID:                  fmt.Sprintf("id-%04d", i),
			RiskTag:             RiskWatchlist,
			ReferenceEmbeddings: [][]float32{randomEmbedding(rng, dim)},
		})
	}
	flat, _ := BuildRegistry(idents, BuildOptions{Dim: dim, Index: IndexFlat})
	indexed, _ := BuildRegistry(idents, BuildOptions{Dim: dim, Index: IndexHNSW})

	m := NewMatcher(IndexHNSW)
	matched := 0
	for q := 0; q < queries; q++ {
		var obs []float32
		if q%2 == 0 {
			// Close to a stored reference, so it should match below threshold.
			obs = slices.Clone(idents[rng.IntN(identities)].ReferenceEmbeddings[0])
			for i := range obs {
				obs[i] += (rng.Float32()*2 - 1) * 0.05
			}
		} else {
			obs = randomEmbedding(rng, dim)
		}

		want := FlatMatcher{}.Match(obs, flat, threshold)
		got := m.Match(obs, indexed, threshold)
		if got.BestLabel != want.BestLabel || got.NearestID != want.NearestID || got.Distance != want.Distance {
			t.Fatalf("query %d: hnsw = (%q, %q, %v), flat = (%q, %q, %v)",
				q, got.BestLabel, got.NearestID, got.Distance, want.BestLabel, want.NearestID, want.Distance)
		}
		if want.Matched() {
			matched++
		}
	}
	if matched == 0 {
		t.Error("no query matched; the agreement check only covered unknown results")
	}
}

func TestHNSWMatcher_TieBreakMatchesFlat(t *testing.T) {
	// X and Y are equidistant from the observation; X comes first.
	identities := []Identity{
		{ID: "X", ReferenceEmbeddings: [][]float32{{1, 0, 0, 0}}},
		{ID: "Y", ReferenceEmbeddings: [][]float32{{0, 1, 0, 0}}},
		{ID: "Z", ReferenceEmbeddings: [][]float32{{0, 0, 5, 0}}},
	}
	reg, _ := BuildRegistry(identities, BuildOptions{Dim: 4, Index: IndexHNSW})
	if got := (HNSWMatcher{Candidates: 1}).Match([]float32{0.5, 0.5, 0, 0}, reg, 1); got.BestLabel != "X" {
		t.Errorf("BestLabel = %q, want X", got.BestLabel)
	}
}

func TestBoundedDistance(t *testing.T) {
	a := []float32{0.1, -0.7, 0.25, 3}
	b := []float32{1.5, 0.2, -0.75, 2}
	exact := EuclideanDistance(a, b)

	if d, ok := boundedDistance(a, b, math.Inf(1)); !ok || d != exact {
		t.Errorf("unbounded = (%v, %v), want (%v, true)", d, ok, exact)
	}
	if d, ok := boundedDistance(a, b, exact); !ok || d != exact {
		t.Errorf("bound equal to distance = (%v, %v), want (%v, true)", d, ok, exact)
	}
	if _, ok := boundedDistance(a, b, exact/2); ok {
		t.Error("distance above bound should be abandoned")
	}
}
