package facematch

import "math"

// DefaultHNSWCandidates is the number of nearest references fetched from the HNSW
// graph to seed the scan bound.
const DefaultHNSWCandidates = 32

// Matcher finds the closest identity to an observation in a registry snapshot.
type Matcher interface {
	Match(observation []float32, reg *Registry, threshold float64) MatchResult
}

// NewMatcher returns the matcher for the given index kind.
func NewMatcher(kind IndexKind) Matcher {
	if kind == IndexHNSW {
		return HNSWMatcher{Candidates: DefaultHNSWCandidates}
	}
	return FlatMatcher{}
}

// FlatMatcher compares the observation with every reference embedding.
type FlatMatcher struct{}

// Match implements Matcher.
func (FlatMatcher) Match(observation []float32, reg *Registry, threshold float64) MatchResult {
	return Match(observation, reg, threshold)
}

// Match scans all reference embeddings of reg and returns the nearest identity.
// The smallest distance wins; on an exact tie the identity that comes first in
// registry order wins. The result is matched only if the distance is strictly
// below threshold.
func Match(observation []float32, reg *Registry, threshold float64) MatchResult {
	result := MatchResult{BestLabel: UnknownLabel, Distance: math.Inf(1)}
	if reg == nil {
		return result
	}

	best := -1
	for i := range reg.entries {
		for _, ref := range reg.entries[i].refs {
			d := EuclideanDistance(observation, ref)
			result.Candidates++
			if d < result.Distance {
				result.Distance = d
				best = i
			}
		}
	}
	return reg.classify(result, best, threshold)
}

// HNSWMatcher seeds the scan with the nearest distance among candidates fetched
// from the snapshot's HNSW graph, then runs the exact scan, abandoning references
// once their partial distance exceeds that bound. Results are identical to
// FlatMatcher; only the work per observation shrinks. Snapshots built without an
// index fall back to the flat scan.
type HNSWMatcher struct {
	Candidates int
}

// Match implements Matcher. Candidates in the result counts references compared
// in full.
func (m HNSWMatcher) Match(observation []float32, reg *Registry, threshold float64) MatchResult {
	if reg == nil || reg.index == nil || len(observation) != reg.dim {
		return Match(observation, reg, threshold)
	}

	k := m.Candidates
	if k <= 0 {
		k = DefaultHNSWCandidates
	}
	bound := math.Inf(1)
	for _, ord := range reg.index.search(observation, k) {
		if ord < 0 || ord >= len(reg.refOwner) {
			continue
		}
		bound = min(bound, EuclideanDistance(observation, reg.index.vector(ord)))
	}

	result := MatchResult{BestLabel: UnknownLabel, Distance: math.Inf(1)}
	best := -1
	for i := range reg.entries {
		for _, ref := range reg.entries[i].refs {
			d, ok := boundedDistance(observation, ref, bound)
			if !ok {
				continue
			}
			result.Candidates++
			if d < result.Distance {
				result.Distance = d
				best = i
				bound = min(bound, d)
			}
		}
	}
	return reg.classify(result, best, threshold)
}

func (r *Registry) classify(result MatchResult, best int, threshold float64) MatchResult {
	if best < 0 {
		return result
	}
	ident := r.entries[best].identity
	result.NearestID = ident.ID
	if result.Distance < threshold {
		result.BestLabel = ident.ID
		result.Identity = &ident
	}
	return result
}
