package facematch

import (
	"sync"

	"github.com/coder/hnsw"
)

// HNSW index parameters for face reference embeddings.
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100
)

// referenceIndex wraps an HNSW graph over all reference embeddings of a snapshot.
// Node keys are reference ordinals in registry order.
type referenceIndex struct {
	graph   *hnsw.Graph[int]
	vectors [][]float32
	mu      sync.RWMutex
}

// newReferenceIndex builds the graph from the snapshot entries. The entries' vectors
// are owned by the snapshot and never mutated, so the graph shares them.
func newReferenceIndex(entries []entry) *referenceIndex {
	g := hnsw.NewGraph[int]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance

	idx := &referenceIndex{graph: g}
	for i := range entries {
		for _, ref := range entries[i].refs {
			g.Add(hnsw.MakeNode(len(idx.vectors), ref))
			idx.vectors = append(idx.vectors, ref)
		}
	}
	return idx
}

// search returns the ordinals of up to k references nearest to query.
func (x *referenceIndex) search(query []float32, k int) []int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.vectors) == 0 || len(query) != len(x.vectors[0]) {
		return nil
	}

	neighbors := x.graph.Search(query, k)
	ordinals := make([]int, len(neighbors))
	for i, n := range neighbors {
		ordinals[i] = n.Key
	}
	return ordinals
}

// vector returns the reference embedding stored under ordinal.
func (x *referenceIndex) vector(ordinal int) []float32 {
	return x.vectors[ordinal]
}
