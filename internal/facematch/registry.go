package facematch

import "slices"

// IndexKind selects how a registry snapshot answers nearest-neighbour queries.
type IndexKind string

const (
	// IndexFlat scans every reference embedding.
	IndexFlat IndexKind = "flat"
	// IndexHNSW additionally builds an HNSW graph used as a candidate pre-filter.
	IndexHNSW IndexKind = "hnsw"
)

// Exclusion reasons reported by BuildRegistry.
const (
	ReasonMissingID    = "missing id"
	ReasonDuplicateID  = "duplicate id"
	ReasonNoEmbeddings = "no usable reference embeddings"
)

// BuildOptions configures BuildRegistry.
type BuildOptions struct {
	// Dim is the expected embedding dimensionality. Zero infers it from the first
	// non-empty reference embedding.
	Dim   int
	Index IndexKind
}

// ExcludedIdentity describes an identity left out of a registry snapshot.
type ExcludedIdentity struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// BuildReport summarises a registry build for logging.
type BuildReport struct {
	Included          int                `json:"included"`
	References        int                `json:"references"`
	Excluded          []ExcludedIdentity `json:"excluded"`
	DroppedEmbeddings int                `json:"dropped_embeddings"`
	Dim               int                `json:"dim"`
}

type entry struct {
	identity Identity // ReferenceEmbeddings is always nil here
	refs     [][]float32
}

// Registry is an immutable snapshot of identities and their reference embeddings.
// It is safe for concurrent use by any number of matchers.
type Registry struct {
	entries  []entry
	byID     map[string]int
	dim      int
	refCount int
	refOwner []int // reference ordinal -> entry index
	index    *referenceIndex
}

// BuildRegistry builds a registry snapshot from identities. Identities without any
// usable reference embedding are excluded and listed in the report. Reference
// embeddings are copied, so later mutation of the input does not affect the snapshot.
func BuildRegistry(identities []Identity, opts BuildOptions) (*Registry, BuildReport) {
	dim := opts.Dim
	if dim <= 0 {
		dim = inferDim(identities)
	}

	reg := &Registry{
		entries: make([]entry, 0, len(identities)),
		byID:    make(map[string]int, len(identities)),
		dim:     dim,
	}
	report := BuildReport{Dim: dim}

	for i := range identities {
		ident := &identities[i]
		if ident.ID == "" {
			report.Excluded = append(report.Excluded, ExcludedIdentity{ID: ident.DisplayName, Reason: ReasonMissingID})
			continue
		}
		if _, dup := reg.byID[ident.ID]; dup {
			report.Excluded = append(report.Excluded, ExcludedIdentity{ID: ident.ID, Reason: ReasonDuplicateID})
			continue
		}

		refs := make([][]float32, 0, len(ident.ReferenceEmbeddings))
		for _, vec := range ident.ReferenceEmbeddings {
			if !usableEmbedding(vec, dim) {
				report.DroppedEmbeddings++
				continue
			}
			refs = append(refs, slices.Clone(vec))
		}
		if len(refs) == 0 {
			report.Excluded = append(report.Excluded, ExcludedIdentity{ID: ident.ID, Reason: ReasonNoEmbeddings})
			continue
		}

		meta := *ident
		meta.ReferenceEmbeddings = nil
		reg.byID[ident.ID] = len(reg.entries)
		for range refs {
			reg.refOwner = append(reg.refOwner, len(reg.entries))
		}
		reg.entries = append(reg.entries, entry{identity: meta, refs: refs})
		reg.refCount += len(refs)
	}

	report.Included = len(reg.entries)
	report.References = reg.refCount

	if opts.Index == IndexHNSW && reg.refCount > 0 {
		reg.index = newReferenceIndex(reg.entries)
	}
	return reg, report
}

func inferDim(identities []Identity) int {
	for i := range identities {
		for _, vec := range identities[i].ReferenceEmbeddings {
			if len(vec) > 0 {
				return len(vec)
			}
		}
	}
	return 0
}

// Dim returns the embedding dimensionality of the snapshot (0 if unknown).
func (r *Registry) Dim() int {
	if r == nil {
		return 0
	}
	return r.dim
}

// Len returns the number of identities available for matching.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// References returns the total number of reference embeddings.
func (r *Registry) References() int {
	if r == nil {
		return 0
	}
	return r.refCount
}

// Indexed reports whether the snapshot carries an HNSW index.
func (r *Registry) Indexed() bool {
	return r != nil && r.index != nil
}

// Lookup returns the identity metadata for id.
func (r *Registry) Lookup(id string) (Identity, bool) {
	if r == nil {
		return Identity{}, false
	}
	i, ok := r.byID[id]
	if !ok {
		return Identity{}, false
	}
	return r.entries[i].identity, true
}

// Identities returns identity metadata in registry order.
func (r *Registry) Identities() []Identity {
	if r == nil {
		return nil
	}
	out := make([]Identity, len(r.entries))
	for i := range r.entries {
		out[i] = r.entries[i].identity
	}
	return out
}

// FilterByName returns the identities whose display name equals name after
// normalization (case, diacritics and dashes are ignored), in input order.
func FilterByName(identities []Identity, name string) []Identity {
	want := NormalizeDisplayName(name)
	var out []Identity
	for _, ident := range identities {
		if NormalizeDisplayName(ident.DisplayName) == want {
			out = append(out, ident)
		}
	}
	return out
}
