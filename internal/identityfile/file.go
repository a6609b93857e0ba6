// Package identityfile loads identities from a YAML file, writes them back, and
// watches the file for changes.
package identityfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/facematch"
)

// Document is the on-disk layout.
type Document struct {
	Identities []facematch.Identity `yaml:"identities"`
}

// Parse decodes a YAML identity document and normalises risk tags.
func Parse(data []byte) ([]facematch.Identity, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	for i := range doc.Identities {
		tag, err := facematch.ParseRiskTag(string(doc.Identities[i].RiskTag))
		if err != nil {
			return nil, fmt.Errorf("identity %q: %w", doc.Identities[i].ID, err)
		}
		doc.Identities[i].RiskTag = tag
	}
	return doc.Identities, nil
}

// Load reads identities from path. A missing file yields no identities.
func Load(path string) ([]facematch.Identity, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity file: %w", err)
	}
	return Parse(data)
}

// Write replaces path atomically with the given identities.
func Write(path string, identities []facematch.Identity) error {
	data, err := yaml.Marshal(Document{Identities: identities})
	if err != nil {
		return fmt.Errorf("marshal identities: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace identity file: %w", err)
	}
	return nil
}

// Store is a file-backed database.IdentityWriter. Every call reads the file, so
// edits made by hand are picked up without a restart.
type Store struct {
	path string
	mu   sync.Mutex
}

var _ database.IdentityWriter = (*Store)(nil)

// NewStore returns a store for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) ListIdentities(_ context.Context) ([]facematch.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Load(s.path)
}

func (s *Store) GetIdentity(_ context.Context, id string) (*facematch.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identities, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	i := indexOf(identities, id)
	if i < 0 {
		return nil, fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	return &identities[i], nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identities, err := Load(s.path)
	if err != nil {
		return 0, err
	}
	return len(identities), nil
}

func (s *Store) SaveIdentity(_ context.Context, ident facematch.Identity) error {
	if ident.ID == "" {
		return errors.New("identity id is required")
	}
	if ident.RiskTag == "" {
		ident.RiskTag = facematch.RiskNeutral
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	identities, err := Load(s.path)
	if err != nil {
		return err
	}
	if i := indexOf(identities, ident.ID); i >= 0 {
		if ident.ReferenceEmbeddings == nil {
			ident.ReferenceEmbeddings = identities[i].ReferenceEmbeddings
		}
		identities[i] = ident
	} else {
		identities = append(identities, ident)
	}
	return Write(s.path, identities)
}

func (s *Store) AddReferenceEmbedding(_ context.Context, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identities, err := Load(s.path)
	if err != nil {
		return err
	}
	i := indexOf(identities, id)
	if i < 0 {
		return fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	identities[i].ReferenceEmbeddings = append(identities[i].ReferenceEmbeddings, slices.Clone(embedding))
	return Write(s.path, identities)
}

func (s *Store) DeleteIdentity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	identities, err := Load(s.path)
	if err != nil {
		return err
	}
	i := indexOf(identities, id)
	if i < 0 {
		return fmt.Errorf("identity %s: %w", id, database.ErrNotFound)
	}
	return Write(s.path, slices.Delete(identities, i, i+1))
}

func indexOf(identities []facematch.Identity, id string) int {
	return slices.IndexFunc(identities, func(ident facematch.Identity) bool { return ident.ID == id })
}
