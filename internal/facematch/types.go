// Package facematch holds the identity registry and the nearest-neighbour matcher
// that classifies observed face embeddings against it.
package facematch

import (
	"fmt"
	"math"
	"strings"
)

// UnknownLabel is reported as BestLabel when no reference lies within the match threshold.
const UnknownLabel = "unknown"

// RiskTag classifies an identity and governs whether it can raise alerts.
type RiskTag string

const (
	RiskNeutral   RiskTag = "neutral"
	RiskWatchlist RiskTag = "watchlist"
	RiskBanned    RiskTag = "banned"
	RiskVIP       RiskTag = "vip"
)

// ParseRiskTag parses a risk tag case-insensitively. An empty string maps to neutral.
func ParseRiskTag(s string) (RiskTag, error) {
	switch tag := RiskTag(strings.ToLower(strings.TrimSpace(s))); tag {
	case "":
		return RiskNeutral, nil
	case RiskNeutral, RiskWatchlist, RiskBanned, RiskVIP:
		return tag, nil
	default:
		return "", fmt.Errorf("unknown risk tag %q", s)
	}
}

// HighRisk reports whether identities with this tag are eligible for alerts.
func (t RiskTag) HighRisk() bool {
	return t == RiskBanned || t == RiskWatchlist
}

// Identity is a known person with one or more reference embeddings.
type Identity struct {
	ID                  string      `json:"id" yaml:"id"`
	DisplayName         string      `json:"display_name" yaml:"display_name"`
	RiskTag             RiskTag     `json:"risk_tag" yaml:"risk_tag"`
	Notes               string      `json:"notes,omitempty" yaml:"notes,omitempty"`
	ReferenceEmbeddings [][]float32 `json:"reference_embeddings,omitempty" yaml:"reference_embeddings"`
}

// MatchResult is the outcome of matching one observation against a registry snapshot.
type MatchResult struct {
	// BestLabel is the matched identity ID, or UnknownLabel.
	BestLabel string
	// NearestID is the closest identity regardless of the threshold. Empty for an empty registry.
	NearestID string
	// Distance to the nearest reference; +Inf when nothing was compared.
	Distance float64
	// Identity is set only when Distance is strictly below the threshold.
	// Its ReferenceEmbeddings are never populated.
	Identity *Identity
	// Candidates is the number of reference embeddings compared.
	Candidates int
}

// Matched reports whether the result carries an identity.
func (r MatchResult) Matched() bool {
	return r.Identity != nil
}

// HasDistance reports whether Distance is a finite value that can be displayed or serialised.
func (r MatchResult) HasDistance() bool {
	return !math.IsInf(r.Distance, 0) && !math.IsNaN(r.Distance)
}
