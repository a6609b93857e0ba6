// Package alerting decides whether a match deserves an alert and suppresses
// repeated alerts for the same identity within a cooldown window.
package alerting

import "github.com/kozaktomas/watchpost/internal/facematch"

// DefaultAlertThreshold is the distance below which a high-risk match alerts.
const DefaultAlertThreshold = 0.5

// Verdict is the result of evaluating a match against the policy.
type Verdict int

const (
	VerdictIgnore Verdict = iota
	VerdictAlertWorthy
)

func (v Verdict) String() string {
	if v == VerdictAlertWorthy {
		return "alert_worthy"
	}
	return "ignore"
}

// Policy flags matches of banned and watchlist identities whose confidence is at
// least 1 - AlertThreshold.
type Policy struct {
	AlertThreshold float64
}

// NewPolicy returns a policy with the given alert threshold.
func NewPolicy(alertThreshold float64) Policy {
	return Policy{AlertThreshold: alertThreshold}
}

// MinConfidence is the lowest confidence that can raise an alert.
func (p Policy) MinConfidence() float64 {
	return 1 - p.AlertThreshold
}

// Evaluate classifies a match result. Unmatched results and identities that are not
// high-risk are always ignored.
func (p Policy) Evaluate(result facematch.MatchResult, confidence float64) Verdict {
	if result.Identity == nil || !result.Identity.RiskTag.HighRisk() {
		return VerdictIgnore
	}
	if confidence >= p.MinConfidence() {
		return VerdictAlertWorthy
	}
	return VerdictIgnore
}
