package pipeline

import (
	"math"
	"time"

	"github.com/kozaktomas/watchpost/internal/facematch"
)

// Observation is one face embedding produced by an upstream detector.
type Observation struct {
	Embedding []float32 `json:"embedding"`
	// ObservedAt is the capture time. Zero means "now".
	ObservedAt time.Time `json:"observed_at"`
	// Source identifies the camera or stream the observation came from.
	Source string `json:"source,omitempty"`
}

// MatchEvent is emitted for every accepted observation.
type MatchEvent struct {
	ID         string    `json:"id"`
	Source     string    `json:"source,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	BestLabel  string    `json:"best_label"`
	NearestID  string    `json:"nearest_id,omitempty"`
	// Distance is nil when the registry was empty.
	Distance    *float64          `json:"distance,omitempty"`
	Confidence  float64           `json:"confidence"`
	Matched     bool              `json:"matched"`
	IdentityID  string            `json:"identity_id,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	RiskTag     facematch.RiskTag `json:"risk_tag,omitempty"`
	AlertWorthy bool              `json:"alert_worthy"`
	// Suppressed is set when the match was alert-worthy but the identity was cooling down.
	Suppressed bool   `json:"suppressed"`
	AlertID    string `json:"alert_id,omitempty"`
}

// DistanceValue returns the nearest distance, +Inf when nothing was compared.
func (e MatchEvent) DistanceValue() float64 {
	if e.Distance == nil {
		return math.Inf(1)
	}
	return *e.Distance
}

// AlertEvent is emitted when a high-risk identity is recognised outside its cooldown.
type AlertEvent struct {
	ID            string            `json:"id"`
	MatchID       string            `json:"match_id"`
	IdentityID    string            `json:"identity_id"`
	DisplayName   string            `json:"display_name"`
	RiskTag       facematch.RiskTag `json:"risk_tag"`
	Distance      float64           `json:"distance"`
	Confidence    float64           `json:"confidence"`
	ConfidencePct int               `json:"confidence_pct"`
	ObservedAt    time.Time         `json:"observed_at"`
	Source        string            `json:"source,omitempty"`
}

// Outcome is the result of processing one observation.
type Outcome struct {
	Match MatchEvent `json:"match"`
	// Alert is nil unless an alert was raised.
	Alert *AlertEvent `json:"alert,omitempty"`
}

// ConfidencePercent rounds a confidence in [0, 1] to a whole percentage.
func ConfidencePercent(confidence float64) int {
	return int(math.Round(confidence * 100))
}
