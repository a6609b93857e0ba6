package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/watchpost/internal/facematch"
)

// Recorder receives pipeline measurements. The telemetry package provides the
// OpenTelemetry implementation.
type Recorder interface {
	RecordMatch(ctx context.Context, ev MatchEvent, elapsed time.Duration)
	RecordAlert(ctx context.Context, ev AlertEvent)
	RecordMalformed(ctx context.Context)
	RecordRebuild(ctx context.Context, report facematch.BuildReport, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordMatch(context.Context, MatchEvent, time.Duration) {}
func (nopRecorder) RecordAlert(context.Context, AlertEvent) {}
func (nopRecorder) RecordMalformed(context.Context) {}
func (nopRecorder) RecordRebuild(context.Context, facematch.BuildReport, time.Duration) {}

type counters struct {
	observations atomic.Int64
	matched      atomic.Int64
	unknown      atomic.Int64
	alerts       atomic.Int64
	suppressed   atomic.Int64
	malformed    atomic.Int64
	rebuilds     atomic.Int64
}

func (c *counters) observe(match MatchEvent, alert *AlertEvent) {
	c.observations.Add(1)
	if match.Matched {
		c.matched.Add(1)
	} else {
		c.unknown.Add(1)
	}
	if alert != nil {
		c.alerts.Add(1)
	}
	if match.Suppressed {
		c.suppressed.Add(1)
	}
}

// Stats is a point-in-time summary for dashboards.
type Stats struct {
	Identities         int       `json:"identities"`
	References         int       `json:"references"`
	ExcludedIdentities int       `json:"excluded_identities"`
	Indexed            bool      `json:"indexed"`
	Observations       int64     `json:"observations"`
	Matched            int64     `json:"matched"`
	Unknown            int64     `json:"unknown"`
	Alerts             int64     `json:"alerts"`
	SuppressedAlerts   int64     `json:"suppressed_alerts"`
	Malformed          int64     `json:"malformed"`
	Rebuilds           int64     `json:"rebuilds"`
	CooldownEntries    int       `json:"cooldown_entries"`
	StartedAt          time.Time `json:"started_at"`
}

// Stats returns counters since the pipeline was created.
func (p *Pipeline) Stats() Stats {
	reg := p.registry.Load()
	report := p.lastReport.Load()
	return Stats{
		Identities:         reg.Len(),
		References:         reg.References(),
		ExcludedIdentities: len(report.Excluded),
		Indexed:            reg.Indexed(),
		Observations:       p.counters.observations.Load(),
		Matched:            p.counters.matched.Load(),
		Unknown:            p.counters.unknown.Load(),
		Alerts:             p.counters.alerts.Load(),
		SuppressedAlerts:   p.counters.suppressed.Load(),
		Malformed:          p.counters.malformed.Load(),
		Rebuilds:           p.counters.rebuilds.Load(),
		CooldownEntries:    p.cooldown.Len(),
		StartedAt:          p.startedAt,
	}
}
