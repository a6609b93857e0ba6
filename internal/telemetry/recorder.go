package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

// Recorder implements pipeline.Recorder with OpenTelemetry instruments.
type Recorder struct {
	observations metric.Int64Counter
	alerts       metric.Int64Counter
	malformed    metric.Int64Counter
	rebuilds     metric.Int64Counter
	matchLatency metric.Float64Histogram
	distance     metric.Float64Histogram
	rebuildTime  metric.Float64Histogram
}

var _ pipeline.Recorder = (*Recorder)(nil)

// NewRecorder creates the pipeline instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	var (
		r   Recorder
		err error
	)
	if r.observations, err = meter.Int64Counter("watchpost.observations",
		metric.WithDescription("Observations processed, by outcome")); err != nil {
		return nil, fmt.Errorf("telemetry: observations counter: %w", err)
	}
	if r.alerts, err = meter.Int64Counter("watchpost.alerts",
		metric.WithDescription("Alerts raised, by risk tag")); err != nil {
		return nil, fmt.Errorf("telemetry: alerts counter: %w", err)
	}
	if r.malformed, err = meter.Int64Counter("watchpost.observations.malformed",
		metric.WithDescription("Observations rejected as malformed")); err != nil {
		return nil, fmt.Errorf("telemetry: malformed counter: %w", err)
	}
	if r.rebuilds, err = meter.Int64Counter("watchpost.registry.rebuilds"); err != nil {
		return nil, fmt.Errorf("telemetry: rebuilds counter: %w", err)
	}
	if r.matchLatency, err = meter.Float64Histogram("watchpost.match.duration",
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("telemetry: match duration histogram: %w", err)
	}
	if r.distance, err = meter.Float64Histogram("watchpost.match.distance",
		metric.WithDescription("Distance to the nearest reference")); err != nil {
		return nil, fmt.Errorf("telemetry: distance histogram: %w", err)
	}
	if r.rebuildTime, err = meter.Float64Histogram("watchpost.registry.rebuild.duration",
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("telemetry: rebuild duration histogram: %w", err)
	}
	return &r, nil
}

func (r *Recorder) RecordMatch(ctx context.Context, ev pipeline.MatchEvent, elapsed time.Duration) {
	outcome := "unknown"
	switch {
	case ev.Suppressed:
		outcome = "suppressed"
	case ev.AlertID != "":
		outcome = "alert"
	case ev.Matched:
		outcome = "matched"
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", ev.Source),
	)
	r.observations.Add(ctx, 1, attrs)
	r.matchLatency.Record(ctx, float64(elapsed.Microseconds())/1000, metric.WithAttributes(attribute.String("outcome", outcome)))
	if ev.Distance != nil {
		r.distance.Record(ctx, *ev.Distance)
	}
}

func (r *Recorder) RecordAlert(ctx context.Context, ev pipeline.AlertEvent) {
	r.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("risk_tag", string(ev.RiskTag))))
}

func (r *Recorder) RecordMalformed(ctx context.Context) {
	r.malformed.Add(ctx, 1)
}

func (r *Recorder) RecordRebuild(ctx context.Context, report facematch.BuildReport, elapsed time.Duration) {
	r.rebuilds.Add(ctx, 1, metric.WithAttributes(attribute.Bool("excluded", len(report.Excluded) > 0)))
	r.rebuildTime.Record(ctx, float64(elapsed.Microseconds())/1000)
}

// RegisterStatsGauges exposes registry and cooldown sizes as observable gauges.
func RegisterStatsGauges(meter metric.Meter, stats func() pipeline.Stats) error {
	identities, err := meter.Int64ObservableGauge("watchpost.registry.identities")
	if err != nil {
		return fmt.Errorf("telemetry: identities gauge: %w", err)
	}
	references, err := meter.Int64ObservableGauge("watchpost.registry.references")
	if err != nil {
		return fmt.Errorf("telemetry: references gauge: %w", err)
	}
	cooldowns, err := meter.Int64ObservableGauge("watchpost.cooldown.entries")
	if err != nil {
		return fmt.Errorf("telemetry: cooldown gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(identities, int64(s.Identities))
		o.ObserveInt64(references, int64(s.References))
		o.ObserveInt64(cooldowns, int64(s.CooldownEntries))
		return nil
	}, identities, references, cooldowns)
	if err != nil {
		return fmt.Errorf("telemetry: register gauges: %w", err)
	}
	return nil
}
