// Package pipeline wires the registry, matcher, alert policy, and cooldown tracker
// into the per-observation processing path.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/kozaktomas/watchpost/internal/alerting"
	"github.com/kozaktomas/watchpost/internal/facematch"
)

// DefaultMatchThreshold is the distance below which an observation is attributed to an identity.
const DefaultMatchThreshold = 0.6

// ErrMalformedInput is returned for observations that cannot be matched, such as an
// embedding of the wrong dimensionality. The observation is dropped.
var ErrMalformedInput = errors.New("malformed input")

// Options configures a Pipeline. Zero or negative thresholds and windows select
// the defaults. A match threshold of zero is therefore not expressible; it could
// never match anyway since distances are non-negative and matching is strict, and
// config.Validate rejects it before it gets here.
type Options struct {
	MatchThreshold float64       // default DefaultMatchThreshold
	AlertThreshold float64       // default alerting.DefaultAlertThreshold
	CooldownWindow time.Duration // default alerting.DefaultCooldownWindow
	// Dim is the expected embedding dimensionality. Zero accepts whatever the
	// current registry snapshot was built with.
	Dim   int
	Index facematch.IndexKind
	// Recorder receives metrics; nil disables them.
	Recorder Recorder
	// Now returns the time used for observations without a timestamp.
	Now func() time.Time
}

// Pipeline processes observations against the current registry snapshot.
// OnObservation and RebuildRegistry are safe for concurrent use.
type Pipeline struct {
	registry   atomic.Pointer[facematch.Registry]
	lastReport atomic.Pointer[facematch.BuildReport]

	matcher        facematch.Matcher
	policy         alerting.Policy
	cooldown       *alerting.CooldownTracker
	matchThreshold float64
	dim            int
	index          facematch.IndexKind
	recorder       Recorder
	now            func() time.Time
	logger         *log.Logger

	sinksMu sync.RWMutex
	sinks   []Sink

	rebuildMu sync.Mutex
	counters  counters
	startedAt time.Time
}

// New creates a pipeline with an empty registry.
func New(opts Options) *Pipeline {
	if opts.MatchThreshold <= 0 {
		opts.MatchThreshold = DefaultMatchThreshold
	}
	if opts.AlertThreshold <= 0 {
		opts.AlertThreshold = alerting.DefaultAlertThreshold
	}
	if opts.CooldownWindow <= 0 {
		opts.CooldownWindow = alerting.DefaultCooldownWindow
	}
	if opts.Index == "" {
		opts.Index = facematch.IndexFlat
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	p := &Pipeline{
		matcher:        facematch.NewMatcher(opts.Index),
		policy:         alerting.NewPolicy(opts.AlertThreshold),
		cooldown:       alerting.NewCooldownTracker(opts.CooldownWindow),
		matchThreshold: opts.MatchThreshold,
		dim:            opts.Dim,
		index:          opts.Index,
		recorder:       opts.Recorder,
		now:            opts.Now,
		logger:         log.Default().With("component", "pipeline"),
		startedAt:      opts.Now(),
	}
	empty, report := facematch.BuildRegistry(nil, facematch.BuildOptions{Dim: opts.Dim, Index: opts.Index})
	p.registry.Store(empty)
	p.lastReport.Store(&report)
	return p
}

// AddSink registers a sink for match and alert events.
func (p *Pipeline) AddSink(s Sink) {
	p.sinksMu.Lock()
	defer p.sinksMu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Registry returns the current snapshot.
func (p *Pipeline) Registry() *facematch.Registry {
	return p.registry.Load()
}

// Cooldown returns the cooldown tracker.
func (p *Pipeline) Cooldown() *alerting.CooldownTracker {
	return p.cooldown
}

// LastBuildReport returns the report of the most recent rebuild.
func (p *Pipeline) LastBuildReport() facematch.BuildReport {
	return *p.lastReport.Load()
}

// RebuildRegistry builds a new snapshot from identities and swaps it in. Observations
// already being matched finish against the previous snapshot.
func (p *Pipeline) RebuildRegistry(ctx context.Context, identities []facematch.Identity) facematch.BuildReport {
	p.rebuildMu.Lock()
	defer p.rebuildMu.Unlock()
	return p.rebuildLocked(ctx, identities)
}

// Reload lists identities with load and rebuilds from them, holding the rebuild lock
// across both steps. A reload that starts after a write to the source therefore
// always publishes after any reload that read the source before that write. When
// load fails the current snapshot is kept.
func (p *Pipeline) Reload(ctx context.Context, load func(ctx context.Context) ([]facematch.Identity, error)) (facematch.BuildReport, error) {
	p.rebuildMu.Lock()
	defer p.rebuildMu.Unlock()

	identities, err := load(ctx)
	if err != nil {
		return facematch.BuildReport{}, err
	}
	return p.rebuildLocked(ctx, identities), nil
}

func (p *Pipeline) rebuildLocked(ctx context.Context, identities []facematch.Identity) facematch.BuildReport {
	start := time.Now()
	reg, report := facematch.BuildRegistry(identities, facematch.BuildOptions{Dim: p.dim, Index: p.index})
	p.registry.Store(reg)
	p.lastReport.Store(&report)
	p.counters.rebuilds.Add(1)
	elapsed := time.Since(start)

	for _, ex := range report.Excluded {
		p.logger.Warn("identity excluded from registry", "id", ex.ID, "reason", ex.Reason)
	}
	if report.DroppedEmbeddings > 0 {
		p.logger.Warn("dropped unusable reference embeddings", "count", report.DroppedEmbeddings, "dim", report.Dim)
	}
	p.logger.Info("registry rebuilt",
		"identities", report.Included,
		"references", report.References,
		"excluded", len(report.Excluded),
		"indexed", reg.Indexed(),
		"took", elapsed)
	p.recorder.RecordRebuild(ctx, report, elapsed)
	return report
}

// Now returns the pipeline clock.
func (p *Pipeline) Now() time.Time {
	return p.now()
}

// Forget clears the cooldown state of a removed identity.
func (p *Pipeline) Forget(identityID string) {
	p.cooldown.Forget(identityID)
}

// SweepCooldowns removes expired cooldown entries.
func (p *Pipeline) SweepCooldowns(now time.Time) int {
	return p.cooldown.Sweep(now)
}

// OnObservation matches one observation and emits its events. A MatchEvent is always
// produced for accepted observations; an AlertEvent only when a high-risk identity
// matches with enough confidence and is not cooling down.
func (p *Pipeline) OnObservation(ctx context.Context, obs Observation) (Outcome, error) {
	start := time.Now()
	reg := p.registry.Load()

	dim := p.dim
	if dim == 0 {
		dim = reg.Dim()
	}
	if err := facematch.CheckEmbedding(obs.Embedding, dim); err != nil {
		p.counters.malformed.Add(1)
		p.recorder.RecordMalformed(ctx)
		p.logger.Debug("dropping observation", "source", obs.Source, "err", err)
		return Outcome{}, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}

	observedAt := obs.ObservedAt
	if observedAt.IsZero() {
		observedAt = p.now()
	}

	result := p.matcher.Match(obs.Embedding, reg, p.matchThreshold)
	confidence := facematch.Confidence(result.Distance)
	verdict := p.policy.Evaluate(result, confidence)

	match := MatchEvent{
		ID:          uuid.NewString(),
		Source:      obs.Source,
		ObservedAt:  observedAt,
		BestLabel:   result.BestLabel,
		NearestID:   result.NearestID,
		Confidence:  confidence,
		Matched:     result.Matched(),
		AlertWorthy: verdict == alerting.VerdictAlertWorthy,
	}
	if result.HasDistance() {
		d := result.Distance
		match.Distance = &d
	}
	if result.Identity != nil {
		match.IdentityID = result.Identity.ID
		match.DisplayName = result.Identity.DisplayName
		match.RiskTag = result.Identity.RiskTag
	}

	var alert *AlertEvent
	if match.AlertWorthy {
		if p.cooldown.ShouldAlert(result.Identity.ID, observedAt) {
			alert = &AlertEvent{
				ID:            uuid.NewString(),
				MatchID:       match.ID,
				IdentityID:    result.Identity.ID,
				DisplayName:   result.Identity.DisplayName,
				RiskTag:       result.Identity.RiskTag,
				Distance:      result.Distance,
				Confidence:    confidence,
				ConfidencePct: ConfidencePercent(confidence),
				ObservedAt:    observedAt,
				Source:        obs.Source,
			}
			match.AlertID = alert.ID
		} else {
			match.Suppressed = true
		}
	}

	p.counters.observe(match, alert)
	p.recorder.RecordMatch(ctx, match, time.Since(start))
	p.emitMatch(ctx, match)
	if alert != nil {
		p.recorder.RecordAlert(ctx, *alert)
		p.logger.Info("alert raised",
			"identity", alert.IdentityID,
			"name", alert.DisplayName,
			"risk", alert.RiskTag,
			"confidence", alert.ConfidencePct,
			"source", alert.Source)
		p.emitAlert(ctx, *alert)
	}
	return Outcome{Match: match, Alert: alert}, nil
}

func (p *Pipeline) snapshotSinks() []Sink {
	p.sinksMu.RLock()
	defer p.sinksMu.RUnlock()
	return p.sinks
}

func (p *Pipeline) emitMatch(ctx context.Context, ev MatchEvent) {
	for _, s := range p.snapshotSinks() {
		if err := s.HandleMatch(ctx, ev); err != nil {
			p.logger.Warn("match sink failed", "event", ev.ID, "err", err)
		}
	}
}

func (p *Pipeline) emitAlert(ctx context.Context, ev AlertEvent) {
	for _, s := range p.snapshotSinks() {
		if err := s.HandleAlert(ctx, ev); err != nil {
			p.logger.Warn("alert sink failed", "event", ev.ID, "err", err)
		}
	}
}
