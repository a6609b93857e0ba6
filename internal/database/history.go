package database

import (
	"context"

	"github.com/kozaktomas/watchpost/internal/pipeline"
)

// NewHistorySink adapts a HistoryWriter to a pipeline sink. Wrap the result in a
// pipeline.AsyncSink so database latency stays off the observation path.
func NewHistorySink(w HistoryWriter) pipeline.Sink {
	return pipeline.SinkFuncs{
		Match: func(ctx context.Context, ev pipeline.MatchEvent) error {
			return w.RecordMatch(ctx, ev)
		},
		Alert: func(ctx context.Context, ev pipeline.AlertEvent) error {
			return w.RecordAlert(ctx, ev)
		},
	}
}

// ClampLimit bounds a requested page size to [1, maxLimit], using def for non-positive values.
func ClampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
