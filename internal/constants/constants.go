// Package constants provides shared constants used across the codebase.
package constants

// Queue sizes
const (
	// SinkQueueSize is the buffer of each asynchronous pipeline sink
	SinkQueueSize = 1024

	// EventChannelBuffer is the buffer size for live event listeners (SSE and websocket)
	EventChannelBuffer = 100
)

// Replay constants
const (
	// ReplayWorkers is the default number of parallel workers replaying an observation log
	ReplayWorkers = 4

	// MaxReplayLineSize is the longest JSONL line accepted by replay (embeddings can be large)
	MaxReplayLineSize = 4 << 20
)

// Lookup constants
const (
	// DefaultNearestLimit is the number of references returned by the nearest-reference lookup
	DefaultNearestLimit = 5
)
