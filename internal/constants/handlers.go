package constants

import "time"

// Handler constants
const (
	// DefaultHandlerPageSize is the page size for history endpoints
	DefaultHandlerPageSize = 100

	// MaxHandlerPageSize caps the page size a client may request
	MaxHandlerPageSize = 1000

	// MaxObservationBody is the largest accepted observation request body (1MB)
	MaxObservationBody = 1 << 20

	// MaxObservationBatch is the largest number of observations accepted in one request
	MaxObservationBatch = 256

	// MaxBatchBody is the largest accepted batch request body (16MB)
	MaxBatchBody = 16 << 20
)

// Live stream constants
const (
	// KeepaliveInterval is how often idle SSE and websocket streams are pinged
	KeepaliveInterval = 25 * time.Second

	// WebsocketWriteTimeout bounds a single websocket write
	WebsocketWriteTimeout = 5 * time.Second
)
