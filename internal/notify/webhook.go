// Package notify delivers alert events to external systems.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/kozaktomas/watchpost/internal/pipeline"
)

var (
	// ErrCircuitOpen is returned while the webhook is considered down.
	ErrCircuitOpen = errors.New("webhook circuit breaker is open")
	// ErrRateLimited is returned when an alert is dropped by the rate limiter.
	ErrRateLimited = errors.New("webhook rate limit exceeded")
)

// WebhookConfig configures a Webhook.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	// RateLimit is the sustained number of deliveries per second; Burst the bucket size.
	RateLimit float64
	Burst     int
	// MaxFailures consecutive failures open the circuit for OpenTimeout.
	MaxFailures uint32
	OpenTimeout time.Duration
	// Client overrides the default HTTP client.
	Client *http.Client
}

// Payload is the JSON body posted for every alert.
type Payload struct {
	Event string              `json:"event"`
	Alert pipeline.AlertEvent `json:"alert"`
	Sent  time.Time           `json:"sent_at"`
}

// Webhook posts alerts as JSON. It is a pipeline.Sink that ignores match events.
type Webhook struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *log.Logger
}

var _ pipeline.Sink = (*Webhook)(nil)

// NewWebhook creates a webhook notifier.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	logger := log.Default().With("sink", "webhook")
	maxFailures := cfg.MaxFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "alert-webhook",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn("webhook circuit state changed", "from", from.String(), "to", to.String())
		},
	})

	return &Webhook{
		url:     cfg.URL,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		breaker: breaker,
		logger:  logger,
	}, nil
}

// HandleMatch implements pipeline.Sink.
func (w *Webhook) HandleMatch(context.Context, pipeline.MatchEvent) error {
	return nil
}

// HandleAlert implements pipeline.Sink.
func (w *Webhook) HandleAlert(ctx context.Context, ev pipeline.AlertEvent) error {
	if !w.limiter.Allow() {
		return ErrRateLimited
	}

	body, err := json.Marshal(Payload{Event: "alert", Alert: ev, Sent: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	_, err = w.breaker.Execute(func() (any, error) {
		return nil, w.post(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	if err != nil {
		return err
	}
	w.logger.Debug("alert delivered", "alert_id", ev.ID, "identity", ev.IdentityID)
	return nil
}

// State returns the circuit breaker state: closed, half-open or open.
func (w *Webhook) State() string {
	return w.breaker.State().String()
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
