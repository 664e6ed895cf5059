// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	AuthorizationsCompleted prometheus.Counter
	AuthorizationsFailed    prometheus.Counter
	WebhooksCreated         prometheus.Counter
	WebhooksRemoved         prometheus.Counter
	RelaysPosted            prometheus.Counter
	RelaysDropped           prometheus.Counter
	RelaysFailed            prometheus.Counter
	TokensRefreshed         prometheus.Counter
	TokenRefreshFailures    prometheus.Counter

	// Histograms (seconds)
	DispatchDuration      prometheus.Observer
	AuthorizationDuration prometheus.Observer
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		AuthorizationsCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_authorizations_completed_total", Help: "Number of user authorizations completed end to end"})
		AuthorizationsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_authorizations_failed_total", Help: "Number of user authorizations that failed"})
		WebhooksCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_webhooks_created_total", Help: "Number of webhook subscriptions created"})
		WebhooksRemoved = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_webhooks_removed_total", Help: "Number of webhook subscriptions removed"})
		RelaysPosted = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_messages_posted_total", Help: "Number of webhook notifications relayed as room messages"})
		RelaysDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_messages_dropped_total", Help: "Number of inbound notifications dropped (no matching authorization)"})
		RelaysFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_messages_failed_total", Help: "Number of relay attempts that failed"})
		TokensRefreshed = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_tokens_refreshed_total", Help: "Number of access tokens reissued by the refresher"})
		TokenRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_token_refresh_failures_total", Help: "Number of token refresh attempts that failed"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_dispatch_duration_seconds", Help: "Webhook dispatch duration seconds", Buckets: prometheus.DefBuckets})
		AuthorizationDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_authorization_duration_seconds", Help: "Authorization chain duration seconds", Buckets: prometheus.DefBuckets})
	})
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
