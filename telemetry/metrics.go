// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Probe results recorded in IdentityProbes.
const (
	ProbeValid   = "valid"
	ProbeInvalid = "invalid"
	ProbeError   = "error"
)

var (
	once sync.Once

	// Counters
	MessagesReceived  prometheus.Counter
	MessagesArchived  prometheus.Counter
	ArchiveFailures   prometheus.Counter
	SinkDropped       prometheus.Counter
	Reauthorizations  prometheus.Counter
	IdentityProbes    *prometheus.CounterVec // label: result
	SessionErrors     *prometheus.CounterVec // label: kind
	AuthorizationErrs prometheus.Counter

	// Histograms (seconds)
	ProbeDuration       prometheus.Observer
	AuthorizeDuration   prometheus.Observer
	SessionOpenDuration prometheus.Observer

	// Gauges
	SessionJoinedGauge prometheus.Gauge // 1=joined,0=not
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "viewer_chat_messages_received_total", Help: "Chat messages handed to the UI"})
		MessagesArchived = promauto.NewCounter(prometheus.CounterOpts{Name: "viewer_chat_messages_archived_total", Help: "Chat messages written to the archive"})
		ArchiveFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "viewer_chat_archive_failures_total", Help: "Chat archive insert failures"})
		SinkDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "viewer_chat_sink_dropped_total", Help: "Chat messages dropped because a queued sink was full"})
		Reauthorizations = promauto.NewCounter(prometheus.CounterOpts{Name: "viewer_reauthorizations_total", Help: "Interactive authorizations started"})
		AuthorizationErrs = promauto.NewCounter(prometheus.CounterOpts{Name: "viewer_authorization_failures_total", Help: "Interactive authorizations that failed or timed out"})
		IdentityProbes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "viewer_identity_probes_total", Help: "Helix identity probes by result"}, []string{"result"})
		SessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "viewer_chat_session_errors_total", Help: "Chat session failures by kind"}, []string{"kind"})
		ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "viewer_identity_probe_duration_seconds", Help: "Identity probe duration seconds", Buckets: prometheus.DefBuckets})
		AuthorizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "viewer_authorize_duration_seconds", Help: "Interactive authorization duration seconds", Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600}})
		SessionOpenDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "viewer_chat_session_open_duration_seconds", Help: "Time from connect to channel join", Buckets: prometheus.DefBuckets})
		SessionJoinedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "viewer_chat_session_joined", Help: "Chat session joined=1 otherwise 0"})
	})
}

// SetSessionJoined sets gauge to 1 if joined else 0.
func SetSessionJoined(joined bool) {
	if SessionJoinedGauge != nil {
		if joined {
			SessionJoinedGauge.Set(1)
		} else {
			SessionJoinedGauge.Set(0)
		}
	}
}

// Inc increments c if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncVec increments the labelled counter if metrics are initialized.
func IncVec(v *prometheus.CounterVec, label string) {
	if v != nil {
		v.WithLabelValues(label).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation (chat session) id.
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

// MaskToken keeps only the tail of a secret for logs.
func MaskToken(tok string) string {
	if len(tok) <= 4 {
		return "***"
	}
	return "***" + tok[len(tok)-4:]
}
