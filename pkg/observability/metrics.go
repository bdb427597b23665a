package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/session"
	"github.com/ajitpratap0/mcp-session-go/pkg/subscription"
	"github.com/ajitpratap0/mcp-session-go/pkg/transport"
)

// MetricsConfig configures the metrics collectors
type MetricsConfig struct {
	// Namespace prefixes every metric (default: mcp)
	Namespace string
	Subsystem string
	// DurationBuckets are the histogram buckets for latencies, in seconds
	DurationBuckets []float64
	// ConstLabels are added to every metric
	ConstLabels prometheus.Labels
}

// Metrics collects session, request, frame and subscription metrics in
// Prometheus form. It implements session.Observer and
// transport.FrameObserver; SubscriptionDropped fits
// subscription.Options.OnDrop.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive  *prometheus.GaugeVec
	sessionsTotal   *prometheus.CounterVec
	sessionDuration *prometheus.HistogramVec

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	notifications   *prometheus.CounterVec

	framesTotal *prometheus.CounterVec
	frameBytes  *prometheus.HistogramVec
	writeErrors prometheus.Counter
	writeTime   prometheus.Histogram

	subscriptionDrops *prometheus.CounterVec
}

var (
	_ session.Observer        = (*Metrics)(nil)
	_ transport.FrameObserver = (*Metrics)(nil)
)

// NewMetrics creates the collectors and registers them on a fresh registry,
// along with the Go runtime and process collectors
func NewMetrics(config MetricsConfig) (*Metrics, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp"
	}
	if config.DurationBuckets == nil {
		config.DurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	}

	m := &Metrics{registry: prometheus.NewRegistry()}
	m.initializeMetrics(config)

	all := []prometheus.Collector{
		m.sessionsActive, m.sessionsTotal, m.sessionDuration,
		m.requestTotal, m.requestDuration, m.notifications,
		m.framesTotal, m.frameBytes, m.writeErrors, m.writeTime,
		m.subscriptionDrops,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range all {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) initializeMetrics(config MetricsConfig) {
	m.sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_active",
			Help:        "Number of open sessions",
			ConstLabels: config.ConstLabels,
		},
		[]string{"role"},
	)
	m.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "sessions_total",
			Help:        "Total number of sessions opened",
			ConstLabels: config.ConstLabels,
		},
		[]string{"role"},
	)
	m.sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "session_duration_seconds",
			Help:        "Lifetime of closed sessions in seconds",
			Buckets:     prometheus.ExponentialBuckets(1, 4, 10),
			ConstLabels: config.ConstLabels,
		},
		[]string{"role"},
	)

	m.requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "requests_total",
			Help:        "Total number of completed requests",
			ConstLabels: config.ConstLabels,
		},
		[]string{"direction", "method", "status"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "request_duration_seconds",
			Help:        "Duration of requests in seconds",
			Buckets:     config.DurationBuckets,
			ConstLabels: config.ConstLabels,
		},
		[]string{"direction", "method"},
	)
	m.notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "notifications_total",
			Help:        "Total number of notifications sent and received",
			ConstLabels: config.ConstLabels,
		},
		[]string{"direction", "method"},
	)

	m.framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_total",
			Help:        "Total number of transport frames",
			ConstLabels: config.ConstLabels,
		},
		[]string{"direction"},
	)
	m.frameBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_bytes",
			Help:        "Size of transport frames in bytes",
			Buckets:     prometheus.ExponentialBuckets(64, 4, 8),
			ConstLabels: config.ConstLabels,
		},
		[]string{"direction"},
	)
	m.writeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_write_errors_total",
			Help:        "Total number of failed frame writes",
			ConstLabels: config.ConstLabels,
		},
	)
	m.writeTime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frame_write_duration_seconds",
			Help:        "Time spent writing a frame in seconds",
			Buckets:     config.DurationBuckets,
			ConstLabels: config.ConstLabels,
		},
	)

	m.subscriptionDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "subscription_drops_total",
			Help:        "Notifications dropped because a subscriber's mailbox was full",
			ConstLabels: config.ConstLabels,
		},
		[]string{"kind"},
	)
}

// Registry returns the registry holding every collector
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ListenAndServe serves Handler at /metrics on addr until ctx is done
func (m *Metrics) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Instrument wraps t so its frames are counted
func (m *Metrics) Instrument(t transport.Transport) transport.Transport {
	return transport.WithObserver(m).Wrap(t)
}

// SessionOpened implements session.Observer
func (m *Metrics) SessionOpened(role session.Role) {
	m.sessionsTotal.WithLabelValues(role.String()).Inc()
	m.sessionsActive.WithLabelValues(role.String()).Inc()
}

// SessionClosed implements session.Observer
func (m *Metrics) SessionClosed(role session.Role, lifetime time.Duration) {
	m.sessionsActive.WithLabelValues(role.String()).Dec()
	m.sessionDuration.WithLabelValues(role.String()).Observe(lifetime.Seconds())
}

// RequestCompleted implements session.Observer
func (m *Metrics) RequestCompleted(dir session.Direction, method string, elapsed time.Duration, err error) {
	m.requestTotal.WithLabelValues(string(dir), method, status(err)).Inc()
	m.requestDuration.WithLabelValues(string(dir), method).Observe(elapsed.Seconds())
}

// NotificationObserved implements session.Observer
func (m *Metrics) NotificationObserved(dir session.Direction, method string) {
	m.notifications.WithLabelValues(string(dir), method).Inc()
}

// FrameReceived implements transport.FrameObserver
func (m *Metrics) FrameReceived(bytes int) {
	m.framesTotal.WithLabelValues(string(session.Inbound)).Inc()
	m.frameBytes.WithLabelValues(string(session.Inbound)).Observe(float64(bytes))
}

// FrameSent implements transport.FrameObserver
func (m *Metrics) FrameSent(bytes int, elapsed time.Duration, err error) {
	if err != nil {
		m.writeErrors.Inc()
		return
	}
	m.framesTotal.WithLabelValues(string(session.Outbound)).Inc()
	m.frameBytes.WithLabelValues(string(session.Outbound)).Observe(float64(bytes))
	m.writeTime.Observe(elapsed.Seconds())
}

// SubscriptionDropped counts a notification dropped on a full mailbox
func (m *Metrics) SubscriptionDropped(_ string, target subscription.Target) {
	kind := target.String()
	if target.Kind == subscription.KindResource {
		// one series per kind, not per URI
		kind = "resource"
	}
	m.subscriptionDrops.WithLabelValues(kind).Inc()
}

// status labels a request outcome with its error category
func status(err error) string {
	if err == nil {
		return "ok"
	}
	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		return string(mcpErr.Category())
	}
	return "error"
}
