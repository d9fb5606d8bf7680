// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for Pinus client connections.
//
// Every method on *Metrics is safe to call on a nil receiver, so callers
// that do not collect metrics pass nil instead of checking at each site.
//
//	reg := prometheus.NewRegistry()
//	m := telemetry.NewMetrics(telemetry.WithRegistry(reg))
//	client := pinus.New(pinus.Config{URL: url, Metrics: m})
//
// Metrics collected:
//   - pinus_packages_sent_total: Counter of packages written, by type
//   - pinus_packages_received_total: Counter of packages read, by type
//   - pinus_bytes_sent_total / pinus_bytes_received_total: Wire bytes
//   - pinus_handshake_duration_seconds: Histogram of handshake latency
//   - pinus_handshake_failures_total: Counter of rejected handshakes
//   - pinus_heartbeat_timeouts_total: Counter of heartbeat timeouts
//   - pinus_kicks_total: Counter of server kicks
//   - pinus_codec_errors_total: Counter of codec failures, by error code
//   - pinus_request_duration_seconds: Histogram of request latency, by route
//   - pinus_request_errors_total: Counter of failed requests, by route and code
//   - pinus_pending_requests: Gauge of requests awaiting a response
//   - pinus_active_connections: Gauge of working connections
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vango-dev/pinus/pkg/protocol"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "pinus").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for handshake and request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "pinus",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors for Pinus connections.
type Metrics struct {
	packagesSent      *prometheus.CounterVec
	packagesReceived  *prometheus.CounterVec
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
	handshakeDuration prometheus.Histogram
	handshakeFailures prometheus.Counter
	heartbeatTimeouts prometheus.Counter
	kicks             prometheus.Counter
	codecErrors       *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestErrors     *prometheus.CounterVec
	pendingRequests   prometheus.Gauge
	activeConnections prometheus.Gauge
}

// NewMetrics creates and registers the collectors. Registering twice with
// the same registry panics, as with promauto.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}
	gauge := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}
	}
	histogram := func(name, help string) prometheus.HistogramOpts {
		return prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}
	}

	return &Metrics{
		packagesSent: factory.NewCounterVec(
			counter("packages_sent_total", "Total packages written, by package type"),
			[]string{"type"}),
		packagesReceived: factory.NewCounterVec(
			counter("packages_received_total", "Total packages read, by package type"),
			[]string{"type"}),
		bytesSent: factory.NewCounter(
			counter("bytes_sent_total", "Total bytes written to the transport")),
		bytesReceived: factory.NewCounter(
			counter("bytes_received_total", "Total bytes read from the transport")),
		handshakeDuration: factory.NewHistogram(
			histogram("handshake_duration_seconds", "Time from connect to a working session")),
		handshakeFailures: factory.NewCounter(
			counter("handshake_failures_total", "Total handshakes that did not reach a working session")),
		heartbeatTimeouts: factory.NewCounter(
			counter("heartbeat_timeouts_total", "Total connections closed by heartbeat timeout")),
		kicks: factory.NewCounter(
			counter("kicks_total", "Total connections closed by a server kick")),
		codecErrors: factory.NewCounterVec(
			counter("codec_errors_total", "Total message encode and decode failures, by error code"),
			[]string{"code"}),
		requestDuration: factory.NewHistogramVec(
			histogram("request_duration_seconds", "Request round-trip duration in seconds"),
			[]string{"route"}),
		requestErrors: factory.NewCounterVec(
			counter("request_errors_total", "Total failed requests, by route and error code"),
			[]string{"route", "code"}),
		pendingRequests: factory.NewGauge(
			gauge("pending_requests", "Requests awaiting a response")),
		activeConnections: factory.NewGauge(
			gauge("active_connections", "Connections in the working state")),
	}
}

// PackageSent records one outbound package of n wire bytes.
func (m *Metrics) PackageSent(t protocol.PackageType, n int) {
	if m == nil {
		return
	}
	m.packagesSent.WithLabelValues(t.String()).Inc()
	m.bytesSent.Add(float64(n))
}

// PackageReceived records one inbound package.
func (m *Metrics) PackageReceived(t protocol.PackageType) {
	if m == nil {
		return
	}
	m.packagesReceived.WithLabelValues(t.String()).Inc()
}

// BytesReceived records n inbound wire bytes.
func (m *Metrics) BytesReceived(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(float64(n))
}

// HandshakeCompleted records a successful handshake.
func (m *Metrics) HandshakeCompleted(d time.Duration) {
	if m == nil {
		return
	}
	m.handshakeDuration.Observe(d.Seconds())
}

// HandshakeFailed records a handshake that never reached working.
func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.handshakeFailures.Inc()
}

// HeartbeatTimeout records a heartbeat timeout.
func (m *Metrics) HeartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}

// Kicked records a server kick.
func (m *Metrics) Kicked() {
	if m == nil {
		return
	}
	m.kicks.Inc()
}

// CodecError records a codec failure labelled by its protocol error code.
func (m *Metrics) CodecError(err error) {
	if m == nil {
		return
	}
	m.codecErrors.WithLabelValues(protocol.CodeOf(err).String()).Inc()
}

// RequestStarted increments the pending request gauge.
func (m *Metrics) RequestStarted() {
	if m == nil {
		return
	}
	m.pendingRequests.Inc()
}

// RequestFinished records a completed request. err is nil on success.
func (m *Metrics) RequestFinished(route string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.pendingRequests.Dec()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
	if err != nil {
		m.requestErrors.WithLabelValues(route, errorLabel(err)).Inc()
	}
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "DeadlineExceeded"
	case errors.Is(err, context.Canceled):
		return "Canceled"
	}
	return protocol.CodeOf(err).String()
}
