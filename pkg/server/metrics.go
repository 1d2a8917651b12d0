package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's prometheus instrumentation. Each server owns its
// own registry so multiple instances (tests) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions       prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter
	commandsReceived     *prometheus.CounterVec
	linesSent            prometheus.Counter
	broadcastFailures    prometheus.Counter
	fileBytesUploaded    prometheus.Counter
	fileBytesDelivered   prometheus.Counter
	pendingFiles         prometheus.Gauge
}

// NewMetrics creates and registers the server's metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipechat_active_sessions",
			Help: "Number of currently connected sessions",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipechat_sessions_created_total",
			Help: "Total sessions accepted",
		}),
		sessionsDisconnected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipechat_sessions_disconnected_total",
			Help: "Total sessions removed",
		}),
		commandsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipechat_commands_received_total",
			Help: "Commands received, by verb",
		}, []string{"verb"}),
		linesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipechat_lines_sent_total",
			Help: "Text lines written to clients",
		}),
		broadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipechat_broadcast_failures_total",
			Help: "Broadcast writes that failed and evicted a session",
		}),
		fileBytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipechat_file_bytes_uploaded_total",
			Help: "File bytes spooled from senders",
		}),
		fileBytesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipechat_file_bytes_delivered_total",
			Help: "File bytes streamed to receivers",
		}),
		pendingFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipechat_pending_files",
			Help: "Stored files awaiting receiver decisions",
		}),
	}

	registry.MustRegister(
		m.activeSessions,
		m.sessionsCreated,
		m.sessionsDisconnected,
		m.commandsReceived,
		m.linesSent,
		m.broadcastFailures,
		m.fileBytesUploaded,
		m.fileBytesDelivered,
		m.pendingFiles,
	)
	return m
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordActiveSessions(n int)     { m.activeSessions.Set(float64(n)) }
func (m *Metrics) RecordSessionCreated()          { m.sessionsCreated.Inc() }
func (m *Metrics) RecordSessionDisconnected()     { m.sessionsDisconnected.Inc() }
func (m *Metrics) RecordCommand(verb string)      { m.commandsReceived.WithLabelValues(verb).Inc() }
func (m *Metrics) RecordLineSent()                { m.linesSent.Inc() }
func (m *Metrics) RecordBroadcastFailure()        { m.broadcastFailures.Inc() }
func (m *Metrics) RecordFileBytesUploaded(n int)  { m.fileBytesUploaded.Add(float64(n)) }
func (m *Metrics) RecordFileBytesDelivered(n int) { m.fileBytesDelivered.Add(float64(n)) }
func (m *Metrics) RecordPendingFiles(n int)       { m.pendingFiles.Set(float64(n)) }
