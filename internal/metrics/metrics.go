// Package metrics holds the service-specific Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"formlink/pkg/monitoring"
)

// Metrics contains custom Prometheus metrics for the broker. A nil *Metrics
// is valid and records nothing, which keeps unit tests free of global
// registry collisions.
type Metrics struct {
	ActiveSessions *prometheus.GaugeVec   // role: user|device
	LinkEvents     *prometheus.CounterVec // event name
	OutboxDrops    *prometheus.CounterVec // role
	Videos         *prometheus.CounterVec // status: completed|canceled|failed
	FramesDecoded  *prometheus.CounterVec
	IngestDuration *prometheus.HistogramVec // workout type
}

// New registers the broker metrics on the shared collector.
func New(mc *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		ActiveSessions: mc.NewGauge("sessions_active", "Active WebSocket sessions", []string{"role"}),
		LinkEvents:     mc.NewCounter("link_events_total", "Link manager events processed", []string{"event"}),
		OutboxDrops:    mc.NewCounter("outbox_drops_total", "Session outbox messages dropped on overflow", []string{"role"}),
		Videos:         mc.NewCounter("videos_total", "Video ingestions finished", []string{"status"}),
		FramesDecoded:  mc.NewCounter("frames_decoded_total", "Frames decoded and persisted", nil),
		IngestDuration: mc.NewHistogram("ingest_duration_seconds", "Video finalization duration", []string{"workout_type"}, nil),
	}
}

func (m *Metrics) SessionStarted(role string) {
	if m == nil || m.ActiveSessions == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(role).Inc()
}

func (m *Metrics) SessionEnded(role string) {
	if m == nil || m.ActiveSessions == nil {
		return
	}
	m.ActiveSessions.WithLabelValues(role).Dec()
}

func (m *Metrics) LinkEvent(event string) {
	if m == nil || m.LinkEvents == nil {
		return
	}
	m.LinkEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) OutboxDrop(role string) {
	if m == nil || m.OutboxDrops == nil {
		return
	}
	m.OutboxDrops.WithLabelValues(role).Inc()
}

func (m *Metrics) VideoFinished(status string) {
	if m == nil || m.Videos == nil {
		return
	}
	m.Videos.WithLabelValues(status).Inc()
}

func (m *Metrics) FramesPersisted(n int) {
	if m == nil || m.FramesDecoded == nil {
		return
	}
	m.FramesDecoded.WithLabelValues().Add(float64(n))
}

func (m *Metrics) IngestFinished(workout string, d time.Duration) {
	if m == nil || m.IngestDuration == nil {
		return
	}
	m.IngestDuration.WithLabelValues(workout).Observe(d.Seconds())
}
