package monitoring

import (
	"eventcast/internal/core/domain"
	"eventcast/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements ports.AudioMetrics on top of prometheus
// collectors registered with reg.
type PrometheusCollector struct {
	// Counters
	chunksTotal        *prometheus.CounterVec
	chunkBytesTotal    prometheus.Counter
	deliveriesTotal    prometheus.Counter
	dropsTotal         *prometheus.CounterVec
	joinsDeniedTotal   *prometheus.CounterVec
	recordingErrors    *prometheus.CounterVec
	recordingsFinished prometheus.Counter

	// Gauges
	listeners        *prometheus.GaugeVec
	liveStreams      prometheus.Gauge
	activeRecordings prometheus.Gauge

	// Histograms
	fanoutRecipients  prometheus.Histogram
	recordingDuration prometheus.Histogram

	reg prometheus.Registerer
}

var _ ports.AudioMetrics = (*PrometheusCollector)(nil)

func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		chunksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcast_audio_chunks_total",
			Help: "Total number of audio chunks accepted from broadcasters",
		}, []string{"event_id"}),

		chunkBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventcast_audio_chunk_bytes_total",
			Help: "Total PCM bytes accepted from broadcasters",
		}),

		deliveriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventcast_chunk_deliveries_total",
			Help: "Total number of chunk copies enqueued to listeners",
		}),

		dropsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcast_chunk_drops_total",
			Help: "Chunk copies that could not be enqueued to a listener",
		}, []string{"event_id"}),

		joinsDeniedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcast_listener_joins_denied_total",
			Help: "Listener joins rejected by authorization",
		}, []string{"event_id"}),

		recordingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcast_recording_errors_total",
			Help: "Recording file errors by operation",
		}, []string{"operation"}),

		recordingsFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventcast_recordings_finished_total",
			Help: "Total number of finalized recordings",
		}),

		listeners: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventcast_listeners",
			Help: "Connected listeners per event",
		}, []string{"event_id"}),

		liveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventcast_live_streams",
			Help: "Events with a live broadcaster",
		}),

		activeRecordings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "eventcast_active_recordings",
			Help: "Recordings currently being written",
		}),

		fanoutRecipients: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventcast_fanout_recipients",
			Help:    "Number of listeners a chunk was fanned out to",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		recordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventcast_recording_duration_seconds",
			Help:    "Duration of finalized recordings",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}),

		reg: reg,
	}
}

// RegisterConnectionGauge exposes the live websocket connection count.
func (p *PrometheusCollector) RegisterConnectionGauge(count func() int) error {
	return p.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "eventcast_connections",
		Help: "Open websocket connections",
	}, func() float64 { return float64(count()) }))
}

func (p *PrometheusCollector) RecordChunk(eventID domain.EventID, bytes int, result domain.FanoutResult) {
	p.chunksTotal.WithLabelValues(string(eventID)).Inc()
	p.chunkBytesTotal.Add(float64(bytes))
	p.deliveriesTotal.Add(float64(result.Delivered))
	if failed := len(result.Failed); failed > 0 {
		p.dropsTotal.WithLabelValues(string(eventID)).Add(float64(failed))
	}
	p.fanoutRecipients.Observe(float64(result.Recipients))
}

func (p *PrometheusCollector) RecordListeners(eventID domain.EventID, count int) {
	if count == 0 {
		p.listeners.DeleteLabelValues(string(eventID))
		return
	}
	p.listeners.WithLabelValues(string(eventID)).Set(float64(count))
}

func (p *PrometheusCollector) RecordJoinDenied(eventID domain.EventID) {
	p.joinsDeniedTotal.WithLabelValues(string(eventID)).Inc()
}

func (p *PrometheusCollector) RecordStreamStarted(eventID domain.EventID) {
	p.liveStreams.Inc()
}

func (p *PrometheusCollector) RecordStreamEnded(eventID domain.EventID) {
	p.liveStreams.Dec()

	// per-event series of finished streams are dropped
	p.chunksTotal.DeleteLabelValues(string(eventID))
	p.dropsTotal.DeleteLabelValues(string(eventID))
}

func (p *PrometheusCollector) RecordRecordingStarted(eventID domain.EventID) {
	p.activeRecordings.Inc()
}

func (p *PrometheusCollector) RecordRecordingStopped(eventID domain.EventID, durationSeconds int) {
	p.activeRecordings.Dec()
	p.recordingsFinished.Inc()
	p.recordingDuration.Observe(float64(durationSeconds))
}

func (p *PrometheusCollector) RecordRecordingError(eventID domain.EventID, operation string) {
	p.recordingErrors.WithLabelValues(operation).Inc()
}
