package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors for a dictation session
type Metrics struct {
	Registry *prometheus.Registry

	Sessions      *prometheus.CounterVec
	State         prometheus.Gauge
	BufferEvicted prometheus.Counter

	TranscriptionAttempts *prometheus.CounterVec
	TranscriptionDuration *prometheus.HistogramVec

	StreamEvents *prometheus.CounterVec
	FeedbackCues *prometheus.CounterVec
	HookRuns     *prometheus.CounterVec
}

// New registers every collector on a fresh registry, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,

		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govoice_sessions_total",
			Help: "Sessions by outcome",
		}, []string{"outcome"}),
		State: f.NewGauge(prometheus.GaugeOpts{
			Name: "govoice_state",
			Help: "Current controller state (0 idle, 1 capturing, 2 draining, 3 awaiting output, 4 terminated)",
		}),
		BufferEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "govoice_buffer_evicted_samples_total",
			Help: "Samples dropped from the capture buffer to make room for newer audio",
		}),

		TranscriptionAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govoice_transcription_attempts_total",
			Help: "Provider calls by result",
		}, []string{"provider", "result"}),
		TranscriptionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govoice_transcription_duration_seconds",
			Help:    "Duration of a single provider call",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}, []string{"provider"}),

		StreamEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govoice_stream_events_total",
			Help: "Streaming backend events by type",
		}, []string{"type"}),
		FeedbackCues: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govoice_feedback_cues_total",
			Help: "Feedback cues played by kind",
		}, []string{"kind"}),
		HookRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "govoice_hook_runs_total",
			Help: "Profile hook executions by hook and result",
		}, []string{"hook", "result"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordAttempt records one provider call.
func (m *Metrics) RecordAttempt(provider string, err error, took time.Duration) {
	m.TranscriptionAttempts.WithLabelValues(provider, result(err)).Inc()
	m.TranscriptionDuration.WithLabelValues(provider).Observe(took.Seconds())
}

func (m *Metrics) RecordSession(outcome string) {
	m.Sessions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordHook(hook string, err error) {
	m.HookRuns.WithLabelValues(hook, result(err)).Inc()
}
