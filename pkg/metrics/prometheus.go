// Package metrics provides Prometheus metrics for the gazeset pipeline.
//
// The pipeline is a batch job, so nothing is scraped: at the end of a run the
// registry is written to a node-exporter textfile and optionally pushed to a
// Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Label values shared with callers.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"

	ReasonNoFace   = "no_face"
	ReasonCropSize = "crop_size"
	ReasonDecode   = "decode"
)

// Manager owns every pipeline metric.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	participants   *prometheus.CounterVec
	dotIntervals   prometheus.Counter
	framesDecoded  prometheus.Counter
	framesRetained prometheus.Counter
	framesSkipped  *prometheus.CounterVec
	examples       *prometheus.CounterVec
	dropped        prometheus.Counter
	cropSpan       *prometheus.HistogramVec

	stageDuration    *prometheus.HistogramVec
	ffmpegDuration   *prometheus.HistogramVec
	detectorLatency  prometheus.Histogram
	lastRunTimestamp prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by the package-level helpers

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps Go runtime collectors out of the textfile

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "gazeset",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	auto := promauto.With(m.registry)

	m.participants = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "participants_total",
		Help:        "Participants handled per stage and outcome",
		ConstLabels: m.constLabels,
	}, []string{"stage", "outcome"})

	m.dotIntervals = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "dot_intervals_total",
		Help:        "Dot intervals extracted from event logs",
		ConstLabels: m.constLabels,
	})

	m.framesDecoded = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "frames_decoded_total",
		Help:        "Frames decoded from dot subclips",
		ConstLabels: m.constLabels,
	})

	m.framesRetained = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "frames_retained_total",
		Help:        "Frames kept inside the trailing valid window",
		ConstLabels: m.constLabels,
	})

	m.framesSkipped = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "frames_skipped_total",
		Help:        "Frames skipped by the eye normalizer, by reason",
		ConstLabels: m.constLabels,
	}, []string{"reason"})

	m.examples = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "examples_written_total",
		Help:        "Examples serialized into a record container, by split",
		ConstLabels: m.constLabels,
	}, []string{"split"})

	m.dropped = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "examples_dropped_total",
		Help:        "Examples dropped at packaging time because of an unrecognized split",
		ConstLabels: m.constLabels,
	})

	m.cropSpan = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "eye_span_pixels",
		Help:        "Landmark span per eye before padding to the crop size",
		Buckets:     prometheus.LinearBuckets(0, 16, 10),
		ConstLabels: m.constLabels,
	}, []string{"axis"})

	m.stageDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "stage_duration_seconds",
		Help:        "Wall time per stage and participant",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"stage"})

	m.ffmpegDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "ffmpeg_duration_seconds",
		Help:        "Wall time of external video tool invocations",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"op"})

	m.detectorLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "detector_latency_milliseconds",
		Help:        "Landmark detector round-trip latency",
		Buckets:     []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		ConstLabels: m.constLabels,
	})

	m.lastRunTimestamp = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "last_run_timestamp_seconds",
		Help:        "Unix time at which the last run finished",
		ConstLabels: m.constLabels,
	})
}

// RecordParticipant counts a participant outcome for a stage.
func (m *Manager) RecordParticipant(stage, outcome string) {
	if !m.enabled {
		return
	}
	m.participants.WithLabelValues(stage, outcome).Inc()
}

// RecordDotIntervals adds n extracted intervals.
func (m *Manager) RecordDotIntervals(n int) {
	if !m.enabled {
		return
	}
	m.dotIntervals.Add(float64(n))
}

// RecordFrames adds decoded and retained frame counts for one subclip.
func (m *Manager) RecordFrames(decoded, retained int) {
	if !m.enabled {
		return
	}
	m.framesDecoded.Add(float64(decoded))
	m.framesRetained.Add(float64(retained))
}

// RecordFrameSkipped counts a frame skipped for reason.
func (m *Manager) RecordFrameSkipped(reason string) {
	if !m.enabled {
		return
	}
	m.framesSkipped.WithLabelValues(reason).Inc()
}

// RecordExample counts one packaged example.
func (m *Manager) RecordExample(split string) {
	if !m.enabled {
		return
	}
	m.examples.WithLabelValues(split).Inc()
}

// RecordDropped counts one example dropped at packaging.
func (m *Manager) RecordDropped() {
	if !m.enabled {
		return
	}
	m.dropped.Inc()
}

// ObserveEyeSpan records a landmark span for axis "x" or "y".
func (m *Manager) ObserveEyeSpan(axis string, span int) {
	if !m.enabled {
		return
	}
	m.cropSpan.WithLabelValues(axis).Observe(float64(span))
}

// ObserveStage records the duration of a stage.
func (m *Manager) ObserveStage(stage string, d time.Duration) {
	if !m.enabled {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveFFmpeg records the duration of an external video tool call.
func (m *Manager) ObserveFFmpeg(op string, d time.Duration) {
	if !m.enabled {
		return
	}
	m.ffmpegDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveDetector records a detector round trip.
func (m *Manager) ObserveDetector(d time.Duration) {
	if !m.enabled {
		return
	}
	m.detectorLatency.Observe(float64(d.Microseconds()) / 1000)
}

// MarkRunFinished stamps the last-run gauge.
func (m *Manager) MarkRunFinished(t time.Time) {
	if !m.enabled {
		return
	}
	m.lastRunTimestamp.Set(float64(t.Unix()))
}

// Default returns the process-wide manager.
func Default() *Manager { return globalManager }

// Package-level helpers delegate to the global manager.

func RecordParticipant(stage, outcome string)    { globalManager.RecordParticipant(stage, outcome) }
func RecordDotIntervals(n int)                   { globalManager.RecordDotIntervals(n) }
func RecordFrames(decoded, retained int)         { globalManager.RecordFrames(decoded, retained) }
func RecordFrameSkipped(reason string)           { globalManager.RecordFrameSkipped(reason) }
func RecordExample(split string)                 { globalManager.RecordExample(split) }
func RecordDropped()                             { globalManager.RecordDropped() }
func ObserveEyeSpan(axis string, span int)       { globalManager.ObserveEyeSpan(axis, span) }
func ObserveStage(stage string, d time.Duration) { globalManager.ObserveStage(stage, d) }
func ObserveFFmpeg(op string, d time.Duration)   { globalManager.ObserveFFmpeg(op, d) }
func ObserveDetector(d time.Duration)            { globalManager.ObserveDetector(d) }
func MarkRunFinished(t time.Time)                { globalManager.MarkRunFinished(t) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// WriteTextfile writes every metric in g to path in the text exposition
// format understood by the node exporter textfile collector.
func WriteTextfile(g prometheus.Gatherer, path string) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return nil
}

// Push sends every metric in g to a Pushgateway, grouped by job and run id.
func Push(ctx context.Context, g prometheus.Gatherer, url, job, runID string) error {
	p := push.New(url, job).Gatherer(g)
	if runID != "" {
		p = p.Grouping("run_id", runID)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrExportFailed, err)
	}
	return nil
}
