package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stage names used as the stage label
const (
	StageExtract     = "extract"
	StageBundle      = "bundle"
	StageDeps        = "deps"
	StageFingerprint = "fingerprint"
	StageArchive     = "archive"
	StageLayer       = "layer"
	StageTotal       = "total"
)

// BuildMetrics holds the metrics of one fluxpack build on its own registry
type BuildMetrics struct {
	registry *prometheus.Registry

	targetsTotal    *prometheus.CounterVec
	bundleBytes     *prometheus.HistogramVec
	archiveBytes    *prometheus.GaugeVec
	stageDuration   *prometheus.HistogramVec
	layerCacheTotal *prometheus.CounterVec
	buildTimestamp  prometheus.Gauge
}

// NewBuildMetrics creates and registers all build metrics
func NewBuildMetrics() *BuildMetrics {
	reg := prometheus.NewRegistry()
	m := &BuildMetrics{
		registry: reg,
		targetsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_targets_total",
				Help: "Total number of function targets processed",
			},
			[]string{"kind", "status"},
		),
		bundleBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxpack_bundle_size_bytes",
				Help:    "Size of bundled function code in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
			[]string{"kind"},
		),
		archiveBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fluxpack_archive_size_bytes",
				Help: "Size of each written archive in bytes",
			},
			[]string{"artifact"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxpack_stage_duration_seconds",
				Help:    "Duration of pipeline stages in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		layerCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxpack_layer_cache_total",
				Help: "Layer cache lookups by result",
			},
			[]string{"result"},
		),
		buildTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxpack_last_build_timestamp_seconds",
				Help: "Unix time the build finished",
			},
		),
	}

	reg.MustRegister(
		m.targetsTotal,
		m.bundleBytes,
		m.archiveBytes,
		m.stageDuration,
		m.layerCacheTotal,
		m.buildTimestamp,
	)
	return m
}

// Registry returns the registry holding the build metrics
func (m *BuildMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTarget counts a processed target
func (m *BuildMetrics) RecordTarget(kind string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.targetsTotal.WithLabelValues(kind, status).Inc()
}

// RecordBundle observes the size of a bundled module
func (m *BuildMetrics) RecordBundle(kind string, size int) {
	if m == nil {
		return
	}
	m.bundleBytes.WithLabelValues(kind).Observe(float64(size))
}

// RecordArchive sets the size of a written archive
func (m *BuildMetrics) RecordArchive(artifact string, size int) {
	if m == nil {
		return
	}
	m.archiveBytes.WithLabelValues(artifact).Set(float64(size))
}

// ObserveStage records how long a stage took
func (m *BuildMetrics) ObserveStage(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordLayerCache counts a layer cache lookup
func (m *BuildMetrics) RecordLayerCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.layerCacheTotal.WithLabelValues(result).Inc()
}

// MarkFinished stamps the build completion time
func (m *BuildMetrics) MarkFinished(t time.Time) {
	if m == nil {
		return
	}
	m.buildTimestamp.Set(float64(t.Unix()))
}

// WriteTextfile writes every metric in the text exposition format, atomically replacing path
func (m *BuildMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
