package observability

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMetrics_Counters(t *testing.T) {
	m := NewBuildMetrics()

	m.RecordTarget("http", nil)
	m.RecordTarget("http", nil)
	m.RecordTarget("queue", errors.New("bundle failed"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.targetsTotal.WithLabelValues("http", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.targetsTotal.WithLabelValues("queue", "error")))

	m.RecordLayerCache(true)
	m.RecordLayerCache(false)
	m.RecordLayerCache(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.layerCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.layerCacheTotal.WithLabelValues("miss")))

	m.RecordArchive("layer", 2048)
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.archiveBytes.WithLabelValues("layer")))

	m.MarkFinished(time.Unix(1700000000, 0))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.buildTimestamp))
}

func TestBuildMetrics_Histograms(t *testing.T) {
	m := NewBuildMetrics()
	m.RecordBundle("http", 4096)
	m.ObserveStage(StageBundle, 150*time.Millisecond)
	m.ObserveStage(StageDeps, 20*time.Millisecond)

	assert.Equal(t, 2, testutil.CollectAndCount(m.stageDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.bundleBytes))
}

func TestBuildMetrics_NilIsNoop(t *testing.T) {
	var m *BuildMetrics
	assert.NotPanics(t, func() {
		m.RecordTarget("http", nil)
		m.RecordBundle("http", 1)
		m.RecordArchive("layer", 1)
		m.ObserveStage(StageLayer, time.Second)
		m.RecordLayerCache(true)
		m.MarkFinished(time.Now())
	})
}

func TestBuildMetrics_RegistriesAreIndependent(t *testing.T) {
	a := NewBuildMetrics()
	b := NewBuildMetrics()
	a.RecordTarget("http", nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.targetsTotal.WithLabelValues("http", "success")))
}

func TestBuildMetrics_WriteTextfile(t *testing.T) {
	m := NewBuildMetrics()
	m.RecordTarget("site", nil)
	m.RecordLayerCache(false)

	path := filepath.Join(t.TempDir(), "fluxpack.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `fluxpack_targets_total{kind="site",status="success"} 1`)
	assert.Contains(t, text, `fluxpack_layer_cache_total{result="miss"} 1`)
	assert.True(t, strings.Contains(text, "# HELP fluxpack_targets_total"))

	err = m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}
