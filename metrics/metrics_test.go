package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsPhasesAndRuns(t *testing.T) {
	m := New()

	m.ObservePhase("cpu_pca", PhaseFit, 120*time.Millisecond)
	m.ObservePhase("cpu_pca", PhaseTransform, 30*time.Millisecond)
	m.RunFinished("cpu_pca", nil)
	m.RunFinished("cpu_pca", errors.New("boom"))
	m.SetDatasetBytes("cpu_pca", 1024)

	assert.Equal(t, 2, testutil.CollectAndCount(m.PhaseSeconds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("cpu_pca", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("cpu_pca", "error")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.DatasetBytes.WithLabelValues("cpu_pca")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := New()
	m.ObservePhase("gpu_pca", PhaseTotal, time.Second)

	path := filepath.Join(t.TempDir(), "bench.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pcabench_phase_duration_seconds")
	assert.Contains(t, string(data), `phase="total"`)
}
