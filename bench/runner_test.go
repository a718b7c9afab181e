package bench

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/pcabench/engine"
	"github.com/inference-sim/pcabench/metrics"
)

type staticDiscoverer []string

func (d staticDiscoverer) Discover(context.Context) ([]string, error) {
	return d, nil
}

// stopActiveSession isolates tests that create sessions through the runner.
func stopActiveSession(t *testing.T) {
	t.Helper()
	if s := engine.ActiveSession(); s != nil {
		s.Stop()
	}
	t.Cleanup(func() {
		if s := engine.ActiveSession(); s != nil {
			s.Stop()
		}
	})
}

func TestGenerateRows_DeterministicAndInRange(t *testing.T) {
	a := GenerateRows(NewRunKey(7), 25, 4, 3, DTypeFloat64)
	b := GenerateRows(NewRunKey(7), 25, 4, 3, DTypeFloat64)
	c := GenerateRows(NewRunKey(8), 25, 4, 3, DTypeFloat64)

	require.Len(t, a, 25)
	assert.Equal(t, a, b, "same key must generate identical rows")
	assert.NotEqual(t, a, c)
	for _, row := range a {
		require.Len(t, row, 4)
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, 1.0)
		}
	}
}

func TestGenerateRows_Float32Precision(t *testing.T) {
	rows := GenerateRows(NewRunKey(1), 10, 3, 2, DTypeFloat32)
	for _, row := range rows {
		for _, v := range row {
			assert.Equal(t, v, float64(float32(v)))
		}
	}
}

func TestDatasetBytes(t *testing.T) {
	assert.Equal(t, int64(5000*2000*8), DatasetBytes(5000, 2000, DTypeFloat64))
	assert.Equal(t, int64(5000*2000*4), DatasetBytes(5000, 2000, DTypeFloat32))
}

func TestPartitionedRNG_SubsystemsAreCachedAndIsolated(t *testing.T) {
	rng := NewPartitionedRNG(NewRunKey(42))
	assert.Same(t, rng.ForSubsystem("a"), rng.ForSubsystem("a"))
	assert.NotEqual(t,
		NewPartitionedRNG(NewRunKey(42)).ForSubsystem(SubsystemPartition(0)).Int63(),
		NewPartitionedRNG(NewRunKey(42)).ForSubsystem(SubsystemPartition(1)).Int63())
	assert.Equal(t, RunKey(42), rng.Key())
}

func TestNewRunner_RejectsInvalidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.NumGPUs = 1
	_, err := NewRunner(cfg)
	assert.ErrorIs(t, err, ErrModeConflict)
}

func TestRunner_CPUMode_OneRowPerRun(t *testing.T) {
	stopActiveSession(t)

	// GIVEN a CPU-mode config with three runs
	cfg := validConfig()
	cfg.NumRuns = 3
	cfg.EngineConfs = []ConfPair{{"spark.master", "local[2]"}, {"spark.custom.key", "x=y"}}
	m := metrics.New()
	runner, err := NewRunner(cfg, WithMetrics(m))
	require.NoError(t, err)

	// WHEN the benchmark runs
	var seen []int
	rep, err := runner.Run(context.Background(), func(runID int, r *Report) {
		seen = append(seen, runID)
		assert.Equal(t, 1, r.Len())
	})
	require.NoError(t, err)

	// THEN there is exactly one CPU row per run, all fields populated
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Equal(t, 3, rep.Len())
	assert.Equal(t, 3, rep.CountMode(ModeCPU))
	assert.Equal(t, 0, rep.CountMode(ModeGPU))
	for i, row := range rep.Rows() {
		assert.Equal(t, i, row.RunID)
		assert.Greater(t, row.Fit, 0.0)
		assert.Greater(t, row.Transform, 0.0)
		assert.GreaterOrEqual(t, row.Total, row.Fit+row.Transform)
		assert.Equal(t, cfg.NumVecs, row.NumVecs)
		assert.Equal(t, cfg.DType, row.DType)
		assert.Equal(t, "x=y", row.confValue("spark.custom.key"))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(ModeCPU, "ok")))
	assert.Equal(t, float64(DatasetBytes(cfg.NumVecs, cfg.Dim, cfg.DType)),
		testutil.ToFloat64(m.DatasetBytes.WithLabelValues(ModeCPU)))
}

func TestRunner_GPUMode_UsesDiscoveredDevices(t *testing.T) {
	stopActiveSession(t)

	// GIVEN a GPU-mode config whose tasks each need one of two devices
	cfg := validConfig()
	cfg.NumGPUs, cfg.NumCPUs = 2, 0
	cfg.EngineConfs = []ConfPair{
		{engine.KeyMaster, "local[4]"},
		{engine.KeyTaskGPUAmount, "1"},
	}
	runner, err := NewRunner(cfg, WithDiscoverer(staticDiscoverer{"0", "1"}))
	require.NoError(t, err)

	// WHEN the benchmark runs
	rep, err := runner.Run(context.Background(), nil)
	require.NoError(t, err)

	// THEN every run produced a GPU row and the session saw both devices
	assert.Equal(t, cfg.NumRuns, rep.CountMode(ModeGPU))
	assert.Equal(t, 0, rep.CountMode(ModeCPU))
	sess := engine.ActiveSession()
	require.NotNil(t, sess)
	assert.Equal(t, []string{"0", "1"}, sess.Devices())
}

func TestRunner_GPUAmountWithoutDevicesFails(t *testing.T) {
	stopActiveSession(t)

	cfg := validConfig()
	cfg.NumGPUs, cfg.NumCPUs = 1, 0
	cfg.EngineConfs = []ConfPair{{engine.KeyTaskGPUAmount, "1"}}
	m := metrics.New()
	runner, err := NewRunner(cfg, WithMetrics(m))
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), nil)
	assert.ErrorContains(t, err, "requires discovered devices")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(ModeGPU, "error")))
}
