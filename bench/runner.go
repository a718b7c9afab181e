package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pcabench/devices"
	"github.com/inference-sim/pcabench/engine"
	"github.com/inference-sim/pcabench/metrics"
	"github.com/inference-sim/pcabench/ml"
)

// Column names used by the benchmark frames.
const (
	InputCol  = "features"
	OutputCol = "pca_features"
)

// Runner executes benchmark runs for one Config.
type Runner struct {
	cfg        *Config
	metrics    *metrics.Metrics
	discoverer devices.Discoverer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithMetrics records phase timings into m.
func WithMetrics(m *metrics.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithDiscoverer overrides device discovery for the sessions the runner creates.
func WithDiscoverer(d devices.Discoverer) RunnerOption {
	return func(r *Runner) { r.discoverer = d }
}

// NewRunner validates cfg and returns a Runner for it.
func NewRunner(cfg *Config, opts ...RunnerOption) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid benchmark config: %w", err)
	}
	r := &Runner{cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes cfg.NumRuns runs and returns all rows. onRun, when non-nil, is
// called with each run's report as soon as the run finishes.
func (r *Runner) Run(ctx context.Context, onRun func(runID int, rep *Report)) (*Report, error) {
	all := &Report{}
	for runID := 0; runID < r.cfg.NumRuns; runID++ {
		rep, err := r.RunOnce(ctx, runID)
		if err != nil {
			return all, fmt.Errorf("run %d: %w", runID, err)
		}
		if onRun != nil {
			onRun(runID, rep)
		}
		all.Merge(rep)
	}
	return all, nil
}

// Session returns the engine session for the configured overrides, creating
// it when none is active.
func (r *Runner) Session(ctx context.Context) (*engine.Session, error) {
	b := engine.NewBuilder()
	for _, p := range r.cfg.EngineConfs {
		b.Config(p.Key, p.Value)
	}
	if r.discoverer != nil {
		b.Discoverer(r.discoverer)
	}
	return b.GetOrCreate(ctx)
}

// RunOnce executes a single run in the active mode and returns its report.
func (r *Runner) RunOnce(ctx context.Context, runID int) (rep *Report, err error) {
	cfg := r.cfg
	mode := cfg.Mode()
	defer func() {
		if r.metrics != nil {
			r.metrics.RunFinished(mode, err)
		}
	}()

	start := time.Now()
	row := NewRow(cfg, runID)

	sess, err := r.Session(ctx)
	if err != nil {
		return nil, err
	}

	phaseStart := time.Now()
	df, err := r.prepareFrame(ctx, sess, runID)
	if err != nil {
		return nil, fmt.Errorf("generating dataset: %w", err)
	}
	row.GenDataset = r.observe(mode, metrics.PhaseGenDataset, phaseStart)
	logrus.Infof("gen_dataset of %d partitions took: %.6f sec", cfg.Partitions(), row.GenDataset)

	kind := "cpu"
	if mode == ModeGPU {
		kind = "gpu"
	}

	phaseStart = time.Now()
	model, err := r.fit(ctx, df)
	if err != nil {
		return nil, err
	}
	row.Fit = r.observe(mode, metrics.PhaseFit, phaseStart)
	logrus.Infof("%s fit took: %.6f sec", kind, row.Fit)

	phaseStart = time.Now()
	out, err := model.Transform(ctx, df)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	if _, err := out.Count(ctx); err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	row.Transform = r.observe(mode, metrics.PhaseTransform, phaseStart)
	logrus.Infof("%s transform took: %.6f sec", kind, row.Transform)

	row.Total = r.observe(mode, metrics.PhaseTotal, start)
	logrus.Infof("%s total took: %.6f sec", kind, row.Total)

	rep = &Report{}
	rep.Append(row)
	return rep, nil
}

// transformer is the fitted-model contract shared by both estimators.
type transformer interface {
	Transform(ctx context.Context, f *engine.Frame) (*engine.Frame, error)
}

func (r *Runner) fit(ctx context.Context, df *engine.Frame) (transformer, error) {
	cfg := r.cfg
	if cfg.NumGPUs > 0 {
		est := ml.NewAcceleratedPCA(cfg.NumGPUs).
			SetInputCol(InputCol).
			SetOutputCol(OutputCol).
			SetK(cfg.NComponents)
		m, err := est.Fit(ctx, df)
		if err != nil {
			return nil, fmt.Errorf("fit: %w", err)
		}
		return m, nil
	}
	est := ml.NewPCA().
		SetInputCol(InputCol).
		SetOutputCol(OutputCol).
		SetK(cfg.NComponents)
	m, err := est.Fit(ctx, df)
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	return m, nil
}

// prepareFrame generates, caches and materializes the input frame.
func (r *Runner) prepareFrame(ctx context.Context, sess *engine.Session, runID int) (*engine.Frame, error) {
	cfg := r.cfg
	size := DatasetBytes(cfg.NumVecs, cfg.Dim, cfg.DType)
	logrus.Debugf("generating %dx%d %s dataset (%s)", cfg.NumVecs, cfg.Dim, cfg.DType, humanize.Bytes(uint64(size)))
	if r.metrics != nil {
		r.metrics.SetDatasetBytes(cfg.Mode(), size)
	}

	key := NewRunKey(cfg.Seed + int64(runID))
	rows := GenerateRows(key, cfg.NumVecs, cfg.Dim, cfg.Partitions(), cfg.DType)
	df, err := sess.Parallelize(rows, cfg.Partitions(), InputCol)
	if err != nil {
		return nil, err
	}
	if cfg.NumCPUs > 0 {
		// The CPU estimator reads a projected copy of the column, as a
		// separate cached frame.
		df = df.Select(InputCol)
	}
	df.Cache()
	if _, err := df.Count(ctx); err != nil {
		return nil, err
	}
	return df, nil
}

func (r *Runner) observe(mode, phase string, since time.Time) float64 {
	d := time.Since(since)
	if r.metrics != nil {
		r.metrics.ObservePhase(mode, phase, d)
	}
	return d.Seconds()
}
