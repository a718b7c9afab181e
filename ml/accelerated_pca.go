package ml

import (
	"context"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/inference-sim/pcabench/engine"
)

// AcceleratedPCA is the device-bound estimator. Fit runs one worker per
// partition after repartitioning to NumWorkers; a worker uses the device the
// session assigned to its task.
type AcceleratedPCA struct {
	params
	numWorkers int
}

// NewAcceleratedPCA returns an AcceleratedPCA using numWorkers workers.
func NewAcceleratedPCA(numWorkers int) *AcceleratedPCA {
	return &AcceleratedPCA{params: defaultParams(), numWorkers: numWorkers}
}

// SetInputCol sets the column read by Fit and Transform.
func (p *AcceleratedPCA) SetInputCol(col string) *AcceleratedPCA { p.inputCol = col; return p }

// SetOutputCol sets the column written by Transform.
func (p *AcceleratedPCA) SetOutputCol(col string) *AcceleratedPCA { p.outputCol = col; return p }

// SetK sets the number of principal components.
func (p *AcceleratedPCA) SetK(k int) *AcceleratedPCA { p.k = k; return p }

// NumWorkers returns the configured worker count.
func (p *AcceleratedPCA) NumWorkers() int { return p.numWorkers }

// Fit computes the top-k principal components of the mean-centred frame.
func (p *AcceleratedPCA) Fit(ctx context.Context, f *engine.Frame) (*AcceleratedPCAModel, error) {
	if err := p.validate(f); err != nil {
		return nil, err
	}
	if p.numWorkers <= 0 {
		return nil, fmt.Errorf("num_workers must be positive, got %d", p.numWorkers)
	}
	if f.NumPartitions() != p.numWorkers {
		logrus.Infof("repartitioning input from %d to %d partitions to match workers", f.NumPartitions(), p.numWorkers)
		var err error
		if f, err = f.Repartition(ctx, p.numWorkers); err != nil {
			return nil, err
		}
	}

	parts, err := engine.RunJob(ctx, f, func(tc engine.TaskContext, rows []engine.Row) (*gramStats, error) {
		if dev, ok := tc.GPU(); ok {
			logrus.Debugf("worker %d bound to device %s (%d rows)", tc.PartitionID, dev, len(rows))
		} else {
			logrus.Debugf("worker %d has no device assigned (%d rows)", tc.PartitionID, len(rows))
		}
		st, err := partitionStats(rows)
		if st == nil || err != nil {
			return nil, err
		}
		if err := st.addBlock(rows); err != nil {
			return nil, err
		}
		return st, nil
	})
	if err != nil {
		return nil, fmt.Errorf("accelerated pca fit: %w", err)
	}
	total, err := reduceStats(parts)
	if err != nil {
		return nil, err
	}
	dim := total.dim()
	if p.k > dim {
		return nil, fmt.Errorf("k=%d exceeds input dimension %d", p.k, dim)
	}
	cov, err := total.covariance()
	if err != nil {
		return nil, err
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(cov, true); !ok {
		return nil, fmt.Errorf("accelerated pca fit: eigendecomposition of %dx%d covariance failed", dim, dim)
	}
	values := eig.Values(nil) // ascending
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	totalVar := 0.0
	for _, v := range values {
		totalVar += math.Max(v, 0)
	}

	n := float64(total.n)
	pc := mat.NewDense(dim, p.k, nil)
	variance := make([]float64, p.k)
	ratio := make([]float64, p.k)
	singular := make([]float64, p.k)
	for c := 0; c < p.k; c++ {
		src := dim - 1 - c
		ev := math.Max(values[src], 0)
		variance[c] = ev
		if totalVar > 0 {
			ratio[c] = ev / totalVar
		}
		singular[c] = math.Sqrt(ev * (n - 1))
		col := mat.Col(nil, src, &vecs)
		flipSign(col)
		pc.SetCol(c, col)
	}

	return &AcceleratedPCAModel{
		params:   p.params,
		mean:     total.mean(),
		pc:       pc,
		variance: variance,
		ratio:    ratio,
		singular: singular,
	}, nil
}

// flipSign makes the entry with the largest magnitude positive so that
// components are deterministic across runs and worker counts.
func flipSign(v []float64) {
	maxIdx := 0
	for i, x := range v {
		if math.Abs(x) > math.Abs(v[maxIdx]) {
			maxIdx = i
		}
	}
	if v[maxIdx] < 0 {
		for i := range v {
			v[i] = -v[i]
		}
	}
}

// AcceleratedPCAModel is a fitted AcceleratedPCA.
type AcceleratedPCAModel struct {
	params
	mean     []float64
	pc       *mat.Dense // dim x k
	variance []float64
	ratio    []float64
	singular []float64
}

// Mean returns the per-column mean of the training rows.
func (m *AcceleratedPCAModel) Mean() []float64 { return append([]float64(nil), m.mean...) }

// Components returns the principal components, one per column.
func (m *AcceleratedPCAModel) Components() *mat.Dense { return mat.DenseCopyOf(m.pc) }

// ExplainedVariance returns each component's share of total variance.
func (m *AcceleratedPCAModel) ExplainedVariance() []float64 {
	return append([]float64(nil), m.ratio...)
}

// Variance returns the variance captured by each component.
func (m *AcceleratedPCAModel) Variance() []float64 { return append([]float64(nil), m.variance...) }

// SingularValues returns the singular values of the centred data matrix.
func (m *AcceleratedPCAModel) SingularValues() []float64 {
	return append([]float64(nil), m.singular...)
}

// K returns the number of components.
func (m *AcceleratedPCAModel) K() int { return m.k }

// Transform projects the mean-centred rows of each partition as one block.
func (m *AcceleratedPCAModel) Transform(_ context.Context, f *engine.Frame) (*engine.Frame, error) {
	if err := m.validate(f); err != nil {
		return nil, err
	}
	dim := len(m.mean)
	return f.MapPartitions(m.outputCol, func(_ engine.TaskContext, rows []engine.Row) ([]engine.Row, error) {
		if len(rows) == 0 {
			return nil, nil
		}
		block := mat.NewDense(len(rows), dim, nil)
		for i, x := range rows {
			if len(x) != dim {
				return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(x), dim)
			}
			for j, v := range x {
				block.Set(i, j, v-m.mean[j])
			}
		}
		var proj mat.Dense
		proj.Mul(block, m.pc)
		out := make([]engine.Row, len(rows))
		for i := range out {
			out[i] = mat.Row(nil, i, &proj)
		}
		return out, nil
	}), nil
}
