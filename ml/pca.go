// Package ml provides distributed PCA estimators over engine frames.
//
// PCA is the CPU estimator: rows are folded into the Gram matrix one at a
// time, and components come from an SVD of the covariance. AcceleratedPCA
// binds one worker per device, folds each worker's partition as a dense
// block, and eigendecomposes the mean-centred covariance.
package ml

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/inference-sim/pcabench/engine"
)

// ErrEmptyFrame is returned when fitting a frame without rows.
var ErrEmptyFrame = errors.New("cannot fit PCA on an empty frame")

// Params shared by both estimators.
type params struct {
	inputCol  string
	outputCol string
	k         int
}

func defaultParams() params {
	return params{inputCol: "features", outputCol: "pca_features", k: 1}
}

func (p params) validate(f *engine.Frame) error {
	if p.k <= 0 {
		return fmt.Errorf("k must be positive, got %d", p.k)
	}
	if f.Column() != p.inputCol {
		return fmt.Errorf("input column %q not found; frame has %q", p.inputCol, f.Column())
	}
	return nil
}

// PCA is the CPU estimator.
type PCA struct {
	params
}

// NewPCA returns a PCA with input column "features", output column
// "pca_features" and k = 1.
func NewPCA() *PCA {
	return &PCA{params: defaultParams()}
}

// SetInputCol sets the column read by Fit and Transform.
func (p *PCA) SetInputCol(col string) *PCA { p.inputCol = col; return p }

// SetOutputCol sets the column written by Transform.
func (p *PCA) SetOutputCol(col string) *PCA { p.outputCol = col; return p }

// SetK sets the number of principal components.
func (p *PCA) SetK(k int) *PCA { p.k = k; return p }

// Fit computes the top-k principal components of the frame.
func (p *PCA) Fit(ctx context.Context, f *engine.Frame) (*PCAModel, error) {
	if err := p.validate(f); err != nil {
		return nil, err
	}
	parts, err := engine.RunJob(ctx, f, func(_ engine.TaskContext, rows []engine.Row) (*gramStats, error) {
		st, err := partitionStats(rows)
		if st == nil || err != nil {
			return nil, err
		}
		for _, x := range rows {
			if err := st.addRow(x); err != nil {
				return nil, err
			}
		}
		return st, nil
	})
	if err != nil {
		return nil, fmt.Errorf("pca fit: %w", err)
	}
	total, err := reduceStats(parts)
	if err != nil {
		return nil, err
	}
	if p.k > total.dim() {
		return nil, fmt.Errorf("k=%d exceeds input dimension %d", p.k, total.dim())
	}
	cov, err := total.covariance()
	if err != nil {
		return nil, err
	}

	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDThin); !ok {
		return nil, fmt.Errorf("pca fit: SVD of %dx%d covariance did not converge", total.dim(), total.dim())
	}
	var u mat.Dense
	svd.UTo(&u)
	s := svd.Values(nil)

	sum := 0.0
	for _, v := range s {
		sum += v
	}
	explained := make([]float64, p.k)
	for i := range explained {
		if sum > 0 {
			explained[i] = s[i] / sum
		}
	}

	pc := mat.DenseCopyOf(u.Slice(0, total.dim(), 0, p.k))
	return &PCAModel{params: p.params, pc: pc, explained: explained}, nil
}

// PCAModel is a fitted CPU PCA.
type PCAModel struct {
	params
	pc        *mat.Dense // dim x k, one component per column
	explained []float64
}

// Components returns the principal components, one per column.
func (m *PCAModel) Components() *mat.Dense { return mat.DenseCopyOf(m.pc) }

// ExplainedVariance returns each component's share of total variance.
func (m *PCAModel) ExplainedVariance() []float64 {
	return append([]float64(nil), m.explained...)
}

// K returns the number of components.
func (m *PCAModel) K() int { return m.k }

// Transform projects each row onto the components. Rows are not centred.
func (m *PCAModel) Transform(_ context.Context, f *engine.Frame) (*engine.Frame, error) {
	if err := m.validate(f); err != nil {
		return nil, err
	}
	dim, _ := m.pc.Dims()
	return f.MapPartitions(m.outputCol, func(_ engine.TaskContext, rows []engine.Row) ([]engine.Row, error) {
		out := make([]engine.Row, len(rows))
		for i, x := range rows {
			if len(x) != dim {
				return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(x), dim)
			}
			var y mat.VecDense
			y.MulVec(m.pc.T(), mat.NewVecDense(dim, x))
			out[i] = y.RawVector().Data
		}
		return out, nil
	}), nil
}
