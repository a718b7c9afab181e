package ml

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/inference-sim/pcabench/engine"
)

// gramStats holds the sufficient statistics of a set of rows: the count, the
// column sums and the (upper triangle of the) Gram matrix X^T X.
type gramStats struct {
	n    int
	sum  []float64
	gram *mat.SymDense
}

func newGramStats(dim int) *gramStats {
	return &gramStats{
		sum:  make([]float64, dim),
		gram: mat.NewSymDense(dim, nil),
	}
}

// partitionStats returns empty statistics sized for rows, or nil for an
// empty partition.
func partitionStats(rows []engine.Row) (*gramStats, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows[0]) == 0 {
		return nil, fmt.Errorf("rows have no values")
	}
	return newGramStats(len(rows[0])), nil
}

func (g *gramStats) dim() int { return len(g.sum) }

// addRow accumulates one row with a symmetric rank-1 update.
func (g *gramStats) addRow(x []float64) error {
	if len(x) != g.dim() {
		return fmt.Errorf("row has %d values, expected %d", len(x), g.dim())
	}
	for i, v := range x {
		g.sum[i] += v
	}
	blas64.Syr(1, blas64.Vector{N: len(x), Inc: 1, Data: x}, g.gram.RawSymmetric())
	g.n++
	return nil
}

// addBlock accumulates rows as one dense block with a single rank-k update.
func (g *gramStats) addBlock(rows []engine.Row) error {
	if len(rows) == 0 {
		return nil
	}
	dim := g.dim()
	data := make([]float64, 0, len(rows)*dim)
	for i, x := range rows {
		if len(x) != dim {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(x), dim)
		}
		data = append(data, x...)
		for j, v := range x {
			g.sum[j] += v
		}
	}
	a := blas64.General{Rows: len(rows), Cols: dim, Stride: dim, Data: data}
	blas64.Syrk(blas.Trans, 1, a, 1, g.gram.RawSymmetric())
	g.n += len(rows)
	return nil
}

func (g *gramStats) merge(o *gramStats) {
	g.n += o.n
	for i, v := range o.sum {
		g.sum[i] += v
	}
	g.gram.AddSym(g.gram, o.gram)
}

func (g *gramStats) mean() []float64 {
	mu := make([]float64, g.dim())
	for i, v := range g.sum {
		mu[i] = v / float64(g.n)
	}
	return mu
}

// covariance returns the unbiased sample covariance
// (X^T X - n * mu mu^T) / (n - 1).
func (g *gramStats) covariance() (*mat.SymDense, error) {
	if g.n < 2 {
		return nil, fmt.Errorf("covariance needs at least 2 rows, got %d", g.n)
	}
	dim := g.dim()
	mu := g.mean()
	n := float64(g.n)
	cov := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			cov.SetSym(i, j, (g.gram.At(i, j)-n*mu[i]*mu[j])/(n-1))
		}
	}
	return cov, nil
}

// reduceStats merges per-partition statistics; nil entries are empty
// partitions.
func reduceStats(parts []*gramStats) (*gramStats, error) {
	var total *gramStats
	for i, p := range parts {
		if p == nil {
			continue
		}
		if total == nil {
			total = newGramStats(p.dim())
		}
		if p.dim() != total.dim() {
			return nil, fmt.Errorf("partition %d has dimension %d, expected %d", i, p.dim(), total.dim())
		}
		total.merge(p)
	}
	if total == nil {
		return nil, ErrEmptyFrame
	}
	return total, nil
}
