package bench

import (
	"github.com/inference-sim/pcabench/engine"
	"golang.org/x/sync/errgroup"
)

// GenerateRows returns numVecs rows of dim values drawn uniformly from [0, 1).
// Rows are generated in numPartitions contiguous ranges, each from its own
// RNG, using the same split as engine.Session.Parallelize. For float32 every
// value is rounded to float32 precision, which can round up to 1.
func GenerateRows(key RunKey, numVecs, dim, numPartitions int, dtype string) []engine.Row {
	rows := make([]engine.Row, numVecs)
	rng := NewPartitionedRNG(key)

	var g errgroup.Group
	for p := 0; p < numPartitions; p++ {
		start := p * numVecs / numPartitions
		end := (p + 1) * numVecs / numPartitions
		prng := rng.ForSubsystem(SubsystemPartition(p))
		g.Go(func() error {
			for i := start; i < end; i++ {
				row := make([]float64, dim)
				for j := range row {
					v := prng.Float64()
					if dtype == DTypeFloat32 {
						v = float64(float32(v))
					}
					row[j] = v
				}
				rows[i] = row
			}
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

// DatasetBytes returns the in-memory size of the dataset for dtype.
func DatasetBytes(numVecs, dim int, dtype string) int64 {
	width := int64(8)
	if dtype == DTypeFloat32 {
		width = 4
	}
	return int64(numVecs) * int64(dim) * width
}
