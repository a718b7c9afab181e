package engine

import (
	"context"
	"fmt"
	"sync"
)

// Row is one vector of a Frame's column.
type Row = []float64

// PartitionFunc transforms the rows of one partition.
type PartitionFunc func(tc TaskContext, rows []Row) ([]Row, error)

// Frame is a lazily evaluated, partitioned collection of vectors held in a
// single named column. Partitions are computed by jobs (Count, Collect,
// RunJob); a cached Frame keeps computed partitions for later jobs.
type Frame struct {
	session  *Session
	column   string
	numParts int

	source [][]Row // set on frames created by Parallelize
	parent *Frame
	fn     PartitionFunc

	cache *partitionCache
}

type partitionCache struct {
	mu    sync.Mutex
	parts map[int][]Row
}

// Parallelize splits rows into numPartitions contiguous slices of near-equal
// size and returns them as a Frame with the given column name.
func (s *Session) Parallelize(rows []Row, numPartitions int, column string) (*Frame, error) {
	if numPartitions <= 0 {
		return nil, fmt.Errorf("numPartitions must be positive, got %d", numPartitions)
	}
	if s.stopped.Load() {
		return nil, ErrSessionStopped
	}
	parts := make([][]Row, numPartitions)
	n := len(rows)
	for i := range parts {
		start := i * n / numPartitions
		end := (i + 1) * n / numPartitions
		parts[i] = rows[start:end]
	}
	return &Frame{session: s, column: column, numParts: numPartitions, source: parts}, nil
}

// Session returns the session that owns the frame.
func (f *Frame) Session() *Session { return f.session }

// Column returns the name of the frame's vector column.
func (f *Frame) Column() string { return f.column }

// NumPartitions returns the partition count.
func (f *Frame) NumPartitions() int { return f.numParts }

// MapPartitions returns a frame whose partitions are fn applied to f's
// partitions, stored under column.
func (f *Frame) MapPartitions(column string, fn PartitionFunc) *Frame {
	return &Frame{session: f.session, column: column, numParts: f.numParts, parent: f, fn: fn}
}

// Select renames the column without touching rows.
func (f *Frame) Select(column string) *Frame {
	return f.MapPartitions(column, func(_ TaskContext, rows []Row) ([]Row, error) {
		return rows, nil
	})
}

// Cache marks the frame so that computed partitions are kept. It returns f.
func (f *Frame) Cache() *Frame {
	if f.cache == nil {
		f.cache = &partitionCache{parts: make(map[int][]Row)}
	}
	return f
}

// Unpersist drops cached partitions.
func (f *Frame) Unpersist() {
	f.cache = nil
}

func (f *Frame) compute(tc TaskContext, p int) ([]Row, error) {
	c := f.cache
	if c != nil {
		c.mu.Lock()
		rows, ok := c.parts[p]
		c.mu.Unlock()
		if ok {
			return rows, nil
		}
	}

	var rows []Row
	if f.source != nil {
		rows = f.source[p]
	} else {
		in, err := f.parent.compute(tc, p)
		if err != nil {
			return nil, err
		}
		rows, err = f.fn(tc, in)
		if err != nil {
			return nil, err
		}
	}

	if c != nil {
		c.mu.Lock()
		c.parts[p] = rows
		c.mu.Unlock()
	}
	return rows, nil
}

// RunJob computes every partition of f and applies fn to each, returning the
// results in partition order.
func RunJob[R any](ctx context.Context, f *Frame, fn func(tc TaskContext, rows []Row) (R, error)) ([]R, error) {
	results := make([]R, f.numParts)
	err := f.session.runStage(ctx, f.numParts, func(ctx context.Context, tc TaskContext) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := f.compute(tc, tc.PartitionID)
		if err != nil {
			return err
		}
		r, err := fn(tc, rows)
		if err != nil {
			return err
		}
		results[tc.PartitionID] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Count returns the number of rows, computing every partition.
func (f *Frame) Count(ctx context.Context) (int, error) {
	counts, err := RunJob(ctx, f, func(_ TaskContext, rows []Row) (int, error) {
		return len(rows), nil
	})
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	return total, nil
}

// Collect returns all rows in partition order.
func (f *Frame) Collect(ctx context.Context) ([]Row, error) {
	parts, err := RunJob(ctx, f, func(_ TaskContext, rows []Row) ([]Row, error) {
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// Repartition collects f and redistributes its rows over n partitions.
// It returns f unchanged when it already has n partitions.
func (f *Frame) Repartition(ctx context.Context, n int) (*Frame, error) {
	if n == f.numParts {
		return f, nil
	}
	rows, err := f.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("repartitioning to %d: %w", n, err)
	}
	return f.session.Parallelize(rows, n, f.column)
}
