package engine

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// TaskContext describes the task a partition function runs in.
type TaskContext struct {
	SessionID   string
	StageID     int64
	PartitionID int
	Attempt     int    // 0 for the first attempt
	GPUAddress  string // "" when the task holds no device
}

// GPU returns the device address assigned to the task.
func (tc TaskContext) GPU() (string, bool) {
	return tc.GPUAddress, tc.GPUAddress != ""
}

type taskFunc func(ctx context.Context, tc TaskContext) error

// runStage runs one task per partition. Concurrency is bounded by the core
// count and, when tasks request devices, by the available device slots.
// Each task is attempted up to maxFailures times before the stage fails.
func (s *Session) runStage(ctx context.Context, numPartitions int, task taskFunc) error {
	if s.stopped.Load() {
		return ErrSessionStopped
	}
	st := s.snapshot()
	stageID := s.stageID.Add(1)

	var slots chan string
	if st.gpuAmount > 0 {
		devs := s.Devices()
		perDevice := slotsPerDevice(st, numPartitions)
		slots = make(chan string, len(devs)*perDevice)
		for i := 0; i < perDevice; i++ {
			for _, d := range devs {
				slots <- d
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(st.cores)
	for p := 0; p < numPartitions; p++ {
		p := p
		g.Go(func() error {
			tc := TaskContext{SessionID: s.id, StageID: stageID, PartitionID: p}
			if slots != nil {
				select {
				case addr := <-slots:
					tc.GPUAddress = addr
					defer func() { slots <- addr }()
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return s.runWithRetries(gctx, tc, st.maxFailures, task)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("stage %d: %w", stageID, err)
	}
	return nil
}

// slotsPerDevice caps device sharing at what one stage can use: no more
// slots per device than tasks or cores.
func slotsPerDevice(st settings, numPartitions int) int {
	return max(min(st.tasksPerDevice, numPartitions, st.cores), 1)
}

func (s *Session) runWithRetries(ctx context.Context, tc TaskContext, maxFailures int, task taskFunc) error {
	var lastErr error
	for attempt := 0; attempt < maxFailures; attempt++ {
		if s.stopped.Load() {
			return ErrSessionStopped
		}
		tc.Attempt = attempt
		lastErr = runTask(ctx, tc, task)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logrus.Warnf("lost task %d.%d in stage %d: %v", tc.PartitionID, attempt, tc.StageID, lastErr)
	}
	return fmt.Errorf("task %d failed %d times, most recent failure: %w", tc.PartitionID, maxFailures, lastErr)
}

// runTask turns a panicking partition function into a task failure.
func runTask(ctx context.Context, tc TaskContext, task taskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Debugf("task %d panic stack:\n%s", tc.PartitionID, debug.Stack())
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx, tc)
}
