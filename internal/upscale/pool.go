package upscale

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"upscalevid/internal/model"
	"upscalevid/internal/progress"
)

// TaskError names one failed frame with its diagnostic.
type TaskError struct {
	Index int
	Err   error
}

// PoolError aggregates every task that failed before the pool drained.
type PoolError struct {
	Failed []TaskError
}

func (e *PoolError) Error() string {
	if len(e.Failed) == 1 {
		f := e.Failed[0]
		return fmt.Sprintf("frame %d: %v", f.Index, f.Err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d frames failed:", len(e.Failed))
	for _, f := range e.Failed {
		fmt.Fprintf(&b, "\n  frame %d: %v", f.Index, f.Err)
	}
	return b.String()
}

// Unwrap exposes the per-task causes to errors.Is/As.
func (e *PoolError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f.Err
	}
	return errs
}

// MakeTasks pairs each extracted frame with its output path. Output names
// mirror input names, so reassembly reads the same zero-padded sequence
// regardless of upscale completion order.
func MakeTasks(frames []string, outDir string) []*model.FrameTask {
	tasks := make([]*model.FrameTask, len(frames))
	for i, f := range frames {
		tasks[i] = &model.FrameTask{
			Index:  i,
			Input:  f,
			Output: filepath.Join(outDir, filepath.Base(f)),
			State:  model.TaskPending,
		}
	}
	return tasks
}

// Pool fans FrameTasks across a bounded set of workers.
type Pool struct {
	Engine   *Engine
	Workers  int // values < 1 clamp to 1
	Reporter progress.Reporter
	JobID    string
}

// Run executes every task, at most Workers at a time, and owns task state
// until each task is terminal. The first failure stops dispatch of new
// tasks while already-running frames drain to completion (fail-fast with
// drain); Run then reports every failed index. Cancelling ctx kills
// in-flight engine processes, marks their tasks failed and leaves the
// rest pending.
func (p *Pool) Run(ctx context.Context, tasks []*model.FrameTask) error {
	total := len(tasks)
	if total == 0 {
		return nil
	}
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	var (
		mu     sync.Mutex
		done   int
		failed []TaskError
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	taskCh := make(chan *model.FrameTask)

	g.Go(func() error {
		defer close(taskCh)
		for _, t := range tasks {
			if gctx.Err() != nil {
				return nil
			}
			select {
			case taskCh <- t:
			case <-gctx.Done():
				// A worker failed or the job was cancelled: stop
				// handing out work, let in-flight frames drain.
				return nil
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for t := range taskCh {
				// The dispatcher's send can commit even after gctx is
				// cancelled when both of its select cases are ready at
				// once. Drop such a task and leave it pending instead
				// of starting the engine on it.
				if gctx.Err() != nil {
					return nil
				}
				mu.Lock()
				t.State = model.TaskRunning
				mu.Unlock()

				// The engine runs under the caller's ctx, not gctx: a
				// sibling's failure must not kill an in-flight frame,
				// only cancellation of the job may.
				err := p.Engine.UpscaleFrame(ctx, t.Input, t.Output)

				mu.Lock()
				if err != nil {
					t.State = model.TaskFailed
					t.Err = err
					failed = append(failed, TaskError{Index: t.Index, Err: err})
					mu.Unlock()
					return err
				}
				t.State = model.TaskDone
				done++
				n := done
				mu.Unlock()

				p.report(n, total, start)
			}
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("upscaling interrupted: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool { return failed[i].Index < failed[j].Index })
		return &PoolError{Failed: failed}
	}
	return nil
}

func (p *Pool) report(done, total int, start time.Time) {
	if p.Reporter == nil {
		return
	}
	var etaPtr *time.Duration
	if done > 0 && done < total {
		elapsed := time.Since(start)
		eta := time.Duration(float64(elapsed) / float64(done) * float64(total-done))
		etaPtr = &eta
	}
	p.Reporter.Update(progress.Update{
		JobID:   p.JobID,
		Stage:   progress.StageUpscaling,
		Percent: float64(done) / float64(total) * 100,
		ETA:     etaPtr,
		Message: fmt.Sprintf("Upscaled %d/%d frames", done, total),
	})
}
