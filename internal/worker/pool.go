// Package worker runs bulk tile jobs (seeding the disk cache, exporting to
// MBTiles) on a bounded pool of goroutines.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/MeKo-Tech/slippymap/internal/geo"
	"github.com/MeKo-Tech/slippymap/internal/tile"
	"golang.org/x/sync/errgroup"
)

// Processor handles a single tile of a bulk job.
type Processor interface {
	Process(ctx context.Context, addr tile.Address) (Outcome, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, addr tile.Address) (Outcome, error)

func (f ProcessorFunc) Process(ctx context.Context, addr tile.Address) (Outcome, error) {
	return f(ctx, addr)
}

// Outcome describes what a Processor did with a tile.
type Outcome struct {
	Bytes   int
	Skipped bool
}

// Task represents a single tile of a job.
type Task struct {
	Addr tile.Address
}

// Result represents the outcome of a task.
type Result struct {
	Task    Task
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

// ProgressFunc is called after each task completes with its result and the
// number of tasks finished so far.
type ProgressFunc func(r Result, completed, total int)

// Config configures the worker pool.
type Config struct {
	Workers    int
	Processor  Processor
	OnProgress ProgressFunc
}

// Pool manages parallel tile processing.
type Pool struct {
	workers    int
	processor  Processor
	onProgress ProgressFunc
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		processor:  cfg.Processor,
		onProgress: cfg.OnProgress,
	}
}

// TasksInBounds returns one task per tile covering b for every zoom level in
// [minZoom, maxZoom].
func TasksInBounds(b geo.Bounds, minZoom, maxZoom int) ([]Task, error) {
	addrs, err := tile.AddressesInBounds(b, minZoom, maxZoom)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiles: %w", err)
	}
	tasks := make([]Task, len(addrs))
	for i, a := range addrs {
		tasks[i] = Task{Addr: a}
	}
	return tasks, nil
}

// Run executes all tasks and returns their results in completion order.
// It blocks until every task finished or was cancelled through ctx.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan Task, p.workers)
	resultCh := make(chan Result, p.workers)

	var g errgroup.Group
	for i := 0; i < p.workers; i++ {
		g.Go(func() error {
			p.worker(ctx, taskCh, resultCh)
			return nil
		})
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make([]Result, 0, len(tasks))
	done := make(chan struct{})

	go func() {
		for result := range resultCh {
			results = append(results, result)
			if p.onProgress != nil {
				p.onProgress(result, len(results), len(tasks))
			}
		}
		close(done)
	}()

	_ = g.Wait()
	close(resultCh)
	<-done

	return results
}

func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result) {
	for task := range tasks {
		if err := ctx.Err(); err != nil {
			results <- Result{Task: task, Err: err}
			continue
		}

		start := time.Now()
		out, err := p.processor.Process(ctx, task.Addr)
		results <- Result{
			Task:    task,
			Outcome: out,
			Err:     err,
			Elapsed: time.Since(start),
		}
	}
}

// Totals summarizes a set of results.
type Totals struct {
	Done    int
	Skipped int
	Failed  int
	Bytes   int64
}

// Add counts one result.
func (t *Totals) Add(r Result) {
	switch {
	case r.Err != nil:
		t.Failed++
	case r.Outcome.Skipped:
		t.Skipped++
	default:
		t.Done++
		t.Bytes += int64(r.Outcome.Bytes)
	}
}

// Finished is the number of results counted.
func (t Totals) Finished() int {
	return t.Done + t.Skipped + t.Failed
}

// Summarize counts the results of a run.
func Summarize(results []Result) Totals {
	var t Totals
	for _, r := range results {
		t.Add(r)
	}
	return t
}
