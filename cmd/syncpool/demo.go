package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/fluxorio/syncpool/pkg/core/concurrency"
	promobs "github.com/fluxorio/syncpool/pkg/observability/prometheus"
	"github.com/fluxorio/syncpool/pkg/observability/tracing"
)

func newDemoCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Exercise the bounded buffer or the worker pool",
	}
	cmd.AddCommand(newDemoBufferCmd(c), newDemoPoolCmd(c))
	return cmd
}

func newDemoBufferCmd(c *cli) *cobra.Command {
	var (
		capacity    int
		items       int
		delay       time.Duration
		showMetrics bool
	)

	cmd := &cobra.Command{
		Use:   "buffer",
		Short: "Run one producer and one consumer through a bounded buffer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("capacity") {
				capacity = c.cfg.Buffer.Capacity
			}
			reg := promobs.NewRegistry()
			buf := concurrency.NewBoundedBuffer(capacity,
				concurrency.WithName(c.cfg.Buffer.Name),
				concurrency.WithLogger(c.logger.Named("buffer")),
				concurrency.WithObserver(promobs.NewMetrics(reg)),
			)
			res, err := runBufferDemo(cmd.Context(), buf, items, delay)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "moved %d items through %d slots, sum %d, in order: %t\n",
				res.items, buf.Slots(), res.sum, res.ordered)
			if showMetrics {
				return promobs.WriteText(cmd.OutOrStdout(), reg, "syncpool_buffer_")
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&capacity, "capacity", 0, "buffer capacity, one slot is reserved (default from config)")
	fl.IntVar(&items, "items", 20, "number of items to move")
	fl.DurationVar(&delay, "consumer-delay", 0, "pause before each take, to make the producer block")
	fl.BoolVar(&showMetrics, "metrics", false, "print the buffer metrics after the run")
	return cmd
}

type bufferDemoResult struct {
	items   int
	sum     int
	ordered bool
}

// runBufferDemo puts 1..items from a producer goroutine and takes them on the
// calling goroutine.
func runBufferDemo(ctx context.Context, buf *concurrency.BoundedBuffer, items int, delay time.Duration) (bufferDemoResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prodErr := make(chan error, 1)
	go func() {
		for i := 1; i <= items; i++ {
			if err := buf.Put(ctx, i); err != nil {
				prodErr <- fmt.Errorf("put %d: %w", i, err)
				return
			}
		}
		prodErr <- nil
	}()

	res := bufferDemoResult{ordered: true}
	for i := 1; i <= items; i++ {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return res, ctx.Err()
			}
		}
		v, err := buf.Take(ctx)
		if err != nil {
			return res, fmt.Errorf("take %d: %w", i, err)
		}
		if v != i {
			res.ordered = false
		}
		res.items++
		res.sum += v
	}
	return res, <-prodErr
}

func newDemoPoolCmd(c *cli) *cobra.Command {
	var (
		workers   int
		jobs      int
		work      time.Duration
		failEvery int
		trace     bool
	)

	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Submit jobs to a fixed worker pool and wait for them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("workers") {
				workers = c.cfg.Pool.Workers
			}
			tracer := tracing.Tracer()
			if trace {
				_, shutdown, err := tracing.Setup(tracing.Config{
					Enabled:     true,
					ServiceName: c.cfg.Tracing.ServiceName,
					Writer:      cmd.ErrOrStderr(),
				})
				if err != nil {
					return err
				}
				defer func() { _ = shutdown(context.Background()) }()
				tracer = tracing.Tracer()
			}

			res, err := runPoolDemo(cmd.Context(), poolDemo{
				workers:   workers,
				jobs:      jobs,
				work:      work,
				failEvery: failEvery,
				wrap: func(job concurrency.Job) concurrency.Job {
					if !trace {
						return job
					}
					return tracing.Wrap(cmd.Context(), tracer, job)
				},
				opts: []concurrency.Option{
					concurrency.WithName(c.cfg.Pool.Name),
					concurrency.WithLogger(c.logger.Named("pool")),
				},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d workers ran %d jobs (%d failed) in %v\n",
				res.workers, res.ran, res.failed, res.elapsed.Round(time.Millisecond))
			return nil
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&workers, "workers", concurrency.DefaultWorkers, "worker count, clamped to 1..10 (default from config)")
	fl.IntVar(&jobs, "jobs", 100, "number of jobs to submit")
	fl.DurationVar(&work, "work", 10*time.Millisecond, "time each job spends working")
	fl.IntVar(&failEvery, "fail-every", 0, "make every n-th job panic (0 disables)")
	fl.BoolVar(&trace, "trace", false, "print one span per job to stderr")
	return cmd
}

type poolDemo struct {
	workers int
	jobs    int
	work    time.Duration
	// failEvery makes every n-th job panic; 0 disables.
	failEvery int
	wrap      func(concurrency.Job) concurrency.Job
	opts      []concurrency.Option
}

type poolDemoResult struct {
	workers int
	ran     int64
	failed  int64
	elapsed time.Duration
}

// runPoolDemo submits d.jobs jobs, waits for all of them, then shuts the pool
// down and releases its workers.
func runPoolDemo(ctx context.Context, d poolDemo) (poolDemoResult, error) {
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg     sync.WaitGroup
		ran    atomic.Int64
		failed atomic.Int64
	)
	opts := append([]concurrency.Option{
		// A panicking job never reaches its own wg.Done.
		concurrency.WithJobFailureHandler(func(*concurrency.JobFailure) {
			failed.Add(1)
			wg.Done()
		}),
	}, d.opts...)
	pool := concurrency.NewWorkerPool(poolCtx, d.workers, opts...)

	start := time.Now()
	wg.Add(d.jobs)
	for i := 1; i <= d.jobs; i++ {
		i := i
		var job concurrency.Job = concurrency.NewNamedJob(fmt.Sprintf("demo-%d", i), func() {
			ran.Add(1)
			time.Sleep(d.work)
			if d.failEvery > 0 && i%d.failEvery == 0 {
				panic(fmt.Sprintf("job %d failed on purpose", i))
			}
			wg.Done()
		})
		if d.wrap != nil {
			job = d.wrap(job)
		}
		pool.Execute(job)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return poolDemoResult{}, ctx.Err()
	}
	res := poolDemoResult{
		workers: pool.Workers(),
		ran:     ran.Load(),
		failed:  failed.Load(),
		elapsed: time.Since(start),
	}

	pool.Shutdown()
	cancel()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer waitCancel()
	if err := pool.Wait(waitCtx); err != nil {
		return res, err
	}
	return res, nil
}
