package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// defaultPollInterval is how long an idle worker waits before checking
// the queue again.
const defaultPollInterval = 2 * time.Second

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// WorkerOpts holds parameters for RunWorkers.
type WorkerOpts struct {
	Dispatcher   *Dispatcher
	Queue        *Queue
	Workers      int
	PollInterval time.Duration
	ReapSchedule string    // 5-field cron expression, defaults to every minute
	Out          io.Writer // defaults to io.Discard
}

// RunWorkers runs the dispatch worker pool until ctx is cancelled. Each
// worker repeatedly claims one job and executes it; a reaper goroutine
// requeues lapsed leases on the cron schedule so a crashed worker's jobs
// become visible again.
func RunWorkers(ctx context.Context, opts WorkerOpts) error {
	if opts.Dispatcher == nil {
		return fmt.Errorf("dispatch: dispatcher is required")
	}
	if opts.Queue == nil {
		return fmt.Errorf("dispatch: queue is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ReapSchedule == "" {
		opts.ReapSchedule = "* * * * *"
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if _, err := cronParser.Parse(opts.ReapSchedule); err != nil {
		return fmt.Errorf("dispatch: reap schedule %q: %w", opts.ReapSchedule, err)
	}

	fmt.Fprintf(opts.Out, "Dispatch pool: %d workers, reap schedule %q\n", opts.Workers, opts.ReapSchedule)

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			workerLoop(ctx, id, opts)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		reaperLoop(ctx, opts)
	}()

	wg.Wait()
	fmt.Fprintf(opts.Out, "Dispatch pool stopped.\n")
	return nil
}

// workerLoop claims and executes jobs until ctx is cancelled. Execution
// errors are infrastructure problems (store unreachable); the loop logs
// them and backs off rather than exiting, since the job's lease will
// expire and be reaped.
func workerLoop(ctx context.Context, id int, opts WorkerOpts) {
	for ctx.Err() == nil {
		job, err := opts.Queue.Receive()
		if err != nil {
			if !errors.Is(err, ErrEmpty) {
				log.Printf("worker %d: receive: %v", id, err)
			}
			sleepWithContext(ctx, opts.PollInterval)
			continue
		}
		if err := opts.Dispatcher.Execute(ctx, job); err != nil {
			log.Printf("worker %d: job %s: %v", id, job.ID, err)
			sleepWithContext(ctx, opts.PollInterval)
		}
	}
}

// reaperLoop requeues expired leases on the cron schedule and refreshes
// the queue-depth gauge alongside.
func reaperLoop(ctx context.Context, opts WorkerOpts) {
	for ctx.Err() == nil {
		sleepWithContext(ctx, nextCronDuration(opts.ReapSchedule))
		if ctx.Err() != nil {
			return
		}
		n, err := opts.Queue.ReapExpired()
		if err != nil {
			log.Printf("reaper: %v", err)
		} else if n > 0 {
			fmt.Fprintf(opts.Out, "Requeued %d expired lease(s)\n", n)
		}
		if m := opts.Dispatcher.metrics; m != nil {
			if depth, err := opts.Queue.Depth(); err == nil {
				m.QueueDepth.Set(float64(depth))
			}
		}
	}
}

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns a minute on parse error so a bad
// schedule cannot spin the reaper.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Minute
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// sleepWithContext sleeps for the given duration but returns early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
