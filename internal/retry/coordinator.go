// Package retry runs a single task instance to a terminal outcome: bounded
// retries, a fresh resource per call and streak-based pacing.
package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/nadmax/nexrun/internal/logger"
	"github.com/nadmax/nexrun/internal/metrics"
	"github.com/nadmax/nexrun/internal/resource"
	"github.com/nadmax/nexrun/internal/task"
)

const DefaultLimit = 3

// NoRetries as Options.Limit makes every task a single call. A zero Limit
// means DefaultLimit.
const NoRetries = -1

type Pool interface {
	Acquire(ctx context.Context, exclude ...string) (resource.Resource, error)
	ReportFailure(r resource.Resource)
	ReportSuccess(r resource.Resource)
}

// Recorder receives one call per task instance, after its last attempt.
type Recorder interface {
	LogSuccess() error
	LogFailure() error
}

type Options struct {
	CampaignID string
	Limit      int
	Pacer      *Pacer
	Recorder   Recorder
}

type Coordinator struct {
	pool     Pool
	executor task.Executor
	limit    int
	pacer    *Pacer
	recorder Recorder
	campaign string
	streak   atomic.Int64

	sleep func(ctx context.Context, d time.Duration) error
}

func NewCoordinator(pool Pool, executor task.Executor, opts Options) *Coordinator {
	switch {
	case opts.Limit < 0:
		opts.Limit = 0
	case opts.Limit == 0:
		opts.Limit = DefaultLimit
	}
	if opts.Pacer == nil {
		opts.Pacer = NewPacer(0, 0, DefaultStep, 0)
	}

	return &Coordinator{
		pool:     pool,
		executor: executor,
		limit:    opts.Limit,
		pacer:    opts.Pacer,
		recorder: opts.Recorder,
		campaign: opts.CampaignID,
		sleep:    sleepContext,
	}
}

func (c *Coordinator) Pacer() *Pacer {
	return c.pacer
}

func (c *Coordinator) Streak() int64 {
	return c.streak.Load()
}

// Attempt never returns an error: exhaustion, unavailability and
// cancellation all end as a Failure result.
func (c *Coordinator) Attempt(ctx context.Context, t *task.Task) task.Result {
	log := logger.WithComponent("retry")
	start := time.Now()

	var (
		exclude []string
		reason  string
		calls   int
	)

	for attempt := 0; attempt <= c.limit; attempt++ {
		if err := ctx.Err(); err != nil {
			reason = err.Error()
			break
		}
		if attempt > 0 {
			metrics.RecordRetry(c.campaign)
			log.Warn().
				Str("task_id", t.ID).
				Int("attempt", attempt).
				Int("limit", c.limit).
				Str("reason", reason).
				Msg("Retrying task.")
		}

		t.Attempt = attempt
		calls++

		r, err := c.pool.Acquire(ctx, exclude...)
		if err != nil {
			if errors.Is(err, resource.ErrUnavailable) {
				metrics.RecordUnavailable(c.campaign)
			}
			reason = err.Error()
			c.streak.Store(0)
			continue
		}

		if err := c.sleep(ctx, c.pacer.Delay(c.streak.Load())); err != nil {
			reason = err.Error()
			break
		}

		if err := c.executor.Execute(ctx, t, r); err != nil {
			c.pool.ReportFailure(r)
			exclude = append(exclude, r.URI)
			reason = err.Error()
			c.streak.Store(0)
			continue
		}

		c.pool.ReportSuccess(r)
		c.streak.Add(1)
		return c.finish(task.Success(t.ID, r.URI, calls, time.Since(start)))
	}

	log.Error().
		Str("task_id", t.ID).
		Int("calls", calls).
		Str("reason", reason).
		Msg("Task failed after final attempt.")
	return c.finish(task.Failure(t.ID, reason, calls, time.Since(start)))
}

func (c *Coordinator) finish(res task.Result) task.Result {
	metrics.RecordAttempt(c.campaign, res.OK(), res.Duration)

	if c.recorder != nil {
		var err error
		if res.OK() {
			err = c.recorder.LogSuccess()
		} else {
			err = c.recorder.LogFailure()
		}
		if err != nil {
			logger.WithComponent("retry").Error().Err(err).Msg("Failed to persist metrics.")
		}
	}

	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
