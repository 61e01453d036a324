// Package batch fans a fixed number of task instances out concurrently and
// gathers their outcomes.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/nadmax/nexrun/internal/task"
	"golang.org/x/sync/errgroup"
)

const LowYieldRatio = 0.5

type Attempter interface {
	Attempt(ctx context.Context, t *task.Task) task.Result
}

type Result struct {
	Size      int           `json:"size"`
	Results   []task.Result `json:"results"`
	Successes int           `json:"successes"`
	Duration  time.Duration `json:"duration"`
	// Throughput is successes per second.
	Throughput float64 `json:"throughput"`
	LowYield   bool    `json:"low_yield"`
}

func (r Result) SuccessCount() int {
	return r.Successes
}

func (r Result) SuccessRatio() float64 {
	if r.Size == 0 {
		return 0
	}
	return float64(r.Successes) / float64(r.Size)
}

type Runner struct {
	attempter Attempter
	now       func() time.Time
}

func NewRunner(attempter Attempter) *Runner {
	return &Runner{
		attempter: attempter,
		now:       time.Now,
	}
}

// RunBatch launches n attempts at once and waits for every one of them.
// A failed or panicking attempt never cancels its siblings. Results keep
// submission order.
func (r *Runner) RunBatch(ctx context.Context, n int, factory task.Factory) Result {
	if n <= 0 {
		return Result{}
	}

	start := r.now()
	results := make([]task.Result, n)

	var g errgroup.Group
	for i := range n {
		t := factory(i)
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					results[i] = task.Failure(t.ID, fmt.Sprintf("attempt panicked: %v", p), 0, 0)
				}
			}()
			results[i] = r.attempter.Attempt(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{
		Size:     n,
		Results:  results,
		Duration: r.now().Sub(start),
	}
	for _, tr := range results {
		if tr.OK() {
			res.Successes++
		}
	}
	if secs := res.Duration.Seconds(); secs > 0 {
		res.Throughput = float64(res.Successes) / secs
	}
	res.LowYield = float64(res.Successes) < LowYieldRatio*float64(n)

	return res
}
