package campaign

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/nadmax/nexrun/internal/batch"
	"github.com/nadmax/nexrun/internal/logger"
	"github.com/nadmax/nexrun/internal/metrics"
	"github.com/nadmax/nexrun/internal/retry"
	"github.com/nadmax/nexrun/internal/task"
)

const finalizeTimeout = 10 * time.Second

// Deps are shared by every controller a registry launches. Store, History
// and Notifier are optional.
type Deps struct {
	Pool     retry.Pool
	Executor task.Executor
	Store    StatusStore
	History  History
	Notifier Notifier

	MetricsDir string
	// RetryLimit follows retry.Options.Limit: 0 is the default limit and
	// retry.NoRetries disables retries.
	RetryLimit    int
	Floor         time.Duration
	Step          time.Duration
	Ceiling       time.Duration
	BackoffFactor float64
	// MaxBatches bounds a campaign that never reaches its target; 0 means
	// no bound.
	MaxBatches int
}

type Controller struct {
	id      string
	cfg     Config
	deps    Deps
	tracker *metrics.Tracker
	coord   *retry.Coordinator
	runner  *batch.Runner

	mu         sync.RWMutex
	state      State
	batches    int
	startedAt  time.Time
	finishedAt *time.Time
	errMsg     string

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func (d Deps) ceiling() time.Duration {
	if d.Ceiling <= 0 {
		return retry.DefaultCeiling
	}
	return d.Ceiling
}

func NewController(id string, cfg Config, deps Deps) *Controller {
	cfg = cfg.WithDefaults()
	if deps.BackoffFactor <= 1 {
		deps.BackoffFactor = DefaultBackoffFactor
	}

	var path string
	if deps.MetricsDir != "" {
		path = filepath.Join(deps.MetricsDir, id+".json")
	}
	tracker := metrics.NewTracker(path)

	coord := retry.NewCoordinator(deps.Pool, deps.Executor, retry.Options{
		CampaignID: id,
		Limit:      deps.RetryLimit,
		Pacer:      retry.NewPacer(cfg.BaseDelay, deps.Floor, deps.Step, deps.Ceiling),
		Recorder:   tracker,
	})

	return &Controller{
		id:      id,
		cfg:     cfg,
		deps:    deps,
		tracker: tracker,
		coord:   coord,
		runner:  batch.NewRunner(coord),
		state:   StateIdle,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) Config() Config {
	return c.cfg
}

func (c *Controller) Tracker() *metrics.Tracker {
	return c.tracker
}

// Stop asks the campaign to end before its next batch. A batch already in
// flight always runs to completion.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Controller) Done() <-chan struct{} {
	return c.done
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Status() Status {
	c.mu.RLock()
	state, batches, startedAt, errMsg := c.state, c.batches, c.startedAt, c.errMsg
	var finishedAt *time.Time
	if c.finishedAt != nil {
		t := *c.finishedAt
		finishedAt = &t
	}
	c.mu.RUnlock()

	snap := c.tracker.Snapshot()
	return Status{
		ID:             c.id,
		Target:         c.cfg.Target,
		State:          state,
		TargetCount:    c.cfg.TargetCount,
		BatchSize:      c.cfg.BatchSize,
		Successes:      snap.Successes,
		Failures:       snap.Failures,
		Batches:        batches,
		SuccessRate:    snap.SuccessRate,
		Speed:          c.tracker.Speed(),
		DelaySeconds:   c.coord.Pacer().Base().Seconds(),
		SuccessStreak:  c.coord.Streak(),
		RuntimeSeconds: snap.RuntimeSeconds,
		Error:          errMsg,
		StartedAt:      startedAt,
		FinishedAt:     finishedAt,
	}
}

// Run blocks until the campaign reaches its target, is stopped, or fails.
// Cancelling ctx acts like Stop. A panic is recovered and leaves the
// campaign failed.
func (c *Controller) Run(ctx context.Context) (err error) {
	defer close(c.done)

	log := logger.WithComponent("campaign").With().Str("campaign_id", c.id).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("campaign panicked: %v", r)
			log.Error().Interface("panic", r).Msg("Campaign panicked.")
			c.finish(ctx, StateFailed, err)
		}
	}()

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("campaign %s already started", c.id)
	}
	c.state = StateRunning
	c.startedAt = time.Now()
	c.mu.Unlock()

	metrics.UpdateCampaignDelay(c.id, c.cfg.BaseDelay)
	log.Info().
		Str("target", c.cfg.Target).
		Int("target_count", c.cfg.TargetCount).
		Int("batch_size", c.cfg.BatchSize).
		Dur("base_delay", c.cfg.BaseDelay).
		Msg("Campaign launched.")
	c.saveStatus(ctx)

	// In-flight batches drain even after ctx is cancelled.
	batchCtx := context.WithoutCancel(ctx)

	for {
		completed := c.tracker.Successes()
		if completed >= c.cfg.TargetCount {
			break
		}
		if c.stopRequested(ctx) {
			log.Info().Int("successes", completed).Msg("Campaign stopped.")
			c.finish(ctx, StateStopped, nil)
			return nil
		}
		if c.deps.MaxBatches > 0 && c.batchCount() >= c.deps.MaxBatches {
			err := fmt.Errorf("%w: %d batches, %d/%d successes", ErrBatchLimit, c.deps.MaxBatches, completed, c.cfg.TargetCount)
			log.Error().Err(err).Msg("Campaign failed.")
			c.finish(ctx, StateFailed, err)
			return err
		}

		size := min(c.cfg.BatchSize, c.cfg.TargetCount-completed)
		c.setState(StateBatchInFlight)
		res := c.runner.RunBatch(batchCtx, size, c.newTask)
		c.setState(StateEvaluating)
		c.evaluate(ctx, res)
		c.setState(StateRunning)
	}

	report := c.tracker.FinalReport()
	log.Info().
		Int("successes", report.Successes).
		Int("failures", report.Failures).
		Float64("success_rate", report.SuccessRate).
		Dur("runtime", report.Runtime).
		Float64("success_per_hour", report.SuccessPerHour).
		Msg("Campaign complete.")
	c.finish(ctx, StateCompleted, nil)
	return nil
}

func (c *Controller) newTask(int) *task.Task {
	return task.NewTask(c.id, c.cfg.Target, c.cfg.Payload)
}

func (c *Controller) evaluate(ctx context.Context, res batch.Result) {
	log := logger.WithComponent("campaign").With().Str("campaign_id", c.id).Logger()

	c.mu.Lock()
	c.batches++
	number := c.batches
	c.mu.Unlock()

	metrics.RecordBatch(c.id, res.Duration, res.SuccessRatio(), res.LowYield)
	log.Info().
		Int("batch", number).
		Int("successes", res.Successes).
		Int("size", res.Size).
		Float64("success_pct", res.SuccessRatio()*100).
		Dur("duration", res.Duration).
		Float64("per_second", res.Throughput).
		Msg("Batch summary.")

	pacer := c.coord.Pacer()
	if res.LowYield {
		delay := pacer.Backoff(c.deps.BackoffFactor)
		metrics.UpdateCampaignDelay(c.id, delay)
		log.Warn().Dur("delay", delay).Msg("Low success rate, adjusting delay.")
	}

	if c.deps.History != nil {
		err := c.deps.History.RecordBatch(ctx, BatchRecord{
			CampaignID:   c.id,
			Number:       number,
			Size:         res.Size,
			Successes:    res.Successes,
			Duration:     res.Duration,
			Throughput:   res.Throughput,
			LowYield:     res.LowYield,
			DelaySeconds: pacer.Base().Seconds(),
			CreatedAt:    time.Now(),
		})
		if err != nil {
			log.Error().Err(err).Msg("Failed to record batch.")
		}
	}
	c.saveStatus(ctx)
}

func (c *Controller) stopRequested(ctx context.Context) bool {
	select {
	case <-c.stop:
		return true
	default:
	}
	if ctx.Err() != nil {
		return true
	}
	if c.deps.Store == nil {
		return false
	}

	requested, err := c.deps.Store.StopRequested(ctx, c.id)
	if err != nil {
		logger.WithComponent("campaign").Error().Err(err).Str("campaign_id", c.id).Msg("Failed to check stop request.")
		return false
	}
	return requested
}

func (c *Controller) finish(ctx context.Context, state State, cause error) {
	now := time.Now()
	c.mu.Lock()
	c.state = state
	c.finishedAt = &now
	if cause != nil {
		c.errMsg = cause.Error()
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	log := logger.WithComponent("campaign").With().Str("campaign_id", c.id).Logger()
	status := c.Status()

	c.saveStatus(ctx)
	if c.deps.Store != nil {
		if err := c.deps.Store.ClearStop(ctx, c.id); err != nil {
			log.Error().Err(err).Msg("Failed to clear stop request.")
		}
	}
	if c.deps.History != nil {
		if err := c.deps.History.SaveRun(ctx, status); err != nil {
			log.Error().Err(err).Msg("Failed to save campaign run.")
		}
	}
	if c.deps.Notifier != nil {
		if err := c.deps.Notifier.CampaignFinished(ctx, status); err != nil {
			log.Error().Err(err).Msg("Failed to send campaign notification.")
		}
	}
}

func (c *Controller) saveStatus(ctx context.Context) {
	if c.deps.Store == nil {
		return
	}
	if err := c.deps.Store.SaveStatus(ctx, c.Status()); err != nil {
		logger.WithComponent("campaign").Error().Err(err).Str("campaign_id", c.id).Msg("Failed to save status.")
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) batchCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.batches
}
