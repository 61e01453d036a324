// Package worker consumes queued campaign submissions and launches them in
// the local registry.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/logger"
)

const DefaultPollInterval = 2 * time.Second

type Submissions interface {
	NextSubmission(ctx context.Context) (*campaign.Config, error)
}

type Launcher interface {
	Launch(ctx context.Context, cfg campaign.Config) (*campaign.Controller, error)
}

type Worker struct {
	id           string
	subs         Submissions
	launcher     Launcher
	pollInterval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewWorker(id string, subs Submissions, launcher Launcher) *Worker {
	return &Worker{
		id:           id,
		subs:         subs,
		launcher:     launcher,
		pollInterval: DefaultPollInterval,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (w *Worker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// Start polls until Stop is called or ctx ends. Launched campaigns run under
// ctx.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.done)

	log := logger.WithComponent("worker").With().Str("worker_id", w.id).Logger()
	log.Info().Dur("poll_interval", w.pollInterval).Msg("Worker started.")

	for {
		select {
		case <-w.stop:
			log.Info().Msg("Worker stopped.")
			return
		case <-ctx.Done():
			log.Info().Msg("Worker stopped.")
			return
		default:
		}

		cfg, err := w.subs.NextSubmission(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to read submission queue.")
		}
		if err != nil || cfg == nil {
			w.wait(ctx)
			continue
		}

		w.launch(ctx, *cfg)
	}
}

func (w *Worker) launch(ctx context.Context, cfg campaign.Config) {
	log := logger.WithComponent("worker").With().Str("worker_id", w.id).Str("target", cfg.Target).Logger()

	ctl, err := w.launcher.Launch(ctx, cfg)
	switch {
	case errors.Is(err, campaign.ErrExists):
		log.Warn().Err(err).Msg("Dropped submission for busy target.")
	case err != nil:
		log.Error().Err(err).Msg("Failed to launch submitted campaign.")
	default:
		log.Info().Str("campaign_id", ctl.ID()).Msg("Launched submitted campaign.")
	}
}

func (w *Worker) wait(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-w.stop:
	case <-ctx.Done():
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed once Start has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}
