package campaign

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/nadmax/nexrun/internal/logger"
	"github.com/nadmax/nexrun/internal/metrics"
)

// Registry owns every campaign launched in this process, keyed by ID. At
// most one campaign per target may be running at a time.
type Registry struct {
	deps Deps

	mu        sync.RWMutex
	campaigns map[string]*Controller
	closed    bool
	wg        sync.WaitGroup
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:      deps,
		campaigns: make(map[string]*Controller),
	}
}

// Launch starts a campaign in its own goroutine and returns immediately.
func (r *Registry) Launch(ctx context.Context, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ceiling := r.deps.ceiling(); cfg.BaseDelay > ceiling {
		return nil, fmt.Errorf("%w: base_delay %s exceeds the delay ceiling %s", ErrInvalidConfig, cfg.BaseDelay, ceiling)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	for _, c := range r.campaigns {
		if c.Config().Target == cfg.Target && !c.State().Terminal() {
			r.mu.Unlock()
			return nil, fmt.Errorf("%w: %s (%s)", ErrExists, cfg.Target, c.ID())
		}
	}

	ctl := NewController(uuid.New().String(), cfg, r.deps)
	r.campaigns[ctl.ID()] = ctl
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer metrics.UpdateActiveCampaigns(r.Active())

		if err := ctl.Run(ctx); err != nil {
			logger.WithComponent("registry").Error().Err(err).Str("campaign_id", ctl.ID()).Msg("Campaign ended with error.")
		}
	}()
	metrics.UpdateActiveCampaigns(r.Active())

	return ctl, nil
}

func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ctl, ok := r.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ctl, nil
}

// List returns the status of every campaign, oldest first.
func (r *Registry) List() []Status {
	r.mu.RLock()
	controllers := make([]*Controller, 0, len(r.campaigns))
	for _, c := range r.campaigns {
		controllers = append(controllers, c)
	}
	r.mu.RUnlock()

	statuses := make([]Status, 0, len(controllers))
	for _, c := range controllers {
		statuses = append(statuses, c.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].StartedAt.Equal(statuses[j].StartedAt) {
			return statuses[i].ID < statuses[j].ID
		}
		return statuses[i].StartedAt.Before(statuses[j].StartedAt)
	})
	return statuses
}

func (r *Registry) Stop(id string) error {
	ctl, err := r.Get(id)
	if err != nil {
		return err
	}
	if st := ctl.State(); st.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrFinished, id, st)
	}
	ctl.Stop()
	return nil
}

func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.campaigns {
		c.Stop()
	}
}

// Remove forgets a finished campaign.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctl, ok := r.campaigns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !ctl.State().Terminal() {
		return fmt.Errorf("%w: %s", ErrRunning, id)
	}
	delete(r.campaigns, id)
	return nil
}

func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.campaigns {
		if !c.State().Terminal() {
			n++
		}
	}
	return n
}

// Shutdown refuses further launches, stops every campaign and waits for
// all of them to finish their in-flight batch and final report.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.StopAll()
	r.Wait()
}

// Wait blocks until every launched campaign has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}
