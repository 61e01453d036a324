package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/config"
	"github.com/nadmax/nexrun/internal/executor"
	"github.com/nadmax/nexrun/internal/logger"
	"github.com/nadmax/nexrun/internal/notify"
	"github.com/nadmax/nexrun/internal/repository/postgres"
	"github.com/nadmax/nexrun/internal/resource"
	"github.com/nadmax/nexrun/internal/store"
	"github.com/spf13/cobra"
)

var publishStatus bool

var runCmd = &cobra.Command{
	Use:   "run <campaigns.yaml>",
	Short: "Run the campaigns of a campaign file in this process",
	Long: `Launches every campaign listed in the file concurrently and blocks until
all of them have completed, stopped or failed.

SIGINT or SIGTERM stops every campaign once its in-flight batch drains.
With --publish, live status goes to Redis so "runner stop" and the server
API can see and stop these campaigns.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&publishStatus, "publish", false, "Publish live status to Redis and honour remote stop requests")
}

func runRun(cmd *cobra.Command, args []string) error {
	configs, err := config.LoadCampaigns(args[0])
	if err != nil {
		return err
	}
	if cfg.Executor.Endpoint == "" {
		return errors.New("executor endpoint is required (executor.endpoint or EXECUTOR_ENDPOINT)")
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, cleanup, err := buildDeps(ctx, cfg, publishStatus)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := campaign.NewRegistry(deps)
	return runCampaigns(ctx, reg, configs, cmd.OutOrStdout())
}

// buildDeps wires the optional backends named by cfg. The returned cleanup
// closes whatever was opened.
func buildDeps(ctx context.Context, cfg config.Config, publish bool) (campaign.Deps, func(), error) {
	log := logger.WithComponent("runner")

	deps := campaign.Deps{
		Pool:          resource.NewPool(cfg.PoolOptions()),
		Executor:      executor.NewHTTPExecutor(cfg.Executor.Endpoint, cfg.Executor.Timeout, cfg.ExecutorHeaders()),
		MetricsDir:    cfg.Campaign.MetricsDir,
		RetryLimit:    cfg.RetryLimit(),
		Floor:         cfg.Retry.Floor,
		Step:          cfg.Retry.Step,
		Ceiling:       cfg.Retry.Ceiling,
		BackoffFactor: cfg.Retry.BackoffFactor,
		MaxBatches:    cfg.Campaign.MaxBatches,
	}

	var closers []io.Closer
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close backend.")
			}
		}
	}

	if publish {
		st, err := store.NewStore(ctx, cfg.Redis.Addr)
		if err != nil {
			return deps, nil, err
		}
		closers = append(closers, st)
		deps.Store = st
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Publishing campaign status to Redis.")
	}

	if cfg.Postgres.DSN != "" {
		repo, err := postgres.NewPostgresCampaignRepository(cfg.Postgres.DSN)
		if err != nil {
			cleanup()
			return deps, nil, err
		}
		closers = append(closers, repo)
		if err := repo.Migrate(ctx); err != nil {
			cleanup()
			return deps, nil, err
		}
		deps.History = repo
		log.Info().Msg("Campaign history enabled.")
	}

	if cfg.NotifyConfig().Enabled() {
		n, err := notify.NewEmailNotifier(cfg.NotifyConfig())
		if err != nil {
			cleanup()
			return deps, nil, err
		}
		deps.Notifier = n
	}

	return deps, cleanup, nil
}

type localRegistry interface {
	Launch(ctx context.Context, cfg campaign.Config) (*campaign.Controller, error)
	Wait()
}

// runCampaigns launches every config, waits for all of them and prints one
// final report per launched campaign. Launch failures do not prevent the
// other campaigns from running; they are returned joined at the end.
func runCampaigns(ctx context.Context, reg localRegistry, configs []campaign.Config, out io.Writer) error {
	log := logger.WithComponent("runner")

	var (
		launched []*campaign.Controller
		errs     []error
	)
	for _, c := range configs {
		ctl, err := reg.Launch(ctx, c)
		if err != nil {
			log.Error().Err(err).Str("target", c.Target).Msg("Failed to launch campaign.")
			errs = append(errs, fmt.Errorf("%s: %w", c.Target, err))
			continue
		}
		log.Info().Str("campaign_id", ctl.ID()).Str("target", c.Target).Msg("Campaign launched.")
		launched = append(launched, ctl)
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			log.Warn().Msg("Interrupted, draining in-flight batches...")
		case <-stopped:
		}
	}()

	reg.Wait()
	close(stopped)

	printFinalReports(out, launched)
	return errors.Join(errs...)
}
