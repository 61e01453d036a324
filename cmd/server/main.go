package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nadmax/nexrun/internal/api"
	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/config"
	"github.com/nadmax/nexrun/internal/executor"
	"github.com/nadmax/nexrun/internal/logger"
	"github.com/nadmax/nexrun/internal/notify"
	"github.com/nadmax/nexrun/internal/repository"
	"github.com/nadmax/nexrun/internal/repository/postgres"
	"github.com/nadmax/nexrun/internal/resource"
	"github.com/nadmax/nexrun/internal/store"
	"github.com/nadmax/nexrun/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		logger.WithComponent("server").Fatal().Err(err).Msg("Server exited.")
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("NEXRUN_CONFIG"))
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level)
	log := logger.WithComponent("server")

	if cfg.Executor.Endpoint == "" {
		return errors.New("executor endpoint is required (executor.endpoint or EXECUTOR_ENDPOINT)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewStore(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store.")
		}
	}()
	log.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis.")

	deps := campaign.Deps{
		Store:         st,
		MetricsDir:    cfg.Campaign.MetricsDir,
		RetryLimit:    cfg.RetryLimit(),
		Floor:         cfg.Retry.Floor,
		Step:          cfg.Retry.Step,
		Ceiling:       cfg.Retry.Ceiling,
		BackoffFactor: cfg.Retry.BackoffFactor,
		MaxBatches:    cfg.Campaign.MaxBatches,
	}

	var history repository.CampaignRepository
	if cfg.Postgres.DSN != "" {
		repo, err := postgres.NewPostgresCampaignRepository(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := repo.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Postgres repository.")
			}
		}()
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		history = repo
		deps.History = repo
		log.Info().Msg("Campaign history enabled.")
	}

	if cfg.NotifyConfig().Enabled() {
		n, err := notify.NewEmailNotifier(cfg.NotifyConfig())
		if err != nil {
			return err
		}
		deps.Notifier = n
		log.Info().Str("to", cfg.Email.To).Msg("Email notifications enabled.")
	}

	pool := resource.NewPool(cfg.PoolOptions())
	deps.Pool = pool
	deps.Executor = executor.NewHTTPExecutor(cfg.Executor.Endpoint, cfg.Executor.Timeout, cfg.ExecutorHeaders())

	reg := campaign.NewRegistry(deps)

	go startMetricsCollector(ctx, pool)

	w := worker.NewWorker(fmt.Sprintf("server-%d", os.Getpid()), st, reg)
	w.SetPollInterval(cfg.Campaign.PollInterval)
	go w.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.NewAPI(ctx, reg, st, history),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server starting.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Int("active", reg.Active()).Msg("Shutting down, draining in-flight batches...")
	w.Stop()
	<-w.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to shut down server: %w", err)
	}

	reg.Shutdown()
	if runErr != nil {
		return runErr
	}

	log.Info().Msg("Server stopped.")
	return nil
}
