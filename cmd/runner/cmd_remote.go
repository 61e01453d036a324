package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nadmax/nexrun/internal/campaign"
	"github.com/nadmax/nexrun/internal/config"
	"github.com/nadmax/nexrun/internal/logger"
	"github.com/nadmax/nexrun/internal/metrics"
	"github.com/nadmax/nexrun/internal/store"
	"github.com/spf13/cobra"
)

const remoteTimeout = 10 * time.Second

var snapshotPath string

var submitCmd = &cobra.Command{
	Use:   "submit <campaigns.yaml>",
	Short: "Queue the campaigns of a campaign file for a nexrun server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := config.LoadCampaigns(args[0])
		if err != nil {
			return err
		}
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			return submitCampaigns(ctx, st, configs, cmd.OutOrStdout())
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <campaign-id>",
	Short: "Ask a running campaign to stop at its next batch boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			return stopCampaign(ctx, st, args[0], cmd.OutOrStdout())
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [campaign-id]",
	Short: "Show live campaign status",
	Long: `Without an argument, lists every campaign known to Redis. With a campaign
ID, shows that campaign only.

--snapshot reads a metrics file written by a campaign instead of Redis.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if snapshotPath != "" {
			return showSnapshot(snapshotPath, cmd.OutOrStdout())
		}
		return withStore(cmd, func(ctx context.Context, st *store.Store) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return showStatus(ctx, st, id, cmd.OutOrStdout())
		})
	},
}

func init() {
	statusCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Read a campaign metrics file instead of Redis")
}

func withStore(cmd *cobra.Command, fn func(ctx context.Context, st *store.Store) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), remoteTimeout)
	defer cancel()

	st, err := store.NewStore(ctx, cfg.Redis.Addr)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.WithComponent("runner").Error().Err(err).Msg("Failed to close store.")
		}
	}()

	return fn(ctx, st)
}

type submitter interface {
	Submit(ctx context.Context, cfg campaign.Config) error
}

func submitCampaigns(ctx context.Context, s submitter, configs []campaign.Config, out io.Writer) error {
	for _, c := range configs {
		if err := s.Submit(ctx, c); err != nil {
			return fmt.Errorf("failed to submit campaign for %s: %w", c.Target, err)
		}
		fmt.Fprintf(out, "submitted %s (target %d, batch %d)\n", c.Target, c.TargetCount, c.BatchSize)
	}
	return nil
}

type stopRequester interface {
	RequestStop(ctx context.Context, id string) error
}

func stopCampaign(ctx context.Context, s stopRequester, id string, out io.Writer) error {
	if err := s.RequestStop(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(out, "stop requested for %s\n", id)
	return nil
}

type statusReader interface {
	GetStatus(ctx context.Context, id string) (*campaign.Status, error)
	ListStatuses(ctx context.Context) ([]campaign.Status, error)
	PendingSubmissions(ctx context.Context) (int64, error)
}

func showStatus(ctx context.Context, s statusReader, id string, out io.Writer) error {
	if id != "" {
		st, err := s.GetStatus(ctx, id)
		if err != nil {
			return err
		}
		return printStatuses(out, []campaign.Status{*st})
	}

	statuses, err := s.ListStatuses(ctx)
	if err != nil {
		return err
	}
	pending, err := s.PendingSubmissions(ctx)
	if err != nil {
		return err
	}

	if len(statuses) == 0 {
		fmt.Fprintln(out, "no campaigns")
	} else if err := printStatuses(out, statuses); err != nil {
		return err
	}
	if pending > 0 {
		fmt.Fprintf(out, "pending submissions: %d\n", pending)
	}
	return nil
}

func showSnapshot(path string, out io.Writer) error {
	snap, err := metrics.LoadSnapshot(path)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	printSnapshot(out, *snap)
	return nil
}
