package main

import (
	"errors"
	"fmt"

	"github.com/nadmax/nexrun/internal/logger"
	"github.com/nadmax/nexrun/internal/report"
	"github.com/nadmax/nexrun/internal/repository/postgres"
	"github.com/spf13/cobra"
)

var reportReq report.Request

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export campaign history from PostgreSQL as CSV or JSON",
	Long: `Builds a report over campaign_runs and campaign_batches.

Types: campaign_summary, batch_breakdown, hourly_breakdown, low_yield_analysis.
--from and --to take RFC3339 timestamps and default to the last 24 hours.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres dsn is required (postgres.dsn or POSTGRES_DSN)")
		}

		repo, err := postgres.NewPostgresCampaignRepository(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer func() {
			if err := repo.Close(); err != nil {
				logger.WithComponent("runner").Error().Err(err).Msg("Failed to close Postgres repository.")
			}
		}()

		path, err := report.NewGenerator(repo.DB()).Generate(cmd.Context(), reportReq)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	f := reportCmd.Flags()
	f.StringVarP(&reportReq.ReportType, "type", "t", report.TypeCampaignSummary, "Report type")
	f.StringVar(&reportReq.StartTime, "from", "", "Start of the time range (RFC3339)")
	f.StringVar(&reportReq.EndTime, "to", "", "End of the time range (RFC3339)")
	f.StringVarP(&reportReq.Format, "format", "f", "csv", "Output format: csv or json")
	f.StringVarP(&reportReq.OutputPath, "out", "o", "./reports", "Output directory")
}
