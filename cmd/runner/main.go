package main

import (
	"fmt"
	"os"

	"github.com/nadmax/nexrun/internal/config"
	"github.com/nadmax/nexrun/internal/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "runner",
	Short: "nexrun campaign runner",
	Long: `runner drives campaigns of concurrent task attempts until each reaches
its target number of successes.

Campaigns run in this process with "run", or are handed to a nexrun server
through Redis with "submit". "stop" and "status" work on campaigns started
by any process sharing the same Redis.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded
		logger.Init(cfg.Log.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("NEXRUN_CONFIG"), "Path to nexrun.ini (or set NEXRUN_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
