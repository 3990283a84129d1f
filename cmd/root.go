package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enviroquery/aqroute/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "aqroute",
	Short: "Air-quality question router",
	Long:  "Routes natural-language air-quality questions: resolves locations and time ranges, dispatches per-location reporting calls, and redirects what the report path cannot answer to the SQL-generation path.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
