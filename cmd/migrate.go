package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enviroquery/aqroute/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := store.Open(cmd.Context(), cfg.Ledger)
		if err != nil {
			return err
		}
		defer ledger.Close()

		if err := ledger.Migrate(cmd.Context()); err != nil {
			return err
		}
		zap.L().Info("ledger schema up to date", zap.String("driver", cfg.Ledger.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
