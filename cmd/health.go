package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/enviroquery/aqroute/internal/monitoring"
	"github.com/enviroquery/aqroute/internal/store"
)

// healthReport is the printed shape of the health command.
type healthReport struct {
	Driver    string                   `json:"driver"`
	Errors    []monitoring.ErrorRecord `json:"recent_errors"`
	Decisions []store.DecisionEntry    `json:"recent_decisions"`
	ByKind    map[string]int           `json:"errors_by_kind"`
}

var healthLimit int

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Summarize recent errors and routing decisions from the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ledger, err := store.Open(ctx, cfg.Ledger)
		if err != nil {
			return err
		}
		defer ledger.Close()

		errs, err := ledger.RecentErrors(ctx, healthLimit)
		if err != nil {
			return err
		}
		decisions, err := ledger.RecentDecisions(ctx, healthLimit)
		if err != nil {
			return err
		}

		report := healthReport{
			Driver:    cfg.Ledger.Driver,
			Errors:    errs,
			Decisions: decisions,
			ByKind:    make(map[string]int),
		}
		for _, e := range errs {
			report.ByKind[string(e.Kind)]++
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	healthCmd.Flags().IntVar(&healthLimit, "limit", 50, "maximum ledger rows to read per table")
	rootCmd.AddCommand(healthCmd)
}
