package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enviroquery/aqroute/internal/export"
)

var askExportPath string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one air-quality question",
	Long:  "Runs one question through the full pipeline and prints the outcome as JSON: either the merged report answer or a redirect to the SQL path.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "ask")
		if err != nil {
			return err
		}
		defer env.Close()

		question := strings.Join(args, " ")
		outcome := env.orch.Handle(ctx, question)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcome); err != nil {
			return err
		}

		if askExportPath != "" && outcome.Answer != nil {
			if err := export.WriteAnswer(askExportPath, outcome.Answer); err != nil {
				return err
			}
			zap.L().Info("answer exported", zap.String("path", askExportPath))
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVar(&askExportPath, "export", "", "write the answer to an XLSX workbook at this path")
	rootCmd.AddCommand(askCmd)
}
