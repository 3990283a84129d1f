package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/enviroquery/aqroute/internal/model"
	"github.com/enviroquery/aqroute/internal/routing"
	"github.com/enviroquery/aqroute/internal/timeparse"
)

// routeCmd explains where a question would go without calling anything
// upstream: routing decision, tool selection, and the extracted time phrases.
var routeCmd = &cobra.Command{
	Use:   "route [question]",
	Short: "Explain the routing decision for a question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("route"); err != nil {
			return err
		}

		keywords, err := routing.LoadKeywords(cfg.Routing.KeywordsPath)
		if err != nil {
			return err
		}
		patterns, err := timeparse.LoadPatterns(cfg.Pipeline.PatternsPath)
		if err != nil {
			return err
		}
		times, err := timeparse.NewResolver(patterns, nil)
		if err != nil {
			return err
		}

		question := strings.Join(args, " ")
		phrases := times.Extract(question)
		texts := make([]string, len(phrases))
		for i, p := range phrases {
			texts[i] = p.Text
		}

		explanation := struct {
			Question    string              `json:"question"`
			Decision    routing.Decision    `json:"decision"`
			Tool        model.ToolSelection `json:"tool"`
			TimePhrases []string            `json:"time_phrases"`
		}{
			Question:    question,
			Decision:    routing.NewEngine(keywords, nil).Decide(cmd.Context(), question),
			Tool:        routing.NewToolSelector(keywords).Select(question),
			TimePhrases: texts,
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(explanation)
	},
}

func init() {
	rootCmd.AddCommand(routeCmd)
}
