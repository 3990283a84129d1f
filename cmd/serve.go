package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/enviroquery/aqroute/internal/model"
	"github.com/enviroquery/aqroute/internal/monitoring"
	"github.com/enviroquery/aqroute/internal/store"
)

var servePort int

// queryRunner is the handler-side view of the pipeline.
type queryRunner interface {
	Handle(ctx context.Context, question string) model.Outcome
}

type serverDeps struct {
	runner  queryRunner
	monitor *monitoring.Monitor
	alerter *monitoring.Alerter
	ledger  store.Ledger
	// breakers reports the outbound per-endpoint circuit positions; nil
	// omits them from the monitor summary.
	breakers func() map[string]string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP query server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		deps := serverDeps{
			runner:   env.orch,
			monitor:  env.monitor,
			alerter:  env.alerter,
			ledger:   env.ledger,
			breakers: env.report.BreakerStates,
		}

		go alertLoop(ctx, env.monitor, env.alerter)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(deps),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(deps serverDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/v1/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Question string `json:"question"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if req.Question == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "question is required"})
			return
		}

		outcome := deps.runner.Handle(r.Context(), req.Question)
		writeJSON(w, http.StatusOK, outcome)
	})

	r.Get("/v1/monitor/summary", func(w http.ResponseWriter, _ *http.Request) {
		snap := deps.monitor.Snapshot()
		payload := map[string]any{
			"metrics": snap,
			"alerts":  deps.alerter.Evaluate(snap),
		}
		if deps.breakers != nil {
			payload["breakers"] = deps.breakers()
		}
		writeJSON(w, http.StatusOK, payload)
	})

	r.Get("/v1/ledger/decisions", func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.ledger.RecentDecisions(r.Context(), queryLimit(r))
		if err != nil {
			zap.L().Error("ledger read failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger read failed"})
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	r.Get("/v1/ledger/errors", func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.ledger.RecentErrors(r.Context(), queryLimit(r))
		if err != nil {
			zap.L().Error("ledger read failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger read failed"})
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

// alertLoop periodically evaluates the monitor snapshot and pushes breaches
// to the configured webhook.
func alertLoop(ctx context.Context, monitor *monitoring.Monitor, alerter *monitoring.Alerter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alerts := alerter.Evaluate(monitor.Snapshot())
			if len(alerts) == 0 {
				continue
			}
			sent := alerter.SendAlerts(ctx, alerts)
			zap.L().Warn("monitor alerts raised",
				zap.Int("count", len(alerts)),
				zap.Int("sent", sent),
			)
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
