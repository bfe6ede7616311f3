package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector/internal/monitoring"
	"github.com/sells-group/prospector/internal/pipeline"
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run discovery, crawl and extraction workers",
	Long: `Claims pending discovery runs, crawl jobs and extraction jobs and processes
them with fixed-size worker pools. Serves /healthz, /metrics and dataset
progress on the configured port.

With --once the workers drain the queues and exit without serving.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, cfg, "work")
		if err != nil {
			return err
		}
		defer env.Close()

		workers, err := initWorkers(ctx, cfg, env)
		if err != nil {
			return err
		}

		if once, _ := cmd.Flags().GetBool("once"); once {
			stats, err := workers.Drain(ctx)
			zap.L().Info("queues drained", zap.Stringer("handled", stats))
			return err
		}

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env.Store),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			monitoring.NewReporter(env.Store, time.Duration(cfg.Workers.MetricsSecs)*time.Second).Run(gctx)
			return nil
		})
		g.Go(func() error {
			return workers.Run(gctx)
		})
		return g.Wait()
	},
}

// buildRouter serves health, metrics and per-dataset progress.
func buildRouter(progress pipeline.ProgressSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/datasets/{datasetID}/progress", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "datasetID")
		p, err := progress.DatasetProgress(req.Context(), id)
		if err != nil {
			zap.L().Error("dataset progress failed", zap.String("dataset_id", id), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "progress unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, struct {
			DatasetID   string `json:"dataset_id"`
			Outstanding int    `json:"outstanding"`
			Settled     bool   `json:"settled"`
			Crawl       any    `json:"crawl"`
			Extraction  any    `json:"extraction"`
		}{id, p.Outstanding(), p.Outstanding() == 0, p.Crawl, p.Extraction})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	workCmd.Flags().Int("port", 0, "server port (default from config)")
	workCmd.Flags().Bool("once", false, "drain the queues and exit")
	rootCmd.AddCommand(workCmd)
}
