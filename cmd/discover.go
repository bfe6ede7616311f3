package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/pipeline"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover businesses for a location and industry",
	Long: `Creates a discovery run, resolves businesses from stored data, the registry
or a place-search grid, and enqueues crawl and extraction jobs for them.

With --queue the run is only recorded as pending for a worker to pick up.
With --wait the command blocks until the dataset's jobs settle.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req, err := requestFromFlags(cmd)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, "discover")
		if err != nil {
			return err
		}
		defer env.Close()

		if queue, _ := cmd.Flags().GetBool("queue"); queue {
			run, err := env.Orchestrator.CreateRun(ctx, req)
			if err != nil {
				return eris.Wrap(err, "discover: queue run")
			}
			zap.L().Info("run queued", zap.String("run_id", run.ID))
			_, _ = fmt.Fprintln(os.Stdout, run.ID)
			return nil
		}

		run, summary, err := env.Orchestrator.Discover(ctx, req)
		if err != nil {
			if run != nil {
				zap.L().Error("discovery failed", zap.String("run_id", run.ID), zap.Error(err))
			}
			return err
		}
		if err := writeSummary(os.Stdout, run.ID, summary); err != nil {
			return err
		}

		if wait, _ := cmd.Flags().GetBool("wait"); wait && summary.DatasetID != "" {
			progress, settled, err := pipeline.Await(ctx, env.Store, summary.DatasetID, awaitConfig())
			if err != nil {
				return err
			}
			zap.L().Info("dataset wait finished",
				zap.Bool("settled", settled),
				zap.Int("outstanding", progress.Outstanding()),
			)
		}
		return nil
	},
}

// requestFromFlags builds a discovery request from the command flags.
func requestFromFlags(cmd *cobra.Command) (discovery.Request, error) {
	f := cmd.Flags()
	user, _ := f.GetString("user")
	dataset, _ := f.GetString("dataset")
	location, _ := f.GetString("location")
	subs, _ := f.GetStringSlice("sub-location")
	industry, _ := f.GetString("industry")
	group, _ := f.GetString("group")
	mode, _ := f.GetString("mode")
	refresh, _ := f.GetBool("refresh")
	radius, _ := f.GetFloat64("radius-km")

	req := discovery.Request{
		DatasetID:     dataset,
		UserID:        user,
		LocationID:    location,
		SubLocations:  subs,
		Industry:      industry,
		IndustryGroup: group,
		Mode:          discovery.Mode(mode),
		RadiusKM:      radius,
		Refresh:       refresh,
	}
	if f.Changed("lat") || f.Changed("lng") {
		lat, _ := f.GetFloat64("lat")
		lng, _ := f.GetFloat64("lng")
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return req, eris.Errorf("discover: center %f,%f out of range", lat, lng)
		}
		req.Center = &discovery.LatLng{Lat: lat, Lng: lng}
	}
	return req, req.Validate()
}

func writeSummary(out io.Writer, runID string, s *pipeline.Summary) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(struct {
		RunID string `json:"run_id"`
		*pipeline.Summary
	}{runID, s}), "discover: write summary")
}

func awaitConfig() pipeline.AwaitConfig {
	return pipeline.AwaitConfig{
		MaxWait:      time.Duration(cfg.Await.MaxWaitSecs) * time.Second,
		PollInterval: time.Duration(cfg.Await.PollIntervalSecs) * time.Second,
	}
}

// registerDiscoverFlags adds the request flags read by requestFromFlags.
func registerDiscoverFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("user", "", "owner of the dataset")
	f.String("dataset", "", "existing dataset ID to attach businesses to")
	f.String("location", "", "prefecture or municipality code (required)")
	f.StringSlice("sub-location", nil, "municipality codes to query instead of the location itself")
	f.String("industry", "", "catalog industry")
	f.String("group", "", "catalog industry group")
	f.String("mode", string(discovery.ModeRegistry), "source used when no stored businesses match: registry or grid")
	f.Float64("lat", 0, "grid center latitude")
	f.Float64("lng", 0, "grid center longitude")
	f.Float64("radius-km", 0, "grid radius (default from config)")
	f.Bool("refresh", false, "query the source even when stored businesses match")
}

func init() {
	registerDiscoverFlags(discoverCmd)
	discoverCmd.Flags().Bool("queue", false, "record a pending run for a worker instead of running now")
	discoverCmd.Flags().Bool("wait", false, "wait for the dataset's crawl and extraction jobs to settle")
	_ = discoverCmd.MarkFlagRequired("location")
	rootCmd.AddCommand(discoverCmd)
}
