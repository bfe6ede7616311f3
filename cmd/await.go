package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/pipeline"
)

var awaitCmd = &cobra.Command{
	Use:   "await",
	Short: "Wait for a dataset's crawl and extraction jobs to settle",
	Long: `Polls the dataset until no crawl or extraction job is queued or running, or
until the maximum wait elapses. A timeout is not an error: the command prints
the progress it last saw and exits so exports can proceed with what exists.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		datasetID, _ := cmd.Flags().GetString("dataset")

		if err := cfg.Validate("await"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		acfg := awaitConfig()
		if d, _ := cmd.Flags().GetDuration("max-wait"); d > 0 {
			acfg.MaxWait = d
		}

		p, settled, err := pipeline.Await(ctx, st, datasetID, acfg)
		if err != nil {
			return err
		}
		if !settled {
			zap.L().Warn("dataset did not settle, proceeding", zap.String("dataset_id", datasetID), zap.Int("outstanding", p.Outstanding()))
		}
		formatProgress(os.Stdout, datasetID, p)
		return nil
	},
}

func init() {
	awaitCmd.Flags().String("dataset", "", "dataset ID (required)")
	awaitCmd.Flags().Duration("max-wait", 0, "maximum wait (default from config)")
	_ = awaitCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(awaitCmd)
}
