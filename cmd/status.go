package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/store"
)

// statusSource is the slice of the store the status command reads.
type statusSource interface {
	GetRun(ctx context.Context, id string) (*model.DiscoveryRun, error)
	ListRunsByDataset(ctx context.Context, datasetID string, limit int) ([]model.DiscoveryRun, error)
	DatasetProgress(ctx context.Context, datasetID string) (store.Progress, error)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show discovery runs and job progress",
	Long:  "Display a run, or a dataset's recent runs, with crawl and extraction job counts by status.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		runID, _ := cmd.Flags().GetString("run")
		datasetID, _ := cmd.Flags().GetString("dataset")
		limit, _ := cmd.Flags().GetInt("limit")
		if runID == "" && datasetID == "" {
			return eris.New("status: --run or --dataset is required")
		}

		if err := cfg.Validate("status"); err != nil {
			return err
		}
		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		return printStatus(ctx, os.Stdout, st, runID, datasetID, limit)
	},
}

func printStatus(ctx context.Context, out io.Writer, src statusSource, runID, datasetID string, limit int) error {
	var runs []model.DiscoveryRun
	if runID != "" {
		run, err := src.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		runs = append(runs, *run)
		if datasetID == "" {
			datasetID = run.DatasetID
		}
	} else {
		var err error
		runs, err = src.ListRunsByDataset(ctx, datasetID, limit)
		if err != nil {
			return err
		}
	}

	formatRuns(out, runs)
	if datasetID == "" {
		return nil
	}

	p, err := src.DatasetProgress(ctx, datasetID)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out)
	formatProgress(out, datasetID, p)
	return nil
}

// runStats is the part of a run's stored summary shown in the table.
type runStats struct {
	BusinessesFound int     `json:"businesses_found"`
	WebsitePct      float64 `json:"website_pct"`
	CrawlJobs       int     `json:"crawl_jobs"`
}

func formatRuns(out io.Writer, runs []model.DiscoveryRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDATASET\tSTATUS\tFOUND\tWEBSITE%\tCRAWLS\tCOST\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t-----\t--------\t------\t----\t-----")

	for _, r := range runs {
		var stats runStats
		if len(r.Stats) > 0 {
			_ = json.Unmarshal(r.Stats, &stats)
		}
		var costs cost.Estimate
		if len(r.CostEstimates) > 0 {
			_ = json.Unmarshal(r.CostEstimates, &costs)
		}
		errMsg := ""
		if r.ErrorMessage != nil {
			errMsg = *r.ErrorMessage
			if len(errMsg) > 50 {
				errMsg = errMsg[:47] + "..."
			}
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1f\t%d\t$%.2f\t%s\n",
			shortUUID(r.ID),
			shortUUID(r.DatasetID),
			r.Status,
			stats.BusinessesFound,
			stats.WebsitePct,
			stats.CrawlJobs,
			costs.Total,
			errMsg,
		)
	}
	_ = w.Flush()
}

func formatProgress(out io.Writer, datasetID string, p store.Progress) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "DATASET %s\tQUEUED\tRUNNING\tDONE\tFAILED\n", shortUUID(datasetID))
	_, _ = fmt.Fprintf(w, "crawl\t%d\t%d\t%d\t%d\n",
		p.Crawl[model.CrawlStatusQueued],
		p.Crawl[model.CrawlStatusRunning],
		p.Crawl[model.CrawlStatusSuccess],
		p.Crawl[model.CrawlStatusFailed],
	)
	_, _ = fmt.Fprintf(w, "extraction\t%d\t%d\t%d\t%d\n",
		p.Extraction[model.ExtractionStatusQueued],
		p.Extraction[model.ExtractionStatusRunning],
		p.Extraction[model.ExtractionStatusSuccess],
		p.Extraction[model.ExtractionStatusFailed],
	)
	_ = w.Flush()
}

func shortUUID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statusCmd.Flags().String("run", "", "run ID")
	statusCmd.Flags().String("dataset", "", "dataset ID")
	statusCmd.Flags().Int("limit", 20, "maximum runs listed for a dataset")
	rootCmd.AddCommand(statusCmd)
}
