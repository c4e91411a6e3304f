package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/barry-cosmo/barry/internal/dataset"
	"github.com/barry-cosmo/barry/internal/store"
	"github.com/barry-cosmo/barry/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Build one dataset per fitting range and realisation of a plan",
	Long:  "Loads a YAML sweep plan, builds an independent dataset for every (range, realisation) point and reports each point's snapshot or error.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("sweep"); err != nil {
			return err
		}

		planPath, _ := cmd.Flags().GetString("plan")
		plan, err := sweep.LoadPlan(planPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("save") {
			plan.Save, _ = cmd.Flags().GetBool("save")
		}

		reg := dataset.NewRegistry()
		preset, err := reg.Get(plan.Dataset)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}

		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.Sweep.MaxConcurrent
		}
		runner := &sweep.Runner{
			Registry:      reg,
			DataDir:       dataDir(),
			Defaults:      datasetDefaults(preset.Kind()),
			MaxConcurrent: concurrency,
		}

		if plan.Save {
			var st store.Store
			st, err = initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			runner.Store = st
		}

		summary, err := runner.Run(ctx, plan)
		if err != nil {
			return err
		}

		if path, _ := cmd.Flags().GetString("out"); path != "" {
			if err := writeSummary(path, summary); err != nil {
				return err
			}
		}
		formatSweepSummary(os.Stdout, summary)
		if summary.Failed > 0 && summary.Succeeded == 0 {
			return eris.Errorf("sweep: all %d points failed", summary.Failed)
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().String("plan", "sweep.yaml", "path to the sweep plan")
	sweepCmd.Flags().Bool("save", false, "store the snapshots in the catalogue (overrides the plan)")
	sweepCmd.Flags().Int("concurrency", 0, "datasets built at once (default from config)")
	sweepCmd.Flags().String("out", "", "write the full summary with snapshots as JSON")
	rootCmd.AddCommand(sweepCmd)
}

func writeSummary(path string, summary *sweep.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "sweep: create %s", path)
	}
	defer f.Close() //nolint:errcheck
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return eris.Wrap(err, "sweep: encode summary")
	}
	return nil
}

// formatSweepSummary writes one line per sweep point followed by the totals.
func formatSweepSummary(out io.Writer, s *sweep.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "POINT\tMIN\tMAX\tREALISATION\tBINS\tRECORD\tERROR")
	_, _ = fmt.Fprintln(w, "-----\t---\t---\t-----------\t----\t------\t-----")
	for _, r := range s.Results {
		bins := "-"
		if r.Snapshot != nil {
			bins = fmt.Sprintf("%d", len(r.Snapshot.X))
		}
		record := "-"
		if r.RecordID != "" {
			record = truncateID(r.RecordID)
		}
		errMsg := ""
		if r.Err != nil {
			errMsg = r.Error
		}
		_, _ = fmt.Fprintf(w, "%d\t%g\t%g\t%s\t%s\t%s\t%s\n",
			r.Point.Index, r.Point.MinX, r.Point.MaxX, r.Point.Realisation, bins, record, errMsg)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\n%d succeeded, %d failed", s.Succeeded, s.Failed)
	if s.SweepID != "" {
		_, _ = fmt.Fprintf(out, " (sweep %s)", s.SweepID)
	}
	_, _ = fmt.Fprintln(out)
}
