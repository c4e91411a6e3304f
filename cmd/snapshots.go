package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/barry-cosmo/barry/internal/store"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Inspect the stored snapshot catalogue",
}

// -- snapshots list --

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		sweepID, _ := cmd.Flags().GetString("sweep")
		name, _ := cmd.Flags().GetString("dataset")
		limit, _ := cmd.Flags().GetInt("limit")

		recs, err := st.ListSnapshots(ctx, store.SnapshotFilter{
			SweepID: sweepID,
			Dataset: name,
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "snapshots list")
		}

		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No snapshots found.")
			return nil
		}

		formatSnapshotsList(os.Stdout, recs)
		return nil
	},
}

// -- snapshots show --

var snapshotsShowCmd = &cobra.Command{
	Use:   "show <snapshot-id>",
	Short: "Print a stored snapshot as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetSnapshot(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "snapshots show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	snapshotsListCmd.Flags().String("sweep", "", "filter by sweep ID")
	snapshotsListCmd.Flags().String("dataset", "", "filter by dataset preset")
	snapshotsListCmd.Flags().Int("limit", 50, "max number of snapshots to display")

	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsShowCmd)
	rootCmd.AddCommand(snapshotsCmd)
}

// formatSnapshotsList writes a tabular list of snapshot records to out.
func formatSnapshotsList(out io.Writer, recs []store.SnapshotRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSWEEP\tDATASET\tNAME\tRANGE\tREALISATION\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----\t-------\t----\t-----\t-----------\t-------")
	for _, r := range recs {
		sweepID := "-"
		if r.SweepID != "" {
			sweepID = truncateID(r.SweepID)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%g-%g\t%s\t%s\n",
			truncateID(r.ID),
			sweepID,
			r.Dataset,
			r.Name,
			r.MinX, r.MaxX,
			r.Realisation,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
