package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/barry-cosmo/barry/internal/dataset"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the survey dataset presets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg := dataset.NewRegistry()
		presets := reg.All()

		if kindFlag, _ := cmd.Flags().GetString("kind"); kindFlag != "" {
			kind, err := dataset.ParseKind(kindFlag)
			if err != nil {
				return err
			}
			presets = reg.ByKind(kind)
		}

		formatPresets(os.Stdout, presets)
		return nil
	},
}

func init() {
	datasetsCmd.Flags().String("kind", "", "only list presets of one statistic (xi, pk)")
	rootCmd.AddCommand(datasetsCmd)
}

// formatPresets writes a tabular list of presets to out.
func formatPresets(out io.Writer, presets []dataset.Preset) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tKIND\tDESCRIPTION")
	_, _ = fmt.Fprintln(w, "----\t----\t-----------")
	for _, p := range presets {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name(), p.Kind(), p.Description())
	}
	_ = w.Flush()
}
