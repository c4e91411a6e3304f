package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/barry-cosmo/barry/internal/archive"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Inspect and convert measurement archives",
}

var archiveInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Summarise an archive's branches, poles and tables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := archive.Load(args[0])
		if err != nil {
			return eris.Wrap(err, "archive inspect")
		}
		formatArchive(os.Stdout, a)
		return nil
	},
}

var archiveConvertCmd = &cobra.Command{
	Use:   "convert <in> <out>",
	Short: "Convert an archive between JSON and HDF5",
	Long:  "Reads <in> and writes <out>, choosing each encoding from the file extension (.json, .h5, .hdf5).",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := archive.Load(args[0])
		if err != nil {
			return eris.Wrap(err, "archive convert")
		}
		if err := archive.Save(args[1], a); err != nil {
			return eris.Wrap(err, "archive convert")
		}
		zap.L().Info("archive converted", zap.String("from", args[0]), zap.String("to", args[1]))
		return nil
	},
}

func init() {
	archiveCmd.AddCommand(archiveInspectCmd)
	archiveCmd.AddCommand(archiveConvertCmd)
	rootCmd.AddCommand(archiveCmd)
}

// formatArchive writes a summary of a to out.
func formatArchive(out io.Writer, a *archive.Archive) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Name:\t%s\n", a.Name)
	_, _ = fmt.Fprintf(w, "Poles:\t%v\n", a.Poles)
	for _, k := range sortedKeys(a.Cosmology) {
		_, _ = fmt.Fprintf(w, "  %s:\t%g\n", k, a.Cosmology[k])
	}
	_ = w.Flush()

	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BRANCH\tMOCKS\tBINS\tCOV\tOBSERVED")
	_, _ = fmt.Fprintln(w, "------\t-----\t----\t---\t--------")
	for _, b := range archive.Branches {
		e, ok := a.Branches[b]
		if !ok {
			continue
		}
		bins := 0
		if e.Size() > 0 {
			bins, _ = e.Realisations[0].Dims()
		}
		cov := "-"
		if e.Cov != nil {
			r, c := e.Cov.Dims()
			cov = fmt.Sprintf("%dx%d", r, c)
		}
		observed := "no"
		if e.Observed != nil {
			observed = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", b, e.Size(), bins, cov, observed)
	}
	_ = w.Flush()
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
