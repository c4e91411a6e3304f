package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/barry-cosmo/barry/internal/dataset"
	"github.com/barry-cosmo/barry/internal/store"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <preset>",
	Short: "Build a dataset and print its fitting snapshot as JSON",
	Long:  "Resolves a survey preset, loads its archive, selects the realisation and fitting range, assembles the covariance and writes the snapshot.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("dataset"); err != nil {
			return err
		}

		req, err := snapshotRequestFromFlags(cmd)
		if err != nil {
			return err
		}
		snap, opts, err := openSnapshot(dataset.NewRegistry(), args[0], req, dataDir())
		if err != nil {
			return eris.Wrap(err, "snapshot")
		}

		out := io.Writer(os.Stdout)
		if path, _ := cmd.Flags().GetString("out"); path != "" {
			f, err := os.Create(path)
			if err != nil {
				return eris.Wrapf(err, "snapshot: create %s", path)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return eris.Wrap(err, "snapshot: encode")
		}

		if save, _ := cmd.Flags().GetBool("save"); save {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			rec, err := store.NewSnapshotRecord(args[0], *snap, opts.MinX, opts.MaxX)
			if err != nil {
				return err
			}
			if err := st.SaveSnapshot(ctx, rec); err != nil {
				return eris.Wrap(err, "snapshot: save")
			}
			zap.L().Info("snapshot saved", zap.String("id", rec.ID), zap.String("dataset", args[0]))
			fmt.Fprintln(os.Stderr, rec.ID)
		}
		return nil
	},
}

func init() {
	addSnapshotFlags(snapshotCmd.Flags())
	snapshotCmd.Flags().String("out", "", "write the snapshot to a file instead of stdout")
	snapshotCmd.Flags().Bool("save", false, "also store the snapshot in the catalogue")
	rootCmd.AddCommand(snapshotCmd)
}

// addSnapshotFlags registers the dataset selection flags read by snapshotRequestFromFlags.
func addSnapshotFlags(f *pflag.FlagSet) {
	f.Int("z", 0, "redshift bin (default per preset)")
	f.String("cap", "", "galactic cap: ngc or sgc")
	f.String("variant", "", "mock or reconstruction variant")
	f.Int("smooth", 0, "reconstruction smoothing index 1-4 (default per preset)")
	f.String("cov-type", "", "covariance type: cov-std or cov-fix")
	f.String("recon", "", "reconstruction: none, iso or sym")
	f.Float64("min", 0, "minimum of the fitting range (default per statistic)")
	f.Float64("max", 0, "maximum of the fitting range (default per statistic)")
	f.String("realisation", "", "mean, data or a mock index")
	f.IntSlice("poles", nil, "multipoles to fit (default all)")
	f.Int("reduce", 0, "covariance divisor, -1 for the number of mocks (default from config)")
	f.Bool("isotropic", false, "fit the monopole only")
	f.Bool("fake-diag", false, "keep only the covariance diagonal")
	f.Int("num-mocks", 0, "override the ensemble size reported to the fitter")
	f.String("policy", "", "mock covariance policy: single or joint (default from config)")
}

// snapshotRequestFromFlags reads the dataset flags shared by snapshot commands.
func snapshotRequestFromFlags(cmd *cobra.Command) (snapshotRequest, error) {
	f := cmd.Flags()
	var req snapshotRequest
	req.Selector.RedshiftBin = changedInt(cmd, "z")
	req.Selector.GalacticCap, _ = f.GetString("cap")
	req.Selector.Variant, _ = f.GetString("variant")
	req.Selector.SmoothType = changedInt(cmd, "smooth")
	req.Selector.CovType, _ = f.GetString("cov-type")
	req.Recon, _ = f.GetString("recon")
	req.Realisation, _ = f.GetString("realisation")
	req.Poles, _ = f.GetIntSlice("poles")
	req.Reduce = changedInt(cmd, "reduce")
	req.Policy, _ = f.GetString("policy")
	req.Isotropic, _ = f.GetBool("isotropic")
	req.FakeDiag, _ = f.GetBool("fake-diag")
	req.NumMocks, _ = f.GetInt("num-mocks")

	if f.Changed("min") {
		v, err := f.GetFloat64("min")
		if err != nil {
			return req, err
		}
		req.MinX = &v
	}
	if f.Changed("max") {
		v, err := f.GetFloat64("max")
		if err != nil {
			return req, err
		}
		req.MaxX = &v
	}
	return req, nil
}

// changedInt returns the flag's value only if it was set on the command line.
func changedInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, err := cmd.Flags().GetInt(name)
	if err != nil {
		return nil
	}
	return &v
}
