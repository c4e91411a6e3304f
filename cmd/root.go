package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/barry-cosmo/barry/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "barry",
	Short: "BAO dataset selection and covariance assembly",
	Long:  "Loads survey measurement archives, selects realisations and fitting ranges, assembles covariance matrices and hands snapshots to the fitting layer.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
