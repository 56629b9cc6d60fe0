package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SergioIvanCamposROblesGRIMA/Revision-Facturas-Comercial/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "revision-facturas",
	Short: "Invoice vs purchase-order validation engine",
	Long:  "Receives invoice submissions, extracts structured invoice data via Claude, reconciles against attached purchase orders, and publishes an Excel anomaly report to Drive and Chat.",
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
