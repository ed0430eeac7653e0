package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pinpox/mcpnostr/config"
)

var (
	exportPricingConfigPath string
	exportPricingOut        string
)

var exportPricingCmd = &cobra.Command{
	Use:   "export-pricing",
	Short: "Write the config's capability_pricing table out as a standalone YAML file",
	RunE:  runExportPricing,
}

func init() {
	rootCmd.AddCommand(exportPricingCmd)
	exportPricingCmd.Flags().StringVar(&exportPricingConfigPath, "config", "", "path to config file")
	exportPricingCmd.Flags().StringVar(&exportPricingOut, "out", "pricing.yaml", "path to write the pricing table to")
}

func runExportPricing(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(exportPricingConfigPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := config.SaveCapabilityPricing(exportPricingOut, cfg.CapabilityPricing); err != nil {
		return fmt.Errorf("export pricing: %w", err)
	}
	fmt.Printf("Wrote %d capability prices to %s\n", len(cfg.CapabilityPricing), exportPricingOut)
	return nil
}
