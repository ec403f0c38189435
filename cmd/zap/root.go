package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-zap/config"
	"github.com/saiset-co/sai-zap/service"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "zap",
	Short: "Run and deploy .zap request handlers",
	Long: `zap evaluates single-file JavaScript handlers stored in an object store.

Handlers are served over HTTP, from Lambda events, or fired on a cron
schedule declared with a "// @cron" line in the handler source.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("ZAP_CONFIG"), "path to config file (or set ZAP_CONFIG)")
}

// newHost loads configuration from --config plus the environment and wires a
// host around it.
func newHost(ctx context.Context) (*service.Host, error) {
	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, err
	}

	return service.NewHost(ctx, configManager)
}
