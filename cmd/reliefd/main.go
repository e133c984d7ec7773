package main

import (
	"os"

	"github.com/spf13/cobra"

	"relief.org/internal/config"
	"relief.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "reliefd",
	Short:         "Disaster-response resource and incident service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("RELIEF_CONFIG"), "path to a TOML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		obs.Logger().Error("reliefd_failed", "error", err.Error())
		os.Exit(1)
	}
}
