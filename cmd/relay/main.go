// Command relay serves the Termux device dashboard API over SSH.
package main

import (
	"context"
	"log"
	"os"

	"github.com/pershinghar/go-termux-relay/pkg/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "relay",
	Short:        "Relay HTTP requests to a Termux device over SSH",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (env vars override it)")
}

// loadConfig is shared by every subcommand.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		log.Printf("[main] Loaded config file: %s", configPath)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
