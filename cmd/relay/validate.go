package main

import (
	"github.com/pershinghar/go-termux-relay/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and print the effective settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			return err
		}
		cmd.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// redacted copies cfg with secrets masked.
func redacted(cfg *config.Config) *config.Config {
	c := *cfg
	if c.Target.KeyPassphrase != "" {
		c.Target.KeyPassphrase = "***"
	}
	if c.Broker.URL != "" {
		c.Broker.URL = redactURL(c.Broker.URL)
	}
	return &c
}

// withoutBroker returns a copy of cfg that does not publish snapshots.
func withoutBroker(cfg *config.Config) *config.Config {
	c := *cfg
	c.Broker.URL = ""
	return &c
}
