package main

import (
	"github.com/spf13/cobra"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run a test command on the device and print the reply",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		r, err := buildRelay(cmd.Context(), withoutBroker(cfg), nil)
		if err != nil {
			return err
		}
		defer r.Close()

		out, err := r.router.Probe(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Println(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
