package main

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pershinghar/go-termux-relay/pkg/config"
	"github.com/pershinghar/go-termux-relay/pkg/models"
	"github.com/pershinghar/go-termux-relay/pkg/util"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print snapshots published by a running relay",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Broker.URL == "" {
			return fmt.Errorf("broker.url (or %s) is required for watch", config.EnvAMQPURL)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		broker := util.NewBroker(&cfg.Broker)
		defer broker.Close()

		if err := broker.Connect(ctx); err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
		log.Printf("[watch] Connected to %s", redactURL(cfg.Broker.URL))

		queue, err := broker.Subscribe(ctx, func(msg *models.SnapshotMessage) error {
			cmd.Println(summarize(msg))
			return nil
		})
		if err != nil {
			return err
		}
		log.Printf("[watch] Watching queue '%s'", queue)

		<-ctx.Done()
		log.Println("[watch] Stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

// summarize renders one snapshot as a single line.
func summarize(msg *models.SnapshotMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", models.FormatTime(msg.Timestamp), msg.SourceID, msg.Snapshot.ConnectionStatus())

	var keys []string
	for _, group := range models.MetricGroups {
		if _, ok := msg.Snapshot[group]; ok {
			keys = append(keys, group)
		}
	}
	if len(keys) > 0 {
		fmt.Fprintf(&b, " groups=%s", strings.Join(keys, ","))
	}
	if d, ok := msg.Snapshot[models.KeyCollectionDuration]; ok {
		fmt.Fprintf(&b, " took=%vms", d)
	}
	return b.String()
}

// redactURL hides the password of a broker URL.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
