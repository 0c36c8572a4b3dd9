package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Live order tracking agent for customers and riders",
	Long: `tracker follows the active order of one customer or rider session. It keeps
the order state in sync with the backend over the push channel, runs the rider
assignment countdown and location pings, and serves the state, the map widget
socket and user actions over HTTP.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), viper.GetViper())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	flags := rootCmd.Flags()
	flags.String("role", "user", "Session role: user or rider")
	flags.String("user-id", "", "Session user id (riders default to their profile id)")
	flags.String("token", "", "Bearer token for the backend")
	flags.String("api-url", "http://localhost:8080", "Backend base URL")
	flags.String("socket-url", "", "Push channel URL (derived from api-url when empty)")
	flags.String("ors-key", "", "OpenRouteService API key; routes come from the backend when empty")
	flags.String("listen-addr", ":8090", "HTTP listen address for state, actions and the map socket")
	flags.String("log-level", "info", "Log level")
	flags.Duration("poll-interval", 60*time.Second, "Active order reconciliation period (0 disables)")
	flags.Float64("lat", 0, "Device latitude reported while online")
	flags.Float64("lng", 0, "Device longitude reported while online")
	flags.String("journal-sink", "none", "Tracking journal sink: none, kafka or postgres")
	flags.String("kafka-brokers", "localhost:9092", "Kafka brokers for the journal sink")
	flags.String("postgres-dsn", "", "Postgres DSN for the journal sink")

	bindFlags(viper.GetViper(), map[string]string{
		"role":          "role",
		"user-id":       "user-id",
		"token":         "token",
		"api-url":       "api-url",
		"socket-url":    "socket-url",
		"ors-key":       "ors-key",
		"listen-addr":   "listen-addr",
		"log-level":     "log-level",
		"poll-interval": "tracking.poll-interval",
		"lat":           "location.lat",
		"lng":           "location.lng",
		"journal-sink":  "journal.sink",
		"kafka-brokers": "journal.kafka-brokers",
		"postgres-dsn":  "journal.postgres-dsn",
	})
}

// bindFlags maps command line flags onto config keys. Flags only win when
// set explicitly.
func bindFlags(v *viper.Viper, keys map[string]string) {
	for flag, key := range keys {
		cobra.CheckErr(v.BindPFlag(key, rootCmd.Flags().Lookup(flag)))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
