package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jogardn/delivery-tracker/internal/journal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "journal-monitor",
	Short: "Tails the order tracking journal topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		return monitor(viper.GetString("kafka-brokers"), viper.GetString("group"), viper.GetBool("from-oldest"), viper.GetString("order-id"))
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().String("kafka-brokers", "localhost:9092", "Kafka broker list")
	rootCmd.Flags().String("group", "journal-monitor-group", "Consumer group id")
	rootCmd.Flags().Bool("from-oldest", false, "Start from the oldest retained entry")
	rootCmd.Flags().String("order-id", "", "Only print entries for this order")

	viper.SetEnvPrefix("TRACKER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	cobra.CheckErr(viper.BindPFlags(rootCmd.Flags()))
}

func monitor(brokers, group string, fromOldest bool, orderID string) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	handler := &entryPrinter{orderID: orderID, logger: logger}
	consumer, err := journal.NewConsumer(brokers, group, fromOldest, handler, logger)
	if err != nil {
		return fmt.Errorf("failed to create journal consumer: %w", err)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"topic":   journal.Topic,
		"brokers": brokers,
		"group":   group,
	}).Info("Journal monitor started")

	if err := consumer.Start(ctx); err != nil {
		return err
	}
	logger.Info("Journal monitor stopped")
	return nil
}

type entryPrinter struct {
	orderID string
	logger  *logrus.Logger
}

func (p *entryPrinter) HandleEntry(entry journal.Entry) error {
	if p.orderID != "" && entry.OrderID != p.orderID {
		return nil
	}

	fields := logrus.Fields{
		"kind":    entry.Kind,
		"role":    entry.Role,
		"user_id": entry.UserID,
	}
	if entry.OrderID != "" {
		fields["order_id"] = entry.OrderID
	}
	if entry.AssignmentID != "" {
		fields["assignment_id"] = entry.AssignmentID
	}
	if entry.Status != "" {
		fields["status"] = entry.Status
	}
	p.logger.WithFields(fields).Info("Journal entry")

	fmt.Printf("\n=== %s ===\n", entry.Kind)
	fmt.Printf("Time: %s\n", entry.RecordedAt.Format(time.RFC3339))
	fmt.Printf("Session: %s %s\n", entry.Role, entry.UserID)
	if entry.OrderID != "" {
		fmt.Printf("Order: %s %s\n", entry.OrderID, entry.Status)
	}
	if entry.Detail != "" {
		fmt.Printf("Detail: %s\n", entry.Detail)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
