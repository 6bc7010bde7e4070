package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jogardn/bespoke-orders/internal/app"
	"github.com/jogardn/bespoke-orders/internal/config"
	"github.com/jogardn/bespoke-orders/internal/events"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := app.NewLogger(cfg.LogLevel)
	flush := app.InitSentry(cfg.SentryDSN, version, logger)
	defer flush()

	if cfg.Fulfillment.Brokers == "" {
		logger.Fatal("KAFKA_BROKERS must be set for the fulfillment worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notifier, err := app.NewNotifier(context.Background(), cfg.Notify, app.NewBreakers(logger), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create notifier")
	}

	consumer, err := events.NewKafkaConsumer(events.ConsumerConfig{
		Brokers:     cfg.Fulfillment.Brokers,
		GroupID:     cfg.Fulfillment.GroupID,
		TaskTimeout: cfg.Fulfillment.TaskTimeout,
	}, notifier, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down fulfillment worker...")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"brokers":  cfg.Fulfillment.Brokers,
		"group_id": cfg.Fulfillment.GroupID,
		"topic":    events.FulfillmentTopic,
	}).Info("Starting fulfillment worker")

	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Error("Fulfillment consumer stopped with error")
	}
	if err := consumer.Close(); err != nil {
		logger.WithError(err).Error("Failed to close Kafka consumer")
	}
	logger.Info("Fulfillment worker stopped")
}
