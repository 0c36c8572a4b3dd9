package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jogardn/delivery-tracker/internal/circuitbreaker"
	"github.com/jogardn/delivery-tracker/internal/config"
	"github.com/jogardn/delivery-tracker/internal/control"
	"github.com/jogardn/delivery-tracker/internal/geo"
	"github.com/jogardn/delivery-tracker/internal/journal"
	"github.com/jogardn/delivery-tracker/internal/metrics"
	"github.com/jogardn/delivery-tracker/internal/orders"
	"github.com/jogardn/delivery-tracker/internal/realtime"
	"github.com/jogardn/delivery-tracker/internal/routing"
	"github.com/jogardn/delivery-tracker/internal/session"
	"github.com/jogardn/delivery-tracker/internal/tracking"
	"github.com/jogardn/delivery-tracker/internal/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func run(parent context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v, cfgFile, envFile)
	if err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.SetLevel(level)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		MaxFailures:   cfg.Breaker.MaxFailures,
		Timeout:       cfg.Breaker.Timeout,
		MaxRequests:   cfg.Breaker.MaxRequests,
		IsFailure:     orders.IsBackendFailure,
		OnStateChange: metrics.ObserveBreaker,
	}, logger)

	orderClient := orders.NewOrderServiceClient(cfg.APIURL, cfg.Token, cfg.TrackerRole(), breakers, logger)

	push := realtime.NewClient(cfg.SocketURL, cfg.Token, logger)
	push.SetReconnectDelay(cfg.Tracking.ReconnectDelay)

	routes := routing.NewClient(routing.Config{
		BackendURL: cfg.APIURL,
		Token:      cfg.Token,
		ORSKey:     cfg.ORSKey,
		ORSURL:     cfg.ORSURL,
	}, breakers.Breaker("routing"), logger)

	hub := websocket.NewHub(logger)

	sink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	recorder := journal.NewRecorder(sink, cfg.Journal.Buffer, logger)

	coordinator := tracking.New(tracking.Config{
		Role:             cfg.TrackerRole(),
		UserID:           cfg.UserID,
		AcceptWindow:     cfg.Tracking.AcceptWindow,
		CountdownTick:    cfg.Tracking.CountdownTick,
		LocationInterval: cfg.Tracking.LocationInterval,
		PollInterval:     cfg.Tracking.PollInterval,
	}, tracking.Dependencies{
		Orders:   orderClient,
		Channel:  push,
		Routes:   routes,
		Renderer: hub,
		Locator:  geo.NewFixed(cfg.Location.Lat, cfg.Location.Lng),
		Journal:  recorder,
		Store:    session.NewStore(session.State{Role: cfg.TrackerRole(), UserID: cfg.UserID}),
	}, logger)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      control.NewRouter(control.NewHandler(coordinator, hub, breakers, logger)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"role":         cfg.Role,
		"api_url":      cfg.APIURL,
		"socket_url":   cfg.SocketURL,
		"journal_sink": cfg.Journal.Sink,
		"listen_addr":  cfg.ListenAddr,
	}).Info("Starting order tracker")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := push.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("push channel: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		updates, cancel := coordinator.Subscribe()
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case state := <-updates:
				hub.PublishState(state)
			}
		}
	})

	g.Go(func() error {
		if err := coordinator.Start(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("start tracking: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.WithField("addr", cfg.ListenAddr).Info("Starting control server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down order tracker...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Server forced to shutdown")
		}

		coordinator.Close()
		if err := recorder.Close(); err != nil {
			logger.WithError(err).Error("Failed to close journal sink")
		}
		return nil
	})

	err = g.Wait()
	if err != nil {
		logger.WithError(err).Error("Order tracker stopped with error")
		return err
	}
	logger.Info("Order tracker gracefully stopped")
	return nil
}

func openSink(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (journal.Sink, error) {
	switch cfg.Journal.Sink {
	case config.SinkKafka:
		sink, err := journal.NewKafkaSink(cfg.Journal.KafkaBrokers, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka journal sink: %w", err)
		}
		return sink, nil
	case config.SinkPostgres:
		sink, err := journal.NewPostgresSink(ctx, cfg.Journal.PostgresDSN, 5, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres journal sink: %w", err)
		}
		return sink, nil
	default:
		return journal.NopSink{}, nil
	}
}
