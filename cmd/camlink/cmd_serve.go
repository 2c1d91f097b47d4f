package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HerbHall/camlink/internal/config"
	"github.com/HerbHall/camlink/internal/event"
	"github.com/HerbHall/camlink/internal/inventory"
	"github.com/HerbHall/camlink/internal/mqttbridge"
	"github.com/HerbHall/camlink/internal/orchestrator"
	"github.com/HerbHall/camlink/internal/plugin"
	"github.com/HerbHall/camlink/internal/poller"
	"github.com/HerbHall/camlink/internal/server"
	"github.com/HerbHall/camlink/internal/services"
	"github.com/HerbHall/camlink/internal/store"
	"github.com/HerbHall/camlink/internal/version"
)

const pruneInterval = time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			logger, err := newLogger(s.Log)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), s, logger)
		},
	}
}

func serve(ctx context.Context, s config.Settings, logger *zap.Logger) error {
	logger.Info("CamLink server starting", zap.String("version", version.Short()))

	db, err := store.New(s.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := services.Migrate(ctx, db); err != nil {
		return err
	}
	cameras := services.NewSQLiteCameraRepository(db.DB())
	attempts := services.NewSQLiteAttemptRepository(db.DB())

	if s.Inventory.Path != "" {
		if _, err := inventory.ImportFile(ctx, cameras, s.Inventory.Path, logger.Named("inventory")); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	bus := event.NewBus(logger.Named("event"))

	opts := []orchestrator.Option{
		orchestrator.WithPublisher(bus),
		orchestrator.WithMetrics(orchestrator.NewMetrics(reg)),
	}
	if s.Orchestrator.RecordAttempts {
		opts = append(opts, orchestrator.WithRecorder(attempts))
	}
	orch, set, err := buildOrchestrator(s, logger, opts...)
	if err != nil {
		return err
	}
	defer set.Close()

	plugins := plugin.NewRegistry(logger)
	if s.Poller.Enabled {
		p := poller.New(poller.RepositorySource(cameras, logger), orch, bus, poller.Options{
			Interval:    s.Poller.Interval,
			Rate:        s.Poller.Rate,
			Burst:       s.Poller.Burst,
			Concurrency: s.Poller.Concurrency,
		}, logger)
		if err := plugins.Register(p); err != nil {
			return err
		}
	}
	if s.MQTT.Enabled {
		client := event.NewMQTTClient(event.MQTTOptions{
			Broker:   s.MQTT.Broker,
			ClientID: s.MQTT.ClientID,
			Username: s.MQTT.Username,
			Password: s.MQTT.Password,
		}, logger.Named("mqtt"))
		if err := plugins.Register(mqttbridge.New(client, bus, s.MQTT.TopicPrefix, byte(s.MQTT.QoS), logger)); err != nil {
			return err
		}
	}
	if s.Discovery.Enabled {
		if err := plugins.Register(buildDiscovery(s.Discovery, cameras, bus, logger)); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := plugins.StartAll(ctx); err != nil {
		return fmt.Errorf("start plugins: %w", err)
	}
	defer plugins.StopAll()

	if s.Orchestrator.RecordAttempts && s.Orchestrator.AttemptRetention > 0 {
		go pruneAttempts(ctx, attempts, s.Orchestrator.AttemptRetention, logger)
	}

	srv := server.New(s.Server.Addr, server.Deps{
		Orchestrator: orch,
		Cameras:      cameras,
		Attempts:     attempts,
		Plugins:      plugins,
		Bus:          bus,
		Gatherer:     reg,
	}, server.Options{
		ReadTimeout:    s.Server.ReadTimeout,
		WriteTimeout:   s.Server.WriteTimeout,
		AllowedOrigins: s.Server.AllowedOrigins,
	}, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("CamLink server ready", zap.String("addr", s.Server.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("CamLink server stopped")
	return nil
}

// pruneAttempts drops attempt history older than retention, once at start
// and then hourly.
func pruneAttempts(ctx context.Context, repo services.AttemptRepository, retention time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		n, err := repo.Prune(ctx, time.Now().UTC().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("attempt prune failed", zap.Error(err))
		case n > 0:
			logger.Info("attempt history pruned", zap.Int64("removed", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
