// Package main implements the entry point for the SignalStream service.
// SignalStream consumes social feed items from a JetStream work queue,
// classifies and analyzes them with LLM collaborators, and emits trading
// and notification actions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/signalstream/analysis"
	"github.com/c360/signalstream/broker"
	"github.com/c360/signalstream/config"
	"github.com/c360/signalstream/dispatch"
	"github.com/c360/signalstream/metric"
	"github.com/c360/signalstream/monitor"
	"github.com/c360/signalstream/newsstore"
	"github.com/c360/signalstream/publisher"
	"github.com/c360/signalstream/workflow"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "signalstream"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	registry := metric.NewMetricsRegistry()

	client, err := createBrokerClient(cfg, registry)
	if err != nil {
		return fmt.Errorf("create broker client: %w", err)
	}

	slog.Info("Connecting to broker", "urls", cfg.NATS.URLs)
	if err := client.Connect(signalCtx); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			slog.Error("Broker close failed", "error", err)
		}
	}()

	if err := client.EnsureStream(signalCtx, cfg.Stream.Name, []string{cfg.Stream.IngestSubject}); err != nil {
		return fmt.Errorf("ensure stream %s: %w", cfg.Stream.Name, err)
	}

	pub, err := publisher.New(client, cfg.Publisher.BufferCapacity,
		publisher.WithLogger(logger.With("component", "publisher")),
		publisher.WithMetrics(registry),
	)
	if err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}
	defer func() { _ = pub.Close() }()

	mon, err := createMonitor(cfg, client, pub, logger, registry)
	if err != nil {
		return fmt.Errorf("create connection monitor: %w", err)
	}
	if err := mon.Start(signalCtx); err != nil {
		return fmt.Errorf("start connection monitor: %w", err)
	}

	orchestrator, err := createWorkflow(cfg, logger, registry)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}

	dispatcher, err := createDispatcher(cfg, orchestrator, pub, logger, registry)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	if err := dispatcher.Start(signalCtx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}

	err = client.Consume(signalCtx, cfg.Stream.Name, cfg.Stream.IngestSubject,
		func(ctx context.Context, delivery *broker.Delivery) {
			if err := dispatcher.OnDelivery(ctx, delivery); err != nil {
				slog.Warn("Delivery rejected", "subject", delivery.Subject(), "error", err)
			}
		})
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.Stream.IngestSubject, err)
	}

	metricsServer := startMetricsServer(cfg, registry)

	slog.Info("SignalStream started",
		"stream", cfg.Stream.Name,
		"ingest_subject", cfg.Stream.IngestSubject,
		"dispatcher_capacity", cfg.Dispatcher.Capacity)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	return shutdown(cfg, mon, dispatcher, pub, metricsServer)
}

// createBrokerClient builds the JetStream client from config.
func createBrokerClient(cfg *config.Config, registry *metric.MetricsRegistry) (*broker.Client, error) {
	opts := []broker.ClientOption{
		broker.WithName(cfg.NATS.Name),
		broker.WithReconnectWait(cfg.NATS.ReconnectWait),
		broker.WithPingInterval(cfg.NATS.PingInterval),
		broker.WithDrainTimeout(cfg.NATS.DrainTimeout),
		broker.WithPrefetch(cfg.Stream.Prefetch),
		broker.WithAckWait(cfg.Stream.AckWait),
		broker.WithMetrics(registry),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, broker.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, broker.WithToken(cfg.NATS.Token))
	}

	return broker.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
}

// createMonitor builds the connection monitor. Recovery flushes the
// publisher's buffered messages.
func createMonitor(
	cfg *config.Config,
	client *broker.Client,
	pub *publisher.Publisher,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*monitor.Monitor, error) {
	return monitor.New(client,
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithRetries(cfg.Monitor.Retries),
		monitor.WithRetryDelay(cfg.Monitor.RetryDelay),
		monitor.WithOnRecovered(pub.OnRecovered),
		monitor.WithLogger(logger.With("component", "monitor")),
		monitor.WithMetrics(registry),
	)
}

// createWorkflow builds the orchestrator with its LLM collaborators and
// the in-memory news store.
func createWorkflow(
	cfg *config.Config,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*workflow.Orchestrator, error) {
	store, err := newsstore.New(newsstore.WithMetrics(registry, "newsstore"))
	if err != nil {
		return nil, fmt.Errorf("create news store: %w", err)
	}

	analysisCfg := analysis.Config{
		BaseURL: cfg.Analysis.BaseURL,
		Model:   cfg.Analysis.Model,
		APIKey:  cfg.Analysis.APIKey,
		Timeout: cfg.Analysis.Timeout,
		Logger:  logger.With("component", "analysis"),
	}
	visionCfg := analysisCfg
	visionCfg.Model = cfg.Analysis.VisionModel

	filter, err := analysis.NewTopicClassifier(analysisCfg)
	if err != nil {
		return nil, fmt.Errorf("create topic classifier: %w", err)
	}
	scorer, err := analysis.NewNewsScorer(analysisCfg)
	if err != nil {
		return nil, fmt.Errorf("create news scorer: %w", err)
	}
	textDetector, err := analysis.NewTokenDetector(analysisCfg, analysis.ModeText)
	if err != nil {
		return nil, fmt.Errorf("create text detector: %w", err)
	}
	imageDetector, err := analysis.NewTokenDetector(visionCfg, analysis.ModeImage)
	if err != nil {
		return nil, fmt.Errorf("create image detector: %w", err)
	}
	linkDetector, err := analysis.NewTokenDetector(analysisCfg, analysis.ModeLink)
	if err != nil {
		return nil, fmt.Errorf("create link detector: %w", err)
	}

	return workflow.New(
		filter,
		analysis.NewTextFingerprinter(),
		scorer,
		workflow.Detectors{
			Text:  textDetector,
			Image: imageDetector,
			Link:  linkDetector,
		},
		store,
		workflow.WithLogger(logger.With("component", "workflow")),
		workflow.WithMetrics(registry, appName),
	)
}

// createDispatcher builds the worker dispatcher routing actions to the
// configured outbound subjects.
func createDispatcher(
	cfg *config.Config,
	orchestrator *workflow.Orchestrator,
	pub *publisher.Publisher,
	logger *slog.Logger,
	registry *metric.MetricsRegistry,
) (*dispatch.Dispatcher, error) {
	return dispatch.New(cfg.Dispatcher.Capacity, orchestrator, pub,
		dispatch.WithTimeout(cfg.Dispatcher.ProcessingTimeout),
		dispatch.WithSubjects(map[workflow.ActionType]string{
			workflow.ActionSnipe:  cfg.Stream.SnipeSubject,
			workflow.ActionTrade:  cfg.Stream.TradeSubject,
			workflow.ActionNotify: cfg.Stream.NotifySubject,
		}),
		dispatch.WithLogger(logger.With("component", "dispatcher")),
		dispatch.WithMetricsRegistry(registry, appName),
	)
}

// startMetricsServer starts the Prometheus endpoint when enabled.
// Returns nil when metrics are disabled.
func startMetricsServer(cfg *config.Config, registry *metric.MetricsRegistry) *metric.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	slog.Info("Metrics server listening", "address", server.Address())
	return server
}

// shutdown stops the services in dependency order: stop accepting work,
// drain in-flight workers, flush buffered output, then close the rest.
func shutdown(
	cfg *config.Config,
	mon *monitor.Monitor,
	dispatcher *dispatch.Dispatcher,
	pub *publisher.Publisher,
	metricsServer *metric.Server,
) error {
	deadline := time.Now().Add(cfg.Dispatcher.ShutdownTimeout)

	if err := mon.Stop(5 * time.Second); err != nil {
		slog.Warn("Monitor stop failed", "error", err)
	}

	if err := dispatcher.Shutdown(time.Until(deadline)); err != nil {
		slog.Warn("Dispatcher shutdown incomplete, proceeding", "error", err)
	}

	flushCtx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()
	if sent, remaining := pub.Flush(flushCtx); remaining > 0 {
		slog.Warn("Unflushed messages at shutdown", "sent", sent, "remaining", remaining)
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Warn("Metrics server stop failed", "error", err)
		}
	}

	slog.Info("SignalStream shutdown complete")
	return nil
}

// loadConfig builds the layered configuration. An empty path runs on
// defaults plus environment overrides.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.AddLayer(path)
	}
	return loader.Load()
}
