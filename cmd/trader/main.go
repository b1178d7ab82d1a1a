package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/tradekit/tradeloop/internal/chaos"
	"github.com/tradekit/tradeloop/internal/config"
	"github.com/tradekit/tradeloop/internal/engine"
	"github.com/tradekit/tradeloop/internal/feed"
	"github.com/tradekit/tradeloop/internal/logging"
	"github.com/tradekit/tradeloop/internal/msg"
	"github.com/tradekit/tradeloop/internal/observability"
	"github.com/tradekit/tradeloop/internal/order"
	"github.com/tradekit/tradeloop/internal/portfolio"
	"github.com/tradekit/tradeloop/internal/risk"
	"github.com/tradekit/tradeloop/internal/sizing"
	"github.com/tradekit/tradeloop/internal/store"
	"github.com/tradekit/tradeloop/internal/strategy"
	"github.com/tradekit/tradeloop/internal/telemetry"
	"github.com/tradekit/tradeloop/internal/venue"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig("trader")

	// Initialize logger
	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting trader service",
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("feed_kind", cfg.FeedKind),
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_capacity", cfg.QueueCapacity),
		zap.Float64("initial_capital", cfg.InitialCapital),
	)

	// Create health checker
	healthChecker := observability.NewHealthChecker(logger)

	// Open durable state store
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		logger.Fatal("failed to open state store", zap.Error(err))
	}
	defer st.Close()
	healthChecker.SetStoreReady(true)

	// Telemetry sink
	sink := telemetry.NewMemory()

	// Strategy engine with the built-in strategies activated
	strategies := strategy.NewEngine(logger, sink)
	strategies.Register("momentum", strategy.NewMomentum(0.01))
	strategies.Register("mean-reversion", strategy.NewMeanReversion(20, 0.02))
	if err := strategies.Activate("momentum"); err != nil {
		logger.Fatal("failed to activate strategy", zap.Error(err))
	}
	if err := strategies.Activate("mean-reversion"); err != nil {
		logger.Fatal("failed to activate strategy", zap.Error(err))
	}

	// Risk gate
	gate := risk.NewGate(risk.Config{
		MaxPositionSize: cfg.MaxPositionSize,
		MaxDrawdown:     cfg.MaxDrawdown,
	}, logger)

	// Position sizer with per-strategy performance stats
	sizer := sizing.NewSizer(sizing.FixedStats{
		"momentum":       {WinRate: 0.55, PayoffRatio: 1.4},
		"mean-reversion": {WinRate: 0.60, PayoffRatio: 1.1},
	}, logger)

	// Simulated execution venue, with optional fault injection
	faults := chaos.New(chaos.LoadConfig(), logger)
	sim := venue.NewSimulator(venue.Config{SlippageBps: cfg.VenueSlippageBps}, faults, logger)

	// Optional Kafka publisher for terminal order events
	var events engine.EventPublisher
	var producer *msg.Producer
	if cfg.PublishOrderEvents {
		producer, err = msg.NewProducer(msg.LoadConfig(), logger)
		if err != nil {
			logger.Fatal("failed to create kafka producer", zap.Error(err))
		}
		defer producer.Close()
		events = producer
	}

	// Control loop
	book := portfolio.NewBook(cfg.InitialCapital)
	loop := engine.New(engine.Config{
		QueueCapacity:     cfg.QueueCapacity,
		Workers:           cfg.Workers,
		SnapshotCacheTTL:  cfg.CacheTTL,
		ReconcileInterval: cfg.ReconcileInterval,
		Order: order.Config{
			MaxAttempts:  cfg.DispatchMaxAttempts,
			RetryBackoff: cfg.DispatchBackoff,
		},
	}, engine.Deps{
		Strategies: strategies,
		Gate:       gate,
		Sizer:      sizer,
		Venue:      sim,
		Store:      st,
		Cache:      store.NewMemoryCache(),
		Book:       book,
		Sink:       sink,
		Events:     events,
		Logger:     logger,
	})

	// Feed source
	var source feed.Source
	switch cfg.FeedKind {
	case "websocket":
		if cfg.FeedURL == "" {
			logger.Fatal("FEED_URL is required for the websocket feed")
		}
		source = feed.NewWebSocketSource(cfg.FeedURL, logger)
	case "kafka":
		kafkaSource, err := feed.NewKafkaSource(msg.LoadConfig(), cfg.FeedGroup, logger)
		if err != nil {
			logger.Fatal("failed to create kafka feed", zap.Error(err))
		}
		source = kafkaSource
	default:
		logger.Fatal("unknown feed kind", zap.String("feed_kind", cfg.FeedKind))
	}

	ingestor := feed.NewIngestor(source, loop, sink, logger)

	// Create gRPC server with the health service
	grpcServer := grpc.NewServer()
	healthChecker.RegisterGRPC(grpcServer)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			grpcErrCh <- err
		}
	}()

	// Start HTTP health server
	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr()); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
	}()

	// Start the pipeline
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop.Start(ctx)
	ingestor.Start(ctx)
	healthChecker.SetFeedReady(true)

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-grpcErrCh:
		logger.Error("gRPC server error", zap.Error(err))
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
	}

	// Graceful shutdown: stop the feed first, then drain the engine so every
	// in-flight order reaches a terminal state
	logger.Info("shutting down gracefully...")

	healthChecker.SetFeedReady(false)
	ingestor.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	loop.Stop(shutdownCtx)

	snap := loop.LatestSnapshot()
	logger.Info("final portfolio state",
		zap.String("cash", snap.Cash.StringFixed(2)),
		zap.String("total_value", snap.TotalValue.StringFixed(2)),
		zap.String("realized_pnl", snap.RealizedPnL.StringFixed(2)),
		zap.Int("open_positions", snap.PositionCount),
	)

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("trader service stopped")
}
