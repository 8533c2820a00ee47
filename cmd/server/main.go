package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nathanyu/transfer-actuator/internal/actuator"
	"github.com/nathanyu/transfer-actuator/internal/config"
	"github.com/nathanyu/transfer-actuator/internal/cqrs"
	"github.com/nathanyu/transfer-actuator/internal/domain"
	"github.com/nathanyu/transfer-actuator/internal/handler"
	"github.com/nathanyu/transfer-actuator/internal/journal"
	"github.com/nathanyu/transfer-actuator/internal/ledger"
	"github.com/nathanyu/transfer-actuator/internal/middleware"
	"github.com/nathanyu/transfer-actuator/internal/params"
	"github.com/nathanyu/transfer-actuator/internal/processor"
	"github.com/nathanyu/transfer-actuator/internal/queue"
	"github.com/nathanyu/transfer-actuator/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.InitLogger(cfg.Service, telemetry.ParseLevel(cfg.LogLevel))

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	cleanup, err := telemetry.InitTracer(telemetry.TracerConfig{
		ServiceName: cfg.Service,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
	})
	if err != nil {
		logger.Warn("failed to initialize tracer", slog.String("error", err.Error()))
	} else {
		defer cleanup()
	}

	gin.SetMode(cfg.GinMode)
	logger.Info("starting transfer actuator service",
		slog.String("store", cfg.Store.Backend),
		slog.Bool("nats", cfg.NATS.Enabled),
	)

	// 1. Ledger backend
	state, closeState, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer closeState()

	// 2. Chain parameters and actuators
	provider, err := params.NewStatic(cfg.Chain.NonExistentAccountTransferMin, cfg.Chain.TransferFee)
	if err != nil {
		return fmt.Errorf("chain parameters: %w", err)
	}
	prefix, err := cfg.Chain.Prefix()
	if err != nil {
		return err
	}
	env := actuator.NewEnv(state, provider,
		actuator.WithAddressValidator(domain.PrefixValidator(prefix)),
		actuator.WithLogger(logger.With(slog.String("component", "actuator"))),
		actuator.WithDeferredAccountCreation(cfg.Chain.DeferAccountCreation),
	)
	registry := actuator.NewRegistry(env)

	// 3. Journal
	if dir := filepath.Dir(cfg.Journal.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create journal directory: %w", err)
		}
	}
	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	// 4. NATS
	var natsClient *queue.NATSClient
	opts := []processor.Option{
		processor.WithJournal(j),
		processor.WithLogger(logger.With(slog.String("component", "processor"))),
	}
	if cfg.NATS.Enabled {
		natsClient, err = queue.NewNATSClient(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		logger.Info("connected to NATS", slog.String("url", cfg.NATS.URL))

		opts = append(opts,
			processor.WithNATS(natsClient.Conn()),
			processor.WithPublisher(processor.NewEventPublisher(
				natsClient.Conn(), processor.EventSubject, processor.DefaultBreakerSettings(), logger,
			)),
		)
	}

	// 5. Processor and read model
	proc := processor.New(state, registry, opts...)
	readModelLogger := cqrs.WithLogger(logger.With(slog.String("component", "read_model")))
	readModel := cqrs.NewReadModel(nil, cqrs.DefaultHistoryLimit, readModelLogger)
	if natsClient != nil {
		readModel = cqrs.NewReadModel(natsClient.Conn(), cqrs.DefaultHistoryLimit, readModelLogger)
	}

	// 6. Replay the journal
	events, err := j.LoadAll()
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	if err := restore(context.Background(), cfg, proc, readModel, events); err != nil {
		return err
	}

	// new events reach the read model over the bus when NATS is on
	if natsClient != nil {
		if err := readModel.Start(processor.EventSubject); err != nil {
			return err
		}
		defer readModel.Stop()
	} else {
		proc.RegisterEventHandler(readModel.HandleEvent)
	}

	// 7. Start consuming transactions
	var submitter handler.Submitter = handler.DirectSubmitter{Processor: proc}
	if natsClient != nil {
		if err := proc.Start(); err != nil {
			return err
		}
		defer proc.Stop()
		submitter = handler.NATSSubmitter{Client: natsClient, Timeout: cfg.NATS.RequestTimeout}
	}

	// 8. HTTP
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Tracing())
	router.Use(middleware.Metrics())
	handler.SetupRoutes(router, handler.NewHandler(submitter, proc, readModel))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	go func() {
		logger.Info("metrics server listening", slog.Int("port", cfg.MetricsPort))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-errCh:
	}
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server forced to shutdown", slog.String("error", err.Error()))
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Warn("metrics server forced to shutdown", slog.String("error", err.Error()))
	}

	logger.Info("service stopped")
	return runErr
}

func openLedger(cfg *config.Config) (ledger.State, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		store := ledger.NewRedisStore(cfg.Store.Redis.Addr, cfg.Store.Redis.Password, cfg.Store.Redis.DB,
			ledger.WithPrefix(cfg.Store.Redis.Prefix))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Store.Redis.Addr, err)
		}
		return store, func() { store.Close() }, nil
	default:
		return ledger.NewMemoryStore(), func() {}, nil
	}
}

// restore rebuilds in-memory state from the journal. A Redis ledger already
// holds the balances, so only the sequence and the processed ids are resumed.
// The read model is fed the history here, before it follows live events.
func restore(ctx context.Context, cfg *config.Config, proc *processor.Processor, readModel *cqrs.ReadModel, events []domain.Event) error {
	if cfg.Store.Backend != config.BackendRedis {
		if _, err := proc.Restore(ctx, events); err != nil {
			return err
		}
	} else {
		res, err := journal.Replay(ctx, events, ledger.NewMemoryStore(),
			journal.WithReplayLogger(slog.Default().With(slog.String("component", "journal"))))
		if err != nil {
			return fmt.Errorf("replay journal: %w", err)
		}
		proc.Resume(res)
	}
	for _, event := range events {
		readModel.HandleEvent(event)
	}
	return nil
}
