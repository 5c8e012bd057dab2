package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/httpx"
	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/ledger"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/placement"
	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/ariefcatur/go-shop-orders/internal/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.Env, cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatal("Failed to init tracer", zap.Error(err))
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	checks := map[string]httpx.Pinger{}

	// Redis
	rdb := redisx.New(cfg.Redis.Addr)
	defer rdb.Close()
	cache := redisx.NewCache(rdb, logger)
	checks["redis"] = cache.Ping

	// Kafka producer
	prod := kafkax.NewProducer(cfg.Kafka.Brokers, orders.TopicOrderPlaced, 1024, logger)
	prod.Start()

	// Storage
	var (
		engine *inventory.Engine
		led    ledger.Ledger
		uow    placement.UnitOfWork
	)
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(cfg.Postgres.DSN); err != nil {
				logger.Fatal("Failed to migrate database", zap.Error(err))
			}
		}
		db, err := postgres.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		checks["postgres"] = db.Ping

		tx := postgres.NewTxManager(db, logger)
		engine = inventory.NewEngine(postgres.NewProductStore(db),
			inventory.WithTransactor(tx), inventory.WithLogger(logger))
		led = postgres.NewOrderLedger(db, nil, logger)
		uow = tx
	case config.StorageMemory:
		store := inventory.NewMemoryStore()
		if cfg.Storage.CatalogSeed != "" {
			f, err := os.Open(cfg.Storage.CatalogSeed)
			if err != nil {
				logger.Fatal("Failed to open catalog seed", zap.Error(err))
			}
			err = store.LoadSeed(f)
			_ = f.Close()
			if err != nil {
				logger.Fatal("Failed to load catalog seed", zap.Error(err))
			}
		}
		mem := ledger.NewMemoryLedger()
		store.SetReferenceCheck(mem.References)
		engine = inventory.NewEngine(store, inventory.WithLogger(logger))
		led = mem
		uow = placement.Sequential{}
	}

	coord := placement.NewCoordinator(engine, led, uow,
		placement.WithLogger(logger),
		placement.WithMetrics(metrics),
		placement.WithNotifier(kafkax.NewOrderPublisher(prod, cfg.ServiceName)),
	)

	router := httpx.NewRouter(reg, checks)
	oh := &httpx.OrdersHandler{
		Placer:   coord,
		Ledger:   led,
		Cache:    cache,
		Validate: validator.New(),
		Logger:   logger,
		Timeout:  cfg.HTTP.RequestTimeout,
	}
	oh.Register(router)

	// HTTP server
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTP.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Listen failed", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Error("HTTP shutdown", zap.Error(err))
	}
	prod.Close()
	prod.WaitClosed()
}
