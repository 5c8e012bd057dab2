package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ariefcatur/go-shop-orders/internal/config"
	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/ledger"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/postgres"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/ariefcatur/go-shop-orders/internal/telemetry"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// The inventory worker applies restock and order status events. It needs the
// shared Postgres catalog; the memory driver has nothing to share.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg.ServiceName += "-inventory"
	logger, err := config.NewLogger(cfg)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if cfg.Storage.Driver != config.StoragePostgres {
		logger.Fatal("Inventory worker requires STORAGE_DRIVER=postgres")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.Env, cfg.Tracing.Endpoint)
	if err != nil {
		logger.Fatal("Failed to init tracer", zap.Error(err))
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	// DB
	db, err := postgres.Connect(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.Redis.Addr)
	defer rdb.Close()
	cache := redisx.NewCache(rdb, logger)

	tx := postgres.NewTxManager(db, logger)
	validate := validator.New()

	restock := &inventory.Service{
		Engine:      inventory.NewEngine(postgres.NewProductStore(db), inventory.WithTransactor(tx), inventory.WithLogger(logger)),
		Dedup:       cache,
		Validate:    validate,
		Logger:      logger,
		ServiceName: cfg.ServiceName,
	}
	status := &ledger.StatusService{
		Ledger:      postgres.NewOrderLedger(db, nil, logger),
		Keys:        cache,
		Validate:    validate,
		Logger:      logger,
		ServiceName: cfg.ServiceName,
	}

	consumers := []struct {
		topic   string
		handler kafkax.Handler
	}{
		{orders.TopicStockRestock, restock.HandleRestock},
		{orders.TopicOrderStatus, status.HandleStatusChanged},
	}

	var wg sync.WaitGroup
	for _, c := range consumers {
		cons := kafkax.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.InventoryGroup, c.topic, cfg.Kafka.InventoryWorkers, logger)
		wg.Add(1)
		go func(topic string, h kafkax.Handler) {
			defer wg.Done()
			logger.Info("Consumer started",
				zap.String("group", cfg.Kafka.InventoryGroup),
				zap.String("topic", topic),
				zap.Int("workers", cfg.Kafka.InventoryWorkers),
			)
			if err := cons.Start(ctx, h); err != nil {
				logger.Error("Consumer exited", zap.String("topic", topic), zap.Error(err))
				cancel()
			}
		}(c.topic, c.handler)
	}

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("Shutting down consumers")
	cancel()
	wg.Wait()
}
