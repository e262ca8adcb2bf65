package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ariefcatur/pos-orders/internal/config"
	"github.com/ariefcatur/pos-orders/internal/inventory"
	kafkax "github.com/ariefcatur/pos-orders/internal/kafka"
	"github.com/ariefcatur/pos-orders/internal/logging"
	"github.com/ariefcatur/pos-orders/internal/orders"
	"github.com/ariefcatur/pos-orders/internal/postgres"
	"github.com/ariefcatur/pos-orders/internal/redisx"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "pos-inventory",
	Short:        "Apply restock requests from Kafka to the stock ledger",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		return run(cmd.Context())
	},
}

func run(parent context.Context) error {
	cfg := config.Load()
	log, err := logging.New(cfg.Production())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &inventory.Service{
		Ledger:      &orders.LedgerRepo{DB: db},
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-inventory",
		Log:         log.Named("inventory"),
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, orders.TopicRestockRequested, cfg.InventoryWorkers, log.Named("kafka"))
	log.Info("inventory consumer started",
		zap.String("group", cfg.InventoryGroup),
		zap.String("topic", orders.TopicRestockRequested),
		zap.Int("workers", cfg.InventoryWorkers))

	if err := cons.Start(ctx, svc.HandleRestockRequested); err != nil {
		return fmt.Errorf("consumer exit: %w", err)
	}
	log.Info("shutting down consumer...")
	return nil
}
