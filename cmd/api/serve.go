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

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/pos-orders/internal/config"
	"github.com/ariefcatur/pos-orders/internal/fulfillment"
	"github.com/ariefcatur/pos-orders/internal/httpx"
	kafkax "github.com/ariefcatur/pos-orders/internal/kafka"
	"github.com/ariefcatur/pos-orders/internal/logging"
	"github.com/ariefcatur/pos-orders/internal/memstore"
	"github.com/ariefcatur/pos-orders/internal/orders"
	"github.com/ariefcatur/pos-orders/internal/postgres"
	"github.com/ariefcatur/pos-orders/internal/redisx"
)

type serveOpts struct {
	migrate bool
}

var serveFlags serveOpts

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), serveFlags)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveFlags.migrate, "migrate", false, "apply the schema before serving (postgres driver)")
}

// backend is everything the coordinator and handlers need from storage.
type backend struct {
	catalog interface {
		orders.Catalog
		httpx.ProductCatalog
	}
	ledger httpx.StockLedger
	store  fulfillment.OrderStore
	idem   fulfillment.IdempotencyStore
	close  func()
}

func serve(parent context.Context, opts serveOpts) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load()
	log, err := logging.New(cfg.Production())
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg, opts, log)
	if err != nil {
		return err
	}
	defer be.close()

	coord := &fulfillment.Coordinator{
		Builder:       orders.NewBuilder(be.catalog),
		Ledger:        be.ledger,
		Store:         be.store,
		Idem:          be.idem,
		CommitTimeout: cfg.CommitTimeout,
		Tracker:       &fulfillment.Tracker{Store: be.store, Retries: cfg.SyncRetries},
	}
	var alerts fulfillment.AlertPublisher

	// Kafka producers only make sense next to a real database
	var producers []*kafkax.Producer
	if cfg.StoreDriver == "postgres" && len(cfg.KafkaBrokers) > 0 {
		created := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 0, log.Named("kafka"))
		lowStock := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicLowStock, 1024, log.Named("kafka"))
		pctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		created.Start(pctx)
		lowStock.Start(pctx)
		producers = append(producers, created, lowStock)

		coord.Tracker.Ack = &fulfillment.KafkaAcknowledger{Producer: created, Service: cfg.ServiceName}
		alerts = &fulfillment.KafkaAlerts{Producer: lowStock, Service: cfg.ServiceName}
		coord.Alerts = alerts
	}

	router := httpx.NewRouter(log)
	(&httpx.OrdersHandler{Orders: coord}).Register(router)
	(&httpx.ProductsHandler{Catalog: be.catalog, Ledger: be.ledger, Alerts: alerts}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err = g.Wait()

	for _, p := range producers {
		p.Close() // tutup inbox -> flush & close writer
	}
	for _, p := range producers {
		p.WaitClosed()
	}
	return err
}

func openBackend(ctx context.Context, cfg config.Config, opts serveOpts, log *zap.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case "memory":
		s := memstore.New()
		seedDemo(s)
		log.Warn("using in-memory store; data is lost on restart")
		return &backend{catalog: s, ledger: s, store: s, idem: memstore.NewIdempotency(), close: func() {}}, nil

	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		if opts.migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, err
			}
		}
		rdb := redisx.New(cfg.RedisAddr)
		if err := rdb.Ping(ctx).Err(); err != nil {
			// DB UNIQUE constraint masih jaga idempotency
			log.Warn("redis unreachable at startup", zap.Error(err))
		}
		repo := &orders.Repo{DB: db}
		return &backend{
			catalog: repo,
			ledger:  &orders.LedgerRepo{DB: db},
			store:   repo,
			idem:    &redisx.IdempotencyStore{RDB: rdb},
			close: func() {
				_ = rdb.Close()
				db.Close()
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

func seedDemo(s *memstore.Store) {
	for _, p := range []orders.Product{
		{ID: "kopi-susu", Name: "Kopi Susu", Price: decimal.RequireFromString("18000"), StockQuantity: 50, AlertThreshold: 10},
		{ID: "teh-tarik", Name: "Teh Tarik", Price: decimal.RequireFromString("15000"), StockQuantity: 40, AlertThreshold: 5},
		{ID: "roti-bakar", Name: "Roti Bakar", Price: decimal.RequireFromString("22500"), StockQuantity: 20, AlertThreshold: 5},
	} {
		s.PutProduct(p)
	}
}
