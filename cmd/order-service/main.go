// cmd/order-service/main.go
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/bootstrap"
	"ordersaga/internal/pkg/config"
	"ordersaga/internal/pkg/database"
	"ordersaga/internal/pkg/dedup"
	"ordersaga/internal/pkg/httpclient"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/pkg/redis"
	"ordersaga/internal/pkg/zookeeper"
	"ordersaga/internal/service/order/application"
	"ordersaga/internal/service/order/application/saga"
	"ordersaga/internal/service/order/domain"
	"ordersaga/internal/service/order/infrastructure"
	"ordersaga/internal/service/order/infrastructure/adapter"
	"ordersaga/internal/service/order/interfaces"
)

const (
	serviceName = "order-service"
	defaultPort = 8081
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, serviceName, defaultPort)
	if err != nil {
		logger.Ctx(context.Background()).Fatal().Err(err).Msg("failed to load config")
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		Config: cfg,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) error {
			return registerHandlers(appCtx, cfg)
		},
	})
	if err != nil {
		logger.Ctx(context.Background()).Fatal().Err(err).Msg("order-service stopped with error")
	}
}

// registerHandlers is the composition root: it builds every dependency of the
// saga from cfg and hangs the HTTP routes and consumers off appCtx.
func registerHandlers(appCtx bootstrap.AppCtx, cfg config.Config) error {
	ctx := appCtx.Ctx
	tracer := otel.Tracer(serviceName)

	bus, err := mq.Open(cfg.Bus)
	if err != nil {
		return errors.Wrap(err, "open event bus")
	}
	appCtx.OnShutdown("event bus", func(context.Context) error { return bus.Close() })

	orders, err := openOrders(ctx, appCtx, cfg)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Saga.Dedup.Driver == config.StoreRedis || cfg.Saga.Ledger.Driver == config.StoreRedis {
		rdb, err = redis.NewClient(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return err
		}
		appCtx.OnShutdown("redis client", func(context.Context) error { return rdb.Close() })
	}

	var seen dedup.Store = dedup.NewMemoryStore(cfg.Saga.Dedup.TTL, cfg.Saga.Dedup.Capacity)
	if cfg.Saga.Dedup.Driver == config.StoreRedis {
		seen = dedup.NewRedisStore(rdb, serviceName+":feedback", cfg.Saga.Dedup.TTL)
	}
	var ledgers saga.LedgerStore
	if cfg.Saga.Ledger.Driver == config.StoreRedis {
		if ledgers, err = infrastructure.NewRedisLedgerStore(ctx, rdb, cfg.Saga.Ledger.TTL); err != nil {
			return err
		}
	}

	client := httpclient.NewClient(tracer)
	if cfg.Catalog.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Catalog.Timeout
	}
	var resolver adapter.Resolver = adapter.StaticResolver(cfg.Catalog.BaseURL)
	if appCtx.Nacos != nil {
		resolver = appCtx.Nacos
	}

	hub := interfaces.NewStatusHub()
	appCtx.OnShutdown("status hub", func(context.Context) error {
		hub.Close()
		return nil
	})

	orch := saga.NewOrchestrator(saga.Dependencies{
		Orders:       orders,
		Catalog:      adapter.NewCatalogHTTPAdapter(client, resolver, cfg.Catalog.NacosService),
		Publisher:    contract.NewPublisher(bus),
		Notifier:     hub,
		Ledgers:      ledgers,
		Dedup:        seen,
		Check:        saga.EventRoundTripCheck{},
		CheckTimeout: cfg.Saga.InventoryCheckTimeout,
	})
	// Registered after the bus so in-flight tasks finish before it closes.
	appCtx.OnShutdown("saga supervisor", orch.Shutdown)

	if err := interfaces.NewFeedbackConsumer(bus, orch).Start(ctx); err != nil {
		return errors.Wrap(err, "start feedback consumer")
	}
	if err := interfaces.NewDeadLetterConsumer(bus).Start(ctx); err != nil {
		return errors.Wrap(err, "start dead letter consumer")
	}
	if err := interfaces.NewProductEventsConsumer(bus).Start(ctx); err != nil {
		return errors.Wrap(err, "start product events consumer")
	}

	if cfg.Audit.Enabled {
		locker, err := auditLocker(ctx, appCtx, cfg)
		if err != nil {
			return err
		}
		sweeper := saga.NewAuditSweeper(orch, orders, locker, saga.AuditConfig{
			Interval:    cfg.Audit.Interval,
			StaleAfter:  cfg.Audit.StaleAfter,
			MaxRedrives: cfg.Audit.MaxRedrives,
			BatchSize:   cfg.Audit.BatchSize,
		})
		go sweeper.Run(ctx)
	}

	svc := application.NewOrderApplicationService(orders, orch, tracer)
	interfaces.NewOrderHandler(svc, hub).RegisterRoutes(appCtx.Router)

	logger.Ctx(ctx).Info().
		Str("bus", cfg.Bus.Driver).
		Str("storage", cfg.Storage.Driver).
		Str("dedup", cfg.Saga.Dedup.Driver).
		Str("ledger", cfg.Saga.Ledger.Driver).
		Msg("✅ Order saga wired.")
	return nil
}

func openOrders(ctx context.Context, appCtx bootstrap.AppCtx, cfg config.Config) (domain.OrderRepository, error) {
	if cfg.Storage.Driver != config.StorageMySQL {
		return infrastructure.NewMemoryOrderRepository(), nil
	}
	db, err := database.OpenMySQL(ctx, cfg.Storage.MySQL, infrastructure.Models()...)
	if err != nil {
		return nil, err
	}
	appCtx.OnShutdown("mysql", func(context.Context) error { return database.Close(db) })
	return infrastructure.NewGormOrderRepository(db), nil
}

// auditLocker elects one sweeping replica through ZooKeeper when servers are
// configured; a single instance locks locally.
func auditLocker(ctx context.Context, appCtx bootstrap.AppCtx, cfg config.Config) (saga.Locker, error) {
	if len(cfg.Zookeeper.Servers) == 0 {
		return saga.NewLocalLocker(), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, err := zookeeper.Connect(connectCtx, cfg.Zookeeper.Servers, cfg.Zookeeper.SessionTimeout)
	if err != nil {
		return nil, err
	}
	appCtx.OnShutdown("zookeeper", func(context.Context) error {
		conn.Close()
		return nil
	})
	return zookeeper.NewLocker(conn), nil
}
