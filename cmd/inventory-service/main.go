// cmd/inventory-service/main.go
package main

import (
	"context"
	"flag"
	"os"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"

	"ordersaga/internal/contract"
	"ordersaga/internal/pkg/bootstrap"
	"ordersaga/internal/pkg/config"
	"ordersaga/internal/pkg/database"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/mq"
	"ordersaga/internal/service/inventory/application"
	"ordersaga/internal/service/inventory/domain"
	"ordersaga/internal/service/inventory/infrastructure"
	"ordersaga/internal/service/inventory/interfaces"
)

const (
	serviceName = "inventory-service"
	defaultPort = 8082
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
		logger.Ctx(context.Background()).Fatal().Err(err).Msg("inventory-service stopped with error")
	}
}

func registerHandlers(appCtx bootstrap.AppCtx, cfg config.Config) error {
	ctx := appCtx.Ctx
	tracer := otel.Tracer(serviceName)

	bus, err := mq.Open(cfg.Bus)
	if err != nil {
		return errors.Wrap(err, "open event bus")
	}
	appCtx.OnShutdown("event bus", func(context.Context) error { return bus.Close() })

	products, uow, err := openStore(ctx, appCtx, cfg)
	if err != nil {
		return err
	}

	var policy domain.FulfillmentPolicy
	if rule := cfg.Inventory.FulfillmentRule; rule != "" {
		cel, err := infrastructure.NewCELPolicy(rule)
		if err != nil {
			return err
		}
		policy = cel
		logger.Ctx(ctx).Info().Str("rule", cel.String()).Msg("Using custom fulfillment rule.")
	}

	publisher := contract.NewPublisher(bus)
	reservations := application.NewReservationHandler(uow, policy, publisher, tracer)
	if err := interfaces.NewOrderEventsConsumer(bus, reservations).Start(ctx); err != nil {
		return errors.Wrap(err, "start order events consumer")
	}

	interfaces.NewProductHandler(application.NewProductService(products, publisher, tracer)).RegisterRoutes(appCtx.Router)
	logger.Ctx(ctx).Info().Str("bus", cfg.Bus.Driver).Str("storage", cfg.Storage.Driver).Msg("✅ Inventory reservations wired.")
	return nil
}

func openStore(ctx context.Context, appCtx bootstrap.AppCtx, cfg config.Config) (domain.ProductRepository, domain.UnitOfWork, error) {
	if cfg.Storage.Driver != config.StorageMySQL {
		store := infrastructure.NewMemoryStore()
		return store.Products(), store, nil
	}
	db, err := database.OpenMySQL(ctx, cfg.Storage.MySQL, infrastructure.Models()...)
	if err != nil {
		return nil, nil, err
	}
	appCtx.OnShutdown("mysql", func(context.Context) error { return database.Close(db) })
	return infrastructure.NewGormProductRepository(db), infrastructure.NewGormUnitOfWork(db), nil
}
