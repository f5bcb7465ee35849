// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ordersaga/internal/pkg/config"
	"ordersaga/internal/pkg/logger"
	"ordersaga/internal/pkg/nacos"
	"ordersaga/internal/pkg/tracing"
)

const shutdownTimeout = 15 * time.Second

// AppCtx is what a service gets to wire its routes and background workers.
type AppCtx struct {
	// Ctx is cancelled as soon as shutdown begins.
	Ctx    context.Context
	Router chi.Router
	// Nacos is nil unless nacos.enabled is set.
	Nacos *nacos.Client
	// OnShutdown registers cleanup; hooks run in reverse registration order.
	OnShutdown func(name string, fn func(ctx context.Context) error)
}

// AppInfo holds everything service-specific.
type AppInfo struct {
	Config           config.Config
	RegisterHandlers func(appCtx AppCtx) error
}

// StartService runs the shared startup and graceful shutdown of every service.
// It blocks until SIGINT or SIGTERM.
func StartService(info AppInfo) error {
	cfg := info.Config
	if closer := logger.Init(cfg.Service.Name, cfg.Log); closer != nil {
		defer closer.Close()
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	log := logger.Ctx(runCtx)

	var hooks shutdownHooks

	tp, err := tracing.InitTracerProvider(cfg.Service.Name, cfg.Tracing.JaegerEndpoint, cfg.Tracing.Enabled)
	if err != nil {
		return errors.Wrap(err, "failed to initialize tracer provider")
	}
	hooks.add("tracer provider", tp.Shutdown)

	var namingClient *nacos.Client
	var ip string
	if cfg.Nacos.Enabled {
		namingClient, err = nacos.NewNacosClient(runCtx, cfg.Nacos.Addrs, cfg.Nacos.Namespace, cfg.Nacos.Group)
		if err != nil {
			return errors.Wrap(err, "failed to initialize nacos client")
		}
		hooks.add("nacos client", func(context.Context) error {
			namingClient.Close()
			return nil
		})
		if ip, err = outboundIP(); err != nil {
			return errors.Wrap(err, "failed to get outbound IP address")
		}
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Handle("/metrics", promhttp.Handler())

	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(AppCtx{
			Ctx:        runCtx,
			Router:     router,
			Nacos:      namingClient,
			OnShutdown: hooks.add,
		}); err != nil {
			hooks.run(context.Background())
			return err
		}
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Service.Port).Msg("✅ " + cfg.Service.Name + " listening.")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if namingClient != nil {
		if err := namingClient.RegisterServiceInstance(runCtx, cfg.Service.Name, ip, cfg.Service.Port); err != nil {
			return errors.Wrap(err, "failed to register service with nacos")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("🛑 Shutting down service " + cfg.Service.Name + "...")
	case runErr = <-serveErr:
		log.Error().Err(runErr).Msg("HTTP server failed, shutting down.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Leave discovery first so no new traffic is routed here.
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(ctx, cfg.Service.Name, ip, cfg.Service.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	} else {
		log.Info().Msg("HTTP server shut down.")
	}
	cancelRun()
	hooks.run(ctx)

	log.Info().Msg("Service " + cfg.Service.Name + " gracefully shut down.")
	return runErr
}

// shutdownHooks runs cleanup last-registered first, like deferred calls.
type shutdownHooks struct {
	mu    sync.Mutex
	names []string
	fns   []func(ctx context.Context) error
}

func (h *shutdownHooks) add(name string, fn func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.names = append(h.names, name)
	h.fns = append(h.fns, fn)
}

func (h *shutdownHooks) run(ctx context.Context) []error {
	h.mu.Lock()
	names, fns := h.names, h.fns
	h.names, h.fns = nil, nil
	h.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](ctx); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("component", names[i]).Msg("Error during shutdown")
			errs = append(errs, errors.Wrap(err, names[i]))
			continue
		}
		logger.Ctx(ctx).Info().Str("component", names[i]).Msg("Component shut down.")
	}
	return errs
}

// outboundIP is the local address used for the default route; it is what
// other hosts reach this instance on.
func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
