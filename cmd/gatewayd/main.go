// Command gatewayd runs the dynamic database-API gateway: it loads routing
// and endpoint configuration from the metadata store, opens pooled
// connections to every datasource those endpoints reference, and serves the
// wildcard HTTP dispatcher of spec.md §4.K until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dbgateway/dbgateway/internal/accesslog"
	"github.com/dbgateway/dbgateway/internal/admission"
	"github.com/dbgateway/dbgateway/internal/cache"
	"github.com/dbgateway/dbgateway/internal/config"
	"github.com/dbgateway/dbgateway/internal/cryptoutil"
	"github.com/dbgateway/dbgateway/internal/gateway"
	"github.com/dbgateway/dbgateway/internal/health"
	"github.com/dbgateway/dbgateway/internal/metrics"
	"github.com/dbgateway/dbgateway/internal/pool"
	"github.com/dbgateway/dbgateway/internal/resolver"
	"github.com/dbgateway/dbgateway/internal/runner"
	"github.com/dbgateway/dbgateway/internal/script"
	"github.com/dbgateway/dbgateway/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/gatewayd.yaml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	st, err := store.NewPGStore(ctx, cfg.Store.MetadataDSN)
	if err != nil {
		logger.Error("opening metadata store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	mainPool, err := pgxpool.New(ctx, cfg.Store.MetadataDSN)
	if err != nil {
		logger.Error("opening metadata write pool", "error", err)
		os.Exit(1)
	}
	defer mainPool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr, DB: cfg.Store.RedisDB})
	defer rdb.Close()

	fieldCipher, err := cryptoutil.NewFieldCipher(cfg.Auth.FieldCipherSecret)
	if err != nil {
		logger.Error("initializing field cipher", "error", err)
		os.Exit(1)
	}
	tokens := cryptoutil.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	m := metrics.New()
	res := resolver.New()
	poolMgr := pool.NewManager()
	poolMgr.SetOnPoolExhausted(func(datasourceID string) { m.PoolExhausted(datasourceID) })
	poolMgr.StartStatsLoop(5*time.Second, func(s pool.Stats) {
		m.UpdatePoolStats(s.DatasourceID, s.ProductType, s.Active, s.Idle, s.Total, s.Waiting)
	})

	hc := health.NewChecker(poolMgr, m)
	hc.Start()

	sandbox := script.New(cfg.Script.Timeout, map[string]any{})

	allowHosts := make(map[string]bool, len(cfg.Script.HTTPAllowedHosts))
	for _, h := range cfg.Script.HTTPAllowedHosts {
		allowHosts[h] = true
	}

	run := &runner.Runner{
		Store:               st,
		Pools:               poolMgr,
		Sandbox:             sandbox,
		Redis:               rdb,
		Logger:              logger,
		ScriptHTTPTimeout:   cfg.Script.Timeout,
		ScriptHTTPAllowHost: allowHosts,
		EnvWhitelist:        map[string]string{},
	}

	firewall := admission.NewFirewall(st.IPRules, true)
	auth := admission.NewAuthenticator(st, tokens, true)
	concurrency := admission.NewConcurrencyLimiter(rdb)
	rateLimit := admission.NewRateLimiter(rdb)
	admissionCtl := &admission.Controller{
		Firewall:                firewall,
		Auth:                    auth,
		Concurrency:             concurrency,
		RateLimit:               rateLimit,
		Store:                   st,
		DefaultConcurrencyLimit: cfg.Admission.DefaultMaxConcurrency,
		DefaultRateLimitPerMin:  cfg.Admission.DefaultRateLimitPerMin,
	}

	accessLog := accesslog.New(st, mainPool, poolMgr, logger)

	bundles := cache.New("bundle", cfg.Cache.L1TTL, cfg.Cache.L2TTL, cfg.Cache.L1MaxSize, rdb,
		func(ctx context.Context, endpointID string) (any, error) {
			ep, err := st.Endpoint(ctx, endpointID)
			if err != nil {
				return nil, err
			}
			return runner.LoadBundle(ctx, st, *ep)
		})

	if err := loadRoutes(ctx, st, res); err != nil {
		logger.Error("loading initial routes", "error", err)
		os.Exit(1)
	}
	if err := warmPools(ctx, st, poolMgr, fieldCipher); err != nil {
		logger.Error("warming datasource pools", "error", err)
		os.Exit(1)
	}

	gw := gateway.New(res, admissionCtl, run, st, accessLog, bundles, tokens, m, hc, logger, 64)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Listen.APIBind, cfg.Listen.APIPort),
		Handler: gw.Router(),
	}
	go func() {
		var err error
		if cfg.Listen.TLSEnabled() {
			err = httpServer.ListenAndServeTLS(cfg.Listen.TLSCert, cfg.Listen.TLSKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("gateway server stopped", "error", err)
		}
	}()
	logger.Info("gateway ready", "addr", httpServer.Addr)

	watcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		logger.Info("configuration reloaded")
	})
	if err != nil {
		logger.Warn("config hot-reload not available", "error", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig.String())

	if watcher != nil {
		watcher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	hc.Stop()
	poolMgr.Close()
	logger.Info("gateway stopped")
}

// loadRoutes enumerates every active module and its endpoints, installing
// them into the resolver's routing table — run at boot and safe to re-run
// against a live resolver since LoadModule replaces one module at a time.
func loadRoutes(ctx context.Context, st store.Store, res *resolver.Resolver) error {
	modules, err := st.Modules(ctx)
	if err != nil {
		return fmt.Errorf("listing modules: %w", err)
	}
	for _, mod := range modules {
		endpoints, err := st.EndpointsForModule(ctx, mod.ID)
		if err != nil {
			return fmt.Errorf("listing endpoints for module %q: %w", mod.BasePath, err)
		}
		if err := res.LoadModule(mod, endpoints); err != nil {
			return fmt.Errorf("loading module %q: %w", mod.BasePath, err)
		}
	}
	return nil
}

// warmPools opens a connection pool for every datasource referenced by an
// active endpoint, decrypting its stored password with fieldCipher. Pools
// are otherwise opened lazily via GetOrCreate, but the runner expects one
// already open (Pools.Get returns ok=false otherwise), so every datasource
// reachable from a route must be warmed before the gateway starts serving.
func warmPools(ctx context.Context, st store.Store, poolMgr *pool.Manager, fieldCipher *cryptoutil.FieldCipher) error {
	modules, err := st.Modules(ctx)
	if err != nil {
		return fmt.Errorf("listing modules: %w", err)
	}

	seen := make(map[string]bool)
	for _, mod := range modules {
		endpoints, err := st.EndpointsForModule(ctx, mod.ID)
		if err != nil {
			return fmt.Errorf("listing endpoints for module %q: %w", mod.BasePath, err)
		}
		for _, ep := range endpoints {
			if seen[ep.DataSourceID] {
				continue
			}
			seen[ep.DataSourceID] = true

			ds, err := st.DataSource(ctx, ep.DataSourceID)
			if err != nil {
				return fmt.Errorf("loading datasource %q: %w", ep.DataSourceID, err)
			}
			if !ds.IsActive {
				continue
			}
			password, err := fieldCipher.Decrypt(ds.EncryptedPassword)
			if err != nil {
				return fmt.Errorf("decrypting password for datasource %q: %w", ds.ID, err)
			}
			if _, err := poolMgr.GetOrCreate(ds, password); err != nil {
				return fmt.Errorf("opening pool for datasource %q: %w", ds.ID, err)
			}
		}
	}
	return nil
}
