package main

import (
    "context"
    "errors"
    "flag"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/rs/zerolog/log"
    "golang.org/x/sync/errgroup"

    "hookrelay/internal/api"
    "hookrelay/internal/auth"
    "hookrelay/internal/config"
    "hookrelay/internal/integrations"
    "hookrelay/internal/logging"
    "hookrelay/internal/metrics"
    "hookrelay/internal/store"
    "hookrelay/internal/webhooks"
)

func main() {
    cfgPath := flag.String("config", os.Getenv("HOOKRELAY_CONFIG"), "path to YAML config")
    flag.Parse()

    cfg, err := config.Load(*cfgPath)
    if err != nil {
        log.Fatal().Err(err).Str("path", *cfgPath).Msg("load config")
    }
    if err := logging.Setup(cfg); err != nil {
        log.Fatal().Err(err).Msg("setup logging")
    }
    metrics.RegisterDefault()

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    s, closeStore, err := openStore(ctx, cfg)
    if err != nil {
        log.Fatal().Err(err).Msg("open store")
    }
    defer closeStore()

    // Broker selection
    var broker api.EventBroker = api.NewBroker()
    if cfg.RedisURL != "" {
        if rb, err := api.NewRedisBroker(cfg.RedisURL); err == nil {
            broker = rb
            defer func() { _ = rb.Close() }()
        } else {
            log.Warn().Err(err).Msg("redis broker unavailable, using in-memory broker")
        }
    }

    var limiter *webhooks.RateLimiter
    if cfg.RateLimit.Enabled {
        limiter = webhooks.NewRateLimiter(cfg.RateLimit.MaxKeys, cfg.RateLimit.TTL)
    }
    d := cfg.Delivery
    executor := webhooks.NewExecutor(s, d.SystemName, d.Timeout)
    analytics := webhooks.NewAnalytics(s)
    analytics.AddSink(broker)
    queue := webhooks.NewQueue(executor, analytics, limiter, webhooks.QueueConfig{
        MaxConcurrency:  d.MaxConcurrency,
        MaxAttempts:     d.MaxAttempts,
        BackoffBase:     d.BackoffBase,
        MaxBackoff:      d.MaxBackoff,
        DefaultPriority: d.DefaultPriority,
        OutboundLimit:   integrations.Limit{Requests: cfg.RateLimit.Requests, Window: cfg.RateLimit.Window},
    })
    inbound := webhooks.NewInboundProcessor(webhooks.DefaultRegistry(), webhooks.StoreSecrets{Store: s}, limiter, analytics)
    inbound.RegisterDefaultHandlers()
    manager := webhooks.NewManager(s, queue, executor, inbound, analytics, d.SystemName)
    manager.DefaultPriority = d.DefaultPriority

    srvDeps := api.NewServer(manager, broker, auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret), cfg)
    srv := &http.Server{
        Addr:              cfg.ListenAddr,
        Handler:           srvDeps.Handler(),
        ReadHeaderTimeout: 5 * time.Second,
    }

    queue.Start(ctx)

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error {
        log.Info().Str("addr", cfg.ListenAddr).Msg("hookrelay listening")
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            return err
        }
        return nil
    })
    g.Go(func() error {
        <-gctx.Done()
        shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
        defer cancel()
        err := srv.Shutdown(shutdownCtx)
        // in-flight deliveries finish before the store closes
        queue.Stop()
        return err
    })
    if err := g.Wait(); err != nil {
        log.Error().Err(err).Msg("server error")
    }
    log.Info().Msg("hookrelay stopped")
}

// openStore picks Postgres when a database URL is configured, else memory.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
    if cfg.DatabaseURL == "" {
        log.Warn().Msg("DATABASE_URL not set, using in-memory store")
        return store.NewMemory(), func() {}, nil
    }
    pg, err := store.NewPostgres(cfg.DatabaseURL)
    if err != nil {
        return nil, nil, err
    }
    if cfg.DBMigrate {
        if err := pg.Migrate(ctx); err != nil {
            _ = pg.Close()
            return nil, nil, err
        }
    }
    return pg, func() { _ = pg.Close() }, nil
}
