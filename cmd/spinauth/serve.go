package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	authgin "github.com/PaulFidika/spinauth/adapters/gin"
	"github.com/PaulFidika/spinauth/adapters/ginutil"
	authhttp "github.com/PaulFidika/spinauth/adapters/http"
	"github.com/PaulFidika/spinauth/audit"
	"github.com/PaulFidika/spinauth/config"
	"github.com/PaulFidika/spinauth/core"
	"github.com/PaulFidika/spinauth/jwks"
	"github.com/PaulFidika/spinauth/metrics"
	migrations "github.com/PaulFidika/spinauth/migrations/postgres"
	memorylimiter "github.com/PaulFidika/spinauth/ratelimit/memory"
	redislimiter "github.com/PaulFidika/spinauth/ratelimit/redis"
	"github.com/PaulFidika/spinauth/refresh"
	memorystore "github.com/PaulFidika/spinauth/storage/memory"
	redisstore "github.com/PaulFidika/spinauth/storage/redis"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (POST /auth, /metrics, /readyz)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	bindFlag(serveCmd, config.AddrKey, "addr")
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	if cfg.Accept.EnvironmentID == "" {
		log.Warn("DYNAMIC_ENV_ID is not set; every authentication will fail with a configuration error")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	resolverCfg := cfg.Accept.ResolverConfig()
	retention := resolverCfg.Retention()
	local := memorystore.NewKeyCache(retention)
	defer local.Close()

	opts := append([]jwks.Option{jwks.WithLogger(log), jwks.WithMetrics(m)}, cfg.Accept.ResolverOptions()...)

	var rl ginutil.RateLimiter
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(ropts)
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.WithError(err).Warn("redis unreachable at startup; shared cache will retry per request")
		}
		cancel()
		opts = append(opts, jwks.WithSharedStore(redisstore.NewKeyCache(rdb, "", retention)))
	}
	if cfg.RateLimit > 0 {
		if rdb != nil {
			rl = redislimiter.New(rdb, "", map[string]redislimiter.Limit{ginutil.RLAuth: {Limit: cfg.RateLimit, Window: time.Minute}})
		} else {
			rl = memorylimiter.New(map[string]memorylimiter.Limit{ginutil.RLAuth: {Limit: cfg.RateLimit, Window: time.Minute}})
		}
	}

	resolver, err := jwks.NewResolver(resolverCfg, local, opts...)
	if err != nil {
		return err
	}

	svcOpts := []core.Option{core.WithLogger(log), core.WithMetrics(m)}
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := migrations.Apply(ctx, pool); err != nil {
			return err
		}
		sink := audit.NewPostgresSink(pool, audit.WithLogger(log))
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = sink.Close(closeCtx)
		}()
		svcOpts = append(svcOpts, core.WithAuditLogger(sink))
	}
	svc := core.NewService(cfg.Accept, resolver, svcOpts...)

	if cfg.RefreshInterval > 0 && cfg.Accept.EnvironmentID != "" {
		r := refresh.New(resolver, cfg.RefreshInterval, []string{cfg.Accept.EnvironmentID}, refresh.WithLogger(log))
		if err := r.Start(ctx); err != nil {
			log.WithError(err).Warn("initial jwks fetch failed; continuing")
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.Stop(stopCtx)
		}()
	}

	if log.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	authgin.Mount(router, svc, rl)
	router.GET("/metrics", gin.WrapH(authhttp.MetricsHandler(reg)))
	router.GET("/readyz", gin.WrapH(authhttp.ReadyHandler(resolver, cfg.Accept.EnvironmentID, resolverCfg.MaxStale)))
	router.GET("/jwks", gin.WrapH(authhttp.JWKSHandler(resolver, cfg.Accept.EnvironmentID)))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr).Info("spinauth listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
