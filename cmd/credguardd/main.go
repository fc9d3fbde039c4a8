// Command credguardd runs the credguard engine against Postgres and Redis,
// sweeps expired confirmation tokens on a schedule and serves metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrEthical07/credguard"
	"github.com/MrEthical07/credguard/internal/appconfig"
	"github.com/MrEthical07/credguard/logger"
	"github.com/MrEthical07/credguard/metrics/export/prometheus"
	"github.com/MrEthical07/credguard/middleware"
	"github.com/MrEthical07/credguard/store/postgres"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to a YAML config file")
		envFile    = flag.String("env-file", ".env", "path to a .env file; ignored when missing")
	)
	flag.Parse()

	if err := run(*configFile, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "credguardd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, envFile string) error {
	opts := []appconfig.Option{appconfig.WithEnvFile(envFile)}
	if configFile != "" {
		opts = append(opts, appconfig.WithConfigFile(configFile))
	}
	cfg, err := appconfig.Load(opts...)
	if err != nil {
		return err
	}

	log := logger.New(&cfg.Logging, cfg.Service)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// -------- STORAGE --------
	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(cfg.Database.URL); err != nil {
			return err
		}
		log.Info().Msg("database migrations applied")
	}
	db, err := postgres.Open(cfg.Database.URL, postgres.PoolConfig{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		ConnMaxIdle:  cfg.Database.ConnMaxIdle,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	engineCfg := cfg.EngineConfig()
	store := postgres.New(db, postgres.WithBlockingStatuses(engineCfg.Deletion.BlockingStatuses...))

	// -------- ENGINE --------
	builder := credguard.New().
		WithConfig(engineCfg).
		WithIdentityStore(store).
		WithSubscriptions(store).
		WithNotifier(logNotifier{log: log.WithComponent("notifier")}).
		WithAuditSink(credguard.NewZerologSink(log.WithComponent("audit").Zerolog())).
		WithLogger(log.WithComponent("engine").Zerolog())

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer rdb.Close()
		builder = builder.WithRedis(rdb)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	// -------- SWEEPER --------
	if cfg.Sweep.Enabled {
		sweeper, err := credguard.NewSweeper(engine, cfg.Sweep.Schedule, log.WithComponent("sweeper").Zerolog())
		if err != nil {
			return err
		}
		sweeper.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			sweeper.Stop(stopCtx)
		}()
	}

	// -------- HTTP --------
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: routes(engine, cfg),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("http listener started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func routes(engine *credguard.Engine, cfg *appconfig.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.HTTP.MetricsPath, prometheus.NewPrometheusExporter(engine).Handler())
	}

	mux.Handle("GET /v1/session", middleware.RequireAccess(engine)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			claims, _ := middleware.ClaimsFromContext(r.Context())
			writeJSON(w, http.StatusOK, map[string]any{
				"subject_id": claims.Subject,
				"expires_at": claims.ExpiresAt,
			})
		})))

	mux.Handle("GET /v1/admin/lockout/{subject}", middleware.RequireAdmin(engine)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			status, err := engine.LockoutStatus(r.Context(), r.PathValue("subject"))
			if err != nil {
				http.Error(w, "lockout status unavailable", http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, status)
		})))

	mux.Handle("GET /v1/admin/deletions/pending", middleware.RequireAdmin(engine)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			n, err := engine.PendingDeletionCount(r.Context())
			if err != nil {
				http.Error(w, "pending count unavailable", http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"pending": n})
		})))

	return middleware.RequestContext(false)(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// logNotifier records outbound messages without their variables, which
// carry confirmation links.
type logNotifier struct {
	log *logger.Logger
}

func (n logNotifier) Send(_ context.Context, to, template string, vars map[string]string) error {
	n.log.Info().
		Str("to", to).
		Str("template", template).
		Int("vars", len(vars)).
		Msg("notification queued")
	return nil
}
