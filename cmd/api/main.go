package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/splax/pado/internal/app/migrate"
	"github.com/splax/pado/internal/dispatch"
	httpx "github.com/splax/pado/internal/http"
	"github.com/splax/pado/internal/repository"
	"github.com/splax/pado/internal/repository/memory"
	"github.com/splax/pado/internal/repository/postgres"
	"github.com/splax/pado/internal/secrets"
	"github.com/splax/pado/internal/service/deploy"
	"github.com/splax/pado/internal/service/events"
	"github.com/splax/pado/internal/service/graph"
	"github.com/splax/pado/internal/service/project"
	"github.com/splax/pado/internal/telemetry"
	"github.com/splax/pado/internal/ws"
	"github.com/splax/pado/pkg/config"
	"github.com/splax/pado/pkg/logger"
)

// backend is the store plus the event log and a health check.
type backend interface {
	repository.Store
	repository.EventRepository
	Ping(ctx context.Context) error
}

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("pado-api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("api server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.APIConfig, log *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	broker, err := openBroker(cfg, log)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := openPublisher(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closePublisher()
	commands := dispatch.New(publisher, dispatch.Routes{Start: cfg.StartRoutingKey, Stop: cfg.StopRoutingKey}, log)

	tracer, err := telemetry.NewTracer(ctx, telemetry.Config{
		Exporter:    cfg.TracingExporter,
		Endpoint:    cfg.TracingEndpoint,
		Insecure:    !strings.HasPrefix(cfg.TracingEndpoint, "https://"),
		Environment: cfg.Environment,
	}, "pado-api")
	if err != nil {
		return fmt.Errorf("configure tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	hub := ws.NewHub(cfg.EventBuffer)
	go hub.Run(ctx)

	eventSvc := events.New(store, hub, log)
	projectSvc := project.New(store, eventSvc, log)
	graphSvc := graph.New(store, log)
	deploySvc := deploy.New(store, broker, commands, eventSvc, tracer.Tracer(), log, deploy.Config{
		WorkerRole:   cfg.WorkerRole,
		WrapTTL:      cfg.WrapTTL,
		HistoryLimit: cfg.HistoryLimit,
	})

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, httpx.Services{
		Projects: projectSvc,
		Graph:    graphSvc,
		Deploy:   deploySvc,
		Events:   eventSvc,
	}, limiter, httpx.Options{
		JWTSecret:    cfg.JWTSecret,
		WorkerToken:  cfg.WorkerToken,
		StreamBuffer: cfg.EventBuffer,
		DBHealth:     store.Ping,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "dispatch", cfg.DispatchDriver)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
		return nil
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (backend, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Warn("using in-memory store; state is lost on restart")
		return memory.New(memory.WithDefaultCatalog()), func() {}, nil
	case "postgres", "":
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("configure migrations: %w", err)
	}
	cleanup := func() {
		runner.Close()
		pool.Close()
	}
	if err := runner.Ping(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("database ping: %w", err)
	}
	if cfg.AutoMigrate {
		if err := runner.Ensure(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
	}
	return postgres.New(pool), cleanup, nil
}

func openBroker(cfg config.APIConfig, log *slog.Logger) (secrets.Broker, error) {
	switch cfg.SecretsDriver {
	case "vault", "":
		broker, err := secrets.NewVault(secrets.VaultConfig{
			Address:   cfg.VaultAddr,
			Namespace: cfg.VaultNamespace,
			RoleID:    cfg.VaultRoleID,
			SecretID:  cfg.VaultSecretID,
			Timeout:   10 * time.Second,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("configure vault: %w", err)
		}
		return broker, nil
	case "disabled":
		log.Warn("secret broker disabled; deployments cannot start")
		return secrets.Disabled{}, nil
	default:
		return nil, fmt.Errorf("unsupported secrets driver: %s", cfg.SecretsDriver)
	}
}

func openPublisher(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (dispatch.Publisher, func(), error) {
	switch cfg.DispatchDriver {
	case "amqp", "":
		pub, err := dispatch.NewAMQPPublisher(dispatch.AMQPConfig{
			URL:            cfg.AMQPURL,
			Exchange:       cfg.AMQPExchange,
			Queue:          cfg.AMQPQueue,
			Routes:         dispatch.Routes{Start: cfg.StartRoutingKey, Stop: cfg.StopRoutingKey},
			PublishTimeout: cfg.PublishTimeout,
		}, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to amqp broker: %w", err)
		}
		return pub, closeQuietly(pub, log), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisStreamAddr,
			Password: cfg.RedisStreamPass,
			DB:       cfg.RedisStreamDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis dispatch: %w", err)
		}
		pub, err := dispatch.NewRedisStreamPublisher(client, cfg.RedisStream, cfg.RedisStreamMax)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return pub, closeQuietly(client, log), nil
	default:
		return nil, nil, fmt.Errorf("unsupported dispatch driver: %s", cfg.DispatchDriver)
	}
}

func closeQuietly(c io.Closer, log *slog.Logger) func() {
	return func() {
		if err := c.Close(); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}
