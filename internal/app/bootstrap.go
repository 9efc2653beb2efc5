package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	wstore "kbingest/internal/adapter/weaviate"
	"kbingest/internal/config"
	"kbingest/internal/queue"
)

type Dependencies struct {
	DB          *sql.DB
	VectorStore *wstore.Store
	Redis       *redis.Client
	NSQProducer *queue.Producer
}

// Close releases every connection Bootstrap opened.
func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

// OpenDB connects to Postgres, retrying the first ping while the database
// starts up.
func OpenDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	if err := WithRetry(ctx, "ping db", cfg.BootstrapRetryAttempts, retryDelay, db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

// Migrate applies pending migrations from path.
func Migrate(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{DB: db}

	if err := Migrate(db, cfg.MigrationPath); err != nil {
		deps.Close()
		return nil, err
	}
	slog.Info("migrations applied successfully")

	// Weaviate
	wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("weaviate client error: %w", err)
	}
	deps.VectorStore = wstore.NewStore(wClient)

	// Redis carries realtime notifications. It is optional at startup:
	// events published while it is down are logged and dropped.
	deps.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := deps.Redis.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable, notifications will be dropped until it recovers", "error", err, "addr", cfg.RedisAddress)
	}

	producer, err := queue.NewProducer(cfg.NSQDHost)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	deps.NSQProducer = producer

	// Consumers querying lookupd fail until a topic exists, so create them
	// up front once nsqd is reachable.
	go func() {
		client := &http.Client{Timeout: 5 * time.Second}
		retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
		err := WithRetry(ctx, "create nsq topics", cfg.BootstrapRetryAttempts, retryDelay, func(ctx context.Context) error {
			return queue.CreateTopics(ctx, client, cfg.NSQDHTTP, config.StageTopics)
		})
		if err != nil {
			slog.Warn("failed to pre-create nsq topics", "error", err)
		}
	}()

	return deps, nil
}

// WithRetry calls fn up to attempts times, sleeping delay between failures.
func WithRetry(ctx context.Context, op string, attempts int, delay time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		slog.Warn(op+" failed, retrying...", "attempt", i+1, "max_attempts", attempts, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
