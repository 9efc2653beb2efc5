package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"kbingest/features/account"
	"kbingest/features/item"
	"kbingest/features/job"
	"kbingest/features/progress"
	"kbingest/features/stats"
	"kbingest/internal/adapter/gemini"
	"kbingest/internal/adapter/openai"
	"kbingest/internal/billing"
	"kbingest/internal/config"
	"kbingest/internal/metrics"
	"kbingest/internal/middleware"
	"kbingest/internal/notify"
	tracking "kbingest/internal/progress"
	"kbingest/internal/queue"
	"kbingest/internal/sitemap"
	"kbingest/internal/text"
	"kbingest/internal/vector"
	"kbingest/internal/worker"
)

const consumerChannel = "kbingest"

// VectorStore is everything the app needs from the vector database.
type VectorStore interface {
	vector.IndexClient
	vector.RecordWriter
	CountRecords(ctx context.Context, index string) (int, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler     http.Handler
	ItemService *item.Service
	Tracker     *tracking.Tracker
	Notifier    *notify.Channel
	// StageHandlers maps each stage topic to its consumer handler.
	StageHandlers map[string]nsq.Handler

	cfg       *config.Config
	db        *sql.DB
	closers   []io.Closer
	consumers []*nsq.Consumer
}

func New(
	cfg *config.Config,
	db *sql.DB,
	vecStore VectorStore,
	sink notify.Sink,
	taskPub TaskPublisher,
	embedder vector.Embedder,
	logger *slog.Logger,
) (*App, error) {
	a := &App{cfg: cfg, db: db}

	tracker := tracking.NewTracker()
	notifier := notify.NewChannel(sink, cfg.NotifyBuffer)
	a.Tracker = tracker
	a.Notifier = notifier

	// Repositories
	accountRepo := account.NewPostgresRepo(db)
	itemRepo := item.NewPostgresRepo(db)
	jobRepo := job.NewPostgresRepo(db)

	// Billing
	audit, auditCloser, err := billing.NewFileAuditLogger(cfg.AuditLogPath)
	if err != nil {
		slog.Warn("failed to create audit logger, falling back to stdout", "error", err)
		audit = billing.NewAuditLogger(os.Stdout)
	} else {
		a.closers = append(a.closers, auditCloser)
	}
	gate, err := billing.NewGate(newEstimator(cfg), billing.Pricing{
		RatesPer1K:       cfg.EmbeddingRates,
		DefaultRatePer1K: cfg.DefaultEmbeddingRate,
		CreditsPerDollar: cfg.CreditsPerDollar,
	}, accountRepo, cfg.EmbeddingModel, audit)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("credit gate: %w", err)
	}

	// Feature: Item
	expander := sitemap.NewExpander(&http.Client{Timeout: cfg.CrawlTimeout}, sitemap.Options{
		UserAgent:    cfg.CrawlUserAgent,
		MaxURLs:      cfg.SitemapMaxURLs,
		Concurrency:  cfg.SitemapFetchConcurrency,
		MaxBodyBytes: cfg.CrawlMaxBodyBytes,
	})
	itemService := item.NewService(itemRepo, taskPub, tracker, expander, accountRepo)
	itemHandler := item.NewHandler(itemService, cfg.UploadDir, cfg.MaxUploadSizeMB<<20)
	a.ItemService = itemService

	// Feature: Account
	accountHandler := account.NewHandler(accountRepo)

	// Feature: Job
	jobService := job.NewService(jobRepo, itemService, logger)
	jobHandler := job.NewHandler(jobService)

	// Feature: Progress
	progressHandler := progress.NewHandler(tracker)

	// Feature: Stats
	indexName := func(owner string) string { return vector.IndexName(cfg.IndexPrefix, owner) }
	statsHandler := stats.NewHandler(itemRepo, jobRepo, accountRepo, vecStore, indexName)

	// Stage workers
	deps := worker.Deps{
		Items:       itemRepo,
		Jobs:        jobRepo,
		Publisher:   taskPub,
		Tracker:     tracker,
		Notifier:    notifier,
		MaxAttempts: cfg.NSQMaxAttempts,
		ClearGrace:  cfg.ProgressClearGrace,
		Timeout:     cfg.NSQMsgTimeout * 9 / 10,
	}
	fetcher := worker.NewHTTPFetcher(&http.Client{Timeout: cfg.CrawlTimeout}, cfg.CrawlUserAgent, cfg.CrawlMaxBodyBytes)
	a.StageHandlers = map[string]nsq.Handler{
		config.TopicCrawl:  worker.NewCrawlHandler(deps, fetcher),
		config.TopicMinify: worker.NewMinifyHandler(deps),
		config.TopicTrain: worker.NewTrainHandler(deps, worker.TrainConfig{
			Accounts:    accountRepo,
			Extractor:   worker.FileExtractor{MaxBytes: cfg.MaxUploadSizeMB << 20},
			Gate:        gate,
			Indexes:     vector.NewIndexManager(vecStore, cfg.EmbeddingDimensions, cfg.IndexMetric, cfg.IndexReadyTimeout, cfg.IndexPollInterval),
			Chunker:     text.NewChunker(nil),
			Upserter:    vector.NewUpserter(embedder, vecStore, cfg.UpsertBatchSize, cfg.EmbeddingDimensions),
			IndexPrefix: cfg.IndexPrefix,
		}),
	}

	// Middleware: CORS, around the whole mux since method patterns answer
	// OPTIONS with 405 before any route handler runs.
	enableCORS := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	route := func(h http.HandlerFunc) http.Handler { return middleware.CorrelationID(h) }

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /accounts", route(accountHandler.Create))
	mux.Handle("GET /accounts/{id}", route(accountHandler.Get))
	mux.Handle("POST /accounts/{id}/credits", route(accountHandler.AddCredits))

	mux.Handle("POST /sitemaps", route(itemHandler.SubmitSitemap))
	mux.Handle("POST /pages", route(itemHandler.SubmitPages))
	mux.Handle("POST /items", route(itemHandler.Create))
	mux.Handle("POST /items/upload", route(itemHandler.Upload))
	mux.Handle("GET /items/{id}", route(itemHandler.Get))

	mux.Handle("GET /progress/{ownerId}", route(progressHandler.Get))
	mux.Handle("DELETE /progress/{ownerId}", route(progressHandler.Clear))

	mux.Handle("GET /jobs/failed", route(jobHandler.List))
	mux.Handle("POST /jobs/{id}/retry", route(jobHandler.Retry))

	mux.Handle("GET /stats", route(statsHandler.GetStats))

	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/health", a.health)

	a.Handler = enableCORS(mux)
	return a, nil
}

func (a *App) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.db.PingContext(ctx); err != nil {
		slog.WarnContext(r.Context(), "health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// StartWorkers subscribes one consumer per stage topic.
func (a *App) StartWorkers() error {
	for _, topic := range config.StageTopics {
		c, err := queue.StartConsumer(queue.ConsumerOptions{
			Topic:       topic,
			Channel:     consumerChannel,
			Concurrency: a.cfg.StageConcurrency,
			MaxAttempts: a.cfg.NSQMaxAttempts,
			MsgTimeout:  a.cfg.NSQMsgTimeout,
		}, a.cfg.NSQLookupd, a.StageHandlers[topic])
		if err != nil {
			a.stopWorkers()
			return err
		}
		a.consumers = append(a.consumers, c)
	}
	return nil
}

func (a *App) stopWorkers() {
	for _, c := range a.consumers {
		c.Stop()
	}
	for _, c := range a.consumers {
		<-c.StopChan
	}
	a.consumers = nil
}

// Run serves until ctx is cancelled, then drains workers and pending
// notifications.
func (a *App) Run(ctx context.Context) error {
	notifyCtx, cancelNotify := context.WithCancel(context.Background())
	defer cancelNotify()
	go a.Notifier.Run(notifyCtx)

	if a.cfg.EnableWorkers {
		if err := a.StartWorkers(); err != nil {
			return err
		}
		slog.Info("stage workers started", "topics", config.StageTopics, "concurrency", a.cfg.StageConcurrency)
	}

	var srvErr error
	if a.cfg.EnableAPI {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
			Handler:           a.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("server starting", "port", a.cfg.ServerPort)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				srvErr = err
			}
		case <-ctx.Done():
			slog.Info("shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown failed", "error", err)
			}
			cancel()
		}
	} else {
		<-ctx.Done()
	}

	a.stopWorkers()

	a.Notifier.Close()
	select {
	case <-a.Notifier.Done():
	case <-time.After(5 * time.Second):
		slog.Warn("notifications still pending at shutdown")
	}

	a.closeResources()
	return srvErr
}

func (a *App) closeResources() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

// NewEmbedder builds the configured embedding provider. The returned
// cleanup releases its client.
func NewEmbedder(ctx context.Context, cfg *config.Config) (vector.Embedder, func() error, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		e, err := openai.NewEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		return e, func() error { return nil }, nil
	default:
		e, err := gemini.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	}
}

func newEstimator(cfg *config.Config) billing.Estimator {
	if cfg.TokenEstimator == config.EstimatorTiktoken {
		return billing.NewEstimator(cfg.TiktokenEncoding, cfg.CharsPerToken)
	}
	return billing.CharEstimator{CharsPerToken: cfg.CharsPerToken}
}
