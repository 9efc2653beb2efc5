package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	EstimatorChars    = "chars"
	EstimatorTiktoken = "tiktoken"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"kbingest"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"kbingest"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd     string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost       string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP       string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxMsgSize  int64  `envconfig:"NSQ_MAX_MSG_SIZE" default:"10485760"` // 10MB
	NSQMaxAttempts int    `envconfig:"NSQ_MAX_ATTEMPTS" default:"5"`

	// Must exceed INDEX_READY_TIMEOUT so a train job is not redelivered
	// while its index is still being polled.
	NSQMsgTimeout time.Duration `envconfig:"NSQ_MSG_TIMEOUT" default:"5m"`

	RedisAddress  string `envconfig:"REDIS_ADDRESS" default:"redis:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Stages
	EnableAPI        bool   `envconfig:"ENABLE_API" default:"true"`
	EnableWorkers    bool   `envconfig:"ENABLE_WORKERS" default:"true"`
	StageConcurrency int    `envconfig:"STAGE_CONCURRENCY" default:"5"`
	MigrationPath    string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Crawl
	CrawlTimeout            time.Duration `envconfig:"CRAWL_TIMEOUT" default:"30s"`
	CrawlUserAgent          string        `envconfig:"CRAWL_USER_AGENT" default:"kbingest-crawler/1.0"`
	CrawlMaxBodyBytes       int64         `envconfig:"CRAWL_MAX_BODY_BYTES" default:"10485760"`
	SitemapMaxURLs          int           `envconfig:"SITEMAP_MAX_URLS" default:"500"`
	SitemapFetchConcurrency int           `envconfig:"SITEMAP_FETCH_CONCURRENCY" default:"4"`

	// Embedding
	EmbeddingProvider   string `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"gemini-embedding-001"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"3072"`
	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL"`

	// Vector index
	IndexPrefix       string        `envconfig:"INDEX_PREFIX" default:"Knowledge"`
	IndexMetric       string        `envconfig:"INDEX_METRIC" default:"cosine"`
	IndexReadyTimeout time.Duration `envconfig:"INDEX_READY_TIMEOUT" default:"180s"`
	IndexPollInterval time.Duration `envconfig:"INDEX_POLL_INTERVAL" default:"5s"`
	UpsertBatchSize   int           `envconfig:"UPSERT_BATCH_SIZE" default:"100"`

	// Billing
	TokenEstimator       string             `envconfig:"TOKEN_ESTIMATOR" default:"chars"`
	TiktokenEncoding     string             `envconfig:"TIKTOKEN_ENCODING" default:"cl100k_base"`
	CharsPerToken        int                `envconfig:"CHARS_PER_TOKEN" default:"4"`
	EmbeddingRates       map[string]float64 `envconfig:"EMBEDDING_RATES" default:"gemini-embedding-001:0.00015,text-embedding-3-small:0.00002,text-embedding-3-large:0.00013"`
	DefaultEmbeddingRate float64            `envconfig:"DEFAULT_EMBEDDING_RATE" default:"0.0001"`
	CreditsPerDollar     float64            `envconfig:"CREDITS_PER_DOLLAR" default:"1000"`
	AuditLogPath         string             `envconfig:"AUDIT_LOG_PATH" default:"data/logs/usage.log"`

	// Progress & notifications
	ProgressClearGrace  time.Duration `envconfig:"PROGRESS_CLEAR_GRACE" default:"60s"`
	NotifyBuffer        int           `envconfig:"NOTIFY_BUFFER" default:"256"`
	NotifyChannelPrefix string        `envconfig:"NOTIFY_CHANNEL_PREFIX" default:"account"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8081"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile         string `envconfig:"LOG_FILE"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.EmbeddingProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q", ErrInvalid, c.EmbeddingProvider)
	}
	switch c.TokenEstimator {
	case EstimatorChars, EstimatorTiktoken:
	default:
		return fmt.Errorf("%w: TOKEN_ESTIMATOR %q", ErrInvalid, c.TokenEstimator)
	}

	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSIONS must be positive", ErrInvalid)
	}
	if c.UpsertBatchSize <= 0 || c.UpsertBatchSize > 100 {
		return fmt.Errorf("%w: UPSERT_BATCH_SIZE must be within 1..100", ErrInvalid)
	}
	if c.StageConcurrency <= 0 {
		return fmt.Errorf("%w: STAGE_CONCURRENCY must be positive", ErrInvalid)
	}
	if c.CharsPerToken <= 0 {
		return fmt.Errorf("%w: CHARS_PER_TOKEN must be positive", ErrInvalid)
	}
	if c.IndexPollInterval <= 0 || c.IndexReadyTimeout < c.IndexPollInterval {
		return fmt.Errorf("%w: INDEX_POLL_INTERVAL must be positive and below INDEX_READY_TIMEOUT", ErrInvalid)
	}
	if c.NSQMsgTimeout <= c.IndexReadyTimeout {
		return fmt.Errorf("%w: NSQ_MSG_TIMEOUT must exceed INDEX_READY_TIMEOUT", ErrInvalid)
	}
	return nil
}
