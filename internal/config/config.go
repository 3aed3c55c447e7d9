package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"medichat/internal/apperr"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	VectorStorePinecone = "pinecone"
	VectorStoreWeaviate = "weaviate"

	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderGemini = "gemini"
)

var metrics = map[string]bool{"cosine": true, "euclidean": true, "dotproduct": true}

type Config struct {
	// Corpus
	DataDir            string `envconfig:"DATA_DIR" default:"data/"`
	IngestRecursive    bool   `envconfig:"INGEST_RECURSIVE" default:"false"`
	KeepEmptyDocuments bool   `envconfig:"KEEP_EMPTY_DOCUMENTS" default:"false"`

	// Chunking
	ChunkSize             int  `envconfig:"CHUNK_SIZE" default:"500"`
	ChunkOverlap          int  `envconfig:"CHUNK_OVERLAP" default:"20"`
	ChunkPreferBoundaries bool `envconfig:"CHUNK_PREFER_BOUNDARIES" default:"true"`

	// Embeddings
	EmbeddingProvider   string        `envconfig:"EMBEDDING_PROVIDER" default:"openai"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"sentence-transformers/all-MiniLM-L6-v2"`
	EmbeddingBaseURL    string        `envconfig:"EMBEDDING_BASE_URL"`
	EmbedDimension      int           `envconfig:"EMBED_DIMENSION" default:"384"`
	EmbedBatchSize      int           `envconfig:"EMBED_BATCH_SIZE" default:"32"`
	EmbedConcurrency    int           `envconfig:"EMBED_CONCURRENCY" default:"4"`
	EmbedRPS            float64       `envconfig:"EMBED_RPS" default:"5"`
	EmbedBurst          int           `envconfig:"EMBED_BURST" default:"5"`
	EmbedMaxAttempts    int           `envconfig:"EMBED_MAX_ATTEMPTS" default:"3"`
	EmbedRetryBaseDelay time.Duration `envconfig:"EMBED_RETRY_BASE_DELAY" default:"500ms"`
	EmbedTimeout        time.Duration `envconfig:"EMBED_TIMEOUT" default:"60s"`
	EmbedCacheDir       string        `envconfig:"EMBED_CACHE_DIR"`

	// Vector index
	VectorStore       string        `envconfig:"VECTOR_STORE" default:"pinecone"`
	IndexName         string        `envconfig:"INDEX_NAME" default:"medi-chat"`
	SimilarityMetric  string        `envconfig:"SIMILARITY_METRIC" default:"cosine"`
	PineconeCloud     string        `envconfig:"PINECONE_CLOUD" default:"aws"`
	PineconeRegion    string        `envconfig:"PINECONE_REGION" default:"us-east-1"`
	PineconeNamespace string        `envconfig:"PINECONE_NAMESPACE"`
	IndexReadyTimeout time.Duration `envconfig:"INDEX_READY_TIMEOUT" default:"30s"`
	IndexTimeout      time.Duration `envconfig:"INDEX_TIMEOUT" default:"30s"`
	IndexMaxAttempts  int           `envconfig:"INDEX_MAX_ATTEMPTS" default:"3"`
	UpsertBatchSize   int           `envconfig:"UPSERT_BATCH_SIZE" default:"100"`
	WeaviateHost      string        `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme    string        `envconfig:"WEAVIATE_SCHEME" default:"http"`

	// LLM
	LLMModel       string        `envconfig:"LLM_MODEL" default:"gpt-4o"`
	LLMBaseURL     string        `envconfig:"LLM_BASE_URL"`
	LLMTimeout     time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	LLMMaxAttempts int           `envconfig:"LLM_MAX_ATTEMPTS" default:"2"`
	RetrievalK     int           `envconfig:"RETRIEVAL_K" default:"3"`
	RetrievalMaxK  int           `envconfig:"RETRIEVAL_MAX_K" default:"20"`

	// Credentials, never logged
	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	PineconeAPIKey string `envconfig:"PINECONE_API_KEY"`
	GeminiAPIKey   string `envconfig:"GEMINI_API_KEY"`

	// Run ledger
	RunLedgerEnabled bool   `envconfig:"RUN_LEDGER_ENABLED" default:"true"`
	DBHost           string `envconfig:"DB_HOST" default:"postgres"`
	DBPort           int    `envconfig:"DB_PORT" default:"5432"`
	DBUser           string `envconfig:"DB_USER" default:"medichat"`
	DBPass           string `envconfig:"DB_PASS" default:"password"`
	DBName           string `envconfig:"DB_NAME" default:"medichat"`
	MigrationPath    string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Queue
	EnableIngestWorker bool   `envconfig:"ENABLE_INGEST_WORKER" default:"false"`
	NSQLookupd         string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost           string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP           string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxAttempts     uint16 `envconfig:"NSQ_MAX_ATTEMPTS" default:"5"`

	// Server
	ServerHost      string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	ServerPort      int           `envconfig:"SERVER_PORT" default:"8080"`
	QueryLogPath    string        `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64         `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string        `envconfig:"UPLOAD_DIR" default:"./uploads"`
	WatchDir        string        `envconfig:"WATCH_DIR"`
	WatchDebounce   time.Duration `envconfig:"WATCH_DEBOUNCE" default:"2s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

// Load reads .env (if present) and the process environment. Errors are configuration
// errors and are never retried.
func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, apperr.Configuration("config", "%w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, apperr.Configuration("config", "%w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrInvalid)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrInvalid)
	}
	if c.EmbedDimension <= 0 {
		return fmt.Errorf("%w: EMBED_DIMENSION must be positive", ErrInvalid)
	}
	if c.EmbedBatchSize <= 0 || c.UpsertBatchSize <= 0 {
		return fmt.Errorf("%w: batch sizes must be positive", ErrInvalid)
	}
	if c.RetrievalK <= 0 {
		return fmt.Errorf("%w: RETRIEVAL_K must be positive", ErrInvalid)
	}
	if !metrics[c.SimilarityMetric] {
		return fmt.Errorf("%w: SIMILARITY_METRIC %q", ErrInvalid, c.SimilarityMetric)
	}
	if c.IndexName == "" {
		return fmt.Errorf("%w: INDEX_NAME", ErrMissingRequired)
	}

	switch c.VectorStore {
	case VectorStorePinecone:
		if c.PineconeAPIKey == "" {
			return fmt.Errorf("%w: PINECONE_API_KEY", ErrMissingRequired)
		}
	case VectorStoreWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: VECTOR_STORE %q", ErrInvalid, c.VectorStore)
	}

	switch c.EmbeddingProvider {
	case EmbeddingProviderOpenAI:
	case EmbeddingProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: EMBEDDING_PROVIDER %q", ErrInvalid, c.EmbeddingProvider)
	}

	if c.RunLedgerEnabled {
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	}
	return nil
}

// DSN is the lib/pq connection string for the run ledger.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// LogValue keeps credentials out of logs.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("vector_store", c.VectorStore),
		slog.String("index", c.IndexName),
		slog.String("metric", c.SimilarityMetric),
		slog.Int("dimension", c.EmbedDimension),
		slog.String("embedding_provider", c.EmbeddingProvider),
		slog.String("embedding_model", c.EmbeddingModel),
		slog.String("llm_model", c.LLMModel),
		slog.Int("chunk_size", c.ChunkSize),
		slog.Int("chunk_overlap", c.ChunkOverlap),
		slog.Int("top_k", c.RetrievalK),
		slog.Bool("run_ledger", c.RunLedgerEnabled),
	)
}
