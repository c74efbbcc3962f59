package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port          int              `json:"port"`
	Environment   string           `json:"environment"`
	CORSAllowlist []string         `json:"cors_allowlist"`
	LogConfig     logger.LogConfig `json:"log_config"`
	Database      DatabaseConfig   `json:"database"`
	Identity      IdentityConfig   `json:"identity"`
	AI            AIConfig         `json:"ai"`
	VectorStore   StoreConfig      `json:"vector_store"`
	FileStore     StoreConfig      `json:"file_store"`
	Pipeline      PipelineConfig   `json:"pipeline"`
	Quota         QuotaConfig      `json:"quota"`
	RateLimit     RateLimitConfig  `json:"rate_limit"`
	EmbedCache    EmbedCacheConfig `json:"embed_cache"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type IdentityConfig struct {
	Secret     string `json:"secret"`
	KeyTTLDays int    `json:"key_ttl_days"`
}

type ProviderConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type RetryConfig struct {
	MaxAttempts    int `json:"max_attempts"`
	BackoffMillis  int `json:"backoff_millis"`
	MaxBackoffMill int `json:"max_backoff_millis"`
}

type AIConfig struct {
	Generation ProviderConfig `json:"generation"`
	Embedding  ProviderConfig `json:"embedding"`
	// Fallbacks are tried in order when the primary provider fails.
	GenerationFallbacks []ProviderConfig `json:"generation_fallbacks"`
	EmbeddingFallbacks  []ProviderConfig `json:"embedding_fallbacks"`
	TimeoutSeconds      int              `json:"timeout_seconds"`
	Retry               RetryConfig      `json:"retry"`
}

// StoreConfig selects a registered backend by type; Data is decoded by the
// backend factory itself.
type StoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type PipelineConfig struct {
	ChunkSize        int `json:"chunk_size"`
	ChunkOverlap     int `json:"chunk_overlap"`
	TopK             int `json:"top_k"`
	MaxContextChars  int `json:"max_context_chars"`
	MaxFileBytes     int `json:"max_file_bytes"`
	MaxPages         int `json:"max_pages"`
	MaxQuestionChars int `json:"max_question_chars"`
}

type QuotaConfig struct {
	DailyUploads   int64 `json:"daily_uploads"`
	DailyQuestions int64 `json:"daily_questions"`
}

type RateLimitConfig struct {
	WindowMillis          int `json:"window_millis"`
	CreateKeyWindowMillis int `json:"create_key_window_millis"`
}

type EmbedCacheConfig struct {
	LRUSize   int `json:"lru_size"`
	TTLHours  int `json:"ttl_hours"`
	DBTTLDays int `json:"db_ttl_days"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.Identity.Secret == "" {
		return nil, fmt.Errorf("identity.secret is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.AI.Embedding.Provider == "" {
		return nil, fmt.Errorf("ai.embedding.provider is required")
	}
	if cfg.AI.Generation.Provider == "" {
		return nil, fmt.Errorf("ai.generation.provider is required")
	}
	if cfg.VectorStore.Type == "" {
		return nil, fmt.Errorf("vector_store.type is required")
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Identity.KeyTTLDays == 0 {
		cfg.Identity.KeyTTLDays = 30
	}
	if cfg.AI.TimeoutSeconds == 0 {
		cfg.AI.TimeoutSeconds = 60
	}
	if cfg.AI.Retry.MaxAttempts == 0 {
		cfg.AI.Retry.MaxAttempts = 3
	}
	if cfg.AI.Retry.BackoffMillis == 0 {
		cfg.AI.Retry.BackoffMillis = 500
	}
	if cfg.AI.Retry.MaxBackoffMill == 0 {
		cfg.AI.Retry.MaxBackoffMill = 5000
	}
	applyPipelineDefaults(&cfg.Pipeline)
	if cfg.Quota.DailyUploads == 0 {
		cfg.Quota.DailyUploads = 20
	}
	if cfg.Quota.DailyQuestions == 0 {
		cfg.Quota.DailyQuestions = 100
	}
	if cfg.EmbedCache.LRUSize == 0 {
		cfg.EmbedCache.LRUSize = 10000
	}
	if cfg.EmbedCache.TTLHours == 0 {
		cfg.EmbedCache.TTLHours = 2
	}
	if cfg.EmbedCache.DBTTLDays == 0 {
		cfg.EmbedCache.DBTTLDays = 30
	}
	return &cfg, nil
}

func applyPipelineDefaults(p *PipelineConfig) {
	if p.ChunkSize == 0 {
		p.ChunkSize = 500
	}
	if p.ChunkOverlap == 0 {
		p.ChunkOverlap = 100
	}
	if p.TopK == 0 {
		p.TopK = 5
	}
	if p.MaxContextChars == 0 {
		p.MaxContextChars = 8000
	}
	if p.MaxFileBytes == 0 {
		p.MaxFileBytes = 10 * 1024 * 1024
	}
	if p.MaxPages == 0 {
		p.MaxPages = 50
	}
	if p.MaxQuestionChars == 0 {
		p.MaxQuestionChars = 2000
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
