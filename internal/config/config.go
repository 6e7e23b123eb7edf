// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseURL  string `yaml:"databaseURL"`
	EmbeddingDim int    `yaml:"embeddingDim"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	JWKSURL       string `yaml:"jwksURL"`
	TokenIssuer   string `yaml:"tokenIssuer"`
	TokenAudience string `yaml:"tokenAudience"`

	GeminiAPIKey  string `yaml:"geminiAPIKey"`
	EmbedModel    string `yaml:"embedModel"`
	GenerateModel string `yaml:"generateModel"`

	MaxUploadMB          int     `yaml:"maxUploadMB"`
	EmbedConcurrency     int     `yaml:"embedConcurrency"`
	AnswerTimeoutSeconds int     `yaml:"answerTimeoutSeconds"`
	CacheTTLSeconds      int     `yaml:"cacheTTLSeconds"`
	ScoreThreshold       float64 `yaml:"scoreThreshold"`
	CandidateCap         int     `yaml:"candidateCap"`

	AskRateLimit          int    `yaml:"askRateLimit"`
	UploadRateLimit       int    `yaml:"uploadRateLimit"`
	RateLimitWindowSecs   int    `yaml:"rateLimitWindowSeconds"`
	RebuildQueueStream    string `yaml:"rebuildQueueStream"`
	RebuildQueueGroup     string `yaml:"rebuildQueueGroup"`
	RebuildQueueRetries   int    `yaml:"rebuildQueueRetries"`
	RebuildQueueConsumers int    `yaml:"rebuildQueueConsumers"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ASKDOCS_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDim = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		if useSSL, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = useSSL
		}
	}
	if v := os.Getenv("ASKDOCS_JWKS_URL"); v != "" {
		cfg.JWKSURL = v
	}
	if v := os.Getenv("ASKDOCS_TOKEN_ISSUER"); v != "" {
		cfg.TokenIssuer = v
	}
	if v := os.Getenv("ASKDOCS_TOKEN_AUDIENCE"); v != "" {
		cfg.TokenAudience = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiAPIKey = v
	}
	if v := os.Getenv("ASKDOCS_EMBED_MODEL"); v != "" {
		cfg.EmbedModel = v
	}
	if v := os.Getenv("ASKDOCS_GENERATE_MODEL"); v != "" {
		cfg.GenerateModel = v
	}
	if v := os.Getenv("ASKDOCS_MAX_UPLOAD_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxUploadMB = n
		}
	}
	if v := os.Getenv("ASKDOCS_EMBED_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbedConcurrency = n
		}
	}
	if v := os.Getenv("ASKDOCS_SCORE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ScoreThreshold = f
		}
	}
	if v := os.Getenv("ASKDOCS_CANDIDATE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CandidateCap = n
		}
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-004"
	}
	if cfg.GenerateModel == "" {
		cfg.GenerateModel = "gemini-2.0-flash"
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 10
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	if cfg.AnswerTimeoutSeconds <= 0 {
		cfg.AnswerTimeoutSeconds = 120
	}
	if cfg.CacheTTLSeconds <= 0 {
		cfg.CacheTTLSeconds = 60
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = 0.35
	}
	if cfg.CandidateCap <= 0 {
		cfg.CandidateCap = 2000
	}
	if cfg.AskRateLimit <= 0 {
		cfg.AskRateLimit = 30
	}
	if cfg.UploadRateLimit <= 0 {
		cfg.UploadRateLimit = 10
	}
	if cfg.RateLimitWindowSecs <= 0 {
		cfg.RateLimitWindowSecs = 60
	}
	if cfg.RebuildQueueStream == "" {
		cfg.RebuildQueueStream = "askdocs:rebuild"
	}
	if cfg.RebuildQueueGroup == "" {
		cfg.RebuildQueueGroup = "rebuild-workers"
	}
	if cfg.RebuildQueueRetries <= 0 {
		cfg.RebuildQueueRetries = 3
	}
	if cfg.RebuildQueueConsumers <= 0 {
		cfg.RebuildQueueConsumers = 1
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
		return errors.New("config: minioEndpoint and minioBucket are required")
	}
	if cfg.JWKSURL == "" {
		return errors.New("config: jwksURL is required (set in config.yaml or ASKDOCS_JWKS_URL)")
	}
	if cfg.GeminiAPIKey == "" {
		return errors.New("config: geminiAPIKey is required (set in config.yaml or GEMINI_API_KEY)")
	}
	if cfg.EmbeddingDim < 0 {
		return errors.New("config: embeddingDim must be >= 0")
	}
	if cfg.MaxUploadMB <= 0 {
		return errors.New("config: maxUploadMB must be > 0")
	}
	if cfg.ScoreThreshold <= 0 || cfg.ScoreThreshold >= 1 {
		return errors.New("config: scoreThreshold must be in (0, 1)")
	}
	return nil
}
