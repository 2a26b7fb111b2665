package config

import (
	"flag"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string
	Env  string

	Cache    CacheConfig
	Provider ProviderConfig
	Image    ImageConfig
	Search   SearchConfig
	Pipeline PipelineConfig
}

type CacheConfig struct {
	Dir           string
	MemoryEntries int
	MemoryTTL     time.Duration
	DiskEntries   int
	DiskTTL       time.Duration
	FlushEvery    int
	SweepInterval time.Duration

	// ScopeByProcessVersion folds the process version into cache keys so
	// edited instructions never resurface stale values.
	ScopeByProcessVersion bool
}

type ProviderConfig struct {
	APIKey        string
	CallTimeout   time.Duration
	MaxTokens     int
	Temperature   float64
	RetryAttempts int
	RPS           float64
	Burst         int
}

type ImageConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type SearchConfig struct {
	Endpoint string
	APIKey   string
}

type PipelineConfig struct {
	Concurrency   int
	ExampleWindow int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":8090", "server port")
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}

	env := strings.TrimSpace(os.Getenv("APP_ENV"))
	if env == "" {
		env = "local"
	}

	return &Config{
		Port:     *port,
		Env:      env,
		Cache:    loadCacheConfig(),
		Provider: loadProviderConfig(),
		Image:    loadImageConfig(env),
		Search:   loadSearchConfig(),
		Pipeline: loadPipelineConfig(),
	}, nil
}

func loadCacheConfig() CacheConfig {
	dir := strings.TrimSpace(os.Getenv("CACHE_DIR"))
	if dir == "" {
		dir = filepath.Join(".", "data", "cache")
	}
	return CacheConfig{
		Dir:                   dir,
		MemoryEntries:         envInt("CACHE_MEMORY_ENTRIES", 10000),
		MemoryTTL:             envDuration("CACHE_MEMORY_TTL", time.Hour),
		DiskEntries:           envInt("CACHE_DISK_ENTRIES", 50000),
		DiskTTL:               envDuration("CACHE_DISK_TTL", 72*time.Hour),
		FlushEvery:            envInt("CACHE_FLUSH_EVERY", 32),
		SweepInterval:         envDuration("CACHE_SWEEP_INTERVAL", 10*time.Minute),
		ScopeByProcessVersion: envBool("CACHE_SCOPE_BY_PROCESS_VERSION", false),
	}
}

func loadProviderConfig() ProviderConfig {
	return ProviderConfig{
		APIKey: firstNonEmpty(
			strings.TrimSpace(os.Getenv("MODEL_API_KEY")),
			strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		),
		CallTimeout:   envDuration("MODEL_CALL_TIMEOUT", 90*time.Second),
		MaxTokens:     envInt("MODEL_MAX_TOKENS", 500),
		Temperature:   envFloat("MODEL_TEMPERATURE", 0.7),
		RetryAttempts: envInt("MODEL_RETRY_ATTEMPTS", 0),
		RPS:           envFloat("MODEL_RPS", 0),
		Burst:         envInt("MODEL_BURST", 1),
	}
}

func loadImageConfig(env string) ImageConfig {
	endpoint := resolveImageEndpoint(env)
	return ImageConfig{
		Enabled:   endpoint != "",
		Endpoint:  endpoint,
		Region:    firstNonEmpty(strings.TrimSpace(os.Getenv("IMAGE_S3_REGION")), "us-east-1"),
		AccessKey: firstNonEmpty(strings.TrimSpace(os.Getenv("IMAGE_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER"))),
		SecretKey: firstNonEmpty(strings.TrimSpace(os.Getenv("IMAGE_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD"))),
		Bucket:    firstNonEmpty(strings.TrimSpace(os.Getenv("IMAGE_S3_BUCKET")), "sheetgen-images"),
		UseSSL:    resolveImageUseSSL(env),
	}
}

func resolveImageEndpoint(env string) string {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return strings.TrimSpace(os.Getenv("IMAGE_MINIO_ENDPOINT"))
	}
	return strings.TrimSpace(os.Getenv("IMAGE_S3_ENDPOINT"))
}

func resolveImageUseSSL(env string) bool {
	if strings.EqualFold(strings.TrimSpace(env), "local") {
		return false
	}
	raw := strings.TrimSpace(os.Getenv("IMAGE_S3_USE_SSL"))
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func loadSearchConfig() SearchConfig {
	return SearchConfig{
		Endpoint: strings.TrimSpace(os.Getenv("WEBSEARCH_ENDPOINT")),
		APIKey:   strings.TrimSpace(os.Getenv("WEBSEARCH_API_KEY")),
	}
}

func loadPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Concurrency:   envInt("PIPELINE_CONCURRENCY", 5),
		ExampleWindow: envInt("PIPELINE_EXAMPLE_WINDOW", 5),
	}
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func envFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
