package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	DatabaseURL    string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxOpenConns int           `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	DBMaxIdleConns int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	Port           string        `envconfig:"PORT" default:"5000"`
	CorsOrigin     string        `envconfig:"CORS_ORIGIN" default:"http://localhost:3000"`
	Env            string        `envconfig:"APP_ENV" default:"development"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	JWTSecret      string        `envconfig:"JWT_SECRET"`

	Storage  StorageConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
	Log      LogConfig

	StatsCron string `envconfig:"STATS_CRON" default:"@every 1m"`
}

type StorageConfig struct {
	AccessKey     string `envconfig:"S3_ACCESS_KEY"`
	SecretKey     string `envconfig:"S3_SECRET_KEY"`
	Region        string `envconfig:"S3_REGION" default:"us-east-1"`
	Bucket        string `envconfig:"S3_BUCKET" default:"diagnovet-reports"`
	Endpoint      string `envconfig:"S3_ENDPOINT"`
	PublicBaseURL string `envconfig:"S3_PUBLIC_BASE_URL"`
	RootFolder    string `envconfig:"S3_ROOT_FOLDER" default:"diagnovet/reports"`
	ImageQuality  int    `envconfig:"IMAGE_QUALITY" default:"82"`
}

type LLMConfig struct {
	Provider          string        `envconfig:"LLM_PROVIDER" default:"openrouter"`
	OpenRouterAPIKey  string        `envconfig:"OPENROUTER_API_KEY"`
	OpenRouterModel   string        `envconfig:"OPENROUTER_MODEL" default:"meta-llama/llama-3.3-8b-instruct:free"`
	OpenRouterBaseURL string        `envconfig:"OPENROUTER_BASE_URL" default:"https://openrouter.ai/api/v1"`
	OpenRouterReferer string        `envconfig:"OPENROUTER_REFERER" default:"http://localhost:5000"`
	GeminiAPIKey      string        `envconfig:"GEMINI_API_KEY"`
	GenModel          string        `envconfig:"GEN_MODEL" default:"gemini-1.5-flash"`
	EmbedModel        string        `envconfig:"EMBED_MODEL" default:"text-embedding-004"`
	Timeout           time.Duration `envconfig:"LLM_TIMEOUT" default:"90s"`
	RatePerMinute     int           `envconfig:"LLM_RATE_PER_MINUTE" default:"20"`
	BreakerFailures   uint32        `envconfig:"LLM_BREAKER_FAILURES" default:"5"`
}

type PipelineConfig struct {
	Workers             int           `envconfig:"INGEST_WORKERS" default:"4"`
	QueueSize           int           `envconfig:"INGEST_QUEUE_SIZE" default:"64"`
	Timeout             time.Duration `envconfig:"INGEST_TIMEOUT" default:"5m"`
	StaleAfter          time.Duration `envconfig:"STALE_PROCESSING_AFTER" default:"15m"`
	PendingAfter        time.Duration `envconfig:"PENDING_REQUEUE_AFTER" default:"2m"`
	ConfidenceThreshold float64       `envconfig:"CONFIDENCE_THRESHOLD" default:"80"`
}

type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL"`
	Format     string `envconfig:"LOG_FORMAT" default:"json"`
	OutputPath string `envconfig:"LOG_OUTPUT" default:"stdout"`
}

// LoadConfig loads .env (when present) and decodes the environment into a Config.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		if c.IsProduction() {
			c.Log.Level = "warn"
		} else {
			c.Log.Level = "debug"
		}
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
}

// Validate reports every out-of-range setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("INGEST_WORKERS must be >= 1, got %d", c.Pipeline.Workers))
	}
	if c.Pipeline.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("INGEST_QUEUE_SIZE must be >= 1, got %d", c.Pipeline.QueueSize))
	}
	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 100 {
		errs = append(errs, fmt.Errorf("CONFIDENCE_THRESHOLD must be within 0..100, got %v", c.Pipeline.ConfidenceThreshold))
	}
	if c.Storage.ImageQuality < 1 || c.Storage.ImageQuality > 100 {
		errs = append(errs, fmt.Errorf("IMAGE_QUALITY must be within 1..100, got %d", c.Storage.ImageQuality))
	}
	switch c.LLM.Provider {
	case "openrouter", "gemini", "regex":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider))
	}
	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// CorsOrigins splits CORS_ORIGIN on commas.
func (c *Config) CorsOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CorsOrigin, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
