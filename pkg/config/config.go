package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for leafcare-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (signing keys, API keys, passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr   string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"0.0.0.0"`
	Port       string `yaml:"port" env:"PORT" env-default:"8080"`
	Env        string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	CORSOrigin string `yaml:"cors_origin" env:"CORS_ORIGIN" env-default:"*"`
	// TrustProxyHeaders takes the client address from X-Forwarded-For. Only
	// enable behind a proxy that overwrites the header.
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers" env:"TRUST_PROXY_HEADERS" env-default:"false"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"15s"`
	Version           string        `yaml:"-"` // Set at load time, not from config

	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Upload     UploadConfig     `yaml:"upload"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	URL            string `yaml:"-" env:"DATABASE_URL"` // Secret - may embed a password
	MaxConnections int32  `yaml:"max_connections" env:"DB_MAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
}

// RedisConfig holds Redis configuration. Redis is optional; when Host is
// empty the rate limiter falls back to process memory.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// AuthConfig holds token signing and password hashing settings.
type AuthConfig struct {
	AccessSecret  string        `yaml:"-" env:"JWT_ACCESS_SECRET"`
	RefreshSecret string        `yaml:"-" env:"JWT_REFRESH_SECRET"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"JWT_ACCESS_TTL" env-default:"1h"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"JWT_REFRESH_TTL" env-default:"168h"`
	Issuer        string        `yaml:"issuer" env:"JWT_ISSUER" env-default:"leafcare-engine"`
	BcryptCost    int           `yaml:"bcrypt_cost" env:"BCRYPT_COST" env-default:"12"`
}

// ClassifierConfig points at the external image classification service.
type ClassifierConfig struct {
	BaseURL        string        `yaml:"base_url" env:"CLASSIFIER_BASE_URL" env-default:"http://localhost:5000"`
	Timeout        time.Duration `yaml:"timeout" env:"CLASSIFIER_TIMEOUT" env-default:"30s"`
	MaxRetries     int           `yaml:"max_retries" env:"CLASSIFIER_MAX_RETRIES" env-default:"3"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" env:"CLASSIFIER_RETRY_BASE_DELAY" env-default:"2s"`
	ModelVersion   string        `yaml:"model_version" env:"CLASSIFIER_MODEL_VERSION" env-default:"unknown"`
}

// GeneratorConfig selects and configures the recommendation generator.
type GeneratorConfig struct {
	// Mock forces the templated generator regardless of provider settings.
	Mock              bool          `yaml:"mock" env:"GENERATOR_MOCK" env-default:"false"`
	Provider          string        `yaml:"provider" env:"GENERATOR_PROVIDER" env-default:"openai"`
	APIKey            string        `yaml:"-" env:"GENERATOR_API_KEY"`
	BaseURL           string        `yaml:"base_url" env:"GENERATOR_BASE_URL" env-default:""`
	Model             string        `yaml:"model" env:"GENERATOR_MODEL" env-default:"gpt-4o-mini"`
	MaxTokens         int           `yaml:"max_tokens" env:"GENERATOR_MAX_TOKENS" env-default:"1500"`
	Temperature       float64       `yaml:"temperature" env:"GENERATOR_TEMPERATURE" env-default:"0.3"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"GENERATOR_REQUESTS_PER_SECOND" env-default:"2"`
	TemplateLatency   time.Duration `yaml:"template_latency" env:"GENERATOR_TEMPLATE_LATENCY" env-default:"0s"`
}

// UseTemplates reports whether the templated generator should be selected.
func (c *GeneratorConfig) UseTemplates() bool {
	return c.Mock || c.APIKey == ""
}

// UploadConfig governs accepted image uploads.
type UploadConfig struct {
	MaxFileSize      int64    `yaml:"max_file_size" env:"UPLOAD_MAX_FILE_SIZE" env-default:"16777216"`
	AllowedMIMETypes []string `yaml:"allowed_mime_types" env:"UPLOAD_ALLOWED_MIME_TYPES" env-separator:"," env-default:"image/jpeg,image/png,image/gif,image/bmp,image/tiff,image/webp"`
	TempDir          string   `yaml:"temp_dir" env:"UPLOAD_TEMP_DIR" env-default:""`
	MaxBatchFiles    int      `yaml:"max_batch_files" env:"UPLOAD_MAX_BATCH_FILES" env-default:"10"`
}

// RateLimitConfig is a fixed window applied per client.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"15m"`
	MaxRequests int           `yaml:"max_requests" env:"RATE_LIMIT_MAX_REQUESTS" env-default:"100"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; environment variables alone are enough.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.Upload.AllowedMIMETypes = normalizeMIMETypes(cfg.Upload.AllowedMIMETypes)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	if c.Auth.AccessSecret == "" {
		return errors.New("JWT_ACCESS_SECRET is required")
	}
	if c.Auth.RefreshSecret == "" {
		return errors.New("JWT_REFRESH_SECRET is required")
	}
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt_cost must be between 4 and 31, got %d", c.Auth.BcryptCost)
	}
	if c.Classifier.MaxRetries < 0 {
		return fmt.Errorf("classifier max_retries must not be negative, got %d", c.Classifier.MaxRetries)
	}
	if len(c.Upload.AllowedMIMETypes) == 0 {
		return errors.New("at least one allowed upload MIME type is required")
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload max_file_size must be positive, got %d", c.Upload.MaxFileSize)
	}
	switch c.Generator.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unsupported generator provider %q", c.Generator.Provider)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.BindAddr + ":" + c.Port
}

// Addr returns the Redis host:port pair.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func normalizeMIMETypes(types []string) []string {
	out := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
