package config

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Ledger      LedgerConfig      `yaml:"ledger" mapstructure:"ledger"`
	OCR         OCRConfig         `yaml:"ocr" mapstructure:"ocr"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" mapstructure:"fingerprint"`
	Fields      FieldsConfig      `yaml:"fields" mapstructure:"fields"`
	Match       MatchConfig       `yaml:"match" mapstructure:"match"`
	Verify      VerifyConfig      `yaml:"verify" mapstructure:"verify"`
	Identity    IdentityConfig    `yaml:"identity" mapstructure:"identity"`
	Audit       AuditConfig       `yaml:"audit" mapstructure:"audit"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the corpus, document and audit database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LedgerConfig selects and tunes the attestation ledger. A non-empty
// Endpoint selects the networked ledger; otherwise the local store at
// LocalPath is used.
type LedgerConfig struct {
	Endpoint     string        `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey       string        `yaml:"api_key" mapstructure:"api_key"`
	LocalPath    string        `yaml:"local_path" mapstructure:"local_path"`
	TimeoutSecs  int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheSize    int           `yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTLSecs int           `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	Retry        RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit      CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// RetryConfig configures retries for networked calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures the circuit breaker in front of the networked ledger.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// OCRConfig configures document text extraction and image recognition.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_model" mapstructure:"mistral_model"`
}

// FingerprintConfig bounds text extraction during fingerprinting.
type FingerprintConfig struct {
	RecognizeImages    bool    `yaml:"recognize_images" mapstructure:"recognize_images"`
	ExtractTimeoutSecs int     `yaml:"extract_timeout_secs" mapstructure:"extract_timeout_secs"`
	RatePerSec         float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxConcurrent      int     `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// FieldsConfig configures the field extractor.
type FieldsConfig struct {
	TablesPath string `yaml:"tables_path" mapstructure:"tables_path"`
}

// MatchConfig configures fuzzy matching.
type MatchConfig struct {
	Threshold      float64      `yaml:"threshold" mapstructure:"threshold"`
	CandidateLimit int          `yaml:"candidate_limit" mapstructure:"candidate_limit"`
	RecentWindow   int          `yaml:"recent_window" mapstructure:"recent_window"`
	Weights        MatchWeights `yaml:"weights" mapstructure:"weights"`
}

// MatchWeights are the composite score weights; they must sum to 1.
type MatchWeights struct {
	Name      float64 `yaml:"name" mapstructure:"name"`
	Institute float64 `yaml:"institute" mapstructure:"institute"`
	Score     float64 `yaml:"score" mapstructure:"score"`
}

// VerifyConfig configures the verification workflow.
type VerifyConfig struct {
	TokenURITemplate string            `yaml:"token_uri_template" mapstructure:"token_uri_template"`
	ImportWorkers    int               `yaml:"import_workers" mapstructure:"import_workers"`
	Idempotency      IdempotencyConfig `yaml:"idempotency" mapstructure:"idempotency"`
}

// IdempotencyConfig enables the optional mint de-duplication window.
type IdempotencyConfig struct {
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	TTLSecs  int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// IdentityConfig points at the identity-record collaborator.
type IdentityConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AuditConfig configures audit event fan-out.
type AuditConfig struct {
	WebhookURL string      `yaml:"webhook_url" mapstructure:"webhook_url"`
	Kafka      KafkaConfig `yaml:"kafka" mapstructure:"kafka"`
	// SinkTimeoutSecs bounds each webhook or Kafka write.
	SinkTimeoutSecs int `yaml:"sink_timeout_secs" mapstructure:"sink_timeout_secs"`
}

// KafkaConfig configures the Kafka audit sink.
type KafkaConfig struct {
	Brokers     []string `yaml:"brokers" mapstructure:"brokers"`
	Topic       string   `yaml:"topic" mapstructure:"topic"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	AdminToken         string   `yaml:"admin_token" mapstructure:"admin_token"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB        int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CREDVERIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "credverify.db")
	v.SetDefault("ledger.local_path", "ledger.db")
	v.SetDefault("ledger.timeout_secs", 10)
	v.SetDefault("ledger.cache_size", 10000)
	v.SetDefault("ledger.cache_ttl_secs", 3600)
	v.SetDefault("ledger.retry.max_attempts", 3)
	v.SetDefault("ledger.retry.initial_backoff_ms", 250)
	v.SetDefault("ledger.retry.max_backoff_ms", 5000)
	v.SetDefault("ledger.circuit.failure_threshold", 5)
	v.SetDefault("ledger.circuit.reset_timeout_secs", 30)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.mistral_model", "mistral-ocr-latest")
	v.SetDefault("fingerprint.recognize_images", false)
	v.SetDefault("fingerprint.extract_timeout_secs", 20)
	v.SetDefault("fingerprint.rate_per_sec", 2.0)
	v.SetDefault("fingerprint.max_concurrent", 4)
	v.SetDefault("match.threshold", 0.80)
	v.SetDefault("match.candidate_limit", 500)
	v.SetDefault("match.recent_window", 500)
	v.SetDefault("match.weights.name", 0.52)
	v.SetDefault("match.weights.institute", 0.38)
	v.SetDefault("match.weights.score", 0.10)
	v.SetDefault("verify.token_uri_template", "urn:credverify:attestation:{fingerprint}")
	v.SetDefault("verify.import_workers", 4)
	v.SetDefault("verify.idempotency.ttl_secs", 86400)
	v.SetDefault("identity.timeout_secs", 10)
	v.SetDefault("audit.kafka.topic", "credverify.audit")
	v.SetDefault("audit.kafka.timeout_secs", 5)
	v.SetDefault("audit.sink_timeout_secs", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 20)
	v.SetDefault("server.request_timeout_secs", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate rejects settings the matcher and ledger cannot run with.
func (c *Config) Validate() error {
	if c.Match.Threshold <= 0 || c.Match.Threshold > 1 {
		return eris.Errorf("config: match.threshold must be in (0,1], got %v", c.Match.Threshold)
	}
	w := c.Match.Weights
	if w.Name < 0 || w.Institute < 0 || w.Score < 0 {
		return eris.New("config: match.weights must be non-negative")
	}
	if sum := w.Name + w.Institute + w.Score; math.Abs(sum-1) > 1e-6 {
		return eris.Errorf("config: match.weights must sum to 1, got %.4f", sum)
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Ledger.Endpoint == "" && c.Ledger.LocalPath == "" {
		return eris.New("config: ledger.local_path is required when ledger.endpoint is empty")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
