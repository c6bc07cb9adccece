package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "INVOICE_LEDGER_CONFIG"
	dotenvFile    = ".env"
)

// Config holds high-level settings required across the application.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Decision  DecisionConfig  `yaml:"decision"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Reference ReferenceConfig `yaml:"reference"`
	Explain   ExplainConfig   `yaml:"explain"`
	OCR       OCRConfig       `yaml:"ocr"`
	Notify    NotifyConfig    `yaml:"notify"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// HTTPConfig describes the public API listener.
type HTTPConfig struct {
	Addr           string        `yaml:"addr" env:"HTTP_ADDR"`
	RequestTimeout time.Duration `yaml:"requestTimeout" env:"HTTP_REQUEST_TIMEOUT"`
	MaxUploadBytes int64         `yaml:"maxUploadBytes" env:"HTTP_MAX_UPLOAD_BYTES"`
}

// LoggingConfig selects the slog level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// DecisionConfig holds the status thresholds, read once at startup.
type DecisionConfig struct {
	ApproveThreshold int `yaml:"approveThreshold" env:"APPROVE_THRESHOLD"`
	RejectThreshold  int `yaml:"rejectThreshold" env:"REJECT_THRESHOLD"`
}

// ScoringConfig tunes the stage checks. Budgets are fixed and not listed.
type ScoringConfig struct {
	MaxInvoiceAge          time.Duration `yaml:"maxInvoiceAge"`
	MaxFutureSkew          time.Duration `yaml:"maxFutureSkew"`
	HighValueAmount        float64       `yaml:"highValueAmount"`
	NearDuplicateWindow    time.Duration `yaml:"nearDuplicateWindow"`
	NearDuplicateTolerance float64       `yaml:"nearDuplicateTolerance"`
	LineItemTolerance      float64       `yaml:"lineItemTolerance"`
	ZScoreLimit            float64       `yaml:"zScoreLimit"`
}

// LedgerConfig points at the remote ledger and bounds the retry loop.
// An empty endpoint selects the in-process ledger.
type LedgerConfig struct {
	Endpoint       string        `yaml:"endpoint" env:"LEDGER_ENDPOINT"`
	APIKey         string        `yaml:"apiKey" env:"LEDGER_API_KEY"`
	AttemptTimeout time.Duration `yaml:"attemptTimeout" env:"LEDGER_ATTEMPT_TIMEOUT"`
	MaxAttempts    int           `yaml:"maxAttempts" env:"LEDGER_MAX_ATTEMPTS"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
	CommitCeiling  time.Duration `yaml:"commitCeiling" env:"LEDGER_COMMIT_CEILING"`
}

// FallbackConfig locates the local SQLite fallback store.
type FallbackConfig struct {
	Path string `yaml:"path" env:"FALLBACK_PATH"`
}

// ReconcileConfig schedules the FALLBACK promotion sweep.
type ReconcileConfig struct {
	Interval  time.Duration `yaml:"interval" env:"RECONCILE_INTERVAL"`
	BatchSize int           `yaml:"batchSize" env:"RECONCILE_BATCH_SIZE"`
}

// ReferenceConfig names the reference data sources.
type ReferenceConfig struct {
	Path   string `yaml:"path" env:"REFERENCE_PATH"`
	ERPDSN string `yaml:"erpDsn" env:"ERP_DSN"`
}

// ExplainConfig defines how to contact the explanation service.
type ExplainConfig struct {
	Endpoint     string        `yaml:"endpoint" env:"EXPLAIN_ENDPOINT"`
	Model        string        `yaml:"model" env:"EXPLAIN_MODEL"`
	APIKey       string        `yaml:"apiKey" env:"EXPLAIN_API_KEY"`
	SystemPrompt string        `yaml:"systemPrompt"`
	Timeout      time.Duration `yaml:"timeout" env:"EXPLAIN_TIMEOUT"`
}

// OCRConfig wires the Azure Computer Vision account used for images.
type OCRConfig struct {
	Endpoint string `yaml:"endpoint" env:"OCR_ENDPOINT"`
	APIKey   string `yaml:"apiKey" env:"OCR_API_KEY"`
}

// NotifyConfig encapsulates outbound alert channels.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken" env:"TELEGRAM_BOT_TOKEN"`
	ChatID   string `yaml:"chatId" env:"TELEGRAM_CHAT_ID"`
}

// TelemetryConfig enables trace export when an OTLP endpoint is set.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `yaml:"serviceName" env:"OTEL_SERVICE_NAME"`
}

// Load reads .env and the YAML file (if present) over the defaults, then
// applies environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: cannot read %s: %v", dotenvFile, err)
	}

	cfg := defaultConfig()
	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if err := cfg.decode(raw); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode overlays YAML onto c; keys absent from raw keep their value.
func (c *Config) decode(raw []byte) error {
	return yaml.Unmarshal(raw, c)
}

// Validate rejects settings the application cannot start with.
func (c Config) Validate() error {
	d := c.Decision
	if d.RejectThreshold < 0 || d.ApproveThreshold > 100 || d.RejectThreshold > d.ApproveThreshold {
		return fmt.Errorf("config: thresholds must satisfy 0 <= reject (%d) <= approve (%d) <= 100", d.RejectThreshold, d.ApproveThreshold)
	}
	if c.Ledger.MaxAttempts < 1 {
		return fmt.Errorf("config: ledger.maxAttempts must be at least 1, got %d", c.Ledger.MaxAttempts)
	}
	if c.Ledger.CommitCeiling <= 0 || c.Ledger.AttemptTimeout <= 0 {
		return errors.New("config: ledger timeouts must be positive")
	}
	if c.Fallback.Path == "" {
		return errors.New("config: fallback.path is required")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		HTTP:     HTTPConfig{Addr: ":8080", RequestTimeout: 30 * time.Second, MaxUploadBytes: 10 << 20},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Decision: DecisionConfig{ApproveThreshold: 85, RejectThreshold: 30},
		Scoring: ScoringConfig{
			MaxInvoiceAge:          365 * 24 * time.Hour,
			MaxFutureSkew:          24 * time.Hour,
			HighValueAmount:        100000,
			NearDuplicateWindow:    720 * time.Hour,
			NearDuplicateTolerance: 0.01,
			LineItemTolerance:      0.01,
			ZScoreLimit:            3,
		},
		Ledger: LedgerConfig{
			AttemptTimeout: 2 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     time.Second,
			CommitCeiling:  5 * time.Second,
		},
		Fallback:  FallbackConfig{Path: "data/fallback.db"},
		Reconcile: ReconcileConfig{Interval: time.Minute, BatchSize: 50},
		Reference: ReferenceConfig{Path: "config/reference.yaml"},
		Explain: ExplainConfig{
			Endpoint:     "https://api.openai.com/v1/chat/completions",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You explain invoice validation decisions to accounts payable staff in three sentences or fewer.",
			Timeout:      10 * time.Second,
		},
		Telemetry: TelemetryConfig{ServiceName: "invoice-ledger"},
	}
}
