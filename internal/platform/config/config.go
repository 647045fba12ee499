package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names recognised by the service.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// HistoryMode decides what happens to older reports when a cluster is reported again.
type HistoryMode string

const (
	// HistorySupersede marks older reports of the same cluster as superseded.
	HistorySupersede HistoryMode = "supersede"
	// HistoryAppend keeps every report as independent history.
	HistoryAppend HistoryMode = "append"
)

// Config is the full process configuration.
type Config struct {
	Environment string
	Addr        string
	DatabaseURL string
	PolicyFile  string

	JWT    JWTConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
	Ledger LedgerConfig
	LLM    LLMConfig
	Policy Policy
}

// JWTConfig configures bearer-token validation at the access gate.
type JWTConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
}

// RedisConfig configures the optional Redis connection (wallet lock, draft cache).
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures report lifecycle event publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LedgerConfig configures the signing wallet and RPC connection.
type LedgerConfig struct {
	RPCURL        string
	PrivateKey    string
	AnchorAddress string
	// ExpectedChainID guards against signing for the wrong network. Zero disables the check.
	ExpectedChainID int64
	GasLimit        uint64
	// LowBalanceWei is the threshold below which wallet diagnostics report funding guidance.
	LowBalanceWei string
	LockTTL       time.Duration
}

// LLMConfig configures the OpenAI-compatible report-writing model.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Policy holds operator-tunable pipeline policy. Values may be overridden by the YAML
// policy file.
type Policy struct {
	Clusters  ClusterPolicy   `yaml:"clusters"`
	Anchoring AnchoringPolicy `yaml:"anchoring"`
	Reports   ReportPolicy    `yaml:"reports"`
	LLM       LLMPolicy       `yaml:"llm"`
}

type ClusterPolicy struct {
	MinFeedbackCount int `yaml:"min_feedback_count"`
}

type AnchoringPolicy struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	SubmitRetries    int           `yaml:"submit_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	ConfirmTimeout   time.Duration `yaml:"confirm_timeout"`
	Confirmations    uint64        `yaml:"confirmations"`
	PendingGrace     time.Duration `yaml:"pending_grace"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
}

type ReportPolicy struct {
	HistoryMode      HistoryMode `yaml:"history_mode"`
	BatchConcurrency int         `yaml:"batch_concurrency"`
}

type LLMPolicy struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
	MaxRetries        int `yaml:"max_retries"`
}

// DefaultPolicy returns the policy used when no file overrides it.
func DefaultPolicy() Policy {
	return Policy{
		Clusters: ClusterPolicy{MinFeedbackCount: 3},
		Anchoring: AnchoringPolicy{
			MaxAttempts:      3,
			SubmitRetries:    3,
			RetryBackoff:     2 * time.Second,
			ConfirmTimeout:   2 * time.Minute,
			Confirmations:    1,
			PendingGrace:     10 * time.Minute,
			WatchdogInterval: time.Minute,
		},
		Reports: ReportPolicy{HistoryMode: HistorySupersede, BatchConcurrency: 4},
		LLM:     LLMPolicy{RequestsPerMinute: 30, Burst: 2, MaxRetries: 3},
	}
}

// RequiredSecrets lists the environment variables reported by the env diagnostics endpoint.
var RequiredSecrets = []string{
	"DATABASE_URL",
	"JWT_SIGNING_KEY",
	"LEDGER_RPC_URL",
	"LEDGER_PRIVATE_KEY",
	"LLM_API_KEY",
	"REDIS_URL",
	"KAFKA_BROKERS",
}

// FromEnv builds a Config from environment variables and, when CIVICPROOF_POLICY_FILE is
// set, overlays the policy file.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", EnvDevelopment),
		Addr:        getEnv("CIVICPROOF_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		PolicyFile:  os.Getenv("CIVICPROOF_POLICY_FILE"),
		JWT: JWTConfig{
			SigningKey: os.Getenv("JWT_SIGNING_KEY"),
			Issuer:     getEnv("JWT_ISSUER", "civicproof"),
			Audience:   getEnv("JWT_AUDIENCE", "civicproof-api"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_REPORT_TOPIC", "civicproof.reports"),
		},
		Ledger: LedgerConfig{
			RPCURL:          os.Getenv("LEDGER_RPC_URL"),
			PrivateKey:      os.Getenv("LEDGER_PRIVATE_KEY"),
			AnchorAddress:   os.Getenv("LEDGER_ANCHOR_ADDRESS"),
			ExpectedChainID: int64(getEnvInt("LEDGER_CHAIN_ID", 0)),
			GasLimit:        uint64(getEnvInt("LEDGER_GAS_LIMIT", 60000)),
			LowBalanceWei:   getEnv("LEDGER_LOW_BALANCE_WEI", "10000000000000000"),
			LockTTL:         getEnvDuration("LEDGER_LOCK_TTL", 5*time.Minute),
		},
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  os.Getenv("LLM_API_KEY"),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
		},
		Policy: DefaultPolicy(),
	}

	if cfg.JWT.SigningKey == "" {
		if cfg.IsProduction() {
			return nil, errors.New("JWT_SIGNING_KEY is required in production")
		}
		// Development default; production refuses to start without a key.
		cfg.JWT.SigningKey = "dev-secret-key-change-in-production"
	}

	if cfg.PolicyFile != "" {
		if err := cfg.Policy.LoadFile(cfg.PolicyFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether the process runs in the production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// IsDevelopment reports whether diagnostic error detail may be returned to callers.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvDevelopment)
}

// LoadFile overlays the YAML policy file at path onto p. A missing file is an error
// because an operator who names a file expects it to be applied.
func (p *Policy) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("policy file %s not found", path)
		}
		return fmt.Errorf("read policy file: %w", err)
	}
	return p.Load(data)
}

// Load overlays YAML policy data onto p. Fields absent from the document keep their values.
func (p *Policy) Load(data []byte) error {
	if err := yaml.Unmarshal(data, p); err != nil {
		return fmt.Errorf("parse policy: %w", err)
	}
	return nil
}

// Validate rejects policies that would break pipeline invariants.
func (p *Policy) Validate() error {
	if p.Clusters.MinFeedbackCount < 1 {
		return errors.New("clusters.min_feedback_count must be at least 1")
	}
	if p.Anchoring.MaxAttempts < 1 {
		return errors.New("anchoring.max_attempts must be at least 1")
	}
	if p.Anchoring.SubmitRetries < 1 {
		return errors.New("anchoring.submit_retries must be at least 1")
	}
	if p.Anchoring.ConfirmTimeout <= 0 {
		return errors.New("anchoring.confirm_timeout must be positive")
	}
	if p.Anchoring.PendingGrace < p.Anchoring.ConfirmTimeout {
		return errors.New("anchoring.pending_grace must not be shorter than confirm_timeout")
	}
	if p.Anchoring.WatchdogInterval <= 0 {
		return errors.New("anchoring.watchdog_interval must be positive")
	}
	switch p.Reports.HistoryMode {
	case HistorySupersede, HistoryAppend:
	default:
		return fmt.Errorf("reports.history_mode must be %q or %q", HistorySupersede, HistoryAppend)
	}
	if p.Reports.BatchConcurrency < 1 {
		return errors.New("reports.batch_concurrency must be at least 1")
	}
	if p.LLM.RequestsPerMinute < 1 || p.LLM.Burst < 1 {
		return errors.New("llm.requests_per_minute and llm.burst must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
