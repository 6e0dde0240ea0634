package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "nexus.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	return LoadWithFlags(yamlPath, nil)
}

// LoadWithFlags is LoadFrom with command-line overrides applied last.
// A ConfigPath in flags replaces yamlPath.
func LoadWithFlags(yamlPath string, flags *Flags) (*Config, error) {
	cfg := Defaults()

	if flags != nil && flags.ConfigPath != nil {
		yamlPath = *flags.ConfigPath
	}
	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	flags.apply(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "NEXUS_PORT")
	setString(&cfg.Server.CORSOrigin, "NEXUS_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "NEXUS_SHUTDOWN_TIMEOUT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "NEXUS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "NEXUS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "NEXUS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "NEXUS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "NEXUS_PG_HEALTH_CHECK")

	setStringAllowEmpty(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "NEXUS_NATS_STREAM")

	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")

	setString(&cfg.Inference.Model, "NEXUS_MODEL")
	setInt(&cfg.Inference.MaxTokens, "NEXUS_MAX_TOKENS")
	setFloat64(&cfg.Inference.Temperature, "NEXUS_TEMPERATURE")
	setFloat64(&cfg.Inference.TopP, "NEXUS_TOP_P")
	setDuration(&cfg.Inference.TurnTimeout, "NEXUS_TURN_TIMEOUT")

	setBool(&cfg.Chat.ValidateConstraints, "NEXUS_VALIDATE_CONSTRAINTS")
	setInt(&cfg.Chat.MaxRetries, "NEXUS_MAX_RETRIES")
	setString(&cfg.Chat.Strictness, "NEXUS_STRICTNESS")
	setString(&cfg.Chat.HistoryPolicy, "NEXUS_HISTORY_POLICY")
	setInt(&cfg.Chat.HistoryWindow, "NEXUS_HISTORY_WINDOW")
	setInt(&cfg.Chat.KnowledgeMaxFiles, "NEXUS_KNOWLEDGE_MAX_FILES")
	setInt(&cfg.Chat.KnowledgeMaxChars, "NEXUS_KNOWLEDGE_MAX_CHARS")
	setDuration(&cfg.Chat.PersistTimeout, "NEXUS_PERSIST_TIMEOUT")

	setBool(&cfg.Guard.Enabled, "NEXUS_GUARD_ENABLED")
	setString(&cfg.Guard.PrivilegedRole, "NEXUS_PRIVILEGED_ROLE")
	setString(&cfg.Guard.AdminKeyHash, "NEXUS_ADMIN_KEY_HASH")
	setString(&cfg.Guard.BankFile, "NEXUS_GUARD_BANK_FILE")

	setInt64(&cfg.Usage.MonthlyLimit, "NEXUS_USAGE_MONTHLY_LIMIT")

	setDuration(&cfg.WS.WriteTimeout, "NEXUS_WS_WRITE_TIMEOUT")
	setInt64(&cfg.WS.ReadLimit, "NEXUS_WS_READ_LIMIT")

	setString(&cfg.Logging.Level, "NEXUS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "NEXUS_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "NEXUS_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "NEXUS_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "NEXUS_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "NEXUS_RATE_RPS")
	setInt(&cfg.Rate.Burst, "NEXUS_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "NEXUS_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "NEXUS_RATE_MAX_IDLE_TIME")

	setInt64(&cfg.Cache.L1MaxSizeMB, "NEXUS_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "NEXUS_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "NEXUS_CACHE_L2_TTL")

	setString(&cfg.Registry.Bucket, "NEXUS_REGISTRY_BUCKET")
	setDuration(&cfg.Registry.TTL, "NEXUS_REGISTRY_TTL")

	setString(&cfg.Idem.Bucket, "NEXUS_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idem.TTL, "NEXUS_IDEMPOTENCY_TTL")

	setBool(&cfg.OTEL.Enabled, "NEXUS_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "NEXUS_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "NEXUS_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.LiteLLM.URL == "" {
		return errors.New("litellm.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Inference.MaxTokens < 1 {
		return errors.New("inference.max_tokens must be >= 1")
	}
	if cfg.Inference.Temperature < 0 || cfg.Inference.Temperature > 1 {
		return errors.New("inference.temperature must be within [0, 1]")
	}
	if cfg.Inference.TopP <= 0 || cfg.Inference.TopP > 1 {
		return errors.New("inference.top_p must be within (0, 1]")
	}
	if cfg.Chat.MaxRetries < 0 {
		return errors.New("chat.max_retries must be >= 0")
	}
	switch cfg.Chat.Strictness {
	case "strict", "balanced", "flexible":
	default:
		return fmt.Errorf("chat.strictness %q is not one of strict, balanced, flexible", cfg.Chat.Strictness)
	}
	switch cfg.Chat.HistoryPolicy {
	case "heuristic", "trust_client", "trust_store":
	default:
		return fmt.Errorf("chat.history_policy %q is not one of heuristic, trust_client, trust_store", cfg.Chat.HistoryPolicy)
	}
	return nil
}

// Flags holds command-line overrides. Nil fields were not set.
type Flags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// ParseFlags parses serve flags. Long and short forms are accepted.
func ParseFlags(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("nexus", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var f Flags
	var configPath, port, logLevel, dsn, natsURL string
	fs.StringVar(&configPath, "config", "", "path to YAML config")
	fs.StringVar(&configPath, "c", "", "path to YAML config (shorthand)")
	fs.StringVar(&port, "port", "", "HTTP port")
	fs.StringVar(&port, "p", "", "HTTP port (shorthand)")
	fs.StringVar(&logLevel, "log-level", "", "log level")
	fs.StringVar(&dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&natsURL, "nats-url", "", "NATS URL")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "config", "c":
			f.ConfigPath = &configPath
		case "port", "p":
			f.Port = &port
		case "log-level":
			f.LogLevel = &logLevel
		case "dsn":
			f.DSN = &dsn
		case "nats-url":
			f.NatsURL = &natsURL
		}
	})
	return &f, nil
}

func (f *Flags) apply(cfg *Config) {
	if f == nil {
		return
	}
	if f.Port != nil {
		cfg.Server.Port = *f.Port
	}
	if f.LogLevel != nil {
		cfg.Logging.Level = *f.LogLevel
	}
	if f.DSN != nil {
		cfg.Postgres.DSN = *f.DSN
	}
	if f.NatsURL != nil {
		cfg.NATS.URL = *f.NatsURL
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setStringAllowEmpty overrides dst when key is set, even to the empty string.
func setStringAllowEmpty(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
