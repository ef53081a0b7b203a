package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/example/recon-engine/internal/matching"
	"github.com/example/recon-engine/internal/rules"
	"github.com/example/recon-engine/internal/session"
	"github.com/example/recon-engine/internal/storage"
)

// EnvPrefix prefixes every environment override, e.g. RECON_DATABASE_URL.
const EnvPrefix = "RECON"

// Ledger sources.
const (
	LedgerSourceStore    = "store"
	LedgerSourcePostgres = "postgres"
)

// Config holds the application configuration.
type Config struct {
	Environment string         `mapstructure:"app_env"`
	Database    DatabaseConfig `mapstructure:"database"`
	Ledger      LedgerConfig   `mapstructure:"ledger"`
	Redis       RedisConfig    `mapstructure:"redis"`
	HTTP        HTTPConfig     `mapstructure:"http"`
	GRPC        GRPCConfig     `mapstructure:"grpc"`
	Audit       AuditConfig    `mapstructure:"audit"`
	Matching    MatchingConfig `mapstructure:"matching"`
	Session     session.Config `mapstructure:"session"`
	TLS         TLSConfig      `mapstructure:"tls"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// DatabaseConfig selects the session/rule store.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	URL         string `mapstructure:"url"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// LedgerConfig selects where ledger transactions are read from: the store's
// ledger_transactions mirror, or a Postgres ledger's journal entries.
type LedgerConfig struct {
	Source string `mapstructure:"source"`
	URL    string `mapstructure:"url"`
}

// RedisConfig enables Redis session leases when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type HTTPConfig struct {
	Addr              string          `mapstructure:"addr"`
	MaxBodyBytes      int64           `mapstructure:"max_body_bytes"`
	ReadHeaderTimeout time.Duration   `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration   `mapstructure:"shutdown_timeout"`
	IPAllowlist       []string        `mapstructure:"ip_allowlist"`
	RateLimit         RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig enables the per-caller token bucket. It needs Redis.
type RateLimitConfig struct {
	Capacity     int     `mapstructure:"capacity"`
	RefillPerSec float64 `mapstructure:"refill_per_sec"`
}

// TLSConfig is shared by the HTTP and gRPC listeners. Both stay plaintext
// when CertFile is empty.
type TLSConfig struct {
	CertFile          string `mapstructure:"cert_file"`
	KeyFile           string `mapstructure:"key_file"`
	CAFile            string `mapstructure:"ca_file"`
	RequireClientAuth bool   `mapstructure:"require_client_auth"`
}

type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// AuditConfig names the file audit entries are appended to. Empty keeps them
// in memory only.
type AuditConfig struct {
	Sink string `mapstructure:"sink"`
}

// MatchingConfig carries the fuzzy scorer parameters and the rule defaults.
type MatchingConfig struct {
	matching.Params      `mapstructure:",squash"`
	AmountExactTolerance string `mapstructure:"amount_exact_tolerance"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("database.driver", string(storage.DialectSQLite))
	v.SetDefault("database.url", "recon.db")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("ledger.source", LedgerSourceStore)
	v.SetDefault("ledger.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "recon")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("http.read_header_timeout", 5*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.ip_allowlist", []string{})
	v.SetDefault("http.rate_limit.capacity", 0)
	v.SetDefault("http.rate_limit.refill_per_sec", 0.0)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.ca_file", "")
	v.SetDefault("tls.require_client_auth", false)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("audit.sink", "")

	mp := matching.DefaultParams()
	v.SetDefault("matching.weight_amount", mp.WeightAmount)
	v.SetDefault("matching.weight_date", mp.WeightDate)
	v.SetDefault("matching.weight_description", mp.WeightDescription)
	v.SetDefault("matching.amount_scale", mp.AmountScale)
	v.SetDefault("matching.date_scale", mp.DateScale)
	v.SetDefault("matching.threshold", mp.Threshold)
	v.SetDefault("matching.top_k", mp.TopK)
	v.SetDefault("matching.date_window_days", mp.DateWindowDays)
	v.SetDefault("matching.amount_window_pct", mp.AmountWindowPct)
	v.SetDefault("matching.token_similarity", mp.TokenSimilarity)
	v.SetDefault("matching.amount_exact_tolerance", "0")

	sc := session.DefaultConfig()
	v.SetDefault("session.batch_size", sc.BatchSize)
	v.SetDefault("session.batch_timeout", sc.BatchTimeout)
	v.SetDefault("session.lease_ttl", sc.LeaseTTL)
	v.SetDefault("session.max_error_samples", sc.MaxErrorSamples)
	v.SetDefault("session.retry_attempts", sc.RetryAttempts)
	v.SetDefault("session.retry_initial_interval", sc.RetryInitialInterval)
	v.SetDefault("session.ledger_page_size", sc.LedgerPageSize)
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults do not decode: %v", err))
	}
	return &cfg
}

// Load reads defaults, then the config file named by RECON_CONFIG (or
// ./recon.yaml when present), then RECON_* environment variables. A .env file
// in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty file falls back to
// RECON_CONFIG.
func LoadFile(file string) (*Config, error) {
	_ = godotenv.Load()
	if file == "" {
		file = os.Getenv(EnvPrefix + "_CONFIG")
	}
	return load(viper.New(), file)
}

func load(v *viper.Viper, file string) (*Config, error) {
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("recon")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "app_env")
	}
	if c.Database.Driver == "" {
		missing = append(missing, "database.driver")
	}
	if c.Database.URL == "" {
		missing = append(missing, "database.url")
	}
	if c.Ledger.Source == LedgerSourcePostgres && c.Ledger.URL == "" {
		missing = append(missing, "ledger.url")
	}
	if len(missing) > 0 {
		return errors.New("missing required configuration: " + strings.Join(missing, ", "))
	}

	var problems []string
	if _, err := storage.ParseDialect(c.Database.Driver); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Ledger.Source {
	case LedgerSourceStore, LedgerSourcePostgres:
	default:
		problems = append(problems, fmt.Sprintf("unknown ledger.source %q", c.Ledger.Source))
	}
	if err := c.Matching.Params.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.RuleDefaults(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		problems = append(problems, "http.max_body_bytes must be positive")
	}
	if c.HTTP.RateLimit.Capacity > 0 && c.Redis.Addr == "" {
		problems = append(problems, "http.rate_limit requires redis.addr")
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		problems = append(problems, "tls.cert_file and tls.key_file must be set together")
	}
	if c.TLS.RequireClientAuth && c.TLS.CAFile == "" {
		problems = append(problems, "tls.require_client_auth needs tls.ca_file")
	}

	// Audit entries must leave the process outside development.
	if (c.Environment == "production" || c.Environment == "staging") && c.Audit.Sink == "" {
		problems = append(problems, "audit.sink is required for "+c.Environment)
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// RuleDefaults returns the defaults applied to rule conditions.
func (c *Config) RuleDefaults() (rules.Defaults, error) {
	raw := strings.TrimSpace(c.Matching.AmountExactTolerance)
	if raw == "" {
		return rules.Defaults{}, nil
	}
	tol, err := decimal.NewFromString(raw)
	if err != nil || tol.IsNegative() {
		return rules.Defaults{}, fmt.Errorf("matching.amount_exact_tolerance %q must be a non-negative decimal", raw)
	}
	return rules.Defaults{AmountExactTolerance: tol}, nil
}
