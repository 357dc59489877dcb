// Package config loads spendgate's application settings.
//
// Precedence, lowest first: built-in defaults, the YAML file, a .env file,
// then SPENDGATE_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/spendgate/internal/currency"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Kind string `yaml:"kind"` // memory | sqlite | file
	Path string `yaml:"path"`
}

// RatesConfig selects the rate provider.
type RatesConfig struct {
	Provider string                     `yaml:"provider"` // static | http
	Endpoint string                     `yaml:"endpoint"`
	TTL      time.Duration              `yaml:"ttl"`
	Timeout  time.Duration              `yaml:"timeout"`
	Static   map[string]decimal.Decimal `yaml:"static"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ServerConfig holds listener addresses and background intervals.
type ServerConfig struct {
	GRPCAddr        string        `yaml:"grpc_addr"`
	HTTPAddr        string        `yaml:"http_addr"`
	EscalationEvery time.Duration `yaml:"escalation_every"`
}

// AuthConfig holds the HTTP bearer token settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// Config is the full application configuration.
type Config struct {
	BaseCurrency  string       `yaml:"base_currency"`
	Categories    []string     `yaml:"categories"`
	RulesPath     string       `yaml:"rules_path"`
	DirectoryPath string       `yaml:"directory_path"`
	AuditPath     string       `yaml:"audit_path"`
	Store         StoreConfig  `yaml:"store"`
	Rates         RatesConfig  `yaml:"rates"`
	Log           LogConfig    `yaml:"log"`
	Server        ServerConfig `yaml:"server"`
	Auth          AuthConfig   `yaml:"auth"`
}

// Dir returns ~/.spendgate.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "spendgate")
	}
	return filepath.Join(home, ".spendgate")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := Dir()
	return &Config{
		BaseCurrency: "USD",
		Categories: []string{
			"Travel", "Meals", "Office Supplies", "Transportation",
			"Accommodation", "Entertainment", "Training", "Other",
		},
		RulesPath:     filepath.Join(dir, "rules.yaml"),
		DirectoryPath: filepath.Join(dir, "directory.yaml"),
		AuditPath:     filepath.Join(dir, "audit.jsonl"),
		Store:         StoreConfig{Kind: "sqlite", Path: filepath.Join(dir, "spendgate.db")},
		Rates: RatesConfig{
			Provider: "static",
			Endpoint: "https://api.exchangerate-api.com/v4/latest",
			TTL:      time.Hour,
			Timeout:  3 * time.Second,
			Static: map[string]decimal.Decimal{
				"USD": decimal.NewFromInt(1),
			},
		},
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{GRPCAddr: "127.0.0.1:50061", HTTPAddr: "127.0.0.1:8080", EscalationEvery: time.Minute},
		Auth:   AuthConfig{JWTSecret: "dev-secret-only", TokenTTL: 24 * time.Hour},
	}
}

// DefaultPath returns ~/.spendgate/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads path (empty means DefaultPath), a .env file in the working
// directory, and SPENDGATE_* overrides. A missing YAML file yields defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("SPENDGATE_BASE_CURRENCY", &c.BaseCurrency)
	str("SPENDGATE_RULES", &c.RulesPath)
	str("SPENDGATE_DIRECTORY", &c.DirectoryPath)
	str("SPENDGATE_AUDIT_LOG", &c.AuditPath)
	str("SPENDGATE_STORE", &c.Store.Kind)
	str("SPENDGATE_DB", &c.Store.Path)
	str("SPENDGATE_RATES_PROVIDER", &c.Rates.Provider)
	str("SPENDGATE_RATES_ENDPOINT", &c.Rates.Endpoint)
	dur("SPENDGATE_RATES_TTL", &c.Rates.TTL)
	dur("SPENDGATE_RATES_TIMEOUT", &c.Rates.Timeout)
	str("SPENDGATE_LOG_LEVEL", &c.Log.Level)
	str("SPENDGATE_LOG_FILE", &c.Log.File)
	str("SPENDGATE_GRPC_ADDR", &c.Server.GRPCAddr)
	str("SPENDGATE_HTTP_ADDR", &c.Server.HTTPAddr)
	dur("SPENDGATE_ESCALATION_EVERY", &c.Server.EscalationEvery)
	str("SPENDGATE_JWT_SECRET", &c.Auth.JWTSecret)

	if v, ok := os.LookupEnv("SPENDGATE_CATEGORIES"); ok && v != "" {
		var cats []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cats = append(cats, s)
			}
		}
		c.Categories = cats
	}
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	c.BaseCurrency = currency.Normalize(c.BaseCurrency)
	if !currency.ValidCode(c.BaseCurrency) {
		return fmt.Errorf("config: base_currency %q is not an ISO 4217 code", c.BaseCurrency)
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("config: categories must not be empty")
	}
	switch c.Store.Kind {
	case "memory", "sqlite", "file":
	default:
		return fmt.Errorf("config: store.kind %q is not memory, sqlite or file", c.Store.Kind)
	}
	switch c.Rates.Provider {
	case "static":
	case "http":
		if c.Rates.Endpoint == "" {
			return fmt.Errorf("config: rates.endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("config: rates.provider %q is not static or http", c.Rates.Provider)
	}
	if c.Rates.Timeout <= 0 {
		return fmt.Errorf("config: rates.timeout must be positive")
	}
	return nil
}

// RateProvider builds the configured provider. HTTP rates are cached for Rates.TTL.
func (c *Config) RateProvider() currency.Provider {
	if c.Rates.Provider == "http" {
		p := currency.NewHTTPProvider(c.Rates.Endpoint)
		if c.Rates.TTL > 0 {
			return currency.NewCachedProvider(p, c.Rates.TTL)
		}
		return p
	}
	table := make(currency.Table, len(c.Rates.Static)+1)
	for code, rate := range c.Rates.Static {
		table[currency.Normalize(code)] = rate
	}
	if _, ok := table[c.BaseCurrency]; !ok {
		table[c.BaseCurrency] = decimal.NewFromInt(1)
	}
	return currency.StaticProvider{Base: c.BaseCurrency, Rates: table}
}

// DefaultYAML returns a commented config file for spendgate init.
func DefaultYAML() string {
	return `# spendgate configuration
# Generated by: spendgate init
# Every key can be overridden with a SPENDGATE_* environment variable
# (a .env file in the working directory is loaded too).

base_currency: USD

categories: [Travel, Meals, Office Supplies, Transportation, Accommodation, Entertainment, Training, Other]

# rules_path: ~/.spendgate/rules.yaml
# directory_path: ~/.spendgate/directory.yaml
# audit_path: ~/.spendgate/audit.jsonl

store:
  kind: sqlite        # memory | sqlite | file
  # path: ~/.spendgate/spendgate.db

rates:
  provider: static    # static | http
  endpoint: https://api.exchangerate-api.com/v4/latest
  ttl: 1h
  timeout: 3s
  # Units of each currency per one unit of base_currency.
  static:
    USD: 1
    EUR: 0.92
    GBP: 0.79

log:
  level: info
  # file: ~/.spendgate/spendgate.log

server:
  grpc_addr: 127.0.0.1:50061
  http_addr: 127.0.0.1:8080
  escalation_every: 1m

auth:
  jwt_secret: dev-secret-only
  token_ttl: 24h
`
}
