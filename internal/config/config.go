package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

// ProviderConfig describes one LLM provider. APIKey may be left empty and
// supplied through the environment variable named by APIKeyEnv.
type ProviderConfig struct {
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Disabled bool   `json:"disabled"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	LogLevel      string `json:"log_level"`
	LogFormat     string `json:"log_format"`

	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleTimeout int `json:"worker_idle_timeout"` // minutes

	ReportProvider    string `json:"report_provider"`
	ReportModel       string `json:"report_model"`
	SuggestProvider   string `json:"suggest_provider"`
	SuggestModel      string `json:"suggest_model"`
	LLMTimeoutSeconds int    `json:"llm_timeout_seconds"`

	DedupScope              string `json:"dedup_scope"`
	PendingReportTTLMinutes int    `json:"pending_report_ttl_minutes"`
	SweepIntervalMinutes    int    `json:"sweep_interval_minutes"`
	TokenTTLHours           int    `json:"token_ttl_hours"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// sqlite file paths are resolved relative to the config file.
	for name, db := range cfg.Databases {
		if !strings.HasPrefix(name, "sqlite") || db.DSN == "" || db.DSN == ":memory:" {
			continue
		}
		if strings.HasPrefix(db.DSN, "file:") || filepath.IsAbs(db.DSN) {
			continue
		}
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases[name] = db
	}

	cfg.applyDefaults()
	cfg.resolveProviderKeys()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}
	if b.LogFormat == "" {
		b.LogFormat = "json"
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers <= 0 {
		b.MaxWorkers = 16
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 64
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 5
	}
	if b.ReportProvider == "" {
		b.ReportProvider = "openai"
	}
	if b.SuggestProvider == "" {
		b.SuggestProvider = b.ReportProvider
	}
	if b.LLMTimeoutSeconds <= 0 {
		b.LLMTimeoutSeconds = 60
	}
	if b.DedupScope == "" {
		b.DedupScope = "adjacent"
	}
	if b.PendingReportTTLMinutes <= 0 {
		b.PendingReportTTLMinutes = 15
	}
	if b.SweepIntervalMinutes <= 0 {
		b.SweepIntervalMinutes = 5
	}
	if b.TokenTTLHours <= 0 {
		b.TokenTTLHours = 24
	}
}

func (c *Config) resolveProviderKeys() {
	for name, p := range c.Providers {
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
			c.Providers[name] = p
		}
	}
}

func (c *Config) validate() error {
	b := c.BasicConfig
	if b.MinWorkers > b.MaxWorkers {
		return fmt.Errorf("min_workers (%d) exceeds max_workers (%d)", b.MinWorkers, b.MaxWorkers)
	}
	if len(c.Databases) == 0 {
		return errors.New("at least one database must be configured")
	}
	if _, ok := c.Providers[b.ReportProvider]; !ok {
		return fmt.Errorf("report_provider %q has no provider entry", b.ReportProvider)
	}
	if _, ok := c.Providers[b.SuggestProvider]; !ok {
		return fmt.Errorf("suggest_provider %q has no provider entry", b.SuggestProvider)
	}
	switch b.DedupScope {
	case "adjacent", "session":
	default:
		return fmt.Errorf("dedup_scope must be adjacent or session, got %q", b.DedupScope)
	}
	return nil
}

// Provider returns the named provider config.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}
