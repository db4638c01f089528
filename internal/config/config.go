// Package config loads and validates collector configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/housedata-crawler/internal/crawler"
	"github.com/JakeFAU/housedata-crawler/internal/logging"
	"github.com/JakeFAU/housedata-crawler/internal/store"
	"github.com/JakeFAU/housedata-crawler/internal/store/postgres"
	"github.com/JakeFAU/housedata-crawler/internal/store/sqldb"
)

// Supported store drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config captures all collector configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Store     StoreConfig     `mapstructure:"store"`
	Collector CollectorConfig `mapstructure:"collector"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Jobs      []JobConfig     `mapstructure:"jobs"`
}

// LoggingConfig controls the console encoder and the daily file sink.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	Dir         string `mapstructure:"dir"`
}

// FetcherConfig selects and tunes the fetch strategy.
type FetcherConfig struct {
	Mode             string `mapstructure:"mode"`
	Proxy            string `mapstructure:"proxy"`
	Headless         bool   `mapstructure:"headless"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	UserAgent        string `mapstructure:"user_agent"`
	CloudflareBypass bool   `mapstructure:"cloudflare_bypass"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	JitterMinMs      int    `mapstructure:"jitter_min_ms"`
	JitterMaxMs      int    `mapstructure:"jitter_max_ms"`
	BackoffFactor    int    `mapstructure:"backoff_factor"`
}

// StoreConfig selects the database and its retry behavior.
type StoreConfig struct {
	Driver               string              `mapstructure:"driver"`
	MaxRetries           int                 `mapstructure:"max_retries"`
	RetryIntervalSeconds int                 `mapstructure:"retry_interval_seconds"`
	Strict               bool                `mapstructure:"strict"`
	ConflictKeys         map[string][]string `mapstructure:"conflict_keys"`
	MySQL                MySQLConfig         `mapstructure:"mysql"`
	Postgres             PostgresConfig      `mapstructure:"postgres"`
	SQLite               SQLiteConfig        `mapstructure:"sqlite"`
}

// MySQLConfig addresses a MySQL server.
type MySQLConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PostgresConfig addresses a Postgres server.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// SQLiteConfig points at a local database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// CollectorConfig sizes the worker pool.
type CollectorConfig struct {
	Workers int `mapstructure:"workers"`
}

// MetricsConfig enables the /metrics and /healthz listener when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// JobConfig is one page to collect and the table its records land in.
type JobConfig struct {
	Name      string          `mapstructure:"name"`
	URL       string          `mapstructure:"url"`
	Table     string          `mapstructure:"table"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
}

// ExtractorConfig names an extractor and its parameters.
type ExtractorConfig struct {
	Type     string            `mapstructure:"type"`
	RowTag   string            `mapstructure:"row_tag"`
	RowAttrs map[string]string `mapstructure:"row_attrs"`
	CellTag  string            `mapstructure:"cell_tag"`
	Columns  map[string]string `mapstructure:"columns"`
	Static   map[string]string `mapstructure:"static"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dir", "logs")
	v.SetDefault("fetcher.mode", string(crawler.ModeHTTP))
	v.SetDefault("fetcher.headless", false)
	v.SetDefault("fetcher.timeout_seconds", 10)
	v.SetDefault("fetcher.max_attempts", 3)
	v.SetDefault("fetcher.jitter_min_ms", 1000)
	v.SetDefault("fetcher.jitter_max_ms", 3000)
	v.SetDefault("fetcher.backoff_factor", 10)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.max_retries", 30)
	v.SetDefault("store.retry_interval_seconds", 30)
	v.SetDefault("store.mysql.port", 3306)
	v.SetDefault("store.mysql.timeout_seconds", 10)
	v.SetDefault("store.sqlite.path", "housedata.db")
	v.SetDefault("collector.workers", 2)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch crawler.Mode(c.Fetcher.Mode) {
	case crawler.ModeHTTP, crawler.ModeBrowser:
	default:
		return fmt.Errorf("fetcher.mode must be %q or %q", crawler.ModeHTTP, crawler.ModeBrowser)
	}
	if c.Fetcher.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher.timeout_seconds must be > 0")
	}
	if c.Fetcher.MaxAttempts <= 0 {
		return fmt.Errorf("fetcher.max_attempts must be > 0")
	}
	if c.Fetcher.JitterMaxMs < c.Fetcher.JitterMinMs {
		return fmt.Errorf("fetcher.jitter_max_ms must be >= fetcher.jitter_min_ms")
	}
	if c.Store.MaxRetries <= 0 {
		return fmt.Errorf("store.max_retries must be > 0")
	}
	switch c.Store.Driver {
	case DriverMySQL:
		if c.Store.MySQL.Host == "" {
			return fmt.Errorf("store.mysql.host is required for the mysql driver")
		}
	case DriverPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Store.SQLite.Path == "" {
			return fmt.Errorf("store.sqlite.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be one of mysql, postgres, sqlite")
	}
	if c.Collector.Workers <= 0 {
		return fmt.Errorf("collector.workers must be > 0")
	}
	for i, job := range c.Jobs {
		if job.URL == "" {
			return fmt.Errorf("jobs[%d].url is required", i)
		}
		if job.Table == "" {
			return fmt.Errorf("jobs[%d].table is required", i)
		}
		if job.Extractor.Type == "" {
			return fmt.Errorf("jobs[%d].extractor.type is required", i)
		}
	}
	return nil
}

// LoggingOptions converts the logging section.
func (c Config) LoggingOptions() logging.Config {
	return logging.Config{
		Development: c.Logging.Development,
		Level:       c.Logging.Level,
		Dir:         c.Logging.Dir,
	}
}

// FetcherOptions converts the fetcher section.
func (c Config) FetcherOptions() crawler.FetcherConfig {
	f := c.Fetcher
	return crawler.FetcherConfig{
		Mode:             crawler.Mode(f.Mode),
		Proxy:            f.Proxy,
		Headless:         f.Headless,
		Timeout:          time.Duration(f.TimeoutSeconds) * time.Second,
		UserAgent:        f.UserAgent,
		CloudflareBypass: f.CloudflareBypass,
		Retry: crawler.RetryPolicy{
			MaxAttempts:   f.MaxAttempts,
			JitterMin:     time.Duration(f.JitterMinMs) * time.Millisecond,
			JitterMax:     time.Duration(f.JitterMaxMs) * time.Millisecond,
			BackoffFactor: f.BackoffFactor,
		},
	}
}

// StoreOptions converts the store section.
func (c Config) StoreOptions() store.Config {
	return store.Config{
		MaxRetries:    c.Store.MaxRetries,
		RetryInterval: time.Duration(c.Store.RetryIntervalSeconds) * time.Second,
		Strict:        c.Store.Strict,
		ConflictKeys:  c.Store.ConflictKeys,
	}
}

// Connector returns the store connector for the configured driver.
func (c Config) Connector() (store.Connector, error) {
	s := c.Store
	switch s.Driver {
	case DriverMySQL:
		return sqldb.MySQLConnector(sqldb.MySQLConfig{
			Host:     s.MySQL.Host,
			Port:     s.MySQL.Port,
			User:     s.MySQL.User,
			Password: s.MySQL.Password,
			Database: s.MySQL.Database,
			Timeout:  time.Duration(s.MySQL.TimeoutSeconds) * time.Second,
		}), nil
	case DriverPostgres:
		return postgres.Connector(postgres.PoolConfig{
			DSN:      s.Postgres.DSN,
			MaxConns: s.Postgres.MaxConns,
			MinConns: s.Postgres.MinConns,
		}), nil
	case DriverSQLite:
		return sqldb.SQLiteConnector(s.SQLite.Path), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", s.Driver)
	}
}
