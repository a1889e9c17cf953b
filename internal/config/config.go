package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/helicone/requestquery/internal/blob"
	"github.com/helicone/requestquery/internal/engine"
	"github.com/helicone/requestquery/internal/hydrate"
	"github.com/helicone/requestquery/internal/logger"
	"github.com/helicone/requestquery/internal/storage/clickhouse"
	"github.com/helicone/requestquery/internal/storage/postgres"
	"github.com/helicone/requestquery/pkg/types"
)

const envPrefix = "REQUESTQUERY_"

type ServerConfig struct {
	Port         string        `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	BodyLimit    int           `yaml:"body_limit"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Log        logger.Config     `yaml:"log"`
	Engine     engine.Config     `yaml:"engine"`
	Postgres   postgres.Config   `yaml:"postgres"`
	ClickHouse clickhouse.Config `yaml:"clickhouse"`
	SQLite     SQLiteConfig      `yaml:"sqlite"`
	Blob       blob.Config       `yaml:"blob"`
	Hydrate    hydrate.Config    `yaml:"hydrate"`
}

// Load reads YAML config when path is set, then applies env overrides and
// defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if !strings.HasPrefix(c.Server.Port, ":") {
		c.Server.Port = ":" + c.Server.Port
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Server.BodyLimit == 0 {
		c.Server.BodyLimit = 1 * 1024 * 1024 // 1MB
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Engine.DefaultDialect == "" {
		c.Engine.DefaultDialect = types.DialectRowStore
	}

	chDefaults := clickhouse.DefaultConfig()
	if len(c.ClickHouse.Addr) == 0 && c.ClickHouse.Database != "" {
		c.ClickHouse.Addr = chDefaults.Addr
	}
	if c.ClickHouse.Username == "" {
		c.ClickHouse.Username = chDefaults.Username
	}
	if c.ClickHouse.MaxConns == 0 {
		c.ClickHouse.MaxConns = chDefaults.MaxConns
	}
	if c.ClickHouse.Timeout == 0 {
		c.ClickHouse.Timeout = chDefaults.Timeout
	}
	if c.ClickHouse.Skew == 0 {
		c.ClickHouse.Skew = chDefaults.Skew
	}
	if c.ClickHouse.BracketPad == 0 {
		c.ClickHouse.BracketPad = chDefaults.BracketPad
	}

	blobDefaults := blob.DefaultConfig()
	if c.Blob.Bucket == "" {
		c.Blob.Bucket = blobDefaults.Bucket
	}
	if c.Blob.Expiry == 0 {
		c.Blob.Expiry = blobDefaults.Expiry
	}
	if c.Blob.RatePerSecond == 0 {
		c.Blob.RatePerSecond = blobDefaults.RatePerSecond
	}
	if c.Blob.Burst == 0 {
		c.Blob.Burst = blobDefaults.Burst
	}
	if c.Hydrate.Concurrency == 0 {
		c.Hydrate.Concurrency = hydrate.DefaultConfig().Concurrency
	}
}

// Validate requires at least one store and a default dialect that has one.
func (c *Config) Validate() error {
	if _, err := types.ParseDialect(string(c.Engine.DefaultDialect)); err != nil {
		return fmt.Errorf("engine.default_dialect: %w", err)
	}

	configured := c.Dialects()
	if len(configured) == 0 {
		return errors.New("no store configured: set postgres.dsn, clickhouse.addr or sqlite.path")
	}
	found := false
	for _, d := range configured {
		if d == c.Engine.DefaultDialect {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("engine.default_dialect %q has no configured store", c.Engine.DefaultDialect)
	}

	if c.ClickHouse.Skew < 0 || c.ClickHouse.BracketPad < 0 {
		return errors.New("clickhouse.skew and clickhouse.bracket_pad cannot be negative")
	}
	if c.Hydrate.Concurrency < 0 {
		return errors.New("hydrate.concurrency cannot be negative")
	}
	return nil
}

// Dialects lists the dialects whose store has connection settings.
func (c *Config) Dialects() []types.Dialect {
	var out []types.Dialect
	if strings.TrimSpace(c.Postgres.DSN) != "" {
		out = append(out, types.DialectRowStore)
	}
	if len(c.ClickHouse.Addr) > 0 {
		out = append(out, types.DialectAnalytical)
	}
	if strings.TrimSpace(c.SQLite.Path) != "" {
		out = append(out, types.DialectEmbedded)
	}
	return out
}

func applyEnvOverrides(c *Config) {
	// PORT is honored for platforms that inject it.
	setString(&c.Server.Port, "PORT")
	setString(&c.Server.Port, envPrefix+"PORT")
	setString(&c.Log.Level, envPrefix+"LOG_LEVEL")
	setString(&c.Log.Format, envPrefix+"LOG_FORMAT")
	if v, ok := os.LookupEnv(envPrefix + "DEFAULT_DIALECT"); ok {
		c.Engine.DefaultDialect = types.Dialect(v)
	}
	setString(&c.Postgres.DSN, envPrefix+"POSTGRES_DSN")
	if v, ok := os.LookupEnv(envPrefix + "CLICKHOUSE_ADDR"); ok && v != "" {
		c.ClickHouse.Addr = strings.Split(v, ",")
	}
	setString(&c.ClickHouse.Database, envPrefix+"CLICKHOUSE_DATABASE")
	setString(&c.ClickHouse.Username, envPrefix+"CLICKHOUSE_USERNAME")
	setString(&c.ClickHouse.Password, envPrefix+"CLICKHOUSE_PASSWORD")
	setDuration(&c.ClickHouse.Skew, envPrefix+"CLICKHOUSE_SKEW")
	setDuration(&c.ClickHouse.BracketPad, envPrefix+"CLICKHOUSE_BRACKET_PAD")
	setString(&c.SQLite.Path, envPrefix+"SQLITE_PATH")
	setString(&c.Blob.Endpoint, envPrefix+"BLOB_ENDPOINT")
	setString(&c.Blob.AccessKeyID, envPrefix+"BLOB_ACCESS_KEY_ID")
	setString(&c.Blob.SecretAccessKey, envPrefix+"BLOB_SECRET_ACCESS_KEY")
	setString(&c.Blob.Region, envPrefix+"BLOB_REGION")
	setString(&c.Blob.Bucket, envPrefix+"BLOB_BUCKET")
	setDuration(&c.Blob.Expiry, envPrefix+"BLOB_EXPIRY")
	setInt(&c.Hydrate.Concurrency, envPrefix+"HYDRATE_CONCURRENCY")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
