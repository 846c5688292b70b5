package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the securing service
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Securing   SecuringConfig   `mapstructure:"securing"`
	Offers     OffersConfig     `mapstructure:"offers"`
	Timestamp  TimestampConfig  `mapstructure:"timestamp"`
	NATS       NATSConfig       `mapstructure:"nats"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Redis      RedisConfig      `mapstructure:"redis"`
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds the pgx connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// SecuringConfig tunes the securing runs and the orchestration loop
type SecuringConfig struct {
	// OverlapDelaySeconds widens the window backward to tolerate records
	// committed slightly after their nominal timestamp.
	OverlapDelaySeconds int `mapstructure:"overlap_delay_seconds"`
	// MaxEntriesPerRun caps the number of records sealed per run.
	MaxEntriesPerRun int `mapstructure:"max_entries_per_run"`
	// Tenants is the set of tenant ids to secure.
	Tenants []int `mapstructure:"tenants"`
	// HashAlgorithm selects the digest used for the tree and token.
	HashAlgorithm string `mapstructure:"hash_algorithm"`
	// PollIntervalMillis is the initial poll sleep while waiting for a
	// run's terminal status; it doubles up to PollIntervalCapMillis.
	PollIntervalMillis    int `mapstructure:"poll_interval_ms"`
	PollIntervalCapMillis int `mapstructure:"poll_interval_cap_ms"`
}

// OffersConfig holds the filesystem offer settings
type OffersConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

// TimestampConfig holds timestamp authority settings. When URL is empty the
// local HMAC signer is used with Secret.
type TimestampConfig struct {
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// NATSConfig holds notification bus settings
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// OpenSearchConfig holds the journal search index settings
type OpenSearchConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Insecure bool   `mapstructure:"insecure"`
	Enabled  bool   `mapstructure:"enabled"`
}

// RedisConfig holds the advisory run-lock settings
type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	Enabled bool          `mapstructure:"enabled"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8091)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "arkheion")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "arkheion_journal")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("securing.overlap_delay_seconds", 0)
	v.SetDefault("securing.max_entries_per_run", 100000)
	v.SetDefault("securing.tenants", []int{0})
	v.SetDefault("securing.hash_algorithm", "SHA-256")
	v.SetDefault("securing.poll_interval_ms", 1000)
	v.SetDefault("securing.poll_interval_cap_ms", 60000)

	v.SetDefault("offers.root_dir", "/var/lib/arkheion/offers")

	v.SetDefault("timestamp.url", "")
	v.SetDefault("timestamp.secret", "")
	v.SetDefault("timestamp.timeout", "30s")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", false)

	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.enabled", false)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.lock_ttl", "10m")

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("SECURING")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate fails fast on configuration errors, before any securing operation
// is created.
func (c *Config) Validate() error {
	if c.Securing.OverlapDelaySeconds < 0 {
		return fmt.Errorf("securing overlap delay cannot be negative: %d", c.Securing.OverlapDelaySeconds)
	}
	if c.Securing.MaxEntriesPerRun <= 0 {
		return fmt.Errorf("securing max entries per run must be positive: %d", c.Securing.MaxEntriesPerRun)
	}
	if len(c.Securing.Tenants) == 0 {
		return fmt.Errorf("securing tenant list is empty")
	}
	seen := make(map[int]bool, len(c.Securing.Tenants))
	for _, tenant := range c.Securing.Tenants {
		if tenant < 0 {
			return fmt.Errorf("invalid tenant id: %d", tenant)
		}
		if seen[tenant] {
			return fmt.Errorf("duplicate tenant id: %d", tenant)
		}
		seen[tenant] = true
	}
	if c.Securing.PollIntervalMillis <= 0 {
		return fmt.Errorf("poll interval must be positive: %d", c.Securing.PollIntervalMillis)
	}
	if c.Securing.PollIntervalCapMillis < c.Securing.PollIntervalMillis {
		return fmt.Errorf("poll interval cap %d below poll interval %d",
			c.Securing.PollIntervalCapMillis, c.Securing.PollIntervalMillis)
	}
	return nil
}
