package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/esoto/expense-tracker/internal/common"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultDatabasePath is where the SQLite database lives unless configured.
const DefaultDatabasePath = "$HOME/.local/share/spice/spice.db"

// Config is the application configuration, read from viper.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Aliases  AliasConfig    `mapstructure:"aliases"`
}

// DatabaseConfig selects and locates the store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AliasConfig tunes alias resolution.
type AliasConfig struct {
	FuzzyFloor  float64 `mapstructure:"fuzzy_floor"`
	FuzzyLimit  int     `mapstructure:"fuzzy_limit"`
	CacheSize   int     `mapstructure:"cache_size"`
	FuzzySearch bool    `mapstructure:"fuzzy_search"`
}

// LoadDotEnv reads a .env file from the working directory, if one exists, so
// it can supply SPICE_* variables.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// SetDefaults registers defaults for every key so environment variables can
// override keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("database.dsn", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("aliases.fuzzy_floor", 0.5)
	v.SetDefault("aliases.fuzzy_limit", 5)
	v.SetDefault("aliases.cache_size", 1024)
	v.SetDefault("aliases.fuzzy_search", true)

	v.SetEnvPrefix("SPICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
	}

	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Database.Path = ExpandPath(cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the application cannot use.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("%w: database.path is required for sqlite", common.ErrInvalidConfig)
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("%w: database.dsn is required for postgres", common.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown database driver %q", common.ErrInvalidConfig, c.Database.Driver)
	}

	if c.Aliases.FuzzyFloor < 0 || c.Aliases.FuzzyFloor > 1 {
		return fmt.Errorf("%w: aliases.fuzzy_floor must be between 0 and 1", common.ErrInvalidConfig)
	}
	if c.Aliases.FuzzyLimit <= 0 {
		return fmt.Errorf("%w: aliases.fuzzy_limit must be positive", common.ErrInvalidConfig)
	}
	if c.Aliases.CacheSize < 0 {
		return fmt.Errorf("%w: aliases.cache_size cannot be negative", common.ErrInvalidConfig)
	}
	return nil
}
