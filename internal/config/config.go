package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Data    DataConfig    `yaml:"data" mapstructure:"data"`
	Dataset DatasetConfig `yaml:"dataset" mapstructure:"dataset"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Sweep   SweepConfig   `yaml:"sweep" mapstructure:"sweep"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// DataConfig locates the measurement archives.
type DataConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// DatasetConfig holds the defaults applied to every dataset the CLI builds.
type DatasetConfig struct {
	Policy          string `yaml:"policy" mapstructure:"policy"`
	ReduceCovFactor int    `yaml:"reduce_cov_factor" mapstructure:"reduce_cov_factor"`
	LogCovariance   bool   `yaml:"log_covariance" mapstructure:"log_covariance"`
}

// StoreConfig configures the snapshot catalogue backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// SweepConfig configures parameter sweeps.
type SweepConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// ServerConfig configures the snapshot HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("data.dir", "./data")
	v.SetDefault("dataset.policy", "single")
	v.SetDefault("dataset.reduce_cov_factor", 1)
	v.SetDefault("dataset.log_covariance", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "barry.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("sweep.max_concurrent", 4)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Dataset.ReduceCovFactor == 0 || c.Dataset.ReduceCovFactor < -1 {
		errs = append(errs, "dataset.reduce_cov_factor must be a positive integer or -1")
	}
	switch c.Dataset.Policy {
	case "", "single", "joint":
	default:
		errs = append(errs, "dataset.policy must be single or joint")
	}

	switch mode {
	case "dataset":
		if c.Data.Dir == "" {
			errs = append(errs, "data.dir is required")
		}
	case "store":
		errs = append(errs, c.validateStore()...)
	case "sweep":
		if c.Data.Dir == "" {
			errs = append(errs, "data.dir is required")
		}
		if c.Sweep.MaxConcurrent < 1 || c.Sweep.MaxConcurrent > 64 {
			errs = append(errs, "sweep.max_concurrent must be between 1 and 64")
		}
	case "serve":
		if c.Data.Dir == "" {
			errs = append(errs, "data.dir is required")
		}
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Store.MinConns > c.Store.MaxConns && c.Store.MaxConns > 0 {
		errs = append(errs, "store.min_conns must not exceed store.max_conns")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
