package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/sellergrid/computecache/internal/cache"
)

type Config struct {
	LogLevel string `mapstructure:"log_level"`
	Metrics  struct {
		Enabled bool   `mapstructure:"enabled"`
		Port    int    `mapstructure:"port"`
		Address string `mapstructure:"address"`
	} `mapstructure:"metrics"`
	Cache struct {
		DefaultTTL         string   `mapstructure:"default_ttl"`     // Go duration string like "5m", "1h", etc.
		SweepThreshold     int      `mapstructure:"sweep_threshold"` // Entry count that triggers a sweep
		SingleFlight       bool     `mapstructure:"single_flight"`
		Group              string   `mapstructure:"group"` // Prometheus "cache" label; empty disables Prometheus
		EntityKeyTemplates []string `mapstructure:"entity_key_templates"`
	} `mapstructure:"cache"`
	Frequency struct {
		Window         string `mapstructure:"window"` // Go duration string like "60s"
		AlertThreshold int    `mapstructure:"alert_threshold"`
		MaxWindows     int    `mapstructure:"max_windows"`
	} `mapstructure:"frequency"`
}

var (
	globalConfig *Config
	logger       zerolog.Logger
)

func init() {
	// Initialize zerolog with console writer for human-readable output
	logger = zerolog.New(zerolog.ConsoleWriter{
		Out:     os.Stdout,
		NoColor: false,
	}).With().Timestamp().Logger()

	config, err := LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	// Parse and set log level from config
	level := zerolog.InfoLevel // default
	if config.LogLevel != "" {
		if parsedLevel, err := zerolog.ParseLevel(config.LogLevel); err == nil {
			level = parsedLevel
		} else {
			logger.Warn().Str("invalid_level", config.LogLevel).Msg("Invalid log level, using default 'info'")
		}
	}

	// Set the global log level
	zerolog.SetGlobalLevel(level)

	// Update logger with the configured level
	logger = logger.Level(level)

	globalConfig = config
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variable support
	viper.AutomaticEnv()
	viper.SetEnvPrefix("APP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Add specific environment variable for log level
	_ = viper.BindEnv("log_level", "LOG_LEVEL")

	// Set defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.address", "localhost")
	viper.SetDefault("cache.group", "compute")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func GetConfig() *Config {
	return globalConfig
}

func GetLogger() zerolog.Logger {
	return logger
}

// ComputeCacheConfig translates the application config into a cache.Config.
// Malformed or missing duration strings fall back to the cache package
// defaults.
func (c *Config) ComputeCacheConfig() cache.Config {
	log := GetLogger()
	return cache.Config{
		DefaultTTL:              parseDuration(c.Cache.DefaultTTL),
		SweepThreshold:          c.Cache.SweepThreshold,
		SingleFlight:            c.Cache.SingleFlight,
		FrequencyWindow:         parseDuration(c.Frequency.Window),
		FrequencyAlertThreshold: c.Frequency.AlertThreshold,
		FrequencyMaxWindows:     c.Frequency.MaxWindows,
		EntityKeyTemplates:      c.Cache.EntityKeyTemplates,
		Group:                   c.Cache.Group,
		Logger:                  &log,
	}
}

// parseDuration parses a Go duration string, returning 0 (meaning "use the
// default") when the string is empty or malformed.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
