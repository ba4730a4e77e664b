// Package config binds command line flags to config files, environment
// variables and .env files.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/beacon-duty-fetcher/pkg/batch"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/client"
	"github.com/Sternrassler/beacon-duty-fetcher/pkg/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultConfigName is the config file name, without extension, looked
	// up in the working directory.
	DefaultConfigName = "duty-fetcher"

	// EnvPrefix prefixes environment variables bound to flags, e.g.
	// DUTY_BEACON_URL for --beacon-url.
	EnvPrefix = "DUTY"

	// KeyConfigFile is the flag naming an explicit config file.
	KeyConfigFile = "config"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the settings shared by all commands.
type Config struct {
	BeaconURL    string
	APIKey       string
	APIKeyHeader string
	UserAgent    string

	Concurrency       int
	RateLimitInterval time.Duration
	// EpochTimeout bounds one epoch fetch including retries.
	EpochTimeout time.Duration
	// RequestTimeout bounds one HTTP attempt.
	RequestTimeout time.Duration

	RedisURL string
	CacheTTL time.Duration
	// Network scopes the response cache, the failed-epoch queue and the
	// PostgreSQL rows.
	Network string

	PostgresURL string

	MetricsAddr   string
	ProgressEvery int

	LogLevel  string
	LogPretty bool
	LogFile   string
}

// Default returns the default configuration.
func Default() Config {
	batchCfg := batch.DefaultConfig()
	return Config{
		APIKeyHeader:      "X-API-Key",
		UserAgent:         "beacon-duty-fetcher",
		Concurrency:       batchCfg.Concurrency,
		RateLimitInterval: batchCfg.RateLimitInterval,
		EpochTimeout:      batchCfg.Timeout,
		RequestTimeout:    30 * time.Second,
		CacheTTL:          client.DefaultCacheTTL,
		Network:           "mainnet",
		ProgressEvery:     50,
		LogLevel:          string(logging.LevelInfo),
	}
}

// Flags registers the shared flags on fs, with c's values as defaults.
func (c *Config) Flags(fs *pflag.FlagSet) {
	fs.String(KeyConfigFile, "", "Config file (default ./"+DefaultConfigName+".{yaml,toml,json} when present)")

	fs.StringVar(&c.BeaconURL, "beacon-url", c.BeaconURL, "Beacon node base URL. May embed a provider token; it is never logged")
	fs.StringVar(&c.APIKey, "api-key", c.APIKey, "API key sent to the beacon node")
	fs.StringVar(&c.APIKeyHeader, "api-key-header", c.APIKeyHeader, "Header carrying the API key")
	fs.StringVar(&c.UserAgent, "user-agent", c.UserAgent, "User-Agent sent to the beacon node")

	fs.IntVar(&c.Concurrency, "concurrency", c.Concurrency, "Number of concurrent workers")
	fs.DurationVar(&c.RateLimitInterval, "rate-limit-interval", c.RateLimitInterval, "Minimum spacing between requests across all workers (0 disables)")
	fs.DurationVar(&c.EpochTimeout, "timeout", c.EpochTimeout, "Timeout per epoch, retries included")
	fs.DurationVar(&c.RequestTimeout, "request-timeout", c.RequestTimeout, "Timeout per HTTP attempt")

	fs.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis URL for the response cache, shared 429 cooldown and failed epoch queue")
	fs.DurationVar(&c.CacheTTL, "cache-ttl", c.CacheTTL, "Response cache TTL (0 keeps entries forever)")
	fs.StringVar(&c.Network, "network", c.Network, "Network name; scopes the cache, the failed epoch queue and PostgreSQL rows")

	fs.StringVar(&c.PostgresURL, "postgres-url", c.PostgresURL, "PostgreSQL URL for storing runs, duties and epoch outcomes")

	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Serve Prometheus metrics on this address while running")
	fs.IntVar(&c.ProgressEvery, "progress-every", c.ProgressEvery, "Log progress every n completed epochs")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.BoolVar(&c.LogPretty, "log-pretty", c.LogPretty, "Human readable console logs")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Also write JSON logs to this rotated file")
}

// Validate checks the shared settings. Fetching commands additionally call
// ValidateFetch.
func (c Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.ProgressEvery < 1 {
		return fmt.Errorf("%w: progress-every must be at least 1", ErrInvalidConfig)
	}
	if c.RedisURL != "" {
		if _, err := url.Parse(c.RedisURL); err != nil {
			return fmt.Errorf("%w: redis-url does not parse", ErrInvalidConfig)
		}
	}
	return nil
}

// ValidateFetch checks the settings needed to fetch duties.
func (c Config) ValidateFetch() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.BeaconURL == "" {
		return fmt.Errorf("%w: beacon-url is required (flag, %s_BEACON_URL or config file)", ErrInvalidConfig, EnvPrefix)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.RateLimitInterval < 0 || c.EpochTimeout < 0 || c.RequestTimeout < 0 || c.CacheTTL < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(c.LogLevel))
	cfg.Pretty = c.LogPretty
	cfg.File.Path = c.LogFile
	return cfg
}

// Batch returns the batch fetcher configuration.
func (c Config) Batch() batch.Config {
	return batch.Config{
		Concurrency:       c.Concurrency,
		RateLimitInterval: c.RateLimitInterval,
		Timeout:           c.EpochTimeout,
	}
}

// Load fills flags of fs that were not set on the command line from, in
// order of precedence, environment variables, a .env file in the working
// directory and the config file.
func Load(fs *pflag.FlagSet) error {
	// .env never overrides variables already set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()

	configFile, _ := fs.GetString(KeyConfigFile)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine, an explicit one is not
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return bindFlags(fs, v)
}

// bindFlags sets each unchanged flag from its viper value.
func bindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	var errs []error

	fs.VisitAll(func(f *pflag.Flag) {
		// Command line flags take priority
		if f.Changed || f.Name == KeyConfigFile {
			return
		}

		// Config files may use "_" or "." where flags use "-"
		names := []string{
			f.Name,
			strings.ReplaceAll(f.Name, "-", "_"),
			strings.ReplaceAll(f.Name, "-", "."),
		}

		for _, name := range names {
			if !v.IsSet(name) {
				continue
			}
			if err := fs.Set(f.Name, flagValue(v.Get(name))); err != nil {
				errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, f.Name, err))
			}
			break
		}
	})

	return errors.Join(errs...)
}

func flagValue(val any) string {
	if list, ok := val.([]any); ok {
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(val)
}
