package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fluxbase-eu/fluxpack/internal/bundler"
)

// Cache providers
const (
	CacheNone  = "none"
	CacheLocal = "local"
	CacheS3    = "s3"
	CacheRedis = "redis"
)

// Config represents the fluxpack project configuration
type Config struct {
	ProjectDir  string        `mapstructure:"project_dir"`
	Handlers    []string      `mapstructure:"handlers"`
	OutDir      string        `mapstructure:"out_dir"`
	Concurrency int           `mapstructure:"concurrency"`
	Debug       bool          `mapstructure:"debug"`
	Bundle      BundleConfig  `mapstructure:"bundle"`
	Layer       LayerConfig   `mapstructure:"layer"`
	Cache       CacheConfig   `mapstructure:"cache"`
	Tracing     TracingConfig `mapstructure:"tracing"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// BundleConfig contains code generation settings applied to every function
type BundleConfig struct {
	bundler.Options `mapstructure:",squash"`
	External        []string `mapstructure:"external"` // extra packages left out of every bundle
}

// LayerConfig controls the shared dependency package
type LayerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// CacheConfig contains the layer artifact cache settings
type CacheConfig struct {
	Provider    string `mapstructure:"provider"` // none, local, s3 or redis
	LocalPath   string `mapstructure:"local_path"`
	Prefix      string `mapstructure:"prefix"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`

	// RedisURL has the form redis://[password@]host:port[/db]. A zero RedisTTL keeps entries
	// until evicted.
	RedisURL string        `mapstructure:"redis_url"`
	RedisTTL time.Duration `mapstructure:"redis_ttl"`
}

// TracingConfig contains OpenTelemetry export settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// MetricsConfig controls the build metrics textfile
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"` // empty disables writing
}

// Load reads configuration from the given file, or from fluxpack.yaml in . or ./config when path
// is empty, then applies FLUXPACK_* environment variables over it.
func Load(path string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fluxpack")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("FLUXPACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Debug().Str("file", v.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

// ProjectPath resolves a relative path against the project directory. Empty and absolute paths
// are returned unchanged.
func (c *Config) ProjectPath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

// loadEnvFile loads environment variables from the first .env file found
func loadEnvFile() error {
	for _, location := range []string{".env", ".env.local"} {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Debug().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}
	return fmt.Errorf("no .env file found")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project_dir", ".")
	v.SetDefault("handlers", []string{"src/**/*.ts", "src/**/*.js"})
	v.SetDefault("out_dir", ".fluxpack")
	v.SetDefault("concurrency", 4)
	v.SetDefault("debug", false)

	v.SetDefault("bundle.minify", false)
	v.SetDefault("bundle.sourcemap", false)
	v.SetDefault("bundle.target", bundler.DefaultTarget)
	v.SetDefault("bundle.external", []string{})

	v.SetDefault("layer.enabled", true)

	v.SetDefault("cache.provider", CacheNone)
	v.SetDefault("cache.local_path", filepath.Join(".fluxpack", "cache"))
	v.SetDefault("cache.prefix", "layers/")
	v.SetDefault("cache.s3_endpoint", "")
	v.SetDefault("cache.s3_bucket", "")
	v.SetDefault("cache.s3_access_key", "")
	v.SetDefault("cache.s3_secret_key", "")
	v.SetDefault("cache.s3_region", "us-east-1")
	v.SetDefault("cache.s3_use_ssl", true)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.redis_ttl", 7*24*time.Hour)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "fluxpack")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("metrics.textfile", "")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ProjectDir == "" {
		return fmt.Errorf("project_dir cannot be empty")
	}
	if c.OutDir == "" {
		return fmt.Errorf("out_dir cannot be empty")
	}
	if len(c.Handlers) == 0 {
		return fmt.Errorf("at least one handlers pattern is required")
	}
	for _, pattern := range c.Handlers {
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return fmt.Errorf("invalid handlers pattern: %q", pattern)
		}
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got: %d", c.Concurrency)
	}

	if err := c.Bundle.Validate(); err != nil {
		return fmt.Errorf("bundle configuration error: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache configuration error: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing configuration error: %w", err)
	}
	return nil
}

// Validate validates bundle configuration
func (bc *BundleConfig) Validate() error {
	if _, err := bundler.ParseTarget(bc.Target); err != nil {
		return err
	}
	for _, name := range bc.External {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("external entries cannot be empty")
		}
	}
	return nil
}

// Validate validates cache configuration
func (cc *CacheConfig) Validate() error {
	switch cc.Provider {
	case "", CacheNone:
	case CacheLocal:
		if cc.LocalPath == "" {
			return fmt.Errorf("local_path is required when using the local cache")
		}
	case CacheS3:
		if cc.S3Endpoint == "" || cc.S3Bucket == "" {
			return fmt.Errorf("S3 configuration is incomplete")
		}
		// both keys or neither; missing keys are read from the keychain
		if (cc.S3AccessKey == "") != (cc.S3SecretKey == "") {
			return fmt.Errorf("s3_access_key and s3_secret_key must be set together")
		}
	case CacheRedis:
		if cc.RedisURL == "" {
			return fmt.Errorf("redis_url is required when using the redis cache")
		}
		if cc.RedisTTL < 0 {
			return fmt.Errorf("redis_ttl cannot be negative")
		}
	default:
		return fmt.Errorf("invalid cache provider: %s (must be one of: %v)", cc.Provider,
			[]string{CacheNone, CacheLocal, CacheS3, CacheRedis})
	}
	return nil
}

// Validate validates tracing configuration
func (tc *TracingConfig) Validate() error {
	if !tc.Enabled {
		return nil
	}
	if tc.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be between 0 and 1, got: %v", tc.SampleRate)
	}
	return nil
}

// Enabled reports whether a layer cache is configured
func (cc *CacheConfig) Enabled() bool {
	return cc.Provider != "" && cc.Provider != CacheNone
}
