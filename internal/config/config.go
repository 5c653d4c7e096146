// Package config loads txcore runtime settings from an optional config file
// and TXCORE_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvConfigFile names the environment variable pointing at a config file.
const EnvConfigFile = "TXCORE_CONFIG"

// Config holds application configuration.
type Config struct {
	Storage StorageConfig
	Blob    BlobConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// BlobConfig selects the blob backend used for snapshot archives.
type BlobConfig struct {
	Driver string   `mapstructure:"driver"`
	FSRoot string   `mapstructure:"fs_root"`
	S3     S3Config `mapstructure:"s3"`
}

// S3Config holds S3 / MinIO settings.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the prometheus recorder.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{Driver: "memory", SQLitePath: "txcore.db"},
		Blob:    BlobConfig{Driver: "fs", FSRoot: "./blobdata", S3: S3Config{Region: "us-east-1"}},
		Log:     LogConfig{Level: "info", Format: "console"},
		Metrics: MetricsConfig{Namespace: "txcore"},
	}
}

// Load reads configuration from file and env. Env var overrides use prefix
// TXCORE_, with nested keys joined by underscores (TXCORE_STORAGE_DRIVER).
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	if path := os.Getenv(EnvConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("TXCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks driver names and required settings.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket required for s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	return nil
}

// AutomaticEnv only resolves keys viper already knows about, so every field
// gets a default even when it is empty.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)
	v.SetDefault("blob.driver", d.Blob.Driver)
	v.SetDefault("blob.fs_root", d.Blob.FSRoot)
	v.SetDefault("blob.s3.bucket", d.Blob.S3.Bucket)
	v.SetDefault("blob.s3.region", d.Blob.S3.Region)
	v.SetDefault("blob.s3.endpoint", d.Blob.S3.Endpoint)
	v.SetDefault("blob.s3.path_style", d.Blob.S3.PathStyle)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
}
