// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// キャッシュドライバ。
const (
	CacheDriverMemory   = "memory"
	CacheDriverSQLite   = "sqlite"
	CacheDriverMySQL    = "mysql"
	CacheDriverPostgres = "postgres"
)

// Config はアプリケーション設定を表す。
type Config struct {
	Port               string
	LogLevel           string
	GoogleCloudProject string

	OtelEnabled      bool
	OtelEndpoint     string
	OtelServiceName  string
	OtelSamplingRate float64

	DirectoryURL         string
	DirectoryUID         string
	DirectoryAccessToken string
	DirectoryTimeout     time.Duration

	// UserID と KeyPassphrase は呼び出し元自身の既知の識別情報。
	UserID        string
	KeyPassphrase string

	CacheDriver string
	DatabaseURL string
	KMSKeyName  string
}

// Load は環境変数から設定を読み込む。
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "INFO"),
		GoogleCloudProject: os.Getenv("GOOGLE_CLOUD_PROJECT"),

		OtelEnabled:      getBool("OTEL_ENABLED", false),
		OtelEndpoint:     getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OtelServiceName:  getEnv("OTEL_SERVICE_NAME", "address-key-service"),
		OtelSamplingRate: getFloat("OTEL_SAMPLING_RATE", 1.0),

		DirectoryURL:         os.Getenv("DIRECTORY_URL"),
		DirectoryUID:         os.Getenv("DIRECTORY_UID"),
		DirectoryAccessToken: os.Getenv("DIRECTORY_ACCESS_TOKEN"),
		DirectoryTimeout:     getDuration("DIRECTORY_TIMEOUT", 30*time.Second),

		UserID:        os.Getenv("USER_ID"),
		KeyPassphrase: os.Getenv("KEY_PASSPHRASE"),

		CacheDriver: getEnv("CACHE_DRIVER", CacheDriverMemory),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		KMSKeyName:  os.Getenv("KMS_KEY_NAME"),
	}
}

// Validate は必須項目と値の組み合わせを検証する。
func (c *Config) Validate() error {
	var errs []error
	if c.DirectoryURL == "" {
		errs = append(errs, errors.New("DIRECTORY_URL is not set"))
	}
	if c.UserID == "" {
		errs = append(errs, errors.New("USER_ID is not set"))
	}
	if c.KeyPassphrase == "" {
		errs = append(errs, errors.New("KEY_PASSPHRASE is not set"))
	}
	switch c.CacheDriver {
	case CacheDriverMemory, CacheDriverSQLite:
	case CacheDriverMySQL, CacheDriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for cache driver %s", c.CacheDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_DRIVER %q", c.CacheDriver))
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLING_RATE must be within [0, 1], got %v", c.OtelSamplingRate))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultVal
}
