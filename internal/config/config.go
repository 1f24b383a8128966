package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ストレージドライバ
const (
	StorageDriverPostgres = "postgres"
	StorageDriverRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`

	// Database
	DatabaseURL        string        `envconfig:"DATABASE_URL"`
	DBMaxOpenConns     int           `envconfig:"DB_MAX_OPEN_CONNS" default:"10"`
	DBMaxIdleConns     int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime  time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	StoragePingTimeout time.Duration `envconfig:"STORAGE_PING_TIMEOUT" default:"5s"`

	// Redis
	RedisAddr      string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"userdir"`

	// Rate Limit（req/min）
	RateLimitGeneral int `envconfig:"RATE_LIMIT_GENERAL" default:"120"`
	RateLimitCreate  int `envconfig:"RATE_LIMIT_CREATE" default:"10"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Server
	ServerPort      string        `envconfig:"SERVER_PORT" default:"8080"`
	MetricsPort     string        `envconfig:"METRICS_PORT" default:"9090"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	// CORS
	CORSAllowedOrigin string `envconfig:"CORS_ALLOWED_ORIGIN" default:"http://localhost:3000"`
}

// LoadDotEnv はカレントディレクトリの.envファイルを読み込む。
// ファイルが存在しない場合は何もしない。既に設定済みの環境変数は上書きしない。
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は、未設定の変数名をまとめたエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("invalid environment variables: %w", err)
	}

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = StorageDriverPostgres
	}

	var missing []string
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StorageDriverRedis:
		if cfg.RedisAddr == "" {
			missing = append(missing, "REDIS_ADDR")
		}
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER: %q", cfg.StorageDriver)
	}
	if cfg.ServerPort == "" {
		missing = append(missing, "SERVER_PORT")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.RateLimitGeneral <= 0 || cfg.RateLimitCreate <= 0 {
		return nil, fmt.Errorf("rate limits must be positive: general=%d create=%d",
			cfg.RateLimitGeneral, cfg.RateLimitCreate)
	}

	return cfg, nil
}

// SlogLevel はLOG_LEVELをslog.Levelに変換する。不明な値はInfoとして扱う。
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
