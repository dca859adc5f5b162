// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultEnvFile = ".env"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort        string
	CORSAllowedOrigin string

	// Logging
	LogLevel         string
	LogRetentionDays int

	// Sync
	SyncInterval      time.Duration
	SyncMaxConcurrent int
	SyncQueueSize     int
	SyncQueueWorkers  int
	SyncQueueRetry    time.Duration
	SyncRunTimeout    time.Duration
	StatusRecentLogs  int

	// Remote
	RemoteAPIBaseURL   string
	RemoteAPITimeout   time.Duration
	RemoteAPIMaxSize   int64
	RemoteAPIRate      float64
	RemoteAPIBurst     int
	RemoteAPIAllowHTTP bool

	// Rate Limit (req/min/user)
	RateLimitGeneral int
	RateLimitSync    int
}

// Load は環境変数からConfigを読み込む。
// DOTENV_PATH、なければカレントディレクトリの.envが存在すれば先に読み込む。
// 既に設定済みの環境変数は.envの値で上書きしない。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, err
	}

	cfg := &Config{}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.LogRetentionDays = getEnvInt("LOG_RETENTION_DAYS", 30)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 5*time.Minute)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 1)
	cfg.SyncQueueSize = getEnvInt("SYNC_QUEUE_SIZE", 256)
	cfg.SyncQueueWorkers = getEnvInt("SYNC_QUEUE_WORKERS", 4)
	cfg.SyncQueueRetry = getEnvDuration("SYNC_QUEUE_RETRY_DELAY", 5*time.Second)
	cfg.SyncRunTimeout = getEnvDuration("SYNC_RUN_TIMEOUT", 2*time.Minute)
	cfg.StatusRecentLogs = getEnvInt("STATUS_RECENT_LOGS", 20)
	cfg.RemoteAPIBaseURL = getEnvString("REMOTE_API_BASE_URL", "https://api.todoist.com/rest/v2")
	cfg.RemoteAPITimeout = getEnvDuration("REMOTE_API_TIMEOUT", 10*time.Second)
	cfg.RemoteAPIMaxSize = getEnvInt64("REMOTE_API_MAX_SIZE", 5242880)
	cfg.RemoteAPIRate = getEnvFloat("REMOTE_API_RATE", 4)
	cfg.RemoteAPIBurst = getEnvInt("REMOTE_API_BURST", 10)
	cfg.RemoteAPIAllowHTTP = getEnvBool("REMOTE_API_ALLOW_HTTP", false)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitSync = getEnvInt("RATE_LIMIT_SYNC", 10)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %q", c.LogLevel))
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_INTERVAL must be positive: %s", c.SyncInterval))
	}
	if c.SyncMaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("SYNC_MAX_CONCURRENT must be at least 1: %d", c.SyncMaxConcurrent))
	}
	if c.SyncQueueSize < 1 || c.SyncQueueWorkers < 1 {
		errs = append(errs, fmt.Errorf("SYNC_QUEUE_SIZE and SYNC_QUEUE_WORKERS must be at least 1"))
	}
	if c.SyncQueueRetry <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_QUEUE_RETRY_DELAY must be positive: %s", c.SyncQueueRetry))
	}
	if c.RemoteAPIRate <= 0 || c.RemoteAPIBurst < 1 {
		errs = append(errs, fmt.Errorf("REMOTE_API_RATE and REMOTE_API_BURST must be positive"))
	}
	if c.RateLimitGeneral < 1 || c.RateLimitSync < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_GENERAL and RATE_LIMIT_SYNC must be at least 1"))
	}
	if c.LogRetentionDays < 1 {
		errs = append(errs, fmt.Errorf("LOG_RETENTION_DAYS must be at least 1: %d", c.LogRetentionDays))
	}
	return errors.Join(errs...)
}

func loadEnvFile() error {
	path := os.Getenv("DOTENV_PATH")
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		// 暗黙の.envは存在しなくてもよい
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
