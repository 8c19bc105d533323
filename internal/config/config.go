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

// MemoryDatabaseURL はインメモリストアを選択するDATABASE_URL。
const MemoryDatabaseURL = "memory://"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort        string
	BaseURL           string
	CORSAllowedOrigin string
	MaxConnections    int

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitPost    int

	// Vote
	VoteMaxAttempts int

	// Feed
	TrendingCandidateCap int
	TrendingWindow       time.Duration

	// Rescore
	RescoreInterval time.Duration

	// Notify
	NotifyQueueSize  int
	NotifyWorkers    int
	NotifyTimeout    time.Duration
	NotifyWebhookURL string
	SlackBotToken    string
	SlackChannelID   string

	// Admin
	AdminToken string

	// Logging
	LogLevel string
}

// UsesMemoryStore はインメモリストアを使用する設定かを返す。
func (c *Config) UsesMemoryStore() bool {
	return c.DatabaseURL == MemoryDatabaseURL
}

// SlackEnabled はSlack通知に必要な設定が揃っているかを返す。
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envの読み込みに失敗しました: %w", err)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = strings.TrimRight(getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort), "/")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.MaxConnections = getEnvInt("MAX_CONNECTIONS", 1024)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitPost = getEnvInt("RATE_LIMIT_POST", 10)
	cfg.VoteMaxAttempts = getEnvInt("VOTE_MAX_ATTEMPTS", 5)
	cfg.TrendingCandidateCap = getEnvInt("TRENDING_CANDIDATE_CAP", 200)
	cfg.TrendingWindow = getEnvDuration("TRENDING_WINDOW", 168*time.Hour)
	cfg.RescoreInterval = getEnvDuration("RESCORE_INTERVAL", 10*time.Minute)
	cfg.NotifyQueueSize = getEnvInt("NOTIFY_QUEUE_SIZE", 256)
	cfg.NotifyWorkers = getEnvInt("NOTIFY_WORKERS", 2)
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second)
	cfg.NotifyWebhookURL = getEnvString("NOTIFY_WEBHOOK_URL", "")
	cfg.SlackBotToken = getEnvString("SLACK_BOT_TOKEN", "")
	cfg.SlackChannelID = getEnvString("SLACK_CHANNEL_ID", "")
	cfg.AdminToken = getEnvString("ADMIN_TOKEN", "")
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))

	return cfg, nil
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
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
