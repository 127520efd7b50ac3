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

	"github.com/hitoshi/unimarket/internal/auth"
	"github.com/hitoshi/unimarket/internal/storage"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Identity provider
	IdentityURL       string
	IdentityAnonKey   string
	IdentityJWTSecret string
	IdentityTimeout   time.Duration

	// Activity store
	RedisURL string

	// Object storage
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageUseSSL    bool
	StoragePublicURL string
	ListingBucket    string
	ProfileBucket    string
	UploadMaxBytes   int64

	// Session
	SessionInactivityTimeout time.Duration
	SessionCheckInterval     time.Duration

	// Cart maintenance
	CartPruneRetentionDays int
	CartPruneInterval      time.Duration

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitListing int
	RateLimitMessage int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// LoadEnvFile は.envファイルの内容を環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadEnvFile(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", name, err)
		}
	}
	return nil
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.IdentityURL = os.Getenv("IDENTITY_URL")
	if cfg.IdentityURL == "" {
		missing = append(missing, "IDENTITY_URL")
	}

	cfg.IdentityAnonKey = os.Getenv("IDENTITY_ANON_KEY")
	if cfg.IdentityAnonKey == "" {
		missing = append(missing, "IDENTITY_ANON_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.IdentityJWTSecret = getEnvString("IDENTITY_JWT_SECRET", "")
	cfg.IdentityTimeout = getEnvDuration("IDENTITY_TIMEOUT", 10*time.Second)
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.StorageEndpoint = getEnvString("STORAGE_ENDPOINT", "")
	cfg.StorageAccessKey = getEnvString("STORAGE_ACCESS_KEY", "")
	cfg.StorageSecretKey = getEnvString("STORAGE_SECRET_KEY", "")
	cfg.StorageUseSSL = getEnvBool("STORAGE_USE_SSL", true)
	cfg.StoragePublicURL = getEnvString("STORAGE_PUBLIC_URL", "")
	cfg.ListingBucket = getEnvString("STORAGE_LISTING_BUCKET", "product-images")
	cfg.ProfileBucket = getEnvString("STORAGE_PROFILE_BUCKET", "profile-pictures")
	cfg.UploadMaxBytes = getEnvInt64("UPLOAD_MAX_BYTES", storage.DefaultMaxUploadBytes)
	cfg.SessionInactivityTimeout = getEnvDuration("SESSION_INACTIVITY_TIMEOUT", auth.DefaultPolicy.InactivityTimeout)
	cfg.SessionCheckInterval = getEnvDuration("SESSION_CHECK_INTERVAL", auth.DefaultPolicy.CheckInterval)
	cfg.CartPruneRetentionDays = getEnvInt("CART_PRUNE_RETENTION_DAYS", 7)
	cfg.CartPruneInterval = getEnvDuration("CART_PRUNE_INTERVAL", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitListing = getEnvInt("RATE_LIMIT_LISTING", 10)
	cfg.RateLimitMessage = getEnvInt("RATE_LIMIT_MESSAGE", 30)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error
	if c.IdentityTimeout <= 0 {
		errs = append(errs, fmt.Errorf("IDENTITY_TIMEOUT must be positive, got %s", c.IdentityTimeout))
	}
	if err := c.SessionPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("invalid session policy: %w", err))
	}
	if c.CartPruneInterval <= 0 {
		errs = append(errs, fmt.Errorf("CART_PRUNE_INTERVAL must be positive, got %s", c.CartPruneInterval))
	}
	if c.UploadMaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.UploadMaxBytes))
	}
	for name, v := range map[string]int{
		"RATE_LIMIT_GENERAL": c.RateLimitGeneral,
		"RATE_LIMIT_LISTING": c.RateLimitListing,
		"RATE_LIMIT_MESSAGE": c.RateLimitMessage,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	return errors.Join(errs...)
}

// SessionPolicy はセッションの非アクティブタイムアウト設定を返す。
func (c *Config) SessionPolicy() auth.Policy {
	return auth.Policy{
		InactivityTimeout: c.SessionInactivityTimeout,
		CheckInterval:     c.SessionCheckInterval,
	}
}

// Storage はオブジェクトストレージの接続設定を返す。
func (c *Config) Storage() storage.Config {
	return storage.Config{
		Endpoint:  c.StorageEndpoint,
		AccessKey: c.StorageAccessKey,
		SecretKey: c.StorageSecretKey,
		UseSSL:    c.StorageUseSSL,
		PublicURL: c.StoragePublicURL,
	}
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
