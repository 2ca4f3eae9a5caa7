// Package config は環境変数と .env ファイルから apigate の設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// トークンの保存先の種類。
const (
	// StoreMemory はプロセス内のメモリに保存する。
	StoreMemory = "memory"
	// StoreSQLite はSQLiteファイルに保存する。
	StoreSQLite = "sqlite"
	// StoreRedis はRedisに保存する。
	StoreRedis = "redis"
)

// Config はapigateの各バイナリが共有する設定。
type Config struct {
	// APIBaseURL はゲートウェイの接続先ベースURL。
	APIBaseURL string
	// AuthRedirectURL はセッション切れ時の再ログイン先。
	AuthRedirectURL string
	// TokenStore はトークンの保存先（memory / sqlite / redis）。
	TokenStore string
	// TokenDBPath はSQLiteの保存先パス。
	TokenDBPath string
	// RedisAddr はRedisのアドレス。
	RedisAddr string
	// TokenMinValidity はトークン更新を行う残り有効期間のしきい値。
	TokenMinValidity time.Duration
	// TokenRefreshURL はトークン更新エンドポイントのURL。
	TokenRefreshURL string
	// TokenLoginURL はトークン発行エンドポイントのURL。
	TokenLoginURL string
	// RateRPS は1秒あたりの送信上限。0以下で無制限。
	RateRPS float64
	// RateBurst は送信のバースト数。
	RateBurst int
	// ToastTimeout は通知の表示時間。
	ToastTimeout time.Duration
	// LogLevel はログレベル。
	LogLevel logrus.Level
	// Port は開発用バックエンドのリッスンポート。
	Port string
	// JWTSecret はJWT署名用の秘密鍵。
	JWTSecret string
	// FrontendURL はCORSで許可するオリジン。カンマ区切りで複数指定できる。
	FrontendURL string
	// AccessTokenTTL は開発用バックエンドが発行するアクセストークンの有効期間。
	AccessTokenTTL time.Duration
	// RefreshTokenTTL は開発用バックエンドが発行するリフレッシュトークンの有効期間。
	RefreshTokenTTL time.Duration
}

// Load はfilesに指定した .env ファイル（省略時は ./.env）を読み込んだうえで、
// 環境変数から設定を組み立てる。ファイルが存在しない場合は環境変数のみを使う。
// 既に設定されている環境変数は .env の値で上書きされない。
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envファイルの読み込みに失敗: %w", err)
	}

	port := getEnvOr("PORT", "8080")
	cfg := &Config{
		APIBaseURL:      getEnvOr("API_BASE_URL", "http://localhost:"+port+"/api/v1"),
		AuthRedirectURL: getEnvOr("AUTH_REDIRECT_URL", "http://localhost:3000/auth"),
		TokenStore:      getEnvOr("TOKEN_STORE", StoreMemory),
		TokenDBPath:     getEnvOr("TOKEN_DB_PATH", "apigate.db"),
		RedisAddr:       getEnvOr("REDIS_ADDR", "localhost:6379"),
		TokenRefreshURL: getEnvOr("TOKEN_REFRESH_URL", "http://localhost:"+port+"/auth/refresh"),
		TokenLoginURL:   getEnvOr("TOKEN_LOGIN_URL", "http://localhost:"+port+"/auth/dev-token"),
		Port:            port,
		JWTSecret:       getEnvOr("JWT_SECRET", "dev-secret-key"),
		FrontendURL:     getEnvOr("FRONTEND_URL", "http://localhost:3000"),
	}

	var err error
	if cfg.TokenMinValidity, err = getDurationOr("TOKEN_MIN_VALIDITY", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ToastTimeout, err = getDurationOr("TOAST_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.AccessTokenTTL, err = getDurationOr("ACCESS_TOKEN_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenTTL, err = getDurationOr("REFRESH_TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.RateRPS, err = getFloatOr("RATE_RPS", 0); err != nil {
		return nil, err
	}
	if cfg.RateBurst, err = getIntOr("RATE_BURST", 1); err != nil {
		return nil, err
	}

	level, err := logrus.ParseLevel(getEnvOr("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVELの解析に失敗: %w", err)
	}
	cfg.LogLevel = level

	switch cfg.TokenStore {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return nil, fmt.Errorf("TOKEN_STOREの値が不正です: %q", cfg.TokenStore)
	}
	return cfg, nil
}

// NewLogger はcfgのログレベルでロガーを生成する。
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(c.LogLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		PadLevelText:    true,
	})
	return log
}

// getEnvOr は環境変数の値を返す。未設定の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOr(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%sの解析に失敗: %w", key, err)
	}
	return d, nil
}

func getFloatOr(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%sの解析に失敗: %w", key, err)
	}
	return f, nil
}

func getIntOr(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%sの解析に失敗: %w", key, err)
	}
	return n, nil
}
