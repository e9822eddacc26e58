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

	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/joho/godotenv"
)

// メール送信方式
const (
	MailProviderLog     = "log"
	MailProviderSMTP    = "smtp"
	MailProviderMailjet = "mailjet"
)

// DefaultEnvFile はLoadが事前に読み込む.envファイルのパス。
const DefaultEnvFile = ".env"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ORCID
	ORCIDClientID     string
	ORCIDClientSecret string
	ORCIDRedirectURL  string
	ORCIDBaseURL      string // 空の場合は本番のorcid.org
	ORCIDAPIURL       string
	ORCIDTimeout      time.Duration

	// CrossRef
	CrossRefAPIURL   string
	CrossRefTimeout  time.Duration
	CrossRefMailto   string
	CrossRefCacheTTL time.Duration
	RedisURL         string // 空の場合はキャッシュなし

	// Academic email
	AcademicDomains []string // 空の場合は既定の許可リスト
	EmailTokenTTL   time.Duration

	// Mail
	MailProvider  string
	MailFrom      string
	MailFromName  string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	SMTPTimeout   time.Duration
	MailjetKey    string
	MailjetSecret string

	// Worker
	SweepInterval time.Duration

	// Rate Limit（ユーザーあたり毎分）
	RateLimitGeneral int
	RateLimitVerify  int

	// Moderation
	ReviewerMinTrust model.TrustLevel

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string
}

// Load はカレントディレクトリの.envを読み込んだ上で、環境変数からConfigを読み込む。
func Load() (*Config, error) {
	return LoadWithEnvFile(DefaultEnvFile)
}

// LoadWithEnvFile はpathの.envファイルを読み込んだ上で、環境変数からConfigを読み込む。
// ファイルが存在しない場合は環境変数のみを使う。既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func LoadWithEnvFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}

	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.JWTSecret = required("JWT_SECRET")
	cfg.ORCIDClientID = required("ORCID_CLIENT_ID")
	cfg.ORCIDClientSecret = required("ORCID_CLIENT_SECRET")
	cfg.ORCIDRedirectURL = required("ORCID_REDIRECT_URL")
	cfg.BaseURL = required("BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AccessTokenTTL = getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute)
	cfg.RefreshTokenTTL = getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour)

	cfg.ORCIDBaseURL = getEnvString("ORCID_BASE_URL", "")
	cfg.ORCIDAPIURL = getEnvString("ORCID_API_URL", "")
	cfg.ORCIDTimeout = getEnvDuration("ORCID_TIMEOUT", 10*time.Second)

	cfg.CrossRefAPIURL = getEnvString("CROSSREF_API_URL", "")
	cfg.CrossRefTimeout = getEnvDuration("CROSSREF_TIMEOUT", 10*time.Second)
	cfg.CrossRefMailto = getEnvString("CROSSREF_MAILTO", "")
	cfg.CrossRefCacheTTL = getEnvDuration("CROSSREF_CACHE_TTL", 24*time.Hour)
	cfg.RedisURL = getEnvString("REDIS_URL", "")

	cfg.AcademicDomains = getEnvList("ACADEMIC_DOMAINS")
	cfg.EmailTokenTTL = getEnvDuration("EMAIL_TOKEN_TTL", 24*time.Hour)

	cfg.MailProvider = strings.ToLower(getEnvString("MAIL_PROVIDER", MailProviderLog))
	cfg.MailFrom = getEnvString("SMTP_FROM", "")
	cfg.MailFromName = getEnvString("MAIL_FROM_NAME", "acadtrust")
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.SMTPTimeout = getEnvDuration("SMTP_TIMEOUT", 10*time.Second)
	cfg.MailjetKey = getEnvString("MAILJET_KEY", "")
	cfg.MailjetSecret = getEnvString("MAILJET_SECRET", "")

	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", time.Hour)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitVerify = getEnvInt("RATE_LIMIT_VERIFY", 10)

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "")

	reviewer, err := model.ParseTrustLevel(getEnvString("REVIEWER_MIN_TRUST", string(model.TrustORCID)))
	if err != nil {
		return nil, fmt.Errorf("invalid REVIEWER_MIN_TRUST: %w", err)
	}
	cfg.ReviewerMinTrust = reviewer

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は値の組み合わせを検証する。
func (c *Config) validate() error {
	switch c.MailProvider {
	case MailProviderLog:
	case MailProviderSMTP:
		if c.SMTPHost == "" || c.MailFrom == "" {
			return errors.New("MAIL_PROVIDER=smtp requires SMTP_HOST and SMTP_FROM")
		}
	case MailProviderMailjet:
		if c.MailjetKey == "" || c.MailjetSecret == "" || c.MailFrom == "" {
			return errors.New("MAIL_PROVIDER=mailjet requires MAILJET_KEY, MAILJET_SECRET and SMTP_FROM")
		}
	default:
		return fmt.Errorf("unsupported MAIL_PROVIDER %q (want log, smtp or mailjet)", c.MailProvider)
	}

	if c.RateLimitGeneral <= 0 || c.RateLimitVerify <= 0 {
		return errors.New("RATE_LIMIT_GENERAL and RATE_LIMIT_VERIFY must be positive")
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

// getEnvList はカンマ区切りの値を空要素を除いて返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
