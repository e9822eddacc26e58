package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/acadtrust/internal/academic"
	"github.com/hitoshi/acadtrust/internal/auth"
	"github.com/hitoshi/acadtrust/internal/config"
	"github.com/hitoshi/acadtrust/internal/crossref"
	"github.com/hitoshi/acadtrust/internal/handler"
	"github.com/hitoshi/acadtrust/internal/mail"
	"github.com/hitoshi/acadtrust/internal/metrics"
	"github.com/hitoshi/acadtrust/internal/middleware"
	"github.com/hitoshi/acadtrust/internal/moderation"
	"github.com/hitoshi/acadtrust/internal/repository"
	"github.com/hitoshi/acadtrust/internal/security"
	"github.com/hitoshi/acadtrust/internal/token"
	"github.com/hitoshi/acadtrust/internal/trust"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// components はserve・workerの両モードで共有する依存関係の集合。
type components struct {
	db         *sql.DB
	registry   *prometheus.Registry
	collector  *metrics.Collector
	issuer     *token.Issuer
	accounts   *auth.Service
	academic   *academic.Verifier
	trust      *trust.Service
	moderation *moderation.Service
	redis      *redis.Client // REDIS_URL未設定の場合はnil
}

// Close は外部接続を解放する。DBの所有者は呼び出し元。
func (c *components) Close() error {
	if c.redis != nil {
		return c.redis.Close()
	}
	return nil
}

// buildComponents は設定から全ドメインサービスを組み立てる。
// ネットワーク接続は行わない。
func buildComponents(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*components, error) {
	// 1. 外部APIエンドポイントの静的検証
	for name, endpoint := range map[string]string{
		"ORCID_BASE_URL":   cfg.ORCIDBaseURL,
		"ORCID_API_URL":    cfg.ORCIDAPIURL,
		"CROSSREF_API_URL": cfg.CrossRefAPIURL,
	} {
		if endpoint == "" {
			continue
		}
		if err := security.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. トークン
	issuer, err := token.NewIssuer(token.Config{
		Secret:     cfg.JWTSecret,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	// 4. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	emailTokenRepo := repository.NewPostgresEmailTokenRepo(db)
	commentRepo := repository.NewPostgresCommentRepo(db)

	// 5. 外部サービスクライアント
	orcidProvider := auth.NewORCIDProvider(auth.ORCIDConfig{
		ClientID:     cfg.ORCIDClientID,
		ClientSecret: cfg.ORCIDClientSecret,
		RedirectURL:  cfg.ORCIDRedirectURL,
		BaseURL:      cfg.ORCIDBaseURL,
		APIURL:       cfg.ORCIDAPIURL,
	}, timedClient(security.NewOutboundClient(cfg.ORCIDTimeout), "orcid", collector), logger)

	crossrefClient := crossref.NewClient(
		security.NewOutboundClient(cfg.CrossRefTimeout), logger, cfg.CrossRefAPIURL, cfg.CrossRefMailto,
	)

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	var workCache crossref.WorkCache
	if redisClient != nil {
		workCache = crossref.NewRedisWorkCache(redisClient, cfg.CrossRefCacheTTL)
	}
	doiVerifier := crossref.NewVerifier(
		crossref.Timed(crossrefClient, collector.RecordExternalLatency), workCache, logger,
	)

	mailer, err := newMailer(cfg, logger)
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, err
	}
	emailVerifier := academic.NewVerifier(academic.Config{
		Domains:  cfg.AcademicDomains,
		TokenTTL: cfg.EmailTokenTTL,
		BaseURL:  cfg.BaseURL,
	}, emailTokenRepo, mailer, logger)

	// 6. ドメインサービス
	return &components{
		db:         db,
		registry:   registry,
		collector:  collector,
		issuer:     issuer,
		accounts:   auth.NewService(userRepo, issuer),
		academic:   emailVerifier,
		trust:      trust.NewService(userRepo, issuer, orcidProvider, doiVerifier, emailVerifier, collector, logger),
		moderation: moderation.NewService(
			moderation.Config{ReviewerMinTrust: cfg.ReviewerMinTrust},
			commentRepo, userRepo, security.NewCommentSanitizer(), collector, logger,
		),
		redis: redisClient,
	}, nil
}

// newRouter はAPIサーバーのルーターを構成する。
func newRouter(cfg *config.Config, c *components, rl *middleware.RateLimiter, logger *slog.Logger) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		TokenVerifier:     c.issuer,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		HealthChecker:     c.db,
		MetricsHandler:    metrics.Handler(c.registry),
		AccountService:    c.accounts,
		TrustService:      c.trust,
		VerificationConfig: handler.VerificationHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieSecure: cfg.CookieSecure,
		},
		ModerationService: c.moderation,
	})
}

// newMailer はMAIL_PROVIDERに応じたMailerを返す。
func newMailer(cfg *config.Config, logger *slog.Logger) (mail.Mailer, error) {
	switch cfg.MailProvider {
	case config.MailProviderSMTP:
		return mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			Timeout:  cfg.SMTPTimeout,
		}), nil
	case config.MailProviderMailjet:
		return mail.NewMailjetMailer(mail.MailjetConfig{
			PublicKey: cfg.MailjetKey,
			SecretKey: cfg.MailjetSecret,
			From:      cfg.MailFrom,
			FromName:  cfg.MailFromName,
		}), nil
	case config.MailProviderLog, "":
		logger.Warn("MAIL_PROVIDER=log: verification emails are logged, not delivered")
		return mail.NewLogMailer(logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail provider %q", cfg.MailProvider)
	}
}

// newRedisClient はREDIS_URLからクライアントを生成する。空の場合はnilを返す。
// 接続は最初のコマンド実行時に行われる。
func newRedisClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// latencyTransport は外部サービスへのHTTP呼び出し時間を記録する。
type latencyTransport struct {
	base    http.RoundTripper
	service string
	observe func(service string, d time.Duration)
}

func (t *latencyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	t.observe(t.service, time.Since(start))
	return resp, err
}

// timedClient はclientのTransportをレイテンシ記録付きに差し替えたコピーを返す。
func timedClient(client *http.Client, service string, collector metrics.MetricsCollector) *http.Client {
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	timed := *client
	timed.Transport = &latencyTransport{base: base, service: service, observe: collector.RecordExternalLatency}
	return &timed
}
