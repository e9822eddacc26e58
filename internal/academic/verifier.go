// Package academic は学術機関メールアドレスによる学生認証を提供する。
package academic

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/acadtrust/internal/mail"
	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/hitoshi/acadtrust/internal/repository"
	"golang.org/x/net/idna"
)

const (
	defaultTokenTTL = 24 * time.Hour
	tokenBytes      = 32
	confirmPath     = "/api/verify/email/confirm"
)

// DefaultDomains は学術機関ドメインの既定の許可リスト。
var DefaultDomains = []string{"ac.kr", "edu", "ac.uk", "ac.jp", "edu.au", "edu.cn", "ac.nz", "edu.sg"}

// Config は学術メール検証の設定。
type Config struct {
	// Domains は許可するドメインのサフィックス。空の場合はDefaultDomains。
	Domains []string
	// TokenTTL は検証トークンの有効期間。0の場合は24時間。
	TokenTTL time.Duration
	// BaseURL は検証リンクの生成に使う公開URL。
	BaseURL string
}

// Redemption は引き換えに成功したトークンの内容。
type Redemption struct {
	UserID string
	Email  string
}

// Verifier は検証メールの送信とトークンの引き換えを行う。
type Verifier struct {
	domains []string
	ttl     time.Duration
	baseURL string
	repo    repository.EmailTokenRepository
	mailer  mail.Mailer
	logger  *slog.Logger
	now     func() time.Time
}

// NewVerifier はVerifierを生成する。
func NewVerifier(cfg Config, repo repository.EmailTokenRepository, mailer mail.Mailer, logger *slog.Logger) *Verifier {
	domains := cfg.Domains
	if len(domains) == 0 {
		domains = DefaultDomains
	}
	normalized := make([]string, 0, len(domains))
	for _, d := range domains {
		if n, ok := normalizeDomain(strings.TrimPrefix(strings.TrimSpace(d), ".")); ok {
			normalized = append(normalized, n)
		}
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Verifier{
		domains: normalized,
		ttl:     ttl,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		repo:    repo,
		mailer:  mailer,
		logger:  logger,
		now:     time.Now,
	}
}

// IsAcademicEmail はメールアドレスのドメインが許可リストのいずれかに
// ラベル境界で一致するかを返す。大文字小文字とIDN表記の違いは無視する。
func (v *Verifier) IsAcademicEmail(email string) bool {
	domain, ok := emailDomain(email)
	if !ok {
		return false
	}
	for _, suffix := range v.domains {
		if strings.HasSuffix(domain, "."+suffix) {
			return true
		}
	}
	return false
}

// SendVerificationEmail は検証トークンを発行してメールで送る。
// 学術ドメインでない場合はDOMAIN_NOT_ACADEMIC、送信失敗はDELIVERY_FAILEDを返す。
// 送信に失敗したトークンは削除し、再リクエストが再送の手段になる。
func (v *Verifier) SendVerificationEmail(ctx context.Context, userID, email string) error {
	email = strings.TrimSpace(email)
	if !v.IsAcademicEmail(email) {
		return model.NewDomainNotAcademicError()
	}

	tok, err := generateToken()
	if err != nil {
		return fmt.Errorf("failed to generate verification token: %w", err)
	}

	now := v.now()
	record := &model.EmailVerificationToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		Token:     tok,
		Email:     email,
		ExpiresAt: now.Add(v.ttl),
		CreatedAt: now,
	}
	if err := v.repo.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to store verification token: %w", err)
	}

	msg := mail.Message{
		To:      email,
		Subject: "【acadtrust】学術メールアドレスの確認",
		Body:    v.messageBody(tok),
	}
	if err := v.mailer.Send(ctx, msg); err != nil {
		v.logger.WarnContext(ctx, "検証メールの送信に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		if delErr := v.repo.DeleteByToken(ctx, tok); delErr != nil {
			v.logger.ErrorContext(ctx, "送信失敗したトークンの削除に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", delErr.Error()),
			)
		}
		return model.NewDeliveryFailedError()
	}

	v.logger.InfoContext(ctx, "verification email sent", slog.String("user_id", userID))
	return nil
}

// RedeemToken は検証トークンを一度だけ引き換える。
// 存在しない・期限切れ・使用済みの場合はnilを返す。
func (v *Verifier) RedeemToken(ctx context.Context, tok string) (*Redemption, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return nil, nil
	}
	record, err := v.repo.Consume(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("failed to consume verification token: %w", err)
	}
	if record == nil {
		return nil, nil
	}
	return &Redemption{UserID: record.UserID, Email: record.Email}, nil
}

// SweepExpired は期限切れのトークンを削除し、削除件数を返す。
func (v *Verifier) SweepExpired(ctx context.Context) (int64, error) {
	n, err := v.repo.DeleteExpired(ctx, v.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired tokens: %w", err)
	}
	return n, nil
}

func (v *Verifier) messageBody(tok string) string {
	link := v.baseURL + confirmPath + "?token=" + url.QueryEscape(tok)
	hours := int(v.ttl / time.Hour)
	return fmt.Sprintf("以下のリンクを開いて学術メールアドレスの確認を完了してください。\n\n%s\n\nこのリンクの有効期限は%d時間です。\n", link, hours)
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// emailDomain はメールアドレスの正規化済みドメインを返す。
func emailDomain(email string) (string, bool) {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", false
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return "", false
	}
	return normalizeDomain(email[at+1:])
}

func normalizeDomain(domain string) (string, bool) {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return "", false
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", false
	}
	return strings.ToLower(ascii), true
}
