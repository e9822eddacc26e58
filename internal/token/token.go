// Package token はアクセストークン・リフレッシュトークン・OAuth stateの署名と検証を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/acadtrust/internal/model"
)

// Kind はトークンの用途を表す。
type Kind string

const (
	KindAccess     Kind = "access"
	KindRefresh    Kind = "refresh"
	KindOAuthState Kind = "oauth_state"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultStateTTL   = 10 * time.Minute

	issuer = "acadtrust"
)

// ErrInvalidPayload はペイロードの必須フィールドが欠けている場合のエラー。
var ErrInvalidPayload = errors.New("token payload requires user id, username and a known trust level")

// Payload はトークンに埋め込むユーザー情報。発行時点のスナップショットである。
type Payload struct {
	UserID     string
	Username   string
	TrustLevel model.TrustLevel
	Kind       Kind
}

// Pair はアクセストークンとリフレッシュトークンの組。
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Config はIssuerの設定。
type Config struct {
	Secret     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	StateTTL   time.Duration
}

type claims struct {
	Username   string `json:"username,omitempty"`
	TrustLevel string `json:"trust_level,omitempty"`
	Kind       string `json:"kind"`
	jwt.RegisteredClaims
}

// Issuer はプロセス共通の秘密鍵でHS256署名を行う。
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	stateTTL   time.Duration
	now        func() time.Time
}

// NewIssuer はIssuerを生成する。TTLが0の場合はデフォルト値を使う。
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	i := &Issuer{
		secret:     []byte(cfg.Secret),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		stateTTL:   cfg.StateTTL,
		now:        time.Now,
	}
	if i.accessTTL <= 0 {
		i.accessTTL = defaultAccessTTL
	}
	if i.refreshTTL <= 0 {
		i.refreshTTL = defaultRefreshTTL
	}
	if i.stateTTL <= 0 {
		i.stateTTL = defaultStateTTL
	}
	return i, nil
}

// AccessTTL はアクセストークンの有効期間を返す。
func (i *Issuer) AccessTTL() time.Duration {
	return i.accessTTL
}

// IssueAccess は短命のアクセストークンを発行する。
func (i *Issuer) IssueAccess(p Payload) (string, error) {
	return i.issueUser(p, KindAccess, i.accessTTL)
}

// IssueRefresh は長命のリフレッシュトークンを発行する。
func (i *Issuer) IssueRefresh(p Payload) (string, error) {
	return i.issueUser(p, KindRefresh, i.refreshTTL)
}

// IssuePair はアクセストークンとリフレッシュトークンをまとめて発行する。
func (i *Issuer) IssuePair(p Payload) (*Pair, error) {
	access, err := i.IssueAccess(p)
	if err != nil {
		return nil, err
	}
	refresh, err := i.IssueRefresh(p)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(i.accessTTL.Seconds()),
	}, nil
}

// IssueState はORCID連携を開始したユーザーに紐づくOAuth stateを発行する。
func (i *Issuer) IssueState(userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidPayload
	}
	now := i.now()
	c := claims{
		Kind: string(KindOAuthState),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.stateTTL)),
		},
	}
	return i.sign(c)
}

// VerifyState はOAuth stateを検証し、連携を開始したユーザーIDを返す。
// 無効な場合は空文字列を返す。
func (i *Issuer) VerifyState(state string) string {
	c := i.parse(state)
	if c == nil || Kind(c.Kind) != KindOAuthState || c.Subject == "" {
		return ""
	}
	return c.Subject
}

// Verify はトークンを検証してペイロードを返す。
// 署名不一致・期限切れ・不正な形式・必須クレームの欠落はすべてnilを返す。
func (i *Issuer) Verify(tokenString string) *Payload {
	c := i.parse(tokenString)
	if c == nil {
		return nil
	}
	kind := Kind(c.Kind)
	if kind != KindAccess && kind != KindRefresh {
		return nil
	}
	p := Payload{
		UserID:     c.Subject,
		Username:   c.Username,
		TrustLevel: model.TrustLevel(c.TrustLevel),
		Kind:       kind,
	}
	if validate(p) != nil {
		return nil
	}
	return &p
}

// VerifyKind はVerifyに加えて用途が一致することを確認する。
func (i *Issuer) VerifyKind(tokenString string, kind Kind) *Payload {
	p := i.Verify(tokenString)
	if p == nil || p.Kind != kind {
		return nil
	}
	return p
}

func (i *Issuer) issueUser(p Payload, kind Kind, ttl time.Duration) (string, error) {
	if err := validate(p); err != nil {
		return "", err
	}
	now := i.now()
	c := claims{
		Username:   p.Username,
		TrustLevel: string(p.TrustLevel),
		Kind:       string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return i.sign(c)
}

func (i *Issuer) sign(c claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// parse は署名と有効期限を検証する。失敗時はnilを返し、panicも外に出さない。
func (i *Issuer) parse(tokenString string) (c *claims) {
	defer func() {
		if r := recover(); r != nil {
			c = nil
		}
	}()
	if tokenString == "" {
		return nil
	}
	parsed := &claims{}
	tok, err := jwt.ParseWithClaims(tokenString, parsed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !tok.Valid {
		return nil
	}
	return parsed
}

func validate(p Payload) error {
	if p.UserID == "" || p.Username == "" || !p.TrustLevel.Valid() {
		return ErrInvalidPayload
	}
	return nil
}
