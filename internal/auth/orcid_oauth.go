package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/hitoshi/acadtrust/internal/model"
	"golang.org/x/oauth2"
)

const (
	defaultORCIDBaseURL = "https://orcid.org"
	defaultORCIDAPIURL  = "https://pub.orcid.org"

	// orcidScope はログイン確認のみを行う固定スコープ。
	orcidScope = "/authenticate"

	orcidService    = "orcid"
	maxProfileBytes = 1 << 20
)

var orcidIDPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)

// ORCIDConfig はORCID OAuthプロバイダーの設定。
type ORCIDConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// BaseURL は認可・トークンエンドポイントのベース。sandbox利用時やテスト時に差し替える。
	BaseURL string
	// APIURL は公開レコードAPIのベース。
	APIURL string
}

// ORCIDToken はトークンエンドポイントの応答から取り出した値。
type ORCIDToken struct {
	AccessToken string
	ORCID       string
	Name        string
}

// ORCIDProfile は公開レコードから取得したプロフィール。Emailは非公開の場合は空。
type ORCIDProfile struct {
	ORCID string
	Name  string
	Email string
}

// ORCIDProvider はORCID OAuth 2.0による本人確認を提供する。
type ORCIDProvider struct {
	oauth      oauth2.Config
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewORCIDProvider はORCIDProviderを生成する。
// httpClientのTimeoutが外部呼び出しの上限になる。
func NewORCIDProvider(cfg ORCIDConfig, httpClient *http.Client, logger *slog.Logger) *ORCIDProvider {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultORCIDBaseURL
	}
	api := strings.TrimRight(cfg.APIURL, "/")
	if api == "" {
		api = defaultORCIDAPIURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ORCIDProvider{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{orcidScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth/authorize",
				TokenURL:  base + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiURL:     api,
		httpClient: httpClient,
		logger:     logger,
	}
}

// GetLoginURL はORCIDの認可URLを生成する。
func (p *ORCIDProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// ORCIDはトークン応答にorcidとnameを追加フィールドとして含める。
func (p *ORCIDProvider) ExchangeCode(ctx context.Context, code string) (*ORCIDToken, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		status := 0
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			status = re.Response.StatusCode
		}
		p.logger.Warn("ORCIDトークン交換に失敗しました",
			slog.String("service", orcidService),
			slog.Int("http_status", status),
			slog.String("error", err.Error()),
		)
		return nil, model.NewExternalServiceError(orcidService, "token exchange", status, err)
	}

	orcid, _ := tok.Extra("orcid").(string)
	name, _ := tok.Extra("name").(string)
	if !orcidIDPattern.MatchString(orcid) {
		return nil, model.NewExternalServiceError(orcidService, "token exchange", 0,
			fmt.Errorf("token response carries no valid orcid"))
	}

	return &ORCIDToken{
		AccessToken: tok.AccessToken,
		ORCID:       orcid,
		Name:        name,
	}, nil
}

type orcidValue struct {
	Value string `json:"value"`
}

type orcidPerson struct {
	Name *struct {
		GivenNames *orcidValue `json:"given-names"`
		FamilyName *orcidValue `json:"family-name"`
		CreditName *orcidValue `json:"credit-name"`
	} `json:"name"`
	Emails *struct {
		Email []struct {
			Email   string `json:"email"`
			Primary bool   `json:"primary"`
		} `json:"email"`
	} `json:"emails"`
}

// FetchProfile はORCID iDの公開personレコードを取得する。bearerは任意。
func (p *ORCIDProvider) FetchProfile(ctx context.Context, orcid, bearer string) (*ORCIDProfile, error) {
	if !orcidIDPattern.MatchString(orcid) {
		return nil, fmt.Errorf("invalid orcid: %q", orcid)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/v3.0/"+orcid+"/person", nil)
	if err != nil {
		return nil, model.NewExternalServiceError(orcidService, "fetch profile", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn("ORCIDプロフィール取得に失敗しました",
			slog.String("service", orcidService),
			slog.String("error", err.Error()),
		)
		return nil, model.NewExternalServiceError(orcidService, "fetch profile", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("ORCID APIがエラーステータスを返しました",
			slog.String("service", orcidService),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewExternalServiceError(orcidService, "fetch profile", resp.StatusCode, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBytes))
	if err != nil {
		return nil, model.NewExternalServiceError(orcidService, "read profile", 0, err)
	}

	var person orcidPerson
	if err := json.Unmarshal(body, &person); err != nil {
		return nil, model.NewExternalServiceError(orcidService, "decode profile", 0, err)
	}

	return &ORCIDProfile{
		ORCID: orcid,
		Name:  person.displayName(),
		Email: person.email(),
	}, nil
}

func (p *orcidPerson) displayName() string {
	if p.Name == nil {
		return ""
	}
	if p.Name.CreditName != nil && p.Name.CreditName.Value != "" {
		return p.Name.CreditName.Value
	}
	var parts []string
	if p.Name.GivenNames != nil && p.Name.GivenNames.Value != "" {
		parts = append(parts, p.Name.GivenNames.Value)
	}
	if p.Name.FamilyName != nil && p.Name.FamilyName.Value != "" {
		parts = append(parts, p.Name.FamilyName.Value)
	}
	return strings.Join(parts, " ")
}

// email は主アドレスを優先し、無ければ最初の公開アドレスを返す。
func (p *orcidPerson) email() string {
	if p.Emails == nil || len(p.Emails.Email) == 0 {
		return ""
	}
	for _, e := range p.Emails.Email {
		if e.Primary {
			return e.Email
		}
	}
	return p.Emails.Email[0].Email
}
