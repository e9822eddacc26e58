package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/acadtrust/internal/middleware"
	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/hitoshi/acadtrust/internal/token"
	"github.com/hitoshi/acadtrust/internal/trust"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分。stateトークンの有効期間と揃える
	oauthCookiePath  = "/api/verify/orcid"
)

// TrustServiceInterface は検証ハンドラーが必要とするサービスインターフェース。
// trust.Serviceが実装する。
type TrustServiceInterface interface {
	StartORCID(userID string) (authURL, state string, err error)
	CompleteORCID(ctx context.Context, code, state string) (*trust.Result, error)
	VerifyDOI(ctx context.Context, userID, doi, name string) (*trust.Result, error)
	RequestStudentEmail(ctx context.Context, userID, email string) error
	ConfirmStudentEmail(ctx context.Context, tok string) (*trust.Result, error)
}

// VerificationHandlerConfig は検証ハンドラーの設定。
type VerificationHandlerConfig struct {
	BaseURL      string // ORCIDコールバック後のリダイレクト先
	CookieSecure bool
}

// VerificationHandler は信頼レベル検証関連のHTTPハンドラー。
type VerificationHandler struct {
	service TrustServiceInterface
	config  VerificationHandlerConfig
}

// NewVerificationHandler はVerificationHandlerを生成する。
func NewVerificationHandler(service TrustServiceInterface, config VerificationHandlerConfig) *VerificationHandler {
	return &VerificationHandler{service: service, config: config}
}

type authorizeResponse struct {
	URL string `json:"url"`
}

type doiRequest struct {
	DOI  string `json:"doi"`
	Name string `json:"name,omitempty"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type emailSentResponse struct {
	Status string `json:"status"`
}

// AuthorizeORCID はユーザーに紐づいたstateを発行し、ORCIDの認可URLを返す。
// stateはCookieにも保存し、コールバックで照合する。
// GET /api/verify/orcid/authorize
func (h *VerificationHandler) AuthorizeORCID(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	authURL, state, err := h.service.StartORCID(userID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	http.SetCookie(w, h.stateCookie(state, oauthStateMaxAge))
	writeJSON(w, http.StatusOK, authorizeResponse{URL: authURL})
}

// CallbackORCID はORCIDからのコールバックを処理し、結果をフロントエンドにリダイレクトで伝える。
// 成功時は再発行したトークンを、失敗時はエラーコードをURLフラグメントに載せる。
// GET /api/verify/orcid/callback?code=xxx&state=yyy
func (h *VerificationHandler) CallbackORCID(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（Cookieとクエリの一致）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.WarnContext(r.Context(), "oauth state mismatch")
		h.redirectWithError(w, r, model.ErrCodeInvalidOAuthState)
		return
	}

	// stateクッキーを削除
	http.SetCookie(w, h.stateCookie("", -1))

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectWithError(w, r, model.ErrCodeORCIDFailed)
		return
	}

	// 3. 検証と信頼レベルの更新
	result, err := h.service.CompleteORCID(r.Context(), code, state)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			h.redirectWithError(w, r, apiErr.Code)
			return
		}
		slog.ErrorContext(r.Context(), "orcid callback failed", slog.String("error", err.Error()))
		h.redirectWithError(w, r, middleware.ErrCodeInternal)
		return
	}

	// 4. フロントエンドにリダイレクト
	h.redirect(w, r, tokenFragment(result.Tokens))
}

// VerifyDOI はDOIの著者情報とユーザーを照合する。
// POST /api/verify/doi
func (h *VerificationHandler) VerifyDOI(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req doiRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.VerifyDOI(r.Context(), userID, req.DOI, req.Name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toVerificationResponse(result))
}

// RequestEmail は学術機関メールアドレス宛に検証リンクを送信する。
// POST /api/verify/email
func (h *VerificationHandler) RequestEmail(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.RequestStudentEmail(r.Context(), userID, req.Email); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, emailSentResponse{Status: "sent"})
}

// ConfirmEmail は検証リンクのトークンを消費し、学生検証済みとしてユーザーを更新する。
// リンクはメールから開かれるため認証を要求しない。
// GET /api/verify/email/confirm?token=xxx
func (h *VerificationHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	tok := r.URL.Query().Get("token")
	if tok == "" {
		handleServiceError(w, r, model.NewInvalidEmailTokenError())
		return
	}

	result, err := h.service.ConfirmStudentEmail(r.Context(), tok)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toVerificationResponse(result))
}

func (h *VerificationHandler) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     oauthCookiePath,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *VerificationHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code string) {
	h.redirect(w, r, url.Values{"error": {code}})
}

func (h *VerificationHandler) redirect(w http.ResponseWriter, r *http.Request, fragment url.Values) {
	target := h.config.BaseURL
	if len(fragment) > 0 {
		target += "#" + fragment.Encode()
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

func tokenFragment(pair *token.Pair) url.Values {
	if pair == nil {
		return nil
	}
	return url.Values{
		"access_token":  {pair.AccessToken},
		"refresh_token": {pair.RefreshToken},
		"expires_in":    {strconv.Itoa(pair.ExpiresIn)},
	}
}

func toVerificationResponse(result *trust.Result) verificationResponse {
	return verificationResponse{
		User:    toUserResponse(result.User),
		Tokens:  result.Tokens,
		Changed: result.Changed,
	}
}
