// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/acadtrust/internal/middleware"
	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/hitoshi/acadtrust/internal/token"
)

// ハンドラー層で生成するエラーコード
const errCodeInvalidRequest = "INVALID_REQUEST"

// maxRequestBodyBytes はJSONリクエストボディの上限。
const maxRequestBodyBytes = 64 << 10

// userResponse はユーザー情報のレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	Email             string    `json:"email"`
	DisplayName       string    `json:"display_name"`
	ORCID             string    `json:"orcid,omitempty"`
	IsOrcidVerified   bool      `json:"is_orcid_verified"`
	IsDoiVerified     bool      `json:"is_doi_verified"`
	IsStudentVerified bool      `json:"is_student_verified"`
	TrustLevel        string    `json:"trust_level"`
	VerifiedDetail    string    `json:"verified_detail,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		DisplayName:       u.DisplayName,
		ORCID:             u.ORCID,
		IsOrcidVerified:   u.IsOrcidVerified,
		IsDoiVerified:     u.IsDoiVerified,
		IsStudentVerified: u.IsStudentVerified,
		TrustLevel:        string(u.TrustLevel),
		VerifiedDetail:    u.VerifiedDetail,
		CreatedAt:         u.CreatedAt,
	}
}

// verificationResponse は検証成功時のレスポンス。
// 信頼レベルが変わった場合に備えてトークンを再発行して返す。
type verificationResponse struct {
	User    userResponse `json:"user"`
	Tokens  *token.Pair  `json:"tokens,omitempty"`
	Changed bool         `json:"trust_level_changed"`
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをJSONとして読み込む。
// 失敗した場合はINVALID_REQUESTを書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     errCodeInvalidRequest,
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// requireUserID は認証ミドルウェアが注入したユーザーIDを取り出す。
// 取り出せない場合は401を書き込んでfalseを返す。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// 外部サービス障害がAPIErrorに変換されずに届いた場合
	if errors.Is(err, model.ErrServiceUnavailable) {
		slog.WarnContext(r.Context(), "external service unavailable",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewServiceUnavailableError("external"))
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.ErrorContext(r.Context(), "internal server error",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation, model.ErrCodeInvalidDOI, model.ErrCodeDomainNotAcademic,
		model.ErrCodeInvalidOAuthState, errCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidToken, model.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeCommentNotFound:
		return http.StatusNotFound
	case model.ErrCodeUsernameTaken, model.ErrCodeORCIDAlreadyLinked:
		return http.StatusConflict
	case model.ErrCodeDOIAuthorMismatch, model.ErrCodeORCIDFailed, model.ErrCodeInvalidEmailToken:
		return http.StatusUnprocessableEntity
	case model.ErrCodeDeliveryFailed:
		return http.StatusBadGateway
	case model.ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
