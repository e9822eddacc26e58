// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/hitoshi/acadtrust/internal/token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey  = contextKey("user_id")
	payloadContextKey = contextKey("token_payload")
)

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
// token.Issuerが実装する。
type TokenVerifier interface {
	VerifyKind(tokenString string, kind token.Kind) *token.Payload
}

// NewAuthMiddleware はAuthorizationヘッダーのBearerトークンを検証するミドルウェアを返す。
// トークンが無い場合はUNAUTHORIZED、無効・期限切れ・用途違いの場合はINVALID_TOKENを401で返す。
// 検証済みのユーザーIDとペイロードをリクエストコンテキストに注入する。
func NewAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			payload := verifier.VerifyKind(raw, token.KindAccess)
			if payload == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidTokenError())
				return
			}

			noteUserID(r, payload.UserID)
			ctx := context.WithValue(r.Context(), userIDContextKey, payload.UserID)
			ctx = context.WithValue(ctx, payloadContextKey, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken はAuthorizationヘッダーからトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, value, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// PayloadFromContext はリクエストコンテキストからトークンのペイロードを取得する。
// 信頼レベルは発行時点のスナップショットであり、権限判定には使わない。
func PayloadFromContext(ctx context.Context) (*token.Payload, bool) {
	p, ok := ctx.Value(payloadContextKey).(*token.Payload)
	return p, ok && p != nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
