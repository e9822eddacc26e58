package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/acadtrust/internal/middleware"
	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/hitoshi/acadtrust/internal/token"
	"github.com/hitoshi/acadtrust/internal/trust"
)

// --- モック定義 ---

type mockAccountService struct {
	registerFn       func(ctx context.Context, username, email, password string) (*model.User, error)
	loginFn          func(ctx context.Context, username, password string) (*token.Pair, error)
	refreshFn        func(ctx context.Context, refreshToken string) (*token.Pair, error)
	getCurrentUserFn func(ctx context.Context, userID string) (*model.User, error)
}

func (m *mockAccountService) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, username, email, password)
	}
	return nil, nil
}

func (m *mockAccountService) Login(ctx context.Context, username, password string) (*token.Pair, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, username, password)
	}
	return nil, nil
}

func (m *mockAccountService) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx, refreshToken)
	}
	return nil, nil
}

func (m *mockAccountService) GetCurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, userID)
	}
	return nil, nil
}

type mockTrustService struct {
	startORCIDFn          func(userID string) (string, string, error)
	completeORCIDFn       func(ctx context.Context, code, state string) (*trust.Result, error)
	verifyDOIFn           func(ctx context.Context, userID, doi, name string) (*trust.Result, error)
	requestStudentEmailFn func(ctx context.Context, userID, email string) error
	confirmStudentEmailFn func(ctx context.Context, tok string) (*trust.Result, error)
}

func (m *mockTrustService) StartORCID(userID string) (string, string, error) {
	if m.startORCIDFn != nil {
		return m.startORCIDFn(userID)
	}
	return "", "", nil
}

func (m *mockTrustService) CompleteORCID(ctx context.Context, code, state string) (*trust.Result, error) {
	if m.completeORCIDFn != nil {
		return m.completeORCIDFn(ctx, code, state)
	}
	return nil, nil
}

func (m *mockTrustService) VerifyDOI(ctx context.Context, userID, doi, name string) (*trust.Result, error) {
	if m.verifyDOIFn != nil {
		return m.verifyDOIFn(ctx, userID, doi, name)
	}
	return nil, nil
}

func (m *mockTrustService) RequestStudentEmail(ctx context.Context, userID, email string) error {
	if m.requestStudentEmailFn != nil {
		return m.requestStudentEmailFn(ctx, userID, email)
	}
	return nil
}

func (m *mockTrustService) ConfirmStudentEmail(ctx context.Context, tok string) (*trust.Result, error) {
	if m.confirmStudentEmailFn != nil {
		return m.confirmStudentEmailFn(ctx, tok)
	}
	return nil, nil
}

type mockModerationService struct {
	createCommentFn     func(ctx context.Context, authorID, postID, body string) (*model.Comment, error)
	listPendingFn       func(ctx context.Context, limit int) ([]*model.Comment, error)
	authorizeReviewerFn func(ctx context.Context, reviewerID string) (*model.User, error)
	approveFn           func(ctx context.Context, reviewerID, commentID string) (*model.Comment, error)
}

func (m *mockModerationService) CreateComment(ctx context.Context, authorID, postID, body string) (*model.Comment, error) {
	if m.createCommentFn != nil {
		return m.createCommentFn(ctx, authorID, postID, body)
	}
	return nil, nil
}

func (m *mockModerationService) ListPending(ctx context.Context, limit int) ([]*model.Comment, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockModerationService) AuthorizeReviewer(ctx context.Context, reviewerID string) (*model.User, error) {
	if m.authorizeReviewerFn != nil {
		return m.authorizeReviewerFn(ctx, reviewerID)
	}
	return &model.User{ID: reviewerID, TrustLevel: model.TrustORCID}, nil
}

func (m *mockModerationService) Approve(ctx context.Context, reviewerID, commentID string) (*model.Comment, error) {
	if m.approveFn != nil {
		return m.approveFn(ctx, reviewerID, commentID)
	}
	return nil, nil
}

// stubVerifier は "token-<userID>" 形式のアクセストークンを受け付ける。
type stubVerifier struct{}

func (stubVerifier) VerifyKind(tokenString string, kind token.Kind) *token.Payload {
	const prefix = "token-"
	if kind != token.KindAccess || len(tokenString) <= len(prefix) || tokenString[:len(prefix)] != prefix {
		return nil
	}
	return &token.Payload{
		UserID:     tokenString[len(prefix):],
		Username:   "tester",
		TrustLevel: model.TrustGuest,
		Kind:       token.KindAccess,
	}
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// --- テストヘルパー ---

// testDeps は全てのサービスをモックで構成したRouterDepsを返す。
func testDeps(t *testing.T) *RouterDeps {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)
	return &RouterDeps{
		Logger:             slog.New(slog.NewJSONHandler(io.Discard, nil)),
		TokenVerifier:      stubVerifier{},
		CORSAllowedOrigin:  "http://localhost:3000",
		RateLimiter:        rl,
		AccountService:     &mockAccountService{},
		TrustService:       &mockTrustService{},
		VerificationConfig: VerificationHandlerConfig{BaseURL: "http://localhost:3000"},
		ModerationService:  &mockModerationService{},
	}
}

// withUser は認証ミドルウェアを通過した状態のリクエストを作る。
func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return bytes.NewReader(b)
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Code
}

func sampleUser() *model.User {
	return &model.User{
		ID:           "user-1",
		Username:     "jane",
		Email:        "jane@example.com",
		PasswordHash: "$2a$10$secret",
		DisplayName:  "Jane Doe",
		TrustLevel:   model.TrustGuest,
	}
}
