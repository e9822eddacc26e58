package academic

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/acadtrust/internal/mail"
	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/hitoshi/acadtrust/internal/repository"
)

// --- モック定義 ---

// memoryTokenRepo はConsumeの単一使用を再現するインメモリ実装。
type memoryTokenRepo struct {
	mu        sync.Mutex
	tokens    map[string]*model.EmailVerificationToken
	now       func() time.Time
	createErr error
	deleted   []string
}

func newMemoryTokenRepo(now func() time.Time) *memoryTokenRepo {
	return &memoryTokenRepo{tokens: make(map[string]*model.EmailVerificationToken), now: now}
}

func (r *memoryTokenRepo) Create(_ context.Context, t *model.EmailVerificationToken) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Token] = t
	return nil
}

func (r *memoryTokenRepo) Consume(_ context.Context, token string) (*model.EmailVerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[token]
	if !ok || t.IsExpired(r.now()) {
		return nil, nil
	}
	delete(r.tokens, token)
	return t, nil
}

func (r *memoryTokenRepo) DeleteByToken(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
	r.deleted = append(r.deleted, token)
	return nil
}

func (r *memoryTokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, t := range r.tokens {
		if t.IsExpired(now) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

func (r *memoryTokenRepo) only(t *testing.T) *model.EmailVerificationToken {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tokens) != 1 {
		t.Fatalf("expected exactly one token, got %d", len(r.tokens))
	}
	for _, tok := range r.tokens {
		return tok
	}
	return nil
}

var _ repository.EmailTokenRepository = (*memoryTokenRepo)(nil)

type mockMailer struct {
	sendFn func(ctx context.Context, msg mail.Message) error
	sent   []mail.Message
}

func (m *mockMailer) Send(ctx context.Context, msg mail.Message) error {
	m.sent = append(m.sent, msg)
	if m.sendFn != nil {
		return m.sendFn(ctx, msg)
	}
	return nil
}

var _ mail.Mailer = (*mockMailer)(nil)

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestVerifier(t *testing.T, mailer mail.Mailer) (*Verifier, *memoryTokenRepo, *fixedClock) {
	t.Helper()
	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	repo := newMemoryTokenRepo(clock.now)
	var buf bytes.Buffer
	v := NewVerifier(Config{BaseURL: "https://acadtrust.example/"}, repo, mailer, slog.New(slog.NewJSONHandler(&buf, nil)))
	v.now = clock.now
	return v, repo, clock
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T (%v)", err, err)
	}
	if apiErr.Code != code {
		t.Errorf("error code = %q, want %q", apiErr.Code, code)
	}
}

// --- テスト ---

func TestIsAcademicEmail(t *testing.T) {
	v, _, _ := newTestVerifier(t, &mockMailer{})

	tests := []struct {
		email string
		want  bool
	}{
		{"student@snu.ac.kr", true},
		{"STUDENT@SNU.AC.KR", true},
		{"researcher@mit.edu", true},
		{"someone@ox.ac.uk", true},
		{"someone@u-tokyo.ac.jp", true},
		{"someone@student.unimelb.edu.au", true},
		{"someone@snu.ac.kr.", true},
		{"someone@서울대.ac.kr", true},
		{"someone@gmail.com", false},
		{"someone@evil-ac.kr", false},
		{"someone@ac.kr", false},
		{"someone@edu.evil.com", false},
		{"@snu.ac.kr", false},
		{"student@", false},
		{"no-at-sign", false},
		{"", false},
		{"stu dent@snu.ac.kr", false},
	}
	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := v.IsAcademicEmail(tt.email); got != tt.want {
				t.Errorf("IsAcademicEmail(%q) = %v, want %v", tt.email, got, tt.want)
			}
		})
	}
}

func TestIsAcademicEmail_CustomDomains(t *testing.T) {
	var buf bytes.Buffer
	v := NewVerifier(Config{Domains: []string{".Example.AC.KR", " lab.org "}}, newMemoryTokenRepo(time.Now), &mockMailer{}, slog.New(slog.NewJSONHandler(&buf, nil)))

	if !v.IsAcademicEmail("a@dept.example.ac.kr") {
		t.Error("configured suffix should match")
	}
	if !v.IsAcademicEmail("a@x.lab.org") {
		t.Error("trimmed suffix should match")
	}
	if v.IsAcademicEmail("a@snu.ac.kr") {
		t.Error("default domains should not apply when a list is configured")
	}
}

func TestSendVerificationEmail_Success(t *testing.T) {
	mailer := &mockMailer{}
	v, repo, clock := newTestVerifier(t, mailer)

	if err := v.SendVerificationEmail(context.Background(), "user-1", " student@snu.ac.kr "); err != nil {
		t.Fatalf("SendVerificationEmail() error = %v", err)
	}

	stored := repo.only(t)
	if stored.UserID != "user-1" || stored.Email != "student@snu.ac.kr" {
		t.Errorf("unexpected token row: %+v", stored)
	}
	if len(stored.Token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(stored.Token))
	}
	if want := clock.now().Add(24 * time.Hour); !stored.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", stored.ExpiresAt, want)
	}

	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.To != "student@snu.ac.kr" {
		t.Errorf("To = %q", msg.To)
	}
	wantLink := "https://acadtrust.example/api/verify/email/confirm?token=" + stored.Token
	if !strings.Contains(msg.Body, wantLink) {
		t.Errorf("body does not contain link %q:\n%s", wantLink, msg.Body)
	}
}

func TestSendVerificationEmail_NonAcademicDomain(t *testing.T) {
	mailer := &mockMailer{}
	v, repo, _ := newTestVerifier(t, mailer)

	err := v.SendVerificationEmail(context.Background(), "user-1", "someone@gmail.com")
	assertAPIErrorCode(t, err, model.ErrCodeDomainNotAcademic)

	if len(repo.tokens) != 0 || len(mailer.sent) != 0 {
		t.Error("nothing should be stored or sent for a non-academic address")
	}
}

func TestSendVerificationEmail_DeliveryFailureRemovesToken(t *testing.T) {
	mailer := &mockMailer{sendFn: func(ctx context.Context, msg mail.Message) error {
		return model.NewExternalServiceError("smtp", "send", 0, errors.New("connection refused"))
	}}
	v, repo, _ := newTestVerifier(t, mailer)

	err := v.SendVerificationEmail(context.Background(), "user-1", "student@snu.ac.kr")
	assertAPIErrorCode(t, err, model.ErrCodeDeliveryFailed)

	if len(repo.tokens) != 0 {
		t.Error("token of a failed delivery should be removed")
	}
	if len(repo.deleted) != 1 {
		t.Errorf("DeleteByToken called %d times, want 1", len(repo.deleted))
	}
}

func TestSendVerificationEmail_StoreFailure(t *testing.T) {
	mailer := &mockMailer{}
	v, repo, _ := newTestVerifier(t, mailer)
	repo.createErr = errors.New("db down")

	err := v.SendVerificationEmail(context.Background(), "user-1", "student@snu.ac.kr")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("storage failure should not be a user-facing error: %v", err)
	}
	if len(mailer.sent) != 0 {
		t.Error("no mail should be sent when the token cannot be stored")
	}
}

func TestRedeemToken_SingleUse(t *testing.T) {
	v, repo, _ := newTestVerifier(t, &mockMailer{})
	if err := v.SendVerificationEmail(context.Background(), "user-1", "student@snu.ac.kr"); err != nil {
		t.Fatalf("SendVerificationEmail() error = %v", err)
	}
	tok := repo.only(t).Token

	first, err := v.RedeemToken(context.Background(), tok)
	if err != nil || first == nil {
		t.Fatalf("first RedeemToken() = %v, %v", first, err)
	}
	if first.UserID != "user-1" || first.Email != "student@snu.ac.kr" {
		t.Errorf("unexpected redemption: %+v", first)
	}

	second, err := v.RedeemToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("second RedeemToken() error = %v", err)
	}
	if second != nil {
		t.Error("token must not be redeemable twice")
	}
}

func TestRedeemToken_Expired(t *testing.T) {
	v, repo, clock := newTestVerifier(t, &mockMailer{})
	if err := v.SendVerificationEmail(context.Background(), "user-1", "student@snu.ac.kr"); err != nil {
		t.Fatalf("SendVerificationEmail() error = %v", err)
	}
	tok := repo.only(t).Token

	clock.advance(24*time.Hour + time.Second)

	got, err := v.RedeemToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("RedeemToken() error = %v", err)
	}
	if got != nil {
		t.Error("expired token must not be redeemable")
	}
}

func TestRedeemToken_Unknown(t *testing.T) {
	v, _, _ := newTestVerifier(t, &mockMailer{})

	for _, tok := range []string{"", "   ", "deadbeef"} {
		got, err := v.RedeemToken(context.Background(), tok)
		if err != nil || got != nil {
			t.Errorf("RedeemToken(%q) = %v, %v; want nil, nil", tok, got, err)
		}
	}
}

func TestSweepExpired(t *testing.T) {
	v, repo, clock := newTestVerifier(t, &mockMailer{})
	ctx := context.Background()

	if err := v.SendVerificationEmail(ctx, "user-1", "a@snu.ac.kr"); err != nil {
		t.Fatal(err)
	}
	clock.advance(12 * time.Hour)
	if err := v.SendVerificationEmail(ctx, "user-1", "b@snu.ac.kr"); err != nil {
		t.Fatal(err)
	}
	clock.advance(13 * time.Hour)

	n, err := v.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if remaining := repo.only(t); remaining.Email != "b@snu.ac.kr" {
		t.Errorf("remaining token = %s, want the newer one", remaining.Email)
	}
}
