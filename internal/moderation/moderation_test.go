package moderation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/acadtrust/internal/metrics"
	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/hitoshi/acadtrust/internal/repository"
	"github.com/hitoshi/acadtrust/internal/security"
)

// --- モック定義 ---

type mockUserRepo struct {
	users map[string]*model.User
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	return m.users[id], nil
}

func (m *mockUserRepo) FindByUsername(context.Context, string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) FindByORCID(context.Context, string) (*model.User, error) {
	return nil, nil
}

func (m *mockUserRepo) Create(context.Context, *model.User) error {
	return nil
}

func (m *mockUserRepo) UpdateWithLock(context.Context, string, func(*model.User) error) (*model.User, error) {
	return nil, nil
}

var _ repository.UserRepository = (*mockUserRepo)(nil)

type memCommentRepo struct {
	mu        sync.Mutex
	comments  map[string]*model.Comment
	createErr error
}

func newMemCommentRepo() *memCommentRepo {
	return &memCommentRepo{comments: make(map[string]*model.Comment)}
}

func (r *memCommentRepo) Create(_ context.Context, c *model.Comment) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.comments[c.ID] = &cp
	return nil
}

func (r *memCommentRepo) FindByID(_ context.Context, id string) (*model.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.comments[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memCommentRepo) ListPending(_ context.Context, limit int) ([]*model.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Comment
	for _, c := range r.comments {
		if !c.IsApproved {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memCommentRepo) Approve(_ context.Context, id, reviewerID string, at time.Time) (*model.Comment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.comments[id]
	if !ok || c.IsApproved {
		return nil, nil
	}
	c.IsApproved = true
	c.ApprovedBy = reviewerID
	c.ApprovedAt = &at
	cp := *c
	return &cp, nil
}

var _ repository.CommentRepository = (*memCommentRepo)(nil)

type countingMetrics struct {
	metrics.Nop
	approved, pending int
}

func (m *countingMetrics) RecordCommentCreated(approved bool) {
	if approved {
		m.approved++
	} else {
		m.pending++
	}
}

func newTestUsers() *mockUserRepo {
	return &mockUserRepo{users: map[string]*model.User{
		"guest":   {ID: "guest", Username: "guest", TrustLevel: model.TrustGuest},
		"student": {ID: "student", Username: "student", TrustLevel: model.TrustStudent},
		"doi":     {ID: "doi", Username: "doi", TrustLevel: model.TrustDOI},
		"orcid":   {ID: "orcid", Username: "orcid", TrustLevel: model.TrustORCID},
	}}
}

type testEnv struct {
	svc      *Service
	users    *mockUserRepo
	comments *memCommentRepo
	metrics  *countingMetrics
	clock    time.Time
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	var buf bytes.Buffer
	env := &testEnv{
		users:    newTestUsers(),
		comments: newMemCommentRepo(),
		metrics:  &countingMetrics{},
		clock:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	env.svc = NewService(cfg, env.comments, env.users, security.NewCommentSanitizer(), env.metrics, slog.New(slog.NewJSONHandler(&buf, nil)))
	env.svc.now = func() time.Time {
		env.clock = env.clock.Add(time.Second)
		return env.clock
	}
	return env
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

func TestIsAutoApproved(t *testing.T) {
	tests := []struct {
		level model.TrustLevel
		want  bool
	}{
		{model.TrustGuest, false},
		{model.TrustStudent, true},
		{model.TrustDOI, true},
		{model.TrustORCID, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := IsAutoApproved(tt.level); got != tt.want {
				t.Errorf("IsAutoApproved(%s) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestCreateComment_SnapshotsTrustLevel(t *testing.T) {
	env := newTestEnv(t, Config{})

	for _, author := range []string{"guest", "student", "doi", "orcid"} {
		t.Run(author, func(t *testing.T) {
			c, err := env.svc.CreateComment(context.Background(), author, "post-1", "<p>興味深い結果です</p>")
			if err != nil {
				t.Fatalf("CreateComment() error = %v", err)
			}
			level := env.users.users[author].TrustLevel
			if c.TrustLevel != level {
				t.Errorf("TrustLevel = %s, want %s", c.TrustLevel, level)
			}
			if c.IsApproved != IsAutoApproved(level) {
				t.Errorf("IsApproved = %v for %s", c.IsApproved, level)
			}
		})
	}
	if env.metrics.approved != 3 || env.metrics.pending != 1 {
		t.Errorf("metrics approved=%d pending=%d, want 3/1", env.metrics.approved, env.metrics.pending)
	}
}

func TestCreateComment_SnapshotNotReevaluated(t *testing.T) {
	env := newTestEnv(t, Config{})

	c, err := env.svc.CreateComment(context.Background(), "guest", "post-1", "最初のコメント")
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}

	// 作成後に投稿者が昇格しても既存コメントは変わらない
	env.users.users["guest"].TrustLevel = model.TrustORCID

	stored, _ := env.comments.FindByID(context.Background(), c.ID)
	if stored.TrustLevel != model.TrustGuest || stored.IsApproved {
		t.Errorf("stored comment was re-evaluated: %+v", stored)
	}

	next, err := env.svc.CreateComment(context.Background(), "guest", "post-1", "昇格後のコメント")
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	if !next.IsApproved || next.TrustLevel != model.TrustORCID {
		t.Errorf("new comment should use the current level: %+v", next)
	}
}

func TestCreateComment_SanitizesBody(t *testing.T) {
	env := newTestEnv(t, Config{})

	c, err := env.svc.CreateComment(context.Background(), "orcid", "post-1", `<p>本文</p><script>alert(1)</script>`)
	if err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}
	if strings.Contains(c.Body, "script") {
		t.Errorf("body was not sanitized: %q", c.Body)
	}
}

func TestCreateComment_Validation(t *testing.T) {
	env := newTestEnv(t, Config{})

	tests := []struct {
		name   string
		postID string
		body   string
	}{
		{"空の本文", "post-1", ""},
		{"空白のみ", "post-1", "   \n\t"},
		{"サニタイズ後に空", "post-1", "<script>alert(1)</script>"},
		{"長すぎる本文", "post-1", strings.Repeat("あ", MaxBodyLength+1)},
		{"投稿ID未指定", " ", "本文"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.CreateComment(context.Background(), "orcid", tt.postID, tt.body)
			assertAPIErrorCode(t, err, model.ErrCodeValidation)
		})
	}

	if _, err := env.svc.CreateComment(context.Background(), "orcid", "post-1", strings.Repeat("あ", MaxBodyLength)); err != nil {
		t.Errorf("body at the limit should be accepted: %v", err)
	}
}

func TestCreateComment_UnknownAuthor(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.svc.CreateComment(context.Background(), "ghost", "post-1", "本文")
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}

func TestListPending_FIFO(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		c, err := env.svc.CreateComment(ctx, "guest", "post-1", "保留コメント")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, c.ID)
	}
	if _, err := env.svc.CreateComment(ctx, "orcid", "post-1", "公開コメント"); err != nil {
		t.Fatal(err)
	}

	pending, err := env.svc.ListPending(ctx, 0)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("got %d pending, want 3", len(pending))
	}
	for i, c := range pending {
		if c.ID != ids[i] {
			t.Errorf("pending[%d] = %s, want %s (oldest first)", i, c.ID, ids[i])
		}
	}

	limited, err := env.svc.ListPending(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || limited[0].ID != ids[0] {
		t.Errorf("limit should keep the oldest comments")
	}
}

func TestApprove(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	c, err := env.svc.CreateComment(ctx, "guest", "post-1", "承認待ち")
	if err != nil {
		t.Fatal(err)
	}

	approved, err := env.svc.Approve(ctx, "orcid", c.ID)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if !approved.IsApproved || approved.ApprovedBy != "orcid" || approved.ApprovedAt == nil {
		t.Errorf("unexpected approval: %+v", approved)
	}

	// 2回目の承認は最初の承認をそのまま返す
	again, err := env.svc.Approve(ctx, "orcid", c.ID)
	if err != nil {
		t.Fatalf("second Approve() error = %v", err)
	}
	if !again.ApprovedAt.Equal(*approved.ApprovedAt) {
		t.Errorf("approval should be one-way and unchanged")
	}

	pending, _ := env.svc.ListPending(ctx, 0)
	if len(pending) != 0 {
		t.Errorf("approved comment should leave the queue")
	}
}

func TestApprove_ReviewerTrust(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	c, err := env.svc.CreateComment(ctx, "guest", "post-1", "承認待ち")
	if err != nil {
		t.Fatal(err)
	}

	for _, reviewer := range []string{"guest", "student", "doi"} {
		_, err := env.svc.Approve(ctx, reviewer, c.ID)
		assertAPIErrorCode(t, err, model.ErrCodeForbidden)
	}

	_, err = env.svc.Approve(ctx, "ghost", c.ID)
	assertAPIErrorCode(t, err, model.ErrCodeUserNotFound)
}

func TestApprove_ConfiguredReviewerLevel(t *testing.T) {
	env := newTestEnv(t, Config{ReviewerMinTrust: model.TrustDOI})
	ctx := context.Background()
	c, err := env.svc.CreateComment(ctx, "guest", "post-1", "承認待ち")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.svc.Approve(ctx, "doi", c.ID); err != nil {
		t.Errorf("DOI reviewer should be allowed: %v", err)
	}
}

func TestApprove_UnknownComment(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.svc.Approve(context.Background(), "orcid", "missing")
	assertAPIErrorCode(t, err, model.ErrCodeCommentNotFound)
}
