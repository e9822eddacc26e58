package trust

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/acadtrust/internal/academic"
	"github.com/hitoshi/acadtrust/internal/auth"
	"github.com/hitoshi/acadtrust/internal/crossref"
	"github.com/hitoshi/acadtrust/internal/metrics"
	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/hitoshi/acadtrust/internal/repository"
	"github.com/hitoshi/acadtrust/internal/token"
)

// ORCIDClient はORCID OAuthフローの外部呼び出し。
type ORCIDClient interface {
	GetLoginURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*auth.ORCIDToken, error)
	FetchProfile(ctx context.Context, orcid, bearer string) (*auth.ORCIDProfile, error)
}

// AuthorVerifier はDOIの著者照合を行う。
type AuthorVerifier interface {
	VerifyAuthor(ctx context.Context, doi string, profile crossref.AuthorProfile) bool
}

// EmailVerifier は学術メールの検証トークンを扱う。
type EmailVerifier interface {
	SendVerificationEmail(ctx context.Context, userID, email string) error
	RedeemToken(ctx context.Context, token string) (*academic.Redemption, error)
}

// Result は検証成功後のユーザーと再発行したトークン。
type Result struct {
	User    *model.User
	Tokens  *token.Pair
	Changed bool
}

// Service は各検証器の結果を信頼レベルに反映し、トークンを再発行する。
type Service struct {
	users   repository.UserRepository
	issuer  *token.Issuer
	orcid   ORCIDClient
	doi     AuthorVerifier
	email   EmailVerifier
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewService はServiceを生成する。collectorがnilの場合は記録しない。
func NewService(
	users repository.UserRepository,
	issuer *token.Issuer,
	orcid ORCIDClient,
	doi AuthorVerifier,
	email EmailVerifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		users:   users,
		issuer:  issuer,
		orcid:   orcid,
		doi:     doi,
		email:   email,
		metrics: collector,
		logger:  logger,
	}
}

// StartORCID はユーザーに紐づくstateを発行し、ORCIDの認可URLを返す。
func (s *Service) StartORCID(userID string) (authURL, state string, err error) {
	state, err = s.issuer.IssueState(userID)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue oauth state: %w", err)
	}
	return s.orcid.GetLoginURL(state), state, nil
}

// CompleteORCID は認可コードを検証し、ORCID検証済みとしてユーザーを更新する。
// 途中で失敗した場合は何も永続化しない。
func (s *Service) CompleteORCID(ctx context.Context, code, state string) (*Result, error) {
	userID := s.issuer.VerifyState(state)
	if userID == "" {
		s.metrics.RecordVerification(metrics.MethodORCID, metrics.ResultRejected)
		return nil, model.NewInvalidOAuthStateError()
	}
	if code == "" {
		s.metrics.RecordVerification(metrics.MethodORCID, metrics.ResultRejected)
		return nil, model.NewORCIDFailedError()
	}

	// ORCIDへのHTTP呼び出し時間はクライアントのTransport側で1回ずつ記録する
	tok, err := s.orcid.ExchangeCode(ctx, code)
	if err != nil {
		return nil, s.orcidFailure(ctx, userID, err)
	}
	profile, err := s.orcid.FetchProfile(ctx, tok.ORCID, tok.AccessToken)
	if err != nil {
		return nil, s.orcidFailure(ctx, userID, err)
	}

	owner, err := s.users.FindByORCID(ctx, profile.ORCID)
	if err != nil {
		return nil, s.internalFailure(metrics.MethodORCID, fmt.Errorf("failed to look up orcid owner: %w", err))
	}
	if owner != nil && owner.ID != userID {
		s.logger.WarnContext(ctx, "ORCIDは別ユーザーに連携済みです", slog.String("user_id", userID))
		s.metrics.RecordVerification(metrics.MethodORCID, metrics.ResultRejected)
		return nil, model.NewORCIDAlreadyLinkedError()
	}

	result, err := s.apply(ctx, userID, func(u *model.User) (Event, error) {
		if u.ORCID != "" && u.ORCID != profile.ORCID {
			return Event{}, model.NewORCIDAlreadyLinkedError()
		}
		return Event{
			Kind:   EventORCIDVerified,
			Detail: "ORCID: " + profile.ORCID,
			ORCID:  profile.ORCID,
		}, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.metrics.RecordVerification(metrics.MethodORCID, metrics.ResultRejected)
			return nil, model.NewORCIDAlreadyLinkedError()
		}
		return nil, s.classify(metrics.MethodORCID, err)
	}

	s.succeeded(ctx, metrics.MethodORCID, result)
	return result, nil
}

// VerifyDOI はDOIの著者にユーザーが含まれるかを照合し、成功すればDOI検証済みにする。
// nameが空の場合は表示名を使い、ORCID検証済みであればORCID iDでも照合する。
func (s *Service) VerifyDOI(ctx context.Context, userID, doi, name string) (*Result, error) {
	normalized := crossref.NormalizeDOI(doi)
	if !crossref.ValidateDOI(normalized) {
		s.metrics.RecordVerification(metrics.MethodDOI, metrics.ResultRejected)
		return nil, model.NewInvalidDOIError(doi)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, s.internalFailure(metrics.MethodDOI, fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	profile := crossref.AuthorProfile{Name: name}
	if profile.Name == "" {
		profile.Name = user.DisplayName
	}
	if user.IsOrcidVerified {
		profile.ORCID = user.ORCID
	}

	if !s.doi.VerifyAuthor(ctx, normalized, profile) {
		s.logger.InfoContext(ctx, "DOI著者照合に失敗しました",
			slog.String("user_id", userID),
			slog.String("doi", normalized),
		)
		s.metrics.RecordVerification(metrics.MethodDOI, metrics.ResultRejected)
		return nil, model.NewDOIAuthorMismatchError()
	}

	result, err := s.apply(ctx, userID, func(*model.User) (Event, error) {
		return Event{Kind: EventDOIVerified, Detail: "DOI: " + normalized}, nil
	})
	if err != nil {
		return nil, s.classify(metrics.MethodDOI, err)
	}

	s.succeeded(ctx, metrics.MethodDOI, result)
	return result, nil
}

// RequestStudentEmail は学術メールアドレスに検証リンクを送る。
func (s *Service) RequestStudentEmail(ctx context.Context, userID, email string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return s.internalFailure(metrics.MethodStudent, fmt.Errorf("failed to find user: %w", err))
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.email.SendVerificationEmail(ctx, userID, email); err != nil {
		return s.classify(metrics.MethodStudent, err)
	}
	return nil
}

// ConfirmStudentEmail は検証トークンを引き換え、学生検証済みにする。
func (s *Service) ConfirmStudentEmail(ctx context.Context, tok string) (*Result, error) {
	redemption, err := s.email.RedeemToken(ctx, tok)
	if err != nil {
		return nil, s.internalFailure(metrics.MethodStudent, err)
	}
	if redemption == nil {
		s.metrics.RecordVerification(metrics.MethodStudent, metrics.ResultRejected)
		return nil, model.NewInvalidEmailTokenError()
	}

	result, err := s.apply(ctx, redemption.UserID, func(*model.User) (Event, error) {
		return Event{Kind: EventStudentVerified, Detail: "Student email: " + redemption.Email}, nil
	})
	if err != nil {
		return nil, s.classify(metrics.MethodStudent, err)
	}

	s.succeeded(ctx, metrics.MethodStudent, result)
	return result, nil
}

// apply はユーザー行をロックした状態でイベントを適用し、トークンを再発行する。
func (s *Service) apply(ctx context.Context, userID string, build func(*model.User) (Event, error)) (*Result, error) {
	var outcome Outcome
	user, err := s.users.UpdateWithLock(ctx, userID, func(u *model.User) error {
		e, err := build(u)
		if err != nil {
			return err
		}
		outcome, err = Apply(u, e)
		if err != nil {
			return err
		}
		u.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	pair, err := s.issuer.IssuePair(auth.PayloadFor(user))
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}
	return &Result{User: user, Tokens: pair, Changed: outcome.Changed}, nil
}

func (s *Service) succeeded(ctx context.Context, method string, r *Result) {
	s.metrics.RecordVerification(method, metrics.ResultSuccess)
	if r.Changed {
		s.metrics.RecordTrustUpgrade(r.User.TrustLevel)
	}
	s.logger.InfoContext(ctx, "verification succeeded",
		slog.String("user_id", r.User.ID),
		slog.String("method", method),
		slog.String("trust_level", string(r.User.TrustLevel)),
		slog.Bool("changed", r.Changed),
	)
}

// orcidFailure はORCID呼び出しの失敗を利用者向けエラーに変換する。
// ORCIDが4xxを返した場合は認可コード側の問題として検証失敗、それ以外はサービス障害とする。
func (s *Service) orcidFailure(ctx context.Context, userID string, err error) error {
	s.logger.WarnContext(ctx, "ORCID検証に失敗しました",
		slog.String("user_id", userID),
		slog.String("service", "orcid"),
		slog.String("error", err.Error()),
	)
	var ext *model.ExternalServiceError
	if errors.As(err, &ext) && ext.StatusCode >= http.StatusBadRequest && ext.StatusCode < http.StatusInternalServerError {
		s.metrics.RecordVerification(metrics.MethodORCID, metrics.ResultRejected)
		return model.NewORCIDFailedError()
	}
	if errors.Is(err, model.ErrServiceUnavailable) {
		s.metrics.RecordVerification(metrics.MethodORCID, metrics.ResultError)
		return model.NewServiceUnavailableError("ORCID")
	}
	s.metrics.RecordVerification(metrics.MethodORCID, metrics.ResultRejected)
	return model.NewORCIDFailedError()
}

// classify は利用者向けエラーはそのまま返し、それ以外を内部エラーとして記録する。
func (s *Service) classify(method string, err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		result := metrics.ResultRejected
		if apiErr.Category == "system" {
			result = metrics.ResultError
		}
		s.metrics.RecordVerification(method, result)
		return err
	}
	return s.internalFailure(method, err)
}

func (s *Service) internalFailure(method string, err error) error {
	s.metrics.RecordVerification(method, metrics.ResultError)
	return err
}
