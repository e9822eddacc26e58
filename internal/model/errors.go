package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, verification, moderation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeInvalidDOI         = "INVALID_DOI"
	ErrCodeDOIAuthorMismatch  = "DOI_AUTHOR_MISMATCH"
	ErrCodeDomainNotAcademic  = "DOMAIN_NOT_ACADEMIC"
	ErrCodeDeliveryFailed     = "DELIVERY_FAILED"
	ErrCodeInvalidEmailToken  = "INVALID_VERIFICATION_TOKEN"
	ErrCodeORCIDFailed        = "ORCID_VERIFICATION_FAILED"
	ErrCodeORCIDAlreadyLinked = "ORCID_ALREADY_LINKED"
	ErrCodeInvalidOAuthState  = "INVALID_OAUTH_STATE"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidToken       = "INVALID_TOKEN"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeUsernameTaken      = "USERNAME_TAKEN"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeCommentNotFound    = "COMMENT_NOT_FOUND"
	ErrCodeForbidden          = "FORBIDDEN"
)

// ErrServiceUnavailable は外部サービス（ORCID, CrossRef, SMTP）が利用できないことを示す。
// ExternalServiceErrorはerrors.Isでこの値と一致する。
var ErrServiceUnavailable = errors.New("external service unavailable")

// ExternalServiceError は外部サービス呼び出しの失敗を表す。
// ネットワークエラー、タイムアウト、2xx以外のレスポンスをすべてこの型に正規化する。
type ExternalServiceError struct {
	Service    string // "orcid", "crossref", "smtp", "mailjet"
	Op         string
	StatusCode int // HTTPレスポンスを受け取れなかった場合は0
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *ExternalServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Service, e.Op, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Service, e.Op)
}

// Unwrap は元のエラーを返す。
func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Is はErrServiceUnavailableとの比較を可能にする。
func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrServiceUnavailable
}

// NewExternalServiceError はExternalServiceErrorを生成する。
func NewExternalServiceError(service, op string, statusCode int, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Op: op, StatusCode: statusCode, Err: err}
}

// IsExternalServiceError はerrがExternalServiceErrorを含むかどうかを返す。
func IsExternalServiceError(err error) bool {
	var ext *ExternalServiceError
	return errors.As(err, &ext)
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidDOIError はDOI形式エラーを生成する。
func NewInvalidDOIError(doi string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDOI,
		Message:  fmt.Sprintf("DOIの形式が正しくありません: %s", doi),
		Category: "validation",
		Action:   "10.xxxx/xxxxx 形式のDOIを入力してください。",
	}
}

// NewDOIAuthorMismatchError はDOI著者照合失敗エラーを生成する。
func NewDOIAuthorMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeDOIAuthorMismatch,
		Message:  "氏名またはORCIDが論文の著者と一致しませんでした。",
		Category: "verification",
		Action:   "論文に記載された氏名を入力するか、先にORCIDを連携してください。",
	}
}

// NewDomainNotAcademicError は学術機関以外のメールアドレスが指定された場合のエラーを生成する。
func NewDomainNotAcademicError() *APIError {
	return &APIError{
		Code:     ErrCodeDomainNotAcademic,
		Message:  "学術機関のメールアドレスではありません。",
		Category: "validation",
		Action:   "大学・研究機関のメールアドレス（.ac.kr, .edu など）を入力してください。",
	}
}

// NewDeliveryFailedError は検証メールの送信失敗エラーを生成する。
func NewDeliveryFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeDeliveryFailed,
		Message:  "検証メールを送信できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度検証をリクエストしてください。",
	}
}

// NewInvalidEmailTokenError は無効または期限切れの検証トークンのエラーを生成する。
// 無効と期限切れは区別しない。
func NewInvalidEmailTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmailToken,
		Message:  "検証リンクが無効か、有効期限が切れています。",
		Category: "verification",
		Action:   "もう一度メール検証をリクエストしてください。",
	}
}

// NewORCIDFailedError はORCID連携失敗エラーを生成する。
func NewORCIDFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeORCIDFailed,
		Message:  "ORCIDによる本人確認に失敗しました。",
		Category: "verification",
		Action:   "もう一度ORCID連携をやり直してください。",
	}
}

// NewORCIDAlreadyLinkedError はORCIDが別ユーザーに連携済みの場合のエラーを生成する。
func NewORCIDAlreadyLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeORCIDAlreadyLinked,
		Message:  "このORCIDは既に別のアカウントに連携されています。",
		Category: "verification",
		Action:   "ご自身のORCIDアカウントでログインしているか確認してください。",
	}
}

// NewInvalidOAuthStateError はOAuthのstate検証失敗エラーを生成する。
func NewInvalidOAuthStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOAuthState,
		Message:  "認証リクエストが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "もう一度ORCID連携を開始してください。",
	}
}

// NewServiceUnavailableError は外部サービス障害時のエラーを生成する。
func NewServiceUnavailableError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeServiceUnavailable,
		Message:  fmt.Sprintf("外部サービスに接続できませんでした: %s", service),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnauthorizedError は認証情報が無い場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidTokenError は認証トークンが無効または期限切れの場合のエラーを生成する。
func NewInvalidTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidToken,
		Message:  "認証トークンが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "トークンを更新するか、ログインし直してください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認してください。",
	}
}

// NewUsernameTakenError はユーザー名重複エラーを生成する。
func NewUsernameTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeUsernameTaken,
		Message:  "このユーザー名は既に使用されています。",
		Category: "validation",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewCommentNotFoundError はコメントが見つからない場合のエラーを生成する。
func NewCommentNotFoundError(commentID string) *APIError {
	return &APIError{
		Code:     ErrCodeCommentNotFound,
		Message:  fmt.Sprintf("指定されたコメントが見つかりません: %s", commentID),
		Category: "moderation",
		Action:   "コメントIDを確認してください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "moderation",
		Action:   "信頼レベルの高いアカウントで操作してください。",
	}
}
