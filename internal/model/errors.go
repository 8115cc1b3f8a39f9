// Package model はドメインモデルを定義する。
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
	Category string // カテゴリ: validation, auth, remote, not_found, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー（ログ用、レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// エラーカテゴリ
const (
	// CategoryValidation は入力値の誤り。リモート呼び出し前に拒否される。
	CategoryValidation = "validation"
	// CategoryAuth はセッションがない、または認証情報が不正。
	CategoryAuth = "auth"
	// CategoryRemote はリモートストアへの読み書きの失敗。
	CategoryRemote = "remote"
	// CategoryNotFound はローカルに存在しなくなったIDへの操作。無害な競合として扱う。
	CategoryNotFound = "not_found"
	// CategorySystem はその他の内部エラー。
	CategorySystem = "system"
)

// 定義済みエラーコード
const (
	ErrCodeEmptyTitle          = "EMPTY_TITLE"
	ErrCodeTextTooLong         = "TEXT_TOO_LONG"
	ErrCodeInvalidPriority     = "INVALID_PRIORITY"
	ErrCodeInvalidKind         = "INVALID_KIND"
	ErrCodeInvalidScopeKey     = "INVALID_SCOPE_KEY"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken          = "EMAIL_TAKEN"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeWeakPassword        = "WEAK_PASSWORD"
	ErrCodeInvalidEmail        = "INVALID_EMAIL"
	ErrCodeUserNotFound        = "USER_NOT_FOUND"
	ErrCodeRemoteFailed        = "REMOTE_FAILED"
	ErrCodeGoalNotFound        = "GOAL_NOT_FOUND"
	ErrCodeInvalidPushEndpoint = "INVALID_PUSH_ENDPOINT"
	ErrCodePushNotFound        = "PUSH_SUBSCRIPTION_NOT_FOUND"
)

// categoryOf はエラーチェーンからAPIErrorのカテゴリを取り出す。
func categoryOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return ""
}

// IsValidation は入力値エラーかを返す。
func IsValidation(err error) bool { return categoryOf(err) == CategoryValidation }

// IsAuth は認証エラーかを返す。
func IsAuth(err error) bool { return categoryOf(err) == CategoryAuth }

// IsRemote はリモートストアのエラーかを返す。
func IsRemote(err error) bool { return categoryOf(err) == CategoryRemote }

// IsNotFound は対象が見つからないエラーかを返す。
func IsNotFound(err error) bool { return categoryOf(err) == CategoryNotFound }

// NewEmptyTitleError はタイトル未入力エラーを生成する。
func NewEmptyTitleError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyTitle,
		Message:  "タイトルが入力されていません。",
		Category: CategoryValidation,
		Action:   "目標のタイトルを入力してください。",
	}
}

// NewTextTooLongError は入力文字数の上限超過エラーを生成する。
func NewTextTooLongError(field string, max int) *APIError {
	return &APIError{
		Code:     ErrCodeTextTooLong,
		Message:  fmt.Sprintf("%sが長すぎます。", field),
		Category: CategoryValidation,
		Action:   fmt.Sprintf("%d文字以内で入力してください。", max),
	}
}

// NewInvalidPriorityError は無効な優先度エラーを生成する。
func NewInvalidPriorityError(priority string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPriority,
		Message:  fmt.Sprintf("無効な優先度です: %s", priority),
		Category: CategoryValidation,
		Action:   "優先度には High、Normal、Low のいずれかを指定してください。",
	}
}

// NewInvalidKindError は無効な目標種別エラーを生成する。
func NewInvalidKindError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidKind,
		Message:  fmt.Sprintf("無効な目標種別です: %s", kind),
		Category: CategoryValidation,
		Action:   "種別には week または day を指定してください。",
	}
}

// NewInvalidScopeKeyError は週キー・日キーの形式エラーを生成する。
func NewInvalidScopeKeyError(kind Kind, key string) *APIError {
	action := "週キーは 2025-W46 の形式で指定してください。"
	if kind == KindDay {
		action = "日付は YYYY-MM-DD の形式で指定してください。"
	}
	return &APIError{
		Code:     ErrCodeInvalidScopeKey,
		Message:  fmt.Sprintf("無効なキーです: %s", key),
		Category: CategoryValidation,
		Action:   action,
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: CategoryValidation,
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidCredentialsError はメールアドレスまたはパスワード不正のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: CategoryAuth,
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewEmailTakenError は登録済みメールアドレスでのサインアップエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: CategoryAuth,
		Action:   "ログインするか、別のメールアドレスを使用してください。",
	}
}

// NewWeakPasswordError はパスワードが短すぎる場合のエラーを生成する。
func NewWeakPasswordError(min int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードは%d文字以上で入力してください。", min),
		Category: CategoryValidation,
		Action:   "より長いパスワードを指定してください。",
	}
}

// NewInvalidEmailError はメールアドレスの形式が不正な場合のエラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "メールアドレスの形式が正しくありません。",
		Category: CategoryValidation,
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryNotFound,
		Action:   "再度ログインしてください。",
	}
}

// NewUnauthorizedError はセッションがない場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: CategoryAuth,
		Action:   "ログインしてください。",
	}
}

// NewRemoteError はリモートストアの操作失敗エラーを生成する。
func NewRemoteError(op string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeRemoteFailed,
		Message:  fmt.Sprintf("目標の%sに失敗しました。", op),
		Category: CategoryRemote,
		Action:   "しばらく待ってから再度お試しください。表示は次回の再取得で最新になります。",
		Err:      err,
	}
}

// NewGoalNotFoundError は目標が見つからない場合のエラーを生成する。
func NewGoalNotFoundError(kind Kind, id int64) *APIError {
	return &APIError{
		Code:     ErrCodeGoalNotFound,
		Message:  fmt.Sprintf("指定された目標が見つかりません: %s/%d", kind, id),
		Category: CategoryNotFound,
		Action:   "画面を再読み込みしてください。",
	}
}

// NewInvalidPushEndpointError は無効なプッシュ通知エンドポイントのエラーを生成する。
func NewInvalidPushEndpointError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPushEndpoint,
		Message:  fmt.Sprintf("無効な通知先です: %s", reason),
		Category: CategoryValidation,
		Action:   "https:// で始まる公開された通知先URLを指定してください。",
	}
}

// NewPushSubscriptionNotFoundError は通知先が見つからない場合のエラーを生成する。
func NewPushSubscriptionNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodePushNotFound,
		Message:  fmt.Sprintf("指定された通知先が見つかりません: %s", id),
		Category: CategoryNotFound,
		Action:   "通知先IDを確認してください。",
	}
}
