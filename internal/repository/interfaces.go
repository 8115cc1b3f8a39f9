// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/weekplanner/internal/model"
)

// GoalRepository は週目標・日目標の永続化インターフェース。
// 全ての操作は所有者IDで絞り込まれ、他ユーザーのレコードには触れない。
type GoalRepository interface {
	// List はスコープキーに属する目標をID昇順で返す。該当がなければ空スライスを返す。
	List(ctx context.Context, kind model.Kind, scopeKey, ownerID string) ([]model.Goal, error)

	// FindByID は指定IDの目標を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, kind model.Kind, id int64, ownerID string) (*model.Goal, error)

	// Create は目標を作成し、採番されたIDとタイムスタンプをgoalに設定する。
	Create(ctx context.Context, goal *model.Goal) error

	// Update は部分更新を適用し、更新後のレコードを返す。
	// 対象が存在しない場合はNotFoundカテゴリのエラーを返す。
	Update(ctx context.Context, kind model.Kind, id int64, ownerID string, upd model.GoalUpdate) (*model.Goal, error)

	// Delete は目標を削除する。存在しないIDの削除も成功として扱う。
	Delete(ctx context.Context, kind model.Kind, id int64, ownerID string) error
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// DeleteByID はユーザーを削除する。関連する目標・セッション・通知先も削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除したIDを返す。
	DeleteExpired(ctx context.Context) ([]string, error)
}

// PushSubscriptionRepository はプッシュ通知の配信先の永続化インターフェース。
type PushSubscriptionRepository interface {
	// Create は配信先を登録する。同じユーザーが同じエンドポイントを登録済みの場合は
	// 既存のレコードを返す。
	Create(ctx context.Context, sub *model.PushSubscription) error

	// ListAll は全ての配信先を登録順に返す。
	ListAll(ctx context.Context) ([]model.PushSubscription, error)

	// ListByUserID はユーザーの配信先一覧を返す。
	ListByUserID(ctx context.Context, userID string) ([]model.PushSubscription, error)

	// Delete はユーザーの配信先を削除する。見つからない場合はfalseを返す。
	Delete(ctx context.Context, id, userID string) (bool, error)

	// DeleteByID は配信先を削除する。配信不能になったエンドポイントの掃除に使う。
	DeleteByID(ctx context.Context, id string) error
}

// ReminderRunRepository は日次リマインダーの発火記録の永続化インターフェース。
type ReminderRunRepository interface {
	// Claim は日付の発火権を取得する。既に記録済みの場合はfalseを返す。
	Claim(ctx context.Context, day string) (bool, error)
	// Release は送信に失敗した日付の記録を取り消し、再試行できるようにする。
	Release(ctx context.Context, day string) error
}
