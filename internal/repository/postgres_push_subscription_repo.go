package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/weekplanner/internal/model"
)

// PostgresPushSubscriptionRepo はPostgreSQLを使用したプッシュ通知配信先リポジトリ。
type PostgresPushSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresPushSubscriptionRepo はPostgresPushSubscriptionRepoを生成する。
func NewPostgresPushSubscriptionRepo(db *sql.DB) *PostgresPushSubscriptionRepo {
	return &PostgresPushSubscriptionRepo{db: db}
}

// Create は配信先を登録する。
// UNIQUE(user_id, endpoint)で衝突した場合は既存レコードのIDと登録日時をsubに設定する。
func (r *PostgresPushSubscriptionRepo) Create(ctx context.Context, sub *model.PushSubscription) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO push_subscriptions (id, user_id, endpoint, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, endpoint) DO UPDATE SET endpoint = EXCLUDED.endpoint
		 RETURNING id, created_at`,
		sub.ID, sub.UserID, sub.Endpoint, sub.CreatedAt,
	).Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("通知先の登録に失敗しました: %w", err)
	}
	return nil
}

// ListAll は全ての配信先を登録順に返す。
func (r *PostgresPushSubscriptionRepo) ListAll(ctx context.Context) ([]model.PushSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, created_at FROM push_subscriptions ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("通知先一覧の取得に失敗しました: %w", err)
	}
	return scanPushSubscriptions(rows)
}

// ListByUserID はユーザーの配信先一覧を返す。
func (r *PostgresPushSubscriptionRepo) ListByUserID(ctx context.Context, userID string) ([]model.PushSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, endpoint, created_at
		 FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("通知先一覧の取得に失敗しました: %w", err)
	}
	return scanPushSubscriptions(rows)
}

func scanPushSubscriptions(rows *sql.Rows) ([]model.PushSubscription, error) {
	defer rows.Close()

	subs := make([]model.PushSubscription, 0)
	for rows.Next() {
		var sub model.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("通知先行の読み取りに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("通知先一覧の走査に失敗しました: %w", err)
	}
	return subs, nil
}

// Delete はユーザーの配信先を削除する。見つからない場合はfalseを返す。
func (r *PostgresPushSubscriptionRepo) Delete(ctx context.Context, id, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("通知先の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	return rowsAffected > 0, nil
}

// DeleteByID は配信先を削除する。存在しない場合もエラーにしない。
func (r *PostgresPushSubscriptionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("通知先の削除に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ PushSubscriptionRepository = (*PostgresPushSubscriptionRepo)(nil)
