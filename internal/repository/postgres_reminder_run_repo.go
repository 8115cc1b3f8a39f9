package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresReminderRunRepo はPostgreSQLを使用したリマインダー発火記録のリポジトリ。
type PostgresReminderRunRepo struct {
	db *sql.DB
}

// NewPostgresReminderRunRepo はPostgresReminderRunRepoを生成する。
func NewPostgresReminderRunRepo(db *sql.DB) *PostgresReminderRunRepo {
	return &PostgresReminderRunRepo{db: db}
}

// Claim は日付の行を挿入し、挿入できた場合にtrueを返す。
// 主キーの衝突で既存の記録を検出するため、複数のワーカーが同時に呼んでも1つだけが成功する。
func (r *PostgresReminderRunRepo) Claim(ctx context.Context, day string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO reminder_runs (day) VALUES ($1) ON CONFLICT (day) DO NOTHING`,
		day,
	)
	if err != nil {
		return false, fmt.Errorf("リマインダーの発火記録に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("リマインダーの発火記録の確認に失敗しました: %w", err)
	}
	return n == 1, nil
}

// Release は日付の記録を削除する。
func (r *PostgresReminderRunRepo) Release(ctx context.Context, day string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM reminder_runs WHERE day = $1`, day); err != nil {
		return fmt.Errorf("リマインダーの発火記録の取り消しに失敗しました: %w", err)
	}
	return nil
}
