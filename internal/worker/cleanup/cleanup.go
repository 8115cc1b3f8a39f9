// Package cleanup は期限切れセッションの自動削除ジョブを提供する。
// 期限切れのセッションを定期的に削除し、そのセッションのワークスペースを閉じる。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredSessionDeleter は期限切れセッションの削除インターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context) ([]string, error)
}

// SessionCloser はセッションに紐づくワークスペースを閉じるインターフェース。
type SessionCloser interface {
	CloseSessions(sessionIDs []string) int
}

// CleanupJob は期限切れセッションの削除ジョブ。
// 冪等な削除処理を保証する。
type CleanupJob struct {
	sessions ExpiredSessionDeleter
	closer   SessionCloser
	logger   *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。closerはnilでもよい。
func NewCleanupJob(sessions ExpiredSessionDeleter, closer SessionCloser, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		closer:   closer,
		logger:   logger,
	}
}

// Start はティッカーで削除ジョブを定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("セッションクリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("セッションクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}

// Run は期限切れのセッションを削除し、対応するワークスペースを閉じる。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	ids, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	closed := 0
	if j.closer != nil && len(ids) > 0 {
		closed = j.closer.CloseSessions(ids)
	}

	duration := time.Since(start)
	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int("deleted_count", len(ids)),
		slog.Int("closed_workspaces", closed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
