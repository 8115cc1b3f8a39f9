// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/weekplanner/internal/model"
	"github.com/hitoshi/weekplanner/internal/repository"
)

// WorkspaceCloser はユーザーの全ワークスペースを閉じるインターフェース。
type WorkspaceCloser interface {
	CloseOwner(ownerID string) int
}

// Service はユーザー管理のサービス層。
// 退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	workspaces  WorkspaceCloser
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	workspaces WorkspaceCloser,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		workspaces:  workspaces,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → ワークスペース → user（+ CASCADE: week_goals, day_goals, push_subscriptions）
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	// ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 2. 開いているワークスペースを閉じる（目標の削除通知を受け取らないように先に閉じる）
	closed := 0
	if s.workspaces != nil {
		closed = s.workspaces.CloseOwner(userID)
	}

	// 3. ユーザーを削除（目標・通知先はCASCADE削除）
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
		slog.Int("closed_workspaces", closed),
	)

	return nil
}
