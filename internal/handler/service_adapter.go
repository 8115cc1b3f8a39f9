package handler

import (
	"context"

	"github.com/hitoshi/weekplanner/internal/model"
	"github.com/hitoshi/weekplanner/internal/user"
	"github.com/hitoshi/weekplanner/internal/workspace"
)

// WorkspaceAdapter は workspace.Manager をハンドラーのインターフェースに適合させるアダプタ。
// ログイン・ログアウトでの開閉と、セッションごとの目標サービス・イベントソースの解決を担う。
type WorkspaceAdapter struct {
	manager *workspace.Manager
}

// NewWorkspaceAdapter はWorkspaceAdapterを生成する。
func NewWorkspaceAdapter(manager *workspace.Manager) *WorkspaceAdapter {
	return &WorkspaceAdapter{manager: manager}
}

// Open はセッションのワークスペースを開く。
func (a *WorkspaceAdapter) Open(session *model.Session) {
	a.manager.Open(session)
}

// Close はセッションのワークスペースを閉じる。
func (a *WorkspaceAdapter) Close(sessionID string) bool {
	return a.manager.Close(sessionID)
}

// Goals はセッションのワークスペースの目標サービスを返す。
// サーバー再起動後などで未オープンの場合はセッションを検証して開き直す。
func (a *WorkspaceAdapter) Goals(ctx context.Context, sessionID string) (GoalServiceInterface, error) {
	ws, err := a.manager.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return ws.Goals, nil
}

// Events はセッションのワークスペースのキャッシュイベントソースを返す。
func (a *WorkspaceAdapter) Events(ctx context.Context, sessionID string) (EventSource, error) {
	ws, err := a.manager.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return ws.Engine, nil
}

// UserServiceAdapter は user.Service を UserServiceInterface に適合させるアダプタ。
type UserServiceAdapter struct {
	svc *user.Service
}

// NewUserServiceAdapter はUserServiceAdapterを生成する。
func NewUserServiceAdapter(svc *user.Service) *UserServiceAdapter {
	return &UserServiceAdapter{svc: svc}
}

// Withdraw はユーザーの退会処理を実行する。
func (a *UserServiceAdapter) Withdraw(ctx context.Context, userID string) error {
	return a.svc.Withdraw(ctx, userID)
}

// --- compile-time interface checks ---

var _ WorkspaceLifecycle = (*WorkspaceAdapter)(nil)
var _ GoalServiceResolver = (*WorkspaceAdapter)(nil)
var _ EventSourceResolver = (*WorkspaceAdapter)(nil)
var _ UserServiceInterface = (*UserServiceAdapter)(nil)
