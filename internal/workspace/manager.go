// Package workspace はログイン中のセッションごとの同期エンジンを管理する。
//
// ワークスペースはログイン時に作成され、ログアウトまたはセッション期限切れで破棄される。
// 変更通知は所有者IDで配送され、同じユーザーの全ワークスペースに適用される。
package workspace

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/weekplanner/internal/goal"
	"github.com/hitoshi/weekplanner/internal/metrics"
	"github.com/hitoshi/weekplanner/internal/model"
	"github.com/hitoshi/weekplanner/internal/repository"
	"github.com/hitoshi/weekplanner/internal/security"
	"github.com/hitoshi/weekplanner/internal/syncengine"
)

// SessionFinder はセッションの検索に必要なインターフェース。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// Workspace は1セッション分のキャッシュと目標操作。
type Workspace struct {
	SessionID string
	OwnerID   string
	Engine    *syncengine.Engine
	Goals     *goal.Service
}

// Deps はワークスペースの生成に必要な依存。Metricsはnilでもよい。
type Deps struct {
	Goals     repository.GoalRepository
	Sessions  SessionFinder
	Sanitizer security.TextSanitizer
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
}

// Manager はセッションIDをキーにワークスペースを保持する。
type Manager struct {
	deps Deps

	mu        sync.RWMutex
	bySession map[string]*Workspace
}

// NewManager は空のManagerを生成する。
func NewManager(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Manager{
		deps:      deps,
		bySession: make(map[string]*Workspace),
	}
}

// Open はセッションのワークスペースを作成する。既に開いていればそれを返す。
func (m *Manager) Open(session *model.Session) *Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ws, ok := m.bySession[session.ID]; ok {
		return ws
	}

	ws := m.newWorkspace(session)
	m.bySession[session.ID] = ws
	m.reportLocked()

	m.deps.Logger.Info("ワークスペースを開きました",
		slog.String("session_id", session.ID),
		slog.String("owner_id", session.UserID),
	)
	return ws
}

// Get はセッションのワークスペースを返す。
// サーバー再起動後などで開いていない場合は、セッションが有効であれば作り直す。
// セッションが無効ならAuthカテゴリのエラーを返す。
func (m *Manager) Get(ctx context.Context, sessionID string) (*Workspace, error) {
	m.mu.RLock()
	ws, ok := m.bySession[sessionID]
	m.mu.RUnlock()
	if ok {
		return ws, nil
	}

	if sessionID == "" || m.deps.Sessions == nil {
		return nil, model.NewUnauthorizedError()
	}
	session, err := m.deps.Sessions.FindByID(ctx, sessionID)
	if err != nil {
		m.deps.Logger.Error("セッションの検索に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUnauthorizedError()
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}
	return m.Open(session), nil
}

// Close はワークスペースを破棄する。キャッシュは空になり、購読は全て閉じられる。
func (m *Manager) Close(sessionID string) bool {
	m.mu.Lock()
	ws, ok := m.bySession[sessionID]
	if ok {
		delete(m.bySession, sessionID)
		m.reportLocked()
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	ws.Engine.Reset()
	m.deps.Logger.Info("ワークスペースを閉じました",
		slog.String("session_id", sessionID),
		slog.String("owner_id", ws.OwnerID),
	)
	return true
}

// CloseSessions は指定されたセッションのワークスペースを破棄し、破棄した数を返す。
// 期限切れセッションの掃除に使う。
func (m *Manager) CloseSessions(sessionIDs []string) int {
	closed := 0
	for _, id := range sessionIDs {
		if m.Close(id) {
			closed++
		}
	}
	return closed
}

// CloseOwner はユーザーの全ワークスペースを破棄する。
func (m *Manager) CloseOwner(ownerID string) int {
	return m.CloseSessions(m.sessionsOf(ownerID))
}

// CloseAll は全ワークスペースを破棄する。シャットダウン時に購読を終わらせるために使う。
func (m *Manager) CloseAll() int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.bySession))
	for id := range m.bySession {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	return m.CloseSessions(ids)
}

// Route は変更通知を所有者の全ワークスペースに適用し、配送先の数を返す。
func (m *Manager) Route(ev model.ChangeEvent) int {
	targets := m.workspacesOf(ev.Record.OwnerID)
	for _, ws := range targets {
		ws.Engine.ApplyChange(ev)
	}
	return len(targets)
}

// HasOwner は所有者のワークスペースが1つ以上開いているかを返す。
func (m *Manager) HasOwner(ownerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ws := range m.bySession {
		if ws.OwnerID == ownerID {
			return true
		}
	}
	return false
}

// ResyncAll は全ワークスペースの読み込み済みバケットを再取得する。
// 変更通知の接続が回復したときに、切断中に取りこぼした変更を補う。
func (m *Manager) ResyncAll(ctx context.Context) {
	m.mu.RLock()
	all := make([]*Workspace, 0, len(m.bySession))
	for _, ws := range m.bySession {
		all = append(all, ws)
	}
	m.mu.RUnlock()

	m.deps.Logger.Info("全ワークスペースを再同期します", slog.Int("workspaces", len(all)))
	for _, ws := range all {
		if ctx.Err() != nil {
			return
		}
		ws.Goals.Resync(ctx)
	}
}

// Len は開いているワークスペースの数を返す。
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySession)
}

func (m *Manager) newWorkspace(session *model.Session) *Workspace {
	logger := m.deps.Logger.With(slog.String("session_id", session.ID))

	engineOpts := []syncengine.Option{syncengine.WithLogger(logger)}
	var goalRecorder goal.Recorder
	if m.deps.Metrics != nil {
		engineOpts = append(engineOpts, syncengine.WithRecorder(m.deps.Metrics))
		goalRecorder = m.deps.Metrics
	}
	engine := syncengine.New(engineOpts...)

	return &Workspace{
		SessionID: session.ID,
		OwnerID:   session.UserID,
		Engine:    engine,
		Goals:     goal.NewService(m.deps.Goals, engine, session.UserID, m.deps.Sanitizer, goalRecorder, logger),
	}
}

func (m *Manager) workspacesOf(ownerID string) []*Workspace {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Workspace
	for _, ws := range m.bySession {
		if ws.OwnerID == ownerID {
			out = append(out, ws)
		}
	}
	return out
}

func (m *Manager) sessionsOf(ownerID string) []string {
	var ids []string
	for _, ws := range m.workspacesOf(ownerID) {
		ids = append(ids, ws.SessionID)
	}
	return ids
}

func (m *Manager) reportLocked() {
	if m.deps.Metrics != nil {
		m.deps.Metrics.SetOpenWorkspaces(len(m.bySession))
	}
}
