package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/weekplanner/internal/middleware"
	"github.com/hitoshi/weekplanner/internal/model"
)

// --- テストヘルパー ---

// withUserID はリクエストコンテキストにユーザーIDを設定する。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withSession はリクエストコンテキストにセッションIDとユーザーIDを設定する。
func withSession(r *http.Request, sessionID, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithSession(r.Context(), sessionID, userID))
}

// withURLParams はchiのURLパラメータを設定する。
func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// --- モック定義 ---

type mockGoalService struct {
	loadScopeFn func(ctx context.Context, kind model.Kind, scopeKey string) ([]model.Goal, error)
	addGoalFn   func(ctx context.Context, kind model.Kind, scopeKey string, in model.GoalInput) (model.Goal, error)
	updateFn    func(ctx context.Context, kind model.Kind, id int64, upd model.GoalUpdate) (model.Goal, error)
	toggleFn    func(ctx context.Context, kind model.Kind, scopeKey string, id int64) (model.Goal, error)
	deleteFn    func(ctx context.Context, kind model.Kind, id int64) error
}

func (m *mockGoalService) LoadScope(ctx context.Context, kind model.Kind, scopeKey string) ([]model.Goal, error) {
	if m.loadScopeFn != nil {
		return m.loadScopeFn(ctx, kind, scopeKey)
	}
	return nil, nil
}

func (m *mockGoalService) AddGoal(ctx context.Context, kind model.Kind, scopeKey string, in model.GoalInput) (model.Goal, error) {
	if m.addGoalFn != nil {
		return m.addGoalFn(ctx, kind, scopeKey, in)
	}
	return model.Goal{}, nil
}

func (m *mockGoalService) UpdateGoal(ctx context.Context, kind model.Kind, id int64, upd model.GoalUpdate) (model.Goal, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, kind, id, upd)
	}
	return model.Goal{}, nil
}

func (m *mockGoalService) ToggleComplete(ctx context.Context, kind model.Kind, scopeKey string, id int64) (model.Goal, error) {
	if m.toggleFn != nil {
		return m.toggleFn(ctx, kind, scopeKey, id)
	}
	return model.Goal{}, nil
}

func (m *mockGoalService) DeleteGoal(ctx context.Context, kind model.Kind, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, kind, id)
	}
	return nil
}

// stubGoalResolver はセッションIDに関係なく同じサービスを返す。
type stubGoalResolver struct {
	svc       GoalServiceInterface
	err       error
	sessionID string
}

func (s *stubGoalResolver) Goals(ctx context.Context, sessionID string) (GoalServiceInterface, error) {
	s.sessionID = sessionID
	if s.err != nil {
		return nil, s.err
	}
	return s.svc, nil
}

func sampleGoal(kind model.Kind, scopeKey string, id int64) model.Goal {
	now := time.Date(2025, 11, 14, 9, 0, 0, 0, time.UTC)
	return model.Goal{
		ID:        id,
		Kind:      kind,
		ScopeKey:  scopeKey,
		OwnerID:   "user-1",
		Title:     "Ship release",
		Priority:  model.PriorityHigh,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- 一覧 ---

func TestGoalHandler_ListWeek_ReturnsGoals(t *testing.T) {
	var gotKind model.Kind
	var gotKey string
	svc := &mockGoalService{
		loadScopeFn: func(ctx context.Context, kind model.Kind, scopeKey string) ([]model.Goal, error) {
			gotKind, gotKey = kind, scopeKey
			return []model.Goal{sampleGoal(kind, scopeKey, 1), sampleGoal(kind, scopeKey, 2)}, nil
		},
	}
	resolver := &stubGoalResolver{svc: svc}
	h := NewGoalHandler(resolver)

	req := httptest.NewRequest(http.MethodGet, "/api/weeks/2025-W46/goals", nil)
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"weekKey": "2025-W46"})
	w := httptest.NewRecorder()

	h.ListWeek(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotKind != model.KindWeek || gotKey != "2025-W46" {
		t.Errorf("LoadScope(%q, %q)", gotKind, gotKey)
	}
	if resolver.sessionID != "sess-1" {
		t.Errorf("resolved session = %q, want %q", resolver.sessionID, "sess-1")
	}

	var got goalListResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got.Kind != "week" || got.ScopeKey != "2025-W46" {
		t.Errorf("kind/scope = %q/%q", got.Kind, got.ScopeKey)
	}
	if len(got.Goals) != 2 {
		t.Fatalf("len(goals) = %d, want 2", len(got.Goals))
	}
	if got.Goals[0].Priority != "High" {
		t.Errorf("priority = %q, want %q", got.Goals[0].Priority, "High")
	}
}

func TestGoalHandler_ListDay_EmptyScope_ReturnsEmptyArray(t *testing.T) {
	h := NewGoalHandler(&stubGoalResolver{svc: &mockGoalService{}})

	req := httptest.NewRequest(http.MethodGet, "/api/days/2025-11-14/goals", nil)
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"dayKey": "2025-11-14"})
	w := httptest.NewRecorder()

	h.ListDay(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	// nilではなく空配列で返す
	if !strings.Contains(w.Body.String(), `"goals":[]`) {
		t.Errorf("body = %s, want empty goals array", w.Body.String())
	}
}

func TestGoalHandler_ListDay_InvalidScopeKey_Returns400(t *testing.T) {
	svc := &mockGoalService{
		loadScopeFn: func(ctx context.Context, kind model.Kind, scopeKey string) ([]model.Goal, error) {
			return nil, model.NewInvalidScopeKeyError(kind, scopeKey)
		},
	}
	h := NewGoalHandler(&stubGoalResolver{svc: svc})

	req := httptest.NewRequest(http.MethodGet, "/api/days/2025-13-40/goals", nil)
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"dayKey": "2025-13-40"})
	w := httptest.NewRecorder()

	h.ListDay(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGoalHandler_List_RemoteError_Returns502(t *testing.T) {
	svc := &mockGoalService{
		loadScopeFn: func(ctx context.Context, kind model.Kind, scopeKey string) ([]model.Goal, error) {
			return nil, model.NewRemoteError("読み込み", errors.New("connection refused"))
		},
	}
	h := NewGoalHandler(&stubGoalResolver{svc: svc})

	req := httptest.NewRequest(http.MethodGet, "/api/weeks/2025-W46/goals", nil)
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"weekKey": "2025-W46"})
	w := httptest.NewRecorder()

	h.ListWeek(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	// 原因のエラー文字列はレスポンスに含めない
	if strings.Contains(w.Body.String(), "connection refused") {
		t.Errorf("response leaks cause: %s", w.Body.String())
	}
}

func TestGoalHandler_List_NoSession_Returns401(t *testing.T) {
	h := NewGoalHandler(&stubGoalResolver{svc: &mockGoalService{}})

	req := httptest.NewRequest(http.MethodGet, "/api/weeks/2025-W46/goals", nil)
	req = withURLParams(req, map[string]string{"weekKey": "2025-W46"})
	w := httptest.NewRecorder()

	h.ListWeek(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestGoalHandler_List_WorkspaceUnavailable_Returns401(t *testing.T) {
	h := NewGoalHandler(&stubGoalResolver{err: model.NewUnauthorizedError()})

	req := httptest.NewRequest(http.MethodGet, "/api/weeks/2025-W46/goals", nil)
	req = withSession(req, "stale", "user-1")
	req = withURLParams(req, map[string]string{"weekKey": "2025-W46"})
	w := httptest.NewRecorder()

	h.ListWeek(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- 追加 ---

func TestGoalHandler_CreateDay_Returns201(t *testing.T) {
	var gotIn model.GoalInput
	svc := &mockGoalService{
		addGoalFn: func(ctx context.Context, kind model.Kind, scopeKey string, in model.GoalInput) (model.Goal, error) {
			gotIn = in
			g := sampleGoal(kind, scopeKey, 42)
			g.Title = in.Title
			g.Priority = in.Priority
			return g, nil
		},
	}
	h := NewGoalHandler(&stubGoalResolver{svc: svc})

	body := `{"title":"Write report","description":"Q4","priority":"Low"}`
	req := httptest.NewRequest(http.MethodPost, "/api/days/2025-11-14/goals", strings.NewReader(body))
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"dayKey": "2025-11-14"})
	w := httptest.NewRecorder()

	h.CreateDay(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if gotIn.Title != "Write report" || gotIn.Description != "Q4" || gotIn.Priority != model.PriorityLow {
		t.Errorf("input = %+v", gotIn)
	}

	var got goalResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got.ID != 42 || got.Kind != "day" || got.ScopeKey != "2025-11-14" {
		t.Errorf("goal = %+v", got)
	}
}

func TestGoalHandler_CreateWeek_EmptyTitle_Returns400(t *testing.T) {
	svc := &mockGoalService{
		addGoalFn: func(ctx context.Context, kind model.Kind, scopeKey string, in model.GoalInput) (model.Goal, error) {
			return model.Goal{}, model.NewEmptyTitleError()
		},
	}
	h := NewGoalHandler(&stubGoalResolver{svc: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/weeks/2025-W46/goals", strings.NewReader(`{"title":"   "}`))
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"weekKey": "2025-W46"})
	w := httptest.NewRecorder()

	h.CreateWeek(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != model.ErrCodeEmptyTitle {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeEmptyTitle)
	}
}

func TestGoalHandler_CreateWeek_OversizedBody_Returns400(t *testing.T) {
	called := false
	svc := &mockGoalService{
		addGoalFn: func(ctx context.Context, kind model.Kind, scopeKey string, in model.GoalInput) (model.Goal, error) {
			called = true
			return model.Goal{}, nil
		},
	}
	h := NewGoalHandler(&stubGoalResolver{svc: svc})

	body := `{"title":"` + strings.Repeat("x", maxRequestBody) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/weeks/2025-W46/goals", strings.NewReader(body))
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"weekKey": "2025-W46"})
	w := httptest.NewRecorder()

	h.CreateWeek(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if called {
		t.Error("AddGoal should not be called for an oversized body")
	}
}

// --- 更新 ---

func TestGoalHandler_Update_PartialFields(t *testing.T) {
	var gotUpd model.GoalUpdate
	var gotID int64
	svc := &mockGoalService{
		updateFn: func(ctx context.Context, kind model.Kind, id int64, upd model.GoalUpdate) (model.Goal, error) {
			gotID, gotUpd = id, upd
			g := sampleGoal(kind, "2025-11-14", id)
			g.Priority = *upd.Priority
			return g, nil
		},
	}
	h := NewGoalHandler(&stubGoalResolver{svc: svc})

	req := httptest.NewRequest(http.MethodPatch, "/api/goals/day/7", strings.NewReader(`{"priority":"Normal"}`))
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"kind": "day", "id": "7"})
	w := httptest.NewRecorder()

	h.Update(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotID != 7 {
		t.Errorf("id = %d, want 7", gotID)
	}
	// 省略したフィールドはnilのまま
	if gotUpd.Title != nil || gotUpd.Description != nil || gotUpd.Completed != nil {
		t.Errorf("unexpected fields set: %+v", gotUpd)
	}
	if gotUpd.Priority == nil || *gotUpd.Priority != model.PriorityNormal {
		t.Errorf("priority = %v, want Normal", gotUpd.Priority)
	}
}

func TestGoalHandler_Update_InvalidKind_Returns400(t *testing.T) {
	h := NewGoalHandler(&stubGoalResolver{svc: &mockGoalService{}})

	req := httptest.NewRequest(http.MethodPatch, "/api/goals/month/7", strings.NewReader(`{"title":"x"}`))
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"kind": "month", "id": "7"})
	w := httptest.NewRecorder()

	h.Update(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGoalHandler_Update_InvalidID_Returns404(t *testing.T) {
	tests := []string{"abc", "0", "-3"}
	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			h := NewGoalHandler(&stubGoalResolver{svc: &mockGoalService{}})

			req := httptest.NewRequest(http.MethodPatch, "/api/goals/week/"+id, strings.NewReader(`{"title":"x"}`))
			req = withSession(req, "sess-1", "user-1")
			req = withURLParams(req, map[string]string{"kind": "week", "id": id})
			w := httptest.NewRecorder()

			h.Update(w, req)

			if w.Code != http.StatusNotFound {
				t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
			}
		})
	}
}

func TestGoalHandler_Update_NotFound_Returns404(t *testing.T) {
	svc := &mockGoalService{
		updateFn: func(ctx context.Context, kind model.Kind, id int64, upd model.GoalUpdate) (model.Goal, error) {
			return model.Goal{}, model.NewGoalNotFoundError(kind, id)
		},
	}
	h := NewGoalHandler(&stubGoalResolver{svc: svc})

	req := httptest.NewRequest(http.MethodPatch, "/api/goals/week/99", strings.NewReader(`{"completed":true}`))
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"kind": "week", "id": "99"})
	w := httptest.NewRecorder()

	h.Update(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// --- 完了切り替え ---

func TestGoalHandler_Toggle_PassesScope(t *testing.T) {
	var gotScope string
	svc := &mockGoalService{
		toggleFn: func(ctx context.Context, kind model.Kind, scopeKey string, id int64) (model.Goal, error) {
			gotScope = scopeKey
			g := sampleGoal(kind, scopeKey, id)
			g.Completed = true
			return g, nil
		},
	}
	h := NewGoalHandler(&stubGoalResolver{svc: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/goals/day/5/toggle?scope=2025-11-14", nil)
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"kind": "day", "id": "5"})
	w := httptest.NewRecorder()

	h.Toggle(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotScope != "2025-11-14" {
		t.Errorf("scope = %q, want %q", gotScope, "2025-11-14")
	}

	var got goalResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !got.Completed {
		t.Error("expected completed = true")
	}
}

func TestGoalHandler_Toggle_MissingGoal_Returns204(t *testing.T) {
	svc := &mockGoalService{
		toggleFn: func(ctx context.Context, kind model.Kind, scopeKey string, id int64) (model.Goal, error) {
			return model.Goal{}, model.NewGoalNotFoundError(kind, id)
		},
	}
	h := NewGoalHandler(&stubGoalResolver{svc: svc})

	req := httptest.NewRequest(http.MethodPost, "/api/goals/day/5/toggle?scope=2025-11-14", nil)
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"kind": "day", "id": "5"})
	w := httptest.NewRecorder()

	h.Toggle(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

// --- 削除 ---

func TestGoalHandler_Delete_Returns204(t *testing.T) {
	var gotKind model.Kind
	var gotID int64
	svc := &mockGoalService{
		deleteFn: func(ctx context.Context, kind model.Kind, id int64) error {
			gotKind, gotID = kind, id
			return nil
		},
	}
	h := NewGoalHandler(&stubGoalResolver{svc: svc})

	req := httptest.NewRequest(http.MethodDelete, "/api/goals/week/3", nil)
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"kind": "week", "id": "3"})
	w := httptest.NewRecorder()

	h.Delete(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotKind != model.KindWeek || gotID != 3 {
		t.Errorf("DeleteGoal(%q, %d)", gotKind, gotID)
	}
}

func TestGoalHandler_Delete_RemoteFailure_Returns502(t *testing.T) {
	svc := &mockGoalService{
		deleteFn: func(ctx context.Context, kind model.Kind, id int64) error {
			return model.NewRemoteError("削除", errors.New("timeout"))
		},
	}
	h := NewGoalHandler(&stubGoalResolver{svc: svc})

	req := httptest.NewRequest(http.MethodDelete, "/api/goals/week/3", nil)
	req = withSession(req, "sess-1", "user-1")
	req = withURLParams(req, map[string]string{"kind": "week", "id": "3"})
	w := httptest.NewRecorder()

	h.Delete(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
}
