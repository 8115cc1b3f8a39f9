package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/weekplanner/internal/middleware"
	"github.com/hitoshi/weekplanner/internal/model"
)

// GoalServiceInterface は目標ハンドラーが必要とするサービスインターフェース。
// goal.Serviceが満たす。
type GoalServiceInterface interface {
	LoadScope(ctx context.Context, kind model.Kind, scopeKey string) ([]model.Goal, error)
	AddGoal(ctx context.Context, kind model.Kind, scopeKey string, in model.GoalInput) (model.Goal, error)
	UpdateGoal(ctx context.Context, kind model.Kind, id int64, upd model.GoalUpdate) (model.Goal, error)
	ToggleComplete(ctx context.Context, kind model.Kind, scopeKey string, id int64) (model.Goal, error)
	DeleteGoal(ctx context.Context, kind model.Kind, id int64) error
}

// GoalServiceResolver はセッションのワークスペースに紐づく目標サービスを返す。
type GoalServiceResolver interface {
	Goals(ctx context.Context, sessionID string) (GoalServiceInterface, error)
}

// GoalHandler は週目標・日目標のHTTPハンドラー。
type GoalHandler struct {
	resolver GoalServiceResolver
}

// NewGoalHandler はGoalHandlerを生成する。
func NewGoalHandler(resolver GoalServiceResolver) *GoalHandler {
	return &GoalHandler{resolver: resolver}
}

// goalResponse は目標のAPIレスポンス。
type goalResponse struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	ScopeKey    string    `json:"scope_key"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    string    `json:"priority"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// goalListResponse は目標一覧のAPIレスポンス。
type goalListResponse struct {
	Kind     string         `json:"kind"`
	ScopeKey string         `json:"scope_key"`
	Goals    []goalResponse `json:"goals"`
}

// createGoalRequest は目標追加のリクエストボディ。
type createGoalRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Completed   bool   `json:"completed"`
}

// updateGoalRequest は目標の部分更新のリクエストボディ。省略したフィールドは変更しない。
type updateGoalRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	Completed   *bool   `json:"completed"`
}

// ListWeek は週目標の一覧を返す。
// GET /api/weeks/{weekKey}/goals
func (h *GoalHandler) ListWeek(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.KindWeek, chi.URLParam(r, "weekKey"))
}

// ListDay は日目標の一覧を返す。
// GET /api/days/{dayKey}/goals
func (h *GoalHandler) ListDay(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, model.KindDay, chi.URLParam(r, "dayKey"))
}

// CreateWeek は週目標を追加する。
// POST /api/weeks/{weekKey}/goals
func (h *GoalHandler) CreateWeek(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, model.KindWeek, chi.URLParam(r, "weekKey"))
}

// CreateDay は日目標を追加する。
// POST /api/days/{dayKey}/goals
func (h *GoalHandler) CreateDay(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, model.KindDay, chi.URLParam(r, "dayKey"))
}

// Update は目標を部分更新する。
// PATCH /api/goals/{kind}/{id}
func (h *GoalHandler) Update(w http.ResponseWriter, r *http.Request) {
	svc, kind, id, ok := h.target(w, r)
	if !ok {
		return
	}

	var req updateGoalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	upd := model.GoalUpdate{
		Title:       req.Title,
		Description: req.Description,
		Completed:   req.Completed,
	}
	if req.Priority != nil {
		p := model.Priority(*req.Priority)
		upd.Priority = &p
	}

	updated, err := svc.UpdateGoal(r.Context(), kind, id, upd)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalResponse(updated))
}

// Toggle は目標の完了状態を切り替える。
// 対象が見つからない場合は何もせず204を返す。
// POST /api/goals/{kind}/{id}/toggle?scope=...
func (h *GoalHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	svc, kind, id, ok := h.target(w, r)
	if !ok {
		return
	}

	toggled, err := svc.ToggleComplete(r.Context(), kind, r.URL.Query().Get("scope"), id)
	if model.IsNotFound(err) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toGoalResponse(toggled))
}

// Delete は目標を削除する。
// DELETE /api/goals/{kind}/{id}
func (h *GoalHandler) Delete(w http.ResponseWriter, r *http.Request) {
	svc, kind, id, ok := h.target(w, r)
	if !ok {
		return
	}

	if err := svc.DeleteGoal(r.Context(), kind, id); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GoalHandler) list(w http.ResponseWriter, r *http.Request, kind model.Kind, scopeKey string) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	goals, err := svc.LoadScope(r.Context(), kind, scopeKey)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := goalListResponse{
		Kind:     string(kind),
		ScopeKey: scopeKey,
		Goals:    make([]goalResponse, 0, len(goals)),
	}
	for _, g := range goals {
		resp.Goals = append(resp.Goals, toGoalResponse(g))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *GoalHandler) create(w http.ResponseWriter, r *http.Request, kind model.Kind, scopeKey string) {
	svc, ok := h.service(w, r)
	if !ok {
		return
	}

	var req createGoalRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := svc.AddGoal(r.Context(), kind, scopeKey, model.GoalInput{
		Title:       req.Title,
		Description: req.Description,
		Priority:    model.Priority(req.Priority),
		Completed:   req.Completed,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGoalResponse(created))
}

// service はリクエストのセッションに紐づく目標サービスを返す。
func (h *GoalHandler) service(w http.ResponseWriter, r *http.Request) (GoalServiceInterface, bool) {
	sessionID, ok := requireSessionID(w, r)
	if !ok {
		return nil, false
	}
	svc, err := h.resolver.Goals(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, err)
		return nil, false
	}
	return svc, true
}

// target はURLの種別とIDを解析し、目標サービスとあわせて返す。
func (h *GoalHandler) target(w http.ResponseWriter, r *http.Request) (GoalServiceInterface, model.Kind, int64, bool) {
	kind, err := model.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		handleServiceError(w, err)
		return nil, "", 0, false
	}

	rawID := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		slog.Warn("invalid goal id", slog.String("id", rawID))
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewGoalNotFoundError(kind, id))
		return nil, "", 0, false
	}

	svc, ok := h.service(w, r)
	if !ok {
		return nil, "", 0, false
	}
	return svc, kind, id, true
}

func toGoalResponse(g model.Goal) goalResponse {
	return goalResponse{
		ID:          g.ID,
		Kind:        string(g.Kind),
		ScopeKey:    g.ScopeKey,
		Title:       g.Title,
		Description: g.Description,
		Priority:    string(g.Priority),
		Completed:   g.Completed,
		CreatedAt:   g.CreatedAt,
		UpdatedAt:   g.UpdatedAt,
	}
}
