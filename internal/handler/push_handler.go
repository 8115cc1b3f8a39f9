package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/weekplanner/internal/model"
	"github.com/hitoshi/weekplanner/internal/notify"
)

// PushServiceInterface はプッシュ通知の配信先管理に必要なサービスインターフェース。
// notify.Registryが満たす。
type PushServiceInterface interface {
	Register(ctx context.Context, userID, endpoint string) (*model.PushSubscription, error)
	List(ctx context.Context, userID string) ([]model.PushSubscription, error)
	Unregister(ctx context.Context, userID, id string) error
}

// TestNotifier は登録済みの配信先にテスト通知を送る。notify.Broadcasterが満たす。
type TestNotifier interface {
	SendToUser(ctx context.Context, userID string, msg notify.Message) (notify.Summary, error)
}

// PushHandler はプッシュ通知の配信先のHTTPハンドラー。
type PushHandler struct {
	service  PushServiceInterface
	notifier TestNotifier
}

// NewPushHandler はPushHandlerを生成する。notifierがnilの場合テスト送信は無効。
func NewPushHandler(service PushServiceInterface, notifier TestNotifier) *PushHandler {
	return &PushHandler{
		service:  service,
		notifier: notifier,
	}
}

type registerPushRequest struct {
	Endpoint string `json:"endpoint"`
}

type pushSubscriptionResponse struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"created_at"`
}

type pushTestResponse struct {
	Sent      int `json:"sent"`
	Gone      int `json:"gone"`
	Retryable int `json:"retryable"`
	Failed    int `json:"failed"`
}

// testMessage はテスト送信の通知内容。
var testMessage = notify.Message{
	Title: "Test notification",
	Body:  "Reminders will be delivered to this endpoint.",
}

// Register は配信先を登録する。
// POST /api/push/subscriptions
func (h *PushHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req registerPushRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sub, err := h.service.Register(r.Context(), userID, req.Endpoint)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPushSubscriptionResponse(*sub))
}

// List は配信先の一覧を返す。
// GET /api/push/subscriptions
func (h *PushHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	subs, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]pushSubscriptionResponse, 0, len(subs))
	for _, s := range subs {
		resp = append(resp, toPushSubscriptionResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Unregister は配信先を削除する。
// DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Unregister(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendTest はユーザーの全配信先にテスト通知を送る。
// POST /api/push/test
func (h *PushHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if h.notifier == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}

	summary, err := h.notifier.SendToUser(r.Context(), userID, testMessage)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pushTestResponse{
		Sent:      summary.Sent,
		Gone:      summary.Gone,
		Retryable: summary.Retryable,
		Failed:    summary.Failed,
	})
}

func toPushSubscriptionResponse(s model.PushSubscription) pushSubscriptionResponse {
	return pushSubscriptionResponse{
		ID:        s.ID,
		Endpoint:  s.Endpoint,
		CreatedAt: s.CreatedAt,
	}
}
