package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/hitoshi/weekplanner/internal/syncengine"
)

const (
	// eventWriteTimeout は1メッセージの送信タイムアウト。
	eventWriteTimeout = 5 * time.Second
	// eventPingInterval は接続維持のためのping間隔。
	eventPingInterval = 30 * time.Second
)

// EventSource はキャッシュイベントの購読を提供する。syncengine.Engineが満たす。
type EventSource interface {
	Subscribe() (<-chan syncengine.CacheEvent, func())
}

// EventSourceResolver はセッションのワークスペースのイベントソースを返す。
type EventSourceResolver interface {
	Events(ctx context.Context, sessionID string) (EventSource, error)
}

// EventsHandler はキャッシュの変更をWebSocketで配信するHTTPハンドラー。
type EventsHandler struct {
	resolver       EventSourceResolver
	originPatterns []string
	pingInterval   time.Duration
}

// NewEventsHandler はEventsHandlerを生成する。
// originPatternsはWebSocket接続を許可するオリジンのホストパターン。
func NewEventsHandler(resolver EventSourceResolver, originPatterns []string) *EventsHandler {
	return &EventsHandler{
		resolver:       resolver,
		originPatterns: originPatterns,
		pingInterval:   eventPingInterval,
	}
}

// eventMessage はWebSocketで送信するキャッシュイベント。
type eventMessage struct {
	Type      string         `json:"type"`
	Source    string         `json:"source,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	ScopeKey  string         `json:"scope_key,omitempty"`
	GoalID    int64          `json:"goal_id,omitempty"`
	Goal      *goalResponse  `json:"goal,omitempty"`
	Goals     []goalResponse `json:"goals,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// eventConnected は接続直後に送るメッセージの種類。
const eventConnected = "connected"

// Stream はWebSocketにアップグレードし、ワークスペースのキャッシュイベントを配信する。
// クライアントからのメッセージは処理しない。
// GET /api/events
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := requireSessionID(w, r)
	if !ok {
		return
	}
	source, err := h.resolver.Events(r.Context(), sessionID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// サーバーのWriteTimeoutを長時間接続に持ち越さない
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.CloseNow()

	events, cancel := source.Subscribe()
	defer cancel()

	// 読み取りはクローズ検知とping応答のためだけに行う
	ctx := conn.CloseRead(r.Context())

	slog.Info("event stream connected", slog.String("session_id", sessionID))
	if err := writeEvent(ctx, conn, eventMessage{Type: eventConnected, Timestamp: time.Now()}); err != nil {
		return
	}

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("event stream disconnected", slog.String("session_id", sessionID))
			return
		case <-ping.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, eventWriteTimeout)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				return
			}
		case ev, open := <-events:
			if !open {
				// ワークスペースが閉じられた（ログアウト・期限切れ）
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := writeEvent(ctx, conn, toEventMessage(ev)); err != nil {
				slog.Warn("failed to send event", slog.String("error", err.Error()))
				return
			}
			if ev.Type == syncengine.EventResyncRequired {
				// 取りこぼしがあるため、再接続して取り直すようクライアントに促す
				slog.Warn("event stream fell behind", slog.String("session_id", sessionID))
				conn.Close(websocket.StatusTryAgainLater, "resync required")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, msg eventMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func toEventMessage(ev syncengine.CacheEvent) eventMessage {
	msg := eventMessage{
		Type:      string(ev.Type),
		Source:    string(ev.Source),
		Kind:      string(ev.Kind),
		ScopeKey:  ev.ScopeKey,
		GoalID:    ev.GoalID,
		Timestamp: time.Now(),
	}
	if ev.Goal != nil {
		g := toGoalResponse(*ev.Goal)
		msg.Goal = &g
	}
	// 空のバケットはgoalsを省略する
	for _, g := range ev.Goals {
		msg.Goals = append(msg.Goals, toGoalResponse(g))
	}
	return msg
}
