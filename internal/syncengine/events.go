package syncengine

import (
	"log/slog"

	"github.com/hitoshi/weekplanner/internal/model"
)

// EventType はキャッシュイベントの種類。
type EventType string

const (
	EventBucketReplaced EventType = "bucket_replaced"
	EventGoalUpserted   EventType = "goal_upserted"
	EventGoalRemoved    EventType = "goal_removed"
	// EventResyncRequired は購読者が追いつけずイベントを取りこぼしたことを表す。
	// この直後にチャネルは閉じられるため、購読者はバケットを取り直す。
	EventResyncRequired EventType = "resync_required"
)

// Source はキャッシュを変更したイベントの発生元。
type Source string

const (
	SourceFetch  Source = "fetch"
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// CacheEvent はキャッシュの変更を購読者に伝える。
type CacheEvent struct {
	Type     EventType
	Source   Source
	Kind     model.Kind
	ScopeKey string
	GoalID   int64
	Goal     *model.Goal  // EventGoalUpserted のみ
	Goals    []model.Goal // EventBucketReplaced のみ
}

// DefaultListenerBuffer は購読チャネルのバッファサイズ。
const DefaultListenerBuffer = 64

// Subscribe はキャッシュイベントの購読を開始する。
// 送信はノンブロッキングで、バッファが埋まりかけた購読者にはEventResyncRequiredを
// 最後のイベントとして送り、チャネルを閉じて購読を解除する。
// 返されたcancelを呼ぶとチャネルが閉じられる。複数回呼んでも安全。
func (e *Engine) Subscribe() (<-chan CacheEvent, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextListener
	e.nextListener++
	ch := make(chan CacheEvent, DefaultListenerBuffer)
	e.listeners[id] = ch

	cancel := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if c, ok := e.listeners[id]; ok {
			close(c)
			delete(e.listeners, id)
		}
	}
	return ch, cancel
}

// ListenerCount は現在の購読者数を返す。
func (e *Engine) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// emit はe.muを保持した状態で呼ぶこと。
// 送信するのはemitだけなので、残り1枠の判定とその後の送信の間にバッファは増えない。
func (e *Engine) emit(ev CacheEvent) {
	for id, ch := range e.listeners {
		if len(ch) < cap(ch)-1 {
			ch <- ev
			continue
		}
		ch <- CacheEvent{Type: EventResyncRequired, Source: ev.Source}
		close(ch)
		delete(e.listeners, id)
		e.recorder.RecordListenerDrop()
		e.logger.Warn("購読者の処理が追いつかないため購読を解除しました",
			slog.Int("listener", id),
		)
	}
}
