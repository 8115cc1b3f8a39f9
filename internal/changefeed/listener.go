package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/weekplanner/internal/model"
)

// Notifier はpq.Listenerのうち利用する操作を抽象化する。
type Notifier interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// NotifierFactory はNotifierを生成する関数。テストで差し替える。
type NotifierFactory func(dsn string, eventCallback pq.EventCallbackType) Notifier

// デフォルトの再接続間隔とキープアライブ間隔
const (
	defaultMinReconnect = 1 * time.Second
	defaultMaxReconnect = 1 * time.Minute
	defaultPingInterval = 90 * time.Second
	subscriberBuffer    = 256
)

// Listener は目標テーブルの変更通知を購読する。
// 接続断はpq.Listenerが自動で再接続し、再接続時にはOnReconnectを呼び出す。
// 再接続までの間に失われた通知は呼び出し側で再取得して補う。
type Listener struct {
	dsn          string
	logger       *slog.Logger
	factory      NotifierFactory
	pingInterval time.Duration

	// OnReconnect は接続が回復した直後に別のゴルーチンで呼ばれる。nilの場合は何もしない。
	// 実行中に再び再接続しても並行しては呼ばない。
	OnReconnect func()
	// OnDecodeError は不正なペイロードを受け取った場合に呼ばれる。
	OnDecodeError func()

	reconnecting     atomic.Bool
	reconnectPending atomic.Bool
}

// NewListener は新しいListenerを生成する。
func NewListener(dsn string, logger *slog.Logger) *Listener {
	return &Listener{
		dsn:          dsn,
		logger:       logger,
		factory:      newPQNotifier,
		pingInterval: defaultPingInterval,
	}
}

func newPQNotifier(dsn string, cb pq.EventCallbackType) Notifier {
	return pq.NewListener(dsn, defaultMinReconnect, defaultMaxReconnect, cb)
}

// Subscribe はLISTENを開始し、変更通知のチャネルを返す。
// チャネルはctxのキャンセルで閉じられる。配信は少なくとも1回。
func (l *Listener) Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error) {
	n := l.factory(l.dsn, l.eventCallback)
	if err := n.Listen(Channel); err != nil {
		n.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", Channel, err)
	}

	l.logger.Info("変更通知の購読を開始しました", slog.String("channel", Channel))

	out := make(chan model.ChangeEvent, subscriberBuffer)
	go l.loop(ctx, n, out)
	return out, nil
}

func (l *Listener) loop(ctx context.Context, n Notifier, out chan<- model.ChangeEvent) {
	defer close(out)
	defer n.Close()

	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	notifications := n.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("変更通知の購読を停止しました")
			return

		case <-ticker.C:
			// 無通信の接続が切断されていないか確認する
			go func() {
				if err := n.Ping(); err != nil {
					l.logger.Warn("変更通知接続のPingに失敗しました", slog.String("error", err.Error()))
				}
			}()

		case notification, ok := <-notifications:
			if !ok {
				l.logger.Warn("変更通知チャネルが閉じられました")
				return
			}
			// nilは再接続を表す。切断中の通知は失われている可能性がある
			if notification == nil {
				l.logger.Warn("変更通知の接続が再確立されました。キャッシュを再取得します")
				l.handleReconnect()
				continue
			}

			ev, err := DecodeEvent([]byte(notification.Extra))
			if err != nil {
				l.logger.Error("変更通知の解析に失敗しました",
					slog.String("error", err.Error()),
					slog.String("channel", notification.Channel),
				)
				if l.OnDecodeError != nil {
					l.OnDecodeError()
				}
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// handleReconnect はOnReconnectを通知の受信ループの外で実行する。
// 再取得の間も通知の受信は止めない。実行中に届いた再接続はまとめて1回だけ再実行する。
func (l *Listener) handleReconnect() {
	if l.OnReconnect == nil {
		return
	}
	l.reconnectPending.Store(true)
	if !l.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		for {
			l.reconnectPending.Store(false)
			l.OnReconnect()
			l.reconnecting.Store(false)
			if !l.reconnectPending.Load() || !l.reconnecting.CompareAndSwap(false, true) {
				return
			}
		}
	}()
}

func (l *Listener) eventCallback(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.logger.Info("変更通知の接続を確立しました")
	case pq.ListenerEventDisconnected:
		l.logger.Warn("変更通知の接続が切断されました", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		l.logger.Info("変更通知の接続が再確立されました")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn("変更通知の接続試行に失敗しました", slog.Any("error", err))
	}
}
