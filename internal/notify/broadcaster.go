package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/weekplanner/internal/model"
)

// Sender は1件の通知送信のインターフェース。テスト時にモックに差し替え可能。
type Sender interface {
	Send(ctx context.Context, endpoint string, msg Message) (Result, error)
}

// SubscriptionStore は通知先の取得と掃除に必要なインターフェース。
// repository.PushSubscriptionRepositoryの部分集合として定義する。
type SubscriptionStore interface {
	ListAll(ctx context.Context) ([]model.PushSubscription, error)
	ListByUserID(ctx context.Context, userID string) ([]model.PushSubscription, error)
	DeleteByID(ctx context.Context, id string) error
}

// Recorder は送信結果のメトリクス記録インターフェース。
type Recorder interface {
	RecordPushResult(result string)
}

// Summary は一斉送信の結果集計。
type Summary struct {
	Sent      int
	Gone      int
	Retryable int
	Failed    int
}

// Total は送信を試みた件数を返す。
func (s Summary) Total() int {
	return s.Sent + s.Gone + s.Retryable + s.Failed
}

// Broadcaster は通知先へ送信間隔を制御しながら通知を配信する。
// 失効した通知先（404/410）は削除する。
type Broadcaster struct {
	store    SubscriptionStore
	sender   Sender
	limiter  *rate.Limiter
	recorder Recorder
	logger   *slog.Logger
}

// NewBroadcaster はBroadcasterの新しいインスタンスを生成する。
// perSecondは1秒あたりの最大送信数。0以下の場合は制限しない。recorderはnilでもよい。
func NewBroadcaster(store SubscriptionStore, sender Sender, perSecond float64, recorder Recorder, logger *slog.Logger) *Broadcaster {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Broadcaster{
		store:    store,
		sender:   sender,
		limiter:  rate.NewLimiter(limit, 1),
		recorder: recorder,
		logger:   logger,
	}
}

// Broadcast は全ての通知先に通知を送信する。
func (b *Broadcaster) Broadcast(ctx context.Context, msg Message) (Summary, error) {
	subs, err := b.store.ListAll(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("通知先一覧の取得に失敗しました: %w", err)
	}
	return b.deliver(ctx, subs, msg)
}

// SendToUser はユーザーの全ての通知先に通知を送信する。
func (b *Broadcaster) SendToUser(ctx context.Context, userID string, msg Message) (Summary, error) {
	subs, err := b.store.ListByUserID(ctx, userID)
	if err != nil {
		return Summary{}, fmt.Errorf("通知先一覧の取得に失敗しました: %w", err)
	}
	return b.deliver(ctx, subs, msg)
}

func (b *Broadcaster) deliver(ctx context.Context, subs []model.PushSubscription, msg Message) (Summary, error) {
	start := time.Now()
	var summary Summary

	for _, sub := range subs {
		if err := b.limiter.Wait(ctx); err != nil {
			return summary, err
		}

		result, err := b.sender.Send(ctx, sub.Endpoint, msg)
		if b.recorder != nil {
			b.recorder.RecordPushResult(string(result))
		}

		switch result {
		case ResultSent:
			summary.Sent++
		case ResultGone:
			summary.Gone++
			if delErr := b.store.DeleteByID(ctx, sub.ID); delErr != nil {
				b.logger.Error("失効した通知先の削除に失敗しました",
					slog.String("subscription_id", sub.ID),
					slog.String("error", delErr.Error()),
				)
			} else {
				b.logger.Info("失効した通知先を削除しました",
					slog.String("subscription_id", sub.ID),
					slog.String("user_id", sub.UserID),
				)
			}
		case ResultRetryable:
			summary.Retryable++
		default:
			summary.Failed++
		}

		if err != nil && result != ResultGone {
			b.logger.Warn("通知の送信に失敗しました",
				slog.String("subscription_id", sub.ID),
				slog.String("result", string(result)),
				slog.String("error", err.Error()),
			)
		}
	}

	b.logger.Info("通知の配信が完了しました",
		slog.Int("sent", summary.Sent),
		slog.Int("gone", summary.Gone),
		slog.Int("retryable", summary.Retryable),
		slog.Int("failed", summary.Failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return summary, nil
}
