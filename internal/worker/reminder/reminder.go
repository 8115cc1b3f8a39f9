// Package reminder は日次リマインダーのジョブを提供する。
// 一定間隔で時刻を確認し、設定時刻を過ぎたら1日1回だけ全ての通知先に通知を送る。
// 発火した日付はLedgerに記録し、ワーカーの再起動や複数起動でも二重に送らない。
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/weekplanner/internal/notify"
)

// Notifier は通知の一斉送信インターフェース。
type Notifier interface {
	Broadcast(ctx context.Context, msg notify.Message) (notify.Summary, error)
}

// Ledger は発火した日付の記録。repository.ReminderRunRepositoryが満たす。
type Ledger interface {
	Claim(ctx context.Context, day string) (bool, error)
	Release(ctx context.Context, day string) error
}

// Recorder はリマインダー発火のメトリクス記録インターフェース。
type Recorder interface {
	RecordReminderFired()
}

// Config はリマインダーの設定。
type Config struct {
	// Hour と Minute は発火時刻（Location基準）。デフォルトは20:00。
	Hour   int
	Minute int
	// Location は発火時刻と「今日」を判定するタイムゾーン。
	Location *time.Location
	// PollInterval は時刻確認の間隔（デフォルト: 1分）。
	PollInterval time.Duration
	// Message は送信する通知内容。
	Message notify.Message
}

// DefaultConfig はデフォルトのリマインダー設定を返す。
func DefaultConfig() Config {
	return Config{
		Hour:         20,
		Minute:       0,
		Location:     time.UTC,
		PollInterval: time.Minute,
		Message:      notify.ReminderMessage,
	}
}

// Job は日次リマインダーのジョブ。
// 発火済みの日付はLedgerとメモリ上の両方に保持する。
type Job struct {
	notifier Notifier
	ledger   Ledger
	recorder Recorder
	logger   *slog.Logger
	config   Config
	now      func() time.Time

	mu        sync.Mutex
	lastFired string
}

// NewJob はJobの新しいインスタンスを生成する。
// ledgerがnilの場合はプロセス内でのみ発火済みを判定する。recorderはnilでもよい。
func NewJob(notifier Notifier, ledger Ledger, recorder Recorder, logger *slog.Logger, config Config) *Job {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Minute
	}
	return &Job{
		notifier: notifier,
		ledger:   ledger,
		recorder: recorder,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Start はティッカーで時刻確認を定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.config.PollInterval)
	defer ticker.Stop()

	j.logger.Info("リマインダージョブを開始しました",
		slog.String("fire_at", fmt.Sprintf("%02d:%02d", j.config.Hour, j.config.Minute)),
		slog.String("timezone", j.config.Location.String()),
		slog.Duration("poll_interval", j.config.PollInterval),
	)

	// 起動直後に1回実行
	j.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("リマインダージョブを停止しました")
			return
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

func (j *Job) tick(ctx context.Context) {
	if _, err := j.RunOnce(ctx); err != nil {
		j.logger.Error("リマインダーの送信に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は現在時刻を確認し、発火条件を満たしていれば通知を送信する。
// 送信した場合にtrueを返す。送信に失敗した場合は発火済みにせず、次回の確認で再試行する。
func (j *Job) RunOnce(ctx context.Context) (bool, error) {
	local := j.now().In(j.config.Location)
	today := local.Format("2006-01-02")

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.lastFired == today || !j.due(local) {
		return false, nil
	}

	if j.ledger != nil {
		claimed, err := j.ledger.Claim(ctx, today)
		if err != nil {
			return false, fmt.Errorf("リマインダーの発火記録に失敗しました: %w", err)
		}
		if !claimed {
			// 再起動前のプロセスか別のワーカーが送信済み
			j.lastFired = today
			j.logger.Info("本日のリマインダーは送信済みです", slog.String("day", today))
			return false, nil
		}
	}

	summary, err := j.notifier.Broadcast(ctx, j.config.Message)
	if err != nil {
		if j.ledger != nil {
			if rerr := j.ledger.Release(ctx, today); rerr != nil {
				j.logger.Error("リマインダーの発火記録を取り消せませんでした",
					slog.String("day", today),
					slog.String("error", rerr.Error()),
				)
			}
		}
		return false, fmt.Errorf("リマインダーの一斉送信に失敗しました: %w", err)
	}

	j.lastFired = today
	if j.recorder != nil {
		j.recorder.RecordReminderFired()
	}
	j.logger.Info("リマインダーを送信しました",
		slog.String("day", today),
		slog.Int("targets", summary.Total()),
		slog.Int("sent", summary.Sent),
	)
	return true, nil
}

// LastFired は最後に発火した日付（Location基準のYYYY-MM-DD）を返す。
func (j *Job) LastFired() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastFired
}

// due は発火時刻を過ぎているかを返す。
func (j *Job) due(local time.Time) bool {
	if local.Hour() != j.config.Hour {
		return local.Hour() > j.config.Hour
	}
	return local.Minute() >= j.config.Minute
}
