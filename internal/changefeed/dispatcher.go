package changefeed

import (
	"context"
	"log/slog"

	"github.com/hitoshi/weekplanner/internal/model"
)

// Router は変更通知を所有者のワークスペースへ配送する。
type Router interface {
	// Route は通知を配送し、配送先のワークスペース数を返す。
	Route(ev model.ChangeEvent) int
	// HasOwner は所有者のワークスペースが開いているかを返す。
	HasOwner(ownerID string) bool
}

// GoalFinder は通知された目標の現在の行を読み込む。
// 通知にはキーしか含まれないため、insert/updateは配送前に行を読み込む。
type GoalFinder interface {
	FindByID(ctx context.Context, kind model.Kind, id int64, ownerID string) (*model.Goal, error)
}

// Source は変更通知の発生源。
type Source interface {
	Subscribe(ctx context.Context) (<-chan model.ChangeEvent, error)
}

// Recorder は配送結果のメトリクス記録インターフェース。
type Recorder interface {
	RecordChangeDispatched(kind, operation string, targets int)
}

// Dispatcher はSourceから受け取った通知をRouterへ順に渡す。
// 通知は受信順に1件ずつ配送される。
type Dispatcher struct {
	source   Source
	finder   GoalFinder
	router   Router
	recorder Recorder
	logger   *slog.Logger
}

// NewDispatcher は新しいDispatcherを生成する。recorderはnilでもよい。
func NewDispatcher(source Source, finder GoalFinder, router Router, recorder Recorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		source:   source,
		finder:   finder,
		router:   router,
		recorder: recorder,
		logger:   logger,
	}
}

// Run はctxがキャンセルされるまで通知を配送する。
func (d *Dispatcher) Run(ctx context.Context) error {
	events, err := d.source.Subscribe(ctx)
	if err != nil {
		return err
	}

	for ev := range events {
		d.dispatch(ctx, ev)
	}
	return ctx.Err()
}

func (d *Dispatcher) dispatch(ctx context.Context, ev model.ChangeEvent) {
	if ev.Operation != model.OperationDelete {
		// 配送先がなければ行を読み込まない。後から開いたワークスペースは全件取得で揃う
		if !d.router.HasOwner(ev.Record.OwnerID) {
			d.record(ev, 0)
			return
		}

		g, err := d.finder.FindByID(ctx, ev.Kind, ev.Record.ID, ev.Record.OwnerID)
		if err != nil {
			d.logger.Error("変更された目標の読み込みに失敗しました",
				slog.String("operation", string(ev.Operation)),
				slog.String("goal", ev.Record.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		if g == nil {
			// 読み込む前に削除された。続くdelete通知で取り除かれる
			d.logger.Debug("変更された目標は既に削除されています",
				slog.String("goal", ev.Record.String()),
			)
			return
		}
		ev.Record = *g
	}

	targets := d.router.Route(ev)
	d.record(ev, targets)
	d.logger.Debug("変更通知を配送しました",
		slog.String("operation", string(ev.Operation)),
		slog.String("goal", ev.Record.String()),
		slog.String("owner_id", ev.Record.OwnerID),
		slog.Int("targets", targets),
	)
}

func (d *Dispatcher) record(ev model.ChangeEvent, targets int) {
	if d.recorder != nil {
		d.recorder.RecordChangeDispatched(string(ev.Kind), string(ev.Operation), targets)
	}
}
