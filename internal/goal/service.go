// Package goal は目標の読み込みと変更操作を提供する。
//
// 変更は先にローカルキャッシュへ楽観的に反映し、その後リモートストアへ書き込む。
// リモートへの書き込みが失敗した場合は巻き戻さず、エラーを返したうえで
// 対象バケットを再取得してリモートの状態に合わせる。
package goal

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/weekplanner/internal/calendar"
	"github.com/hitoshi/weekplanner/internal/metrics"
	"github.com/hitoshi/weekplanner/internal/model"
	"github.com/hitoshi/weekplanner/internal/repository"
	"github.com/hitoshi/weekplanner/internal/security"
	"github.com/hitoshi/weekplanner/internal/syncengine"
)

// 入力文字数の上限（DBのCHECK制約と一致させる）
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
)

// maxFetchAttempts は取得結果が古くなって破棄された場合に取り直す上限回数。
const maxFetchAttempts = 3

// 操作名（メトリクスのラベルとログに使う）
const (
	OpLoad   = "load"
	OpAdd    = "add"
	OpUpdate = "update"
	OpDelete = "delete"
	OpToggle = "toggle"
)

// Recorder は目標操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordMutation(operation, result string)
	RecordRemoteLatency(operation string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordMutation(string, string)              {}
func (nopRecorder) RecordRemoteLatency(string, time.Duration) {}

// Service は1つのワークスペース（ログイン中のセッション）に紐づく目標操作。
type Service struct {
	repo      repository.GoalRepository
	engine    *syncengine.Engine
	ownerID   string
	sanitizer security.TextSanitizer
	recorder  Recorder
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。recorderはnilでもよい。
func NewService(
	repo repository.GoalRepository,
	engine *syncengine.Engine,
	ownerID string,
	sanitizer security.TextSanitizer,
	recorder Recorder,
	logger *slog.Logger,
) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		repo:      repo,
		engine:    engine,
		ownerID:   ownerID,
		sanitizer: sanitizer,
		recorder:  recorder,
		logger:    logger.With(slog.String("owner_id", ownerID)),
	}
}

// Engine はこのサービスが書き込む同期エンジンを返す。
func (s *Service) Engine() *syncengine.Engine {
	return s.engine
}

// LoadScope はバケットをリモートから全件取得してキャッシュに反映し、キャッシュの内容を返す。
// 取得中にそのバケットが変更された場合、取得結果は破棄して取り直す。
// 取り直しはmaxFetchAttempts回までで、それでも反映できなければ現在のキャッシュを返す。
func (s *Service) LoadScope(ctx context.Context, kind model.Kind, scopeKey string) ([]model.Goal, error) {
	if err := validateScope(kind, scopeKey); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		ticket := s.engine.BeginFetch(kind, scopeKey)

		start := time.Now()
		goals, err := s.repo.List(ctx, kind, scopeKey, s.ownerID)
		s.recorder.RecordRemoteLatency(OpLoad, time.Since(start))
		if err != nil {
			s.logger.Error("目標一覧の取得に失敗しました",
				slog.String("kind", string(kind)),
				slog.String("scope_key", scopeKey),
				slog.String("error", err.Error()),
			)
			return nil, model.NewRemoteError("取得", err)
		}

		if s.engine.ApplyFetch(ticket, goals) {
			return s.engine.Get(kind, scopeKey), nil
		}
	}

	s.logger.Warn("取得中の変更が続いたため、バケットを取得結果で置き換えられませんでした",
		slog.String("kind", string(kind)),
		slog.String("scope_key", scopeKey),
		slog.Int("attempts", maxFetchAttempts),
	)
	return s.engine.Get(kind, scopeKey), nil
}

// Resync は読み込み済みの全バケットを再取得する。
// 変更通知の接続が回復した後、取りこぼした通知を補うために呼ぶ。
func (s *Service) Resync(ctx context.Context) {
	for _, kind := range model.Kinds {
		for _, scopeKey := range s.engine.Buckets(kind) {
			if _, err := s.LoadScope(ctx, kind, scopeKey); err != nil {
				s.logger.Warn("バケットの再取得に失敗しました",
					slog.String("kind", string(kind)),
					slog.String("scope_key", scopeKey),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// AddGoal は目標を追加する。
// 仮IDのエントリを即座にキャッシュへ追加し、リモートで採番されたレコードで置き換える。
func (s *Service) AddGoal(ctx context.Context, kind model.Kind, scopeKey string, in model.GoalInput) (model.Goal, error) {
	if err := validateScope(kind, scopeKey); err != nil {
		s.recorder.RecordMutation(OpAdd, resultOf(err))
		return model.Goal{}, err
	}
	in, err := s.normalizeInput(in)
	if err != nil {
		s.recorder.RecordMutation(OpAdd, resultOf(err))
		return model.Goal{}, err
	}

	provisional := s.engine.NewProvisional(kind, scopeKey, s.ownerID, in)
	s.engine.ApplyLocalUpsert(provisional)

	created := provisional
	created.ID = 0

	start := time.Now()
	err = s.repo.Create(ctx, &created)
	s.recorder.RecordRemoteLatency(OpAdd, time.Since(start))
	if err != nil {
		s.logger.Error("目標の追加に失敗しました",
			slog.String("kind", string(kind)),
			slog.String("scope_key", scopeKey),
			slog.String("error", err.Error()),
		)
		s.engine.ApplyLocalRemove(kind, provisional.ID)
		s.reconcile(ctx, kind, scopeKey)
		remoteErr := model.NewRemoteError("追加", err)
		s.recorder.RecordMutation(OpAdd, resultOf(remoteErr))
		return model.Goal{}, remoteErr
	}

	s.engine.ReplaceProvisional(kind, provisional.ID, created)
	s.recorder.RecordMutation(OpAdd, metrics.ResultSuccess)
	return created, nil
}

// UpdateGoal は目標に部分更新を適用する。
// キャッシュには楽観的にマージし、リモートが失敗しても楽観的な値は残したまま再取得で整合させる。
func (s *Service) UpdateGoal(ctx context.Context, kind model.Kind, id int64, upd model.GoalUpdate) (model.Goal, error) {
	return s.update(ctx, OpUpdate, kind, id, upd)
}

// ToggleComplete は目標の完了状態を反転する。
// キャッシュの該当バケットに目標が存在しない場合はNotFoundエラーを返し、何もしない。
// scopeKeyが空の場合はバケットを問わずIDで検索する。
func (s *Service) ToggleComplete(ctx context.Context, kind model.Kind, scopeKey string, id int64) (model.Goal, error) {
	current, ok := s.engine.Find(kind, id)
	if !ok || (scopeKey != "" && current.ScopeKey != scopeKey) {
		s.logger.Info("完了切り替えの対象が見つかりません",
			slog.String("kind", string(kind)),
			slog.String("scope_key", scopeKey),
			slog.Int64("goal_id", id),
		)
		err := model.NewGoalNotFoundError(kind, id)
		s.recorder.RecordMutation(OpToggle, resultOf(err))
		return model.Goal{}, err
	}

	completed := !current.Completed
	return s.update(ctx, OpToggle, kind, id, model.GoalUpdate{Completed: &completed})
}

// DeleteGoal は目標を削除する。
// キャッシュからは即座に取り除き、リモートの削除が失敗しても復元しない。
func (s *Service) DeleteGoal(ctx context.Context, kind model.Kind, id int64) error {
	if _, err := model.ParseKind(string(kind)); err != nil {
		s.recorder.RecordMutation(OpDelete, resultOf(err))
		return err
	}

	removed, wasCached := s.engine.ApplyLocalRemove(kind, id)

	start := time.Now()
	err := s.repo.Delete(ctx, kind, id, s.ownerID)
	s.recorder.RecordRemoteLatency(OpDelete, time.Since(start))
	if err != nil {
		s.logger.Error("目標の削除に失敗しました",
			slog.String("kind", string(kind)),
			slog.Int64("goal_id", id),
			slog.String("error", err.Error()),
		)
		if wasCached {
			s.reconcile(ctx, kind, removed.ScopeKey)
		}
		remoteErr := model.NewRemoteError("削除", err)
		s.recorder.RecordMutation(OpDelete, resultOf(remoteErr))
		return remoteErr
	}

	s.recorder.RecordMutation(OpDelete, metrics.ResultSuccess)
	return nil
}

func (s *Service) update(ctx context.Context, op string, kind model.Kind, id int64, upd model.GoalUpdate) (model.Goal, error) {
	if _, err := model.ParseKind(string(kind)); err != nil {
		s.recorder.RecordMutation(op, resultOf(err))
		return model.Goal{}, err
	}
	upd, err := s.normalizeUpdate(upd)
	if err != nil {
		s.recorder.RecordMutation(op, resultOf(err))
		return model.Goal{}, err
	}

	optimistic, cached := s.engine.ApplyLocalUpdate(kind, id, upd)

	start := time.Now()
	updated, err := s.repo.Update(ctx, kind, id, s.ownerID, upd)
	s.recorder.RecordRemoteLatency(op, time.Since(start))
	if err != nil {
		if model.IsNotFound(err) {
			// リモートで既に削除されている
			s.logger.Info("更新対象の目標は既に削除されています",
				slog.String("kind", string(kind)),
				slog.Int64("goal_id", id),
			)
			s.engine.ApplyLocalRemove(kind, id)
			s.recorder.RecordMutation(op, resultOf(err))
			return model.Goal{}, err
		}

		s.logger.Error("目標の更新に失敗しました",
			slog.String("kind", string(kind)),
			slog.Int64("goal_id", id),
			slog.String("error", err.Error()),
		)
		if cached {
			s.reconcile(ctx, kind, optimistic.ScopeKey)
		}
		remoteErr := model.NewRemoteError("更新", err)
		s.recorder.RecordMutation(op, resultOf(remoteErr))
		return model.Goal{}, remoteErr
	}

	s.engine.ApplyLocalUpsert(*updated)
	s.recorder.RecordMutation(op, metrics.ResultSuccess)
	return *updated, nil
}

// reconcile は書き込み失敗後にバケットを再取得する。再取得の失敗はログに残すのみ。
func (s *Service) reconcile(ctx context.Context, kind model.Kind, scopeKey string) {
	if scopeKey == "" {
		return
	}
	if _, err := s.LoadScope(ctx, kind, scopeKey); err != nil {
		s.logger.Warn("失敗後の再取得に失敗しました",
			slog.String("kind", string(kind)),
			slog.String("scope_key", scopeKey),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) normalizeInput(in model.GoalInput) (model.GoalInput, error) {
	title, err := s.normalizeTitle(in.Title)
	if err != nil {
		return in, err
	}
	description, err := s.normalizeDescription(in.Description)
	if err != nil {
		return in, err
	}
	priority, err := model.ParsePriority(string(in.Priority))
	if err != nil {
		return in, err
	}

	in.Title = title
	in.Description = description
	in.Priority = priority
	return in, nil
}

func (s *Service) normalizeUpdate(upd model.GoalUpdate) (model.GoalUpdate, error) {
	if upd.IsEmpty() {
		return upd, model.NewInvalidRequestError()
	}
	if upd.Title != nil {
		title, err := s.normalizeTitle(*upd.Title)
		if err != nil {
			return upd, err
		}
		upd.Title = &title
	}
	if upd.Description != nil {
		description, err := s.normalizeDescription(*upd.Description)
		if err != nil {
			return upd, err
		}
		upd.Description = &description
	}
	if upd.Priority != nil {
		// 空文字列での更新は許可しない
		if *upd.Priority == "" {
			return upd, model.NewInvalidPriorityError("")
		}
		priority, err := model.ParsePriority(string(*upd.Priority))
		if err != nil {
			return upd, err
		}
		upd.Priority = &priority
	}
	return upd, nil
}

func (s *Service) normalizeTitle(raw string) (string, error) {
	title := s.sanitizer.Sanitize(raw)
	if title == "" {
		return "", model.NewEmptyTitleError()
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", model.NewTextTooLongError("タイトル", MaxTitleLength)
	}
	return title, nil
}

func (s *Service) normalizeDescription(raw string) (string, error) {
	description := s.sanitizer.Sanitize(raw)
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return "", model.NewTextTooLongError("説明", MaxDescriptionLength)
	}
	return description, nil
}

// validateScope は種別とスコープキーの形式を検証する。
func validateScope(kind model.Kind, scopeKey string) error {
	switch kind {
	case model.KindWeek:
		if !calendar.IsWeekKey(scopeKey) {
			return model.NewInvalidScopeKeyError(kind, scopeKey)
		}
	case model.KindDay:
		if !calendar.IsDayKey(scopeKey) {
			return model.NewInvalidScopeKeyError(kind, scopeKey)
		}
	default:
		return model.NewInvalidKindError(string(kind))
	}
	return nil
}

// resultOf はエラーをメトリクスの結果ラベルに変換する。
func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case model.IsValidation(err):
		return metrics.ResultValidation
	case model.IsAuth(err):
		return metrics.ResultAuth
	case model.IsNotFound(err):
		return metrics.ResultNotFound
	default:
		return metrics.ResultRemote
	}
}
