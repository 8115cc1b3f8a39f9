// Package syncengine はローカル目標キャッシュへの唯一の書き込み経路を提供する。
//
// 全件取得の結果、楽観的なローカル変更、リモートからの非同期変更通知の3種類の
// イベントを、到着順に1つずつキャッシュへ適用する。
// バケットごとに論理時刻を管理し、取得開始後にローカル変更が入ったバケットへの
// 古い取得結果は破棄する。
package syncengine

import (
	"log/slog"
	"sync"

	"github.com/hitoshi/weekplanner/internal/goalcache"
	"github.com/hitoshi/weekplanner/internal/model"
)

// Recorder は同期エンジンのメトリクス記録インターフェース。
type Recorder interface {
	RecordFetchApplied(kind string)
	RecordStaleFetchDropped(kind string)
	RecordChangeEvent(kind, operation string, applied bool)
	RecordListenerDrop()
}

type nopRecorder struct{}

func (nopRecorder) RecordFetchApplied(string)              {}
func (nopRecorder) RecordStaleFetchDropped(string)         {}
func (nopRecorder) RecordChangeEvent(string, string, bool) {}
func (nopRecorder) RecordListenerDrop()                    {}

// FetchTicket は全件取得の開始時点の論理時刻を保持する。
// 取得結果はBeginFetchで得たチケットと一緒にApplyFetchへ渡す。
type FetchTicket struct {
	Kind     model.Kind
	ScopeKey string
	Clock    uint64
}

type bucketKey struct {
	kind     model.Kind
	scopeKey string
}

// Engine はセッション1つ分の目標キャッシュと同期状態を保持する。
// 全ての操作は1つのミューテックスで直列化され、到着順に適用される。
type Engine struct {
	mu sync.Mutex

	caches map[model.Kind]*goalcache.Cache

	clock        uint64
	lastMutation map[bucketKey]uint64

	nextProvisional int64

	listeners    map[int]chan CacheEvent
	nextListener int

	recorder Recorder
	logger   *slog.Logger
}

// Option はEngineの生成オプション。
type Option func(*Engine)

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New は空のキャッシュを持つEngineを生成する。
func New(opts ...Option) *Engine {
	e := &Engine{
		caches: map[model.Kind]*goalcache.Cache{
			model.KindWeek: goalcache.New(),
			model.KindDay:  goalcache.New(),
		},
		lastMutation: make(map[bucketKey]uint64),
		listeners:    make(map[int]chan CacheEvent),
		recorder:     nopRecorder{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Get はバケットの目標一覧を返す。表示層向けの読み取り専用アクセス。
func (e *Engine) Get(kind model.Kind, scopeKey string) []model.Goal {
	return e.cache(kind).Get(scopeKey)
}

// Loaded はバケットが読み込み済みかを返す。
func (e *Engine) Loaded(kind model.Kind, scopeKey string) bool {
	return e.cache(kind).Has(scopeKey)
}

// Buckets は読み込み済みのスコープキーを返す。再接続後の再取得に使う。
func (e *Engine) Buckets(kind model.Kind) []string {
	return e.cache(kind).Buckets()
}

// Find は指定IDの目標をキャッシュから検索する。
func (e *Engine) Find(kind model.Kind, id int64) (model.Goal, bool) {
	return e.cache(kind).FindByID(id)
}

// BeginFetch は全件取得の開始を記録し、取得結果の適用に使うチケットを返す。
func (e *Engine) BeginFetch(kind model.Kind, scopeKey string) FetchTicket {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.clock++
	return FetchTicket{Kind: kind, ScopeKey: scopeKey, Clock: e.clock}
}

// ApplyFetch は全件取得の結果でバケットを置き換える。
// チケット発行後にそのバケットが変更されていた場合は、結果を破棄してfalseを返す。
func (e *Engine) ApplyFetch(ticket FetchTicket, goals []model.Goal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := bucketKey{ticket.Kind, ticket.ScopeKey}
	if e.lastMutation[key] > ticket.Clock {
		e.recorder.RecordStaleFetchDropped(string(ticket.Kind))
		e.logger.Info("古い取得結果を破棄しました",
			slog.String("kind", string(ticket.Kind)),
			slog.String("scope_key", ticket.ScopeKey),
			slog.Uint64("ticket", ticket.Clock),
			slog.Uint64("last_mutation", e.lastMutation[key]),
		)
		return false
	}

	cache := e.cache(ticket.Kind)
	cache.ReplaceBucket(ticket.ScopeKey, goals)
	e.recorder.RecordFetchApplied(string(ticket.Kind))

	e.emit(CacheEvent{
		Type:     EventBucketReplaced,
		Source:   SourceFetch,
		Kind:     ticket.Kind,
		ScopeKey: ticket.ScopeKey,
		Goals:    cache.Get(ticket.ScopeKey),
	})
	return true
}

// NewProvisional はリモート確定前の仮IDを持つ目標を生成する。キャッシュには追加しない。
func (e *Engine) NewProvisional(kind model.Kind, scopeKey, ownerID string, in model.GoalInput) model.Goal {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextProvisional--
	return model.Goal{
		ID:          e.nextProvisional,
		Kind:        kind,
		Title:       in.Title,
		Description: in.Description,
		Priority:    in.Priority,
		Completed:   in.Completed,
		ScopeKey:    scopeKey,
		OwnerID:     ownerID,
	}
}

// ApplyLocalUpsert は楽観的に目標を追加または置き換える。
func (e *Engine) ApplyLocalUpsert(g model.Goal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.upsertLocked(g, SourceLocal)
}

// ApplyLocalUpdate はキャッシュ上の目標に部分更新を楽観的にマージする。
// 目標がキャッシュにない場合はfalseを返す。
func (e *Engine) ApplyLocalUpdate(kind model.Kind, id int64, upd model.GoalUpdate) (model.Goal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.cache(kind).FindByID(id)
	if !ok {
		return model.Goal{}, false
	}
	merged := upd.ApplyTo(current)
	e.upsertLocked(merged, SourceLocal)
	return merged, true
}

// ApplyLocalRemove は目標を楽観的に削除する。削除した目標を返す。
func (e *Engine) ApplyLocalRemove(kind model.Kind, id int64) (model.Goal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, ok := e.cache(kind).FindByID(id)
	if !ok {
		return model.Goal{}, false
	}
	e.removeLocked(kind, id, SourceLocal)
	return g, true
}

// ReplaceProvisional は仮IDのエントリを取り除き、確定したレコードを反映する。
// 確定レコードが変更通知で先に届いていた場合でも重複しない。
func (e *Engine) ReplaceProvisional(kind model.Kind, provisionalID int64, confirmed model.Goal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.removeLocked(kind, provisionalID, SourceLocal)
	e.upsertLocked(confirmed, SourceLocal)
}

// ApplyChange はリモートの変更通知をキャッシュに反映する。
// 同じ通知を何度適用しても結果は変わらない。キャッシュが変化した場合にtrueを返す。
func (e *Engine) ApplyChange(ev model.ChangeEvent) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.Record.Kind == "" {
		ev.Record.Kind = ev.Kind
	}

	var applied bool
	switch ev.Operation {
	case model.OperationInsert, model.OperationUpdate:
		applied = e.upsertLocked(ev.Record, SourceRemote)
	case model.OperationDelete:
		applied = e.removeLocked(ev.Kind, ev.Record.ID, SourceRemote)
	default:
		e.logger.Warn("未知の変更操作を無視しました",
			slog.String("operation", string(ev.Operation)),
			slog.String("goal", ev.Record.String()),
		)
		return false
	}

	e.recorder.RecordChangeEvent(string(ev.Kind), string(ev.Operation), applied)
	return applied
}

// Reset はキャッシュと同期状態を破棄し、全ての購読を閉じる。ログアウト時に呼ぶ。
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range e.caches {
		c.Reset()
	}
	e.lastMutation = make(map[bucketKey]uint64)
	for id, ch := range e.listeners {
		close(ch)
		delete(e.listeners, id)
	}
}

func (e *Engine) cache(kind model.Kind) *goalcache.Cache {
	if c, ok := e.caches[kind]; ok {
		return c
	}
	return e.caches[model.KindWeek]
}

// upsertLocked はキャッシュに反映し、変化があったバケットの論理時刻を進める。
func (e *Engine) upsertLocked(g model.Goal, source Source) bool {
	cache := e.cache(g.Kind)
	oldKey, hadOld := cache.ScopeKeyOf(g.ID)

	if !cache.Upsert(g) {
		return false
	}

	e.clock++
	e.lastMutation[bucketKey{g.Kind, g.ScopeKey}] = e.clock
	if hadOld && oldKey != g.ScopeKey {
		e.lastMutation[bucketKey{g.Kind, oldKey}] = e.clock
		e.emit(CacheEvent{Type: EventGoalRemoved, Source: source, Kind: g.Kind, ScopeKey: oldKey, GoalID: g.ID})
	}

	goal := g
	e.emit(CacheEvent{Type: EventGoalUpserted, Source: source, Kind: g.Kind, ScopeKey: g.ScopeKey, GoalID: g.ID, Goal: &goal})
	return true
}

func (e *Engine) removeLocked(kind model.Kind, id int64, source Source) bool {
	cache := e.cache(kind)
	key, ok := cache.ScopeKeyOf(id)
	if !ok || !cache.Remove(key, id) {
		return false
	}

	e.clock++
	e.lastMutation[bucketKey{kind, key}] = e.clock
	e.emit(CacheEvent{Type: EventGoalRemoved, Source: source, Kind: kind, ScopeKey: key, GoalID: id})
	return true
}
