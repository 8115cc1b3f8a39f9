// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期エンジン、変更通知の配送、目標操作、ワーカーから利用する。
type MetricsCollector interface {
	RecordFetchApplied(kind string)
	RecordStaleFetchDropped(kind string)
	RecordChangeEvent(kind, operation string, applied bool)
	RecordListenerDrop()
	RecordChangeDispatched(kind, operation string, targets int)
	RecordMutation(operation, result string)
	RecordRemoteLatency(operation string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordPushResult(result string)
	RecordReminderFired()
	SetOpenWorkspaces(n int)
}

// 目標操作の結果ラベル
const (
	ResultSuccess    = "success"
	ResultValidation = "validation_error"
	ResultAuth       = "auth_error"
	ResultRemote     = "remote_error"
	ResultNotFound   = "not_found"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	fetchApplied     *prometheus.CounterVec
	staleFetch       *prometheus.CounterVec
	changeEvents     *prometheus.CounterVec
	listenerDrops    prometheus.Counter
	changeDispatched *prometheus.CounterVec
	changeOrphaned   prometheus.Counter
	mutations        *prometheus.CounterVec
	remoteLatency    *prometheus.HistogramVec
	httpStatus       *prometheus.CounterVec
	pushResults      *prometheus.CounterVec
	remindersFired   prometheus.Counter
	openWorkspaces   prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fetchApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weekplanner_fetch_applied_total",
			Help: "キャッシュに反映された全件取得の合計数",
		}, []string{"kind"}),
		staleFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weekplanner_stale_fetch_dropped_total",
			Help: "ローカル変更より古いため破棄された全件取得の合計数",
		}, []string{"kind"}),
		changeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weekplanner_change_events_total",
			Help: "ワークスペースに適用された変更通知の数（applied=falseは冪等なno-op）",
		}, []string{"kind", "operation", "applied"}),
		listenerDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weekplanner_cache_listener_drops_total",
			Help: "バッファ溢れで解除されたキャッシュイベント購読の数",
		}),
		changeDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weekplanner_change_dispatched_total",
			Help: "受信した変更通知の数",
		}, []string{"kind", "operation"}),
		changeOrphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weekplanner_change_undelivered_total",
			Help: "配送先のワークスペースがなかった変更通知の数",
		}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weekplanner_goal_mutations_total",
			Help: "目標操作の結果別の合計数",
		}, []string{"operation", "result"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "weekplanner_remote_latency_seconds",
			Help:    "リモートストア呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weekplanner_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		pushResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "weekplanner_push_results_total",
			Help: "プッシュ通知の送信結果別の合計数",
		}, []string{"result"}),
		remindersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "weekplanner_reminders_fired_total",
			Help: "日次リマインダーの発火回数",
		}),
		openWorkspaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "weekplanner_open_workspaces",
			Help: "開いているワークスペース（ログイン中セッション）の数",
		}),
	}

	reg.MustRegister(
		c.fetchApplied,
		c.staleFetch,
		c.changeEvents,
		c.listenerDrops,
		c.changeDispatched,
		c.changeOrphaned,
		c.mutations,
		c.remoteLatency,
		c.httpStatus,
		c.pushResults,
		c.remindersFired,
		c.openWorkspaces,
	)

	return c
}

// RecordFetchApplied は全件取得の反映を記録する。
func (c *Collector) RecordFetchApplied(kind string) {
	c.fetchApplied.WithLabelValues(kind).Inc()
}

// RecordStaleFetchDropped は古い全件取得の破棄を記録する。
func (c *Collector) RecordStaleFetchDropped(kind string) {
	c.staleFetch.WithLabelValues(kind).Inc()
}

// RecordChangeEvent は変更通知の適用を記録する。
func (c *Collector) RecordChangeEvent(kind, operation string, applied bool) {
	c.changeEvents.WithLabelValues(kind, operation, strconv.FormatBool(applied)).Inc()
}

// RecordListenerDrop はバッファ溢れによる購読解除を記録する。
func (c *Collector) RecordListenerDrop() {
	c.listenerDrops.Inc()
}

// RecordChangeDispatched は変更通知の配送を記録する。
func (c *Collector) RecordChangeDispatched(kind, operation string, targets int) {
	c.changeDispatched.WithLabelValues(kind, operation).Inc()
	if targets == 0 {
		c.changeOrphaned.Inc()
	}
}

// RecordMutation は目標操作の結果を記録する。
func (c *Collector) RecordMutation(operation, result string) {
	c.mutations.WithLabelValues(operation, result).Inc()
}

// RecordRemoteLatency はリモートストア呼び出しのレイテンシを記録する。
func (c *Collector) RecordRemoteLatency(operation string, duration time.Duration) {
	c.remoteLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordPushResult はプッシュ通知の送信結果を記録する。
func (c *Collector) RecordPushResult(result string) {
	c.pushResults.WithLabelValues(result).Inc()
}

// RecordReminderFired はリマインダーの発火を記録する。
func (c *Collector) RecordReminderFired() {
	c.remindersFired.Inc()
}

// SetOpenWorkspaces は開いているワークスペース数を設定する。
func (c *Collector) SetOpenWorkspaces(n int) {
	c.openWorkspaces.Set(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のコレクターが失敗しても、収集できたメトリクスは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}

var _ MetricsCollector = (*Collector)(nil)
