// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 同期実行結果のラベル値。
const (
	RunResultSuccess      = "success"
	RunResultFailed       = "failed"
	RunResultNotConnected = "not_connected"
	RunResultInProgress   = "in_progress"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期エンジン、外部APIクライアント、トリガーキューから利用する。
type MetricsCollector interface {
	RecordSyncRun(result string, duration time.Duration)
	RecordPush(entityType string, success bool)
	RecordPull(entityType string, created bool)
	RecordPullFailure(entityType string)
	RecordSyncLogWriteFailure()
	RecordRemoteRequest(op string, statusCode int, duration time.Duration)
	RecordTriggerEnqueued()
	RecordTriggerDropped()
	RecordTriggerFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncRuns         *prometheus.CounterVec
	syncDuration     prometheus.Histogram
	pushes           *prometheus.CounterVec
	pulls            *prometheus.CounterVec
	pullFailures     *prometheus.CounterVec
	logWriteFailures prometheus.Counter
	remoteRequests   *prometheus.CounterVec
	remoteLatency    prometheus.Histogram
	triggerEnqueued  prometheus.Counter
	triggerDropped   prometheus.Counter
	triggerFailures  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasksync_sync_runs_total",
			Help: "ユーザー単位の同期実行数（結果別）",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tasksync_sync_duration_seconds",
			Help:    "ユーザー単位の同期所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasksync_push_total",
			Help: "エンティティのプッシュ数（種別・結果別）",
		}, []string{"entity_type", "result"}),
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasksync_pull_applied_total",
			Help: "プルでローカルに反映されたエンティティ数（種別・作成/更新別）",
		}, []string{"entity_type", "kind"}),
		pullFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasksync_pull_failures_total",
			Help: "プルフェーズの失敗数（種別別）",
		}, []string{"entity_type"}),
		logWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasksync_sync_log_write_failures_total",
			Help: "同期ログの書き込み失敗数",
		}),
		remoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasksync_remote_requests_total",
			Help: "外部API呼び出し数（操作・ステータスコード別）",
		}, []string{"op", "status_code"}),
		remoteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tasksync_remote_request_latency_seconds",
			Help:    "外部API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		triggerEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasksync_trigger_enqueued_total",
			Help: "キューに投入された同期トリガー数",
		}),
		triggerDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasksync_trigger_dropped_total",
			Help: "キュー満杯で破棄された同期トリガー数",
		}),
		triggerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasksync_trigger_failures_total",
			Help: "バックグラウンド同期の失敗数",
		}),
	}

	reg.MustRegister(
		c.syncRuns,
		c.syncDuration,
		c.pushes,
		c.pulls,
		c.pullFailures,
		c.logWriteFailures,
		c.remoteRequests,
		c.remoteLatency,
		c.triggerEnqueued,
		c.triggerDropped,
		c.triggerFailures,
	)

	return c
}

// RecordSyncRun はユーザー単位の同期実行を記録する。
func (c *Collector) RecordSyncRun(result string, duration time.Duration) {
	c.syncRuns.WithLabelValues(result).Inc()
	c.syncDuration.Observe(duration.Seconds())
}

// RecordPush はエンティティのプッシュ結果を記録する。
func (c *Collector) RecordPush(entityType string, success bool) {
	result := RunResultSuccess
	if !success {
		result = RunResultFailed
	}
	c.pushes.WithLabelValues(entityType, result).Inc()
}

// RecordPull はプルで反映されたエンティティを記録する。
func (c *Collector) RecordPull(entityType string, created bool) {
	kind := "updated"
	if created {
		kind = "created"
	}
	c.pulls.WithLabelValues(entityType, kind).Inc()
}

// RecordPullFailure はプルフェーズの失敗を記録する。
func (c *Collector) RecordPullFailure(entityType string) {
	c.pullFailures.WithLabelValues(entityType).Inc()
}

// RecordSyncLogWriteFailure は同期ログの書き込み失敗を記録する。
func (c *Collector) RecordSyncLogWriteFailure() {
	c.logWriteFailures.Inc()
}

// RecordRemoteRequest は外部API呼び出しを記録する。statusCodeが0の場合は通信エラー。
func (c *Collector) RecordRemoteRequest(op string, statusCode int, duration time.Duration) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	c.remoteRequests.WithLabelValues(op, code).Inc()
	c.remoteLatency.Observe(duration.Seconds())
}

// RecordTriggerEnqueued はトリガーのキュー投入を記録する。
func (c *Collector) RecordTriggerEnqueued() {
	c.triggerEnqueued.Inc()
}

// RecordTriggerDropped はトリガーの破棄を記録する。
func (c *Collector) RecordTriggerDropped() {
	c.triggerDropped.Inc()
}

// RecordTriggerFailure はバックグラウンド同期の失敗を記録する。
func (c *Collector) RecordTriggerFailure() {
	c.triggerFailures.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
