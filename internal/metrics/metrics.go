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
// サービス層・通知ディスパッチャ・ワーカーから利用する。
type MetricsCollector interface {
	RecordVote(transition string)
	RecordVoteConflict()
	RecordVoteExhausted()
	RecordIdeaCreated(isReply bool)
	RecordFeedLatency(sort string, duration time.Duration)
	RecordNotification(sink string, delivered bool)
	RecordNotificationDropped()
	RecordHTTPStatus(statusCode int)
	RecordRescore(updated, failed int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	votes             *prometheus.CounterVec
	voteConflicts     prometheus.Counter
	voteExhausted     prometheus.Counter
	ideasCreated      *prometheus.CounterVec
	feedLatency       *prometheus.HistogramVec
	notifications     *prometheus.CounterVec
	notifyDropped     prometheus.Counter
	httpStatus        *prometheus.CounterVec
	rescoreUpdated    prometheus.Counter
	rescoreFailed     prometheus.Counter
	rescoreLastRunSec prometheus.Gauge
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unstabling_votes_total",
			Help: "遷移種別（added, removed, flipped）ごとの投票数",
		}, []string{"transition"}),
		voteConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unstabling_vote_conflicts_total",
			Help: "条件付き更新のバージョン競合による再試行数",
		}),
		voteExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unstabling_vote_exhausted_total",
			Help: "再試行上限に達して失敗した投票数",
		}),
		ideasCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unstabling_ideas_created_total",
			Help: "作成された投稿数",
		}, []string{"kind"}),
		feedLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "unstabling_feed_latency_seconds",
			Help:    "並び順ごとの一覧組み立てレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"sort"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unstabling_notifications_total",
			Help: "通知先・結果ごとの通知配送数",
		}, []string{"sink", "result"}),
		notifyDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unstabling_notifications_dropped_total",
			Help: "キュー満杯により破棄された通知数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unstabling_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		rescoreUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unstabling_rescore_updated_total",
			Help: "スコア再計算で更新された投稿数",
		}),
		rescoreFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unstabling_rescore_failed_total",
			Help: "スコア再計算で更新に失敗した投稿数",
		}),
		rescoreLastRunSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unstabling_rescore_last_run_timestamp_seconds",
			Help: "最後にスコア再計算が完了した時刻（UNIX秒）",
		}),
	}

	reg.MustRegister(
		c.votes,
		c.voteConflicts,
		c.voteExhausted,
		c.ideasCreated,
		c.feedLatency,
		c.notifications,
		c.notifyDropped,
		c.httpStatus,
		c.rescoreUpdated,
		c.rescoreFailed,
		c.rescoreLastRunSec,
	)

	return c
}

// RecordVote は反映された投票を遷移種別ごとに記録する。
func (c *Collector) RecordVote(transition string) {
	c.votes.WithLabelValues(transition).Inc()
}

// RecordVoteConflict はバージョン競合による再試行を記録する。
func (c *Collector) RecordVoteConflict() {
	c.voteConflicts.Inc()
}

// RecordVoteExhausted は再試行上限到達を記録する。
func (c *Collector) RecordVoteExhausted() {
	c.voteExhausted.Inc()
}

// RecordIdeaCreated は投稿作成を記録する。
func (c *Collector) RecordIdeaCreated(isReply bool) {
	kind := "top_level"
	if isReply {
		kind = "reply"
	}
	c.ideasCreated.WithLabelValues(kind).Inc()
}

// RecordFeedLatency は一覧組み立てのレイテンシを記録する。
func (c *Collector) RecordFeedLatency(sort string, duration time.Duration) {
	c.feedLatency.WithLabelValues(sort).Observe(duration.Seconds())
}

// RecordNotification は通知配送の結果を記録する。
func (c *Collector) RecordNotification(sink string, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	c.notifications.WithLabelValues(sink, result).Inc()
}

// RecordNotificationDropped はキュー満杯による破棄を記録する。
func (c *Collector) RecordNotificationDropped() {
	c.notifyDropped.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRescore はスコア再計算の結果を記録する。
func (c *Collector) RecordRescore(updated, failed int) {
	c.rescoreUpdated.Add(float64(updated))
	c.rescoreFailed.Add(float64(failed))
	c.rescoreLastRunSec.SetToCurrentTime()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクス未設定時やテストで使用する。
type Nop struct{}

var _ MetricsCollector = Nop{}

func (Nop) RecordVote(string)                       {}
func (Nop) RecordVoteConflict()                     {}
func (Nop) RecordVoteExhausted()                    {}
func (Nop) RecordIdeaCreated(bool)                  {}
func (Nop) RecordFeedLatency(string, time.Duration) {}
func (Nop) RecordNotification(string, bool)         {}
func (Nop) RecordNotificationDropped()              {}
func (Nop) RecordHTTPStatus(int)                    {}
func (Nop) RecordRescore(int, int)                  {}
