// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// マジックリンク、セッションエンジン、失効、決済照合、クリーンアップの各Recorderを満たす。
type Collector struct {
	magicIssued          prometheus.Counter
	magicRedeemed        *prometheus.CounterVec
	sessionVerifications *prometheus.CounterVec
	stampCache           *prometheus.CounterVec
	revocations          *prometheus.CounterVec
	settlements          *prometheus.CounterVec
	notifications        *prometheus.CounterVec
	cleanupRows          *prometheus.CounterVec
	httpStatus           *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		magicIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subgate_magic_tokens_issued_total",
			Help: "発行したマジックトークンの合計数",
		}),
		magicRedeemed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subgate_magic_tokens_redeemed_total",
			Help: "マジックトークン検証の結果別件数",
		}, []string{"status"}),
		sessionVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subgate_session_verifications_total",
			Help: "セッション検証の結果別件数",
		}, []string{"outcome"}),
		stampCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subgate_stamp_cache_lookups_total",
			Help: "失効スタンプキャッシュのヒット・ミス件数",
		}, []string{"result"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subgate_stamp_rotations_total",
			Help: "失効スタンプのローテーション件数",
		}, []string{"reason"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subgate_settlements_total",
			Help: "決済完了通知の照合結果別件数",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subgate_bot_notifications_total",
			Help: "確定通知の送信結果別件数",
		}, []string{"result"}),
		cleanupRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subgate_cleanup_rows_total",
			Help: "クリーンアップで処理した行数",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.magicIssued,
		c.magicRedeemed,
		c.sessionVerifications,
		c.stampCache,
		c.revocations,
		c.settlements,
		c.notifications,
		c.cleanupRows,
		c.httpStatus,
	)

	return c
}

// RecordMagicTokenIssued はマジックトークンの発行を記録する。
func (c *Collector) RecordMagicTokenIssued() {
	c.magicIssued.Inc()
}

// RecordMagicTokenRedeemed はマジックトークン検証の結果を記録する。
func (c *Collector) RecordMagicTokenRedeemed(status string) {
	c.magicRedeemed.WithLabelValues(status).Inc()
}

// RecordSessionVerification はセッション検証の結果を記録する。
func (c *Collector) RecordSessionVerification(outcome string) {
	c.sessionVerifications.WithLabelValues(outcome).Inc()
}

// RecordStampCache はスタンプキャッシュのヒット・ミスを記録する。
func (c *Collector) RecordStampCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.stampCache.WithLabelValues(result).Inc()
}

// RecordRevocation はローテーションを記録する。
func (c *Collector) RecordRevocation(reason string) {
	c.revocations.WithLabelValues(reason).Inc()
}

// RecordSettlement は照合結果を記録する。
func (c *Collector) RecordSettlement(outcome string) {
	c.settlements.WithLabelValues(outcome).Inc()
}

// RecordNotification は確定通知の送信結果を記録する。
func (c *Collector) RecordNotification(ok bool) {
	result := "failed"
	if ok {
		result = "sent"
	}
	c.notifications.WithLabelValues(result).Inc()
}

// RecordCleanup はクリーンアップで処理した行数を記録する。
func (c *Collector) RecordCleanup(kind string, rows int64) {
	c.cleanupRows.WithLabelValues(kind).Add(float64(rows))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
