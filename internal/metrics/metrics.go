// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/acadtrust/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 検証方式のラベル値
const (
	MethodORCID   = "orcid"
	MethodDOI     = "doi"
	MethodStudent = "student_email"
)

// 検証結果のラベル値
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 検証サービスやワーカーから利用する。
type MetricsCollector interface {
	RecordVerification(method, result string)
	RecordExternalLatency(service string, duration time.Duration)
	RecordTrustUpgrade(level model.TrustLevel)
	RecordCommentCreated(approved bool)
	RecordTokensSwept(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	verifications   *prometheus.CounterVec
	externalLatency *prometheus.HistogramVec
	trustUpgrades   *prometheus.CounterVec
	commentsCreated *prometheus.CounterVec
	tokensSwept     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acadtrust_verification_total",
			Help: "検証方式・結果別の検証試行数",
		}, []string{"method", "result"}),
		externalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acadtrust_external_latency_seconds",
			Help:    "外部サービス呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"service"}),
		trustUpgrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acadtrust_trust_upgrades_total",
			Help: "到達した信頼レベル別の昇格数",
		}, []string{"level"}),
		commentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "acadtrust_comments_created_total",
			Help: "自動承認の有無別の作成コメント数",
		}, []string{"approved"}),
		tokensSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "acadtrust_tokens_swept_total",
			Help: "削除された期限切れメール検証トークンの合計数",
		}),
	}

	reg.MustRegister(
		c.verifications,
		c.externalLatency,
		c.trustUpgrades,
		c.commentsCreated,
		c.tokensSwept,
	)

	return c
}

// RecordVerification は検証試行の結果を記録する。
func (c *Collector) RecordVerification(method, result string) {
	c.verifications.WithLabelValues(method, result).Inc()
}

// RecordExternalLatency は外部サービス呼び出しのレイテンシを記録する。
func (c *Collector) RecordExternalLatency(service string, duration time.Duration) {
	c.externalLatency.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordTrustUpgrade は信頼レベルの昇格を記録する。
func (c *Collector) RecordTrustUpgrade(level model.TrustLevel) {
	c.trustUpgrades.WithLabelValues(string(level)).Inc()
}

// RecordCommentCreated はコメント作成を記録する。
func (c *Collector) RecordCommentCreated(approved bool) {
	c.commentsCreated.WithLabelValues(strconv.FormatBool(approved)).Inc()
}

// RecordTokensSwept は削除された期限切れトークン数を記録する。
func (c *Collector) RecordTokensSwept(count int64) {
	c.tokensSwept.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordVerification(string, string)           {}
func (Nop) RecordExternalLatency(string, time.Duration) {}
func (Nop) RecordTrustUpgrade(model.TrustLevel)         {}
func (Nop) RecordCommentCreated(bool)                   {}
func (Nop) RecordTokensSwept(int64)                     {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
