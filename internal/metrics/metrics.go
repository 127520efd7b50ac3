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
// 認証ゲート、IdPクライアント、アクティビティ追跡、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	ObserveResolution(result string)
	ObserveIdentityLatency(op string, duration time.Duration)
	ObserveSessionExpired()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	resolutions     *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	identityLatency *prometheus.HistogramVec
	sessionsExpired prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unimarket_actor_resolutions_total",
			Help: "行為者解決の結果別の件数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unimarket_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		identityLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "unimarket_identity_latency_seconds",
			Help:    "IdP呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		sessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "unimarket_sessions_expired_total",
			Help: "非アクティブタイムアウトで失効したセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.resolutions,
		c.httpStatus,
		c.identityLatency,
		c.sessionsExpired,
	)

	return c
}

// ObserveResolution は行為者解決の結果（actor, anonymous, invalid, unavailable）を記録する。
func (c *Collector) ObserveResolution(result string) {
	c.resolutions.WithLabelValues(result).Inc()
}

// ObserveIdentityLatency はIdP呼び出しのレイテンシを記録する。
func (c *Collector) ObserveIdentityLatency(op string, duration time.Duration) {
	c.identityLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveSessionExpired はセッション失効を記録する。
func (c *Collector) ObserveSessionExpired() {
	c.sessionsExpired.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// statusRecorder はレスポンスのステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware はレスポンスのステータスコードを記録するミドルウェアを返す。
func Middleware(c MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			c.RecordHTTPStatus(rec.statusCode)
		})
	}
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 収集中のエラーは500にせず、取得できたメトリクスだけを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}
