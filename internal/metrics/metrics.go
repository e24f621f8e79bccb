// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン結果のラベル値。
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービス、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordLogin(method, result string)
	RecordRegistration()
	RecordSessionRegenerated()
	RecordAuthzDenied(reason string)
	RecordSessionsSwept(count int64)
	RecordPasswordHash(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	logins             *prometheus.CounterVec
	registrations      prometheus.Counter
	sessionRegenerated prometheus.Counter
	authzDenied        *prometheus.CounterVec
	sessionsSwept      prometheus.Counter
	passwordHash       prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langualegacy_auth_login_total",
			Help: "ログイン試行の合計数（方式・結果別）",
		}, []string{"method", "result"}),
		registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "langualegacy_auth_registrations_total",
			Help: "ローカルアカウント登録の合計数",
		}),
		sessionRegenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "langualegacy_sessions_regenerated_total",
			Help: "認証時に再生成されたセッションの合計数",
		}),
		authzDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "langualegacy_authz_denied_total",
			Help: "認可ゲートで拒否されたリクエスト数（理由別）",
		}, []string{"reason"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "langualegacy_sessions_swept_total",
			Help: "スイーパーが削除した期限切れセッションの合計数",
		}),
		passwordHash: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "langualegacy_password_hash_seconds",
			Help:    "パスワードハッシュ計算・検証の所要時間（秒）",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}

	reg.MustRegister(
		c.logins,
		c.registrations,
		c.sessionRegenerated,
		c.authzDenied,
		c.sessionsSwept,
		c.passwordHash,
	)

	return c
}

// RecordLogin はログイン試行を記録する。
func (c *Collector) RecordLogin(method, result string) {
	c.logins.WithLabelValues(method, result).Inc()
}

// RecordRegistration はアカウント登録を記録する。
func (c *Collector) RecordRegistration() {
	c.registrations.Inc()
}

// RecordSessionRegenerated はセッション再生成を記録する。
func (c *Collector) RecordSessionRegenerated() {
	c.sessionRegenerated.Inc()
}

// RecordAuthzDenied は認可拒否を記録する。reasonは "unauthorized" または "forbidden"。
func (c *Collector) RecordAuthzDenied(reason string) {
	c.authzDenied.WithLabelValues(reason).Inc()
}

// RecordSessionsSwept は削除された期限切れセッション数を記録する。
func (c *Collector) RecordSessionsSwept(count int64) {
	c.sessionsSwept.Add(float64(count))
}

// RecordPasswordHash はハッシュ処理の所要時間を記録する。
func (c *Collector) RecordPasswordHash(duration time.Duration) {
	c.passwordHash.Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordLogin(string, string)        {}
func (Nop) RecordRegistration()               {}
func (Nop) RecordSessionRegenerated()         {}
func (Nop) RecordAuthzDenied(string)          {}
func (Nop) RecordSessionsSwept(int64)         {}
func (Nop) RecordPasswordHash(time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
