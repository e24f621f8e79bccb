package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout は依存先ごとの疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// Pinger は疎通確認可能な依存先。*sql.DBや*redis.Clientのラッパーが実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc は関数をPingerとして扱うアダプタ。
type PingerFunc func(ctx context.Context) error

// PingContext はfを呼び出す。
func (f PingerFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

// NewHealthHandler は依存先の疎通を確認するヘルスチェックハンドラーを返す。
// すべて成功した場合は200、いずれかが失敗した場合は503を返す。
// GET /health
func NewHealthHandler(checks map[string]Pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))

		for name, p := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := p.PingContext(ctx)
			cancel()

			if err != nil {
				slog.Error("health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		writeJSON(w, status, map[string]any{
			"status": overall,
			"checks": results,
		})
	})
}
