// Package sweep は期限切れセッションの定期削除ジョブを提供する。
// 1回の削除件数をバッチサイズで制限し、バッチ間に待機を挟むことで
// セッションストアを長時間占有しないようにする。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lokashrinav/LanguaLegacy-sub000/internal/metrics"
)

// 既定値
const (
	DefaultBatchSize  = 500
	DefaultMaxBatches = 100
	DefaultPause      = 100 * time.Millisecond
)

// ExpiredDeleter は期限切れセッションの削除を抽象化するインターフェース。
// repository.SessionRepository を受け付けることができる。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, limit int) (int64, error)
}

// SweepJob は期限切れセッションの削除ジョブ。
// 冪等であり、削除対象がない場合でもエラーにならない。
type SweepJob struct {
	store      ExpiredDeleter
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	BatchSize  int           // 1バッチで削除する最大件数（デフォルト: 500）
	MaxBatches int           // 1回の実行で処理する最大バッチ数（デフォルト: 100）
	Pause      time.Duration // バッチ間の待機時間（デフォルト: 100ms）
}

// NewSweepJob は新しいSweepJobを生成する。
func NewSweepJob(store ExpiredDeleter, logger *slog.Logger, mc metrics.MetricsCollector) *SweepJob {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &SweepJob{
		store:      store,
		logger:     logger,
		metrics:    mc,
		BatchSize:  DefaultBatchSize,
		MaxBatches: DefaultMaxBatches,
		Pause:      DefaultPause,
	}
}

// Run は期限切れセッションをバッチ単位で削除し、削除件数の合計を返す。
// バッチの削除件数がBatchSize未満になるか、MaxBatchesに達するか、
// コンテキストがキャンセルされた時点で終了する。
func (j *SweepJob) Run(ctx context.Context) (int64, error) {
	start := time.Now()

	var total int64
	batches := 0
	for batches < j.MaxBatches {
		n, err := j.store.DeleteExpired(ctx, j.BatchSize)
		if err != nil {
			j.logger.Error("期限切れセッションの削除に失敗しました",
				slog.String("error", err.Error()),
				slog.Int64("deleted_count", total),
			)
			j.metrics.RecordSessionsSwept(total)
			return total, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
		}
		total += n
		batches++

		if n < int64(j.BatchSize) {
			break
		}

		select {
		case <-ctx.Done():
			j.metrics.RecordSessionsSwept(total)
			return total, ctx.Err()
		case <-time.After(j.Pause):
		}
	}

	j.metrics.RecordSessionsSwept(total)

	j.logger.Info("期限切れセッションの削除が完了しました",
		slog.Int64("deleted_count", total),
		slog.Int("batches", batches),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return total, nil
}

// Start は起動直後に1回実行し、その後interval間隔でRunを繰り返す。
// コンテキストがキャンセルされるまでブロックする。
func (j *SweepJob) Start(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *SweepJob) runOnce(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("sweep job failed", slog.String("error", err.Error()))
	}
}
