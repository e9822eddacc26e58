// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 現在はメール検証トークンのうち有効期限を過ぎたものを削除する。
// 期限切れトークンは削除前でも消費できないため、実行間隔は整合性に影響しない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/acadtrust/internal/metrics"
)

// defaultInterval はStartにintervalが指定されなかった場合の実行間隔。
const defaultInterval = time.Hour

// TokenSweeper は期限切れトークンを削除し、件数を返すインターフェース。
// academic.Verifierが実装する。
type TokenSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れのメール検証トークンを削除するジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sweeper TokenSweeper
	metrics metrics.MetricsCollector
	logger  *slog.Logger
}

// NewCleanupJob は新しいCleanupJobを生成する。collectorがnilの場合は記録しない。
func NewCleanupJob(sweeper TokenSweeper, collector metrics.MetricsCollector, logger *slog.Logger) *CleanupJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &CleanupJob{
		sweeper: sweeper,
		metrics: collector,
		logger:  logger,
	}
}

// Run は期限切れトークンの削除を1回実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sweeper.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("検証トークンのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("検証トークンのクリーンアップに失敗: %w", err)
	}

	j.metrics.RecordTokensSwept(deleted)

	duration := time.Since(start)
	j.logger.Info("検証トークンのクリーンアップが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回実行した後、interval間隔でRunを繰り返す。
// コンテキストがキャンセルされるまで戻らない。失敗は記録して次の周期に持ち越す。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInterval
	}

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// Runは失敗を自分でログに記録する
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
