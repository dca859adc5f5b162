// Package cleanup は同期ログと期限切れセッションの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過した同期ログを日次バッチで削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SyncLogPurger は古い同期ログを削除するインターフェース。
type SyncLogPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionPurger は期限切れセッションを削除するインターフェース。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は同期ログと期限切れセッションの削除ジョブ。
// 削除対象がなくてもエラーにならない。
type CleanupJob struct {
	logs          SyncLogPurger
	sessions      SessionPurger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 同期ログの保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は30日。
func NewCleanupJob(logs SyncLogPurger, sessions SessionPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		logs:          logs,
		sessions:      sessions,
		logger:        logger,
		now:           time.Now,
		RetentionDays: 30,
	}
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブに失敗しました", slog.String("error", err.Error()))
	}
}

// Run は保持期間を超過した同期ログと期限切れセッションを削除する。
// 一方の削除に失敗しても、もう一方は実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	cutoff := j.now().AddDate(0, 0, -j.RetentionDays)

	var errs []error

	logCount, err := j.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("同期ログのクリーンアップに失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		errs = append(errs, fmt.Errorf("同期ログのクリーンアップに失敗: %w", err))
	}

	sessionCount, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("期限切れセッションの削除に失敗: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", logCount),
		slog.Int64("expired_sessions", sessionCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
