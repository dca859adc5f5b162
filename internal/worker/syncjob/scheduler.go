// Package syncjob は同期エンジンのバックグラウンド実行を提供する。
// 定期実行のスケジューラと、ローカル変更後に同期を依頼するトリガーキューを含む。
package syncjob

import (
	"context"
	"log/slog"
	"time"
)

// AllUsersSyncer は連携済み全ユーザーの同期を実行するインターフェース。
type AllUsersSyncer interface {
	SyncAllUsers(ctx context.Context) error
}

// Scheduler は一定間隔で全ユーザーの同期サイクルを実行する。
type Scheduler struct {
	syncer AllUsersSyncer
	logger *slog.Logger
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(syncer AllUsersSyncer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer: syncer,
		logger: logger,
	}
}

// Start はintervalごとに同期サイクルを実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	s.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

// RunOnce は同期サイクルを1回実行する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.syncer.SyncAllUsers(ctx)
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
