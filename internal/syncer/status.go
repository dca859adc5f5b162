package syncer

import (
	"context"
	"fmt"

	"github.com/hitoshi/tasksync/internal/model"
)

// DefaultRecentLogs はStatusが返す同期ログの既定件数。
const DefaultRecentLogs = 20

// StatusReport はユーザーの同期状態のスナップショット。
type StatusReport struct {
	Summary    model.StatusSummary
	Projects   []*model.Project
	Tasks      []*model.Task
	RecentLogs []*model.SyncLog
	Syncing    bool
}

// Status は同期状態の集計、全プロジェクト・タスク、直近の同期ログを返す。
// 同期処理は行わない。
func (e *Engine) Status(ctx context.Context, userID string, recentLogs int) (*StatusReport, error) {
	if recentLogs <= 0 {
		recentLogs = DefaultRecentLogs
	}

	projectCounts, err := e.projects.CountByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count projects: %w", err)
	}
	taskCounts, err := e.tasks.CountByStatus(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	projects, err := e.projects.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	tasks, err := e.tasks.List(ctx, userID, model.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	logs, err := e.logs.ListRecent(ctx, userID, recentLogs)
	if err != nil {
		return nil, fmt.Errorf("list recent sync logs: %w", err)
	}

	return &StatusReport{
		Summary: model.StatusSummary{
			Projects: projectCounts,
			Tasks:    taskCounts,
		},
		Projects:   projects,
		Tasks:      tasks,
		RecentLogs: logs,
		Syncing:    e.IsRunning(userID),
	}, nil
}
