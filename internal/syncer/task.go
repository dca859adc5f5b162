package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/tasksync/internal/model"
	"github.com/hitoshi/tasksync/internal/remote"
)

func (e *Engine) syncTasks(ctx context.Context, userID string, client RemoteClient, res *EntityResult) error {
	if err := e.pushTasks(ctx, userID, client, res); err != nil {
		return err
	}
	e.pullTasks(ctx, userID, client, res)
	return ctx.Err()
}

// pushTasks は外部ID未設定のタスクを作成し、最終同期以降に変更されたタスクを更新する。
func (e *Engine) pushTasks(ctx context.Context, userID string, client RemoteClient, res *EntityResult) error {
	tasks, err := e.tasks.ListNeedingPush(ctx, userID)
	if err != nil {
		return fmt.Errorf("プッシュ対象タスクの取得に失敗しました: %w", err)
	}

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			action  model.SyncAction
			pushErr error
		)
		switch {
		case t.ExternalID == nil:
			action = model.SyncActionCreate
			pushErr = e.createRemoteTask(ctx, client, t)
		case locallyModified(t.UpdatedAt, t.LastSyncedAt):
			action = model.SyncActionUpdate
			pushErr = e.updateRemoteTask(ctx, client, t)
		default:
			continue
		}

		if pushErr != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if pushErr != nil {
			res.Failed++
			e.metrics.RecordPush(string(model.EntityTypeTask), false)
			e.markTaskFailed(ctx, t.ID, pushErr)
			e.logSync(ctx, userID, model.EntityTypeTask, t.ID, model.SyncActionSync, pushErr)
			continue
		}

		res.Pushed++
		e.metrics.RecordPush(string(model.EntityTypeTask), true)
		e.logSync(ctx, userID, model.EntityTypeTask, t.ID, action, nil)
	}
	return nil
}

func (e *Engine) createRemoteTask(ctx context.Context, client RemoteClient, t *model.PushTask) error {
	created, err := client.CreateTask(ctx, t.Title, deref(t.Description), deref(t.ProjectExternalID))
	if err != nil {
		return err
	}
	if err := e.tasks.MarkSynced(ctx, t.ID, created.ID, e.now()); err != nil {
		return fmt.Errorf("外部ID %s の記録に失敗しました: %w", created.ID, err)
	}
	return nil
}

// updateRemoteTask はタイトルと説明を更新し、完了済みなら外部側もクローズする。
// ローカルで未完了に戻しても外部側の再オープンは行わない。
func (e *Engine) updateRemoteTask(ctx context.Context, client RemoteClient, t *model.PushTask) error {
	externalID := *t.ExternalID
	if _, err := client.UpdateTask(ctx, externalID, t.Title, deref(t.Description)); err != nil {
		return err
	}
	if t.Completed {
		if err := client.CloseTask(ctx, externalID); err != nil {
			return err
		}
	}
	if err := e.tasks.MarkSynced(ctx, t.ID, externalID, e.now()); err != nil {
		return fmt.Errorf("同期結果の記録に失敗しました: %w", err)
	}
	return nil
}

func (e *Engine) markTaskFailed(ctx context.Context, taskID string, cause error) {
	e.logger.Warn("タスクのプッシュに失敗しました",
		slog.String("entity_id", taskID),
		slog.String("error", cause.Error()),
	)
	if err := e.tasks.MarkFailed(ctx, taskID); err != nil {
		e.logger.Error("タスクのFAILED記録に失敗しました",
			slog.String("entity_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

// pullTasks は外部タスクを取り込む。未知のタスクは新規作成し、
// 既知のタスクは外部の最終更新が最終同期より新しい場合のみ上書きする。
func (e *Engine) pullTasks(ctx context.Context, userID string, client RemoteClient, res *EntityResult) {
	remoteTasks, err := client.ListTasks(ctx, "")
	if err != nil {
		res.PullFailed = true
		e.metrics.RecordPullFailure(string(model.EntityTypeTask))
		e.logger.Error("外部タスクのプルに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	projects := newProjectResolver(e, userID)
	for _, rt := range remoteTasks {
		if ctx.Err() != nil {
			return
		}
		if err := e.pullTask(ctx, userID, rt, projects, res); err != nil {
			e.logPullEntityError(userID, model.EntityTypeTask, rt.ID, err)
		}
	}
}

func (e *Engine) pullTask(ctx context.Context, userID string, rt remote.Task, projects *projectResolver, res *EntityResult) error {
	projectID, err := projects.resolve(ctx, rt.ProjectID)
	if err != nil {
		return err
	}
	var description *string
	if rt.Description != "" {
		description = e.sanitizer.SanitizePtr(&rt.Description)
	}
	fields := model.RemoteTaskFields{
		Title:       e.sanitizer.Sanitize(rt.Content),
		Description: description,
		Completed:   rt.IsCompleted,
		ProjectID:   projectID,
	}

	existing, err := e.tasks.FindByExternalID(ctx, userID, rt.ID)
	if err != nil {
		return err
	}

	now := e.now()
	if existing == nil {
		externalID := rt.ID
		created, err := e.tasks.CreatePulled(ctx, &model.Task{
			ID:           e.newID(),
			UserID:       userID,
			ProjectID:    fields.ProjectID,
			Title:        fields.Title,
			Description:  fields.Description,
			Completed:    fields.Completed,
			ExternalID:   &externalID,
			SyncStatus:   model.SyncStatusSynced,
			LastSyncedAt: &now,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		if created {
			res.Pulled++
			e.metrics.RecordPull(string(model.EntityTypeTask), true)
		}
		return nil
	}

	if !RemoteWins(rt.LastModified(), existing.LastSyncedAt) {
		return nil
	}
	if err := e.tasks.ApplyRemote(ctx, existing.ID, fields, now); err != nil {
		return err
	}
	res.Overwritten++
	e.metrics.RecordPull(string(model.EntityTypeTask), false)
	return nil
}

// projectResolver は外部プロジェクトIDをローカルのプロジェクトIDに解決する。
// 1回のプル中は結果をキャッシュする。
type projectResolver struct {
	engine *Engine
	userID string
	cache  map[string]*string
}

func newProjectResolver(e *Engine, userID string) *projectResolver {
	return &projectResolver{engine: e, userID: userID, cache: make(map[string]*string)}
}

// resolve はローカルのプロジェクトIDを返す。外部プロジェクトIDが空か、
// ローカルに対応するプロジェクトがない場合はnilを返す。
func (r *projectResolver) resolve(ctx context.Context, externalID string) (*string, error) {
	if externalID == "" {
		return nil, nil
	}
	if id, ok := r.cache[externalID]; ok {
		return id, nil
	}
	p, err := r.engine.projects.FindByExternalID(ctx, r.userID, externalID)
	if err != nil {
		return nil, fmt.Errorf("プロジェクト %s の解決に失敗しました: %w", externalID, err)
	}
	var id *string
	if p != nil {
		id = &p.ID
	}
	r.cache[externalID] = id
	return id, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
