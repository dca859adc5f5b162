package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/tasksync/internal/model"
)

func (e *Engine) syncProjects(ctx context.Context, userID string, client RemoteClient, res *EntityResult) error {
	if err := e.pushProjects(ctx, userID, client, res); err != nil {
		return err
	}
	e.pullProjects(ctx, userID, client, res)
	return ctx.Err()
}

// pushProjects は外部IDを持たないプロジェクトを外部サービスに作成する。
// 外部IDを持つプロジェクトのローカル変更はプッシュしない。
func (e *Engine) pushProjects(ctx context.Context, userID string, client RemoteClient, res *EntityResult) error {
	projects, err := e.projects.ListNeedingPush(ctx, userID)
	if err != nil {
		return fmt.Errorf("プッシュ対象プロジェクトの取得に失敗しました: %w", err)
	}

	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.ExternalID != nil {
			continue
		}

		err := e.createRemoteProject(ctx, client, p)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			res.Failed++
			e.metrics.RecordPush(string(model.EntityTypeProject), false)
			e.markProjectFailed(ctx, p.ID, err)
			e.logSync(ctx, userID, model.EntityTypeProject, p.ID, model.SyncActionCreate, err)
			continue
		}

		res.Pushed++
		e.metrics.RecordPush(string(model.EntityTypeProject), true)
		e.logSync(ctx, userID, model.EntityTypeProject, p.ID, model.SyncActionCreate, nil)
	}
	return nil
}

func (e *Engine) createRemoteProject(ctx context.Context, client RemoteClient, p *model.Project) error {
	created, err := client.CreateProject(ctx, p.Name)
	if err != nil {
		return err
	}
	if err := e.projects.MarkSynced(ctx, p.ID, created.ID, e.now()); err != nil {
		return fmt.Errorf("外部ID %s の記録に失敗しました: %w", created.ID, err)
	}
	return nil
}

func (e *Engine) markProjectFailed(ctx context.Context, projectID string, cause error) {
	e.logger.Warn("プロジェクトのプッシュに失敗しました",
		slog.String("entity_id", projectID),
		slog.String("error", cause.Error()),
	)
	if err := e.projects.MarkFailed(ctx, projectID); err != nil {
		e.logger.Error("プロジェクトのFAILED記録に失敗しました",
			slog.String("entity_id", projectID),
			slog.String("error", err.Error()),
		)
	}
}

// pullProjects はローカルに存在しない外部プロジェクトを取り込む。
// 既存プロジェクトは更新しない。外部サービスからの取得失敗はログに記録して握りつぶす。
func (e *Engine) pullProjects(ctx context.Context, userID string, client RemoteClient, res *EntityResult) {
	remoteProjects, err := client.ListProjects(ctx)
	if err != nil {
		res.PullFailed = true
		e.metrics.RecordPullFailure(string(model.EntityTypeProject))
		e.logger.Error("外部プロジェクトのプルに失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, rp := range remoteProjects {
		if ctx.Err() != nil {
			return
		}

		existing, err := e.projects.FindByExternalID(ctx, userID, rp.ID)
		if err != nil {
			e.logPullEntityError(userID, model.EntityTypeProject, rp.ID, err)
			continue
		}
		if existing != nil {
			continue
		}

		now := e.now()
		externalID := rp.ID
		created, err := e.projects.CreatePulled(ctx, &model.Project{
			ID:           e.newID(),
			UserID:       userID,
			Name:         e.sanitizer.Sanitize(rp.Name),
			ExternalID:   &externalID,
			SyncStatus:   model.SyncStatusSynced,
			LastSyncedAt: &now,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			e.logPullEntityError(userID, model.EntityTypeProject, rp.ID, err)
			continue
		}
		if created {
			res.Pulled++
			e.metrics.RecordPull(string(model.EntityTypeProject), true)
		}
	}
}

func (e *Engine) logPullEntityError(userID string, entityType model.EntityType, externalID string, err error) {
	e.logger.Error("外部エンティティの取り込みに失敗しました",
		slog.String("user_id", userID),
		slog.String("entity_type", string(entityType)),
		slog.String("external_id", externalID),
		slog.String("error", err.Error()),
	)
}
