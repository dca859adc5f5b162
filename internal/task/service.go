// Package task はタスク管理のドメインロジックを提供する。
package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/tasksync/internal/model"
	"github.com/hitoshi/tasksync/internal/repository"
)

// maxTitleLength はタスクタイトルの最大文字数。
const maxTitleLength = 500

// SyncTrigger はローカル変更後のバックグラウンド同期を依頼するインターフェース。
type SyncTrigger interface {
	Enqueue(userID string) bool
}

// DeletePropagator はローカル削除を外部サービスへ反映するインターフェース。
type DeletePropagator interface {
	PropagateDelete(ctx context.Context, userID string, entityType model.EntityType, entityID, externalID string) error
}

// ProjectFinder は所属プロジェクトの存在確認に使うインターフェース。
type ProjectFinder interface {
	FindByID(ctx context.Context, userID, id string) (*model.Project, error)
}

// CreateInput はタスク作成の入力。
type CreateInput struct {
	Title       string
	Description *string
	ProjectID   *string
}

// UpdateInput はタスク更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Title       *string
	Description *string
	Completed   *bool
	// ProjectID に空文字を指定するとプロジェクト未所属になる。
	ProjectID *string
}

// ListFilter はタスク一覧の絞り込み条件。
type ListFilter struct {
	ProjectID *string
	Completed *bool
}

// Service はタスク管理のサービス層。
type Service struct {
	repo     repository.TaskRepository
	projects ProjectFinder
	trigger  SyncTrigger
	deleter  DeletePropagator
	logger   *slog.Logger
	// now はupdated_atに使う時刻。同期エンジンのlast_synced_atと同じ時計に揃える。
	now func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.TaskRepository,
	projects ProjectFinder,
	trigger SyncTrigger,
	deleter DeletePropagator,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		projects: projects,
		trigger:  trigger,
		deleter:  deleter,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// List はユーザーのタスク一覧を返す。
func (s *Service) List(ctx context.Context, userID string, filter ListFilter) ([]*model.Task, error) {
	if filter.ProjectID != nil {
		if _, err := uuid.Parse(*filter.ProjectID); err != nil {
			return []*model.Task{}, nil
		}
	}
	tasks, err := s.repo.List(ctx, userID, model.TaskFilter{
		ProjectID: filter.ProjectID,
		Completed: filter.Completed,
	})
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	return tasks, nil
}

// Get はユーザーのタスクを返す。
func (s *Service) Get(ctx context.Context, userID, taskID string) (*model.Task, error) {
	if _, err := uuid.Parse(taskID); err != nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	t, err := s.repo.FindByID(ctx, userID, taskID)
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	if t == nil {
		return nil, model.NewTaskNotFoundError(taskID)
	}
	return t, nil
}

// Create はタスクを作成し、同期を依頼する。
// 作成直後のタスクは外部ID未設定のPENDING状態になる。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Task, error) {
	title, err := validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	projectID, err := s.resolveProject(ctx, userID, in.ProjectID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t := &model.Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProjectID:   projectID,
		Title:       title,
		Description: normalizeOptional(in.Description),
		SyncStatus:  model.SyncStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}

	s.trigger.Enqueue(userID)
	return t, nil
}

// Update はタスクを更新してPENDINGに戻し、同期を依頼する。
func (s *Service) Update(ctx context.Context, userID, taskID string, in UpdateInput) (*model.Task, error) {
	t, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if in.Title != nil {
		title, err := validateTitle(*in.Title)
		if err != nil {
			return nil, err
		}
		t.Title = title
	}
	if in.Description != nil {
		t.Description = normalizeOptional(in.Description)
	}
	if in.Completed != nil {
		t.Completed = *in.Completed
	}
	if in.ProjectID != nil {
		projectID, err := s.resolveProject(ctx, userID, in.ProjectID)
		if err != nil {
			return nil, err
		}
		t.ProjectID = projectID
	}
	t.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, t); err != nil {
		return nil, fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}

	s.trigger.Enqueue(userID)
	return t, nil
}

// Delete はタスクを削除する。
// 外部IDを持つ場合は外部サービスからの削除を試みるが、失敗してもローカル削除は続行する。
func (s *Service) Delete(ctx context.Context, userID, taskID string) error {
	t, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return err
	}

	if t.ExternalID != nil {
		if err := s.deleter.PropagateDelete(ctx, userID, model.EntityTypeTask, t.ID, *t.ExternalID); err != nil {
			s.logger.Warn("外部サービスのタスク削除に失敗しましたがローカル削除を続行します",
				slog.String("user_id", userID),
				slog.String("entity_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.repo.Delete(ctx, userID, taskID); err != nil {
		return fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}
	return nil
}

// resolveProject は指定プロジェクトがユーザーのものか確認する。
// nilまたは空文字の場合はプロジェクト未所属としてnilを返す。
func (s *Service) resolveProject(ctx context.Context, userID string, projectID *string) (*string, error) {
	if projectID == nil || *projectID == "" {
		return nil, nil
	}
	id := *projectID
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewProjectNotFoundError(id)
	}
	p, err := s.projects.FindByID(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProjectNotFoundError(id)
	}
	return &id, nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", model.NewValidationError("タスクのタイトルは必須です。")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return "", model.NewValidationError(fmt.Sprintf("タスクのタイトルは%d文字以内で入力してください。", maxTitleLength))
	}
	return title, nil
}

func normalizeOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
