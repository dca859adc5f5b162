// Package project はプロジェクト管理のドメインロジックを提供する。
package project

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

// maxNameLength はプロジェクト名の最大文字数。
const maxNameLength = 255

// SyncTrigger はローカル変更後のバックグラウンド同期を依頼するインターフェース。
type SyncTrigger interface {
	Enqueue(userID string) bool
}

// DeletePropagator はローカル削除を外部サービスへ反映するインターフェース。
type DeletePropagator interface {
	PropagateDelete(ctx context.Context, userID string, entityType model.EntityType, entityID, externalID string) error
}

// CreateInput はプロジェクト作成の入力。
type CreateInput struct {
	Name        string
	Description *string
}

// UpdateInput はプロジェクト更新の入力。nilのフィールドは変更しない。
type UpdateInput struct {
	Name        *string
	Description *string
}

// Service はプロジェクト管理のサービス層。
type Service struct {
	repo    repository.ProjectRepository
	trigger SyncTrigger
	deleter DeletePropagator
	logger  *slog.Logger
	// now はupdated_atに使う時刻。同期エンジンのlast_synced_atと同じ時計に揃える。
	now func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.ProjectRepository,
	trigger SyncTrigger,
	deleter DeletePropagator,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:    repo,
		trigger: trigger,
		deleter: deleter,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// List はユーザーのプロジェクト一覧を返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Project, error) {
	projects, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロジェクト一覧の取得に失敗しました: %w", err)
	}
	return projects, nil
}

// Get はユーザーのプロジェクトを返す。
func (s *Service) Get(ctx context.Context, userID, projectID string) (*model.Project, error) {
	if _, err := uuid.Parse(projectID); err != nil {
		return nil, model.NewProjectNotFoundError(projectID)
	}
	p, err := s.repo.FindByID(ctx, userID, projectID)
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProjectNotFoundError(projectID)
	}
	return p, nil
}

// Create はプロジェクトを作成し、同期を依頼する。
// 作成直後のプロジェクトは外部ID未設定のPENDING状態になる。
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.Project, error) {
	name, err := validateName(in.Name)
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Project{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		Description: normalizeOptional(in.Description),
		SyncStatus:  model.SyncStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("プロジェクトの作成に失敗しました: %w", err)
	}

	s.trigger.Enqueue(userID)
	return p, nil
}

// Update はプロジェクトを更新してPENDINGに戻し、同期を依頼する。
func (s *Service) Update(ctx context.Context, userID, projectID string, in UpdateInput) (*model.Project, error) {
	p, err := s.Get(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name, err := validateName(*in.Name)
		if err != nil {
			return nil, err
		}
		p.Name = name
	}
	if in.Description != nil {
		p.Description = normalizeOptional(in.Description)
	}
	p.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("プロジェクトの更新に失敗しました: %w", err)
	}

	s.trigger.Enqueue(userID)
	return p, nil
}

// Delete はプロジェクトを削除する。
// 外部IDを持つ場合は外部サービスからの削除を試みるが、失敗してもローカル削除は続行する。
// 紐付くタスクはプロジェクト未所属になる。
func (s *Service) Delete(ctx context.Context, userID, projectID string) error {
	p, err := s.Get(ctx, userID, projectID)
	if err != nil {
		return err
	}

	if p.ExternalID != nil {
		if err := s.deleter.PropagateDelete(ctx, userID, model.EntityTypeProject, p.ID, *p.ExternalID); err != nil {
			s.logger.Warn("外部サービスのプロジェクト削除に失敗しましたがローカル削除を続行します",
				slog.String("user_id", userID),
				slog.String("entity_id", p.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.repo.Delete(ctx, userID, projectID); err != nil {
		return fmt.Errorf("プロジェクトの削除に失敗しました: %w", err)
	}
	return nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", model.NewValidationError("プロジェクト名は必須です。")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", model.NewValidationError(fmt.Sprintf("プロジェクト名は%d文字以内で入力してください。", maxNameLength))
	}
	return name, nil
}

// normalizeOptional は空白のみの文字列をnilとして扱う。
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
