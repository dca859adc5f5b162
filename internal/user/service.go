// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/tasksync/internal/model"
	"github.com/hitoshi/tasksync/internal/repository"
)

// SyncTrigger は連携直後の初回同期を依頼するインターフェース。
type SyncTrigger interface {
	Enqueue(userID string) bool
}

// Service はユーザー管理のサービス層。
// 外部タスクサービスとの連携・連携解除を提供する。
type Service struct {
	userRepo repository.UserRepository
	trigger  SyncTrigger
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	trigger SyncTrigger,
	logger *slog.Logger,
) *Service {
	return &Service{
		userRepo: userRepo,
		trigger:  trigger,
		logger:   logger,
	}
}

// GetProfile はユーザー情報を返す。
func (s *Service) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// ConnectRemote は外部タスクサービスの認証情報を登録し、初回同期を依頼する。
func (s *Service) ConnectRemote(ctx context.Context, userID, token string) (*model.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, model.NewValidationError("APIトークンは必須です。")
	}

	user, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.UpdateRemoteToken(ctx, userID, &token); err != nil {
		return nil, fmt.Errorf("APIトークンの保存に失敗しました: %w", err)
	}
	user.RemoteToken = &token

	s.logger.Info("外部タスクサービスと連携しました", slog.String("user_id", userID))
	s.trigger.Enqueue(userID)
	return user, nil
}

// DisconnectRemote は外部タスクサービスの認証情報を削除する。
// ローカルのプロジェクトとタスクは外部IDを保持したまま残る。
func (s *Service) DisconnectRemote(ctx context.Context, userID string) error {
	if _, err := s.GetProfile(ctx, userID); err != nil {
		return err
	}
	if err := s.userRepo.UpdateRemoteToken(ctx, userID, nil); err != nil {
		return fmt.Errorf("APIトークンの削除に失敗しました: %w", err)
	}

	s.logger.Info("外部タスクサービスとの連携を解除しました", slog.String("user_id", userID))
	return nil
}
