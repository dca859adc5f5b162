package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/tasksync/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*model.User, error)
	// ConnectRemote は外部タスクサービスのAPIトークンを保存し、初回同期を依頼する。
	ConnectRemote(ctx context.Context, userID, token string) (*model.User, error)
	// DisconnectRemote はAPIトークンを削除する。ローカルのデータは残る。
	DisconnectRemote(ctx context.Context, userID string) error
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	logger  *slog.Logger
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		service: service,
		logger:  logger,
	}
}

type connectRemoteRequest struct {
	Token string `json:"token"`
}

// userResponse はユーザープロフィールのAPIレスポンス。トークン自体は返さない。
type userResponse struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	RemoteConnected bool      `json:"remoteConnected"`
	CreatedAt       time.Time `json:"createdAt"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		RemoteConnected: u.IsConnected(),
		CreatedAt:       u.CreatedAt,
	}
}

// Profile はログインユーザーのプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	u, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// ConnectRemote は外部タスクサービスと連携する。
// PUT /api/users/me/remote-token
func (h *UserHandler) ConnectRemote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req connectRemoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.ConnectRemote(r.Context(), userID, req.Token)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// DisconnectRemote は外部タスクサービスとの連携を解除する。
// DELETE /api/users/me/remote-token
func (h *UserHandler) DisconnectRemote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.DisconnectRemote(r.Context(), userID); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
