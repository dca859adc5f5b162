package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tasksync/internal/middleware"
	"github.com/hitoshi/tasksync/internal/model"
	"github.com/hitoshi/tasksync/internal/project"
	"github.com/hitoshi/tasksync/internal/syncer"
	"github.com/hitoshi/tasksync/internal/task"
)

// --- モック定義 ---

type mockProjectService struct {
	listFn   func(ctx context.Context, userID string) ([]*model.Project, error)
	getFn    func(ctx context.Context, userID, projectID string) (*model.Project, error)
	createFn func(ctx context.Context, userID string, in project.CreateInput) (*model.Project, error)
	updateFn func(ctx context.Context, userID, projectID string, in project.UpdateInput) (*model.Project, error)
	deleteFn func(ctx context.Context, userID, projectID string) error
}

func (m *mockProjectService) List(ctx context.Context, userID string) ([]*model.Project, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []*model.Project{}, nil
}

func (m *mockProjectService) Get(ctx context.Context, userID, projectID string) (*model.Project, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, projectID)
	}
	return nil, model.NewProjectNotFoundError(projectID)
}

func (m *mockProjectService) Create(ctx context.Context, userID string, in project.CreateInput) (*model.Project, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return &model.Project{ID: "p-new", UserID: userID, Name: in.Name, SyncStatus: model.SyncStatusPending}, nil
}

func (m *mockProjectService) Update(ctx context.Context, userID, projectID string, in project.UpdateInput) (*model.Project, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, projectID, in)
	}
	return nil, model.NewProjectNotFoundError(projectID)
}

func (m *mockProjectService) Delete(ctx context.Context, userID, projectID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, projectID)
	}
	return nil
}

type mockTaskService struct {
	listFn   func(ctx context.Context, userID string, filter task.ListFilter) ([]*model.Task, error)
	getFn    func(ctx context.Context, userID, taskID string) (*model.Task, error)
	createFn func(ctx context.Context, userID string, in task.CreateInput) (*model.Task, error)
	updateFn func(ctx context.Context, userID, taskID string, in task.UpdateInput) (*model.Task, error)
	deleteFn func(ctx context.Context, userID, taskID string) error
}

func (m *mockTaskService) List(ctx context.Context, userID string, filter task.ListFilter) ([]*model.Task, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, filter)
	}
	return []*model.Task{}, nil
}

func (m *mockTaskService) Get(ctx context.Context, userID, taskID string) (*model.Task, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, taskID)
	}
	return nil, model.NewTaskNotFoundError(taskID)
}

func (m *mockTaskService) Create(ctx context.Context, userID string, in task.CreateInput) (*model.Task, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, in)
	}
	return &model.Task{ID: "t-new", UserID: userID, Title: in.Title, SyncStatus: model.SyncStatusPending}, nil
}

func (m *mockTaskService) Update(ctx context.Context, userID, taskID string, in task.UpdateInput) (*model.Task, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, taskID, in)
	}
	return nil, model.NewTaskNotFoundError(taskID)
}

func (m *mockTaskService) Delete(ctx context.Context, userID, taskID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, taskID)
	}
	return nil
}

type mockUserService struct {
	getProfileFn func(ctx context.Context, userID string) (*model.User, error)
	connectFn    func(ctx context.Context, userID, token string) (*model.User, error)
	disconnectFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, userID)
	}
	return &model.User{ID: userID, Email: userID + "@example.com", Name: userID}, nil
}

func (m *mockUserService) ConnectRemote(ctx context.Context, userID, token string) (*model.User, error) {
	if m.connectFn != nil {
		return m.connectFn(ctx, userID, token)
	}
	return &model.User{ID: userID, RemoteToken: &token}, nil
}

func (m *mockUserService) DisconnectRemote(ctx context.Context, userID string) error {
	if m.disconnectFn != nil {
		return m.disconnectFn(ctx, userID)
	}
	return nil
}

type mockSyncService struct {
	syncFn   func(ctx context.Context, userID string) (*syncer.Result, error)
	retryFn  func(ctx context.Context, userID string) (*syncer.Result, error)
	statusFn func(ctx context.Context, userID string, recentLogs int) (*syncer.StatusReport, error)
}

func (m *mockSyncService) SyncUserData(ctx context.Context, userID string) (*syncer.Result, error) {
	if m.syncFn != nil {
		return m.syncFn(ctx, userID)
	}
	return &syncer.Result{UserID: userID}, nil
}

func (m *mockSyncService) RetryFailedSyncs(ctx context.Context, userID string) (*syncer.Result, error) {
	if m.retryFn != nil {
		return m.retryFn(ctx, userID)
	}
	return &syncer.Result{UserID: userID}, nil
}

func (m *mockSyncService) Status(ctx context.Context, userID string, recentLogs int) (*syncer.StatusReport, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, userID, recentLogs)
	}
	return &syncer.StatusReport{}, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// --- テストヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
}
