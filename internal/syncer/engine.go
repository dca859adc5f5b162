// Package syncer はローカルストアと外部タスクサービスの双方向同期エンジンを提供する。
//
// 1ユーザーの同期はプロジェクト → タスクの順に、それぞれプッシュ → プルで行う。
// エンティティ単位の失敗はそのエンティティのsync_statusと同期ログに記録し、
// バッチ全体は中断しない。
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/tasksync/internal/metrics"
	"github.com/hitoshi/tasksync/internal/model"
	"github.com/hitoshi/tasksync/internal/remote"
	"github.com/hitoshi/tasksync/internal/repository"
)

var (
	// ErrNotConnected はユーザーが外部サービスの認証情報を持たないことを示す。
	ErrNotConnected = errors.New("user is not connected to the remote task service")
	// ErrSyncInProgress は同一ユーザーの同期が既に実行中であることを示す。
	ErrSyncInProgress = errors.New("sync is already in progress for this user")
	// ErrUserNotFound はユーザーが存在しないことを示す。
	ErrUserNotFound = errors.New("user not found")
)

// RemoteClient は同期エンジンが利用する外部サービスの操作。
type RemoteClient interface {
	ListProjects(ctx context.Context) ([]remote.Project, error)
	CreateProject(ctx context.Context, name string) (*remote.Project, error)
	DeleteProject(ctx context.Context, id string) error
	ListTasks(ctx context.Context, projectID string) ([]remote.Task, error)
	CreateTask(ctx context.Context, title, description, projectID string) (*remote.Task, error)
	UpdateTask(ctx context.Context, id, title, description string) (*remote.Task, error)
	CloseTask(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error
}

// ClientFactory は認証情報からRemoteClientを生成する。
type ClientFactory interface {
	ForToken(token string) RemoteClient
}

// ClientFactoryFunc は関数をClientFactoryとして扱うアダプタ。
type ClientFactoryFunc func(token string) RemoteClient

// ForToken はf(token)を返す。
func (f ClientFactoryFunc) ForToken(token string) RemoteClient {
	return f(token)
}

// TextSanitizer はプルしたテキストを保存前に整形する。
type TextSanitizer interface {
	Sanitize(text string) string
	SanitizePtr(text *string) *string
}

// Metrics は同期エンジンが記録するメトリクス。
type Metrics interface {
	RecordSyncRun(result string, duration time.Duration)
	RecordPush(entityType string, success bool)
	RecordPull(entityType string, created bool)
	RecordPullFailure(entityType string)
	RecordSyncLogWriteFailure()
}

// Repositories は同期エンジンが読み書きするリポジトリ群。
type Repositories struct {
	Users    repository.UserRepository
	Projects repository.ProjectRepository
	Tasks    repository.TaskRepository
	Logs     repository.SyncLogRepository
	// Locks はプロセスをまたぐ同期実行権。nilならこのプロセス内でのみ排他する。
	Locks repository.SyncLockRepository
}

// Config は同期エンジンの設定。
type Config struct {
	// MaxConcurrentUsers はSyncAllUsersで同時に同期するユーザー数の上限。1以下なら逐次実行。
	MaxConcurrentUsers int
	// RunTimeout はSyncAllUsersにおける1ユーザーあたりの同期時間の上限。0なら無制限。
	RunTimeout time.Duration
}

// DefaultConfig はデフォルトの同期エンジン設定を返す。
func DefaultConfig() Config {
	return Config{
		MaxConcurrentUsers: 1,
		RunTimeout:         2 * time.Minute,
	}
}

// Engine は双方向同期エンジン。
type Engine struct {
	users     repository.UserRepository
	projects  repository.ProjectRepository
	tasks     repository.TaskRepository
	logs      repository.SyncLogRepository
	locks     repository.SyncLockRepository
	clients   ClientFactory
	sanitizer TextSanitizer
	metrics   Metrics
	logger    *slog.Logger
	config    Config
	running   *runGuard

	now   func() time.Time
	newID func() string
}

// NewEngine はEngineを生成する。sanitizerとmetricsはnilでもよい。
func NewEngine(
	repos Repositories,
	clients ClientFactory,
	sanitizer TextSanitizer,
	m Metrics,
	logger *slog.Logger,
	config Config,
) *Engine {
	if sanitizer == nil {
		sanitizer = passthroughSanitizer{}
	}
	if m == nil {
		m = noopMetrics{}
	}
	if config.MaxConcurrentUsers <= 0 {
		config.MaxConcurrentUsers = 1
	}
	return &Engine{
		users:     repos.Users,
		projects:  repos.Projects,
		tasks:     repos.Tasks,
		logs:      repos.Logs,
		locks:     repos.Locks,
		clients:   clients,
		sanitizer: sanitizer,
		metrics:   m,
		logger:    logger,
		config:    config,
		running:   newRunGuard(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// SyncUserData は1ユーザーのプロジェクトとタスクを同期する。
// 認証情報がない場合はErrNotConnectedを返し、何も変更しない。
// 同一ユーザーの同期が実行中の場合はErrSyncInProgressを返す。
func (e *Engine) SyncUserData(ctx context.Context, userID string) (*Result, error) {
	return e.run(ctx, userID, false)
}

// RetryFailedSyncs はユーザーのFAILEDなプロジェクトとタスクをPENDINGに戻してから同期する。
// SYNCEDやPENDINGのエンティティには影響しない。
func (e *Engine) RetryFailedSyncs(ctx context.Context, userID string) (*Result, error) {
	return e.run(ctx, userID, true)
}

// IsRunning はこのプロセスでユーザーの同期が実行中かを返す。
func (e *Engine) IsRunning(userID string) bool {
	return e.running.isHeld(userID)
}

func (e *Engine) run(ctx context.Context, userID string, resetFailed bool) (*Result, error) {
	if !e.running.tryAcquire(userID) {
		e.metrics.RecordSyncRun(metrics.RunResultInProgress, 0)
		return nil, ErrSyncInProgress
	}
	defer e.running.release(userID)

	if e.locks != nil {
		unlock, ok, err := e.locks.TryLock(ctx, userID)
		if err != nil {
			e.metrics.RecordSyncRun(metrics.RunResultFailed, 0)
			return nil, fmt.Errorf("同期の開始に失敗しました: %w", err)
		}
		if !ok {
			e.metrics.RecordSyncRun(metrics.RunResultInProgress, 0)
			return nil, ErrSyncInProgress
		}
		defer unlock()
	}

	start := time.Now()
	result, err := e.reconcile(ctx, userID, resetFailed)
	duration := time.Since(start)

	switch {
	case err == nil:
		e.metrics.RecordSyncRun(metrics.RunResultSuccess, duration)
		e.logger.Info("同期が完了しました",
			slog.String("user_id", userID),
			slog.Int("projects_pushed", result.Projects.Pushed),
			slog.Int("projects_failed", result.Projects.Failed),
			slog.Int("projects_pulled", result.Projects.Pulled),
			slog.Int("tasks_pushed", result.Tasks.Pushed),
			slog.Int("tasks_failed", result.Tasks.Failed),
			slog.Int("tasks_pulled", result.Tasks.Pulled),
			slog.Int("tasks_overwritten", result.Tasks.Overwritten),
			slog.Float64("duration_ms", float64(duration.Milliseconds())),
		)
	case errors.Is(err, ErrNotConnected):
		e.metrics.RecordSyncRun(metrics.RunResultNotConnected, duration)
	default:
		e.metrics.RecordSyncRun(metrics.RunResultFailed, duration)
	}
	return result, err
}

func (e *Engine) reconcile(ctx context.Context, userID string, resetFailed bool) (*Result, error) {
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if !user.IsConnected() {
		return nil, ErrNotConnected
	}

	if resetFailed {
		if err := e.resetFailed(ctx, userID); err != nil {
			return nil, err
		}
	}

	client := e.clients.ForToken(*user.RemoteToken)
	result := &Result{UserID: userID, StartedAt: e.now()}

	// タスクはプロジェクトの外部IDを参照するため、プロジェクトを先に同期する
	if err := e.syncProjects(ctx, userID, client, &result.Projects); err != nil {
		return result, err
	}
	if err := e.syncTasks(ctx, userID, client, &result.Tasks); err != nil {
		return result, err
	}

	result.FinishedAt = e.now()
	return result, nil
}

func (e *Engine) resetFailed(ctx context.Context, userID string) error {
	projects, err := e.projects.ResetFailed(ctx, userID)
	if err != nil {
		return fmt.Errorf("FAILEDプロジェクトのリセットに失敗しました: %w", err)
	}
	tasks, err := e.tasks.ResetFailed(ctx, userID)
	if err != nil {
		return fmt.Errorf("FAILEDタスクのリセットに失敗しました: %w", err)
	}
	e.logger.Info("FAILEDエンティティをPENDINGに戻しました",
		slog.String("user_id", userID),
		slog.Int64("projects", projects),
		slog.Int64("tasks", tasks),
	)
	return nil
}

// SyncAllUsers は連携済みの全ユーザーを同期する。
// ユーザー単位の失敗はログに記録し、次のユーザーの同期を続ける。
// エラーを返すのは対象ユーザーの一覧取得に失敗した場合のみ。
func (e *Engine) SyncAllUsers(ctx context.Context) error {
	start := time.Now()

	users, err := e.users.ListConnected(ctx)
	if err != nil {
		return fmt.Errorf("連携済みユーザーの取得に失敗しました: %w", err)
	}
	if len(users) == 0 {
		e.logger.Info("同期対象のユーザーはいません")
		return nil
	}

	var failed atomic.Int64
	syncOne := func(u *model.User) {
		if err := e.syncUserWithTimeout(ctx, u.ID); err != nil {
			failed.Add(1)
		}
	}

	if e.config.MaxConcurrentUsers <= 1 {
		for _, u := range users {
			if ctx.Err() != nil {
				break
			}
			syncOne(u)
		}
	} else {
		sem := make(chan struct{}, e.config.MaxConcurrentUsers)
		var wg sync.WaitGroup
	loop:
		for _, u := range users {
			select {
			case <-ctx.Done():
				break loop
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(u *model.User) {
				defer wg.Done()
				defer func() { <-sem }()
				syncOne(u)
			}(u)
		}
		wg.Wait()
	}

	e.logger.Info("全ユーザーの同期サイクルが完了しました",
		slog.Int("user_count", len(users)),
		slog.Int64("failed_count", failed.Load()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (e *Engine) syncUserWithTimeout(ctx context.Context, userID string) error {
	if e.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RunTimeout)
		defer cancel()
	}

	_, err := e.SyncUserData(ctx, userID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSyncInProgress):
		e.logger.Info("同期が実行中のためスキップしました", slog.String("user_id", userID))
		return nil
	default:
		e.logger.Error("ユーザーの同期に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return err
	}
}

// PropagateDelete はローカルで削除されたエンティティを外部サービスからも削除する。
// 未連携ユーザーの場合は何もしない。外部側で既に削除済みの場合は成功として扱う。
// 結果は同期ログにdeleteアクションとして記録する。
func (e *Engine) PropagateDelete(ctx context.Context, userID string, entityType model.EntityType, entityID, externalID string) error {
	user, err := e.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if !user.IsConnected() {
		return nil
	}

	client := e.clients.ForToken(*user.RemoteToken)
	switch entityType {
	case model.EntityTypeProject:
		err = client.DeleteProject(ctx, externalID)
	case model.EntityTypeTask:
		err = client.DeleteTask(ctx, externalID)
	default:
		return fmt.Errorf("unknown entity type: %s", entityType)
	}
	if errors.Is(err, remote.ErrNotFound) {
		err = nil
	}

	if err != nil {
		e.logger.Warn("外部サービスからの削除に失敗しました",
			slog.String("user_id", userID),
			slog.String("entity_type", string(entityType)),
			slog.String("entity_id", entityID),
			slog.String("external_id", externalID),
			slog.String("error", err.Error()),
		)
		e.logSync(ctx, userID, entityType, entityID, model.SyncActionDelete, err)
		return err
	}
	e.logSync(ctx, userID, entityType, entityID, model.SyncActionDelete, nil)
	return nil
}

// logSync は同期ログを1行追加する。書き込みに失敗しても呼び出し元の処理には影響させない。
func (e *Engine) logSync(ctx context.Context, userID string, entityType model.EntityType, entityID string, action model.SyncAction, syncErr error) {
	entry := &model.SyncLog{
		ID:         e.newID(),
		UserID:     userID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Status:     model.LogStatusSuccess,
		CreatedAt:  e.now(),
	}
	if syncErr != nil {
		entry.Status = model.LogStatusFailed
		entry.Error = syncErr.Error()
	}

	if err := e.logs.Create(ctx, entry); err != nil {
		e.metrics.RecordSyncLogWriteFailure()
		e.logger.Warn("同期ログの書き込みに失敗しました",
			slog.String("user_id", userID),
			slog.String("entity_type", string(entityType)),
			slog.String("entity_id", entityID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
	}
}

type passthroughSanitizer struct{}

func (passthroughSanitizer) Sanitize(text string) string      { return text }
func (passthroughSanitizer) SanitizePtr(text *string) *string { return text }

type noopMetrics struct{}

func (noopMetrics) RecordSyncRun(string, time.Duration) {}
func (noopMetrics) RecordPush(string, bool)             {}
func (noopMetrics) RecordPull(string, bool)             {}
func (noopMetrics) RecordPullFailure(string)            {}
func (noopMetrics) RecordSyncLogWriteFailure()          {}
