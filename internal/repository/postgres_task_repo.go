package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/tasksync/internal/model"
)

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

const taskColumns = `id, user_id, project_id, title, description, completed, external_id, sync_status, last_synced_at, created_at, updated_at`

func scanTaskInto(t *model.Task, row interface{ Scan(...any) error }, extra ...any) error {
	var projectID, description, externalID sql.NullString
	var lastSyncedAt sql.NullTime
	dest := []any{
		&t.ID, &t.UserID, &projectID, &t.Title, &description, &t.Completed,
		&externalID, &t.SyncStatus, &lastSyncedAt, &t.CreatedAt, &t.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	t.ProjectID = stringPtr(projectID)
	t.Description = stringPtr(description)
	t.ExternalID = stringPtr(externalID)
	t.LastSyncedAt = timePtr(lastSyncedAt)
	return nil
}

func scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	t := &model.Task{}
	if err := scanTaskInto(t, row); err != nil {
		return nil, err
	}
	return t, nil
}

// Create はローカルで作成されたタスクを保存する。
func (r *PostgresTaskRepo) Create(ctx context.Context, t *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.UserID, nullString(t.ProjectID), t.Title, nullString(t.Description), t.Completed,
		nullString(t.ExternalID), t.SyncStatus, t.LastSyncedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateExternalID
		}
		return fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}
	return nil
}

// CreatePulled は外部サービスから取り込んだタスクを保存する。
// UNIQUE(user_id, external_id)に衝突した場合は何もせずfalseを返す。
func (r *PostgresTaskRepo) CreatePulled(ctx context.Context, t *model.Task) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id, external_id) DO NOTHING`,
		t.ID, t.UserID, nullString(t.ProjectID), t.Title, nullString(t.Description), t.Completed,
		nullString(t.ExternalID), t.SyncStatus, t.LastSyncedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("取り込みタスクの作成に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// FindByID はユーザーのタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, userID, id string) (*model.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	return t, nil
}

// FindByExternalID は外部IDでタスクを検索する。見つからない場合はnilを返す。
func (r *PostgresTaskRepo) FindByExternalID(ctx context.Context, userID, externalID string) (*model.Task, error) {
	t, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 AND external_id = $2`,
		userID, externalID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("外部IDによるタスクの検索に失敗しました: %w", err)
	}
	return t, nil
}

// List はユーザーのタスクを絞り込み条件付きで作成日時順に返す。
func (r *PostgresTaskRepo) List(ctx context.Context, userID string, filter model.TaskFilter) ([]*model.Task, error) {
	conds := []string{"user_id = $1"}
	args := []any{userID}
	if filter.ProjectID != nil {
		args = append(args, *filter.ProjectID)
		conds = append(conds, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if filter.Completed != nil {
		args = append(args, *filter.Completed)
		conds = append(conds, fmt.Sprintf("completed = $%d", len(args)))
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE `+strings.Join(conds, " AND ")+` ORDER BY created_at ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("タスクの行読み取りに失敗しました: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タスク一覧の走査に失敗しました: %w", err)
	}
	return tasks, nil
}

// ListNeedingPush はPENDINGまたは外部ID未設定のタスクを、
// 紐付くプロジェクトの外部IDと共に作成日時順に返す。
func (r *PostgresTaskRepo) ListNeedingPush(ctx context.Context, userID string) ([]*model.PushTask, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT t.id, t.user_id, t.project_id, t.title, t.description, t.completed,
		        t.external_id, t.sync_status, t.last_synced_at, t.created_at, t.updated_at,
		        p.external_id
		 FROM tasks t
		 LEFT JOIN projects p ON p.id = t.project_id
		 WHERE t.user_id = $1 AND (t.sync_status = 'PENDING' OR t.external_id IS NULL)
		 ORDER BY t.created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("プッシュ対象タスクの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var tasks []*model.PushTask
	for rows.Next() {
		pt := &model.PushTask{}
		var projectExternalID sql.NullString
		if err := scanTaskInto(&pt.Task, rows, &projectExternalID); err != nil {
			return nil, fmt.Errorf("プッシュ対象タスクの行読み取りに失敗しました: %w", err)
		}
		pt.ProjectExternalID = stringPtr(projectExternalID)
		tasks = append(tasks, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プッシュ対象タスクの走査に失敗しました: %w", err)
	}
	return tasks, nil
}

// Update はローカル編集を保存する。sync_statusはPENDINGに戻り、updated_atはt.UpdatedAtになる。
// 保存後のsync_statusとupdated_atをtaskに反映する。
func (r *PostgresTaskRepo) Update(ctx context.Context, t *model.Task) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE tasks SET project_id = $3, title = $4, description = $5, completed = $6,
		        sync_status = 'PENDING', updated_at = $7
		 WHERE id = $1 AND user_id = $2
		 RETURNING sync_status, updated_at`,
		t.ID, t.UserID, nullString(t.ProjectID), t.Title, nullString(t.Description), t.Completed, t.UpdatedAt,
	).Scan(&t.SyncStatus, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task not found: %s", t.ID)
	}
	if err != nil {
		return fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}
	return nil
}

// ApplyRemote は外部サービスの値でタスクを上書きし、SYNCEDにする。
func (r *PostgresTaskRepo) ApplyRemote(ctx context.Context, id string, f model.RemoteTaskFields, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET project_id = $2, title = $3, description = $4, completed = $5,
		        sync_status = 'SYNCED', last_synced_at = $6, updated_at = $6
		 WHERE id = $1`,
		id, nullString(f.ProjectID), f.Title, nullString(f.Description), f.Completed, at,
	)
	if err != nil {
		return fmt.Errorf("外部サービスの値によるタスク更新に失敗しました: %w", err)
	}
	return nil
}

// MarkSynced は同期成功を記録する。updated_atは変更しない。
func (r *PostgresTaskRepo) MarkSynced(ctx context.Context, id, externalID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET external_id = $2, sync_status = 'SYNCED', last_synced_at = $3 WHERE id = $1`,
		id, externalID, at,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateExternalID
		}
		return fmt.Errorf("タスクの同期成功の記録に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed は同期失敗を記録する。外部IDとupdated_atは変更しない。
func (r *PostgresTaskRepo) MarkFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET sync_status = 'FAILED' WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("タスクの同期失敗の記録に失敗しました: %w", err)
	}
	return nil
}

// ResetFailed はユーザーのFAILEDなタスクをPENDINGに戻し、件数を返す。
func (r *PostgresTaskRepo) ResetFailed(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET sync_status = 'PENDING' WHERE user_id = $1 AND sync_status = 'FAILED'`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("FAILEDタスクのリセットに失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// Delete はユーザーのタスクを削除する。
func (r *PostgresTaskRepo) Delete(ctx context.Context, userID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("task not found: %s", id)
	}
	return nil
}

// CountByStatus は同期状態ごとの件数を返す。
func (r *PostgresTaskRepo) CountByStatus(ctx context.Context, userID string) (model.StatusCounts, error) {
	return countByStatus(ctx, r.db, "tasks", userID)
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
