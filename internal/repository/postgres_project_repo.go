package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tasksync/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

const projectColumns = `id, user_id, name, description, external_id, sync_status, last_synced_at, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (*model.Project, error) {
	p := &model.Project{}
	var description, externalID sql.NullString
	var lastSyncedAt sql.NullTime
	if err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &description, &externalID,
		&p.SyncStatus, &lastSyncedAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.Description = stringPtr(description)
	p.ExternalID = stringPtr(externalID)
	p.LastSyncedAt = timePtr(lastSyncedAt)
	return p, nil
}

func (r *PostgresProjectRepo) queryProjects(ctx context.Context, query string, args ...any) ([]*model.Project, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("プロジェクト一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("プロジェクトの行読み取りに失敗しました: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プロジェクト一覧の走査に失敗しました: %w", err)
	}
	return projects, nil
}

// Create はローカルで作成されたプロジェクトを保存する。
func (r *PostgresProjectRepo) Create(ctx context.Context, p *model.Project) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.UserID, p.Name, nullString(p.Description), nullString(p.ExternalID),
		p.SyncStatus, p.LastSyncedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateExternalID
		}
		return fmt.Errorf("プロジェクトの作成に失敗しました: %w", err)
	}
	return nil
}

// CreatePulled は外部サービスから取り込んだプロジェクトを保存する。
// UNIQUE(user_id, external_id)に衝突した場合は何もせずfalseを返す。
func (r *PostgresProjectRepo) CreatePulled(ctx context.Context, p *model.Project) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, external_id) DO NOTHING`,
		p.ID, p.UserID, p.Name, nullString(p.Description), nullString(p.ExternalID),
		p.SyncStatus, p.LastSyncedAt, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("取り込みプロジェクトの作成に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// FindByID はユーザーのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, userID, id string) (*model.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロジェクトの取得に失敗しました: %w", err)
	}
	return p, nil
}

// FindByExternalID は外部IDでプロジェクトを検索する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByExternalID(ctx context.Context, userID, externalID string) (*model.Project, error) {
	p, err := scanProject(r.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = $1 AND external_id = $2`,
		userID, externalID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("外部IDによるプロジェクトの検索に失敗しました: %w", err)
	}
	return p, nil
}

// ListByUser はユーザーのプロジェクトを作成日時順に返す。
func (r *PostgresProjectRepo) ListByUser(ctx context.Context, userID string) ([]*model.Project, error) {
	return r.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
}

// ListNeedingPush はPENDINGまたは外部ID未設定のプロジェクトを作成日時順に返す。
func (r *PostgresProjectRepo) ListNeedingPush(ctx context.Context, userID string) ([]*model.Project, error) {
	return r.queryProjects(ctx,
		`SELECT `+projectColumns+` FROM projects
		 WHERE user_id = $1 AND (sync_status = 'PENDING' OR external_id IS NULL)
		 ORDER BY created_at ASC`,
		userID,
	)
}

// Update はローカル編集を保存する。sync_statusはPENDINGに戻り、updated_atはp.UpdatedAtになる。
// 保存後のsync_statusとupdated_atをprojectに反映する。
func (r *PostgresProjectRepo) Update(ctx context.Context, p *model.Project) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE projects SET name = $3, description = $4, sync_status = 'PENDING', updated_at = $5
		 WHERE id = $1 AND user_id = $2
		 RETURNING sync_status, updated_at`,
		p.ID, p.UserID, p.Name, nullString(p.Description), p.UpdatedAt,
	).Scan(&p.SyncStatus, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("project not found: %s", p.ID)
	}
	if err != nil {
		return fmt.Errorf("プロジェクトの更新に失敗しました: %w", err)
	}
	return nil
}

// MarkSynced は同期成功を記録する。updated_atは変更しない。
func (r *PostgresProjectRepo) MarkSynced(ctx context.Context, id, externalID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE projects SET external_id = $2, sync_status = 'SYNCED', last_synced_at = $3 WHERE id = $1`,
		id, externalID, at,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateExternalID
		}
		return fmt.Errorf("プロジェクトの同期成功の記録に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed は同期失敗を記録する。外部IDとupdated_atは変更しない。
func (r *PostgresProjectRepo) MarkFailed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE projects SET sync_status = 'FAILED' WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("プロジェクトの同期失敗の記録に失敗しました: %w", err)
	}
	return nil
}

// ResetFailed はユーザーのFAILEDなプロジェクトをPENDINGに戻し、件数を返す。
func (r *PostgresProjectRepo) ResetFailed(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE projects SET sync_status = 'PENDING' WHERE user_id = $1 AND sync_status = 'FAILED'`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("FAILEDプロジェクトのリセットに失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// Delete はユーザーのプロジェクトを削除する。紐付くタスクのproject_idはNULLになる。
func (r *PostgresProjectRepo) Delete(ctx context.Context, userID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM projects WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("プロジェクトの削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("project not found: %s", id)
	}
	return nil
}

// CountByStatus は同期状態ごとの件数を返す。
func (r *PostgresProjectRepo) CountByStatus(ctx context.Context, userID string) (model.StatusCounts, error) {
	return countByStatus(ctx, r.db, "projects", userID)
}

// countByStatus はtableのsync_status別件数を集計する。tableは定数のみ渡すこと。
func countByStatus(ctx context.Context, db *sql.DB, table, userID string) (model.StatusCounts, error) {
	var counts model.StatusCounts
	rows, err := db.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM `+table+` WHERE user_id = $1 GROUP BY sync_status`,
		userID,
	)
	if err != nil {
		return counts, fmt.Errorf("%s の状態別件数の取得に失敗しました: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status model.SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("%s の状態別件数の読み取りに失敗しました: %w", table, err)
		}
		counts.Add(status, n)
	}
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("%s の状態別件数の走査に失敗しました: %w", table, err)
	}
	return counts, nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
