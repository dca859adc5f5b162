package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/tasksync/internal/model"
)

// PostgresSyncLogRepo はPostgreSQLを使用した同期ログリポジトリ。
// 追記と保持期間による削除のみを提供し、既存行の更新は行わない。
type PostgresSyncLogRepo struct {
	db *sql.DB
}

// NewPostgresSyncLogRepo はPostgresSyncLogRepoを生成する。
func NewPostgresSyncLogRepo(db *sql.DB) *PostgresSyncLogRepo {
	return &PostgresSyncLogRepo{db: db}
}

// Create は同期ログを1行追加する。
func (r *PostgresSyncLogRepo) Create(ctx context.Context, l *model.SyncLog) error {
	var errMsg sql.NullString
	if l.Error != "" {
		errMsg = sql.NullString{String: l.Error, Valid: true}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_logs (id, user_id, entity_type, entity_id, action, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.UserID, l.EntityType, l.EntityID, l.Action, l.Status, errMsg, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("同期ログの作成に失敗しました: %w", err)
	}
	return nil
}

// ListRecent はユーザーの同期ログを新しい順に最大limit件返す。
func (r *PostgresSyncLogRepo) ListRecent(ctx context.Context, userID string, limit int) ([]*model.SyncLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, entity_type, entity_id, action, status, error, created_at
		 FROM sync_logs
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("同期ログ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var logs []*model.SyncLog
	for rows.Next() {
		l := &model.SyncLog{}
		var errMsg sql.NullString
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.EntityType, &l.EntityID,
			&l.Action, &l.Status, &errMsg, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("同期ログの行読み取りに失敗しました: %w", err)
		}
		l.Error = errMsg.String
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("同期ログ一覧の走査に失敗しました: %w", err)
	}
	return logs, nil
}

// DeleteOlderThan はcutoffより古い同期ログを削除し、削除件数を返す。
func (r *PostgresSyncLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_logs WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("古い同期ログの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("影響行数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ SyncLogRepository = (*PostgresSyncLogRepo)(nil)
