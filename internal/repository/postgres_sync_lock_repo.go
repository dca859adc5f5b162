package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"
)

// syncLockNamespace はアドバイザリロックのキー空間を他の用途と分けるための値。
const syncLockNamespace = 0x7473 // "ts"

const unlockTimeout = 5 * time.Second

// PostgresSyncLockRepo はPostgreSQLのセッションレベルのアドバイザリロックで同期実行権を管理する。
// ロックは取得した接続に紐づくため、解放まで専用の接続を保持する。
type PostgresSyncLockRepo struct {
	db *sql.DB
}

// NewPostgresSyncLockRepo はPostgresSyncLockRepoを生成する。
func NewPostgresSyncLockRepo(db *sql.DB) *PostgresSyncLockRepo {
	return &PostgresSyncLockRepo{db: db}
}

// TryLock はユーザーの同期実行権をブロックせずに取得する。
func (r *PostgresSyncLockRepo) TryLock(ctx context.Context, userID string) (func(), bool, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("ロック用接続の取得に失敗しました: %w", err)
	}

	var ok bool
	if err := conn.QueryRowContext(ctx,
		`SELECT pg_try_advisory_lock($1, hashtext($2))`,
		syncLockNamespace, userID,
	).Scan(&ok); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("同期ロックの取得に失敗しました: %w", err)
	}
	if !ok {
		conn.Close()
		return nil, false, nil
	}

	unlock := func() {
		// 呼び出し元のctxが終わっていても解放する
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()

		var released bool
		err := conn.QueryRowContext(ctx,
			`SELECT pg_advisory_unlock($1, hashtext($2))`,
			syncLockNamespace, userID,
		).Scan(&released)
		if err != nil || !released {
			// ロックを保持したままプールに戻さない
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		conn.Close()
	}
	return unlock, true, nil
}
