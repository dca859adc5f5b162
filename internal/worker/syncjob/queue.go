package syncjob

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/tasksync/internal/syncer"
)

// UserSyncer は1ユーザーの同期を実行するインターフェース。
type UserSyncer interface {
	SyncUserData(ctx context.Context, userID string) (*syncer.Result, error)
}

// QueueMetrics はトリガーキューが記録するメトリクス。
type QueueMetrics interface {
	RecordTriggerEnqueued()
	RecordTriggerDropped()
	RecordTriggerFailure()
}

// QueueConfig はトリガーキューの設定。
type QueueConfig struct {
	// Size はキューに保持できるユーザー数の上限。
	Size int
	// Workers は同期を実行するワーカー数。
	Workers int
	// RunTimeout は1回の同期時間の上限。0なら無制限。
	RunTimeout time.Duration
	// RetryDelay は他の同期が実行中だった場合に依頼をやり直すまでの待ち時間。
	RetryDelay time.Duration
}

// DefaultRetryDelay はQueueConfig.RetryDelayのデフォルト値。
const DefaultRetryDelay = 5 * time.Second

// Queue はローカル変更後の同期依頼を受け付け、ワーカーで非同期に実行する。
// 同じユーザーの依頼がキュー内に既にある場合は1件にまとめる。
// 同期の実行中に来た依頼は、同じワーカーがその同期の完了後にもう1回だけ実行する。
type Queue struct {
	syncer  UserSyncer
	metrics QueueMetrics
	logger  *slog.Logger
	config  QueueConfig

	jobs    chan string
	mu      sync.Mutex
	pending map[string]struct{}
	// running は実行中のユーザー。値は実行中に再依頼があったか。
	running map[string]bool
	retries map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewQueue はQueueを生成する。ワーカーはStartで起動する。
func NewQueue(s UserSyncer, m QueueMetrics, logger *slog.Logger, config QueueConfig) *Queue {
	if config.Size <= 0 {
		config.Size = 256
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	return &Queue{
		syncer:  s,
		metrics: m,
		logger:  logger,
		config:  config,
		jobs:    make(chan string, config.Size),
		pending: make(map[string]struct{}),
		running: make(map[string]bool),
		retries: make(map[string]*time.Timer),
	}
}

// Start はワーカーを起動する。ブロックしない。
// ctxがキャンセルされると実行中の同期も中断される。
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("同期トリガーキューを開始しました",
		slog.Int("workers", q.config.Workers),
		slog.Int("size", q.config.Size),
	)
	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for userID := range q.jobs {
				q.mu.Lock()
				delete(q.pending, userID)
				q.running[userID] = false
				q.mu.Unlock()

				q.run(ctx, userID)
				for q.takeFollowUp(ctx, userID) {
					q.run(ctx, userID)
				}
			}
		}()
	}
}

// takeFollowUp は実行中に再依頼があればtrueを返す。なければユーザーを実行中から外す。
func (q *Queue) takeFollowUp(ctx context.Context, userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running[userID] && ctx.Err() == nil {
		q.running[userID] = false
		return true
	}
	delete(q.running, userID)
	return false
}

// Enqueue はユーザーの同期を依頼する。呼び出し元をブロックしない。
// キューが満杯か停止済みの場合は依頼を破棄してfalseを返す。
func (q *Queue) Enqueue(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.drop(userID, "closed")
		return false
	}
	if _, ok := q.pending[userID]; ok {
		return true
	}
	if followUp, ok := q.running[userID]; ok {
		if !followUp {
			q.running[userID] = true
			q.metrics.RecordTriggerEnqueued()
		}
		return true
	}

	select {
	case q.jobs <- userID:
		q.pending[userID] = struct{}{}
		q.metrics.RecordTriggerEnqueued()
		return true
	default:
		q.drop(userID, "full")
		return false
	}
}

// Close は新しい依頼の受け付けを止め、キュー内の依頼と実行中の同期の再実行をすべて処理してから戻る。
// 待機中のやり直しは破棄する。
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	for userID, t := range q.retries {
		t.Stop()
		delete(q.retries, userID)
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("同期トリガーキューを停止しました")
}

// scheduleRetry はRetryDelay後にユーザーの同期を再依頼する。
func (q *Queue) scheduleRetry(userID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	if _, ok := q.retries[userID]; ok {
		return
	}
	q.retries[userID] = time.AfterFunc(q.config.RetryDelay, func() {
		q.mu.Lock()
		delete(q.retries, userID)
		closed := q.closed
		q.mu.Unlock()
		if !closed {
			q.Enqueue(userID)
		}
	})
}

func (q *Queue) drop(userID, reason string) {
	q.metrics.RecordTriggerDropped()
	q.logger.Warn("同期依頼を破棄しました",
		slog.String("user_id", userID),
		slog.String("reason", reason),
	)
}

func (q *Queue) run(ctx context.Context, userID string) {
	if q.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.config.RunTimeout)
		defer cancel()
	}

	_, err := q.syncer.SyncUserData(ctx, userID)
	switch {
	case err == nil:
	case errors.Is(err, syncer.ErrSyncInProgress):
		// 実行中の同期は依頼前に対象を読み込んでいる場合があるため、後でやり直す
		q.logger.Info("同期が実行中のため依頼をやり直します",
			slog.String("user_id", userID),
			slog.Duration("retry_delay", q.config.RetryDelay),
		)
		q.scheduleRetry(userID)
	case errors.Is(err, syncer.ErrNotConnected):
		q.logger.Debug("未連携ユーザーの同期依頼をスキップしました", slog.String("user_id", userID))
	default:
		q.metrics.RecordTriggerFailure()
		q.logger.Error("バックグラウンド同期に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}
