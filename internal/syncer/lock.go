package syncer

import "sync"

// runGuard はユーザーごとの同期実行中フラグを保持する。
// 同一ユーザーの同期は同時に1つまでに制限する。
type runGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunGuard() *runGuard {
	return &runGuard{running: make(map[string]struct{})}
}

// tryAcquire は実行権を取得する。既に実行中の場合はfalseを返す。
func (g *runGuard) tryAcquire(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.running[userID]; ok {
		return false
	}
	g.running[userID] = struct{}{}
	return true
}

func (g *runGuard) release(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, userID)
}

func (g *runGuard) isHeld(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.running[userID]
	return ok
}
