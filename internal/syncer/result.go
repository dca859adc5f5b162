package syncer

import "time"

// EntityResult はエンティティ種別ごとの同期結果。
type EntityResult struct {
	// Pushed は外部サービスへの作成・更新に成功した件数。
	Pushed int
	// Failed はプッシュに失敗してFAILEDになった件数。
	Failed int
	// Pulled はプルでローカルに新規作成された件数。
	Pulled int
	// Overwritten はプルで外部の値に上書きされた件数。
	Overwritten int
	// PullFailed はプルフェーズが外部サービスの一覧取得に失敗した場合にtrue。
	PullFailed bool
}

// Result は1ユーザー分の同期結果。
type Result struct {
	UserID     string
	Projects   EntityResult
	Tasks      EntityResult
	StartedAt  time.Time
	FinishedAt time.Time
}
