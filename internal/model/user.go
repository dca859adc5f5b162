// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// RemoteTokenが設定されている場合のみ外部タスクサービスと連携済みとみなす。
type User struct {
	ID          string
	Email       string
	Name        string
	RemoteToken *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsConnected は外部タスクサービスの認証情報を保持しているかを返す。
func (u *User) IsConnected() bool {
	return u != nil && u.RemoteToken != nil && *u.RemoteToken != ""
}

// Session はユーザーのログインセッションを表す。
// セッションの発行は外部の認証サービスが行い、本サービスは検証のみを行う。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
