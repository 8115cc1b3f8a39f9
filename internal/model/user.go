// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// PushSubscription はプッシュ通知の配信先として登録されたエンドポイントを表す。
type PushSubscription struct {
	ID        string
	UserID    string
	Endpoint  string
	CreatedAt time.Time
}
