// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// Kind は目標のスコープ種別（週目標または日目標）を表す。
type Kind string

const (
	// KindWeek は週キーに紐づく週目標。
	KindWeek Kind = "week"
	// KindDay は日キーに紐づく日目標。
	KindDay Kind = "day"
)

// Kinds は全ての目標種別。
var Kinds = []Kind{KindWeek, KindDay}

// ParseKind は文字列を目標種別に変換する。
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindWeek:
		return KindWeek, nil
	case KindDay:
		return KindDay, nil
	default:
		return "", NewInvalidKindError(s)
	}
}

// Table は種別に対応するテーブル名を返す。
func (k Kind) Table() string {
	if k == KindDay {
		return "day_goals"
	}
	return "week_goals"
}

// Priority は目標の優先度を表す。
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityNormal Priority = "Normal"
	PriorityLow    Priority = "Low"
)

// ParsePriority は文字列を優先度に変換する。空文字列はNormalとして扱う。
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case "":
		return PriorityNormal, nil
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	default:
		return "", NewInvalidPriorityError(s)
	}
}

// Goal はユーザーが週または日に設定する目標を表す。
// IDは種別ごとに一意で、リモートストアが採番する。
// 楽観的に追加された未確定の目標は負のIDを持つ。
type Goal struct {
	ID          int64
	Kind        Kind
	Title       string
	Description string
	Priority    Priority
	Completed   bool
	ScopeKey    string // 週目標はweekKey、日目標はdayKey
	OwnerID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsProvisional はリモート確定前の仮IDを持つかを返す。
func (g Goal) IsProvisional() bool {
	return g.ID < 0
}

// SameContent はタイムスタンプを除いたフィールドが一致するかを返す。
func (g Goal) SameContent(o Goal) bool {
	return g.ID == o.ID &&
		g.Kind == o.Kind &&
		g.Title == o.Title &&
		g.Description == o.Description &&
		g.Priority == o.Priority &&
		g.Completed == o.Completed &&
		g.ScopeKey == o.ScopeKey &&
		g.OwnerID == o.OwnerID
}

// String はログ出力用の識別子を返す。
func (g Goal) String() string {
	return fmt.Sprintf("%s/%d", g.Kind, g.ID)
}

// GoalInput は目標作成時の入力値。
type GoalInput struct {
	Title       string
	Description string
	Priority    Priority
	Completed   bool
}

// GoalUpdate は目標の部分更新を表す。nilのフィールドは変更しない。
type GoalUpdate struct {
	Title       *string
	Description *string
	Priority    *Priority
	Completed   *bool
}

// IsEmpty は更新対象のフィールドが1つもないかを返す。
func (u GoalUpdate) IsEmpty() bool {
	return u.Title == nil && u.Description == nil && u.Priority == nil && u.Completed == nil
}

// ApplyTo は更新内容を目標に浅くマージした結果を返す。
func (u GoalUpdate) ApplyTo(g Goal) Goal {
	if u.Title != nil {
		g.Title = *u.Title
	}
	if u.Description != nil {
		g.Description = *u.Description
	}
	if u.Priority != nil {
		g.Priority = *u.Priority
	}
	if u.Completed != nil {
		g.Completed = *u.Completed
	}
	return g
}

// Operation は変更通知の操作種別を表す。
type Operation string

const (
	OperationInsert Operation = "insert"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ChangeEvent はリモートストアから非同期に届く変更通知を表す。
// insert/updateでは変更後のレコード、deleteでは削除前のレコードを持つ。
// 配信は少なくとも1回で、自クライアントの書き込みのエコーも含まれうる。
type ChangeEvent struct {
	Operation Operation
	Kind      Kind
	Record    Goal
}
