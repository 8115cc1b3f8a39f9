// Package changefeed はPostgreSQLのLISTEN/NOTIFYで目標テーブルの変更通知を受け取り、
// 所有者のワークスペースへ配送する。
package changefeed

import (
	"encoding/json"
	"fmt"

	"github.com/hitoshi/weekplanner/internal/model"
)

// Channel は目標テーブルのトリガーが通知するチャネル名。
const Channel = "goal_changes"

type payload struct {
	Operation string        `json:"operation"`
	Kind      string        `json:"kind"`
	Record    payloadRecord `json:"record"`
}

// payloadRecord は通知に含まれる行のキー。スコープキーのカラム名は種別ごとに異なる。
// 行の内容は通知のサイズ上限を超えうるため送られない。
type payloadRecord struct {
	ID      int64  `json:"id"`
	OwnerID string `json:"owner_id"`
	WeekKey string `json:"week_key"`
	DayKey  string `json:"day_key"`
}

// DecodeEvent は通知ペイロードをChangeEventに変換する。
// Recordにはキーだけが入る。insert/updateの行の内容はDispatcherが読み込む。
func DecodeEvent(data []byte) (model.ChangeEvent, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return model.ChangeEvent{}, fmt.Errorf("failed to decode change payload: %w", err)
	}

	kind, err := model.ParseKind(p.Kind)
	if err != nil {
		return model.ChangeEvent{}, fmt.Errorf("invalid change kind: %w", err)
	}

	op := model.Operation(p.Operation)
	switch op {
	case model.OperationInsert, model.OperationUpdate, model.OperationDelete:
	default:
		return model.ChangeEvent{}, fmt.Errorf("invalid change operation: %q", p.Operation)
	}

	if p.Record.ID == 0 {
		return model.ChangeEvent{}, fmt.Errorf("change payload has no record id")
	}

	scopeKey := p.Record.WeekKey
	if kind == model.KindDay {
		scopeKey = p.Record.DayKey
	}

	return model.ChangeEvent{
		Operation: op,
		Kind:      kind,
		Record: model.Goal{
			ID:       p.Record.ID,
			Kind:     kind,
			ScopeKey: scopeKey,
			OwnerID:  p.Record.OwnerID,
		},
	}, nil
}
