package models

import "time"

// EventType 行级变更类型
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// ChangeEvent 行级变更通知（change feed 的消息体）
//
// NewRow / OldRow 与底层 feed 的 payload 保持一致：insert 只有 NewRow，
// delete 只有 OldRow，update 两者都有。外键取值优先 NewRow，回退 OldRow。
type ChangeEvent struct {
	EventID    string         `json:"event_id"`
	EventType  EventType      `json:"event_type"`
	Table      string         `json:"table"`
	NewRow     map[string]any `json:"new_row,omitempty"`
	OldRow     map[string]any `json:"old_row,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// RowValue 从 NewRow（删除事件回退 OldRow）取字符串字段
func (e ChangeEvent) RowValue(column string) (string, bool) {
	if v, ok := stringField(e.NewRow, column); ok {
		return v, true
	}
	return stringField(e.OldRow, column)
}

func stringField(row map[string]any, column string) (string, bool) {
	if row == nil {
		return "", false
	}
	v, ok := row[column]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ScopeKind 订阅 scope 的种类（当前激活的实体）
type ScopeKind string

const (
	CaregiverScope ScopeKind = "caregiver"
	PatientScope   ScopeKind = "patient"
)
