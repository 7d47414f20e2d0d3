package models

import "time"

// ReconciledStatus 某个药品融合后的对外状态（每个 catalog 名称恰好一行）
type ReconciledStatus struct {
	MedicationName string     `json:"medication_name"`
	Taken          bool       `json:"taken"`
	TakenAt        *time.Time `json:"taken_at,omitempty"`
}

// ReconciledStatusSet 一个 patient/day 的完整融合结果（ResultCache 的缓存值）
//
// Degraded = true 表示计算时有一个数据源不可达，结果基于可用数据源（部分数据）。
// 仪表盘据此展示 staleness 指示，而不是硬失败。
type ReconciledStatusSet struct {
	PatientID  string             `json:"patient_id"`
	Day        string             `json:"day"` // YYYY-MM-DD（本地日）
	Statuses   []ReconciledStatus `json:"statuses"`
	Degraded   bool               `json:"degraded"`
	ComputedAt time.Time          `json:"computed_at"`
}
