// Package catalog 提供患者预期药品清单（authoritative catalog）的读取
// 来源与两个状态数据源相互独立：care-plan 服务的 HTTP API，或其落库的
// patient_medications 表（部署在同库时的直连模式）。
package catalog

import (
	"context"
	"errors"
)

// ErrCatalogUnavailable catalog 不可达。没有预期清单就无法产出任何有意义的
// 状态结果，调用方必须将该错误向上传播（不同于单个数据源缺失的降级）。
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// Source 预期药品清单来源
type Source interface {
	// ExpectedMedications 返回患者的预期药品名称列表（catalog 顺序）
	ExpectedMedications(ctx context.Context, patientID string) ([]string, error)
}
