// Package model 定义排班引擎的核心数据模型
package model

import (
	"time"

	"github.com/google/uuid"
)

// DateFormat 日期格式（排班周期边界使用纯日历日期，避免时区漂移）
const DateFormat = "2006-01-02"

// ClockFormat 班次时刻格式
const ClockFormat = "15:04"

// RuleKind 规则类别
type RuleKind string

const (
	RuleHard RuleKind = "hard" // 硬规则（违反则排班无效）
	RuleSoft RuleKind = "soft" // 软规则（违反仅扣分）
)

// AssignedBy 分配来源
type AssignedBy string

const (
	AssignedByAlgorithm AssignedBy = "algorithm" // 算法生成
	AssignedByManual    AssignedBy = "manual"    // 人工指定
)

// ScheduleStatus 排班状态
type ScheduleStatus string

const (
	StatusDraft    ScheduleStatus = "draft"
	StatusApproved ScheduleStatus = "approved"
	StatusActive   ScheduleStatus = "active"
	StatusRejected ScheduleStatus = "rejected"
	StatusArchived ScheduleStatus = "archived"
)

// IsTerminal 检查状态是否为终态
func (s ScheduleStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusArchived
}

// BaseModel 基础模型（包含通用字段）
type BaseModel struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt *time.Time `json:"-" db:"deleted_at"`
}

// NewBaseModel 创建新的基础模型
func NewBaseModel() BaseModel {
	now := time.Now()
	return BaseModel{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// JSONMap 用于存储 JSONB 数据
type JSONMap map[string]interface{}

// TimeRange 时间范围
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration 返回时间范围的持续时间
func (tr TimeRange) Duration() time.Duration {
	return tr.End.Sub(tr.Start)
}

// Overlaps 检查两个时间范围是否重叠
func (tr TimeRange) Overlaps(other TimeRange) bool {
	return tr.Start.Before(other.End) && other.Start.Before(tr.End)
}

// Contains 检查时间范围是否包含某个时间点
func (tr TimeRange) Contains(t time.Time) bool {
	return !t.Before(tr.Start) && t.Before(tr.End)
}

// DateRange 日期范围（闭区间）
type DateRange struct {
	StartDate string `json:"start_date"` // YYYY-MM-DD
	EndDate   string `json:"end_date"`   // YYYY-MM-DD
}

// Valid 检查日期范围是否合法
func (dr DateRange) Valid() bool {
	start, err1 := time.Parse(DateFormat, dr.StartDate)
	end, err2 := time.Parse(DateFormat, dr.EndDate)
	return err1 == nil && err2 == nil && !end.Before(start)
}

// Days 返回范围内的所有日期（升序）
func (dr DateRange) Days() []string {
	start, err1 := time.Parse(DateFormat, dr.StartDate)
	end, err2 := time.Parse(DateFormat, dr.EndDate)
	if err1 != nil || err2 != nil {
		return nil
	}
	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(DateFormat))
	}
	return days
}

// ContainsDate 检查日期是否在范围内
func (dr DateRange) ContainsDate(date string) bool {
	return date >= dr.StartDate && date <= dr.EndDate
}
