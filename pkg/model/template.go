// Package model 定义排班引擎的核心数据模型
package model

import (
	"time"

	"github.com/google/uuid"
)

// ShiftClass 班次分类
type ShiftClass string

const (
	ShiftDay     ShiftClass = "day"
	ShiftEvening ShiftClass = "evening"
	ShiftNight   ShiftClass = "night"
)

// ShiftTemplate 班次模板
// 由管理员创建，分配记录仅通过 ID 引用模板
type ShiftTemplate struct {
	BaseModel
	TenantID        uuid.UUID  `json:"tenant_id" db:"tenant_id"`
	Name            string     `json:"name" db:"name"`
	StartTime       string     `json:"start_time" db:"start_time"` // HH:MM
	EndTime         string     `json:"end_time" db:"end_time"`     // HH:MM
	Class           ShiftClass `json:"class" db:"class"`
	DurationMin     int        `json:"duration_min" db:"duration_min"`
	CrossesMidnight bool       `json:"crosses_midnight" db:"crosses_midnight"`
	TeamID          *uuid.UUID `json:"team_id,omitempty" db:"team_id"`
	BranchID        *uuid.UUID `json:"branch_id,omitempty" db:"branch_id"`
	Priority        int        `json:"priority" db:"priority"` // 1-10，需求展开排序用
	IsActive        bool       `json:"is_active" db:"is_active"`
}

// DurationHours 返回班次时长（小时）
func (t *ShiftTemplate) DurationHours() float64 {
	return float64(t.DurationMin) / 60.0
}

// ResolveWindow 在指定日期解析班次的具体起止时间
// 跨零点班次的结束时间落在次日
func (t *ShiftTemplate) ResolveWindow(date string) (TimeRange, error) {
	day, err := time.Parse(DateFormat, date)
	if err != nil {
		return TimeRange{}, err
	}
	start, err := time.Parse(ClockFormat, t.StartTime)
	if err != nil {
		return TimeRange{}, err
	}
	end, err := time.Parse(ClockFormat, t.EndTime)
	if err != nil {
		return TimeRange{}, err
	}

	startAt := time.Date(day.Year(), day.Month(), day.Day(), start.Hour(), start.Minute(), 0, 0, time.UTC)
	endAt := time.Date(day.Year(), day.Month(), day.Day(), end.Hour(), end.Minute(), 0, 0, time.UTC)
	if t.CrossesMidnight || !endAt.After(startAt) {
		endAt = endAt.Add(24 * time.Hour)
	}

	return TimeRange{Start: startAt, End: endAt}, nil
}

// DemandRequirement 人力需求配置
// Weekdays 与 Dates 二选一：按星期重复或显式日期区间
type DemandRequirement struct {
	BaseModel
	TenantID      uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	TemplateID    uuid.UUID      `json:"template_id" db:"template_id"`
	Weekdays      []time.Weekday `json:"weekdays,omitempty" db:"weekdays"`
	Dates         *DateRange     `json:"dates,omitempty" db:"dates"`
	RequiredCount int            `json:"required_count" db:"required_count"`
	RequiredRoles []string       `json:"required_roles,omitempty" db:"required_roles"`
	TeamID        *uuid.UUID     `json:"team_id,omitempty" db:"team_id"`
	BranchID      *uuid.UUID     `json:"branch_id,omitempty" db:"branch_id"`
}
