// Package model 定义排班引擎的核心数据模型
package model

import (
	"time"

	"github.com/google/uuid"
)

// Schedule 排班计划（一次运行的产物）
// score 与违规列表必须与当前分配集一致：任何分配变更后需重新评估
type Schedule struct {
	BaseModel
	TenantID  uuid.UUID      `json:"tenant_id" db:"tenant_id"`
	Name      string         `json:"name" db:"name"`
	StartDate string         `json:"start_date" db:"start_date"` // YYYY-MM-DD
	EndDate   string         `json:"end_date" db:"end_date"`     // YYYY-MM-DD
	RuleSetID uuid.UUID      `json:"rule_set_id" db:"rule_set_id"`
	Algorithm string         `json:"algorithm" db:"algorithm"` // greedy/solver
	Status    ScheduleStatus `json:"status" db:"status"`
	Score     float64        `json:"score" db:"score"`
	IsValid   bool           `json:"is_valid" db:"is_valid"`

	HardViolations []Violation `json:"hard_violations,omitempty" db:"hard_violations"`
	SoftViolations []Violation `json:"soft_violations,omitempty" db:"soft_violations"`
	Telemetry      *Telemetry  `json:"telemetry,omitempty" db:"telemetry"`

	TotalSlots  int     `json:"total_slots" db:"total_slots"`
	FilledSlots int     `json:"filled_slots" db:"filled_slots"`
	FillRate    float64 `json:"fill_rate" db:"fill_rate"`

	CreatedBy  *uuid.UUID `json:"created_by,omitempty" db:"created_by"`
	ApprovedBy *uuid.UUID `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt *time.Time `json:"approved_at,omitempty" db:"approved_at"`

	Assignments []*Assignment `json:"assignments,omitempty" db:"-"`
}

// Period 返回排班周期
func (s *Schedule) Period() DateRange {
	return DateRange{StartDate: s.StartDate, EndDate: s.EndDate}
}

// Assignment 排班分配
// 唯一键：(schedule, employee, date, start_time)
type Assignment struct {
	BaseModel
	ScheduleID uuid.UUID  `json:"schedule_id" db:"schedule_id"`
	EmployeeID uuid.UUID  `json:"employee_id" db:"employee_id"`
	TemplateID uuid.UUID  `json:"template_id" db:"template_id"`
	Date       string     `json:"date" db:"date"` // YYYY-MM-DD
	StartTime  time.Time  `json:"start_time" db:"start_time"`
	EndTime    time.Time  `json:"end_time" db:"end_time"`
	AssignedBy AssignedBy `json:"assigned_by" db:"assigned_by"`
}

// WorkingHours 计算工作时长（小时）
func (a *Assignment) WorkingHours() float64 {
	return a.EndTime.Sub(a.StartTime).Hours()
}

// Window 返回分配的时间范围
func (a *Assignment) Window() TimeRange {
	return TimeRange{Start: a.StartTime, End: a.EndTime}
}

// OverlapsWith 检查两个分配的时间窗口是否重叠
func (a *Assignment) OverlapsWith(other *Assignment) bool {
	return a.Window().Overlaps(other.Window())
}

// IsManual 检查分配是否为人工指定
func (a *Assignment) IsManual() bool {
	return a.AssignedBy == AssignedByManual
}

// Violation 规则违反详情
type Violation struct {
	RuleID     string     `json:"rule_id"`
	RuleName   string     `json:"rule_name"`
	Kind       RuleKind   `json:"kind"`
	EmployeeID *uuid.UUID `json:"employee_id,omitempty"`
	Date       string     `json:"date,omitempty"`
	Message    string     `json:"message"`
	Penalty    float64    `json:"penalty,omitempty"`

	// 豁免降级产生的记录：原为硬违反，因豁免降级为软性备注
	Excepted bool `json:"excepted,omitempty"`
}

// Telemetry 运行遥测
// 结构化字段在边界处才序列化为 JSON
type Telemetry struct {
	Strategy         string               `json:"strategy"`
	Seed             int64                `json:"seed"`
	FellBack         bool                 `json:"fell_back"`
	FallbackReason   string               `json:"fallback_reason,omitempty"`
	SolverIterations int                  `json:"solver_iterations,omitempty"`
	DurationMS       int64                `json:"duration_ms"`
	FairnessCounts   map[string]float64   `json:"fairness_counts"` // employeeID -> 运行后高负担班次计数
	UnfilledSlots    []UnfilledSlot       `json:"unfilled_slots,omitempty"`
	Conflicts        []AssignmentConflict `json:"conflicts,omitempty"`
	PreservedManual  int                  `json:"preserved_manual,omitempty"`
}

// UnfilledSlot 未能满足的需求槽位
type UnfilledSlot struct {
	Date       string    `json:"date"`
	TemplateID uuid.UUID `json:"template_id"`
	Required   int       `json:"required"`
	Assigned   int       `json:"assigned"`
	Reason     string    `json:"reason"`
}

// AssignmentConflict 检出的分配冲突
type AssignmentConflict struct {
	Type       string    `json:"type"` // overlap/rest/hour_cap
	EmployeeID uuid.UUID `json:"employee_id"`
	Date       string    `json:"date"`
	Message    string    `json:"message"`
}
