// Package model 定义排班引擎的核心数据模型
package model

import (
	"github.com/google/uuid"
)

// Employee 员工
// 由外围 HR 系统维护，单次排班运行期间视为不可变
type Employee struct {
	BaseModel
	TenantID uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Name     string    `json:"name" db:"name"`
	Code     string    `json:"code" db:"code"`
	Email    string    `json:"email,omitempty" db:"email"`
	Status   string    `json:"status" db:"status"` // active/inactive
	Roles    []string  `json:"roles" db:"roles"`   // 角色/技能标签
}

// IsActive 检查员工是否在职
func (e *Employee) IsActive() bool {
	return e.Status == "active"
}

// HasRole 检查员工是否具备某角色
func (e *Employee) HasRole(role string) bool {
	for _, r := range e.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAllRoles 检查员工是否具备全部指定角色
func (e *Employee) HasAllRoles(roles []string) bool {
	for _, r := range roles {
		if !e.HasRole(r) {
			return false
		}
	}
	return true
}

// AvailabilityType 可用性类型
type AvailabilityType string

const (
	AvailabilityAvailable   AvailabilityType = "available"
	AvailabilityUnavailable AvailabilityType = "unavailable"
	AvailabilityPreferred   AvailabilityType = "preferred"
)

// AvailabilitySource 可用性来源
type AvailabilitySource string

const (
	SourceEmployee AvailabilitySource = "employee" // 员工自主提交
	SourceLeave    AvailabilitySource = "leave"    // 请假展开
	SourceHoliday  AvailabilitySource = "holiday"  // 节假日展开
)

// AvailabilityRecord 可用性记录
// 请假与节假日在运行期间被投影为 forbidden=true 的临时记录，不写回员工表
type AvailabilityRecord struct {
	EmployeeID uuid.UUID          `json:"employee_id" db:"employee_id"`
	Date       string             `json:"date" db:"date"` // YYYY-MM-DD
	Window     *TimeRange         `json:"window,omitempty" db:"window"`
	Type       AvailabilityType   `json:"type" db:"type"`
	Pinned     bool               `json:"pinned" db:"pinned"`
	Forbidden  bool               `json:"forbidden" db:"forbidden"`
	TemplateID *uuid.UUID         `json:"template_id,omitempty" db:"template_id"`
	Source     AvailabilitySource `json:"source" db:"source"`
	Reason     string             `json:"reason,omitempty" db:"reason"`
}

// LeaveRecord 请假记录（只读，来自请假子系统）
type LeaveRecord struct {
	EmployeeID uuid.UUID `json:"employee_id"`
	StartDate  string    `json:"start_date"` // YYYY-MM-DD
	EndDate    string    `json:"end_date"`   // YYYY-MM-DD
	Reason     string    `json:"reason,omitempty"`
}

// Holiday 节假日（只读，来自节假日子系统）
type Holiday struct {
	Date string `json:"date"` // YYYY-MM-DD
	Name string `json:"name"`
}

// ExceptionStatus 豁免申请状态
type ExceptionStatus string

const (
	ExceptionPending  ExceptionStatus = "pending"
	ExceptionApproved ExceptionStatus = "approved"
	ExceptionRejected ExceptionStatus = "rejected"
)

// ExceptionRequest 规则豁免申请
// 审批通过的豁免在单次运行中抑制指定员工的指定规则
type ExceptionRequest struct {
	BaseModel
	TenantID   uuid.UUID       `json:"tenant_id" db:"tenant_id"`
	EmployeeID uuid.UUID       `json:"employee_id" db:"employee_id"`
	RuleID     string          `json:"rule_id" db:"rule_id"`
	Type       string          `json:"type,omitempty" db:"type"`
	Status     ExceptionStatus `json:"status" db:"status"`
}

// IsApproved 检查豁免是否已批准
func (r *ExceptionRequest) IsApproved() bool {
	return r.Status == ExceptionApproved
}
