// Package model 定义排班引擎的核心数据模型
package model

import (
	"github.com/google/uuid"
)

// TimesheetSourceShift 排班物化产生的工时单条目来源
const TimesheetSourceShift = "shift"

// TimesheetEntry 工时单条目
// 排班审批后按分配物化，唯一键 (employee, work_date, assignment) 保证重复物化幂等
type TimesheetEntry struct {
	BaseModel
	TenantID     uuid.UUID `json:"tenant_id" db:"tenant_id"`
	EmployeeID   uuid.UUID `json:"employee_id" db:"employee_id"`
	WorkDate     string    `json:"work_date" db:"work_date"` // YYYY-MM-DD
	Hours        float64   `json:"hours" db:"hours"`
	Source       string    `json:"source" db:"source"`
	ScheduleID   uuid.UUID `json:"schedule_id" db:"schedule_id"`
	AssignmentID uuid.UUID `json:"assignment_id" db:"assignment_id"`
}

// EntriesFromSchedule 将排班分配展开为工时单条目
func EntriesFromSchedule(s *Schedule) []*TimesheetEntry {
	entries := make([]*TimesheetEntry, 0, len(s.Assignments))
	for _, a := range s.Assignments {
		entries = append(entries, &TimesheetEntry{
			BaseModel:    NewBaseModel(),
			TenantID:     s.TenantID,
			EmployeeID:   a.EmployeeID,
			WorkDate:     a.Date,
			Hours:        a.WorkingHours(),
			Source:       TimesheetSourceShift,
			ScheduleID:   s.ID,
			AssignmentID: a.ID,
		})
	}
	return entries
}
