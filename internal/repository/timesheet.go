// Package repository 提供数据访问层
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/model"
)

// TimesheetRepository 工时单仓储
type TimesheetRepository struct {
	db DB
}

// NewTimesheetRepository 创建工时单仓储
func NewTimesheetRepository(db DB) *TimesheetRepository {
	return &TimesheetRepository{db: db}
}

// UpsertTimesheetEntries 幂等写入工时单条目
// 唯一键 assignment_id：同一分配重复物化不产生新条目
func (r *TimesheetRepository) UpsertTimesheetEntries(ctx context.Context, entries []*model.TimesheetEntry) error {
	query := `
		INSERT INTO timesheet_entries (
			id, tenant_id, employee_id, work_date, hours, source,
			schedule_id, assignment_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (assignment_id) DO NOTHING
	`

	for _, e := range entries {
		if _, err := r.db.ExecContext(ctx, query,
			e.ID, e.TenantID, e.EmployeeID, e.WorkDate, e.Hours, e.Source,
			e.ScheduleID, e.AssignmentID, e.CreatedAt, e.UpdatedAt,
		); err != nil {
			return fmt.Errorf("写入工时单条目失败: %w", err)
		}
	}
	return nil
}

// ListByEmployee 列出员工在日期范围内的工时单条目
func (r *TimesheetRepository) ListByEmployee(ctx context.Context, tenantID, employeeID uuid.UUID, period model.DateRange) ([]*model.TimesheetEntry, error) {
	query := `
		SELECT id, tenant_id, employee_id, work_date, hours, source,
			schedule_id, assignment_id, created_at, updated_at
		FROM timesheet_entries
		WHERE tenant_id = $1 AND employee_id = $2 AND work_date >= $3 AND work_date <= $4
		ORDER BY work_date
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, employeeID, period.StartDate, period.EndDate)
	if err != nil {
		return nil, fmt.Errorf("查询工时单失败: %w", err)
	}
	defer rows.Close()

	var entries []*model.TimesheetEntry
	for rows.Next() {
		e := &model.TimesheetEntry{}
		var workDate time.Time
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.EmployeeID, &workDate, &e.Hours, &e.Source,
			&e.ScheduleID, &e.AssignmentID, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("扫描工时单条目失败: %w", err)
		}
		e.WorkDate = workDate.Format(model.DateFormat)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
