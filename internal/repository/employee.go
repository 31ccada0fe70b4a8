// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/zhiban/zhiban/pkg/model"
)

// EmployeeRepository 员工及其周边数据仓储
// 可用性、请假、节假日与豁免申请在排班运行中均以员工为中心加载
type EmployeeRepository struct {
	db DB
}

// NewEmployeeRepository 创建员工仓储
func NewEmployeeRepository(db DB) *EmployeeRepository {
	return &EmployeeRepository{db: db}
}

// ListEmployees 列出租户全部未删除员工
func (r *EmployeeRepository) ListEmployees(ctx context.Context, tenantID uuid.UUID) ([]*model.Employee, error) {
	query := `
		SELECT id, tenant_id, name, code, email, status, roles, created_at, updated_at
		FROM employees
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY code
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("查询员工列表失败: %w", err)
	}
	defer rows.Close()

	var employees []*model.Employee
	for rows.Next() {
		e := &model.Employee{}
		var roles pq.StringArray
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.Name, &e.Code, &e.Email, &e.Status, &roles,
			&e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("扫描员工记录失败: %w", err)
		}
		e.Roles = roles
		employees = append(employees, e)
	}

	return employees, rows.Err()
}

// ListAvailability 列出周期内员工提交的可用性记录
func (r *EmployeeRepository) ListAvailability(ctx context.Context, tenantID uuid.UUID, period model.DateRange) ([]*model.AvailabilityRecord, error) {
	query := `
		SELECT a.employee_id, a.date, a.window_start, a.window_end, a.type,
			a.pinned, a.forbidden, a.template_id, a.source, a.reason
		FROM availability_records a
		JOIN employees e ON e.id = a.employee_id
		WHERE e.tenant_id = $1 AND a.date >= $2 AND a.date <= $3
		ORDER BY a.date, a.employee_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, period.StartDate, period.EndDate)
	if err != nil {
		return nil, fmt.Errorf("查询可用性记录失败: %w", err)
	}
	defer rows.Close()

	var records []*model.AvailabilityRecord
	for rows.Next() {
		rec := &model.AvailabilityRecord{}
		var date time.Time
		var winStart, winEnd sql.NullTime
		var templateID uuid.NullUUID
		if err := rows.Scan(
			&rec.EmployeeID, &date, &winStart, &winEnd, &rec.Type,
			&rec.Pinned, &rec.Forbidden, &templateID, &rec.Source, &rec.Reason,
		); err != nil {
			return nil, fmt.Errorf("扫描可用性记录失败: %w", err)
		}
		rec.Date = date.Format(model.DateFormat)
		if winStart.Valid && winEnd.Valid {
			rec.Window = &model.TimeRange{Start: winStart.Time, End: winEnd.Time}
		}
		if templateID.Valid {
			rec.TemplateID = &templateID.UUID
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// ListLeaves 列出与周期重叠的请假记录
func (r *EmployeeRepository) ListLeaves(ctx context.Context, tenantID uuid.UUID, period model.DateRange) ([]*model.LeaveRecord, error) {
	query := `
		SELECT l.employee_id, l.start_date, l.end_date, l.reason
		FROM leave_records l
		JOIN employees e ON e.id = l.employee_id
		WHERE e.tenant_id = $1 AND l.start_date <= $2 AND l.end_date >= $3
		ORDER BY l.start_date, l.employee_id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, period.EndDate, period.StartDate)
	if err != nil {
		return nil, fmt.Errorf("查询请假记录失败: %w", err)
	}
	defer rows.Close()

	var leaves []*model.LeaveRecord
	for rows.Next() {
		l := &model.LeaveRecord{}
		var start, end time.Time
		if err := rows.Scan(&l.EmployeeID, &start, &end, &l.Reason); err != nil {
			return nil, fmt.Errorf("扫描请假记录失败: %w", err)
		}
		l.StartDate = start.Format(model.DateFormat)
		l.EndDate = end.Format(model.DateFormat)
		leaves = append(leaves, l)
	}

	return leaves, rows.Err()
}

// ListHolidays 列出周期内的节假日
func (r *EmployeeRepository) ListHolidays(ctx context.Context, period model.DateRange) ([]*model.Holiday, error) {
	query := `
		SELECT date, name
		FROM holidays
		WHERE date >= $1 AND date <= $2
		ORDER BY date
	`

	rows, err := r.db.QueryContext(ctx, query, period.StartDate, period.EndDate)
	if err != nil {
		return nil, fmt.Errorf("查询节假日失败: %w", err)
	}
	defer rows.Close()

	var holidays []*model.Holiday
	for rows.Next() {
		h := &model.Holiday{}
		var date time.Time
		if err := rows.Scan(&date, &h.Name); err != nil {
			return nil, fmt.Errorf("扫描节假日失败: %w", err)
		}
		h.Date = date.Format(model.DateFormat)
		holidays = append(holidays, h)
	}

	return holidays, rows.Err()
}

// ListExceptions 列出租户的全部豁免申请
// 评估器只认已批准的豁免，但申请全量加载便于在遥测中追溯
func (r *EmployeeRepository) ListExceptions(ctx context.Context, tenantID uuid.UUID) ([]*model.ExceptionRequest, error) {
	query := `
		SELECT id, tenant_id, employee_id, rule_id, type, status, created_at, updated_at
		FROM exception_requests
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("查询豁免申请失败: %w", err)
	}
	defer rows.Close()

	var requests []*model.ExceptionRequest
	for rows.Next() {
		req := &model.ExceptionRequest{}
		if err := rows.Scan(
			&req.ID, &req.TenantID, &req.EmployeeID, &req.RuleID, &req.Type, &req.Status,
			&req.CreatedAt, &req.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("扫描豁免申请失败: %w", err)
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}
