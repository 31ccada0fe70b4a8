// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/fairness"
)

// 纳入公平性基线的排班状态（已完结的运行）
var completedStatuses = []string{
	string(model.StatusApproved),
	string(model.StatusActive),
	string(model.StatusArchived),
}

// ScheduleRepository 排班仓储
// 排班与其分配的写入在同一事务内完成，避免半落库的草稿
type ScheduleRepository struct {
	db TxDB
}

// NewScheduleRepository 创建排班仓储
func NewScheduleRepository(db TxDB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// SaveSchedule 原子持久化排班及其全部分配
func (r *ScheduleRepository) SaveSchedule(ctx context.Context, schedule *model.Schedule) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := insertSchedule(ctx, tx, schedule); err != nil {
			return err
		}
		return insertAssignments(ctx, tx, schedule.Assignments)
	})
}

// ReplaceSchedule 在同一事务内删除被替换排班并持久化新排班
// 替换运行不会留下重复的同周期草稿
func (r *ScheduleRepository) ReplaceSchedule(ctx context.Context, replacedID uuid.UUID, schedule *model.Schedule) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM assignments WHERE schedule_id = $1", replacedID); err != nil {
			return fmt.Errorf("删除被替换排班分配失败: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM schedules WHERE tenant_id = $1 AND id = $2", schedule.TenantID, replacedID); err != nil {
			return fmt.Errorf("删除被替换排班失败: %w", err)
		}
		if err := insertSchedule(ctx, tx, schedule); err != nil {
			return err
		}
		return insertAssignments(ctx, tx, schedule.Assignments)
	})
}

// UpdateSchedule 持久化排班行与分配集
// 人工编辑会增删分配，分配集整体替换保证与内存状态一致
func (r *ScheduleRepository) UpdateSchedule(ctx context.Context, schedule *model.Schedule) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if err := updateScheduleRow(ctx, tx, schedule); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM assignments WHERE schedule_id = $1", schedule.ID); err != nil {
			return fmt.Errorf("清除既有分配失败: %w", err)
		}
		return insertAssignments(ctx, tx, schedule.Assignments)
	})
}

// GetSchedule 加载排班及其全部分配，不存在时返回 nil
func (r *ScheduleRepository) GetSchedule(ctx context.Context, tenantID, scheduleID uuid.UUID) (*model.Schedule, error) {
	query := scheduleSelect + ` WHERE tenant_id = $1 AND id = $2`

	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, tenantID, scheduleID))
	if err != nil || s == nil {
		return s, err
	}

	s.Assignments, err = r.loadAssignments(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// DeleteSchedule 删除排班及其分配
func (r *ScheduleRepository) DeleteSchedule(ctx context.Context, tenantID, scheduleID uuid.UUID) error {
	return r.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM assignments WHERE schedule_id = $1", scheduleID); err != nil {
			return fmt.Errorf("删除排班分配失败: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM schedules WHERE tenant_id = $1 AND id = $2", tenantID, scheduleID); err != nil {
			return fmt.Errorf("删除排班记录失败: %w", err)
		}
		return nil
	})
}

// LatestScheduleForPeriod 返回与周期重叠的最新排班
func (r *ScheduleRepository) LatestScheduleForPeriod(ctx context.Context, tenantID uuid.UUID, period model.DateRange) (*model.Schedule, error) {
	query := scheduleSelect + `
		WHERE tenant_id = $1 AND start_date <= $2 AND end_date >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, tenantID, period.EndDate, period.StartDate))
	if err != nil || s == nil {
		return s, err
	}

	s.Assignments, err = r.loadAssignments(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListPriorRuns 返回周期开始前最近的已完结排班中，指定班次分类的每人分配计数
// 最近的运行排在最前，公平性追踪器据此按衰减权重累计
func (r *ScheduleRepository) ListPriorRuns(ctx context.Context, tenantID uuid.UUID, class model.ShiftClass, before string, limit int) ([]fairness.PriorRun, error) {
	query := `
		WITH recent AS (
			SELECT id, end_date, created_at
			FROM schedules
			WHERE tenant_id = $1 AND end_date < $2 AND status = ANY($3)
			ORDER BY end_date DESC, created_at DESC
			LIMIT $4
		)
		SELECT r.id, a.employee_id, COUNT(*)
		FROM recent r
		JOIN assignments a ON a.schedule_id = r.id
		JOIN shift_templates t ON t.id = a.template_id AND t.class = $5
		GROUP BY r.id, r.end_date, r.created_at, a.employee_id
		ORDER BY r.end_date DESC, r.created_at DESC, r.id
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, before, pq.Array(completedStatuses), limit, string(class))
	if err != nil {
		return nil, fmt.Errorf("查询历史排班计数失败: %w", err)
	}
	defer rows.Close()

	var runs []fairness.PriorRun
	var current uuid.UUID
	for rows.Next() {
		var scheduleID, employeeID uuid.UUID
		var count int
		if err := rows.Scan(&scheduleID, &employeeID, &count); err != nil {
			return nil, fmt.Errorf("扫描历史排班计数失败: %w", err)
		}
		if scheduleID != current || len(runs) == 0 {
			runs = append(runs, fairness.PriorRun{Counts: make(map[uuid.UUID]int)})
			current = scheduleID
		}
		runs[len(runs)-1].Counts[employeeID] = count
	}

	return runs, rows.Err()
}

// List 分页列出排班（不含分配）
func (r *ScheduleRepository) List(ctx context.Context, filter ListFilter) ([]*model.Schedule, int, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.TenantID != nil {
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", argNum))
		args = append(args, *filter.TenantID)
		argNum++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, filter.Status)
		argNum++
	}
	if filter.StartDate != "" {
		conditions = append(conditions, fmt.Sprintf("start_date >= $%d", argNum))
		args = append(args, filter.StartDate)
		argNum++
	}
	if filter.EndDate != "" {
		conditions = append(conditions, fmt.Sprintf("end_date <= $%d", argNum))
		args = append(args, filter.EndDate)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM schedules %s", whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("统计排班数量失败: %w", err)
	}

	query := fmt.Sprintf("%s %s ORDER BY %s %s LIMIT $%d OFFSET $%d",
		scheduleSelect, whereClause, filter.OrderBy, filter.OrderDir, argNum, argNum+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("查询排班列表失败: %w", err)
	}
	defer rows.Close()

	var schedules []*model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		schedules = append(schedules, s)
	}

	return schedules, total, rows.Err()
}

// loadAssignments 加载排班的全部分配
func (r *ScheduleRepository) loadAssignments(ctx context.Context, scheduleID uuid.UUID) ([]*model.Assignment, error) {
	query := `
		SELECT id, schedule_id, employee_id, template_id, date, start_time, end_time,
			assigned_by, created_at, updated_at
		FROM assignments
		WHERE schedule_id = $1
		ORDER BY date, start_time, employee_id
	`

	rows, err := r.db.QueryContext(ctx, query, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("查询排班分配失败: %w", err)
	}
	defer rows.Close()

	var assignments []*model.Assignment
	for rows.Next() {
		a := &model.Assignment{}
		var date time.Time
		if err := rows.Scan(
			&a.ID, &a.ScheduleID, &a.EmployeeID, &a.TemplateID, &date, &a.StartTime, &a.EndTime,
			&a.AssignedBy, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("扫描排班分配失败: %w", err)
		}
		a.Date = date.Format(model.DateFormat)
		assignments = append(assignments, a)
	}

	return assignments, rows.Err()
}

// scheduleSelect 排班行查询字段
const scheduleSelect = `
	SELECT id, tenant_id, name, start_date, end_date, rule_set_id, algorithm, status,
		score, is_valid, hard_violations, soft_violations, telemetry,
		total_slots, filled_slots, fill_rate,
		created_by, approved_by, approved_at, created_at, updated_at
	FROM schedules`

// insertSchedule 写入排班行
func insertSchedule(ctx context.Context, tx *sql.Tx, s *model.Schedule) error {
	hardJSON, softJSON, telemetryJSON, err := marshalScheduleJSON(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO schedules (
			id, tenant_id, name, start_date, end_date, rule_set_id, algorithm, status,
			score, is_valid, hard_violations, soft_violations, telemetry,
			total_slots, filled_slots, fill_rate,
			created_by, approved_by, approved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err = tx.ExecContext(ctx, query,
		s.ID, s.TenantID, s.Name, s.StartDate, s.EndDate, s.RuleSetID, s.Algorithm, string(s.Status),
		s.Score, s.IsValid, hardJSON, softJSON, telemetryJSON,
		s.TotalSlots, s.FilledSlots, s.FillRate,
		nullUUID(s.CreatedBy), nullUUID(s.ApprovedBy), s.ApprovedAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("创建排班记录失败: %w", err)
	}
	return nil
}

// updateScheduleRow 更新排班行
func updateScheduleRow(ctx context.Context, tx *sql.Tx, s *model.Schedule) error {
	hardJSON, softJSON, telemetryJSON, err := marshalScheduleJSON(s)
	if err != nil {
		return err
	}

	query := `
		UPDATE schedules SET
			name = $3, status = $4, score = $5, is_valid = $6,
			hard_violations = $7, soft_violations = $8, telemetry = $9,
			total_slots = $10, filled_slots = $11, fill_rate = $12,
			approved_by = $13, approved_at = $14, updated_at = $15
		WHERE tenant_id = $1 AND id = $2
	`

	_, err = tx.ExecContext(ctx, query,
		s.TenantID, s.ID, s.Name, string(s.Status), s.Score, s.IsValid,
		hardJSON, softJSON, telemetryJSON,
		s.TotalSlots, s.FilledSlots, s.FillRate,
		nullUUID(s.ApprovedBy), s.ApprovedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("更新排班记录失败: %w", err)
	}
	return nil
}

// insertAssignments 批量写入分配
func insertAssignments(ctx context.Context, tx *sql.Tx, assignments []*model.Assignment) error {
	query := `
		INSERT INTO assignments (
			id, schedule_id, employee_id, template_id, date, start_time, end_time,
			assigned_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for _, a := range assignments {
		if _, err := tx.ExecContext(ctx, query,
			a.ID, a.ScheduleID, a.EmployeeID, a.TemplateID, a.Date, a.StartTime, a.EndTime,
			string(a.AssignedBy), a.CreatedAt, a.UpdatedAt,
		); err != nil {
			return fmt.Errorf("创建排班分配失败: %w", err)
		}
	}
	return nil
}

// marshalScheduleJSON 序列化排班的 JSONB 字段
func marshalScheduleJSON(s *model.Schedule) (hard, soft, telemetry []byte, err error) {
	if hard, err = json.Marshal(s.HardViolations); err != nil {
		return nil, nil, nil, fmt.Errorf("序列化硬违反失败: %w", err)
	}
	if soft, err = json.Marshal(s.SoftViolations); err != nil {
		return nil, nil, nil, fmt.Errorf("序列化软违反失败: %w", err)
	}
	if telemetry, err = json.Marshal(s.Telemetry); err != nil {
		return nil, nil, nil, fmt.Errorf("序列化遥测失败: %w", err)
	}
	return hard, soft, telemetry, nil
}

// scanSchedule 扫描排班行
func scanSchedule(row Scanner) (*model.Schedule, error) {
	s := &model.Schedule{}
	var startDate, endDate time.Time
	var status, algorithm string
	var hardJSON, softJSON, telemetryJSON []byte
	var createdBy, approvedBy uuid.NullUUID
	var approvedAt sql.NullTime

	err := row.Scan(
		&s.ID, &s.TenantID, &s.Name, &startDate, &endDate, &s.RuleSetID, &algorithm, &status,
		&s.Score, &s.IsValid, &hardJSON, &softJSON, &telemetryJSON,
		&s.TotalSlots, &s.FilledSlots, &s.FillRate,
		&createdBy, &approvedBy, &approvedAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("扫描排班记录失败: %w", err)
	}

	s.StartDate = startDate.Format(model.DateFormat)
	s.EndDate = endDate.Format(model.DateFormat)
	s.Algorithm = algorithm
	s.Status = model.ScheduleStatus(status)
	if len(hardJSON) > 0 {
		if err := json.Unmarshal(hardJSON, &s.HardViolations); err != nil {
			return nil, fmt.Errorf("解析硬违反失败: %w", err)
		}
	}
	if len(softJSON) > 0 {
		if err := json.Unmarshal(softJSON, &s.SoftViolations); err != nil {
			return nil, fmt.Errorf("解析软违反失败: %w", err)
		}
	}
	if len(telemetryJSON) > 0 && string(telemetryJSON) != "null" {
		if err := json.Unmarshal(telemetryJSON, &s.Telemetry); err != nil {
			return nil, fmt.Errorf("解析遥测失败: %w", err)
		}
	}
	if createdBy.Valid {
		s.CreatedBy = &createdBy.UUID
	}
	if approvedBy.Valid {
		s.ApprovedBy = &approvedBy.UUID
	}
	if approvedAt.Valid {
		s.ApprovedAt = &approvedAt.Time
	}

	return s, nil
}

// nullUUID 转换可空 UUID
func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
