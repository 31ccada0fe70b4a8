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

// TemplateRepository 班次模板与人力需求仓储
type TemplateRepository struct {
	db DB
}

// NewTemplateRepository 创建模板仓储
func NewTemplateRepository(db DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// ListTemplates 列出租户全部班次模板（含停用模板，需求展开时自行过滤）
func (r *TemplateRepository) ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]*model.ShiftTemplate, error) {
	query := `
		SELECT id, tenant_id, name, start_time, end_time, class, duration_min,
			crosses_midnight, team_id, branch_id, priority, is_active, created_at, updated_at
		FROM shift_templates
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY priority DESC, name
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("查询班次模板失败: %w", err)
	}
	defer rows.Close()

	var templates []*model.ShiftTemplate
	for rows.Next() {
		t := &model.ShiftTemplate{}
		var teamID, branchID uuid.NullUUID
		if err := rows.Scan(
			&t.ID, &t.TenantID, &t.Name, &t.StartTime, &t.EndTime, &t.Class, &t.DurationMin,
			&t.CrossesMidnight, &teamID, &branchID, &t.Priority, &t.IsActive,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("扫描班次模板失败: %w", err)
		}
		if teamID.Valid {
			t.TeamID = &teamID.UUID
		}
		if branchID.Valid {
			t.BranchID = &branchID.UUID
		}
		templates = append(templates, t)
	}

	return templates, rows.Err()
}

// ListDemand 列出与周期相关的人力需求配置
// 按星期重复的配置无日期边界，全量返回；显式日期区间的配置仅返回与周期重叠者
func (r *TemplateRepository) ListDemand(ctx context.Context, tenantID uuid.UUID, period model.DateRange) ([]*model.DemandRequirement, error) {
	query := `
		SELECT id, tenant_id, template_id, weekdays, dates_start, dates_end,
			required_count, required_roles, team_id, branch_id, created_at, updated_at
		FROM demand_requirements
		WHERE tenant_id = $1 AND deleted_at IS NULL
			AND (dates_start IS NULL OR (dates_start <= $2 AND dates_end >= $3))
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID, period.EndDate, period.StartDate)
	if err != nil {
		return nil, fmt.Errorf("查询人力需求失败: %w", err)
	}
	defer rows.Close()

	var requirements []*model.DemandRequirement
	for rows.Next() {
		d := &model.DemandRequirement{}
		var weekdays pq.Int64Array
		var roles pq.StringArray
		var datesStart, datesEnd sql.NullTime
		var teamID, branchID uuid.NullUUID
		if err := rows.Scan(
			&d.ID, &d.TenantID, &d.TemplateID, &weekdays, &datesStart, &datesEnd,
			&d.RequiredCount, &roles, &teamID, &branchID,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("扫描人力需求失败: %w", err)
		}
		for _, w := range weekdays {
			d.Weekdays = append(d.Weekdays, time.Weekday(w))
		}
		d.RequiredRoles = roles
		if datesStart.Valid && datesEnd.Valid {
			d.Dates = &model.DateRange{
				StartDate: datesStart.Time.Format(model.DateFormat),
				EndDate:   datesEnd.Time.Format(model.DateFormat),
			}
		}
		if teamID.Valid {
			d.TeamID = &teamID.UUID
		}
		if branchID.Valid {
			d.BranchID = &branchID.UUID
		}
		requirements = append(requirements, d)
	}

	return requirements, rows.Err()
}
