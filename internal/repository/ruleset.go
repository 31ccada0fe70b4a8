// Package repository 提供数据访问层
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/model"
)

// RuleSetRepository 规则集仓储
type RuleSetRepository struct {
	db DB
}

// NewRuleSetRepository 创建规则集仓储
func NewRuleSetRepository(db DB) *RuleSetRepository {
	return &RuleSetRepository{db: db}
}

// GetRuleSet 按ID获取租户规则集，不存在时返回 nil
func (r *RuleSetRepository) GetRuleSet(ctx context.Context, tenantID, ruleSetID uuid.UUID) (*model.RuleSet, error) {
	query := `
		SELECT id, tenant_id, name, description, rules, undesirable_class, created_at, updated_at
		FROM rule_sets
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
	`

	return r.scanRuleSet(r.db.QueryRowContext(ctx, query, tenantID, ruleSetID))
}

// Create 创建规则集
func (r *RuleSetRepository) Create(ctx context.Context, rs *model.RuleSet) error {
	if rs.ID == uuid.Nil {
		rs.BaseModel = model.NewBaseModel()
	}
	rulesJSON, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("序列化规则定义失败: %w", err)
	}

	query := `
		INSERT INTO rule_sets (id, tenant_id, name, description, rules, undesirable_class, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.ExecContext(ctx, query,
		rs.ID, rs.TenantID, rs.Name, rs.Description, rulesJSON, string(rs.UndesirableClass),
		rs.CreatedAt, rs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("创建规则集失败: %w", err)
	}
	return nil
}

// Update 更新规则集
func (r *RuleSetRepository) Update(ctx context.Context, rs *model.RuleSet) error {
	rs.UpdatedAt = time.Now()
	rulesJSON, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("序列化规则定义失败: %w", err)
	}

	query := `
		UPDATE rule_sets SET
			name = $3, description = $4, rules = $5, undesirable_class = $6, updated_at = $7
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
	`

	_, err = r.db.ExecContext(ctx, query,
		rs.TenantID, rs.ID, rs.Name, rs.Description, rulesJSON, string(rs.UndesirableClass), rs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("更新规则集失败: %w", err)
	}
	return nil
}

// List 列出租户规则集
func (r *RuleSetRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*model.RuleSet, error) {
	query := `
		SELECT id, tenant_id, name, description, rules, undesirable_class, created_at, updated_at
		FROM rule_sets
		WHERE tenant_id = $1 AND deleted_at IS NULL
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("查询规则集列表失败: %w", err)
	}
	defer rows.Close()

	var sets []*model.RuleSet
	for rows.Next() {
		rs, err := r.scanRuleSetRow(rows)
		if err != nil {
			return nil, err
		}
		sets = append(sets, rs)
	}

	return sets, rows.Err()
}

// scanRuleSet 扫描单行规则集
func (r *RuleSetRepository) scanRuleSet(row *sql.Row) (*model.RuleSet, error) {
	rs := &model.RuleSet{}
	var rulesJSON []byte
	var class string

	err := row.Scan(
		&rs.ID, &rs.TenantID, &rs.Name, &rs.Description, &rulesJSON, &class,
		&rs.CreatedAt, &rs.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("扫描规则集失败: %w", err)
	}

	rs.UndesirableClass = model.ShiftClass(class)
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &rs.Rules); err != nil {
			return nil, fmt.Errorf("解析规则定义失败: %w", err)
		}
	}
	return rs, nil
}

// scanRuleSetRow 从多行结果扫描
func (r *RuleSetRepository) scanRuleSetRow(rows *sql.Rows) (*model.RuleSet, error) {
	rs := &model.RuleSet{}
	var rulesJSON []byte
	var class string

	err := rows.Scan(
		&rs.ID, &rs.TenantID, &rs.Name, &rs.Description, &rulesJSON, &class,
		&rs.CreatedAt, &rs.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("扫描规则集失败: %w", err)
	}

	rs.UndesirableClass = model.ShiftClass(class)
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &rs.Rules); err != nil {
			return nil, fmt.Errorf("解析规则定义失败: %w", err)
		}
	}
	return rs, nil
}
