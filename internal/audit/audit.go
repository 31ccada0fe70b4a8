// Package audit 记录排班领域的审计事件
// 审计写入为尽力而为：失败仅记录日志，不影响业务操作结果
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 审计动作
const (
	ActionRunCreated  = "roster.run.created"
	ActionRunReplaced = "roster.run.replaced"
	ActionApproved    = "schedule.approved"
	ActionRejected    = "schedule.rejected"
	ActionActivated   = "schedule.activated"
	ActionArchived    = "schedule.archived"
	ActionManualEdit  = "schedule.manual_edit"
	ActionDeleted     = "schedule.deleted"
)

// EntitySchedule 排班实体类型
const EntitySchedule = "schedule"

// Event 审计事件
type Event struct {
	ID         uuid.UUID              `json:"id"`
	TenantID   uuid.UUID              `json:"tenant_id"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   uuid.UUID              `json:"entity_id"`
	Actor      *uuid.UUID             `json:"actor,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// Recorder 审计事件记录器
type Recorder interface {
	Record(ctx context.Context, e *Event) error
}

// Nop 空记录器（测试或关闭审计时使用）
type Nop struct{}

// Record 丢弃事件
func (Nop) Record(ctx context.Context, e *Event) error { return nil }

// DB 审计写入所需的最小数据库接口
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// DBRecorder 数据库审计记录器
type DBRecorder struct {
	db DB
}

// NewDBRecorder 创建数据库审计记录器
func NewDBRecorder(db DB) *DBRecorder {
	return &DBRecorder{db: db}
}

// Record 写入一条审计事件
func (r *DBRecorder) Record(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	details := []byte("{}")
	if e.Details != nil {
		var err error
		details, err = json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("序列化审计详情失败: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (id, tenant_id, action, entity_type, entity_id, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	var actor interface{}
	if e.Actor != nil {
		actor = *e.Actor
	}
	if _, err := r.db.ExecContext(ctx, query,
		e.ID, e.TenantID, e.Action, e.EntityType, e.EntityID, actor, details, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入审计事件失败: %w", err)
	}
	return nil
}
