// Package lifecycle 提供排班状态流转管理
// 状态机：draft -> approved -> active -> archived；draft 可拒绝，rejected/archived 为终态
package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/internal/audit"
	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/logger"
	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/rule"
)

// Store 状态流转的数据访问接口
type Store interface {
	// GetSchedule 加载排班及其全部分配
	GetSchedule(ctx context.Context, tenantID, scheduleID uuid.UUID) (*model.Schedule, error)

	// UpdateSchedule 持久化排班（状态、评估结果与分配变更）
	UpdateSchedule(ctx context.Context, schedule *model.Schedule) error

	// DeleteSchedule 删除排班及其分配
	DeleteSchedule(ctx context.Context, tenantID, scheduleID uuid.UUID) error

	// UpsertTimesheetEntries 幂等写入工时单条目（按分配唯一键去重）
	UpsertTimesheetEntries(ctx context.Context, entries []*model.TimesheetEntry) error
}

// Reevaluator 重新评估接口
// 人工编辑后排班的得分与违规列表必须与当前分配集一致
type Reevaluator interface {
	Reevaluate(ctx context.Context, schedule *model.Schedule) (*rule.Result, error)
}

// Manager 状态流转管理器
type Manager struct {
	store  Store
	reeval Reevaluator
	log    *logger.RosterLogger
	audit  audit.Recorder
}

// NewManager 创建状态流转管理器
func NewManager(store Store, reeval Reevaluator) *Manager {
	return &Manager{
		store:  store,
		reeval: reeval,
		log:    logger.NewRosterLogger(),
		audit:  audit.Nop{},
	}
}

// WithAudit 设置审计记录器
func (m *Manager) WithAudit(rec audit.Recorder) *Manager {
	if rec != nil {
		m.audit = rec
	}
	return m
}

// recordAudit 尽力而为写入审计事件
func (m *Manager) recordAudit(ctx context.Context, e *audit.Event) {
	if err := m.audit.Record(ctx, e); err != nil {
		logger.Warn().Err(err).Str("action", e.Action).Msg("审计事件写入失败")
	}
}

// transitions 合法状态流转表
var transitions = map[model.ScheduleStatus][]model.ScheduleStatus{
	model.StatusDraft:    {model.StatusApproved, model.StatusRejected},
	model.StatusApproved: {model.StatusActive, model.StatusArchived},
	model.StatusActive:   {model.StatusArchived},
}

// canTransition 检查状态流转是否合法
func canTransition(from, to model.ScheduleStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// load 加载排班
func (m *Manager) load(ctx context.Context, tenantID, scheduleID uuid.UUID) (*model.Schedule, error) {
	s, err := m.store.GetSchedule(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, errors.PersistenceFailed("加载排班", err)
	}
	if s == nil {
		return nil, errors.NotFound("排班", scheduleID.String())
	}
	return s, nil
}

// transition 执行状态流转并持久化
func (m *Manager) transition(ctx context.Context, s *model.Schedule, to model.ScheduleStatus) error {
	if !canTransition(s.Status, to) {
		return errors.StateInvalid(string(s.Status), string(to))
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	if err := m.store.UpdateSchedule(ctx, s); err != nil {
		return errors.PersistenceFailed("更新排班状态", err)
	}
	return nil
}

// Approve 审批通过排班
// 仅草稿可审批，且不允许存在未豁免的硬违反；
// 审批成功后物化工时单，物化失败不回滚审批，留待重试
func (m *Manager) Approve(ctx context.Context, tenantID, scheduleID, approvedBy uuid.UUID) (*model.Schedule, error) {
	s, err := m.load(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}
	if !s.IsValid {
		return nil, errors.New(errors.CodeValidationFail, "存在未豁免的硬违反，不能审批").
			WithField("hard_violations", len(s.HardViolations))
	}

	now := time.Now()
	s.ApprovedBy = &approvedBy
	s.ApprovedAt = &now
	if err := m.transition(ctx, s, model.StatusApproved); err != nil {
		return nil, err
	}

	// 工时单物化：幂等，失败不影响审批结果
	entries := model.EntriesFromSchedule(s)
	if err := m.store.UpsertTimesheetEntries(ctx, entries); err != nil {
		m.log.TimesheetMaterializeFailed(s.ID.String(), err)
	}

	m.recordAudit(ctx, &audit.Event{
		TenantID:   tenantID,
		Action:     audit.ActionApproved,
		EntityType: audit.EntitySchedule,
		EntityID:   s.ID,
		Actor:      &approvedBy,
		Details:    map[string]interface{}{"timesheet_entries": len(entries)},
	})
	return s, nil
}

// Reject 拒绝排班
func (m *Manager) Reject(ctx context.Context, tenantID, scheduleID uuid.UUID) (*model.Schedule, error) {
	return m.transitionOp(ctx, tenantID, scheduleID, model.StatusRejected, audit.ActionRejected)
}

// Activate 启用已审批的排班
func (m *Manager) Activate(ctx context.Context, tenantID, scheduleID uuid.UUID) (*model.Schedule, error) {
	return m.transitionOp(ctx, tenantID, scheduleID, model.StatusActive, audit.ActionActivated)
}

// Archive 归档排班
func (m *Manager) Archive(ctx context.Context, tenantID, scheduleID uuid.UUID) (*model.Schedule, error) {
	return m.transitionOp(ctx, tenantID, scheduleID, model.StatusArchived, audit.ActionArchived)
}

// transitionOp 加载、流转、审计的通用操作
func (m *Manager) transitionOp(ctx context.Context, tenantID, scheduleID uuid.UUID,
	to model.ScheduleStatus, action string) (*model.Schedule, error) {

	s, err := m.load(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := m.transition(ctx, s, to); err != nil {
		return nil, err
	}
	m.recordAudit(ctx, &audit.Event{
		TenantID:   tenantID,
		Action:     action,
		EntityType: audit.EntitySchedule,
		EntityID:   s.ID,
	})
	return s, nil
}

// EditRequest 人工编辑请求
type EditRequest struct {
	TenantID   uuid.UUID `json:"tenant_id"`
	ScheduleID uuid.UUID `json:"schedule_id"`

	// Add 新增分配（标记为人工来源）
	Add []*model.Assignment `json:"add,omitempty"`

	// Remove 待移除的分配 ID
	Remove []uuid.UUID `json:"remove,omitempty"`
}

// ManualEdit 人工编辑排班分配
// 仅草稿可编辑；编辑后重新评估，得分与违规列表随分配集更新
func (m *Manager) ManualEdit(ctx context.Context, req *EditRequest) (*model.Schedule, error) {
	s, err := m.load(ctx, req.TenantID, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	if s.Status != model.StatusDraft {
		return nil, errors.New(errors.CodeScheduleStateInvalid, "仅草稿状态的排班可人工编辑").
			WithField("status", string(s.Status))
	}

	removeSet := make(map[uuid.UUID]bool, len(req.Remove))
	for _, id := range req.Remove {
		removeSet[id] = true
	}

	kept := make([]*model.Assignment, 0, len(s.Assignments))
	removed := 0
	for _, a := range s.Assignments {
		if removeSet[a.ID] {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	if removed != len(removeSet) {
		return nil, errors.NotFound("分配", "部分待移除分配不存在")
	}

	for _, a := range req.Add {
		a.ScheduleID = s.ID
		a.AssignedBy = model.AssignedByManual
		if a.ID == uuid.Nil {
			a.BaseModel = model.NewBaseModel()
		}
		kept = append(kept, a)
	}
	s.Assignments = kept

	// 重新评估保持一致性
	result, err := m.reeval.Reevaluate(ctx, s)
	if err != nil {
		return nil, err
	}
	s.Score = result.Score
	s.IsValid = result.IsValid
	s.HardViolations = result.HardViolations
	s.SoftViolations = result.SoftViolations
	s.FilledSlots = len(s.Assignments)
	if s.TotalSlots > 0 {
		s.FillRate = float64(s.FilledSlots) / float64(s.TotalSlots) * 100
	}
	s.UpdatedAt = time.Now()

	if err := m.store.UpdateSchedule(ctx, s); err != nil {
		return nil, errors.PersistenceFailed("保存编辑结果", err)
	}

	m.recordAudit(ctx, &audit.Event{
		TenantID:   req.TenantID,
		Action:     audit.ActionManualEdit,
		EntityType: audit.EntitySchedule,
		EntityID:   s.ID,
		Details:    map[string]interface{}{"added": len(req.Add), "removed": removed},
	})
	return s, nil
}

// Delete 删除排班
// 已审批或启用中的排班不可删除，需先归档
func (m *Manager) Delete(ctx context.Context, tenantID, scheduleID uuid.UUID) error {
	s, err := m.load(ctx, tenantID, scheduleID)
	if err != nil {
		return err
	}
	switch s.Status {
	case model.StatusApproved, model.StatusActive:
		return errors.New(errors.CodeScheduleStateInvalid, "已审批或启用中的排班不可删除，请先归档").
			WithField("status", string(s.Status))
	}
	if err := m.store.DeleteSchedule(ctx, tenantID, scheduleID); err != nil {
		return errors.PersistenceFailed("删除排班", err)
	}

	m.recordAudit(ctx, &audit.Event{
		TenantID:   tenantID,
		Action:     audit.ActionDeleted,
		EntityType: audit.EntitySchedule,
		EntityID:   scheduleID,
		Details:    map[string]interface{}{"status": string(s.Status)},
	})
	return nil
}
