// Package handler 提供HTTP请求处理器
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/zhiban/zhiban/internal/metrics"
	"github.com/zhiban/zhiban/internal/tenant"
	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/lifecycle"
)

// ScheduleHandler 排班生命周期处理器
type ScheduleHandler struct {
	manager  *lifecycle.Manager
	validate *validator.Validate
}

// NewScheduleHandler 创建生命周期处理器
func NewScheduleHandler(manager *lifecycle.Manager) *ScheduleHandler {
	return &ScheduleHandler{
		manager:  manager,
		validate: validator.New(),
	}
}

// scheduleCtx 解析租户与排班ID
func scheduleCtx(r *http.Request) (tenantID, scheduleID uuid.UUID, appErr *errors.AppError) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		return uuid.Nil, uuid.Nil, errors.New(errors.CodeUnauthorized, "缺少租户上下文")
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.InvalidInput("id", "格式无效")
	}
	return t.ID, id, nil
}

// ApproveRequest 审批请求
type ApproveRequest struct {
	ApprovedBy string `json:"approved_by" validate:"required,uuid"`
}

// Approve 审批通过排班并物化工时单
func (h *ScheduleHandler) Approve(w http.ResponseWriter, r *http.Request) {
	tenantID, scheduleID, appErr := scheduleCtx(r)
	if appErr != nil {
		respondError(w, appErr)
		return
	}

	var req ApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, validationError(err))
		return
	}
	approvedBy, err := uuid.Parse(req.ApprovedBy)
	if err != nil {
		respondError(w, errors.InvalidInput("approved_by", "格式无效"))
		return
	}

	s, err := h.manager.Approve(r.Context(), tenantID, scheduleID, approvedBy)
	if err != nil {
		respondError(w, err)
		return
	}

	metrics.RecordTransition(string(model.StatusApproved))
	metrics.RecordTimesheetEntries(tenantID.String(), len(s.Assignments))
	respondJSON(w, http.StatusOK, s)
}

// Reject 拒绝排班
func (h *ScheduleHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusRejected, h.manager.Reject)
}

// Activate 启用排班
func (h *ScheduleHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusActive, h.manager.Activate)
}

// Archive 归档排班
func (h *ScheduleHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusArchived, h.manager.Archive)
}

// transition 通用状态流转处理
func (h *ScheduleHandler) transition(w http.ResponseWriter, r *http.Request, to model.ScheduleStatus,
	fn func(ctx context.Context, tenantID, scheduleID uuid.UUID) (*model.Schedule, error)) {

	tenantID, scheduleID, appErr := scheduleCtx(r)
	if appErr != nil {
		respondError(w, appErr)
		return
	}

	s, err := fn(r.Context(), tenantID, scheduleID)
	if err != nil {
		respondError(w, err)
		return
	}

	metrics.RecordTransition(string(to))
	respondJSON(w, http.StatusOK, s)
}

// AssignmentInput 人工新增分配输入
type AssignmentInput struct {
	EmployeeID string `json:"employee_id" validate:"required,uuid"`
	TemplateID string `json:"template_id" validate:"required,uuid"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime  string `json:"start_time" validate:"required,datetime=15:04"`
	EndTime    string `json:"end_time" validate:"required,datetime=15:04"`
}

// EditRequest 人工编辑请求
type EditRequest struct {
	Add    []AssignmentInput `json:"add,omitempty" validate:"dive"`
	Remove []string          `json:"remove,omitempty" validate:"dive,uuid"`
}

// Edit 人工编辑草稿排班的分配
func (h *ScheduleHandler) Edit(w http.ResponseWriter, r *http.Request) {
	tenantID, scheduleID, appErr := scheduleCtx(r)
	if appErr != nil {
		respondError(w, appErr)
		return
	}

	var req EditRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, validationError(err))
		return
	}

	edit := &lifecycle.EditRequest{
		TenantID:   tenantID,
		ScheduleID: scheduleID,
	}
	for _, in := range req.Add {
		a, err := buildAssignmentInput(in)
		if err != nil {
			respondError(w, err)
			return
		}
		edit.Add = append(edit.Add, a)
	}
	for _, id := range req.Remove {
		parsed, err := uuid.Parse(id)
		if err != nil {
			respondError(w, errors.InvalidInput("remove", "格式无效: "+id))
			return
		}
		edit.Remove = append(edit.Remove, parsed)
	}

	s, err := h.manager.ManualEdit(r.Context(), edit)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, s)
}

// Delete 删除排班
func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, scheduleID, appErr := scheduleCtx(r)
	if appErr != nil {
		respondError(w, appErr)
		return
	}

	if err := h.manager.Delete(r.Context(), tenantID, scheduleID); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "id": scheduleID})
}

// buildAssignmentInput 将输入转换为分配模型
func buildAssignmentInput(in AssignmentInput) (*model.Assignment, *errors.AppError) {
	employeeID, err := uuid.Parse(in.EmployeeID)
	if err != nil {
		return nil, errors.InvalidInput("employee_id", "格式无效")
	}
	templateID, err := uuid.Parse(in.TemplateID)
	if err != nil {
		return nil, errors.InvalidInput("template_id", "格式无效")
	}
	start, err := time.Parse("2006-01-02 15:04", in.Date+" "+in.StartTime)
	if err != nil {
		return nil, errors.InvalidInput("start_time", "格式无效")
	}
	end, err := time.Parse("2006-01-02 15:04", in.Date+" "+in.EndTime)
	if err != nil {
		return nil, errors.InvalidInput("end_time", "格式无效")
	}
	// 跨零点班次：结束时刻不晚于开始时刻视为次日结束
	if !end.After(start) {
		end = end.Add(24 * time.Hour)
	}

	return &model.Assignment{
		EmployeeID: employeeID,
		TemplateID: templateID,
		Date:       in.Date,
		StartTime:  start,
		EndTime:    end,
	}, nil
}
