// Package handler 提供HTTP请求处理器
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/zhiban/zhiban/internal/metrics"
	"github.com/zhiban/zhiban/internal/repository"
	"github.com/zhiban/zhiban/internal/tenant"
	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/engine"
	"github.com/zhiban/zhiban/pkg/roster/fairness"
)

// RosterHandler 排班运行处理器
type RosterHandler struct {
	runner    *engine.Runner
	schedules *repository.ScheduleRepository
	validate  *validator.Validate
}

// NewRosterHandler 创建排班运行处理器
func NewRosterHandler(runner *engine.Runner, schedules *repository.ScheduleRepository) *RosterHandler {
	return &RosterHandler{
		runner:    runner,
		schedules: schedules,
		validate:  validator.New(),
	}
}

// RunRequest 排班运行请求
type RunRequest struct {
	Name             string `json:"name" validate:"required,max=128"`
	StartDate        string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate          string `json:"end_date" validate:"required,datetime=2006-01-02"`
	RuleSetID        string `json:"rule_set_id,omitempty" validate:"omitempty,uuid"`
	Algorithm        string `json:"algorithm,omitempty" validate:"omitempty,oneof=greedy solver"`
	Seed             *int64 `json:"seed,omitempty"`
	Mode             string `json:"mode,omitempty" validate:"omitempty,oneof=new replace"`
	DisableSynthesis bool   `json:"disable_synthesis,omitempty"`
	OverwriteLocked  bool   `json:"overwrite_locked,omitempty"`
	CreatedBy        string `json:"created_by,omitempty" validate:"omitempty,uuid"`

	ExistingScheduleID string             `json:"existing_schedule_id,omitempty" validate:"omitempty,uuid"`
	Decay              *float64           `json:"decay,omitempty" validate:"omitempty,gt=0,lte=1"`
	WeightOverrides    map[string]float64 `json:"weight_overrides,omitempty"`
}

// Run 执行排班运行，产出草稿排班
func (h *RosterHandler) Run(w http.ResponseWriter, r *http.Request) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		respondError(w, errors.New(errors.CodeUnauthorized, "缺少租户上下文"))
		return
	}

	var req RunRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		respondError(w, validationError(err))
		return
	}

	runReq := &engine.RunRequest{
		TenantID:         t.ID,
		Name:             req.Name,
		Period:           model.DateRange{StartDate: req.StartDate, EndDate: req.EndDate},
		Algorithm:        req.Algorithm,
		Seed:             req.Seed,
		Mode:             req.Mode,
		DisableSynthesis: req.DisableSynthesis,
		OverwriteLocked:  req.OverwriteLocked,
		Decay:            req.Decay,
		WeightOverrides:  req.WeightOverrides,
	}
	if req.ExistingScheduleID != "" {
		id, err := uuid.Parse(req.ExistingScheduleID)
		if err != nil {
			respondError(w, errors.InvalidInput("existing_schedule_id", "格式无效"))
			return
		}
		runReq.ExistingScheduleID = &id
	}
	if req.RuleSetID != "" {
		id, err := uuid.Parse(req.RuleSetID)
		if err != nil {
			respondError(w, errors.InvalidInput("rule_set_id", "格式无效"))
			return
		}
		runReq.RuleSetID = id
	}
	if req.CreatedBy != "" {
		id, err := uuid.Parse(req.CreatedBy)
		if err != nil {
			respondError(w, errors.InvalidInput("created_by", "格式无效"))
			return
		}
		runReq.CreatedBy = &id
	}

	start := time.Now()
	schedule, err := h.runner.Run(r.Context(), runReq)
	if err != nil {
		algorithm := req.Algorithm
		if algorithm == "" {
			algorithm = "default"
		}
		metrics.RecordRosterRun(algorithm, false, false, time.Since(start))
		respondError(w, err)
		return
	}

	tele := schedule.Telemetry
	metrics.RecordRosterRun(tele.Strategy, true, tele.FellBack, time.Since(start))
	metrics.RecordRosterQuality(t.ID.String(), schedule.Score, schedule.FillRate, fairness.Gini(tele.FairnessCounts))

	respondJSON(w, http.StatusCreated, schedule)
}

// Get 获取排班详情（含分配与遥测）
func (h *RosterHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		respondError(w, errors.New(errors.CodeUnauthorized, "缺少租户上下文"))
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, errors.InvalidInput("id", "格式无效"))
		return
	}

	schedule, err := h.schedules.GetSchedule(r.Context(), t.ID, id)
	if err != nil {
		respondError(w, errors.PersistenceFailed("加载排班", err))
		return
	}
	if schedule == nil {
		respondError(w, errors.NotFound("排班", id.String()))
		return
	}

	respondJSON(w, http.StatusOK, schedule)
}

// ListResponse 排班列表响应
type ListResponse struct {
	Schedules []*model.Schedule `json:"schedules"`
	Total     int               `json:"total"`
	Offset    int               `json:"offset"`
	Limit     int               `json:"limit"`
}

// List 分页列出排班
func (h *RosterHandler) List(w http.ResponseWriter, r *http.Request) {
	t, ok := tenant.FromContext(r.Context())
	if !ok {
		respondError(w, errors.New(errors.CodeUnauthorized, "缺少租户上下文"))
		return
	}

	filter := repository.DefaultListFilter().WithTenantID(t.ID)
	if status := r.URL.Query().Get("status"); status != "" {
		filter = filter.WithStatus(status)
	}
	if offset := queryInt(r, "offset", 0); offset > 0 {
		filter = filter.WithOffset(offset)
	}
	if limit := queryInt(r, "limit", 0); limit > 0 {
		filter = filter.WithLimit(limit)
	}

	schedules, total, err := h.schedules.List(r.Context(), filter)
	if err != nil {
		respondError(w, errors.PersistenceFailed("查询排班列表", err))
		return
	}

	respondJSON(w, http.StatusOK, ListResponse{
		Schedules: schedules,
		Total:     total,
		Offset:    filter.Offset,
		Limit:     filter.Limit,
	})
}

// queryInt 读取整数查询参数
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// validationError 将 validator 错误转换为应用错误
func validationError(err error) *errors.AppError {
	ve := &errors.ValidationErrors{}
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrs {
			ve.Add(fe.Field(), "校验失败: "+fe.Tag())
		}
		return ve.ToAppError()
	}
	return errors.Wrap(err, errors.CodeValidationFail, "请求校验失败")
}
