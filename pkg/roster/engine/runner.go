// Package engine 提供排班运行编排
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/internal/audit"
	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/logger"
	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/availability"
	"github.com/zhiban/zhiban/pkg/roster/demand"
	"github.com/zhiban/zhiban/pkg/roster/fairness"
	"github.com/zhiban/zhiban/pkg/roster/rule"
	"github.com/zhiban/zhiban/pkg/roster/strategy"
)

// 历史运行采样数量（公平性基线）
const priorRunLimit = 6

// Store 排班运行的数据访问接口
type Store interface {
	ListEmployees(ctx context.Context, tenantID uuid.UUID) ([]*model.Employee, error)
	ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]*model.ShiftTemplate, error)
	ListDemand(ctx context.Context, tenantID uuid.UUID, period model.DateRange) ([]*model.DemandRequirement, error)
	ListAvailability(ctx context.Context, tenantID uuid.UUID, period model.DateRange) ([]*model.AvailabilityRecord, error)
	ListLeaves(ctx context.Context, tenantID uuid.UUID, period model.DateRange) ([]*model.LeaveRecord, error)
	ListHolidays(ctx context.Context, period model.DateRange) ([]*model.Holiday, error)
	GetRuleSet(ctx context.Context, tenantID, ruleSetID uuid.UUID) (*model.RuleSet, error)
	ListExceptions(ctx context.Context, tenantID uuid.UUID) ([]*model.ExceptionRequest, error)

	// ListPriorRuns 返回周期开始前已完结排班的高负担计数，最近优先
	ListPriorRuns(ctx context.Context, tenantID uuid.UUID, class model.ShiftClass, before string, limit int) ([]fairness.PriorRun, error)

	// LatestScheduleForPeriod 返回与周期重叠的最新排班（替换模式保留人工分配用）
	LatestScheduleForPeriod(ctx context.Context, tenantID uuid.UUID, period model.DateRange) (*model.Schedule, error)

	// GetSchedule 加载排班及其全部分配，不存在时返回 nil（替换模式按 ID 定位被替换排班用）
	GetSchedule(ctx context.Context, tenantID, scheduleID uuid.UUID) (*model.Schedule, error)

	// SaveSchedule 原子持久化排班及其全部分配
	SaveSchedule(ctx context.Context, schedule *model.Schedule) error

	// ReplaceSchedule 在同一事务内删除被替换排班并持久化新排班
	ReplaceSchedule(ctx context.Context, replacedID uuid.UUID, schedule *model.Schedule) error
}

// 运行模式
const (
	ModeNew     = "new"     // 全新生成
	ModeReplace = "replace" // 替换：保留既有人工分配
)

// RunRequest 排班运行请求
type RunRequest struct {
	TenantID         uuid.UUID       `json:"tenant_id"`
	Name             string          `json:"name"`
	Period           model.DateRange `json:"period"`
	RuleSetID        uuid.UUID       `json:"rule_set_id,omitempty"` // 零值使用默认规则集
	Algorithm        string          `json:"algorithm"`             // greedy/solver，空值取配置默认
	Seed             *int64          `json:"seed,omitempty"`        // 空值取当前纳秒时间戳
	Mode             string          `json:"mode,omitempty"`        // new/replace
	DisableSynthesis bool            `json:"disable_synthesis,omitempty"`
	CreatedBy        *uuid.UUID      `json:"created_by,omitempty"`

	// OverwriteLocked 替换模式下不保留既有人工分配
	OverwriteLocked bool `json:"overwrite_locked,omitempty"`

	// ExistingScheduleID 替换模式下指定被替换的排班；零值取周期内最新排班
	ExistingScheduleID *uuid.UUID `json:"existing_schedule_id,omitempty"`

	// Decay 本次运行的公平性衰减系数覆盖，零值取配置默认
	Decay *float64 `json:"decay,omitempty"`

	// WeightOverrides 按规则标识覆盖软规则权重，仅对本次运行生效
	WeightOverrides map[string]float64 `json:"weight_overrides,omitempty"`
}

// Config 引擎配置
type Config struct {
	DefaultAlgorithm    string           `json:"default_algorithm"`
	FairnessDecay       float64          `json:"fairness_decay"`
	UndesirableClass    model.ShiftClass `json:"undesirable_class"`
	SolverTimeBudget    time.Duration    `json:"solver_time_budget"`
	SolverMaxIterations int              `json:"solver_max_iterations"`
	MinRestHours        int              `json:"min_rest_hours"`
}

// DefaultConfig 默认引擎配置
func DefaultConfig() *Config {
	return &Config{
		DefaultAlgorithm:    strategy.NameGreedy,
		FairnessDecay:       fairness.DefaultDecay,
		UndesirableClass:    model.ShiftNight,
		SolverTimeBudget:    30 * time.Second,
		SolverMaxIterations: 1000,
		MinRestHours:        rule.DefaultMinRestHours,
	}
}

// Runner 排班运行编排器
// 同租户同周期的运行互斥，避免并发生成同一周期的排班
type Runner struct {
	store    Store
	cfg      *Config
	detector *ConflictDetector
	log      *logger.RosterLogger
	audit    audit.Recorder

	mu      sync.Mutex
	running map[string]bool
}

// NewRunner 创建运行编排器
func NewRunner(store Store, cfg *Config) *Runner {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Runner{
		store:    store,
		cfg:      cfg,
		detector: NewConflictDetector(cfg.MinRestHours),
		log:      logger.NewRosterLogger(),
		audit:    audit.Nop{},
		running:  make(map[string]bool),
	}
}

// WithAudit 设置审计记录器
func (r *Runner) WithAudit(rec audit.Recorder) *Runner {
	if rec != nil {
		r.audit = rec
	}
	return r
}

// recordAudit 尽力而为写入审计事件
func (r *Runner) recordAudit(ctx context.Context, e *audit.Event) {
	if err := r.audit.Record(ctx, e); err != nil {
		logger.Warn().Err(err).Str("action", e.Action).Msg("审计事件写入失败")
	}
}

// lockKey 租户+周期互斥键
func lockKey(tenantID uuid.UUID, period model.DateRange) string {
	return fmt.Sprintf("%s/%s/%s", tenantID, period.StartDate, period.EndDate)
}

// acquire 获取运行锁
func (r *Runner) acquire(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[key] {
		return errors.New(errors.CodeScheduleConflict, "该租户周期已有排班运行在进行")
	}
	r.running[key] = true
	return nil
}

// release 释放运行锁
func (r *Runner) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, key)
}

// Run 执行一次排班运行并持久化草稿
func (r *Runner) Run(ctx context.Context, req *RunRequest) (*model.Schedule, error) {
	if !req.Period.Valid() {
		return nil, errors.New(errors.CodeInvalidTimeRange, "排班周期无效")
	}

	key := lockKey(req.TenantID, req.Period)
	if err := r.acquire(key); err != nil {
		return nil, err
	}
	defer r.release(key)

	start := time.Now()
	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}

	// 加载输入数据
	employees, err := r.store.ListEmployees(ctx, req.TenantID)
	if err != nil {
		return nil, errors.PersistenceFailed("加载员工", err)
	}
	templates, err := r.store.ListTemplates(ctx, req.TenantID)
	if err != nil {
		return nil, errors.PersistenceFailed("加载班次模板", err)
	}
	configured, err := r.store.ListDemand(ctx, req.TenantID, req.Period)
	if err != nil {
		return nil, errors.PersistenceFailed("加载人力需求", err)
	}
	submitted, err := r.store.ListAvailability(ctx, req.TenantID, req.Period)
	if err != nil {
		return nil, errors.PersistenceFailed("加载可用性", err)
	}
	leaves, err := r.store.ListLeaves(ctx, req.TenantID, req.Period)
	if err != nil {
		return nil, errors.PersistenceFailed("加载请假记录", err)
	}
	holidays, err := r.store.ListHolidays(ctx, req.Period)
	if err != nil {
		return nil, errors.PersistenceFailed("加载节假日", err)
	}
	exceptions, err := r.store.ListExceptions(ctx, req.TenantID)
	if err != nil {
		return nil, errors.PersistenceFailed("加载豁免申请", err)
	}

	// 需求展开
	slots, err := demand.Resolve(templates, configured, req.Period, demand.Options{
		DisableSynthesis: req.DisableSynthesis,
	})
	if err != nil {
		return nil, err
	}

	r.log.RunStarted(req.TenantID.String(), len(employees), len(slots), seed)

	// 可用性归并
	index := availability.Resolve(employees, submitted, leaves, holidays, req.Period)

	// 规则集
	ruleSet, err := r.loadRuleSet(ctx, req)
	if err != nil {
		return nil, err
	}
	class := ruleSet.UndesirableClass
	if class == "" {
		class = r.cfg.UndesirableClass
	}

	// 公平性基线
	priors, err := r.store.ListPriorRuns(ctx, req.TenantID, class, req.Period.StartDate, priorRunLimit)
	if err != nil {
		return nil, errors.PersistenceFailed("加载历史排班计数", err)
	}
	decay := r.cfg.FairnessDecay
	if req.Decay != nil {
		decay = *req.Decay
	}
	tracker := fairness.NewTracker(class)
	tracker.Seed(priors, decay)
	for _, emp := range employees {
		tracker.Register(emp.ID)
	}

	rules, err := rule.Build(ruleSet, rule.BuildOptions{
		UndesirableClass: r.cfg.UndesirableClass,
		FairnessBaseline: tracker.Counts(),
		WeightOverrides:  req.WeightOverrides,
	})
	if err != nil {
		return nil, err
	}
	evaluator := rule.NewEvaluator(rules, exceptions)

	// 替换模式：定位被替换排班，保留其人工分配作为预填
	replaced, err := r.loadReplaced(ctx, req)
	if err != nil {
		return nil, err
	}
	prefilled := preservedManual(replaced, req)

	ruleCtx := rule.NewContext(req.TenantID, req.Period)
	ruleCtx.SetEmployees(employees)
	ruleCtx.SetTemplates(templates)
	ruleCtx.Slots = slots
	ruleCtx.Availability = index
	ruleCtx.SetAssignments(prefilled)

	input := &strategy.Input{
		RuleCtx:       ruleCtx,
		Evaluator:     evaluator,
		Fairness:      tracker,
		Seed:          seed,
		TimeBudget:    r.cfg.SolverTimeBudget,
		MaxIterations: r.cfg.SolverMaxIterations,
	}

	algorithm := req.Algorithm
	if algorithm == "" {
		algorithm = r.cfg.DefaultAlgorithm
	}
	strat, err := r.buildStrategy(algorithm)
	if err != nil {
		return nil, err
	}

	outcome, err := strat.Generate(ctx, input)
	if err != nil {
		return nil, err
	}

	schedule := r.assemble(req, ruleSet, ruleCtx, outcome, prefilled, slots, tracker, seed, algorithm)

	// 持久化：替换模式在同一事务内删除被替换排班
	action := audit.ActionRunCreated
	if replaced != nil {
		action = audit.ActionRunReplaced
		if err := r.store.ReplaceSchedule(ctx, replaced.ID, schedule); err != nil {
			return nil, errors.PersistenceFailed("替换排班", err)
		}
	} else {
		if err := r.store.SaveSchedule(ctx, schedule); err != nil {
			return nil, errors.PersistenceFailed("保存排班", err)
		}
	}

	details := map[string]interface{}{
		"algorithm": algorithm,
		"period":    req.Period.StartDate + "/" + req.Period.EndDate,
	}
	if replaced != nil {
		details["replaced_schedule_id"] = replaced.ID.String()
	}
	r.recordAudit(ctx, &audit.Event{
		TenantID:   req.TenantID,
		Action:     action,
		EntityType: audit.EntitySchedule,
		EntityID:   schedule.ID,
		Actor:      req.CreatedBy,
		Details:    details,
	})

	r.log.RunCompleted(schedule.ID.String(), time.Since(start), schedule.Score, len(outcome.Unfilled))
	return schedule, nil
}

// Reevaluate 按当前分配集重新评估排班
// 人工编辑后调用，保证得分与违规列表和分配一致
func (r *Runner) Reevaluate(ctx context.Context, schedule *model.Schedule) (*rule.Result, error) {
	period := schedule.Period()
	if !period.Valid() {
		return nil, errors.New(errors.CodeInvalidTimeRange, "排班周期无效")
	}

	employees, err := r.store.ListEmployees(ctx, schedule.TenantID)
	if err != nil {
		return nil, errors.PersistenceFailed("加载员工", err)
	}
	templates, err := r.store.ListTemplates(ctx, schedule.TenantID)
	if err != nil {
		return nil, errors.PersistenceFailed("加载班次模板", err)
	}
	configured, err := r.store.ListDemand(ctx, schedule.TenantID, period)
	if err != nil {
		return nil, errors.PersistenceFailed("加载人力需求", err)
	}
	submitted, err := r.store.ListAvailability(ctx, schedule.TenantID, period)
	if err != nil {
		return nil, errors.PersistenceFailed("加载可用性", err)
	}
	leaves, err := r.store.ListLeaves(ctx, schedule.TenantID, period)
	if err != nil {
		return nil, errors.PersistenceFailed("加载请假记录", err)
	}
	holidays, err := r.store.ListHolidays(ctx, period)
	if err != nil {
		return nil, errors.PersistenceFailed("加载节假日", err)
	}
	exceptions, err := r.store.ListExceptions(ctx, schedule.TenantID)
	if err != nil {
		return nil, errors.PersistenceFailed("加载豁免申请", err)
	}

	slots, err := demand.Resolve(templates, configured, period, demand.Options{})
	if err != nil {
		return nil, err
	}

	// 内置默认规则集不入库，按存储 ID 找不到时回退默认，保证人工编辑的重评不中断
	ruleSet, err := r.store.GetRuleSet(ctx, schedule.TenantID, schedule.RuleSetID)
	if err != nil {
		return nil, errors.PersistenceFailed("加载规则集", err)
	}
	if ruleSet == nil {
		ruleSet = rule.DefaultRuleSet(schedule.TenantID)
	}
	class := ruleSet.UndesirableClass
	if class == "" {
		class = r.cfg.UndesirableClass
	}

	priors, err := r.store.ListPriorRuns(ctx, schedule.TenantID, class, period.StartDate, priorRunLimit)
	if err != nil {
		return nil, errors.PersistenceFailed("加载历史排班计数", err)
	}
	tracker := fairness.NewTracker(class)
	tracker.Seed(priors, r.cfg.FairnessDecay)

	rules, err := rule.Build(ruleSet, rule.BuildOptions{
		UndesirableClass: r.cfg.UndesirableClass,
		FairnessBaseline: tracker.Counts(),
	})
	if err != nil {
		return nil, err
	}

	ruleCtx := rule.NewContext(schedule.TenantID, period)
	ruleCtx.SetEmployees(employees)
	ruleCtx.SetTemplates(templates)
	ruleCtx.Slots = slots
	ruleCtx.Availability = availability.Resolve(employees, submitted, leaves, holidays, period)
	ruleCtx.SetAssignments(schedule.Assignments)

	return rule.NewEvaluator(rules, exceptions).Evaluate(ruleCtx), nil
}

// loadRuleSet 加载规则集，未指定时使用内置默认
func (r *Runner) loadRuleSet(ctx context.Context, req *RunRequest) (*model.RuleSet, error) {
	if req.RuleSetID == uuid.Nil {
		return rule.DefaultRuleSet(req.TenantID), nil
	}
	rs, err := r.store.GetRuleSet(ctx, req.TenantID, req.RuleSetID)
	if err != nil {
		return nil, errors.PersistenceFailed("加载规则集", err)
	}
	if rs == nil {
		return nil, errors.NotFound("规则集", req.RuleSetID.String())
	}
	return rs, nil
}

// loadReplaced 替换模式下定位被替换的排班
// 显式指定 ID 时找不到视为错误；未指定时取周期内最新排班，不存在则退化为全新生成
func (r *Runner) loadReplaced(ctx context.Context, req *RunRequest) (*model.Schedule, error) {
	if req.Mode != ModeReplace {
		return nil, nil
	}
	if req.ExistingScheduleID != nil {
		prev, err := r.store.GetSchedule(ctx, req.TenantID, *req.ExistingScheduleID)
		if err != nil {
			return nil, errors.PersistenceFailed("加载被替换排班", err)
		}
		if prev == nil {
			return nil, errors.NotFound("排班", req.ExistingScheduleID.String())
		}
		return prev, nil
	}
	prev, err := r.store.LatestScheduleForPeriod(ctx, req.TenantID, req.Period)
	if err != nil {
		return nil, errors.PersistenceFailed("加载既有排班", err)
	}
	return prev, nil
}

// preservedManual 从被替换排班中抽取保留的人工分配
// 复制为新记录（新排班的成员），保留员工、模板、日期与时间窗
func preservedManual(prev *model.Schedule, req *RunRequest) []*model.Assignment {
	if prev == nil || req.OverwriteLocked {
		return nil
	}

	var preserved []*model.Assignment
	for _, a := range prev.Assignments {
		if !a.IsManual() {
			continue
		}
		if !req.Period.ContainsDate(a.Date) {
			continue
		}
		clone := *a
		clone.BaseModel = model.NewBaseModel()
		preserved = append(preserved, &clone)
	}
	return preserved
}

// buildStrategy 按算法名构建策略
// 求解器始终包裹贪心兜底
func (r *Runner) buildStrategy(algorithm string) (strategy.Strategy, error) {
	switch algorithm {
	case strategy.NameGreedy:
		return strategy.NewGreedy(), nil
	case strategy.NameSolver:
		cfg := strategy.DefaultSolverConfig()
		cfg.TimeBudget = r.cfg.SolverTimeBudget
		cfg.MaxIterations = r.cfg.SolverMaxIterations
		return strategy.NewFallback(strategy.NewSolver(cfg), strategy.NewGreedy()), nil
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("未知算法 '%s'", algorithm))
	}
}

// assemble 组装排班草稿
func (r *Runner) assemble(req *RunRequest, ruleSet *model.RuleSet, ruleCtx *rule.Context, outcome *strategy.Outcome,
	prefilled []*model.Assignment, slots []demand.Slot, tracker *fairness.Tracker, seed int64, algorithm string) *model.Schedule {

	schedule := &model.Schedule{
		BaseModel: model.NewBaseModel(),
		TenantID:  req.TenantID,
		Name:      req.Name,
		StartDate: req.Period.StartDate,
		EndDate:   req.Period.EndDate,
		RuleSetID: ruleSet.ID,
		Algorithm: algorithm,
		Status:    model.StatusDraft,
		Score:     outcome.Evaluation.Score,
		IsValid:   outcome.Evaluation.IsValid,
		CreatedBy: req.CreatedBy,

		HardViolations: outcome.Evaluation.HardViolations,
		SoftViolations: outcome.Evaluation.SoftViolations,
	}

	// 最终分配 = 保留的人工分配 + 策略产出
	assignments := make([]*model.Assignment, 0, len(prefilled)+len(outcome.Assignments))
	assignments = append(assignments, prefilled...)
	assignments = append(assignments, outcome.Assignments...)
	for _, a := range assignments {
		a.ScheduleID = schedule.ID
	}
	schedule.Assignments = assignments

	// 填充率
	schedule.TotalSlots = demand.TotalRequired(slots)
	schedule.FilledSlots = len(assignments)
	if schedule.TotalSlots > 0 {
		schedule.FillRate = float64(schedule.FilledSlots) / float64(schedule.TotalSlots) * 100
	}

	// 运行后公平性计数：基线 + 最终分配
	final := tracker.Clone()
	for _, a := range assignments {
		if tpl := ruleCtx.GetTemplate(a.TemplateID); tpl != nil {
			final.Record(a.EmployeeID, tpl.Class)
		}
	}

	schedule.Telemetry = &model.Telemetry{
		Strategy:         outcome.Strategy,
		Seed:             seed,
		FellBack:         outcome.FellBack,
		FallbackReason:   outcome.FallbackReason,
		SolverIterations: outcome.Iterations,
		DurationMS:       outcome.Duration.Milliseconds(),
		FairnessCounts:   final.Snapshot(),
		UnfilledSlots:    outcome.Unfilled,
		Conflicts:        r.detector.Detect(assignments),
		PreservedManual:  len(prefilled),
	}

	return schedule
}
