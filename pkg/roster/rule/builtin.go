// Package rule 定义排班规则接口与评估器
package rule

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/model"
)

// 硬规则违反的统一扣分值（硬违反同时导致排班无效）
const hardPenalty = 20.0

// 参数默认值
const (
	DefaultMinRestHours  = 11
	DefaultWeeklyHourCap = 40
	DefaultMaxDelta      = 1
	DefaultSoftWeight    = 5.0
)

// base 规则公共字段
type base struct {
	id     string
	name   string
	kind   model.RuleKind
	weight float64
}

func (b base) ID() string           { return b.id }
func (b base) Name() string         { return b.name }
func (b base) Kind() model.RuleKind { return b.kind }
func (b base) Weight() float64      { return b.weight }

// violation 构造违反记录
func (b base) violation(empID *uuid.UUID, date, message string, penalty float64) model.Violation {
	return model.Violation{
		RuleID:     b.id,
		RuleName:   b.name,
		Kind:       b.kind,
		EmployeeID: empID,
		Date:       date,
		Message:    message,
		Penalty:    penalty,
	}
}

// ---------------------------------------------------------------------------
// no_overlap 同一员工班次时间窗不得重叠（硬规则）
// ---------------------------------------------------------------------------

type noOverlapRule struct {
	base
}

// NewNoOverlapRule 创建班次重叠规则
func NewNoOverlapRule(def model.RuleDef) Rule {
	return &noOverlapRule{base: base{
		id:   model.RuleNoOverlap,
		name: "班次不重叠",
		kind: model.RuleHard,
	}}
}

func (r *noOverlapRule) Evaluate(ctx *Context) []model.Violation {
	var violations []model.Violation
	for _, emp := range ctx.Employees {
		assignments := sortedByStart(ctx.GetEmployeeAssignments(emp.ID))
		for i := 0; i+1 < len(assignments); i++ {
			// 按开始时间排序后只需比较相邻分配（跨零点班次也成立）
			if assignments[i].OverlapsWith(assignments[i+1]) {
				empID := emp.ID
				violations = append(violations, r.violation(&empID, assignments[i].Date,
					fmt.Sprintf("员工 %s 在 %s 的班次时间重叠", emp.Name, assignments[i].Date), hardPenalty))
			}
		}
	}
	return violations
}

func (r *noOverlapRule) EvaluateCandidate(ctx *Context, candidate *model.Assignment) (bool, float64) {
	for _, a := range ctx.GetEmployeeAssignments(candidate.EmployeeID) {
		if a.OverlapsWith(candidate) {
			return false, 0
		}
	}
	return true, 0
}

// ---------------------------------------------------------------------------
// coverage 需求槽位人数必须满足
// ---------------------------------------------------------------------------

type coverageRule struct {
	base
}

// NewCoverageRule 创建覆盖规则
// 类别取自规则定义：配置为软规则时欠配仅扣分
func NewCoverageRule(def model.RuleDef) Rule {
	kind := def.Kind
	if kind == "" {
		kind = model.RuleHard
	}
	weight := def.Weight
	if weight <= 0 {
		weight = DefaultSoftWeight
	}
	return &coverageRule{base: base{
		id:     model.RuleCoverage,
		name:   "需求覆盖",
		kind:   kind,
		weight: weight,
	}}
}

func (r *coverageRule) Evaluate(ctx *Context) []model.Violation {
	type slotKey struct {
		date       string
		templateID uuid.UUID
	}
	required := make(map[slotKey]int)
	order := make([]slotKey, 0)
	for _, slot := range ctx.Slots {
		key := slotKey{date: slot.Date, templateID: slot.TemplateID}
		if _, ok := required[key]; !ok {
			order = append(order, key)
		}
		required[key] += slot.RequiredCount
	}

	var violations []model.Violation
	for _, key := range order {
		assigned := ctx.SlotAssignedCount(key.date, key.templateID)
		if assigned >= required[key] {
			continue
		}
		penalty := hardPenalty
		if r.kind == model.RuleSoft {
			penalty = r.weight * float64(required[key]-assigned)
		}
		tplName := key.templateID.String()
		if tpl := ctx.GetTemplate(key.templateID); tpl != nil {
			tplName = tpl.Name
		}
		violations = append(violations, r.violation(nil, key.date,
			fmt.Sprintf("%s 的 %s 需求 %d 人，仅分配 %d 人", key.date, tplName, required[key], assigned), penalty))
	}
	return violations
}

func (r *coverageRule) EvaluateCandidate(ctx *Context, candidate *model.Assignment) (bool, float64) {
	// 追加分配只会改善覆盖
	return true, 0
}

// ---------------------------------------------------------------------------
// min_rest 班次间最小休息时间（硬规则，参数 hours）
// ---------------------------------------------------------------------------

type minRestRule struct {
	base
	hours int
}

// NewMinRestRule 创建最小休息规则
func NewMinRestRule(def model.RuleDef) Rule {
	return &minRestRule{
		base: base{
			id:   model.RuleMinRest,
			name: "班次间最小休息",
			kind: model.RuleHard,
		},
		hours: def.ParamInt("hours", DefaultMinRestHours),
	}
}

func (r *minRestRule) Evaluate(ctx *Context) []model.Violation {
	var violations []model.Violation
	minGap := time.Duration(r.hours) * time.Hour
	for _, emp := range ctx.Employees {
		assignments := sortedByStart(ctx.GetEmployeeAssignments(emp.ID))
		for i := 0; i+1 < len(assignments); i++ {
			gap := assignments[i+1].StartTime.Sub(assignments[i].EndTime)
			if gap >= 0 && gap < minGap {
				empID := emp.ID
				violations = append(violations, r.violation(&empID, assignments[i+1].Date,
					fmt.Sprintf("员工 %s 在 %s 后休息不足 %d 小时", emp.Name, assignments[i].Date, r.hours), hardPenalty))
			}
		}
	}
	return violations
}

func (r *minRestRule) EvaluateCandidate(ctx *Context, candidate *model.Assignment) (bool, float64) {
	minGap := time.Duration(r.hours) * time.Hour
	for _, a := range ctx.GetEmployeeAssignments(candidate.EmployeeID) {
		if a.OverlapsWith(candidate) {
			continue // 重叠由 no_overlap 处理
		}
		var gap time.Duration
		if a.EndTime.Before(candidate.StartTime) || a.EndTime.Equal(candidate.StartTime) {
			gap = candidate.StartTime.Sub(a.EndTime)
		} else {
			gap = a.StartTime.Sub(candidate.EndTime)
		}
		if gap < minGap {
			return false, 0
		}
	}
	return true, 0
}

// ---------------------------------------------------------------------------
// weekly_hour_cap 周工时上限（硬规则，参数 hours）
// ---------------------------------------------------------------------------

type weeklyHourCapRule struct {
	base
	hours int
}

// NewWeeklyHourCapRule 创建周工时上限规则
func NewWeeklyHourCapRule(def model.RuleDef) Rule {
	return &weeklyHourCapRule{
		base: base{
			id:   model.RuleWeeklyHourCap,
			name: "周工时上限",
			kind: model.RuleHard,
		},
		hours: def.ParamInt("hours", DefaultWeeklyHourCap),
	}
}

func (r *weeklyHourCapRule) Evaluate(ctx *Context) []model.Violation {
	type weekKey struct {
		year int
		week int
	}
	var violations []model.Violation
	for _, emp := range ctx.Employees {
		hoursByWeek := make(map[weekKey]float64)
		for _, a := range ctx.GetEmployeeAssignments(emp.ID) {
			y, w := isoWeekOf(a.Date)
			hoursByWeek[weekKey{year: y, week: w}] += a.WorkingHours()
		}
		for wk, hours := range hoursByWeek {
			if hours > float64(r.hours) {
				empID := emp.ID
				violations = append(violations, r.violation(&empID, "",
					fmt.Sprintf("员工 %s 第 %d 周工时 %.1f 超过上限 %d", emp.Name, wk.week, hours, r.hours), hardPenalty))
			}
		}
	}
	return violations
}

func (r *weeklyHourCapRule) EvaluateCandidate(ctx *Context, candidate *model.Assignment) (bool, float64) {
	y, w := isoWeekOf(candidate.Date)
	hours := ctx.GetEmployeeWeekHours(candidate.EmployeeID, y, w)
	if hours+candidate.WorkingHours() > float64(r.hours) {
		return false, 0
	}
	return true, 0
}

// ---------------------------------------------------------------------------
// blackout 禁排日不得分配（硬规则）
// ---------------------------------------------------------------------------

type blackoutRule struct {
	base
}

// NewBlackoutRule 创建禁排规则
func NewBlackoutRule(def model.RuleDef) Rule {
	return &blackoutRule{base: base{
		id:   model.RuleBlackout,
		name: "禁排日",
		kind: model.RuleHard,
	}}
}

func (r *blackoutRule) Evaluate(ctx *Context) []model.Violation {
	if ctx.Availability == nil {
		return nil
	}
	var violations []model.Violation
	for _, a := range ctx.Assignments {
		if forbidden, reason := ctx.Availability.IsForbidden(a.EmployeeID, a.Date); forbidden {
			empID := a.EmployeeID
			name := empID.String()
			if emp := ctx.GetEmployee(empID); emp != nil {
				name = emp.Name
			}
			msg := fmt.Sprintf("员工 %s 在禁排日 %s 被分配班次", name, a.Date)
			if reason != "" {
				msg = fmt.Sprintf("%s（%s）", msg, reason)
			}
			violations = append(violations, r.violation(&empID, a.Date, msg, hardPenalty))
			continue
		}
		if !ctx.Availability.CanWork(a.EmployeeID, a.Date, a.Window()) {
			empID := a.EmployeeID
			violations = append(violations, r.violation(&empID, a.Date,
				fmt.Sprintf("分配与员工在 %s 的不可用时间窗冲突", a.Date), hardPenalty))
		}
	}
	return violations
}

func (r *blackoutRule) EvaluateCandidate(ctx *Context, candidate *model.Assignment) (bool, float64) {
	if ctx.Availability == nil {
		return true, 0
	}
	if forbidden, _ := ctx.Availability.IsForbidden(candidate.EmployeeID, candidate.Date); forbidden {
		return false, 0
	}
	if !ctx.Availability.CanWork(candidate.EmployeeID, candidate.Date, candidate.Window()) {
		return false, 0
	}
	return true, 0
}

// ---------------------------------------------------------------------------
// pinned_honored 钉选偏好应被满足（软规则）
// ---------------------------------------------------------------------------

type pinnedHonoredRule struct {
	base
}

// NewPinnedHonoredRule 创建钉选规则
func NewPinnedHonoredRule(def model.RuleDef) Rule {
	weight := def.Weight
	if weight <= 0 {
		weight = DefaultSoftWeight
	}
	return &pinnedHonoredRule{base: base{
		id:     model.RulePinnedHonored,
		name:   "钉选偏好",
		kind:   model.RuleSoft,
		weight: weight,
	}}
}

func (r *pinnedHonoredRule) Evaluate(ctx *Context) []model.Violation {
	if ctx.Availability == nil {
		return nil
	}
	type pinKey struct {
		employeeID uuid.UUID
		date       string
		templateID uuid.UUID
	}
	seen := make(map[pinKey]bool)
	var violations []model.Violation
	for _, slot := range ctx.Slots {
		for _, empID := range ctx.Availability.PinnedEmployees(slot.Date, slot.TemplateID) {
			key := pinKey{employeeID: empID, date: slot.Date, templateID: slot.TemplateID}
			if seen[key] {
				continue
			}
			seen[key] = true
			if hasAssignment(ctx, empID, slot.Date, slot.TemplateID) {
				continue
			}
			id := empID
			name := id.String()
			if emp := ctx.GetEmployee(id); emp != nil {
				name = emp.Name
			}
			violations = append(violations, r.violation(&id, slot.Date,
				fmt.Sprintf("员工 %s 在 %s 的钉选未被满足", name, slot.Date), r.weight))
		}
	}
	return violations
}

func (r *pinnedHonoredRule) EvaluateCandidate(ctx *Context, candidate *model.Assignment) (bool, float64) {
	return true, 0
}

// ---------------------------------------------------------------------------
// fairness_spread 高负担班次分摊公平（软规则，参数 max_delta）
// ---------------------------------------------------------------------------

type fairnessSpreadRule struct {
	base
	class    model.ShiftClass
	baseline map[uuid.UUID]float64 // 历史计数（含衰减权重）
	maxDelta float64
}

// NewFairnessSpreadRule 创建公平性规则
// baseline 为历史运行的衰减计数，与当次运行计数合并后计算离散度
func NewFairnessSpreadRule(def model.RuleDef, class model.ShiftClass, baseline map[uuid.UUID]float64) Rule {
	weight := def.Weight
	if weight <= 0 {
		weight = DefaultSoftWeight
	}
	if class == "" {
		class = model.ShiftNight
	}
	return &fairnessSpreadRule{
		base: base{
			id:     model.RuleFairnessSpread,
			name:   "高负担班次公平",
			kind:   model.RuleSoft,
			weight: weight,
		},
		class:    class,
		baseline: baseline,
		maxDelta: def.ParamFloat("max_delta", DefaultMaxDelta),
	}
}

func (r *fairnessSpreadRule) Evaluate(ctx *Context) []model.Violation {
	if len(ctx.Employees) == 0 {
		return nil
	}

	counts := make(map[uuid.UUID]float64, len(ctx.Employees))
	for _, emp := range ctx.Employees {
		counts[emp.ID] = r.baseline[emp.ID]
	}
	for _, a := range ctx.Assignments {
		tpl := ctx.GetTemplate(a.TemplateID)
		if tpl != nil && tpl.Class == r.class {
			counts[a.EmployeeID] += 1
		}
	}

	min, max := 0.0, 0.0
	first := true
	for _, n := range counts {
		if first {
			min, max = n, n
			first = false
			continue
		}
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}

	delta := max - min
	if delta <= r.maxDelta {
		return nil
	}
	return []model.Violation{r.violation(nil, "",
		fmt.Sprintf("高负担班次（%s）计数差 %.1f 超过阈值 %.1f", r.class, delta, r.maxDelta),
		r.weight*(delta-r.maxDelta))}
}

func (r *fairnessSpreadRule) EvaluateCandidate(ctx *Context, candidate *model.Assignment) (bool, float64) {
	tpl := ctx.GetTemplate(candidate.TemplateID)
	if tpl == nil || tpl.Class != r.class {
		return true, 0
	}
	// 候选人当前计数越高惩罚越大，引导策略分摊高负担班次
	count := r.baseline[candidate.EmployeeID]
	for _, a := range ctx.GetEmployeeAssignments(candidate.EmployeeID) {
		if t := ctx.GetTemplate(a.TemplateID); t != nil && t.Class == r.class {
			count += 1
		}
	}
	return true, r.weight * count
}

// ---------------------------------------------------------------------------
// 辅助函数
// ---------------------------------------------------------------------------

// sortedByStart 按开始时间排序分配副本
func sortedByStart(assignments []*model.Assignment) []*model.Assignment {
	sorted := make([]*model.Assignment, len(assignments))
	copy(sorted, assignments)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartTime.Before(sorted[j].StartTime)
	})
	return sorted
}

// hasAssignment 检查员工在某日是否已分配某模板
func hasAssignment(ctx *Context, empID uuid.UUID, date string, templateID uuid.UUID) bool {
	for _, a := range ctx.GetEmployeeAssignments(empID) {
		if a.Date == date && a.TemplateID == templateID {
			return true
		}
	}
	return false
}
