// Package strategy 提供排班分配策略
package strategy

import (
	"context"
	"time"

	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/fairness"
	"github.com/zhiban/zhiban/pkg/roster/rule"
)

// 策略名称
const (
	NameGreedy = "greedy"
	NameSolver = "solver"
)

// Strategy 分配策略接口
// 同一输入与种子必须产出相同分配集
type Strategy interface {
	// Name 返回策略名称
	Name() string

	// Generate 生成分配方案
	Generate(ctx context.Context, input *Input) (*Outcome, error)
}

// Input 策略输入
// RuleCtx 携带员工、模板、槽位、可用性与预填分配（替换模式保留的人工分配）；
// 策略在工作副本上运行，不得修改调用方持有的输入
type Input struct {
	RuleCtx   *rule.Context
	Evaluator *rule.Evaluator
	Fairness  *fairness.Tracker
	Seed      int64

	// 求解器专用
	TimeBudget    time.Duration
	MaxIterations int
}

// Outcome 策略产出
type Outcome struct {
	Strategy    string               `json:"strategy"`
	Assignments []*model.Assignment  `json:"assignments"`
	Evaluation  *rule.Result         `json:"evaluation"`
	Unfilled    []model.UnfilledSlot `json:"unfilled,omitempty"`
	Iterations  int                  `json:"iterations"`
	Duration    time.Duration        `json:"duration"`

	// 降级信息由兜底装饰器填充
	FellBack       bool   `json:"fell_back,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// workingState 策略工作副本
type workingState struct {
	ruleCtx  *rule.Context
	fairness *fairness.Tracker
}

// newWorkingState 构建工作副本
// 预填分配深拷贝；可用性索引与模板只读共享
func newWorkingState(input *Input) *workingState {
	src := input.RuleCtx
	ctx := rule.NewContext(src.TenantID, src.Period)
	ctx.SetEmployees(src.Employees)
	ctx.SetTemplates(src.Templates)
	ctx.Slots = src.Slots
	ctx.Availability = src.Availability

	prefilled := make([]*model.Assignment, 0, len(src.Assignments))
	for _, a := range src.Assignments {
		clone := *a
		prefilled = append(prefilled, &clone)
	}
	ctx.SetAssignments(prefilled)

	tracker := input.Fairness
	if tracker == nil {
		tracker = fairness.NewTracker("")
	}
	tracker = tracker.Clone()
	for _, e := range src.Employees {
		tracker.Register(e.ID)
	}
	// 预填分配计入公平性计数
	for _, a := range prefilled {
		if tpl := ctx.GetTemplate(a.TemplateID); tpl != nil {
			tracker.Record(a.EmployeeID, tpl.Class)
		}
	}

	return &workingState{
		ruleCtx:  ctx,
		fairness: tracker,
	}
}
