// Package strategy 提供排班分配策略
package strategy

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/logger"
	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/demand"
)

// Greedy 贪心策略
// 按槽位顺序逐个填充：钉选候选优先，其余按公平性计数与软性惩罚升序，
// 并列时以种子哈希决出，保证同种子可复现
type Greedy struct {
	log *logger.RosterLogger
}

// NewGreedy 创建贪心策略
func NewGreedy() *Greedy {
	return &Greedy{log: logger.NewRosterLogger()}
}

// Name 返回策略名称
func (g *Greedy) Name() string {
	return NameGreedy
}

// Generate 生成分配方案
func (g *Greedy) Generate(ctx context.Context, input *Input) (*Outcome, error) {
	start := time.Now()

	state := newWorkingState(input)
	ruleCtx := state.ruleCtx

	if len(ruleCtx.Employees) == 0 {
		return nil, errors.ConfigInvalid("没有可排班的员工")
	}

	outcome := &Outcome{
		Strategy:    NameGreedy,
		Assignments: make([]*model.Assignment, 0),
	}

	for _, slot := range ruleCtx.Slots {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CodeTimeout, "贪心策略被取消")
		}
		outcome.Iterations++

		tpl := ruleCtx.GetTemplate(slot.TemplateID)
		if tpl == nil {
			continue
		}

		// 预填分配（替换模式保留的人工分配）计入已有人数
		assigned := ruleCtx.SlotAssignedCount(slot.Date, slot.TemplateID)
		if assigned >= slot.RequiredCount {
			continue
		}

		var lastReason string
		candidates := g.rankCandidates(input, state, slot, tpl)
		for _, emp := range candidates {
			if assigned >= slot.RequiredCount {
				break
			}

			candidate, err := buildAssignment(emp.ID, tpl, slot.Date)
			if err != nil {
				continue
			}

			ok, reason := input.Evaluator.CanAssign(ruleCtx, candidate)
			if !ok {
				lastReason = reason
				continue
			}

			ruleCtx.AddAssignment(candidate)
			state.fairness.Record(emp.ID, tpl.Class)
			outcome.Assignments = append(outcome.Assignments, candidate)
			assigned++
		}

		if assigned < slot.RequiredCount {
			if lastReason == "" {
				lastReason = "无符合条件的候选人"
			}
			g.log.SlotUnfilled(slot.Date, slot.TemplateID.String(), lastReason)
			outcome.Unfilled = append(outcome.Unfilled, model.UnfilledSlot{
				Date:       slot.Date,
				TemplateID: slot.TemplateID,
				Required:   slot.RequiredCount,
				Assigned:   assigned,
				Reason:     lastReason,
			})
		}
	}

	outcome.Evaluation = input.Evaluator.Evaluate(ruleCtx)
	outcome.Duration = time.Since(start)
	return outcome, nil
}

// rankCandidates 候选人排序
// 排序键：钉选 > 公平性计数升序 > 软性惩罚升序 > 种子哈希 > 员工编号
func (g *Greedy) rankCandidates(input *Input, state *workingState, slot demand.Slot, tpl *model.ShiftTemplate) []*model.Employee {
	type ranked struct {
		emp     *model.Employee
		pinned  bool
		count   float64
		penalty float64
		tiebrk  uint64
	}

	ruleCtx := state.ruleCtx
	var candidates []ranked
	for _, emp := range ruleCtx.Employees {
		if !emp.IsActive() {
			continue
		}
		if len(slot.RequiredRoles) > 0 && !emp.HasAllRoles(slot.RequiredRoles) {
			continue
		}

		pinned := false
		if ruleCtx.Availability != nil {
			pinned = ruleCtx.Availability.IsPinned(emp.ID, slot.Date, slot.TemplateID)
		}

		penalty := 0.0
		if candidate, err := buildAssignment(emp.ID, tpl, slot.Date); err == nil {
			penalty = input.Evaluator.CandidatePenalty(ruleCtx, candidate)
		}

		candidates = append(candidates, ranked{
			emp:     emp,
			pinned:  pinned,
			count:   state.fairness.Count(emp.ID),
			penalty: penalty,
			tiebrk:  seededTiebreak(input.Seed, emp.ID, slot.Date),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.pinned != cj.pinned {
			return ci.pinned
		}
		if ci.count != cj.count {
			return ci.count < cj.count
		}
		if ci.penalty != cj.penalty {
			return ci.penalty < cj.penalty
		}
		if ci.tiebrk != cj.tiebrk {
			return ci.tiebrk < cj.tiebrk
		}
		return ci.emp.ID.String() < cj.emp.ID.String()
	})

	out := make([]*model.Employee, len(candidates))
	for i, c := range candidates {
		out[i] = c.emp
	}
	return out
}

// seededTiebreak 种子决胜哈希（FNV-1a）
func seededTiebreak(seed int64, empID uuid.UUID, date string) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(seed >> (8 * i))
	}
	h.Write(buf[:])
	h.Write(empID[:])
	h.Write([]byte(date))
	return h.Sum64()
}

// buildAssignment 构造候选分配
func buildAssignment(empID uuid.UUID, tpl *model.ShiftTemplate, date string) (*model.Assignment, error) {
	window, err := tpl.ResolveWindow(date)
	if err != nil {
		return nil, fmt.Errorf("解析班次窗口失败: %w", err)
	}
	return &model.Assignment{
		BaseModel:  model.NewBaseModel(),
		EmployeeID: empID,
		TemplateID: tpl.ID,
		Date:       date,
		StartTime:  window.Start,
		EndTime:    window.End,
		AssignedBy: model.AssignedByAlgorithm,
	}, nil
}
