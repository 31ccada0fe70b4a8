// Package rule 定义排班规则接口与评估器
package rule

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/logger"
	"github.com/zhiban/zhiban/pkg/model"
)

// BaseScore 满分基准
const BaseScore = 100.0

// Result 评估结果
// 得分从满分扣减软性惩罚，下限为 0；存在未豁免的硬违反时无效
type Result struct {
	IsValid        bool              `json:"is_valid"`
	Score          float64           `json:"score"`
	TotalPenalty   float64           `json:"total_penalty"`
	HardViolations []model.Violation `json:"hard_violations"`
	SoftViolations []model.Violation `json:"soft_violations"`
}

// exceptionKey 豁免索引键
type exceptionKey struct {
	employeeID uuid.UUID
	ruleID     string
}

// Evaluator 规则评估器
// 规则顺序：硬规则在前；豁免索引在构建时固化，运行期间只读
type Evaluator struct {
	rules      []Rule
	exceptions map[exceptionKey]bool
	log        *logger.RosterLogger
}

// NewEvaluator 创建评估器
// 仅审批通过的豁免生效：硬违反降级为软性备注，软违反直接抑制
func NewEvaluator(rules []Rule, exceptions []*model.ExceptionRequest) *Evaluator {
	idx := make(map[exceptionKey]bool)
	for _, req := range exceptions {
		if req.IsApproved() {
			idx[exceptionKey{employeeID: req.EmployeeID, ruleID: req.RuleID}] = true
		}
	}
	return &Evaluator{
		rules:      orderRules(rules),
		exceptions: idx,
		log:        logger.NewRosterLogger(),
	}
}

// orderRules 硬规则在前，同类别保持输入顺序
func orderRules(rules []Rule) []Rule {
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Kind() == model.RuleHard {
			ordered = append(ordered, r)
		}
	}
	for _, r := range rules {
		if r.Kind() != model.RuleHard {
			ordered = append(ordered, r)
		}
	}
	return ordered
}

// Rules 返回评估器持有的规则
func (e *Evaluator) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// isExcepted 检查违反是否被豁免
// 无员工归属的违反（如覆盖不足）不可豁免
func (e *Evaluator) isExcepted(v model.Violation) bool {
	if v.EmployeeID == nil {
		return false
	}
	return e.exceptions[exceptionKey{employeeID: *v.EmployeeID, ruleID: v.RuleID}]
}

// Evaluate 评估完整分配集
func (e *Evaluator) Evaluate(ctx *Context) *Result {
	result := &Result{
		IsValid:        true,
		HardViolations: make([]model.Violation, 0),
		SoftViolations: make([]model.Violation, 0),
	}

	for _, r := range e.rules {
		for _, v := range r.Evaluate(ctx) {
			if r.Kind() == model.RuleHard {
				if e.isExcepted(v) {
					// 硬违反豁免：降级为软性备注，不扣分不致无效
					v.Kind = model.RuleSoft
					v.Penalty = 0
					v.Excepted = true
					result.SoftViolations = append(result.SoftViolations, v)
					continue
				}
				result.IsValid = false
				result.TotalPenalty += v.Penalty
				result.HardViolations = append(result.HardViolations, v)
				e.log.RuleViolation(v.RuleID, v.Message)
				continue
			}

			if e.isExcepted(v) {
				// 软违反豁免：直接抑制
				continue
			}
			result.TotalPenalty += v.Penalty
			result.SoftViolations = append(result.SoftViolations, v)
		}
	}

	result.Score = BaseScore - result.TotalPenalty
	if result.Score < 0 {
		result.Score = 0
	}
	return result
}

// CanAssign 检查候选分配是否满足全部硬规则
// 候选员工持有某硬规则的豁免时跳过该规则
func (e *Evaluator) CanAssign(ctx *Context, candidate *model.Assignment) (bool, string) {
	for _, r := range e.rules {
		if r.Kind() != model.RuleHard {
			continue
		}
		if e.exceptions[exceptionKey{employeeID: candidate.EmployeeID, ruleID: r.ID()}] {
			continue
		}
		if ok, _ := r.EvaluateCandidate(ctx, candidate); !ok {
			return false, fmt.Sprintf("违反硬规则: %s", r.Name())
		}
	}
	return true, ""
}

// CandidatePenalty 计算候选分配的软性惩罚（候选人排序用）
func (e *Evaluator) CandidatePenalty(ctx *Context, candidate *model.Assignment) float64 {
	total := 0.0
	for _, r := range e.rules {
		if r.Kind() == model.RuleHard {
			continue
		}
		if e.exceptions[exceptionKey{employeeID: candidate.EmployeeID, ruleID: r.ID()}] {
			continue
		}
		_, penalty := r.EvaluateCandidate(ctx, candidate)
		total += penalty
	}
	return total
}
