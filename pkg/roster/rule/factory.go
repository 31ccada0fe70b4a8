// Package rule 定义排班规则接口与评估器
package rule

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/model"
)

// BuildOptions 规则构建选项
type BuildOptions struct {
	// UndesirableClass 公平性统计口径，规则集未指定时的回退值
	UndesirableClass model.ShiftClass

	// FairnessBaseline 历史运行的衰减计数
	FairnessBaseline map[uuid.UUID]float64

	// WeightOverrides 按规则标识覆盖软规则权重，仅对本次运行生效
	WeightOverrides map[string]float64
}

// Build 将规则集定义实例化为规则列表
// 未知规则标识视为配置错误；规则顺序与规则集定义一致
func Build(rs *model.RuleSet, opts BuildOptions) ([]Rule, error) {
	if rs == nil || len(rs.Rules) == 0 {
		return nil, errors.ConfigInvalid("规则集为空")
	}

	class := rs.UndesirableClass
	if class == "" {
		class = opts.UndesirableClass
	}

	rules := make([]Rule, 0, len(rs.Rules))
	seen := make(map[string]bool)
	for _, def := range rs.Rules {
		if seen[def.RuleID] {
			return nil, errors.ConfigInvalid(fmt.Sprintf("规则 '%s' 重复定义", def.RuleID))
		}
		seen[def.RuleID] = true

		if w, ok := opts.WeightOverrides[def.RuleID]; ok && def.Kind == model.RuleSoft {
			def.Weight = w
		}

		switch def.RuleID {
		case model.RuleNoOverlap:
			rules = append(rules, NewNoOverlapRule(def))
		case model.RuleCoverage:
			rules = append(rules, NewCoverageRule(def))
		case model.RuleMinRest:
			rules = append(rules, NewMinRestRule(def))
		case model.RuleWeeklyHourCap:
			rules = append(rules, NewWeeklyHourCapRule(def))
		case model.RuleBlackout:
			rules = append(rules, NewBlackoutRule(def))
		case model.RulePinnedHonored:
			rules = append(rules, NewPinnedHonoredRule(def))
		case model.RuleFairnessSpread:
			rules = append(rules, NewFairnessSpreadRule(def, class, opts.FairnessBaseline))
		default:
			return nil, errors.ConfigInvalid(fmt.Sprintf("未知规则 '%s'", def.RuleID))
		}
	}

	return rules, nil
}

// DefaultRuleSet 返回内置默认规则集
// 租户未配置规则集时使用
func DefaultRuleSet(tenantID uuid.UUID) *model.RuleSet {
	return &model.RuleSet{
		BaseModel: model.NewBaseModel(),
		TenantID:  tenantID,
		Name:      "默认规则集",
		Rules: []model.RuleDef{
			{RuleID: model.RuleNoOverlap, Kind: model.RuleHard},
			{RuleID: model.RuleBlackout, Kind: model.RuleHard},
			{RuleID: model.RuleMinRest, Kind: model.RuleHard, Params: model.JSONMap{"hours": DefaultMinRestHours}},
			{RuleID: model.RuleWeeklyHourCap, Kind: model.RuleHard, Params: model.JSONMap{"hours": DefaultWeeklyHourCap}},
			{RuleID: model.RuleCoverage, Kind: model.RuleHard},
			{RuleID: model.RulePinnedHonored, Kind: model.RuleSoft, Weight: 5},
			{RuleID: model.RuleFairnessSpread, Kind: model.RuleSoft, Weight: 3, Params: model.JSONMap{"max_delta": DefaultMaxDelta}},
		},
	}
}
