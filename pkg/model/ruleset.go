// Package model 定义排班引擎的核心数据模型
package model

import (
	"github.com/google/uuid"
)

// 内置规则标识
const (
	RuleNoOverlap      = "no_overlap"       // 同一员工同日班次不得重叠
	RuleCoverage       = "coverage"         // 需求槽位人数必须满足
	RuleMinRest        = "min_rest"         // 班次间最小休息时间
	RuleWeeklyHourCap  = "weekly_hour_cap"  // 周工时上限
	RuleBlackout       = "blackout"         // 禁排日不得分配
	RulePinnedHonored  = "pinned_honored"   // 钉选偏好应被满足
	RuleFairnessSpread = "fairness_spread"  // 高负担班次分摊公平
)

// RuleDef 规则定义
// Weight 仅对软规则生效；Params 携带规则参数（如 min_rest 的 hours）
type RuleDef struct {
	RuleID string   `json:"rule_id"`
	Kind   RuleKind `json:"kind"`
	Weight float64  `json:"weight,omitempty"`
	Params JSONMap  `json:"params,omitempty"`
}

// ParamInt 读取整数参数
func (d RuleDef) ParamInt(key string, def int) int {
	if v, ok := d.Params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return def
}

// ParamFloat 读取浮点参数
func (d RuleDef) ParamFloat(key string, def float64) float64 {
	if v, ok := d.Params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// ParamString 读取字符串参数
func (d RuleDef) ParamString(key, def string) string {
	if v, ok := d.Params[key].(string); ok {
		return v
	}
	return def
}

// RuleSet 规则集
// 每次排班运行选定且仅选定一个规则集；Rules 保持配置顺序
type RuleSet struct {
	BaseModel
	TenantID    uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Rules       []RuleDef `json:"rules" db:"rules"`

	// 高负担班次分类（公平性统计口径），为空时取引擎配置默认值
	UndesirableClass ShiftClass `json:"undesirable_class,omitempty" db:"undesirable_class"`
}

// Rule 按标识查找规则定义
func (rs *RuleSet) Rule(ruleID string) (RuleDef, bool) {
	for _, d := range rs.Rules {
		if d.RuleID == ruleID {
			return d, true
		}
	}
	return RuleDef{}, false
}

// HasRule 检查规则集是否包含某规则
func (rs *RuleSet) HasRule(ruleID string) bool {
	_, ok := rs.Rule(ruleID)
	return ok
}
