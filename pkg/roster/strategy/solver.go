// Package strategy 提供排班分配策略
package strategy

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/logger"
	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/rule"
)

// SolverConfig 求解器配置
type SolverConfig struct {
	MaxIterations    int           `json:"max_iterations"`
	TimeBudget       time.Duration `json:"time_budget"`
	InitialTemp      float64       `json:"initial_temp"`
	CoolingRate      float64       `json:"cooling_rate"`
	TabuSize         int           `json:"tabu_size"`
	PlateauThreshold int           `json:"plateau_threshold"` // 无改进迭代阈值
	MinIterations    int           `json:"min_iterations"`    // 未达到即超时则视为失败
}

// DefaultSolverConfig 默认求解器配置
func DefaultSolverConfig() *SolverConfig {
	return &SolverConfig{
		MaxIterations:    1000,
		TimeBudget:       30 * time.Second,
		InitialTemp:      100.0,
		CoolingRate:      0.99,
		TabuSize:         50,
		PlateauThreshold: 200,
		MinIterations:    50,
	}
}

// Solver 局部搜索求解策略
// 以贪心解为起点做模拟退火改进：随机将算法分配换人，按接受准则取舍；
// 随机源由种子固定，同输入同种子产出一致
type Solver struct {
	cfg *SolverConfig
}

// NewSolver 创建求解策略
func NewSolver(cfg *SolverConfig) *Solver {
	if cfg == nil {
		cfg = DefaultSolverConfig()
	}
	return &Solver{cfg: cfg}
}

// logImprovement 记录更优解（调试级别）
func (s *Solver) logImprovement(iteration int, penalty float64) {
	logger.Debug().
		Int("iteration", iteration).
		Float64("penalty", penalty).
		Msg("求解器发现更优解")
}

// Name 返回策略名称
func (s *Solver) Name() string {
	return NameSolver
}

// Generate 生成分配方案
// 时间预算在完成最小迭代数前耗尽时返回超时错误，由兜底装饰器降级
func (s *Solver) Generate(ctx context.Context, input *Input) (*Outcome, error) {
	start := time.Now()

	budget := s.cfg.TimeBudget
	if input.TimeBudget > 0 {
		budget = input.TimeBudget
	}
	maxIterations := s.cfg.MaxIterations
	if input.MaxIterations > 0 {
		maxIterations = input.MaxIterations
	}

	// 贪心解作为初始解
	initial, err := NewGreedy().Generate(ctx, input)
	if err != nil {
		return nil, errors.StrategyFailed(NameSolver, err)
	}

	state := newWorkingState(input)
	for _, a := range initial.Assignments {
		clone := *a
		state.ruleCtx.AddAssignment(&clone)
	}

	current := state.ruleCtx
	currentEval := input.Evaluator.Evaluate(current)
	bestAssignments := cloneAssignments(algorithmAssignments(current))
	bestEval := currentEval

	rng := rand.New(rand.NewSource(input.Seed))
	tabu := newTabuList(s.cfg.TabuSize)
	temperature := s.cfg.InitialTemp
	noImprovement := 0
	iterations := 0

	for i := 0; i < maxIterations; i++ {
		if ctx.Err() != nil || time.Since(start) > budget {
			if iterations < s.cfg.MinIterations {
				return nil, errors.New(errors.CodeTimeout, "求解器在完成最小迭代数前超出时间预算")
			}
			break
		}
		iterations++

		moved, revert := s.randomMove(current, input, rng)
		if !moved {
			noImprovement++
			if noImprovement >= s.cfg.PlateauThreshold {
				break
			}
			continue
		}

		neighborEval := input.Evaluator.Evaluate(current)
		moveKey := hashAssignments(current.Assignments)

		accept := false
		if neighborEval.TotalPenalty < currentEval.TotalPenalty {
			accept = true
		} else if !tabu.Contains(moveKey) {
			delta := neighborEval.TotalPenalty - currentEval.TotalPenalty
			if rng.Float64() < boltzmannProbability(delta, temperature) {
				accept = true
			}
		}

		if accept {
			currentEval = neighborEval
			tabu.Add(moveKey)
			if currentEval.TotalPenalty < bestEval.TotalPenalty {
				bestAssignments = cloneAssignments(algorithmAssignments(current))
				bestEval = currentEval
				noImprovement = 0
				s.logImprovement(i, bestEval.TotalPenalty)
			} else {
				noImprovement++
			}
		} else {
			revert()
			noImprovement++
		}

		if noImprovement >= s.cfg.PlateauThreshold {
			break
		}
		temperature *= s.cfg.CoolingRate
	}

	// 以最优分配重建最终评估
	final := newWorkingState(input)
	for _, a := range bestAssignments {
		final.ruleCtx.AddAssignment(a)
	}

	return &Outcome{
		Strategy:    NameSolver,
		Assignments: bestAssignments,
		Evaluation:  input.Evaluator.Evaluate(final.ruleCtx),
		Unfilled:    initial.Unfilled,
		Iterations:  iterations,
		Duration:    time.Since(start),
	}, nil
}

// randomMove 随机换人移动
// 仅移动算法分配，人工分配不可触碰；返回撤销函数
func (s *Solver) randomMove(ruleCtx *rule.Context, input *Input, rng *rand.Rand) (bool, func()) {
	movable := algorithmAssignments(ruleCtx)
	if len(movable) == 0 || len(ruleCtx.Employees) < 2 {
		return false, nil
	}

	target := movable[rng.Intn(len(movable))]
	tpl := ruleCtx.GetTemplate(target.TemplateID)
	if tpl == nil {
		return false, nil
	}

	// 随机挑一个不同的在职员工
	offset := rng.Intn(len(ruleCtx.Employees))
	for i := 0; i < len(ruleCtx.Employees); i++ {
		emp := ruleCtx.Employees[(offset+i)%len(ruleCtx.Employees)]
		if emp.ID == target.EmployeeID || !emp.IsActive() {
			continue
		}

		replacement, err := buildAssignment(emp.ID, tpl, target.Date)
		if err != nil {
			continue
		}

		removed := *target
		ruleCtx.RemoveAssignment(target.ID)
		if ok, _ := input.Evaluator.CanAssign(ruleCtx, replacement); !ok {
			restored := removed
			ruleCtx.AddAssignment(&restored)
			continue
		}

		ruleCtx.AddAssignment(replacement)
		return true, func() {
			ruleCtx.RemoveAssignment(replacement.ID)
			restored := removed
			ruleCtx.AddAssignment(&restored)
		}
	}

	return false, nil
}

// algorithmAssignments 过滤出算法分配
func algorithmAssignments(ruleCtx *rule.Context) []*model.Assignment {
	var out []*model.Assignment
	for _, a := range ruleCtx.Assignments {
		if !a.IsManual() {
			out = append(out, a)
		}
	}
	return out
}

// cloneAssignments 深拷贝分配列表
func cloneAssignments(assignments []*model.Assignment) []*model.Assignment {
	out := make([]*model.Assignment, len(assignments))
	for i, a := range assignments {
		clone := *a
		out[i] = &clone
	}
	return out
}

// hashAssignments 计算分配集哈希（FNV-1a）
func hashAssignments(assignments []*model.Assignment) uint64 {
	if len(assignments) == 0 {
		return 0
	}
	h := fnv.New64a()
	for _, a := range assignments {
		h.Write(a.EmployeeID[:])
		h.Write(a.TemplateID[:])
		h.Write([]byte(a.Date))
	}
	return h.Sum64()
}

// boltzmannProbability 模拟退火接受概率
func boltzmannProbability(delta, temperature float64) float64 {
	if delta <= 0 {
		return 1.0
	}
	if temperature <= 0 {
		return 0.0
	}
	return math.Exp(-delta / temperature)
}

// tabuList 禁忌表
type tabuList struct {
	items   map[uint64]struct{}
	order   []uint64
	maxSize int
}

func newTabuList(size int) *tabuList {
	return &tabuList{
		items:   make(map[uint64]struct{}),
		order:   make([]uint64, 0, size),
		maxSize: size,
	}
}

// Add 添加哈希，超出容量时淘汰最旧项
func (t *tabuList) Add(key uint64) {
	if _, exists := t.items[key]; exists {
		return
	}
	if len(t.order) >= t.maxSize {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.items, oldest)
	}
	t.items[key] = struct{}{}
	t.order = append(t.order, key)
}

// Contains 检查哈希是否在禁忌表中
func (t *tabuList) Contains(key uint64) bool {
	_, exists := t.items[key]
	return exists
}
