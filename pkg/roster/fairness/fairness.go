// Package fairness 提供高负担班次的公平性计量
// 统计口径由规则集的高负担班次分类决定（默认夜班）
package fairness

import (
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/model"
)

// DefaultDecay 历史排班计数的默认衰减系数
// 1 表示不衰减，各历史运行计数平坦累加
const DefaultDecay = 1.0

// PriorRun 历史排班的高负担班次计数（按员工）
// 传入顺序为最近优先
type PriorRun struct {
	Counts map[uuid.UUID]int
}

// Tracker 公平性追踪器
// 运行期间随分配实时更新，候选人排序依赖当前计数
type Tracker struct {
	class  model.ShiftClass
	counts map[uuid.UUID]float64
}

// NewTracker 创建公平性追踪器
func NewTracker(class model.ShiftClass) *Tracker {
	if class == "" {
		class = model.ShiftNight
	}
	return &Tracker{
		class:  class,
		counts: make(map[uuid.UUID]float64),
	}
}

// Class 返回统计口径的班次分类
func (t *Tracker) Class() model.ShiftClass {
	return t.class
}

// Seed 以历史排班计数初始化追踪器
// 第 k 次最近的历史运行权重为 decay^(k+1)，当前运行的新增计数权重恒为 1；
// decay 为 1（默认）时历史计数平坦累加，小于 1 时越久远的历史影响越小
func (t *Tracker) Seed(priors []PriorRun, decay float64) {
	if decay <= 0 || decay > 1 {
		decay = DefaultDecay
	}
	weight := decay
	for _, run := range priors {
		for empID, n := range run.Counts {
			t.counts[empID] += float64(n) * weight
		}
		weight *= decay
	}
}

// Register 登记员工，保证零计数员工也出现在快照中
func (t *Tracker) Register(employeeID uuid.UUID) {
	if _, ok := t.counts[employeeID]; !ok {
		t.counts[employeeID] = 0
	}
}

// Record 记录一次分配
// 仅高负担分类的班次计入计数
func (t *Tracker) Record(employeeID uuid.UUID, class model.ShiftClass) {
	if class == t.class {
		t.counts[employeeID] += 1
	}
}

// Unrecord 撤销一次分配的计数（求解器回退时使用）
func (t *Tracker) Unrecord(employeeID uuid.UUID, class model.ShiftClass) {
	if class == t.class {
		t.counts[employeeID] -= 1
	}
}

// Count 返回员工当前的高负担计数
func (t *Tracker) Count(employeeID uuid.UUID) float64 {
	return t.counts[employeeID]
}

// Counts 导出计数副本（规则基线用）
func (t *Tracker) Counts() map[uuid.UUID]float64 {
	out := make(map[uuid.UUID]float64, len(t.counts))
	for empID, n := range t.counts {
		out[empID] = n
	}
	return out
}

// Snapshot 导出计数快照（遥测用，键为员工 ID 字符串）
func (t *Tracker) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(t.counts))
	for empID, n := range t.counts {
		out[empID.String()] = n
	}
	return out
}

// Clone 复制追踪器（求解器在副本上探索候选解）
func (t *Tracker) Clone() *Tracker {
	counts := make(map[uuid.UUID]float64, len(t.counts))
	for k, v := range t.counts {
		counts[k] = v
	}
	return &Tracker{class: t.class, counts: counts}
}

// Spread 计数离散度
type Spread struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Delta float64 `json:"delta"`
	Mean  float64 `json:"mean"`
	Gini  float64 `json:"gini"`
}

// Spread 计算当前计数的离散度
// 贪心策略的目标是 Delta 不超过 1（候选充足时）
func (t *Tracker) Spread() Spread {
	if len(t.counts) == 0 {
		return Spread{}
	}

	values := make([]float64, 0, len(t.counts))
	sum := 0.0
	min := math.MaxFloat64
	max := -math.MaxFloat64
	for _, n := range t.counts {
		values = append(values, n)
		sum += n
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}

	return Spread{
		Min:   min,
		Max:   max,
		Delta: max - min,
		Mean:  sum / float64(len(values)),
		Gini:  giniCoefficient(values),
	}
}

// Gini 计算一组计数的基尼系数，遥测快照的监控口径用
func Gini(counts map[string]float64) float64 {
	values := make([]float64, 0, len(counts))
	for _, n := range counts {
		values = append(values, n)
	}
	return giniCoefficient(values)
}

// giniCoefficient 计算基尼系数（0 完全均衡，1 完全集中）
func giniCoefficient(values []float64) float64 {
	n := len(values)
	if n <= 1 {
		return 0
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	weighted := 0.0
	for i, v := range sorted {
		sum += v
		weighted += float64(i+1) * v
	}
	if sum == 0 {
		return 0
	}

	return (2*weighted - float64(n+1)*sum) / (float64(n) * sum)
}
