package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/model"
)

func solverForTest() *Solver {
	cfg := DefaultSolverConfig()
	cfg.MaxIterations = 200
	cfg.TimeBudget = 5 * time.Second
	cfg.MinIterations = 10
	return NewSolver(cfg)
}

func TestSolverProducesValidOutcome(t *testing.T) {
	employees := makeEmployees("张三", "李四", "王五")
	tpl := makeNightTemplate()
	slots := daySlots(tpl, 1, "2025-06-02", "2025-06-03", "2025-06-04")

	input := buildInput(t, employees, []*model.ShiftTemplate{tpl}, slots, 42)
	outcome, err := solverForTest().Generate(context.Background(), input)
	if err != nil {
		t.Fatalf("求解器失败: %v", err)
	}

	if outcome.Strategy != NameSolver {
		t.Errorf("策略名称期望 %s，实际 %s", NameSolver, outcome.Strategy)
	}
	if len(outcome.Assignments) != 3 {
		t.Errorf("期望 3 条分配，实际 %d", len(outcome.Assignments))
	}
	if !outcome.Evaluation.IsValid {
		t.Errorf("结果应有效: %+v", outcome.Evaluation.HardViolations)
	}
	if outcome.Iterations == 0 {
		t.Error("迭代数应大于 0")
	}
}

func TestSolverDeterministicWithSameSeed(t *testing.T) {
	employees := makeEmployees("张三", "李四", "王五", "赵六")
	tpl := makeNightTemplate()
	slots := daySlots(tpl, 2, "2025-06-02", "2025-06-03", "2025-06-04")

	var first []string
	for i := 0; i < 3; i++ {
		input := buildInput(t, employees, []*model.ShiftTemplate{tpl}, slots, 1234)
		outcome, err := solverForTest().Generate(context.Background(), input)
		if err != nil {
			t.Fatalf("求解器失败: %v", err)
		}
		keys := assignmentKeys(outcome.Assignments)
		if first == nil {
			first = keys
			continue
		}
		if len(keys) != len(first) {
			t.Fatalf("同种子运行分配数不一致")
		}
		for j := range keys {
			if keys[j] != first[j] {
				t.Fatalf("同种子运行结果不一致: %s vs %s", keys[j], first[j])
			}
		}
	}
}

func TestSolverScoreNotWorseThanGreedy(t *testing.T) {
	employees := makeEmployees("张三", "李四", "王五")
	tpl := makeNightTemplate()
	slots := daySlots(tpl, 1, "2025-06-02", "2025-06-03", "2025-06-04", "2025-06-05")

	greedyInput := buildInput(t, employees, []*model.ShiftTemplate{tpl}, slots, 55)
	greedyOutcome, err := NewGreedy().Generate(context.Background(), greedyInput)
	if err != nil {
		t.Fatalf("贪心策略失败: %v", err)
	}

	solverInput := buildInput(t, employees, []*model.ShiftTemplate{tpl}, slots, 55)
	solverOutcome, err := solverForTest().Generate(context.Background(), solverInput)
	if err != nil {
		t.Fatalf("求解器失败: %v", err)
	}

	if solverOutcome.Evaluation.Score < greedyOutcome.Evaluation.Score {
		t.Errorf("求解器得分不应低于贪心起点: %v < %v",
			solverOutcome.Evaluation.Score, greedyOutcome.Evaluation.Score)
	}
}

func TestSolverTimeoutReturnsError(t *testing.T) {
	employees := makeEmployees("张三", "李四", "王五")
	tpl := makeNightTemplate()
	slots := daySlots(tpl, 1, "2025-06-02", "2025-06-03", "2025-06-04")

	cfg := DefaultSolverConfig()
	cfg.MinIterations = 1 << 30 // 不可能完成的最小迭代数
	cfg.TimeBudget = 1 * time.Nanosecond
	s := NewSolver(cfg)

	input := buildInput(t, employees, []*model.ShiftTemplate{tpl}, slots, 9)
	_, err := s.Generate(context.Background(), input)
	if err == nil {
		t.Fatal("时间预算耗尽应返回错误")
	}
	if !errors.Is(err, errors.CodeTimeout) {
		t.Errorf("期望 TIMEOUT，实际 %s", errors.GetCode(err))
	}
}

func TestSolverNeverMovesManualAssignments(t *testing.T) {
	employees := makeEmployees("张三", "李四", "王五")
	tpl := makeNightTemplate()
	slots := daySlots(tpl, 1, "2025-06-02", "2025-06-03", "2025-06-04")

	input := buildInput(t, employees, []*model.ShiftTemplate{tpl}, slots, 77)

	window, _ := tpl.ResolveWindow("2025-06-02")
	manual := &model.Assignment{
		BaseModel:  model.NewBaseModel(),
		EmployeeID: employees[0].ID,
		TemplateID: tpl.ID,
		Date:       "2025-06-02",
		StartTime:  window.Start,
		EndTime:    window.End,
		AssignedBy: model.AssignedByManual,
	}
	input.RuleCtx.SetAssignments([]*model.Assignment{manual})

	outcome, err := solverForTest().Generate(context.Background(), input)
	if err != nil {
		t.Fatalf("求解器失败: %v", err)
	}

	for _, a := range outcome.Assignments {
		if a.IsManual() {
			t.Error("产出中不应包含人工分配（由调用方合并）")
		}
		if a.Date == "2025-06-02" && a.TemplateID == tpl.ID {
			t.Error("人工分配已占满的槽位不应再分配")
		}
	}
}

func TestTabuListEviction(t *testing.T) {
	tabu := newTabuList(2)
	tabu.Add(1)
	tabu.Add(2)
	tabu.Add(3) // 淘汰 1

	if tabu.Contains(1) {
		t.Error("超出容量后最旧项应被淘汰")
	}
	if !tabu.Contains(2) || !tabu.Contains(3) {
		t.Error("新项应保留")
	}
}

func TestBoltzmannProbability(t *testing.T) {
	if p := boltzmannProbability(-1, 10); p != 1.0 {
		t.Errorf("更优解接受概率应为 1，实际 %v", p)
	}
	if p := boltzmannProbability(5, 0); p != 0.0 {
		t.Errorf("温度为 0 时不应接受更差解，实际 %v", p)
	}
	p1 := boltzmannProbability(5, 100)
	p2 := boltzmannProbability(5, 1)
	if p1 <= p2 {
		t.Errorf("温度越高接受概率应越大: %v vs %v", p1, p2)
	}
}
