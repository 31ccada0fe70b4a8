package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/model"
)

// failingStrategy 总是失败的策略
type failingStrategy struct{}

func (f *failingStrategy) Name() string { return "failing" }

func (f *failingStrategy) Generate(ctx context.Context, input *Input) (*Outcome, error) {
	return nil, errors.New(errors.CodeTimeout, "模拟超时")
}

func TestFallbackOnPrimaryFailure(t *testing.T) {
	employees := makeEmployees("张三", "李四")
	tpl := makeDayTemplate()
	slots := daySlots(tpl, 1, "2025-06-03")

	input := buildInput(t, employees, []*model.ShiftTemplate{tpl}, slots, 8)

	f := NewFallback(&failingStrategy{}, NewGreedy())
	outcome, err := f.Generate(context.Background(), input)
	if err != nil {
		t.Fatalf("兜底后不应失败: %v", err)
	}

	if !outcome.FellBack {
		t.Error("产出应标记降级")
	}
	if outcome.FallbackReason == "" {
		t.Error("降级原因不应为空")
	}
	if outcome.Strategy != NameGreedy {
		t.Errorf("产出策略应为兜底策略 %s，实际 %s", NameGreedy, outcome.Strategy)
	}
	if len(outcome.Assignments) != 1 {
		t.Errorf("兜底策略应正常分配，实际 %d 条", len(outcome.Assignments))
	}
}

func TestFallbackNotTriggeredOnSuccess(t *testing.T) {
	employees := makeEmployees("张三", "李四")
	tpl := makeDayTemplate()
	slots := daySlots(tpl, 1, "2025-06-03")

	input := buildInput(t, employees, []*model.ShiftTemplate{tpl}, slots, 8)

	f := NewFallback(NewGreedy(), &failingStrategy{})
	outcome, err := f.Generate(context.Background(), input)
	if err != nil {
		t.Fatalf("主策略成功不应失败: %v", err)
	}
	if outcome.FellBack {
		t.Error("主策略成功不应标记降级")
	}
}

func TestFallbackBothFail(t *testing.T) {
	employees := makeEmployees("张三")
	tpl := makeDayTemplate()
	slots := daySlots(tpl, 1, "2025-06-03")

	input := buildInput(t, employees, []*model.ShiftTemplate{tpl}, slots, 8)

	f := NewFallback(&failingStrategy{}, &failingStrategy{})
	_, err := f.Generate(context.Background(), input)
	if err == nil {
		t.Fatal("主策略与兜底策略均失败应返回错误")
	}
	if !errors.Is(err, errors.CodeStrategyFailed) {
		t.Errorf("期望 STRATEGY_FAILED，实际 %s", errors.GetCode(err))
	}
}

// 求解器超时降级后，结果应与同种子纯贪心一致
func TestSolverTimeoutFallbackMatchesGreedy(t *testing.T) {
	employees := makeEmployees("张三", "李四", "王五")
	tpl := makeNightTemplate()
	slots := daySlots(tpl, 1, "2025-06-02", "2025-06-03", "2025-06-04")

	const seed = 2024

	greedyInput := buildInput(t, employees, []*model.ShiftTemplate{tpl}, slots, seed)
	greedyOutcome, err := NewGreedy().Generate(context.Background(), greedyInput)
	if err != nil {
		t.Fatalf("贪心策略失败: %v", err)
	}

	cfg := DefaultSolverConfig()
	cfg.MinIterations = 1 << 30
	cfg.TimeBudget = 1 * time.Nanosecond
	f := NewFallback(NewSolver(cfg), NewGreedy())

	fallbackInput := buildInput(t, employees, []*model.ShiftTemplate{tpl}, slots, seed)
	fallbackOutcome, err := f.Generate(context.Background(), fallbackInput)
	if err != nil {
		t.Fatalf("降级运行失败: %v", err)
	}

	if !fallbackOutcome.FellBack {
		t.Fatal("求解器超时应触发降级")
	}

	greedyKeys := assignmentKeys(greedyOutcome.Assignments)
	fallbackKeys := assignmentKeys(fallbackOutcome.Assignments)
	if len(greedyKeys) != len(fallbackKeys) {
		t.Fatalf("降级结果分配数与纯贪心不一致: %d vs %d", len(fallbackKeys), len(greedyKeys))
	}
	for i := range greedyKeys {
		if greedyKeys[i] != fallbackKeys[i] {
			t.Fatalf("降级结果与同种子纯贪心不一致: %s vs %s", fallbackKeys[i], greedyKeys[i])
		}
	}
}
