package fairness

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/model"
)

func TestRecordOnlyCountsTrackedClass(t *testing.T) {
	empID := uuid.New()
	tracker := NewTracker(model.ShiftNight)

	tracker.Record(empID, model.ShiftNight)
	tracker.Record(empID, model.ShiftDay)
	tracker.Record(empID, model.ShiftEvening)

	if got := tracker.Count(empID); got != 1 {
		t.Errorf("仅夜班应计数，期望 1，实际 %v", got)
	}
}

func TestUnrecordReverts(t *testing.T) {
	empID := uuid.New()
	tracker := NewTracker(model.ShiftNight)

	tracker.Record(empID, model.ShiftNight)
	tracker.Record(empID, model.ShiftNight)
	tracker.Unrecord(empID, model.ShiftNight)

	if got := tracker.Count(empID); got != 1 {
		t.Errorf("撤销后期望 1，实际 %v", got)
	}
}

func TestSeedAppliesDecay(t *testing.T) {
	empA := uuid.New()
	empB := uuid.New()
	tracker := NewTracker(model.ShiftNight)

	// 最近一次运行 empA 4 次；更早一次 empB 4 次
	tracker.Seed([]PriorRun{
		{Counts: map[uuid.UUID]int{empA: 4}},
		{Counts: map[uuid.UUID]int{empB: 4}},
	}, 0.5)

	if got := tracker.Count(empA); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("最近历史权重 0.5，期望 2.0，实际 %v", got)
	}
	if got := tracker.Count(empB); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("更早历史权重 0.25，期望 1.0，实际 %v", got)
	}
	if tracker.Count(empA) <= tracker.Count(empB) {
		t.Error("越近的历史计数权重应越高")
	}
}

func TestSeedDefaultDecayIsFlat(t *testing.T) {
	empA := uuid.New()
	empB := uuid.New()
	tracker := NewTracker(model.ShiftNight)

	// 默认系数下新旧历史计数平坦累加
	tracker.Seed([]PriorRun{
		{Counts: map[uuid.UUID]int{empA: 3}},
		{Counts: map[uuid.UUID]int{empB: 3}},
	}, DefaultDecay)

	if got := tracker.Count(empA); math.Abs(got-3.0) > 1e-9 {
		t.Errorf("默认系数最近历史期望 3.0，实际 %v", got)
	}
	if tracker.Count(empA) != tracker.Count(empB) {
		t.Error("默认系数下新旧历史计数应相等")
	}
}

func TestSeedInvalidDecayFallsBackToDefault(t *testing.T) {
	empID := uuid.New()
	tracker := NewTracker(model.ShiftNight)

	tracker.Seed([]PriorRun{{Counts: map[uuid.UUID]int{empID: 10}}}, -1)

	if got := tracker.Count(empID); math.Abs(got-10*DefaultDecay) > 1e-9 {
		t.Errorf("非法衰减系数应回退默认值，期望 %v，实际 %v", 10*DefaultDecay, got)
	}
}

func TestRegisterKeepsZeroCountInSnapshot(t *testing.T) {
	empA := uuid.New()
	empB := uuid.New()
	tracker := NewTracker(model.ShiftNight)

	tracker.Register(empA)
	tracker.Register(empB)
	tracker.Record(empA, model.ShiftNight)

	snap := tracker.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("快照应包含全部登记员工，实际 %d", len(snap))
	}
	if snap[empB.String()] != 0 {
		t.Errorf("零计数员工应出现在快照中且为 0，实际 %v", snap[empB.String()])
	}
}

func TestCloneIsIndependent(t *testing.T) {
	empID := uuid.New()
	tracker := NewTracker(model.ShiftNight)
	tracker.Record(empID, model.ShiftNight)

	clone := tracker.Clone()
	clone.Record(empID, model.ShiftNight)

	if tracker.Count(empID) != 1 {
		t.Error("副本上的修改不应影响原追踪器")
	}
	if clone.Count(empID) != 2 {
		t.Error("副本计数错误")
	}
}

func TestSpread(t *testing.T) {
	tracker := NewTracker(model.ShiftNight)
	emps := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for _, id := range emps {
		tracker.Register(id)
	}
	// 计数 3/2/2/3
	tracker.Record(emps[0], model.ShiftNight)
	tracker.Record(emps[0], model.ShiftNight)
	tracker.Record(emps[0], model.ShiftNight)
	tracker.Record(emps[1], model.ShiftNight)
	tracker.Record(emps[1], model.ShiftNight)
	tracker.Record(emps[2], model.ShiftNight)
	tracker.Record(emps[2], model.ShiftNight)
	tracker.Record(emps[3], model.ShiftNight)
	tracker.Record(emps[3], model.ShiftNight)
	tracker.Record(emps[3], model.ShiftNight)

	spread := tracker.Spread()
	if spread.Min != 2 || spread.Max != 3 {
		t.Errorf("Min/Max 期望 2/3，实际 %v/%v", spread.Min, spread.Max)
	}
	if spread.Delta != 1 {
		t.Errorf("Delta 期望 1，实际 %v", spread.Delta)
	}
	if math.Abs(spread.Mean-2.5) > 1e-9 {
		t.Errorf("Mean 期望 2.5，实际 %v", spread.Mean)
	}
	if spread.Gini < 0 || spread.Gini > 1 {
		t.Errorf("Gini 系数应在 [0,1]，实际 %v", spread.Gini)
	}
}

func TestSpreadUniformGiniZero(t *testing.T) {
	tracker := NewTracker(model.ShiftNight)
	for i := 0; i < 3; i++ {
		id := uuid.New()
		tracker.Record(id, model.ShiftNight)
		tracker.Record(id, model.ShiftNight)
	}

	spread := tracker.Spread()
	if math.Abs(spread.Gini) > 1e-9 {
		t.Errorf("完全均衡时 Gini 应为 0，实际 %v", spread.Gini)
	}
	if spread.Delta != 0 {
		t.Errorf("完全均衡时 Delta 应为 0，实际 %v", spread.Delta)
	}
}

func TestEmptyTrackerSpread(t *testing.T) {
	tracker := NewTracker("")
	if tracker.Class() != model.ShiftNight {
		t.Error("空分类应回退为夜班")
	}
	spread := tracker.Spread()
	if spread.Delta != 0 || spread.Gini != 0 {
		t.Error("空追踪器离散度应为零值")
	}
}
