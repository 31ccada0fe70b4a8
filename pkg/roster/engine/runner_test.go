package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/internal/audit"
	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/fairness"
	"github.com/zhiban/zhiban/pkg/roster/strategy"
)

// fakeStore 内存数据访问桩
type fakeStore struct {
	mu sync.Mutex

	employees  []*model.Employee
	templates  []*model.ShiftTemplate
	demand     []*model.DemandRequirement
	submitted  []*model.AvailabilityRecord
	leaves     []*model.LeaveRecord
	holidays   []*model.Holiday
	ruleSets   map[uuid.UUID]*model.RuleSet
	exceptions []*model.ExceptionRequest
	priors     []fairness.PriorRun
	previous   *model.Schedule

	saved    []*model.Schedule
	replaced []uuid.UUID
	saveErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{ruleSets: make(map[uuid.UUID]*model.RuleSet)}
}

func (f *fakeStore) ListEmployees(ctx context.Context, tenantID uuid.UUID) ([]*model.Employee, error) {
	return f.employees, nil
}

func (f *fakeStore) ListTemplates(ctx context.Context, tenantID uuid.UUID) ([]*model.ShiftTemplate, error) {
	return f.templates, nil
}

func (f *fakeStore) ListDemand(ctx context.Context, tenantID uuid.UUID, period model.DateRange) ([]*model.DemandRequirement, error) {
	return f.demand, nil
}

func (f *fakeStore) ListAvailability(ctx context.Context, tenantID uuid.UUID, period model.DateRange) ([]*model.AvailabilityRecord, error) {
	return f.submitted, nil
}

func (f *fakeStore) ListLeaves(ctx context.Context, tenantID uuid.UUID, period model.DateRange) ([]*model.LeaveRecord, error) {
	return f.leaves, nil
}

func (f *fakeStore) ListHolidays(ctx context.Context, period model.DateRange) ([]*model.Holiday, error) {
	return f.holidays, nil
}

func (f *fakeStore) GetRuleSet(ctx context.Context, tenantID, ruleSetID uuid.UUID) (*model.RuleSet, error) {
	return f.ruleSets[ruleSetID], nil
}

func (f *fakeStore) ListExceptions(ctx context.Context, tenantID uuid.UUID) ([]*model.ExceptionRequest, error) {
	return f.exceptions, nil
}

func (f *fakeStore) ListPriorRuns(ctx context.Context, tenantID uuid.UUID, class model.ShiftClass, before string, limit int) ([]fairness.PriorRun, error) {
	return f.priors, nil
}

func (f *fakeStore) LatestScheduleForPeriod(ctx context.Context, tenantID uuid.UUID, period model.DateRange) (*model.Schedule, error) {
	return f.previous, nil
}

func (f *fakeStore) GetSchedule(ctx context.Context, tenantID, scheduleID uuid.UUID) (*model.Schedule, error) {
	if f.previous != nil && f.previous.ID == scheduleID {
		return f.previous, nil
	}
	return nil, nil
}

func (f *fakeStore) SaveSchedule(ctx context.Context, schedule *model.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, schedule)
	return nil
}

func (f *fakeStore) ReplaceSchedule(ctx context.Context, replacedID uuid.UUID, schedule *model.Schedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.replaced = append(f.replaced, replacedID)
	f.saved = append(f.saved, schedule)
	return nil
}

// memAudit 内存审计记录器
type memAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *memAudit) Record(ctx context.Context, e *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

var testPeriod = model.DateRange{StartDate: "2025-06-02", EndDate: "2025-06-08"}

func seedStore(f *fakeStore) {
	for _, name := range []string{"张三", "李四", "王五"} {
		f.employees = append(f.employees, &model.Employee{
			BaseModel: model.NewBaseModel(),
			Name:      name,
			Status:    "active",
		})
	}
	f.templates = append(f.templates, &model.ShiftTemplate{
		BaseModel: model.NewBaseModel(),
		Name:      "白班",
		StartTime: "09:00",
		EndTime:   "17:00",
		Class:     model.ShiftDay,
		IsActive:  true,
	})
}

func seedPtr(v int64) *int64 { return &v }

func TestRunProducesDraftSchedule(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	runner := NewRunner(store, nil)

	schedule, err := runner.Run(context.Background(), &RunRequest{
		TenantID: uuid.New(),
		Name:     "六月第一周",
		Period:   testPeriod,
		Seed:     seedPtr(42),
	})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	if schedule.Status != model.StatusDraft {
		t.Errorf("新排班应为草稿，实际 %s", schedule.Status)
	}
	if !schedule.IsValid {
		t.Errorf("排班应有效: %+v", schedule.HardViolations)
	}
	// 合成需求：周一至周五每日 1 人
	if schedule.TotalSlots != 5 {
		t.Errorf("总槽位期望 5，实际 %d", schedule.TotalSlots)
	}
	if schedule.FilledSlots != 5 {
		t.Errorf("已填槽位期望 5，实际 %d", schedule.FilledSlots)
	}
	if schedule.FillRate != 100 {
		t.Errorf("填充率期望 100，实际 %v", schedule.FillRate)
	}
	if len(store.saved) != 1 {
		t.Fatalf("应持久化 1 次，实际 %d", len(store.saved))
	}
	for _, a := range schedule.Assignments {
		if a.ScheduleID != schedule.ID {
			t.Error("分配应归属新排班")
		}
	}
}

func TestRunTelemetry(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	runner := NewRunner(store, nil)

	schedule, err := runner.Run(context.Background(), &RunRequest{
		TenantID: uuid.New(),
		Period:   testPeriod,
		Seed:     seedPtr(7),
	})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	tel := schedule.Telemetry
	if tel == nil {
		t.Fatal("遥测不应为空")
	}
	if tel.Seed != 7 {
		t.Errorf("遥测种子期望 7，实际 %d", tel.Seed)
	}
	if tel.Strategy != strategy.NameGreedy {
		t.Errorf("遥测策略期望 greedy，实际 %s", tel.Strategy)
	}
	if tel.FellBack {
		t.Error("贪心运行不应标记降级")
	}
	if len(tel.FairnessCounts) != 3 {
		t.Errorf("公平性计数应覆盖全部员工，实际 %d", len(tel.FairnessCounts))
	}
	if len(tel.Conflicts) != 0 {
		t.Errorf("合规排班不应有冲突: %+v", tel.Conflicts)
	}
}

func TestRunDeterministicWithSeed(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	seedStore(store)
	runner := NewRunner(store, nil)

	req := func() *RunRequest {
		return &RunRequest{TenantID: tenantID, Period: testPeriod, Seed: seedPtr(555)}
	}

	first, err := runner.Run(context.Background(), req())
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}
	second, err := runner.Run(context.Background(), req())
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	if len(first.Assignments) != len(second.Assignments) {
		t.Fatal("同种子运行分配数不一致")
	}
	for i := range first.Assignments {
		a, b := first.Assignments[i], second.Assignments[i]
		if a.EmployeeID != b.EmployeeID || a.Date != b.Date || a.TemplateID != b.TemplateID {
			t.Fatalf("同种子运行第 %d 条分配不一致", i)
		}
	}
}

func TestRunReplacePreservesManual(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	seedStore(store)

	tpl := store.templates[0]
	manualEmp := store.employees[0]
	window, _ := tpl.ResolveWindow("2025-06-03")

	prev := &model.Schedule{
		BaseModel: model.NewBaseModel(),
		TenantID:  tenantID,
		StartDate: testPeriod.StartDate,
		EndDate:   testPeriod.EndDate,
		Status:    model.StatusDraft,
	}
	prev.Assignments = []*model.Assignment{
		{
			BaseModel:  model.NewBaseModel(),
			ScheduleID: prev.ID,
			EmployeeID: manualEmp.ID,
			TemplateID: tpl.ID,
			Date:       "2025-06-03",
			StartTime:  window.Start,
			EndTime:    window.End,
			AssignedBy: model.AssignedByManual,
		},
		{
			BaseModel:  model.NewBaseModel(),
			ScheduleID: prev.ID,
			EmployeeID: store.employees[1].ID,
			TemplateID: tpl.ID,
			Date:       "2025-06-04",
			StartTime:  window.Start,
			EndTime:    window.End,
			AssignedBy: model.AssignedByAlgorithm,
		},
	}
	store.previous = prev

	runner := NewRunner(store, nil)
	schedule, err := runner.Run(context.Background(), &RunRequest{
		TenantID: tenantID,
		Period:   testPeriod,
		Mode:     ModeReplace,
		Seed:     seedPtr(11),
	})
	if err != nil {
		t.Fatalf("替换运行失败: %v", err)
	}

	if schedule.Telemetry.PreservedManual != 1 {
		t.Errorf("应保留 1 条人工分配，实际 %d", schedule.Telemetry.PreservedManual)
	}

	found := false
	for _, a := range schedule.Assignments {
		if a.IsManual() {
			found = true
			if a.EmployeeID != manualEmp.ID || a.Date != "2025-06-03" {
				t.Error("保留的人工分配内容不符")
			}
			if a.ScheduleID != schedule.ID {
				t.Error("保留的人工分配应归属新排班")
			}
		}
	}
	if !found {
		t.Error("新排班中应包含保留的人工分配")
	}
}

func TestRunReplaceOverwriteLockedDiscardsManual(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	seedStore(store)

	tpl := store.templates[0]
	window, _ := tpl.ResolveWindow("2025-06-03")

	prev := &model.Schedule{
		BaseModel: model.NewBaseModel(),
		TenantID:  tenantID,
		StartDate: testPeriod.StartDate,
		EndDate:   testPeriod.EndDate,
		Status:    model.StatusDraft,
	}
	prev.Assignments = []*model.Assignment{
		{
			BaseModel:  model.NewBaseModel(),
			ScheduleID: prev.ID,
			EmployeeID: store.employees[0].ID,
			TemplateID: tpl.ID,
			Date:       "2025-06-03",
			StartTime:  window.Start,
			EndTime:    window.End,
			AssignedBy: model.AssignedByManual,
		},
	}
	store.previous = prev

	runner := NewRunner(store, nil)
	schedule, err := runner.Run(context.Background(), &RunRequest{
		TenantID:        tenantID,
		Period:          testPeriod,
		Mode:            ModeReplace,
		OverwriteLocked: true,
		Seed:            seedPtr(11),
	})
	if err != nil {
		t.Fatalf("替换运行失败: %v", err)
	}

	if schedule.Telemetry.PreservedManual != 0 {
		t.Errorf("覆盖锁定时不应保留人工分配，实际 %d", schedule.Telemetry.PreservedManual)
	}
	for _, a := range schedule.Assignments {
		if a.IsManual() {
			t.Fatal("覆盖锁定时新排班不应含人工分配")
		}
	}
}

func TestRunReplaceSupersedesPrevious(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	seedStore(store)

	prev := &model.Schedule{
		BaseModel: model.NewBaseModel(),
		TenantID:  tenantID,
		StartDate: testPeriod.StartDate,
		EndDate:   testPeriod.EndDate,
		Status:    model.StatusDraft,
	}
	store.previous = prev

	runner := NewRunner(store, nil)
	schedule, err := runner.Run(context.Background(), &RunRequest{
		TenantID: tenantID,
		Period:   testPeriod,
		Mode:     ModeReplace,
		Seed:     seedPtr(5),
	})
	if err != nil {
		t.Fatalf("替换运行失败: %v", err)
	}

	// 被替换排班应在同一事务内删除，不留重复草稿
	if len(store.replaced) != 1 || store.replaced[0] != prev.ID {
		t.Fatalf("应替换既有排班 %s，实际 %v", prev.ID, store.replaced)
	}
	if len(store.saved) != 1 {
		t.Fatalf("应持久化 1 次，实际 %d", len(store.saved))
	}
	if schedule.ID == prev.ID {
		t.Error("新排班应有独立 ID")
	}
}

func TestRunReplaceExplicitScheduleID(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	seedStore(store)

	prev := &model.Schedule{
		BaseModel: model.NewBaseModel(),
		TenantID:  tenantID,
		StartDate: testPeriod.StartDate,
		EndDate:   testPeriod.EndDate,
		Status:    model.StatusDraft,
	}
	store.previous = prev

	runner := NewRunner(store, nil)
	_, err := runner.Run(context.Background(), &RunRequest{
		TenantID:           tenantID,
		Period:             testPeriod,
		Mode:               ModeReplace,
		ExistingScheduleID: &prev.ID,
		Seed:               seedPtr(5),
	})
	if err != nil {
		t.Fatalf("替换运行失败: %v", err)
	}
	if len(store.replaced) != 1 || store.replaced[0] != prev.ID {
		t.Fatalf("应替换指定排班 %s，实际 %v", prev.ID, store.replaced)
	}

	// 指定不存在的排班应报错
	missing := uuid.New()
	_, err = runner.Run(context.Background(), &RunRequest{
		TenantID:           tenantID,
		Period:             testPeriod,
		Mode:               ModeReplace,
		ExistingScheduleID: &missing,
		Seed:               seedPtr(5),
	})
	if err == nil {
		t.Fatal("指定不存在的被替换排班应失败")
	}
	if !errors.Is(err, errors.CodeNotFound) {
		t.Errorf("期望 NOT_FOUND，实际 %s", errors.GetCode(err))
	}
}

func TestRunEmitsAuditEvent(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	recorder := &memAudit{}
	runner := NewRunner(store, nil).WithAudit(recorder)

	schedule, err := runner.Run(context.Background(), &RunRequest{
		TenantID: uuid.New(),
		Period:   testPeriod,
		Seed:     seedPtr(8),
	})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	if len(recorder.events) != 1 {
		t.Fatalf("应记录 1 条审计事件，实际 %d", len(recorder.events))
	}
	ev := recorder.events[0]
	if ev.Action != audit.ActionRunCreated {
		t.Errorf("审计动作期望 %s，实际 %s", audit.ActionRunCreated, ev.Action)
	}
	if ev.EntityID != schedule.ID {
		t.Error("审计事件应指向新排班")
	}

	// 替换运行记录替换动作
	store.previous = schedule
	_, err = runner.Run(context.Background(), &RunRequest{
		TenantID: schedule.TenantID,
		Period:   testPeriod,
		Mode:     ModeReplace,
		Seed:     seedPtr(8),
	})
	if err != nil {
		t.Fatalf("替换运行失败: %v", err)
	}
	last := recorder.events[len(recorder.events)-1]
	if last.Action != audit.ActionRunReplaced {
		t.Errorf("审计动作期望 %s，实际 %s", audit.ActionRunReplaced, last.Action)
	}
	if last.Details["replaced_schedule_id"] != schedule.ID.String() {
		t.Error("替换审计事件应携带被替换排班 ID")
	}
}

func TestRunDecayOverride(t *testing.T) {
	empA := uuid.New()
	run := func(decay *float64) map[string]float64 {
		store := newFakeStore()
		seedStore(store)
		store.priors = []fairness.PriorRun{
			{Counts: map[uuid.UUID]int{empA: 4}},
			{Counts: map[uuid.UUID]int{empA: 4}},
		}
		runner := NewRunner(store, nil)
		schedule, err := runner.Run(context.Background(), &RunRequest{
			TenantID: uuid.New(),
			Period:   testPeriod,
			Seed:     seedPtr(13),
			Decay:    decay,
		})
		if err != nil {
			t.Fatalf("运行失败: %v", err)
		}
		return schedule.Telemetry.FairnessCounts
	}

	// 默认系数 1：历史计数平坦累加 4+4=8
	flat := run(nil)
	if got := flat[empA.String()]; got != 8 {
		t.Errorf("默认系数基线期望 8，实际 %v", got)
	}

	// 覆盖系数 0.5：4*0.5 + 4*0.25 = 3
	half := 0.5
	decayed := run(&half)
	if got := decayed[empA.String()]; got != 3 {
		t.Errorf("覆盖系数基线期望 3，实际 %v", got)
	}
}

func TestReevaluateDefaultRuleSetFallsBack(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	runner := NewRunner(store, nil)

	// 未指定规则集：运行使用内置默认，该规则集不入库
	schedule, err := runner.Run(context.Background(), &RunRequest{
		TenantID: uuid.New(),
		Period:   testPeriod,
		Seed:     seedPtr(17),
	})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	// 重评不应因规则集查不到而中断
	result, err := runner.Reevaluate(context.Background(), schedule)
	if err != nil {
		t.Fatalf("默认规则集排班重评失败: %v", err)
	}
	if !result.IsValid {
		t.Errorf("未改动的排班重评应有效: %+v", result.HardViolations)
	}
}

func TestRunConcurrentSamePeriodConflicts(t *testing.T) {
	// 持久化期间第二次运行应被拒绝
	tenantID := uuid.New()
	store := newFakeStore()
	seedStore(store)
	runner := NewRunner(store, nil)

	key := lockKey(tenantID, testPeriod)
	if err := runner.acquire(key); err != nil {
		t.Fatalf("首次加锁失败: %v", err)
	}

	_, err := runner.Run(context.Background(), &RunRequest{
		TenantID: tenantID,
		Period:   testPeriod,
		Seed:     seedPtr(1),
	})
	if err == nil {
		t.Fatal("锁占用期间运行应失败")
	}
	if !errors.Is(err, errors.CodeScheduleConflict) {
		t.Errorf("期望 SCHEDULE_CONFLICT，实际 %s", errors.GetCode(err))
	}

	runner.release(key)
	if _, err := runner.Run(context.Background(), &RunRequest{
		TenantID: tenantID,
		Period:   testPeriod,
		Seed:     seedPtr(1),
	}); err != nil {
		t.Errorf("释放锁后运行应成功: %v", err)
	}
}

func TestRunUnknownAlgorithmFails(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	runner := NewRunner(store, nil)

	_, err := runner.Run(context.Background(), &RunRequest{
		TenantID:  uuid.New(),
		Period:    testPeriod,
		Algorithm: "quantum",
	})
	if err == nil {
		t.Fatal("未知算法应失败")
	}
	if !errors.Is(err, errors.CodeConfigInvalid) {
		t.Errorf("期望 CONFIG_INVALID，实际 %s", errors.GetCode(err))
	}
}

func TestRunInvalidPeriodFails(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	runner := NewRunner(store, nil)

	_, err := runner.Run(context.Background(), &RunRequest{
		TenantID: uuid.New(),
		Period:   model.DateRange{StartDate: "2025-06-08", EndDate: "2025-06-02"},
	})
	if err == nil {
		t.Fatal("倒置周期应失败")
	}
	if !errors.Is(err, errors.CodeInvalidTimeRange) {
		t.Errorf("期望 INVALID_TIME_RANGE，实际 %s", errors.GetCode(err))
	}
}

func TestRunPersistFailureSurfaces(t *testing.T) {
	store := newFakeStore()
	seedStore(store)
	store.saveErr = errors.New(errors.CodeInternal, "磁盘故障")
	runner := NewRunner(store, nil)

	_, err := runner.Run(context.Background(), &RunRequest{
		TenantID: uuid.New(),
		Period:   testPeriod,
		Seed:     seedPtr(1),
	})
	if err == nil {
		t.Fatal("持久化失败应上抛")
	}
	if !errors.Is(err, errors.CodePersistenceFailed) {
		t.Errorf("期望 PERSISTENCE_FAILED，实际 %s", errors.GetCode(err))
	}
}

func TestRunWithPriorCountsBiasesAssignment(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	seedStore(store)
	// 夜班模板替换白班
	store.templates = []*model.ShiftTemplate{{
		BaseModel:       model.NewBaseModel(),
		Name:            "夜班",
		StartTime:       "22:00",
		EndTime:         "06:00",
		Class:           model.ShiftNight,
		CrossesMidnight: true,
		IsActive:        true,
	}}
	// 张三历史夜班远多于他人
	store.priors = []fairness.PriorRun{
		{Counts: map[uuid.UUID]int{store.employees[0].ID: 10}},
	}

	runner := NewRunner(store, nil)
	schedule, err := runner.Run(context.Background(), &RunRequest{
		TenantID: tenantID,
		Period:   testPeriod,
		Seed:     seedPtr(3),
	})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	counts := make(map[uuid.UUID]int)
	for _, a := range schedule.Assignments {
		counts[a.EmployeeID]++
	}
	// 5 个夜班槽位，历史高计数员工分到的应最少
	if counts[store.employees[0].ID] >= counts[store.employees[1].ID] &&
		counts[store.employees[0].ID] >= counts[store.employees[2].ID] {
		t.Errorf("历史高计数员工应少排夜班: %v", counts)
	}
}

func TestReevaluateReflectsAssignments(t *testing.T) {
	tenantID := uuid.New()
	store := newFakeStore()
	seedStore(store)
	runner := NewRunner(store, nil)

	schedule, err := runner.Run(context.Background(), &RunRequest{
		TenantID: tenantID,
		Period:   testPeriod,
		Seed:     seedPtr(21),
	})
	if err != nil {
		t.Fatalf("运行失败: %v", err)
	}

	// 清空分配后重评：覆盖不足应导致无效
	schedule.Assignments = nil
	result, err := runner.Reevaluate(context.Background(), schedule)
	if err != nil {
		t.Fatalf("重评失败: %v", err)
	}
	if result.IsValid {
		t.Error("清空分配后覆盖不足，重评应无效")
	}
	if result.Score >= 100 {
		t.Errorf("重评得分应下降，实际 %v", result.Score)
	}
}

func TestConflictDetector(t *testing.T) {
	empID := uuid.New()
	tpl := &model.ShiftTemplate{
		BaseModel: model.NewBaseModel(),
		StartTime: "09:00",
		EndTime:   "17:00",
		Class:     model.ShiftDay,
		IsActive:  true,
	}
	w1, _ := tpl.ResolveWindow("2025-06-03")
	w2, _ := tpl.ResolveWindow("2025-06-03")

	assignments := []*model.Assignment{
		{BaseModel: model.NewBaseModel(), EmployeeID: empID, TemplateID: tpl.ID, Date: "2025-06-03", StartTime: w1.Start, EndTime: w1.End},
		{BaseModel: model.NewBaseModel(), EmployeeID: empID, TemplateID: tpl.ID, Date: "2025-06-03", StartTime: w2.Start, EndTime: w2.End},
	}

	conflicts := NewConflictDetector(11).Detect(assignments)
	if len(conflicts) != 1 {
		t.Fatalf("期望 1 条重叠冲突，实际 %d", len(conflicts))
	}
	if conflicts[0].Type != ConflictOverlap {
		t.Errorf("冲突类型期望 overlap，实际 %s", conflicts[0].Type)
	}
}
