package rule

import (
	"testing"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/availability"
	"github.com/zhiban/zhiban/pkg/roster/demand"
)

var period = model.DateRange{StartDate: "2025-06-02", EndDate: "2025-06-08"}

func newEmployee(name string) *model.Employee {
	return &model.Employee{
		BaseModel: model.NewBaseModel(),
		Name:      name,
		Status:    "active",
	}
}

func newTemplate(name, start, end string, class model.ShiftClass) *model.ShiftTemplate {
	crosses := end <= start
	return &model.ShiftTemplate{
		BaseModel:       model.NewBaseModel(),
		Name:            name,
		StartTime:       start,
		EndTime:         end,
		Class:           class,
		CrossesMidnight: crosses,
		IsActive:        true,
	}
}

func newAssignment(t *testing.T, emp *model.Employee, tpl *model.ShiftTemplate, date string) *model.Assignment {
	t.Helper()
	window, err := tpl.ResolveWindow(date)
	if err != nil {
		t.Fatalf("解析班次窗口失败: %v", err)
	}
	return &model.Assignment{
		BaseModel:  model.NewBaseModel(),
		EmployeeID: emp.ID,
		TemplateID: tpl.ID,
		Date:       date,
		StartTime:  window.Start,
		EndTime:    window.End,
		AssignedBy: model.AssignedByAlgorithm,
	}
}

func newContext(employees []*model.Employee, templates []*model.ShiftTemplate) *Context {
	ctx := NewContext(uuid.New(), period)
	ctx.SetEmployees(employees)
	ctx.SetTemplates(templates)
	return ctx
}

func TestNoOverlapRule(t *testing.T) {
	emp := newEmployee("张三")
	day := newTemplate("白班", "09:00", "17:00", model.ShiftDay)
	overlapping := newTemplate("中班", "15:00", "23:00", model.ShiftEvening)

	ctx := newContext([]*model.Employee{emp}, []*model.ShiftTemplate{day, overlapping})
	ctx.AddAssignment(newAssignment(t, emp, day, "2025-06-03"))

	r := NewNoOverlapRule(model.RuleDef{})

	candidate := newAssignment(t, emp, overlapping, "2025-06-03")
	if ok, _ := r.EvaluateCandidate(ctx, candidate); ok {
		t.Error("重叠候选应被否决")
	}

	ctx.AddAssignment(candidate)
	violations := r.Evaluate(ctx)
	if len(violations) != 1 {
		t.Fatalf("期望 1 条重叠违反，实际 %d", len(violations))
	}
	if violations[0].RuleID != model.RuleNoOverlap {
		t.Errorf("违反规则标识错误: %s", violations[0].RuleID)
	}
}

func TestNoOverlapRuleCrossMidnight(t *testing.T) {
	emp := newEmployee("张三")
	night := newTemplate("夜班", "22:00", "06:00", model.ShiftNight)
	day := newTemplate("白班", "05:00", "13:00", model.ShiftDay)

	ctx := newContext([]*model.Employee{emp}, []*model.ShiftTemplate{night, day})
	ctx.AddAssignment(newAssignment(t, emp, night, "2025-06-03"))

	r := NewNoOverlapRule(model.RuleDef{})

	// 夜班到次日 06:00，次日 05:00 开始的白班与之重叠
	candidate := newAssignment(t, emp, day, "2025-06-04")
	if ok, _ := r.EvaluateCandidate(ctx, candidate); ok {
		t.Error("跨零点重叠候选应被否决")
	}
}

func TestCoverageRule(t *testing.T) {
	emp := newEmployee("张三")
	tpl := newTemplate("白班", "09:00", "17:00", model.ShiftDay)

	ctx := newContext([]*model.Employee{emp}, []*model.ShiftTemplate{tpl})
	ctx.Slots = []demand.Slot{
		{Date: "2025-06-03", TemplateID: tpl.ID, RequiredCount: 2},
	}
	ctx.AddAssignment(newAssignment(t, emp, tpl, "2025-06-03"))

	r := NewCoverageRule(model.RuleDef{Kind: model.RuleHard})
	violations := r.Evaluate(ctx)
	if len(violations) != 1 {
		t.Fatalf("欠配槽位应产生 1 条违反，实际 %d", len(violations))
	}
	if violations[0].EmployeeID != nil {
		t.Error("覆盖违反不应归属具体员工")
	}
}

func TestCoverageRuleSoftPenaltyScalesWithShortfall(t *testing.T) {
	tpl := newTemplate("白班", "09:00", "17:00", model.ShiftDay)
	ctx := newContext(nil, []*model.ShiftTemplate{tpl})
	ctx.Slots = []demand.Slot{
		{Date: "2025-06-03", TemplateID: tpl.ID, RequiredCount: 3},
	}

	r := NewCoverageRule(model.RuleDef{Kind: model.RuleSoft, Weight: 2})
	violations := r.Evaluate(ctx)
	if len(violations) != 1 {
		t.Fatalf("期望 1 条违反，实际 %d", len(violations))
	}
	if violations[0].Penalty != 6 {
		t.Errorf("软性欠配惩罚应为权重×缺口（2×3），实际 %v", violations[0].Penalty)
	}
}

func TestMinRestRule(t *testing.T) {
	emp := newEmployee("张三")
	evening := newTemplate("晚班", "14:00", "22:00", model.ShiftEvening)
	morning := newTemplate("早班", "06:00", "14:00", model.ShiftDay)

	ctx := newContext([]*model.Employee{emp}, []*model.ShiftTemplate{evening, morning})
	ctx.AddAssignment(newAssignment(t, emp, evening, "2025-06-03"))

	r := NewMinRestRule(model.RuleDef{Params: model.JSONMap{"hours": 11}})

	// 22:00 下班，次日 06:00 上班，仅休息 8 小时
	candidate := newAssignment(t, emp, morning, "2025-06-04")
	if ok, _ := r.EvaluateCandidate(ctx, candidate); ok {
		t.Error("休息不足的候选应被否决")
	}

	// 次日 14:00 上班则休息 16 小时，可行
	okCandidate := newAssignment(t, emp, evening, "2025-06-04")
	if ok, _ := r.EvaluateCandidate(ctx, okCandidate); !ok {
		t.Error("休息充足的候选应可行")
	}

	ctx.AddAssignment(candidate)
	violations := r.Evaluate(ctx)
	if len(violations) != 1 {
		t.Fatalf("期望 1 条休息不足违反，实际 %d", len(violations))
	}
}

func TestWeeklyHourCapRule(t *testing.T) {
	emp := newEmployee("张三")
	tpl := newTemplate("白班", "09:00", "17:00", model.ShiftDay) // 8 小时

	ctx := newContext([]*model.Employee{emp}, []*model.ShiftTemplate{tpl})
	// 同一 ISO 周内排满 5 天 = 40 小时
	for _, date := range []string{"2025-06-02", "2025-06-03", "2025-06-04", "2025-06-05", "2025-06-06"} {
		ctx.AddAssignment(newAssignment(t, emp, tpl, date))
	}

	r := NewWeeklyHourCapRule(model.RuleDef{Params: model.JSONMap{"hours": 40}})

	if violations := r.Evaluate(ctx); len(violations) != 0 {
		t.Errorf("恰好 40 小时不应违反，实际 %d 条", len(violations))
	}

	// 再加周六一班将超限
	candidate := newAssignment(t, emp, tpl, "2025-06-07")
	if ok, _ := r.EvaluateCandidate(ctx, candidate); ok {
		t.Error("超过周工时上限的候选应被否决")
	}

	ctx.AddAssignment(candidate)
	if violations := r.Evaluate(ctx); len(violations) != 1 {
		t.Errorf("超限后期望 1 条违反，实际 %d", len(violations))
	}
}

func TestBlackoutRule(t *testing.T) {
	emp := newEmployee("张三")
	tpl := newTemplate("白班", "09:00", "17:00", model.ShiftDay)

	leaves := []*model.LeaveRecord{
		{EmployeeID: emp.ID, StartDate: "2025-06-04", EndDate: "2025-06-04", Reason: "病假"},
	}
	idx := availability.Resolve([]*model.Employee{emp}, nil, leaves, nil, period)

	ctx := newContext([]*model.Employee{emp}, []*model.ShiftTemplate{tpl})
	ctx.Availability = idx

	r := NewBlackoutRule(model.RuleDef{})

	candidate := newAssignment(t, emp, tpl, "2025-06-04")
	if ok, _ := r.EvaluateCandidate(ctx, candidate); ok {
		t.Error("请假日候选应被否决")
	}

	ctx.AddAssignment(candidate)
	violations := r.Evaluate(ctx)
	if len(violations) != 1 {
		t.Fatalf("期望 1 条禁排违反，实际 %d", len(violations))
	}

	ok := newAssignment(t, emp, tpl, "2025-06-05")
	if valid, _ := r.EvaluateCandidate(ctx, ok); !valid {
		t.Error("非请假日候选应可行")
	}
}

func TestPinnedHonoredRule(t *testing.T) {
	emp := newEmployee("张三")
	tpl := newTemplate("白班", "09:00", "17:00", model.ShiftDay)

	submitted := []*model.AvailabilityRecord{
		{EmployeeID: emp.ID, Date: "2025-06-03", Type: model.AvailabilityPreferred, Pinned: true, TemplateID: &tpl.ID},
	}
	idx := availability.Resolve([]*model.Employee{emp}, submitted, nil, nil, period)

	ctx := newContext([]*model.Employee{emp}, []*model.ShiftTemplate{tpl})
	ctx.Availability = idx
	ctx.Slots = []demand.Slot{
		{Date: "2025-06-03", TemplateID: tpl.ID, RequiredCount: 1},
	}

	r := NewPinnedHonoredRule(model.RuleDef{Weight: 5})

	violations := r.Evaluate(ctx)
	if len(violations) != 1 {
		t.Fatalf("未满足的钉选应产生 1 条违反，实际 %d", len(violations))
	}
	if violations[0].Penalty != 5 {
		t.Errorf("软违反惩罚应为权重 5，实际 %v", violations[0].Penalty)
	}

	ctx.AddAssignment(newAssignment(t, emp, tpl, "2025-06-03"))
	if violations := r.Evaluate(ctx); len(violations) != 0 {
		t.Errorf("钉选满足后不应有违反，实际 %d 条", len(violations))
	}
}

func TestFairnessSpreadRule(t *testing.T) {
	empA := newEmployee("张三")
	empB := newEmployee("李四")
	night := newTemplate("夜班", "22:00", "06:00", model.ShiftNight)

	ctx := newContext([]*model.Employee{empA, empB}, []*model.ShiftTemplate{night})
	// empA 3 个夜班，empB 0 个
	for _, date := range []string{"2025-06-02", "2025-06-04", "2025-06-06"} {
		ctx.AddAssignment(newAssignment(t, empA, night, date))
	}

	r := NewFairnessSpreadRule(model.RuleDef{Weight: 3, Params: model.JSONMap{"max_delta": 1}}, model.ShiftNight, nil)

	violations := r.Evaluate(ctx)
	if len(violations) != 1 {
		t.Fatalf("计数差 3 超过阈值 1 应产生违反，实际 %d 条", len(violations))
	}
	// 惩罚 = 权重 × (差值 - 阈值) = 3 × 2
	if violations[0].Penalty != 6 {
		t.Errorf("惩罚期望 6，实际 %v", violations[0].Penalty)
	}

	// 候选惩罚引导分摊：empA 计数高，惩罚应高于 empB
	candA := newAssignment(t, empA, night, "2025-06-07")
	candB := newAssignment(t, empB, night, "2025-06-07")
	_, penA := r.EvaluateCandidate(ctx, candA)
	_, penB := r.EvaluateCandidate(ctx, candB)
	if penA <= penB {
		t.Errorf("高计数候选惩罚应更高: %v vs %v", penA, penB)
	}
}

func TestFairnessSpreadRuleWithBaseline(t *testing.T) {
	empA := newEmployee("张三")
	empB := newEmployee("李四")
	night := newTemplate("夜班", "22:00", "06:00", model.ShiftNight)

	baseline := map[uuid.UUID]float64{empA.ID: 4}
	ctx := newContext([]*model.Employee{empA, empB}, []*model.ShiftTemplate{night})

	r := NewFairnessSpreadRule(model.RuleDef{Weight: 3, Params: model.JSONMap{"max_delta": 1}}, model.ShiftNight, baseline)

	// 当次无分配，但历史计数差 4 已超阈值
	violations := r.Evaluate(ctx)
	if len(violations) != 1 {
		t.Fatalf("历史计数差应计入离散度，实际 %d 条违反", len(violations))
	}
}

func TestSortedByStartStable(t *testing.T) {
	emp := newEmployee("张三")
	tpl := newTemplate("白班", "09:00", "17:00", model.ShiftDay)

	var assignments []*model.Assignment
	for _, date := range []string{"2025-06-05", "2025-06-02", "2025-06-04"} {
		a := &model.Assignment{BaseModel: model.NewBaseModel(), EmployeeID: emp.ID, TemplateID: tpl.ID, Date: date}
		window, _ := tpl.ResolveWindow(date)
		a.StartTime, a.EndTime = window.Start, window.End
		assignments = append(assignments, a)
	}

	sorted := sortedByStart(assignments)
	for i := 0; i+1 < len(sorted); i++ {
		if sorted[i].StartTime.After(sorted[i+1].StartTime) {
			t.Fatal("排序结果应按开始时间升序")
		}
	}
	if sorted[0].Date != "2025-06-02" {
		t.Errorf("首个分配日期期望 2025-06-02，实际 %s", sorted[0].Date)
	}
}
