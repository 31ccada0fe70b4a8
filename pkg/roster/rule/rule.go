// Package rule 定义排班规则接口与评估器
package rule

import (
	"time"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/model"
	"github.com/zhiban/zhiban/pkg/roster/availability"
	"github.com/zhiban/zhiban/pkg/roster/demand"
)

// Rule 排班规则接口
type Rule interface {
	// ID 返回规则标识
	ID() string

	// Name 返回规则显示名称
	Name() string

	// Kind 返回规则类别
	Kind() model.RuleKind

	// Weight 返回软规则权重（硬规则忽略）
	Weight() float64

	// Evaluate 评估整个分配集，返回违反详情
	Evaluate(ctx *Context) []model.Violation

	// EvaluateCandidate 评估追加单个候选分配
	// 返回：是否可行（硬规则）、惩罚值（软规则）
	EvaluateCandidate(ctx *Context, candidate *model.Assignment) (ok bool, penalty float64)
}

// Context 评估上下文
// 承载一次运行的全部输入与当前分配集，索引缓存随分配变更维护
type Context struct {
	TenantID     uuid.UUID
	Period       model.DateRange
	Employees    []*model.Employee
	Templates    []*model.ShiftTemplate
	Slots        []demand.Slot
	Availability *availability.Index

	Assignments []*model.Assignment

	employeeMap       map[uuid.UUID]*model.Employee
	templateMap       map[uuid.UUID]*model.ShiftTemplate
	assignmentsByEmp  map[uuid.UUID][]*model.Assignment
	assignmentsByDate map[string][]*model.Assignment
}

// NewContext 创建评估上下文
func NewContext(tenantID uuid.UUID, period model.DateRange) *Context {
	return &Context{
		TenantID:          tenantID,
		Period:            period,
		employeeMap:       make(map[uuid.UUID]*model.Employee),
		templateMap:       make(map[uuid.UUID]*model.ShiftTemplate),
		assignmentsByEmp:  make(map[uuid.UUID][]*model.Assignment),
		assignmentsByDate: make(map[string][]*model.Assignment),
	}
}

// SetEmployees 设置员工列表
func (c *Context) SetEmployees(employees []*model.Employee) {
	c.Employees = employees
	c.employeeMap = make(map[uuid.UUID]*model.Employee, len(employees))
	for _, e := range employees {
		c.employeeMap[e.ID] = e
	}
}

// SetTemplates 设置班次模板列表
func (c *Context) SetTemplates(templates []*model.ShiftTemplate) {
	c.Templates = templates
	c.templateMap = make(map[uuid.UUID]*model.ShiftTemplate, len(templates))
	for _, t := range templates {
		c.templateMap[t.ID] = t
	}
}

// SetAssignments 设置分配集并重建索引
func (c *Context) SetAssignments(assignments []*model.Assignment) {
	c.Assignments = assignments
	c.rebuildIndexes()
}

// AddAssignment 追加分配
func (c *Context) AddAssignment(a *model.Assignment) {
	c.Assignments = append(c.Assignments, a)
	c.assignmentsByEmp[a.EmployeeID] = append(c.assignmentsByEmp[a.EmployeeID], a)
	c.assignmentsByDate[a.Date] = append(c.assignmentsByDate[a.Date], a)
}

// RemoveAssignment 移除分配
func (c *Context) RemoveAssignment(id uuid.UUID) {
	for i, a := range c.Assignments {
		if a.ID == id {
			c.Assignments = append(c.Assignments[:i], c.Assignments[i+1:]...)
			break
		}
	}
	c.rebuildIndexes()
}

// rebuildIndexes 重建分配索引
func (c *Context) rebuildIndexes() {
	c.assignmentsByEmp = make(map[uuid.UUID][]*model.Assignment)
	c.assignmentsByDate = make(map[string][]*model.Assignment)
	for _, a := range c.Assignments {
		c.assignmentsByEmp[a.EmployeeID] = append(c.assignmentsByEmp[a.EmployeeID], a)
		c.assignmentsByDate[a.Date] = append(c.assignmentsByDate[a.Date], a)
	}
}

// GetEmployee 获取员工
func (c *Context) GetEmployee(id uuid.UUID) *model.Employee {
	return c.employeeMap[id]
}

// GetTemplate 获取班次模板
func (c *Context) GetTemplate(id uuid.UUID) *model.ShiftTemplate {
	return c.templateMap[id]
}

// GetEmployeeAssignments 获取员工的全部分配
func (c *Context) GetEmployeeAssignments(empID uuid.UUID) []*model.Assignment {
	return c.assignmentsByEmp[empID]
}

// GetDateAssignments 获取某日期的全部分配
func (c *Context) GetDateAssignments(date string) []*model.Assignment {
	return c.assignmentsByDate[date]
}

// GetEmployeeWeekHours 获取员工在某 ISO 周内的工作时长
func (c *Context) GetEmployeeWeekHours(empID uuid.UUID, year, week int) float64 {
	var hours float64
	for _, a := range c.assignmentsByEmp[empID] {
		y, w := isoWeekOf(a.Date)
		if y == year && w == week {
			hours += a.WorkingHours()
		}
	}
	return hours
}

// SlotAssignedCount 统计某需求槽位已分配人数
func (c *Context) SlotAssignedCount(date string, templateID uuid.UUID) int {
	count := 0
	for _, a := range c.assignmentsByDate[date] {
		if a.TemplateID == templateID {
			count++
		}
	}
	return count
}

// isoWeekOf 返回日期所属的 ISO 年与周
func isoWeekOf(date string) (int, int) {
	t, err := time.Parse(model.DateFormat, date)
	if err != nil {
		return 0, 0
	}
	return t.ISOWeek()
}
