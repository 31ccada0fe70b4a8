// Package repository 提供数据访问层
package repository

// Store 聚合仓储
// 组合各仓储，同时满足引擎与状态流转对数据访问的全部需求
type Store struct {
	*EmployeeRepository
	*TemplateRepository
	*RuleSetRepository
	*ScheduleRepository
	*TimesheetRepository
}

// NewStore 创建聚合仓储
func NewStore(db TxDB) *Store {
	return &Store{
		EmployeeRepository:  NewEmployeeRepository(db),
		TemplateRepository:  NewTemplateRepository(db),
		RuleSetRepository:   NewRuleSetRepository(db),
		ScheduleRepository:  NewScheduleRepository(db),
		TimesheetRepository: NewTimesheetRepository(db),
	}
}
