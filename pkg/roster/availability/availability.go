// Package availability 提供可用性归并
// 将员工提交的可用性、请假记录与节假日投影为运行期间统一的查询索引
package availability

import (
	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/model"
)

// dayKey 索引键：员工 + 日期
type dayKey struct {
	employeeID uuid.UUID
	date       string
}

// dayState 单员工单日的归并结果
// 优先级：禁排 > 钉选 > 偏好；禁排一经置位不可被后续记录覆盖
type dayState struct {
	forbidden       bool
	forbiddenReason string
	pinned          []*model.AvailabilityRecord
	preferred       []*model.AvailabilityRecord
	unavailable     []*model.AvailabilityRecord // 带时间窗的部分不可用
}

// Index 可用性索引
// 构建后只读，可被多个策略并发查询
type Index struct {
	days map[dayKey]*dayState
}

// Resolve 归并可用性来源为查询索引
// 请假按天展开为全天禁排；节假日对全体员工禁排；均裁剪到周期边界
func Resolve(employees []*model.Employee, submitted []*model.AvailabilityRecord, leaves []*model.LeaveRecord, holidays []*model.Holiday, period model.DateRange) *Index {
	idx := &Index{days: make(map[dayKey]*dayState)}

	for _, rec := range submitted {
		if !period.ContainsDate(rec.Date) {
			continue
		}
		idx.apply(rec)
	}

	for _, leave := range leaves {
		span := model.DateRange{StartDate: leave.StartDate, EndDate: leave.EndDate}
		for _, date := range span.Days() {
			if !period.ContainsDate(date) {
				continue
			}
			idx.apply(&model.AvailabilityRecord{
				EmployeeID: leave.EmployeeID,
				Date:       date,
				Type:       model.AvailabilityUnavailable,
				Forbidden:  true,
				Source:     model.SourceLeave,
				Reason:     leave.Reason,
			})
		}
	}

	for _, holiday := range holidays {
		if !period.ContainsDate(holiday.Date) {
			continue
		}
		for _, emp := range employees {
			idx.apply(&model.AvailabilityRecord{
				EmployeeID: emp.ID,
				Date:       holiday.Date,
				Type:       model.AvailabilityUnavailable,
				Forbidden:  true,
				Source:     model.SourceHoliday,
				Reason:     holiday.Name,
			})
		}
	}

	return idx
}

// apply 合并一条记录到索引
func (idx *Index) apply(rec *model.AvailabilityRecord) {
	key := dayKey{employeeID: rec.EmployeeID, date: rec.Date}
	state := idx.days[key]
	if state == nil {
		state = &dayState{}
		idx.days[key] = state
	}

	if rec.Forbidden || (rec.Type == model.AvailabilityUnavailable && rec.Window == nil) {
		// 全天禁排优先于一切
		state.forbidden = true
		if state.forbiddenReason == "" {
			state.forbiddenReason = rec.Reason
		}
		return
	}

	switch rec.Type {
	case model.AvailabilityUnavailable:
		state.unavailable = append(state.unavailable, rec)
	case model.AvailabilityPreferred:
		if rec.Pinned {
			state.pinned = append(state.pinned, rec)
		} else {
			state.preferred = append(state.preferred, rec)
		}
	default:
		if rec.Pinned {
			state.pinned = append(state.pinned, rec)
		}
	}
}

// IsForbidden 检查员工某日是否全天禁排
func (idx *Index) IsForbidden(employeeID uuid.UUID, date string) (bool, string) {
	if state, ok := idx.days[dayKey{employeeID: employeeID, date: date}]; ok && state.forbidden {
		return true, state.forbiddenReason
	}
	return false, ""
}

// CanWork 检查员工某日某时间窗是否可排
// 全天禁排直接否决；带时间窗的不可用记录与班次窗口重叠时否决
func (idx *Index) CanWork(employeeID uuid.UUID, date string, window model.TimeRange) bool {
	state, ok := idx.days[dayKey{employeeID: employeeID, date: date}]
	if !ok {
		return true
	}
	if state.forbidden {
		return false
	}
	for _, rec := range state.unavailable {
		if rec.Window != nil && rec.Window.Overlaps(window) {
			return false
		}
	}
	return true
}

// IsPinned 检查员工某日是否钉选了指定模板
// 记录未绑定模板时视为钉选当日任意班次
func (idx *Index) IsPinned(employeeID uuid.UUID, date string, templateID uuid.UUID) bool {
	state, ok := idx.days[dayKey{employeeID: employeeID, date: date}]
	if !ok || state.forbidden {
		return false
	}
	for _, rec := range state.pinned {
		if rec.TemplateID == nil || *rec.TemplateID == templateID {
			return true
		}
	}
	return false
}

// IsPreferred 检查员工某日是否偏好指定模板
func (idx *Index) IsPreferred(employeeID uuid.UUID, date string, templateID uuid.UUID) bool {
	state, ok := idx.days[dayKey{employeeID: employeeID, date: date}]
	if !ok || state.forbidden {
		return false
	}
	for _, rec := range state.preferred {
		if rec.TemplateID == nil || *rec.TemplateID == templateID {
			return true
		}
	}
	return false
}

// PinnedEmployees 返回某日钉选了指定模板的员工（顺序不保证，调用方需自行排序）
func (idx *Index) PinnedEmployees(date string, templateID uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for key, state := range idx.days {
		if key.date != date || state.forbidden {
			continue
		}
		for _, rec := range state.pinned {
			if rec.TemplateID == nil || *rec.TemplateID == templateID {
				out = append(out, key.employeeID)
				break
			}
		}
	}
	return out
}

// ForbiddenDays 返回员工在周期内的禁排日数
func (idx *Index) ForbiddenDays(employeeID uuid.UUID) int {
	count := 0
	for key, state := range idx.days {
		if key.employeeID == employeeID && state.forbidden {
			count++
		}
	}
	return count
}
