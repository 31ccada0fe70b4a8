// Package demand 提供人力需求解析
// 将按星期或日期区间配置的需求展开为周期内逐日的具体槽位
package demand

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/model"
)

// Slot 具体需求槽位：某日期某模板需要的人数
type Slot struct {
	Date          string    `json:"date"` // YYYY-MM-DD
	TemplateID    uuid.UUID `json:"template_id"`
	RequiredCount int       `json:"required_count"`
	RequiredRoles []string  `json:"required_roles,omitempty"`
	Synthesized   bool      `json:"synthesized,omitempty"` // 默认兜底策略生成

	priority int // 模板优先级，排序用
	seq      int // 插入顺序，排序稳定性用
}

// Options 解析选项
type Options struct {
	// DisableSynthesis 关闭默认需求合成
	// 默认策略：模板无任何配置需求时，合成工作日（周一至周五）每日 1 人，
	// 避免静默产生零覆盖；显式配置优先的行为通过本开关选择
	DisableSynthesis bool
}

// Resolve 将配置需求展开为周期内的具体槽位
// 展开后槽位为空视为用户配置错误（无模板且无需求），而非求解失败
func Resolve(templates []*model.ShiftTemplate, configured []*model.DemandRequirement, period model.DateRange, opts Options) ([]Slot, error) {
	if !period.Valid() {
		return nil, errors.New(errors.CodeInvalidTimeRange, "排班周期无效")
	}

	byTemplate := make(map[uuid.UUID][]*model.DemandRequirement)
	for _, req := range configured {
		byTemplate[req.TemplateID] = append(byTemplate[req.TemplateID], req)
	}

	var slots []Slot
	seq := 0

	for _, tpl := range templates {
		if !tpl.IsActive {
			continue
		}

		reqs := byTemplate[tpl.ID]
		if len(reqs) == 0 {
			if opts.DisableSynthesis {
				continue
			}
			for _, date := range expandWeekdays(period, defaultWeekdays) {
				slots = append(slots, Slot{
					Date:          date,
					TemplateID:    tpl.ID,
					RequiredCount: 1,
					Synthesized:   true,
					priority:      tpl.Priority,
					seq:           seq,
				})
				seq++
			}
			continue
		}

		for _, req := range reqs {
			for _, date := range expandRequirement(req, period) {
				slots = append(slots, Slot{
					Date:          date,
					TemplateID:    tpl.ID,
					RequiredCount: req.RequiredCount,
					RequiredRoles: req.RequiredRoles,
					priority:      tpl.Priority,
					seq:           seq,
				})
				seq++
			}
		}
	}

	if len(slots) == 0 {
		return nil, errors.ConfigInvalid("周期内未解析出任何需求槽位，请配置班次模板或人力需求")
	}

	// 稳定顺序：日期升序 -> 模板优先级降序 -> 插入顺序
	// 策略按此顺序消费槽位，保证同种子可复现
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Date != slots[j].Date {
			return slots[i].Date < slots[j].Date
		}
		if slots[i].priority != slots[j].priority {
			return slots[i].priority > slots[j].priority
		}
		return slots[i].seq < slots[j].seq
	})

	return slots, nil
}

// expandRequirement 展开单条需求配置
func expandRequirement(req *model.DemandRequirement, period model.DateRange) []string {
	if len(req.Weekdays) > 0 {
		return expandWeekdays(period, req.Weekdays)
	}
	if req.Dates != nil {
		return clipDates(*req.Dates, period)
	}
	// 既无星期也无日期区间：覆盖周期内每一天
	return period.Days()
}

// defaultWeekdays 默认合成需求覆盖的工作日
var defaultWeekdays = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
}

// expandWeekdays 通过 RRULE 将星期配置展开为周期内的具体日期
func expandWeekdays(period model.DateRange, weekdays []time.Weekday) []string {
	start, err1 := time.Parse(model.DateFormat, period.StartDate)
	end, err2 := time.Parse(model.DateFormat, period.EndDate)
	if err1 != nil || err2 != nil {
		return nil
	}

	byDay := make([]rrule.Weekday, 0, len(weekdays))
	for _, wd := range weekdays {
		byDay = append(byDay, toRRuleWeekday(wd))
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.DAILY,
		Dtstart:   start.UTC(),
		Until:     end.UTC(),
		Byweekday: byDay,
	})
	if err != nil {
		return nil
	}

	occurrences := rule.All()
	dates := make([]string, 0, len(occurrences))
	for _, occ := range occurrences {
		dates = append(dates, occ.Format(model.DateFormat))
	}
	return dates
}

// toRRuleWeekday 转换标准库星期到 RRULE 星期
func toRRuleWeekday(wd time.Weekday) rrule.Weekday {
	switch wd {
	case time.Monday:
		return rrule.MO
	case time.Tuesday:
		return rrule.TU
	case time.Wednesday:
		return rrule.WE
	case time.Thursday:
		return rrule.TH
	case time.Friday:
		return rrule.FR
	case time.Saturday:
		return rrule.SA
	default:
		return rrule.SU
	}
}

// clipDates 将日期区间裁剪到周期边界
func clipDates(dates model.DateRange, period model.DateRange) []string {
	clipped := model.DateRange{StartDate: dates.StartDate, EndDate: dates.EndDate}
	if clipped.StartDate < period.StartDate {
		clipped.StartDate = period.StartDate
	}
	if clipped.EndDate > period.EndDate {
		clipped.EndDate = period.EndDate
	}
	if clipped.StartDate > clipped.EndDate {
		return nil
	}
	return clipped.Days()
}

// TotalRequired 返回槽位集合要求的总人次
func TotalRequired(slots []Slot) int {
	total := 0
	for _, s := range slots {
		total += s.RequiredCount
	}
	return total
}
