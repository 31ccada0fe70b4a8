// Package engine 提供排班运行编排
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zhiban/zhiban/pkg/model"
)

// 冲突类型
const (
	ConflictOverlap = "overlap"
	ConflictRest    = "rest"
)

// ConflictDetector 分配冲突检测器
// 规则评估已在生成阶段拦截冲突，这里对最终分配集做独立复核，
// 结果仅写入遥测，不影响排班有效性判定
type ConflictDetector struct {
	minRestHours int
}

// NewConflictDetector 创建冲突检测器
func NewConflictDetector(minRestHours int) *ConflictDetector {
	if minRestHours <= 0 {
		minRestHours = 11
	}
	return &ConflictDetector{minRestHours: minRestHours}
}

// Detect 检测分配集中的时间冲突
func (d *ConflictDetector) Detect(assignments []*model.Assignment) []model.AssignmentConflict {
	byEmp := make(map[uuid.UUID][]*model.Assignment)
	for _, a := range assignments {
		byEmp[a.EmployeeID] = append(byEmp[a.EmployeeID], a)
	}

	empIDs := make([]uuid.UUID, 0, len(byEmp))
	for id := range byEmp {
		empIDs = append(empIDs, id)
	}
	sort.Slice(empIDs, func(i, j int) bool { return empIDs[i].String() < empIDs[j].String() })

	minGap := time.Duration(d.minRestHours) * time.Hour
	var conflicts []model.AssignmentConflict

	for _, empID := range empIDs {
		list := byEmp[empID]
		sort.Slice(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })

		for i := 0; i+1 < len(list); i++ {
			cur, next := list[i], list[i+1]
			if cur.OverlapsWith(next) {
				conflicts = append(conflicts, model.AssignmentConflict{
					Type:       ConflictOverlap,
					EmployeeID: empID,
					Date:       cur.Date,
					Message:    fmt.Sprintf("%s 与 %s 的班次时间重叠", cur.Date, next.Date),
				})
				continue
			}
			if gap := next.StartTime.Sub(cur.EndTime); gap < minGap {
				conflicts = append(conflicts, model.AssignmentConflict{
					Type:       ConflictRest,
					EmployeeID: empID,
					Date:       next.Date,
					Message:    fmt.Sprintf("%s 后休息 %.1f 小时，不足 %d 小时", cur.Date, gap.Hours(), d.minRestHours),
				})
			}
		}
	}

	return conflicts
}
