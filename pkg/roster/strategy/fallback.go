// Package strategy 提供排班分配策略
package strategy

import (
	"context"

	"github.com/zhiban/zhiban/pkg/errors"
	"github.com/zhiban/zhiban/pkg/logger"
)

// Fallback 兜底装饰器
// 主策略失败时以相同输入与种子降级到兜底策略，降级信息写入产出；
// 兜底策略也失败才对外返回错误
type Fallback struct {
	primary  Strategy
	fallback Strategy
	log      *logger.RosterLogger
}

// NewFallback 创建兜底装饰器
func NewFallback(primary, fallback Strategy) *Fallback {
	return &Fallback{
		primary:  primary,
		fallback: fallback,
		log:      logger.NewRosterLogger(),
	}
}

// Name 返回主策略名称
func (f *Fallback) Name() string {
	return f.primary.Name()
}

// Generate 生成分配方案
func (f *Fallback) Generate(ctx context.Context, input *Input) (*Outcome, error) {
	outcome, err := f.primary.Generate(ctx, input)
	if err == nil {
		return outcome, nil
	}

	reason := err.Error()
	f.log.FallbackTriggered(f.primary.Name(), reason)

	// 策略只在工作副本上运行，原输入可原样重用
	outcome, ferr := f.fallback.Generate(ctx, input)
	if ferr != nil {
		return nil, errors.StrategyFailed(f.fallback.Name(), ferr)
	}

	outcome.FellBack = true
	outcome.FallbackReason = reason
	return outcome, nil
}
