// Package logger 提供统一的日志框架
package logger

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Level 日志级别
type Level = zerolog.Level

const (
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // json/console
	Output     string `yaml:"output" json:"output"` // stdout/stderr/file
	FilePath   string `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	TimeFormat string `yaml:"time_format,omitempty" json:"time_format,omitempty"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		Output:     "stdout",
		TimeFormat: time.RFC3339,
	}
}

// Init 初始化日志器
func Init(cfg Config) {
	once.Do(func() {
		level := parseLevel(cfg.Level)
		zerolog.SetGlobalLevel(level)

		var output io.Writer
		switch cfg.Output {
		case "stderr":
			output = os.Stderr
		case "file":
			if cfg.FilePath != "" {
				f, err := os.OpenFile(cfg.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
				if err == nil {
					output = f
				} else {
					output = os.Stdout
				}
			} else {
				output = os.Stdout
			}
		default:
			output = os.Stdout
		}

		if cfg.Format == "console" {
			output = zerolog.ConsoleWriter{
				Out:        output,
				TimeFormat: cfg.TimeFormat,
			}
		}

		logger = zerolog.New(output).With().Timestamp().Logger()
	})
}

// parseLevel 解析日志级别
func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Get 获取日志器
func Get() *zerolog.Logger {
	if logger.GetLevel() == zerolog.Disabled {
		Init(DefaultConfig())
	}
	return &logger
}

// WithContext 从上下文创建日志器
func WithContext(ctx context.Context) *zerolog.Logger {
	l := Get().With().Logger()

	// 添加请求ID
	if reqID, ok := ctx.Value("request_id").(string); ok {
		l = l.With().Str("request_id", reqID).Logger()
	}

	// 添加租户ID
	if tenantID, ok := ctx.Value("tenant_id").(string); ok {
		l = l.With().Str("tenant_id", tenantID).Logger()
	}

	return &l
}

// Debug 记录调试日志
func Debug() *zerolog.Event {
	return Get().Debug()
}

// Info 记录信息日志
func Info() *zerolog.Event {
	return Get().Info()
}

// Warn 记录警告日志
func Warn() *zerolog.Event {
	return Get().Warn()
}

// Error 记录错误日志
func Error() *zerolog.Event {
	return Get().Error()
}

// Fatal 记录致命错误日志
func Fatal() *zerolog.Event {
	return Get().Fatal()
}

// WithError 添加错误信息
func WithError(err error) *zerolog.Event {
	return Get().Error().Err(err)
}

// WithField 添加字段
func WithField(key string, value interface{}) *zerolog.Logger {
	l := Get().With().Interface(key, value).Logger()
	return &l
}

// RosterLogger 排班引擎专用日志器
type RosterLogger struct {
	base *zerolog.Logger
}

// NewRosterLogger 创建排班引擎日志器
func NewRosterLogger() *RosterLogger {
	l := Get().With().Str("component", "roster").Logger()
	return &RosterLogger{base: &l}
}

// RunStarted 记录排班运行开始
func (l *RosterLogger) RunStarted(tenantID string, employees, slots int, seed int64) {
	l.base.Info().
		Str("tenant_id", tenantID).
		Int("employees", employees).
		Int("slots", slots).
		Int64("seed", seed).
		Msg("开始生成排班")
}

// RunCompleted 记录排班运行完成
func (l *RosterLogger) RunCompleted(scheduleID string, duration time.Duration, score float64, unfilled int) {
	l.base.Info().
		Str("schedule_id", scheduleID).
		Dur("duration", duration).
		Float64("score", score).
		Int("unfilled", unfilled).
		Msg("排班生成完成")
}

// RuleViolation 记录规则违反
func (l *RosterLogger) RuleViolation(ruleID, details string) {
	l.base.Warn().
		Str("rule", ruleID).
		Str("details", details).
		Msg("规则违反")
}

// SlotUnfilled 记录未能满足的需求槽位
func (l *RosterLogger) SlotUnfilled(date, templateID, reason string) {
	l.base.Warn().
		Str("date", date).
		Str("template_id", templateID).
		Str("reason", reason).
		Msg("需求槽位未填满")
}

// FallbackTriggered 记录求解器降级
func (l *RosterLogger) FallbackTriggered(primary, reason string) {
	l.base.Warn().
		Str("primary", primary).
		Str("reason", reason).
		Msg("求解器失败，降级为贪心策略")
}

// TimesheetMaterializeFailed 记录工时单物化失败（不回滚审批）
func (l *RosterLogger) TimesheetMaterializeFailed(scheduleID string, err error) {
	l.base.Error().
		Str("schedule_id", scheduleID).
		Err(err).
		Msg("工时单物化失败，等待异步重试")
}
