package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"legalai/internal/logger"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// GormLogger 把 GORM 日志写入 zap，并附带请求的 trace_id
type GormLogger struct {
	log           *zap.Logger
	level         gormLogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger 创建 GORM 日志适配器；slow 为 0 时不记录慢查询
func NewGormLogger(log *zap.Logger, level gormLogger.LogLevel, slow time.Duration) *GormLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &GormLogger{log: log.WithOptions(zap.AddCallerSkip(3)), level: level, slowThreshold: slow}
}

// LogMode 实现 gormLogger.Interface
func (l *GormLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *GormLogger) withTrace(ctx context.Context) *zap.Logger {
	if id := logger.GetTraceID(ctx); id != "" {
		return l.log.With(zap.String("trace_id", id))
	}
	return l.log
}

// Info 实现 gormLogger.Interface
func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Info {
		l.withTrace(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

// Warn 实现 gormLogger.Interface
func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Warn {
		l.withTrace(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

// Error 实现 gormLogger.Interface
func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Error {
		l.withTrace(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace 记录 SQL：错误总是记录（记录不存在除外），超过阈值记为慢查询，Info 级别下记录全部
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}
	log := l.withTrace(ctx)

	switch {
	case err != nil && !errors.Is(err, gormLogger.ErrRecordNotFound) && l.level >= gormLogger.Error:
		log.Error("SQL 执行错误", append(fields, zap.Error(err))...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormLogger.Warn:
		log.Warn("SQL 慢查询", fields...)
	case l.level >= gormLogger.Info:
		log.Debug("SQL 执行", fields...)
	}
}
