package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mdm/internal/logger"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// GormZapLogger 将 GORM 日志输出到 Zap，并带上请求的 trace_id
type GormZapLogger struct {
	log           *zap.Logger
	level         gormLogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger 创建 GORM 日志适配器；记录未找到不视为错误，仓库层自行转换为 NotFound
func NewGormLogger(log *zap.Logger, level gormLogger.LogLevel, slowThreshold time.Duration) *GormZapLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &GormZapLogger{log: log, level: level, slowThreshold: slowThreshold}
}

// ParseGormLevel 将 silent/error/warn/info 映射为 GORM 日志级别，其他值为 warn
func ParseGormLevel(s string) gormLogger.LogLevel {
	switch s {
	case "silent":
		return gormLogger.Silent
	case "error":
		return gormLogger.Error
	case "info":
		return gormLogger.Info
	}
	return gormLogger.Warn
}

// LogMode 设置日志级别
func (l *GormZapLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *GormZapLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Info {
		l.with(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *GormZapLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Warn {
		l.with(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *GormZapLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormLogger.Error {
		l.with(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace 记录每次批量写入或加载的 SQL
func (l *GormZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
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

	switch {
	case err != nil && !errors.Is(err, gormLogger.ErrRecordNotFound) && l.level >= gormLogger.Error:
		l.with(ctx).Error("SQL 执行错误", append(fields, zap.Error(err))...)
	case l.slowThreshold > 0 && elapsed > l.slowThreshold && l.level >= gormLogger.Warn:
		l.with(ctx).Warn("SQL 慢查询", fields...)
	case l.level >= gormLogger.Info:
		l.with(ctx).Debug("SQL 执行", fields...)
	}
}

func (l *GormZapLogger) with(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return l.log
	}
	if traceID := logger.GetTraceID(ctx); traceID != "" {
		return l.log.With(zap.String("trace_id", traceID))
	}
	return l.log
}
