// Package logger 持有进程级 zap 实例，并在 context 中传递请求的 trace_id。
package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var globalLogger *zap.Logger

type traceKey struct{}

// Options 日志输出配置；Output 为 stdout、stderr 或文件路径
type Options struct {
	Level      string
	Format     string
	Output     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init 按 Options 构建并替换全局 Logger
func Init(opts Options) error {
	l, err := Build(opts)
	if err != nil {
		return err
	}
	globalLogger = l
	return nil
}

// Build 构建独立的 Logger，不修改全局实例
func Build(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, fmt.Errorf("无效的日志级别 %q: %w", opts.Level, err)
		}
	}

	var encoder zapcore.Encoder
	switch opts.Format {
	case "json":
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	case "", "console":
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", opts.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output(opts)), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func output(opts Options) io.Writer {
	switch opts.Output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   opts.Output,
		MaxSize:    positiveOr(opts.MaxSizeMB, 100),
		MaxBackups: positiveOr(opts.MaxBackups, 7),
		MaxAge:     positiveOr(opts.MaxAgeDays, 30),
		Compress:   opts.Compress,
	}
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// Get 返回全局 Logger，未初始化时 panic
func Get() *zap.Logger {
	if globalLogger == nil {
		panic("日志系统未初始化，请先调用 logger.Init")
	}
	return globalLogger
}

// OrNop 返回全局 Logger，未初始化时返回 Nop
func OrNop() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

// WithTraceID 把 trace_id 写入上下文
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// GetTraceID 读取上下文中的 trace_id
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

func Info(msg string, fields ...zap.Field)  { Get().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Get().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Get().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { Get().Fatal(msg, fields...) }

// Sync 刷新缓冲区
func Sync() error {
	if globalLogger == nil {
		return nil
	}
	return globalLogger.Sync()
}
