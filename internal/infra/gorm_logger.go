package infra

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// gormZapAdapter 把 GORM 日志接到 zap 上
// 网关热路径是每请求两三条查询，SQL 明细只在慢查询和出错时落日志
type gormZapAdapter struct {
	log           *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newGormZapAdapter(log *zap.Logger, slowThreshold time.Duration) *gormZapAdapter {
	return &gormZapAdapter{
		log:           log,
		level:         gormlogger.Warn,
		slowThreshold: slowThreshold,
	}
}

func (a *gormZapAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *a
	clone.level = level
	return &clone
}

func (a *gormZapAdapter) Info(ctx context.Context, msg string, args ...interface{}) {
	if a.level >= gormlogger.Info {
		a.log.Sugar().Infof(msg, args...)
	}
}

func (a *gormZapAdapter) Warn(ctx context.Context, msg string, args ...interface{}) {
	if a.level >= gormlogger.Warn {
		a.log.Sugar().Warnf(msg, args...)
	}
}

func (a *gormZapAdapter) Error(ctx context.Context, msg string, args ...interface{}) {
	if a.level >= gormlogger.Error {
		a.log.Sugar().Errorf(msg, args...)
	}
}

// Trace SQL 执行日志
// ErrRecordNotFound 不算错误：模型解析、密钥查找对未命中都有正常分支
func (a *gormZapAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if a.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound):
		a.log.Error("SQL 执行错误",
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows),
			zap.Error(err))
	case a.slowThreshold > 0 && elapsed > a.slowThreshold:
		a.log.Warn("SQL 慢查询",
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows))
	case a.level >= gormlogger.Info:
		a.log.Debug("SQL 执行",
			zap.Duration("elapsed", elapsed),
			zap.String("sql", sql),
			zap.Int64("rows", rows))
	}
}
