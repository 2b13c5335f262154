package tracking

import (
	"context"
	"fmt"
	"time"

	orm "github.com/medatechnology/polyorm"
	gormlogger "gorm.io/gorm/logger"
)

// gormLogger routes gorm's own logging into an orm.Logger. Every statement
// is traced at Debug; failed statements are returned to the caller anyway.
type gormLogger struct {
	log   orm.Logger
	level gormlogger.LogLevel
}

func newGormLogger(l orm.Logger) *gormLogger {
	return &gormLogger{log: l, level: gormlogger.Info}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{log: g.log, level: level}
}

func (g *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Info {
		g.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Warn {
		g.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Error {
		g.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	query, rows := fc()
	fields := []orm.Field{
		orm.String("sql", query),
		orm.Int64("rows", rows),
		orm.Duration("elapsed", time.Since(begin)),
	}
	if err != nil {
		fields = append(fields, orm.Error(err))
	}
	g.log.Debug("statement", fields...)
}
