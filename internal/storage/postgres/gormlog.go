package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// NewGormLogger sends GORM warnings and slow queries to l. Record-not-found
// is not logged.
func NewGormLogger(l *slog.Logger) logger.Interface {
	return logger.New(gormWriter{l}, logger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

type gormWriter struct {
	l *slog.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.l.Warn("gorm", slog.String("msg", fmt.Sprintf(format, args...)))
}
