package session

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// SlogLogger bridges whatsmeow's logger onto slog.
type SlogLogger struct {
	logger *slog.Logger
}

var _ waLog.Logger = SlogLogger{}

func NewSlogLogger(logger *slog.Logger, module string) SlogLogger {
	return SlogLogger{logger: logger.With("module", module)}
}

func (l SlogLogger) Debugf(msg string, args ...any) { l.logger.Debug(fmt.Sprintf(msg, args...)) }
func (l SlogLogger) Infof(msg string, args ...any)  { l.logger.Info(fmt.Sprintf(msg, args...)) }
func (l SlogLogger) Warnf(msg string, args ...any)  { l.logger.Warn(fmt.Sprintf(msg, args...)) }
func (l SlogLogger) Errorf(msg string, args ...any) { l.logger.Error(fmt.Sprintf(msg, args...)) }

func (l SlogLogger) Sub(module string) waLog.Logger {
	return SlogLogger{logger: l.logger.With("sub", module)}
}
