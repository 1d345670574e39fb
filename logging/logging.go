// Package logging builds the hclog loggers used across the kiosk.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-hclog"
)

// New returns a logger writing to stderr at the named level ("debug",
// "info", ...). Unknown levels fall back to info.
func New(name, level string) hclog.Logger {
	return NewWithOutput(name, level, os.Stderr)
}

// NewWithOutput is New with an explicit destination.
func NewWithOutput(name, level string, output io.Writer) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Output: output,
		Level:  lvl,
	})
}

// RestyLogger adapts an hclog.Logger to the resty.Logger interface.
type RestyLogger struct {
	logger hclog.Logger
}

// NewRestyLogger creates an adapter that forwards resty messages to logger.
func NewRestyLogger(logger hclog.Logger) resty.Logger {
	return &RestyLogger{logger: logger}
}

// Errorf logs a message at error level.
func (a *RestyLogger) Errorf(format string, v ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, v...))
}

// Warnf logs a message at warning level.
func (a *RestyLogger) Warnf(format string, v ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, v...))
}

// Debugf logs a message at debug level.
func (a *RestyLogger) Debugf(format string, v ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, v...))
}
