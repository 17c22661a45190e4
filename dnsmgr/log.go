package dnsmgr

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

// logger is the package-level structured logger. Hosts that want the
// manager's log lines folded into their own logging pipeline can replace it
// with SetLogger before constructing a Manager.
var logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
	Level:      slog.LevelInfo,
	TimeFormat: "15:04:05.000",
}))

// SetLogger overrides the logger used by this package. Pass nil to restore
// the default tint-colored stderr logger.
func SetLogger(l *slog.Logger) {
	if l == nil {
		logger = slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: "15:04:05.000",
		}))
		return
	}
	logger = l
}

func logDebugf(format string, args ...any) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func logWarnf(format string, args ...any) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func logErrorf(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
}

func logInfof(format string, args ...any) {
	logger.Info(fmt.Sprintf(format, args...))
}
