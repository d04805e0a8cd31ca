package kinesis

import "log/slog"

func logDebug(logger *slog.Logger, msg string, attrs ...any) {
	if logger == nil {
		return
	}
	logger.Debug(msg, attrs...)
}

func logInfo(logger *slog.Logger, msg string, attrs ...any) {
	if logger == nil {
		return
	}
	logger.Info(msg, attrs...)
}

func logWarn(logger *slog.Logger, msg string, attrs ...any) {
	if logger == nil {
		return
	}
	logger.Warn(msg, attrs...)
}

func logError(logger *slog.Logger, msg string, attrs ...any) {
	if logger == nil {
		return
	}
	logger.Error(msg, attrs...)
}
