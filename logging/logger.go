package logging

// Log writes msg at level. Records at LogLevelNone are dropped.
func Log(level LogLevel, msg string, args ...any) {
	if logger == nil || level == LogLevelNone {
		return
	}
	switch level {
	case LogLevelDebug:
		logger.Debug(msg, args...)
	case LogLevelInfo:
		logger.Info(msg, args...)
	default:
		panic("unknown log level " + string(level) + ", to disable logging call the binary with -lnone or --loglevel=none")
	}
}

// LogErr writes err at error level, followed by any extra key/value pairs.
func LogErr(err error, msg string, args ...any) {
	if err == nil || logger == nil {
		return
	}

	logger.Error(msg, append([]any{"error", err.Error()}, args...)...)
}
