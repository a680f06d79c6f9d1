package ports

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	// LevelDebug is used by stages and adapters (per-frame, per-chunk detail).
	LevelDebug LogLevel = iota
	// LevelInfo is used by the orchestrator for run milestones.
	LevelInfo
	// LevelWarn is for problems that do not abort a run.
	LevelWarn
	// LevelError is for terminal run failures.
	LevelError
	// LevelQuiet suppresses all log output.
	LevelQuiet
)

var levelNames = [...]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
	LevelQuiet: "quiet",
}

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return "unknown"
	}
	return levelNames[l]
}

// ParseLogLevel parses a level name. Unknown names yield LevelInfo.
func ParseLogLevel(s string) LogLevel {
	for i, name := range levelNames {
		if name == s {
			return LogLevel(i)
		}
	}
	return LevelInfo
}

// Logger abstracts leveled logging. msg is a translatable format key.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})

	// WithComponent returns a Logger that prefixes messages with component.
	WithComponent(component string) Logger
}
