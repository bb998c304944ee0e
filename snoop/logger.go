package snoop

// Logger receives capture events from a session. Pass nil or
// NoopLogger to a session to disable capture.
type Logger interface {
	// Record captures one boundary crossing. Implementations must be
	// safe for concurrent use and should return quickly; a slow
	// logger slows the boundary itself.
	Record(event Event)
}

// NoopLogger discards all events. It is safe for concurrent use and
// usable as a zero value.
type NoopLogger struct{}

// Record discards the event.
func (NoopLogger) Record(Event) {}

// MultiLogger sends events to several loggers, for example a
// SlogAdapter for the console next to a FileLogger for capture.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger recording to all of loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Record sends the event to every configured logger.
func (m *MultiLogger) Record(event Event) {
	for _, l := range m.loggers {
		l.Record(event)
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Logger = NoopLogger{}
	_ Logger = (*MultiLogger)(nil)
)
