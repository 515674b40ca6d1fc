package protocol

// Logger is the logging interface used by the deserializer.
// Satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Notice(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any)  {}
func (noopLogger) Notice(string, ...any) {}
func (noopLogger) Error(string, ...any)  {}
