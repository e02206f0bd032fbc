package core

// Logger is implemented by the application loggers.
// args may hold an error, a map[string]interface{} of extras and the user.User in context.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
