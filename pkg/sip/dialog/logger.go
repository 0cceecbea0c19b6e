package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/arzzra/voicecore/pkg/sip/transaction"
)

// LogLevel is the minimum severity a StructuredLogger will emit.
type LogLevel int

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelFatal
)

var logLevelNames = map[LogLevel]string{
	LogLevelTrace: "TRACE",
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
	LogLevelFatal: "FATAL",
}

func (l LogLevel) String() string {
	if name, ok := logLevelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// LogEntry is one structured log line: SIP context (Call-ID, dialog, method,
// state) plus whatever free-form fields the call site attached.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Component string    `json:"component"`

	CallID   string `json:"call_id,omitempty"`
	DialogID string `json:"dialog_id,omitempty"`
	Method   string `json:"method,omitempty"`
	State    string `json:"state,omitempty"`

	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Function string `json:"function,omitempty"`

	Fields map[string]interface{} `json:"fields,omitempty"`

	Error      string   `json:"error,omitempty"`
	ErrorCode  string   `json:"error_code,omitempty"`
	StackTrace []string `json:"stack_trace,omitempty"`
}

// StructuredLogger is the logging interface dialog and stack code is written
// against, so a call site never depends on the concrete DefaultLogger.
type StructuredLogger interface {
	Trace(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Fatal(ctx context.Context, msg string, fields ...Field)

	LogError(ctx context.Context, err error, msg string, fields ...Field)
	LogErrorWithStack(ctx context.Context, err error, msg string, fields ...Field)

	WithComponent(component string) StructuredLogger
	WithDialog(d *sipDialog) StructuredLogger
	WithTransaction(tx transaction.Transaction) StructuredLogger
	WithFields(fields ...Field) StructuredLogger

	SetLevel(level LogLevel)
	IsEnabled(level LogLevel) bool
}

// Field is one key/value attached to a log call.
type Field struct {
	Key   string
	Value interface{}
}

func String(key, value string) Field                 { return Field{key, value} }
func Int(key string, value int) Field                { return Field{key, value} }
func Int64(key string, value int64) Field            { return Field{key, value} }
func Bool(key string, value bool) Field              { return Field{key, value} }
func Duration(key string, value time.Duration) Field { return Field{key, value} }
func Time(key string, value time.Time) Field         { return Field{key, value} }
func Any(key string, value interface{}) Field        { return Field{key, value} }
func Err(err error) Field                            { return Field{"error", err} }

// DefaultLogger is the StructuredLogger implementation dialog.Stack installs
// by default: JSON lines to stdout, caller info attached, no stack traces
// unless an Error-level entry or LogErrorWithStack asks for one.
type DefaultLogger struct {
	mu        sync.RWMutex
	level     LogLevel
	output    io.Writer
	component string
	fields    map[string]interface{}

	includeStackTrace bool
	includeCaller     bool
	jsonOutput        bool

	bufferPool sync.Pool
}

// NewDefaultLogger builds a DefaultLogger at Info level, writing JSON to
// stdout.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{
		level:             LogLevelInfo,
		output:            os.Stdout,
		fields:            make(map[string]interface{}),
		includeStackTrace: false,
		includeCaller:     true,
		jsonOutput:        true,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return make(map[string]interface{})
			},
		},
	}
}

func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *DefaultLogger) IsEnabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *DefaultLogger) WithComponent(component string) StructuredLogger {
	return &DefaultLogger{
		level:             l.level,
		output:            l.output,
		component:         component,
		fields:            copyFields(l.fields),
		includeStackTrace: l.includeStackTrace,
		includeCaller:     l.includeCaller,
		jsonOutput:        l.jsonOutput,
		bufferPool:        l.bufferPool,
	}
}

// WithDialog attaches the current dialog's Call-ID, dialog key, state and
// role to every entry logged through the returned logger.
func (l *DefaultLogger) WithDialog(d *sipDialog) StructuredLogger {
	if d == nil {
		return l
	}

	fields := copyFields(l.fields)
	fields["call_id"] = d.key.CallID
	fields["dialog_id"] = d.key.String()
	fields["state"] = d.State().String()
	fields["is_uac"] = d.isUAC
	fields["local_tag"] = d.key.LocalTag
	fields["remote_tag"] = d.key.RemoteTag

	return &DefaultLogger{
		level:             l.level,
		output:            l.output,
		component:         l.component,
		fields:            fields,
		includeStackTrace: l.includeStackTrace,
		includeCaller:     l.includeCaller,
		jsonOutput:        l.jsonOutput,
		bufferPool:        l.bufferPool,
	}
}

// WithTransaction attaches the current transaction's id, role and state to
// every entry logged through the returned logger.
func (l *DefaultLogger) WithTransaction(tx transaction.Transaction) StructuredLogger {
	if tx == nil {
		return l
	}

	fields := copyFields(l.fields)
	fields["transaction_id"] = tx.ID()
	fields["transaction_state"] = tx.State().String()
	fields["is_client"] = tx.IsClient()

	return &DefaultLogger{
		level:             l.level,
		output:            l.output,
		component:         l.component,
		fields:            fields,
		includeStackTrace: l.includeStackTrace,
		includeCaller:     l.includeCaller,
		jsonOutput:        l.jsonOutput,
		bufferPool:        l.bufferPool,
	}
}

func (l *DefaultLogger) WithFields(fields ...Field) StructuredLogger {
	newFields := copyFields(l.fields)
	for _, field := range fields {
		newFields[field.Key] = field.Value
	}

	return &DefaultLogger{
		level:             l.level,
		output:            l.output,
		component:         l.component,
		fields:            newFields,
		includeStackTrace: l.includeStackTrace,
		includeCaller:     l.includeCaller,
		jsonOutput:        l.jsonOutput,
		bufferPool:        l.bufferPool,
	}
}

func (l *DefaultLogger) Trace(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LogLevelTrace, msg, nil, fields...)
}

func (l *DefaultLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LogLevelDebug, msg, nil, fields...)
}

func (l *DefaultLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LogLevelInfo, msg, nil, fields...)
}

func (l *DefaultLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LogLevelWarn, msg, nil, fields...)
}

func (l *DefaultLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LogLevelError, msg, nil, fields...)
}

func (l *DefaultLogger) Fatal(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LogLevelFatal, msg, nil, fields...)
	os.Exit(1)
}

// LogError logs err alongside msg, pulling the SIP response code out when err
// is a *DialogError.
func (l *DefaultLogger) LogError(ctx context.Context, err error, msg string, fields ...Field) {
	if err == nil {
		l.Error(ctx, msg, fields...)
		return
	}

	errorFields := append(fields, Err(err))
	if de, ok := err.(*DialogError); ok {
		errorFields = append(errorFields, Int("error_code", de.Code))
	}

	l.log(ctx, LogLevelError, msg, err, errorFields...)
}

// LogErrorWithStack is LogError with a captured stack trace attached
// regardless of the logger's configured default.
func (l *DefaultLogger) LogErrorWithStack(ctx context.Context, err error, msg string, fields ...Field) {
	oldIncludeStack := l.includeStackTrace
	l.includeStackTrace = true
	l.LogError(ctx, err, msg, fields...)
	l.includeStackTrace = oldIncludeStack
}

func (l *DefaultLogger) log(ctx context.Context, level LogLevel, msg string, err error, fields ...Field) {
	if !l.IsEnabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now(),
		Level:     level.String(),
		Message:   msg,
		Component: l.component,
		Fields:    l.bufferPool.Get().(map[string]interface{}),
	}

	for k := range entry.Fields {
		delete(entry.Fields, k)
	}
	defer l.bufferPool.Put(entry.Fields)

	for k, v := range l.fields {
		entry.Fields[k] = v
	}
	for _, field := range fields {
		entry.Fields[field.Key] = field.Value
	}

	l.extractContextInfo(ctx, &entry)

	if l.includeCaller {
		l.addCallerInfo(&entry)
	}

	if err != nil {
		entry.Error = err.Error()
		if de, ok := err.(*DialogError); ok {
			entry.ErrorCode = fmt.Sprintf("%d", de.Code)
		}
		if l.includeStackTrace || level >= LogLevelError {
			entry.StackTrace = l.captureStackTrace()
		}
	}

	l.writeEntry(&entry)
}

func (l *DefaultLogger) extractContextInfo(ctx context.Context, entry *LogEntry) {
	if ctx == nil {
		return
	}
	if callID := ctx.Value("call_id"); callID != nil {
		if id, ok := callID.(string); ok {
			entry.CallID = id
		}
	}
	if dialogID := ctx.Value("dialog_id"); dialogID != nil {
		if id, ok := dialogID.(string); ok {
			entry.DialogID = id
		}
	}
}

func (l *DefaultLogger) addCallerInfo(entry *LogEntry) {
	pc, file, line, ok := runtime.Caller(4)
	if !ok {
		return
	}
	entry.File = l.shortenFilePath(file)
	entry.Line = line
	if fn := runtime.FuncForPC(pc); fn != nil {
		entry.Function = l.shortenFunctionName(fn.Name())
	}
}

func (l *DefaultLogger) captureStackTrace() []string {
	const maxFrames = 10
	pc := make([]uintptr, maxFrames)
	n := runtime.Callers(5, pc)

	frames := runtime.CallersFrames(pc[:n])
	var stack []string
	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s:%d %s",
			l.shortenFilePath(frame.File),
			frame.Line,
			l.shortenFunctionName(frame.Function),
		))
		if !more {
			break
		}
	}
	return stack
}

func (l *DefaultLogger) writeEntry(entry *LogEntry) {
	l.mu.RLock()
	output := l.output
	jsonOutput := l.jsonOutput
	l.mu.RUnlock()

	var line string
	if jsonOutput {
		if data, err := json.Marshal(entry); err == nil {
			line = string(data) + "\n"
		} else {
			line = l.formatSimple(entry)
		}
	} else {
		line = l.formatSimple(entry)
	}

	_, _ = output.Write([]byte(line))
}

func (l *DefaultLogger) formatSimple(entry *LogEntry) string {
	var parts []string

	parts = append(parts, entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	parts = append(parts, fmt.Sprintf("[%-5s]", entry.Level))

	if entry.Component != "" {
		parts = append(parts, fmt.Sprintf("[%s]", entry.Component))
	}
	if entry.CallID != "" {
		id := entry.CallID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf("Call-ID:%s", id))
	}

	parts = append(parts, entry.Message)

	if entry.Error != "" {
		parts = append(parts, fmt.Sprintf("error=%s", entry.Error))
	}
	if entry.File != "" {
		parts = append(parts, fmt.Sprintf("(%s:%d)", entry.File, entry.Line))
	}

	return strings.Join(parts, " ") + "\n"
}

func copyFields(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (l *DefaultLogger) shortenFilePath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) > 2 {
		return strings.Join(parts[len(parts)-2:], "/")
	}
	return path
}

func (l *DefaultLogger) shortenFunctionName(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) > 1 {
		return parts[len(parts)-1]
	}
	return name
}

// NoOpLogger is a StructuredLogger that discards everything, for tests that
// don't want log noise.
type NoOpLogger struct{}

func (NoOpLogger) Trace(ctx context.Context, msg string, fields ...Field) {}
func (NoOpLogger) Debug(ctx context.Context, msg string, fields ...Field) {}
func (NoOpLogger) Info(ctx context.Context, msg string, fields ...Field)  {}
func (NoOpLogger) Warn(ctx context.Context, msg string, fields ...Field)  {}
func (NoOpLogger) Error(ctx context.Context, msg string, fields ...Field) {}
func (NoOpLogger) Fatal(ctx context.Context, msg string, fields ...Field) {}
func (NoOpLogger) LogError(ctx context.Context, err error, msg string, fields ...Field) {}
func (NoOpLogger) LogErrorWithStack(ctx context.Context, err error, msg string, fields ...Field) {}
func (NoOpLogger) WithComponent(component string) StructuredLogger { return NoOpLogger{} }
func (NoOpLogger) WithDialog(d *sipDialog) StructuredLogger       { return NoOpLogger{} }
func (NoOpLogger) WithTransaction(tx transaction.Transaction) StructuredLogger {
	return NoOpLogger{}
}
func (NoOpLogger) WithFields(fields ...Field) StructuredLogger { return NoOpLogger{} }
func (NoOpLogger) SetLevel(level LogLevel)                     {}
func (NoOpLogger) IsEnabled(level LogLevel) bool                { return false }

var defaultLogger StructuredLogger = NewDefaultLogger()

// SetDefaultLogger replaces the package-level logger dialog.Stack uses when
// no per-instance logger was configured.
func SetDefaultLogger(logger StructuredLogger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the package-level logger.
func GetDefaultLogger() StructuredLogger {
	return defaultLogger
}
