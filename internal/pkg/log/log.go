package log

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
)

type contextKey string

const contextKeyStatementID contextKey = "statement_id"

var (
	mu  sync.Mutex
	out io.Writer = color.Output
)

// SetOutput redirects all log lines to w and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := out
	out = w
	return prev
}

// WithStatementID adds a statement ID to context for logging
func WithStatementID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyStatementID, id)
}

// StatementID retrieves the statement ID from context
func StatementID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(contextKeyStatementID).(string); ok {
		return id
	}
	return ""
}

// formatLog formats log message with optional statement ID
func formatLog(level string, stmtID string, format string, a ...interface{}) string {
	msg := fmt.Sprintf(format, a...)
	if stmtID != "" {
		return fmt.Sprintf("[%s] [stmt=%s] %s", level, stmtID, msg)
	}
	return fmt.Sprintf("[%s] %s", level, msg)
}

func write(label string, msg string) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "%s %s\n", label, msg)
}

// Info log information
func Info(format string, a ...interface{}) {
	info := color.New(color.FgWhite, color.BgGreen).SprintFunc()
	write(info("[INFO] "), fmt.Sprintf(format, a...))
}

// InfoWithContext logs information with context (includes statement ID if available)
func InfoWithContext(ctx context.Context, format string, a ...interface{}) {
	info := color.New(color.FgWhite, color.BgGreen).SprintFunc()
	write(info("[INFO] "), formatLog("INFO", StatementID(ctx), format, a...))
}

// Warn log warning
func Warn(format string, a ...interface{}) {
	warn := color.New(color.FgWhite, color.BgYellow).SprintFunc()
	write(warn("[WARN] "), fmt.Sprintf(format, a...))
}

// WarnWithContext logs warning with context (includes statement ID if available)
func WarnWithContext(ctx context.Context, format string, a ...interface{}) {
	warn := color.New(color.FgWhite, color.BgYellow).SprintFunc()
	write(warn("[WARN] "), formatLog("WARN", StatementID(ctx), format, a...))
}

// Error log error
func Error(format string, a ...interface{}) {
	red := color.New(color.FgRed).SprintFunc()
	write(red("[Error]"), fmt.Sprintf(format, a...))
}

// ErrorWithContext logs error with context (includes statement ID if available)
func ErrorWithContext(ctx context.Context, format string, a ...interface{}) {
	red := color.New(color.FgRed).SprintFunc()
	write(red("[Error]"), formatLog("ERROR", StatementID(ctx), format, a...))
}

// Debug log debug
func Debug(format string, a ...interface{}) {
	cyan := color.New(color.FgCyan).SprintFunc()
	write(cyan("[DEBUG]"), fmt.Sprintf(format, a...))
}

// DebugWithContext logs debug output with context (includes statement ID if available)
func DebugWithContext(ctx context.Context, format string, a ...interface{}) {
	cyan := color.New(color.FgCyan).SprintFunc()
	write(cyan("[DEBUG]"), formatLog("DEBUG", StatementID(ctx), format, a...))
}

// Dump renders values with their types, for statement arguments
func Dump(a ...interface{}) string {
	cfg := spew.ConfigState{Indent: " ", DisablePointerAddresses: true, DisableCapacities: true, SortKeys: true}
	return cfg.Sdump(a...)
}
