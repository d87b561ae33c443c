// Package logger provides structured logging with automatic secret redaction.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - task lifecycle logging (submit, dispatch, transition, terminal)
//   - child process logging (launch, signal, exit)
//   - envelope/protocol logging
//   - automatic token/secret redaction
//   - contextual logging with request tracing
//   - level-based verbosity control
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

var (
	// DefaultLogger is the global structured logger instance.
	// It is safe for concurrent use and initialized with slog.LevelInfo by default.
	DefaultLogger *slog.Logger

	// logOutput is the writer the default (non-custom) handler writes to.
	logOutput io.Writer = os.Stderr

	// currentFormat is the active output format ("text" or "json").
	currentFormat = FormatText

	// currentLevel is the active log level for the default handler.
	currentLevel = slog.LevelInfo

	// customHandler is set by SetLogger; when non-nil, Configure and SetLevel
	// must not replace DefaultLogger's handler.
	customHandler slog.Handler
)

func init() {
	level := ParseLevel(os.Getenv("LOG_LEVEL"))
	if format := strings.ToLower(os.Getenv("LOG_FORMAT")); format == FormatJSON {
		currentFormat = FormatJSON
	}
	initLogger(level, nil)
}

// ParseLevel parses a level name ("debug", "info", "warn"/"warning", "error")
// into a slog.Level, defaulting to LevelInfo for anything unrecognized.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// initLogger (re)builds DefaultLogger from currentFormat/logOutput, honoring
// any commonFields, and installs it as the slog default. It is a no-op on the
// handler choice if a custom logger was installed via SetLogger.
func initLogger(level slog.Level, commonFields []slog.Attr) {
	currentLevel = level
	if customHandler != nil {
		return
	}

	opts := &slog.HandlerOptions{Level: level}
	var base slog.Handler
	if currentFormat == FormatJSON {
		base = slog.NewJSONHandler(logOutput, opts)
	} else {
		base = slog.NewTextHandler(logOutput, opts)
	}
	DefaultLogger = slog.New(NewContextHandler(base, commonFields...))
	slog.SetDefault(DefaultLogger)
}

// SetLevel changes the logging level for all subsequent log operations.
// This is safe for concurrent use as it replaces the entire logger instance,
// unless a custom logger was installed via SetLogger.
func SetLevel(level slog.Level) {
	initLogger(level, nil)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
// This is a convenience wrapper around SetLevel for command-line verbose flags.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// SetLogger installs a caller-provided *slog.Logger as DefaultLogger, taking
// it out of Configure/SetLevel's control. Passing nil reverts to the default
// env-configured logger.
func SetLogger(l *slog.Logger) {
	if l == nil {
		customHandler = nil
		initLogger(currentLevel, nil)
		return
	}
	customHandler = l.Handler()
	DefaultLogger = l
	slog.SetDefault(DefaultLogger)
}

// SetOutput redirects the default (non-custom) handler's output, preserving
// the currently configured format and level. Passing nil resets to stderr.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	logOutput = w
	if customHandler == nil {
		initLogger(currentLevel, nil)
	}
}

// Info logs an informational message with structured key-value attributes.
// Args should be provided in key-value pairs: key1, value1, key2, value2, ...
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
// The context can be used for request tracing and cancellation.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
// Debug messages are only output when the log level is set to LevelDebug or lower.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
// Use for errors that affect operation but don't cause complete failure.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// TaskEvent logs a task lifecycle milestone (submitted, dispatched, transitioned).
// Additional attributes can be passed as key-value pairs after the required parameters.
func TaskEvent(taskID, clientID, event string, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"task_id", taskID,
		"client_id", clientID,
		"event", event,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("task event", allAttrs...)
}

// TaskTransition logs a task status-machine transition.
func TaskTransition(taskID string, from, to string, reason string) {
	Info("task transition",
		"task_id", taskID,
		"from", from,
		"to", to,
		"reason", reason,
	)
}

// TaskFailed logs a task's terminal failure for debugging and monitoring.
func TaskFailed(taskID, reason string, err error, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"task_id", taskID,
		"reason", reason,
		"error", err,
	)
	allAttrs = append(allAttrs, attrs...)
	Error("task failed", allAttrs...)
}

// ChildProcess logs a process-supervisor lifecycle event (launch, signal, exit).
func ChildProcess(taskID, event string, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"task_id", taskID,
		"event", event,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("child process", allAttrs...)
}

// EnvelopeDropped logs a malformed or rejected envelope at debug level.
func EnvelopeDropped(taskID, envelopeType, reason string, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"task_id", taskID,
		"envelope_type", envelopeType,
		"reason", reason,
	)
	allAttrs = append(allAttrs, attrs...)
	Debug("envelope dropped", allAttrs...)
}

// ProtocolViolation logs a fatal protocol violation by a child process.
func ProtocolViolation(taskID, violation string, attrs ...any) {
	allAttrs := make([]any, 0, 4+len(attrs))
	allAttrs = append(allAttrs,
		"task_id", taskID,
		"violation", violation,
	)
	allAttrs = append(allAttrs, attrs...)
	Error("protocol violation", allAttrs...)
}

var (
	// apiKeyPatterns contains compiled regular expressions for detecting sensitive data.
	// Patterns match common API key formats from various providers.
	apiKeyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`Bearer\s+[a-zA-Z0-9_.-]+`),                          // Bearer tokens
		regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), // JWTs
		regexp.MustCompile(`redis://[^@\s]+@`),                                 // redis URL credentials
	}
)

// RedactSensitiveData removes bearer tokens, JWTs, and redis URL credentials
// from strings, preserving enough of the match for debugging context while
// hiding the sensitive portion.
//
// This function is safe for concurrent use as it only reads from the compiled patterns.
func RedactSensitiveData(input string) string {
	result := input

	for _, pattern := range apiKeyPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.HasPrefix(match, "Bearer ") {
				return "Bearer [REDACTED]"
			}
			// Show first 4 characters for debugging context
			if len(match) > 8 {
				return match[:4] + "...[REDACTED]"
			}
			return "[REDACTED]"
		})
	}

	return result
}

// CollaboratorRequest logs an outbound call to an external collaborator (auth
// verifier, permission oracle) at debug level with automatic secret redaction.
// This function is a no-op when debug logging is disabled for performance.
//
// Parameters:
//   - collaborator: the collaborator name (e.g., "auth-verifier", "permission-oracle")
//   - method: HTTP method (GET, POST, etc.)
//   - url: Request URL (will be redacted for sensitive data)
//   - headers: HTTP headers map (will be redacted)
//   - body: Request body (will be marshaled to JSON and redacted)
//
// Sensitive data in URL, headers, and body are automatically redacted.
func CollaboratorRequest(collaborator, method, url string, headers map[string]string, body interface{}) {
	// Early return if debug logging is disabled for performance
	if !DefaultLogger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := make([]any, 0, 8)
	attrs = append(attrs,
		"collaborator", collaborator,
		"method", method,
		"url", RedactSensitiveData(url),
	)

	// Redact sensitive data in headers
	if len(headers) > 0 {
		redactedHeaders := make(map[string]string, len(headers))
		for key, value := range headers {
			redactedHeaders[key] = RedactSensitiveData(value)
		}
		attrs = append(attrs, "headers", redactedHeaders)
	}

	// Marshal and redact request body
	if body != nil {
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			attrs = append(attrs, "body_error", err.Error())
		} else {
			redactedBody := RedactSensitiveData(string(bodyJSON))
			attrs = append(attrs, "body", redactedBody)
		}
	}

	Debug("collaborator request", attrs...)
}

// CollaboratorResponse logs a response from an external collaborator at debug
// level with automatic secret redaction. This function is a no-op when debug
// logging is disabled for performance.
//
// Parameters:
//   - collaborator: the collaborator name
//   - statusCode: HTTP status code
//   - body: Response body as string (will be redacted)
//   - err: Error if the request failed (takes precedence over body logging)
//
// Response bodies are attempted to be parsed as JSON for pretty formatting.
func CollaboratorResponse(collaborator string, statusCode int, body string, err error) {
	// Early return if debug logging is disabled for performance
	if !DefaultLogger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := make([]any, 0, 6)
	attrs = append(attrs,
		"collaborator", collaborator,
		"status_code", statusCode,
	)

	// Log errors at error level
	if err != nil {
		attrs = append(attrs, "error", err.Error())
		Error("collaborator response error", attrs...)
		return
	}

	// Pretty-format JSON responses when possible
	if body != "" {
		var jsonObj interface{}
		if json.Unmarshal([]byte(body), &jsonObj) == nil {
			prettyJSON, _ := json.MarshalIndent(jsonObj, "", "  ") // NOSONAR: Formatting error falls back to original body
			redactedBody := RedactSensitiveData(string(prettyJSON))
			attrs = append(attrs, "body", redactedBody)
		} else {
			// Not JSON, log as-is with redaction
			redactedBody := RedactSensitiveData(body)
			attrs = append(attrs, "body", redactedBody)
		}
	}

	Debug("collaborator response", attrs...)
}
