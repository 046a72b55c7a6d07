package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of build errors.
type ErrorType string

const (
	ErrorTypeRegistration ErrorType = "registration"
	ErrorTypeTransform    ErrorType = "transform"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeIO           ErrorType = "io"
	ErrorTypeConfig       ErrorType = "config"
	ErrorTypeInternal     ErrorType = "internal"
)

// Common error codes.
const (
	ErrCodeDuplicateTask      = "ERR_DUPLICATE_TASK"
	ErrCodeMissingPredecessor = "ERR_MISSING_PREDECESSOR"
	ErrCodeCycle              = "ERR_CYCLE"
	ErrCodeRegistryFrozen     = "ERR_REGISTRY_FROZEN"
	ErrCodeInvalidTask        = "ERR_INVALID_TASK"
	ErrCodeUnknownTask        = "ERR_UNKNOWN_TASK"
	ErrCodeTransformFailed    = "ERR_TRANSFORM_FAILED"
	ErrCodeLintFailed         = "ERR_LINT_FAILED"
	ErrCodeReadFailed         = "ERR_READ_FAILED"
	ErrCodeWriteFailed        = "ERR_WRITE_FAILED"
	ErrCodeConfigInvalid      = "ERR_CONFIG_INVALID"
	ErrCodeEdgeInvalid        = "ERR_EDGE_INVALID"
	ErrCodeTaskPanic          = "ERR_TASK_PANIC"
	ErrCodeCancelled          = "ERR_CANCELLED"
)

// BuildError is a structured error carrying the task and stage that failed.
type BuildError struct {
	Type       ErrorType
	Code       string
	Message    string
	Task       string
	Stage      string
	Path       string
	Line       int
	Cause      error
	Violations []Violation
	Context    map[string]interface{}
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Task != "" {
		parts = append(parts, "task:"+e.Task)
	}

	if e.Stage != "" {
		parts = append(parts, "stage:"+e.Stage)
	}

	if e.Path != "" {
		location := e.Path
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
		}
		parts = append(parts, location)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// Is matches on type and code so sentinel-style comparisons work.
func (e *BuildError) Is(target error) bool {
	var t *BuildError
	if errors.As(target, &t) {
		if t.Code == "" {
			return e.Type == t.Type
		}
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *BuildError) WithContext(key string, value interface{}) *BuildError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithTask sets the owning task if it is not already set.
func (e *BuildError) WithTask(task string) *BuildError {
	if e.Task == "" {
		e.Task = task
	}

	return e
}

// WithStage sets the failing stage if it is not already set.
func (e *BuildError) WithStage(stage string) *BuildError {
	if e.Stage == "" {
		e.Stage = stage
	}

	return e
}

// WithLocation adds file location information.
func (e *BuildError) WithLocation(path string, line int) *BuildError {
	e.Path = path
	e.Line = line

	return e
}

// Violation is a single lint or structural finding in a source file.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	Column  int    `json:"column,omitempty"`
}

// String renders the violation as line:col rule message.
func (v Violation) String() string {
	if v.Column > 0 {
		return fmt.Sprintf("%d:%d %s: %s", v.Line, v.Column, v.Rule, v.Message)
	}
	return fmt.Sprintf("%d %s: %s", v.Line, v.Rule, v.Message)
}

// Error creation functions

// NewRegistrationError creates an error raised while registering tasks.
func NewRegistrationError(code, message string) *BuildError {
	return &BuildError{
		Type:    ErrorTypeRegistration,
		Code:    code,
		Message: message,
	}
}

// NewTransformError creates an error for a stage that rejected its input.
func NewTransformError(task, stage string, cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeTransform,
		Code:    ErrCodeTransformFailed,
		Message: "transform failed",
		Task:    task,
		Stage:   stage,
		Cause:   cause,
	}
}

// NewValidationError creates an error for a file that failed structural checks.
func NewValidationError(task, stage, path string, violations []Violation) *BuildError {
	msg := fmt.Sprintf("%d violation(s)", len(violations))
	if len(violations) > 0 {
		msg += ": " + violations[0].String()
	}

	line := 0
	if len(violations) > 0 {
		line = violations[0].Line
	}

	return &BuildError{
		Type:       ErrorTypeValidation,
		Code:       ErrCodeLintFailed,
		Message:    msg,
		Task:       task,
		Stage:      stage,
		Path:       path,
		Line:       line,
		Violations: violations,
	}
}

// NewIOError creates an I/O error for the given path.
func NewIOError(code, path string, cause error) *BuildError {
	msg := "read failed"
	if code == ErrCodeWriteFailed {
		msg = "write failed"
	}

	return &BuildError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: msg,
		Path:    path,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *BuildError {
	return &BuildError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *BuildError {
	return &BuildError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error classification helpers

func typeOf(err error) (ErrorType, bool) {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Type, true
	}

	return "", false
}

// IsRegistration reports whether err is a registration error.
func IsRegistration(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeRegistration
}

// IsTransform reports whether err is a transform error.
func IsTransform(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeTransform
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeValidation
}

// IsIO reports whether err is an I/O error.
func IsIO(err error) bool {
	t, ok := typeOf(err)
	return ok && t == ErrorTypeIO
}

// TaskOf returns the task recorded on err, if any.
func TaskOf(err error) string {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Task
	}

	return ""
}

// As is a convenience wrapper around errors.As for *BuildError.
func As(err error) (*BuildError, bool) {
	var be *BuildError
	if errors.As(err, &be) {
		return be, true
	}

	return nil, false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level matching its type.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	be, ok := As(err)
	if !ok {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch be.Type {
	case ErrorTypeValidation:
		h.logger.Warn(ctx, err, "Validation failed",
			"task", be.Task,
			"stage", be.Stage,
			"file", be.Path,
			"violations", len(be.Violations))
	case ErrorTypeTransform:
		h.logger.Warn(ctx, err, "Transform failed",
			"task", be.Task,
			"stage", be.Stage,
			"file", be.Path)
	case ErrorTypeIO:
		h.logger.Error(ctx, err, "I/O error",
			"task", be.Task,
			"file", be.Path)
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", be.Type,
			"code", be.Code,
			"task", be.Task)
	}
}
