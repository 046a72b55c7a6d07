package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildErrorError(t *testing.T) {
	err := NewTransformError("style", "compile", errors.New("unexpected }"))
	err.WithLocation("src/scss/main.scss", 12)

	msg := err.Error()
	assert.Contains(t, msg, "[ERR_TRANSFORM_FAILED]")
	assert.Contains(t, msg, "task:style")
	assert.Contains(t, msg, "stage:compile")
	assert.Contains(t, msg, "src/scss/main.scss:12")
	assert.Contains(t, msg, "unexpected }")
}

func TestBuildErrorUnwrapAndIs(t *testing.T) {
	cause := errors.New("disk full")
	err := NewIOError(ErrCodeWriteFailed, "build/css/main.css", cause)

	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.Is(err, &BuildError{Type: ErrorTypeIO, Code: ErrCodeWriteFailed}))
	assert.True(t, errors.Is(err, &BuildError{Type: ErrorTypeIO}))
	assert.False(t, errors.Is(err, &BuildError{Type: ErrorTypeIO, Code: ErrCodeReadFailed}))
	assert.Contains(t, err.Error(), "write failed")
}

func TestClassificationHelpers(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		registration bool
		transform    bool
		validation   bool
		io           bool
	}{
		{
			name:         "registration",
			err:          NewRegistrationError(ErrCodeCycle, "cycle: a -> b -> a"),
			registration: true,
		},
		{
			name:      "transform wrapped",
			err:       fmt.Errorf("run: %w", NewTransformError("js", "concat", errors.New("boom"))),
			transform: true,
		},
		{
			name:       "validation",
			err:        NewValidationError("html:validator", "lint", "src/index.html", nil),
			validation: true,
		},
		{
			name: "io",
			err:  NewIOError(ErrCodeReadFailed, "src/a.js", errors.New("denied")),
			io:   true,
		},
		{
			name: "plain error",
			err:  errors.New("plain"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.registration, IsRegistration(tt.err))
			assert.Equal(t, tt.transform, IsTransform(tt.err))
			assert.Equal(t, tt.validation, IsValidation(tt.err))
			assert.Equal(t, tt.io, IsIO(tt.err))
		})
	}
}

func TestWithTaskDoesNotOverwrite(t *testing.T) {
	err := NewTransformError("style", "compile", nil).WithTask("other").WithStage("other")

	assert.Equal(t, "style", err.Task)
	assert.Equal(t, "compile", err.Stage)
	assert.Equal(t, "style", TaskOf(fmt.Errorf("wrapped: %w", err)))
	assert.Empty(t, TaskOf(errors.New("x")))
}

func TestNewValidationError(t *testing.T) {
	violations := []Violation{
		{Rule: "tag-pair", Message: "tag <div> is not closed", Line: 4},
		{Rule: "id-unique", Message: "duplicate id \"main\"", Line: 9, Column: 3},
	}

	err := NewValidationError("html:validator", "lint", "src/index.html", violations)

	assert.Equal(t, 4, err.Line)
	assert.Len(t, err.Violations, 2)
	assert.Contains(t, err.Error(), "2 violation(s)")
	assert.Contains(t, err.Error(), "tag-pair")
	assert.Equal(t, "9:3 id-unique: duplicate id \"main\"", violations[1].String())
}

type recordingLogger struct {
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(_ context.Context, _ error, msg string, _ ...interface{}) {
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(_ context.Context, _ error, msg string, _ ...interface{}) {
	l.warns = append(l.warns, msg)
}

func TestErrorHandlerHandle(t *testing.T) {
	logger := &recordingLogger{}
	handler := NewErrorHandler(logger)
	ctx := context.Background()

	handler.Handle(ctx, nil)
	handler.Handle(ctx, NewValidationError("html", "lint", "a.html", nil))
	handler.Handle(ctx, NewTransformError("style", "compile", nil))
	handler.Handle(ctx, NewIOError(ErrCodeReadFailed, "x", nil))
	handler.Handle(ctx, errors.New("generic"))

	require.Len(t, logger.warns, 2)
	require.Len(t, logger.errors, 2)
	assert.Equal(t, "Unhandled error occurred", logger.errors[1])
}
