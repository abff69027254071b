// Package engineerr defines the engine's stable error taxonomy.
package engineerr

import (
	"errors"
	"fmt"
)

var stderrorsAs = errors.As

// Code identifies the kind of failure, independent of message text.
type Code string

const (
	CodeRegistration  Code = "REGISTRATION"
	CodeToolNotFound  Code = "TOOL_NOT_FOUND"
	CodeValidation    Code = "VALIDATION"
	CodeCompilation   Code = "COMPILATION"
	CodeExecution     Code = "EXECUTION"
	CodeTimeout       Code = "TIMEOUT"
	CodeCancelled     Code = "CANCELLED"
	CodeLoopLimit     Code = "LOOP_LIMIT"
	CodeSuspend       Code = "SUSPEND"
	CodePersistence   Code = "PERSISTENCE"
	CodeEncryption    Code = "ENCRYPTION"
	CodeKey           Code = "KEY"
	CodeStateTooLarge Code = "STATE_TOO_LARGE"
	CodeCorrupted     Code = "CORRUPTED"
)

// Error is the single error type used across the engine. NodeID and ToolID
// are populated when the failure can be attributed to a specific node or
// tool; both are empty for flow-level and registry-level failures.
type Error struct {
	Code    Code
	Message string
	NodeID  string
	ToolID  string
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Registration(format string, args ...interface{}) *Error {
	return newf(CodeRegistration, format, args...)
}

func ToolNotFound(id string) *Error {
	return &Error{Code: CodeToolNotFound, Message: fmt.Sprintf("tool not found: %s", id), ToolID: id}
}

func Validation(field, format string, args ...interface{}) *Error {
	e := newf(CodeValidation, format, args...)
	e.Field = field
	return e
}

func ValidationTool(toolID, field, format string, args ...interface{}) *Error {
	e := Validation(field, format, args...)
	e.ToolID = toolID
	return e
}

func Compilation(format string, args ...interface{}) *Error {
	return newf(CodeCompilation, format, args...)
}

func Execution(nodeID string, cause error) *Error {
	return &Error{Code: CodeExecution, Message: "tool execution failed", NodeID: nodeID, Cause: cause}
}

func Timeout(nodeID string) *Error {
	return &Error{Code: CodeTimeout, Message: "node execution timed out", NodeID: nodeID}
}

func Cancelled() *Error {
	return &Error{Code: CodeCancelled, Message: "execution cancelled"}
}

func LoopLimit(nodeID string, limit int) *Error {
	return &Error{Code: CodeLoopLimit, Message: fmt.Sprintf("loop exceeded safety ceiling of %d iterations", limit), NodeID: nodeID}
}

// Suspend is not a true error: it is the sentinel the scheduler threads
// through runNode to unwind to Stream's goroutine once a tool requests
// suspension. Field carries the SuspensionKey.
func Suspend(nodeID, key, message string) *Error {
	return &Error{Code: CodeSuspend, Message: message, NodeID: nodeID, Field: key}
}

func Persistence(format string, args ...interface{}) *Error {
	return newf(CodePersistence, format, args...)
}

func StateTooLarge(size, max int) *Error {
	return &Error{Code: CodeStateTooLarge, Message: fmt.Sprintf("captured state size %d exceeds ceiling %d", size, max)}
}

func Corrupted(format string, args ...interface{}) *Error {
	return newf(CodeCorrupted, format, args...)
}

func Encryption(format string, args ...interface{}) *Error {
	return newf(CodeEncryption, format, args...)
}

func Key(format string, args ...interface{}) *Error {
	return newf(CodeKey, format, args...)
}

// Wrap attaches a cause to an existing *Error, returning a new value.
func Wrap(err *Error, cause error) *Error {
	cp := *err
	cp.Cause = cause
	return &cp
}

// As reports whether err is (or wraps) an *Error and, if so, returns it.
// Callers may also use errors.As(err, &target) directly.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrorsAs(err, &e) {
		return e, true
	}
	return nil, false
}
