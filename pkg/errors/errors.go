// Package errors provides a structured error system for DriveFS with error
// codes, categories, canonical errno values, and context.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Errno is a canonical POSIX errno value. The numeric values follow the
// Linux encoding regardless of the platform DriveFS runs on; the FUSE
// transport adapters translate canonical values into platform-specific
// status codes at the very edge of the system.
type Errno int

const (
	EPERM        Errno = 1
	ENOENT       Errno = 2
	EINTR        Errno = 4
	EIO          Errno = 5
	EBADF        Errno = 9
	EAGAIN       Errno = 11
	EACCES       Errno = 13
	EBUSY        Errno = 16
	EEXIST       Errno = 17
	ENOTDIR      Errno = 20
	EISDIR       Errno = 21
	EINVAL       Errno = 22
	EFBIG        Errno = 27
	ENOSPC       Errno = 28
	EROFS        Errno = 30
	ENAMETOOLONG Errno = 36
	ENOSYS       Errno = 38
	ENOTEMPTY    Errno = 39
	ELOOP        Errno = 40
	ENODATA      Errno = 61

	// ENOATTR is the BSD name for a missing extended attribute; on the
	// canonical layout it shares ENODATA's value.
	ENOATTR = ENODATA
)

// String returns the symbolic name for logs.
func (e Errno) String() string {
	switch e {
	case EPERM:
		return "EPERM"
	case ENOENT:
		return "ENOENT"
	case EINTR:
		return "EINTR"
	case EIO:
		return "EIO"
	case EBADF:
		return "EBADF"
	case EAGAIN:
		return "EAGAIN"
	case EACCES:
		return "EACCES"
	case EBUSY:
		return "EBUSY"
	case EEXIST:
		return "EEXIST"
	case ENOTDIR:
		return "ENOTDIR"
	case EISDIR:
		return "EISDIR"
	case EINVAL:
		return "EINVAL"
	case EFBIG:
		return "EFBIG"
	case ENOSPC:
		return "ENOSPC"
	case EROFS:
		return "EROFS"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	case ENOSYS:
		return "ENOSYS"
	case ENOTEMPTY:
		return "ENOTEMPTY"
	case ELOOP:
		return "ELOOP"
	case ENODATA:
		return "ENODATA"
	default:
		return fmt.Sprintf("errno(%d)", int(e))
	}
}

// ErrorCode represents a structured error code for DriveFS operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Lookup errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeNotDirectory ErrorCode = "NOT_DIRECTORY"
	ErrCodeIsDirectory  ErrorCode = "IS_DIRECTORY"
	ErrCodeExists       ErrorCode = "EXISTS"
	ErrCodeNotEmpty     ErrorCode = "NOT_EMPTY"

	// Handle errors
	ErrCodeBadHandle     ErrorCode = "BAD_HANDLE"
	ErrCodeHandleClosed  ErrorCode = "HANDLE_CLOSED"
	ErrCodeHandleReadOnly ErrorCode = "HANDLE_READ_ONLY"

	// Permission / attribute errors
	ErrCodeNotPermitted ErrorCode = "NOT_PERMITTED"
	ErrCodeNoAttribute  ErrorCode = "NO_ATTRIBUTE"

	// Validation errors
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	ErrCodePathInvalid     ErrorCode = "PATH_INVALID"
	ErrCodeInvalidConfig   ErrorCode = "INVALID_CONFIG"

	// Lifecycle / transport errors
	ErrCodeMountFailed    ErrorCode = "MOUNT_FAILED"
	ErrCodeUnmountFailed  ErrorCode = "UNMOUNT_FAILED"
	ErrCodeAlreadyMounted ErrorCode = "ALREADY_MOUNTED"
	ErrCodeNotMounted     ErrorCode = "NOT_MOUNTED"
	ErrCodeNotReady       ErrorCode = "NOT_READY"

	// Backend errors
	ErrCodeBackendIO         ErrorCode = "BACKEND_IO"
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrCodeResourceLimit     ErrorCode = "RESOURCE_LIMIT"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error, matching the
// bridge's error taxonomy.
type ErrorCategory string

const (
	CategoryNotFound     ErrorCategory = "not_found"
	CategoryBadHandle    ErrorCategory = "bad_handle"
	CategoryNotPermitted ErrorCategory = "not_permitted"
	CategoryValidation   ErrorCategory = "validation"
	CategoryTransport    ErrorCategory = "transport"
	CategoryBackend      ErrorCategory = "backend"
	CategoryInternal     ErrorCategory = "internal"
)

// DriveFSError represents a structured error with context and metadata.
type DriveFSError struct {
	// Core error information
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Errno is the canonical status the FUSE layer should report. Zero
	// means unset, in which case the bridge's error mapper picks the
	// per-operation-family default.
	Errno Errno `json:"errno,omitempty"`

	// Contextual information
	Path      string            `json:"path,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Retryable hints drive-internal retry policies. The bridge itself
	// never retries.
	Retryable bool `json:"retryable"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *DriveFSError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *DriveFSError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *DriveFSError) Is(target error) bool {
	if dfsErr, ok := target.(*DriveFSError); ok {
		return e.Code == dfsErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *DriveFSError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("Errno=%s", e.Errno))
	}
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("Path=%s", e.Path))
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("DriveFSError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *DriveFSError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new DriveFS error with derived defaults.
func NewError(code ErrorCode, message string) *DriveFSError {
	return &DriveFSError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Errno:     DefaultErrno(code),
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeNotFound, ErrCodeNotDirectory, ErrCodeIsDirectory, ErrCodeExists, ErrCodeNotEmpty:
		return CategoryNotFound
	case ErrCodeBadHandle, ErrCodeHandleClosed, ErrCodeHandleReadOnly:
		return CategoryBadHandle
	case ErrCodeNotPermitted, ErrCodeNoAttribute:
		return CategoryNotPermitted
	case ErrCodeInvalidArgument, ErrCodePathInvalid, ErrCodeInvalidConfig:
		return CategoryValidation
	case ErrCodeMountFailed, ErrCodeUnmountFailed, ErrCodeAlreadyMounted, ErrCodeNotMounted, ErrCodeNotReady:
		return CategoryTransport
	case ErrCodeBackendIO, ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeCircuitOpen, ErrCodeResourceLimit:
		return CategoryBackend
	default:
		return CategoryInternal
	}
}

// DefaultErrno returns the canonical errno implied by an error code, or
// zero when the code has no fixed POSIX meaning.
func DefaultErrno(code ErrorCode) Errno {
	switch code {
	case ErrCodeNotFound:
		return ENOENT
	case ErrCodeNotDirectory:
		return ENOTDIR
	case ErrCodeIsDirectory:
		return EISDIR
	case ErrCodeExists:
		return EEXIST
	case ErrCodeNotEmpty:
		return ENOTEMPTY
	case ErrCodeBadHandle, ErrCodeHandleClosed:
		return EBADF
	case ErrCodeHandleReadOnly:
		return EBADF
	case ErrCodeNotPermitted:
		return EPERM
	case ErrCodeNoAttribute:
		return ENOATTR
	case ErrCodeInvalidArgument, ErrCodePathInvalid:
		return EINVAL
	case ErrCodeBackendIO, ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeCircuitOpen:
		return EIO
	case ErrCodeResourceLimit:
		return ENOSPC
	default:
		return 0
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeBackendIO:
		return true
	default:
		return false
	}
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:]) // +2 to skip this function and the caller
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") { // Skip frames from this file
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *DriveFSError) WithContext(key, value string) *DriveFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithPath sets the path the error refers to
func (e *DriveFSError) WithPath(path string) *DriveFSError {
	e.Path = path
	return e
}

// WithErrno overrides the canonical errno
func (e *DriveFSError) WithErrno(errno Errno) *DriveFSError {
	e.Errno = errno
	return e
}

// WithComponent sets the component for an error
func (e *DriveFSError) WithComponent(component string) *DriveFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *DriveFSError) WithOperation(operation string) *DriveFSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *DriveFSError) WithCause(cause error) *DriveFSError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the retryable hint
func (e *DriveFSError) WithRetryable(retryable bool) *DriveFSError {
	e.Retryable = retryable
	return e
}

// WithStack captures the current stack trace
func (e *DriveFSError) WithStack() *DriveFSError {
	e.Stack = CaptureStack(2)
	return e
}

// Convenience constructors for the common bridge-facing failures.

// ErrNotFound reports a missing path.
func ErrNotFound(path string) *DriveFSError {
	return NewError(ErrCodeNotFound, "no such file or directory").WithPath(path)
}

// ErrBadHandle reports I/O against an unknown or closed descriptor.
func ErrBadHandle(fd uint64) *DriveFSError {
	return NewError(ErrCodeBadHandle, fmt.Sprintf("bad file descriptor %d", fd))
}

// ErrNotPermitted reports a rejected attribute or ownership mutation.
func ErrNotPermitted(path string) *DriveFSError {
	return NewError(ErrCodeNotPermitted, "operation not permitted").WithPath(path)
}

// ErrExists reports a path that already exists.
func ErrExists(path string) *DriveFSError {
	return NewError(ErrCodeExists, "file exists").WithPath(path)
}

// ErrNotDirectory reports a non-directory used where a directory is required.
func ErrNotDirectory(path string) *DriveFSError {
	return NewError(ErrCodeNotDirectory, "not a directory").WithPath(path)
}

// ErrIsDirectory reports a directory used where a file is required.
func ErrIsDirectory(path string) *DriveFSError {
	return NewError(ErrCodeIsDirectory, "is a directory").WithPath(path)
}

// ErrNotEmpty reports an rmdir against a non-empty directory.
func ErrNotEmpty(path string) *DriveFSError {
	return NewError(ErrCodeNotEmpty, "directory not empty").WithPath(path)
}

// ErrInvalid reports an invalid argument.
func ErrInvalid(message string) *DriveFSError {
	return NewError(ErrCodeInvalidArgument, message)
}

// ErrnoOf extracts the canonical errno from an error chain. It returns zero
// when no DriveFSError in the chain carries one, letting the caller apply
// its own default.
func ErrnoOf(err error) Errno {
	var dfsErr *DriveFSError
	if errors.As(err, &dfsErr) {
		return dfsErr.Errno
	}
	return 0
}

// CategoryOf extracts the category from an error chain, defaulting to
// CategoryInternal for foreign errors.
func CategoryOf(err error) ErrorCategory {
	var dfsErr *DriveFSError
	if errors.As(err, &dfsErr) {
		return dfsErr.Category
	}
	return CategoryInternal
}

// IsRetryable reports whether any error in the chain is marked retryable.
func IsRetryable(err error) bool {
	var dfsErr *DriveFSError
	if errors.As(err, &dfsErr) {
		return dfsErr.Retryable
	}
	return false
}
