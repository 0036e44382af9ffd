package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewError(t *testing.T) {
	t.Parallel()

	t.Run("creates error with derived defaults", func(t *testing.T) {
		err := NewError(ErrCodeNotFound, "no such file or directory")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeNotFound {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeNotFound)
		}
		if err.Category != CategoryNotFound {
			t.Errorf("Category = %v, want %v", err.Category, CategoryNotFound)
		}
		if err.Errno != ENOENT {
			t.Errorf("Errno = %v, want ENOENT", err.Errno)
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct retryable defaults", func(t *testing.T) {
		retryableErr := NewError(ErrCodeConnectionTimeout, "connection timed out")
		if !retryableErr.Retryable {
			t.Error("ConnectionTimeout should be retryable by default")
		}

		nonRetryableErr := NewError(ErrCodeInvalidConfig, "config invalid")
		if nonRetryableErr.Retryable {
			t.Error("InvalidConfig should not be retryable by default")
		}
	})

	t.Run("lifecycle codes carry no errno", func(t *testing.T) {
		err := NewError(ErrCodeMountFailed, "mount failed")
		if err.Errno != 0 {
			t.Errorf("Errno = %v, want 0 for transport errors", err.Errno)
		}
		if err.Category != CategoryTransport {
			t.Errorf("Category = %v, want %v", err.Category, CategoryTransport)
		}
	})
}

func TestDefaultErrno(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want Errno
	}{
		{ErrCodeNotFound, ENOENT},
		{ErrCodeNotDirectory, ENOTDIR},
		{ErrCodeIsDirectory, EISDIR},
		{ErrCodeExists, EEXIST},
		{ErrCodeNotEmpty, ENOTEMPTY},
		{ErrCodeBadHandle, EBADF},
		{ErrCodeHandleClosed, EBADF},
		{ErrCodeNotPermitted, EPERM},
		{ErrCodeNoAttribute, ENOATTR},
		{ErrCodeInvalidArgument, EINVAL},
		{ErrCodeBackendIO, EIO},
		{ErrCodeInternalError, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := DefaultErrno(tt.code); got != tt.want {
				t.Errorf("DefaultErrno(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestErrnoString(t *testing.T) {
	if ENOENT.String() != "ENOENT" {
		t.Errorf("ENOENT.String() = %q", ENOENT.String())
	}
	if ENOATTR.String() != "ENODATA" {
		t.Errorf("ENOATTR should share ENODATA's value, got %q", ENOATTR.String())
	}
	if got := Errno(999).String(); got != "errno(999)" {
		t.Errorf("unknown errno String() = %q", got)
	}
}

func TestErrorInterface(t *testing.T) {
	t.Parallel()

	cause := errors.New("socket closed")
	err := NewError(ErrCodeConnectionFailed, "backend unreachable").
		WithComponent("s3-drive").
		WithOperation("read").
		WithCause(cause)

	msg := err.Error()
	if !strings.Contains(msg, "s3-drive") || !strings.Contains(msg, "read") {
		t.Errorf("Error() = %q, want component and operation present", msg)
	}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}

	var dfsErr *DriveFSError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &dfsErr) {
		t.Fatal("errors.As should unwrap to *DriveFSError")
	}
	if dfsErr.Code != ErrCodeConnectionFailed {
		t.Errorf("Code = %v after unwrap", dfsErr.Code)
	}
}

func TestErrnoOf(t *testing.T) {
	t.Parallel()

	if got := ErrnoOf(ErrNotFound("/missing")); got != ENOENT {
		t.Errorf("ErrnoOf = %v, want ENOENT", got)
	}
	if got := ErrnoOf(fmt.Errorf("wrap: %w", ErrBadHandle(42))); got != EBADF {
		t.Errorf("ErrnoOf through wrapping = %v, want EBADF", got)
	}
	if got := ErrnoOf(errors.New("plain")); got != 0 {
		t.Errorf("ErrnoOf(plain error) = %v, want 0", got)
	}
	if got := ErrnoOf(NewError(ErrCodeMountFailed, "x")); got != 0 {
		t.Errorf("ErrnoOf(transport error) = %v, want 0", got)
	}
}

func TestCategoryOf(t *testing.T) {
	if got := CategoryOf(ErrNotPermitted("/f")); got != CategoryNotPermitted {
		t.Errorf("CategoryOf = %v", got)
	}
	if got := CategoryOf(errors.New("plain")); got != CategoryInternal {
		t.Errorf("CategoryOf(plain) = %v, want internal", got)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		err   *DriveFSError
		code  ErrorCode
		errno Errno
	}{
		{"not found", ErrNotFound("/a"), ErrCodeNotFound, ENOENT},
		{"bad handle", ErrBadHandle(7), ErrCodeBadHandle, EBADF},
		{"not permitted", ErrNotPermitted("/a"), ErrCodeNotPermitted, EPERM},
		{"exists", ErrExists("/a"), ErrCodeExists, EEXIST},
		{"not directory", ErrNotDirectory("/a"), ErrCodeNotDirectory, ENOTDIR},
		{"is directory", ErrIsDirectory("/a"), ErrCodeIsDirectory, EISDIR},
		{"not empty", ErrNotEmpty("/a"), ErrCodeNotEmpty, ENOTEMPTY},
		{"invalid", ErrInvalid("bad flags"), ErrCodeInvalidArgument, EINVAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %v, want %v", tt.err.Code, tt.code)
			}
			if tt.err.Errno != tt.errno {
				t.Errorf("Errno = %v, want %v", tt.err.Errno, tt.errno)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	a := ErrNotFound("/a")
	b := ErrNotFound("/b")
	if !errors.Is(a, b) {
		t.Error("errors with the same code should match via errors.Is")
	}
	if errors.Is(a, ErrBadHandle(1)) {
		t.Error("errors with different codes should not match")
	}
}

func TestJSON(t *testing.T) {
	err := ErrNotFound("/data/x").WithComponent("mem-drive")
	var decoded map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(err.JSON()), &decoded); jsonErr != nil {
		t.Fatalf("JSON() produced invalid JSON: %v", jsonErr)
	}
	if decoded["code"] != "NOT_FOUND" {
		t.Errorf("code = %v", decoded["code"])
	}
	if decoded["path"] != "/data/x" {
		t.Errorf("path = %v", decoded["path"])
	}
}
