package storage

import (
	"errors"
	"strings"
	"testing"
)

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		errMsg   string
		wantKind error
	}{
		{"context deadline exceeded", ErrTimeout},
		{"AccessDenied: you do not have access", ErrAccessDenied},
		{"received status 403", ErrAccessDenied},
		{"permission denied for /data/frames", ErrPermissionDenied},
		{"open /tmp/frame.jpg: no such file or directory", ErrNotFound},
		{"NoSuchBucket: bucket does not exist", ErrNotFound},
		{"write /data: no space left on device", ErrDiskFull},
		{"SlowDown: please reduce your request rate", ErrThrottled},
		{"NoCredentialProviders: no valid providers in chain", ErrAuth},
		{"dial tcp 10.0.0.1:443: connection refused", ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.errMsg, func(t *testing.T) {
			got := classifyError(errors.New(tt.errMsg))
			if got != tt.wantKind {
				t.Errorf("classifyError(%q) = %v, want %v", tt.errMsg, got, tt.wantKind)
			}
		})
	}
}

func TestClassifyError_TypedTimeout(t *testing.T) {
	if got := classifyError(timeoutError{}); got != ErrTimeout {
		t.Errorf("classifyError(timeout) = %v, want ErrTimeout", got)
	}
}

func TestClassifyError_Unclassified(t *testing.T) {
	got := classifyError(errors.New("something odd happened"))
	if got != errUnclassified {
		t.Errorf("expected unclassified error, got %v", got)
	}
}

func TestStorageError(t *testing.T) {
	underlying := errors.New("permission denied")
	err := WrapWriteError(underlying, "s/d/userfeedback/2025-01-01/c.jpg")

	if !errors.Is(err, ErrPermissionDenied) {
		t.Error("errors.Is should match the classified sentinel")
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should reach the underlying error")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "write s/d/userfeedback/2025-01-01/c.jpg:") {
		t.Errorf("unexpected message %q", msg)
	}

	if WrapWriteError(nil, "x") != nil || WrapReadError(nil, "x") != nil || WrapInitError(nil, "x") != nil {
		t.Error("wrapping nil must return nil")
	}

	readErr := WrapReadError(errors.New("not found"), "")
	if got := readErr.Error(); got != "read: not found: not found" {
		t.Errorf("Error() = %q", got)
	}
}
