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

	t.Run("creates error with all defaults", func(t *testing.T) {
		err := NewError(ErrCodeInvalidConfig, "configuration is invalid")
		if err == nil {
			t.Fatal("NewError returned nil")
		}
		if err.Code != ErrCodeInvalidConfig {
			t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfig)
		}
		if err.Message != "configuration is invalid" {
			t.Errorf("Message = %q, want %q", err.Message, "configuration is invalid")
		}
		if err.Category != CategoryConfiguration {
			t.Errorf("Category = %v, want %v", err.Category, CategoryConfiguration)
		}
		if err.Details == nil {
			t.Error("Details map is nil")
		}
		if err.Context == nil {
			t.Error("Context map is nil")
		}
		if err.Timestamp.IsZero() {
			t.Error("Timestamp not set")
		}
	})

	t.Run("sets correct user-facing defaults", func(t *testing.T) {
		if !NewError(ErrCodeObjectNotFound, "missing").UserFacing {
			t.Error("ObjectNotFound should be user-facing by default")
		}
		if NewError(ErrCodeInternalError, "internal").UserFacing {
			t.Error("InternalError should not be user-facing by default")
		}
	})
}

func TestGetCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code ErrorCode
		want ErrorCategory
	}{
		{ErrCodeObjectNotFound, CategoryRequest},
		{ErrCodeRangeNotSatisfiable, CategoryRequest},
		{ErrCodeWriteAborted, CategoryRequest},
		{ErrCodeInvalidConfig, CategoryConfiguration},
		{ErrCodeUnknownPolicy, CategoryConfiguration},
		{ErrCodeStorageRead, CategoryStorage},
		{ErrCodeCorruptEntry, CategoryStorage},
		{ErrCodeInvalidState, CategoryState},
		{ErrCodeShutdownInProgress, CategoryState},
		{ErrCodeQueueFull, CategoryResource},
		{ErrCodeInternalError, CategoryInternal},
		{ErrorCode("SOMETHING_ELSE"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := GetCategory(tt.code); got != tt.want {
				t.Errorf("GetCategory(%s) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestCacheError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *CacheError
		want string
	}{
		{
			name: "code and message",
			err:  NewError(ErrCodeStorageRead, "read failed"),
			want: "STORAGE_READ: read failed",
		},
		{
			name: "with component",
			err:  NewError(ErrCodeStorageRead, "read failed").WithComponent("disk"),
			want: "[disk] STORAGE_READ: read failed",
		},
		{
			name: "with component and operation",
			err:  NewError(ErrCodeStorageRead, "read failed").WithComponent("disk").WithOperation("recover"),
			want: "[disk:recover] STORAGE_READ: read failed",
		},
		{
			name: "sentinel without message",
			err:  ErrNotFound,
			want: "OBJECT_NOT_FOUND: object not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")
	err := Wrap(cause, ErrCodeStorageWrite, "write failed")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestCacheError_Is(t *testing.T) {
	t.Parallel()

	err := NotFound("b", "k")
	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFound should match ErrNotFound")
	}
	if errors.Is(err, ErrRangeNotSatisfiable) {
		t.Error("NotFound should not match ErrRangeNotSatisfiable")
	}

	wrapped := fmt.Errorf("read path: %w", RangeNotSatisfiable("b", "k", 0, 10))
	if !errors.Is(wrapped, ErrRangeNotSatisfiable) {
		t.Error("wrapped range error should match sentinel")
	}
}

func TestIsCode(t *testing.T) {
	t.Parallel()

	inner := NewError(ErrCodeCorruptEntry, "bad state file")
	outer := Wrap(inner, ErrCodeStorageRead, "recovery failed")
	wrapped := fmt.Errorf("volume 0: %w", outer)

	if !IsCode(wrapped, ErrCodeStorageRead) {
		t.Error("IsCode should find the outer code")
	}
	if !IsCode(wrapped, ErrCodeCorruptEntry) {
		t.Error("IsCode should find the inner code")
	}
	if IsCode(wrapped, ErrCodeQueueFull) {
		t.Error("IsCode should not match an absent code")
	}
	if IsCode(nil, ErrCodeQueueFull) {
		t.Error("IsCode(nil) should be false")
	}
	if IsCode(errors.New("plain"), ErrCodeInternalError) {
		t.Error("IsCode should be false for plain errors")
	}
}

func TestCacheError_String(t *testing.T) {
	t.Parallel()

	err := RangeNotSatisfiable("bucket", "key", 5, 9).
		WithComponent("engine").
		WithCause(errors.New("gap"))

	s := err.String()
	for _, want := range []string{"Code=RANGE_NOT_SATISFIABLE", "Component=engine", `"start":5`, `Cause="gap"`} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

func TestCacheError_JSON(t *testing.T) {
	t.Parallel()

	err := NotFound("photos", "cat.jpg").WithComponent("engine")

	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatalf("json.Marshal failed: %v", jerr)
	}

	var decoded map[string]interface{}
	if jerr := json.Unmarshal(data, &decoded); jerr != nil {
		t.Fatalf("json.Unmarshal failed: %v", jerr)
	}
	if decoded["code"] != string(ErrCodeObjectNotFound) {
		t.Errorf("code = %v", decoded["code"])
	}
	ctx, ok := decoded["context"].(map[string]interface{})
	if !ok || ctx["bucket"] != "photos" || ctx["key"] != "cat.jpg" {
		t.Errorf("context = %v", decoded["context"])
	}
}
