package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"
)

func TestIsTransientAPIErrorCodes(t *testing.T) {
	transient := []int{429, 500, 503, 504}
	for _, code := range transient {
		err := genai.APIError{Code: code, Message: "upstream"}
		if !IsTransient(err) {
			t.Errorf("code %d: want transient", code)
		}
	}
	for _, code := range []int{400, 401, 403, 404} {
		err := genai.APIError{Code: code, Message: "upstream"}
		if IsTransient(err) {
			t.Errorf("code %d: want not transient", code)
		}
	}
}

func TestIsTransientWrappedAPIError(t *testing.T) {
	err := fmt.Errorf("gemini generate: %w", genai.APIError{Code: 503})
	if !IsTransient(err) {
		t.Error("wrapped 503 should be transient")
	}
	// Once the error is an APIError the code decides; message markers do
	// not override a non-retryable code.
	err = fmt.Errorf("gemini generate: %w", genai.APIError{Code: 401, Message: "quota exceeded"})
	if IsTransient(err) {
		t.Error("401 should not be transient even with a quota message")
	}
}

func TestIsTransientStringMarkers(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"rate limit exceeded", true},
		{"RESOURCE_EXHAUSTED: try again later", true},
		{"service unavailable", true},
		{"request timeout", true},
		{"invalid api key", false},
		{"model not found", false},
	}
	for _, tt := range tests {
		if got := IsTransient(errors.New(tt.msg)); got != tt.want {
			t.Errorf("IsTransient(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestIsTransientDeadline(t *testing.T) {
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be transient")
	}
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), "", "gemini-2.0-flash"); err == nil {
		t.Error("expected an error for an empty API key")
	}
}
