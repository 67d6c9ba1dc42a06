package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

type apiErr struct{ code int }

func (e *apiErr) Error() string   { return fmt.Sprintf("api error %d", e.code) }
func (e *apiErr) HTTPStatus() int { return e.code }

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("server overloaded"), 503)
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	wrapped := fmt.Errorf("api call failed: %w", NewTransientError(errors.New("rate limited"), 429))
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_NilError(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_RegularError(t *testing.T) {
	if IsTransient(errors.New("invalid input: missing field")) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_ConnectionReset(t *testing.T) {
	if !IsTransient(fmt.Errorf("write tcp: %w", syscall.ECONNRESET)) {
		t.Error("expected ECONNRESET to be transient")
	}
}

func TestIsTransient_StatusCoder(t *testing.T) {
	if !IsTransient(fmt.Errorf("call: %w", &apiErr{code: 529})) {
		t.Error("expected 529 to be transient")
	}
	if IsTransient(fmt.Errorf("call: %w", &apiErr{code: 400})) {
		t.Error("expected 400 to be permanent")
	}
}

func TestIsTransient_StatusInMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"API returned unexpected status code: 503", true},
		{"429 Too Many Requests", true},
		{"API returned unexpected status code: 401", false},
		{"anthropic: rate limit exceeded", true},
		{"model is overloaded", true},
		{"read tcp: i/o timeout", true},
		{"json: cannot unmarshal string", false},
	}
	for _, tt := range tests {
		if got := IsTransient(errors.New(tt.msg)); got != tt.want {
			t.Errorf("IsTransient(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestStatusFromMessage(t *testing.T) {
	code, ok := StatusFromMessage("unexpected status code: 502")
	if !ok || code != 502 {
		t.Errorf("expected 502, got %d (%v)", code, ok)
	}
	if _, ok := StatusFromMessage("no code here"); ok {
		t.Error("expected no status")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be permanent", code)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner, 500)
	if !errors.Is(te, inner) {
		t.Error("expected errors.Is to find inner error")
	}
	if te.Error() != "inner" {
		t.Errorf("unexpected message %q", te.Error())
	}
}

func TestClassifyError(t *testing.T) {
	if got := ClassifyError(transient()); got != ErrorTypeTransient {
		t.Errorf("expected transient, got %s", got)
	}
	if got := ClassifyError(errors.New("missing output")); got != ErrorTypePermanent {
		t.Errorf("expected permanent, got %s", got)
	}
}

func TestNewDLQEntry(t *testing.T) {
	e := NewDLQEntry("run-1", "doc-7", "/tmp/doc-7.jpg", "error_check", transient())
	if e.ID == "" {
		t.Error("expected generated id")
	}
	if e.RunID != "run-1" || e.DocumentID != "doc-7" || e.FailedStage != "error_check" {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e.ErrorType != ErrorTypeTransient {
		t.Errorf("expected transient, got %s", e.ErrorType)
	}
	if e.CreatedAt.IsZero() {
		t.Error("expected created_at")
	}
}
