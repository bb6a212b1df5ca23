package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s: status %d, want %d", tt.code, meta.HTTPStatus, tt.status)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s: public message %q, want %q", tt.code, meta.PublicMessage, tt.publicMsg)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s: retryable %v, want %v", tt.code, meta.Retryable, tt.retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s: details allowed %v, want %v", tt.code, meta.DetailsAllowed, tt.detailsOK)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	t.Parallel()

	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unknown code mapped to %d, want 500", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	t.Parallel()

	base := New(CodeValidation, "missing sku")
	if base.Code() != CodeValidation {
		t.Fatalf("code = %s, want validation", base.Code())
	}
	if base.Message() != "missing sku" {
		t.Fatalf("message = %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatal("details must start nil")
	}

	base.WithDetails(map[string]any{"field": "sku"})
	if base.Details() == nil {
		t.Fatal("details dropped")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "reserve item")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatal("Wrap lost the cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("code = %s, want conflict", wrapped.Code())
	}
}

func TestAsAndHasCode(t *testing.T) {
	t.Parallel()

	err := New(CodeForbidden, "review required")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatal("As failed to return the typed error")
	}
	if As(nil) != nil {
		t.Fatal("As(nil) must be nil")
	}

	deep := fmt.Errorf("outer: %w", err)
	if !HasCode(deep, CodeForbidden) {
		t.Fatal("HasCode must see through wrapping")
	}
	if HasCode(deep, CodeConflict) {
		t.Fatal("HasCode matched the wrong code")
	}
	if HasCode(nil, CodeConflict) {
		t.Fatal("HasCode(nil) must be false")
	}
}
