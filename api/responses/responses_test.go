package responses

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/types"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "responses-test", Output: io.Discard})
}

func TestWriteSuccessEnvelope(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"sku": "CM-001"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body types.SuccessEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.(map[string]any)["sku"] != "CM-001" {
		t.Fatalf("unexpected payload %v", body.Data)
	}
}

func TestWriteSuccessNilData(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	WriteSuccess(w, nil)

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(raw["data"]) != "null" {
		t.Fatalf(`data = %s, want null`, raw["data"])
	}
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "sku is required").
		WithDetails(map[string]string{"field": "sku"})
	WriteError(context.Background(), quietLogger(), w, err)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body types.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeValidation) {
		t.Fatalf("code = %s", body.Error.Code)
	}
	if body.Error.Message != "sku is required" {
		t.Fatalf("client-caused codes must surface the message, got %q", body.Error.Message)
	}
	if body.Error.Details == nil {
		t.Fatal("validation details must reach the client")
	}
}

func TestWriteErrorHidesInternals(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	WriteError(context.Background(), quietLogger(), w, errors.New("pq: connection reset"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var body types.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeInternal) {
		t.Fatalf("code = %s", body.Error.Code)
	}
	if body.Error.Message == "pq: connection reset" {
		t.Fatal("raw error text leaked to the client")
	}
	if body.Error.Details != nil {
		t.Fatal("internal errors must not carry details")
	}
}
