package webhooks

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	stripewebhook "github.com/cardmint/cardmint-backend/internal/webhooks/stripe"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

const testSigningSecret = "whsec_test_secret"

type stubWebhookService struct {
	outcome *stripewebhook.Outcome
	err     error
	calls   int
}

func (s *stubWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) (*stripewebhook.Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

type stubGuard struct {
	seen    bool
	deletes int
}

func (g *stubGuard) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	return g.seen, nil
}

func (g *stubGuard) Delete(ctx context.Context, eventID string) error {
	g.deletes++
	return nil
}

type stubStripeClient struct{}

func (stubStripeClient) SigningSecret() string { return testSigningSecret }

func signedEventRequest(t *testing.T, eventID string) *http.Request {
	t.Helper()
	payload := []byte(fmt.Sprintf(
		`{"id":%q,"object":"event","type":"checkout.session.completed","api_version":%q,"data":{"object":{"id":"cs_test"}}}`,
		eventID, stripe.APIVersion,
	))
	ts := time.Now()
	sig := webhook.ComputeSignature(ts, payload, testSigningSecret)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig)))
	return req
}

func webhookTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "webhooks-test", Output: io.Discard})
}

// A guard hit only proves the event was seen recently. A duplicate
// delivery arriving while the first is still in flight must not be
// acknowledged with a 2xx, or the provider stops retrying an event that
// was never durably processed.
func TestStripeWebhookDuplicateDeliveryNotAcknowledgedBeforeSettlement(t *testing.T) {
	t.Parallel()

	svc := &stubWebhookService{err: pkgerrors.New(pkgerrors.CodeInternal, "settlement still in flight")}
	guard := &stubGuard{seen: true}
	rec := httptest.NewRecorder()

	StripeWebhook(svc, stubStripeClient{}, guard, webhookTestLogger()).ServeHTTP(rec, signedEventRequest(t, "evt_inflight"))

	if svc.calls != 1 {
		t.Fatalf("handler must consult the ledger on a guard hit, calls=%d", svc.calls)
	}
	if rec.Code < 400 {
		t.Fatalf("unsettled duplicate acknowledged with %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStripeWebhookGuardHitReplaysLedgerOutcome(t *testing.T) {
	t.Parallel()

	svc := &stubWebhookService{outcome: &stripewebhook.Outcome{OrderNumber: "CM-20260831-0001", Idempotent: true}}
	guard := &stubGuard{seen: true}
	rec := httptest.NewRecorder()

	StripeWebhook(svc, stubStripeClient{}, guard, webhookTestLogger()).ServeHTTP(rec, signedEventRequest(t, "evt_replay"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var envelope struct {
		Data stripeWebhookResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !envelope.Data.Idempotent || envelope.Data.OrderNumber != "CM-20260831-0001" {
		t.Fatalf("replay must carry the stored outcome: %+v", envelope.Data)
	}
}

func TestStripeWebhookRejectsUnsignedPayload(t *testing.T) {
	t.Parallel()

	svc := &stubWebhookService{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	StripeWebhook(svc, stubStripeClient{}, &stubGuard{}, webhookTestLogger()).ServeHTTP(rec, req)

	if rec.Code < 400 {
		t.Fatalf("unsigned payload accepted with %d", rec.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("handler ran on unsigned payload")
	}
}
