package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/cardmint/cardmint-backend/api/responses"
	stripewebhook "github.com/cardmint/cardmint-backend/internal/webhooks/stripe"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

type stripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (*stripewebhook.Outcome, error)
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook verifies and dispatches Stripe checkout lifecycle events.
// The redis guard only flags rapid redeliveries; the database
// webhook_events row is the durable idempotency record, and every
// delivery runs the handler so a duplicate is acknowledged only after
// the ledger has settled the event.
func StripeWebhook(svc stripeWebhookService, client stripeClient, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify signature"))
			return
		}

		// A guard hit proves the event was seen recently, not that it was
		// durably processed. The handler still runs; the ledger replays
		// settled events and resumes interrupted ones.
		alreadySeen, guardErr := guard.CheckAndMark(ctx, event.ID)
		if guardErr != nil && logg != nil {
			logg.Error(ctx, "webhook idempotency guard", guardErr)
		}
		if alreadySeen && logg != nil {
			logg.Info(ctx, fmt.Sprintf("stripe event %s redelivered", event.ID))
		}

		outcome, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			_ = guard.Delete(ctx, event.ID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("stripe event %s processed", event.ID))
		}
		responses.WriteSuccess(w, newStripeWebhookResponse(outcome))
	}
}

type stripeWebhookResponse struct {
	OrderID     string `json:"order_id,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
	Idempotent  bool   `json:"idempotent"`
}

func newStripeWebhookResponse(outcome *stripewebhook.Outcome) stripeWebhookResponse {
	if outcome == nil {
		return stripeWebhookResponse{}
	}
	resp := stripeWebhookResponse{
		OrderNumber: outcome.OrderNumber,
		Idempotent:  outcome.Idempotent,
	}
	if outcome.OrderID != nil {
		resp.OrderID = outcome.OrderID.String()
	}
	return resp
}
