package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/api/responses"
	"github.com/cardmint/cardmint-backend/api/validators"
	checkoutsvc "github.com/cardmint/cardmint-backend/internal/checkout"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

// CreateCheckoutSession reserves the requested items and opens a hosted
// payment session. All items are held or none are.
func CreateCheckoutSession(svc *checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload createCheckoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateLotSession(r.Context(), payload.ItemIDs, payload.CustomerEmail)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// CancelCheckout abandons a session and releases its holds.
func CancelCheckout(svc *checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		var payload cancelCheckoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		released, err := svc.Cancel(r.Context(), payload.SessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, cancelCheckoutResponse{ReleasedItems: released})
	}
}

type createCheckoutRequest struct {
	ItemIDs       []uuid.UUID `json:"item_ids" validate:"required,min=1,max=25"`
	CustomerEmail string      `json:"customer_email" validate:"required,email"`
}

type cancelCheckoutRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

type cancelCheckoutResponse struct {
	ReleasedItems int64 `json:"released_items"`
}
