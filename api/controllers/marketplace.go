package controllers

import (
	"net/http"

	"github.com/cardmint/cardmint-backend/api/responses"
	"github.com/cardmint/cardmint-backend/api/validators"
	marketplacesvc "github.com/cardmint/cardmint-backend/internal/marketplace"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

// ImportMarketplaceOrders pulls open Square orders into fulfillment records.
func ImportMarketplaceOrders(svc *marketplacesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "marketplace service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		imported, err := svc.ImportOpenOrders(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, importOrdersResponse{Imported: imported})
	}
}

// ImportMarketplaceOrder imports one Square order by id. Re-importing an
// order that already has a record is a no-op.
func ImportMarketplaceOrder(svc *marketplacesvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "marketplace service unavailable"))
			return
		}

		var payload importOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, created, err := svc.ImportOrder(r.Context(), payload.SquareOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		responses.WriteSuccessStatus(w, status, newFulfillmentResponse(record))
	}
}

type importOrderRequest struct {
	SquareOrderID string `json:"square_order_id" validate:"required,max=128"`
}

type importOrdersResponse struct {
	Imported int `json:"imported"`
}
