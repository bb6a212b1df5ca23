package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/api/middleware"
	"github.com/cardmint/cardmint-backend/api/responses"
	"github.com/cardmint/cardmint-backend/api/validators"
	fulfillmentsvc "github.com/cardmint/cardmint-backend/internal/fulfillment"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

// PurchaseLabel buys the shipping label for one fulfillment record. The
// purchase is serialized on the record's lock, so concurrent operators
// get at most one label.
func PurchaseLabel(svc *fulfillmentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		recordID, err := parseUUIDParam(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		operatorID := middleware.OperatorIDFromContext(r.Context())
		if operatorID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity missing"))
			return
		}

		var payload purchaseLabelRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, alreadyPurchased, err := svc.PurchaseLabel(r.Context(), recordID, operatorID, payload.OverrideReason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, purchaseLabelResponse{
			fulfillmentResponse: newFulfillmentResponse(record),
			AlreadyPurchased:    alreadyPurchased,
		})
	}
}

// ReviewFulfillment marks a flagged record as reviewed.
func ReviewFulfillment(svc *fulfillmentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		recordID, err := parseUUIDParam(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		operatorID := middleware.OperatorIDFromContext(r.Context())
		if operatorID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity missing"))
			return
		}

		var payload reviewFulfillmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Review(r.Context(), recordID, operatorID, payload.Note); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

// FlagFulfillment toggles the manual review requirement.
func FlagFulfillment(svc *fulfillmentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		recordID, err := parseUUIDParam(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload flagFulfillmentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.FlagForReview(r.Context(), recordID, payload.Required); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

// ShipFulfillment records that the labeled package was handed to the carrier.
func ShipFulfillment(svc *fulfillmentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		recordID, err := parseUUIDParam(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.MarkShipped(r.Context(), recordID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, nil)
	}
}

// GetFulfillment returns one fulfillment record.
func GetFulfillment(svc *fulfillmentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		recordID, err := parseUUIDParam(r, "recordId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Get(r.Context(), recordID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newFulfillmentResponse(record))
	}
}

// ListFulfillments returns fulfillment records, optionally filtered by status.
func ListFulfillments(svc *fulfillmentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		var status *enums.FulfillmentStatus
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			parsed, err := enums.ParseFulfillmentStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown fulfillment status"))
				return
			}
			status = &parsed
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		records, err := svc.List(r.Context(), status, limit, offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]fulfillmentResponse, 0, len(records))
		for i := range records {
			out = append(out, newFulfillmentResponse(&records[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// FulfillmentStats returns record counts per status.
func FulfillmentStats(svc *fulfillmentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}

		counts, err := svc.StatusCounts(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make(map[string]int64, len(counts))
		for status, count := range counts {
			out[status.String()] = count
		}
		responses.WriteSuccess(w, out)
	}
}

type purchaseLabelRequest struct {
	OverrideReason *string `json:"override_reason,omitempty" validate:"omitempty,min=3,max=512"`
}

type reviewFulfillmentRequest struct {
	Note *string `json:"note,omitempty" validate:"omitempty,max=512"`
}

type flagFulfillmentRequest struct {
	Required bool `json:"required"`
}

type purchaseLabelResponse struct {
	fulfillmentResponse
	AlreadyPurchased bool `json:"already_purchased"`
}

type fulfillmentResponse struct {
	ID                   uuid.UUID  `json:"id"`
	Channel              string     `json:"channel"`
	OrderID              *uuid.UUID `json:"order_id,omitempty"`
	SquareOrderID        *string    `json:"square_order_id,omitempty"`
	Status               string     `json:"status"`
	RecipientEmail       *string    `json:"recipient_email,omitempty"`
	Carrier              *string    `json:"carrier,omitempty"`
	TrackingNumber       *string    `json:"tracking_number,omitempty"`
	LabelURL             *string    `json:"label_url,omitempty"`
	LabelCostCents       *int64     `json:"label_cost_cents,omitempty"`
	RequiresManualReview bool       `json:"requires_manual_review"`
	ReviewedAt           *time.Time `json:"reviewed_at,omitempty"`
	ShippedAt            *time.Time `json:"shipped_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

func newFulfillmentResponse(record *models.FulfillmentRecord) fulfillmentResponse {
	return fulfillmentResponse{
		ID:                   record.ID,
		Channel:              record.Channel.String(),
		OrderID:              record.OrderID,
		SquareOrderID:        record.SquareOrderID,
		Status:               record.Status.String(),
		RecipientEmail:       record.RecipientEmail,
		Carrier:              record.Carrier,
		TrackingNumber:       record.TrackingNumber,
		LabelURL:             record.LabelURL,
		LabelCostCents:       record.LabelCostCents,
		RequiresManualReview: record.RequiresManualReview,
		ReviewedAt:           record.ReviewedAt,
		ShippedAt:            record.ShippedAt,
		CreatedAt:            record.CreatedAt,
	}
}
