package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/api/responses"
	"github.com/cardmint/cardmint-backend/api/validators"
	"github.com/cardmint/cardmint-backend/internal/inventory"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

// CreateItem lists a new collectible for sale.
func CreateItem(svc *inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
		}

		var payload createItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		currency := enums.CurrencyUSD
		if payload.Currency != "" {
			parsed, err := enums.ParseCurrency(payload.Currency)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency"))
				return
			}
			currency = parsed
		}

		item, err := svc.CreateItem(r.Context(), &models.Item{
			SKU:         validators.SanitizeString(payload.SKU, 64),
			Title:       validators.SanitizeString(payload.Title, 256),
			Description: payload.Description,
			Grade:       payload.Grade,
			PriceCents:  payload.PriceCents,
			Currency:    currency,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newItemResponse(item))
	}
}

// ListItems returns in-stock items, newest first.
func ListItems(svc *inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory service unavailable"))
			return
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

		items, err := svc.ListInStock(r.Context(), limit, offset)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]itemResponse, 0, len(items))
		for i := range items {
			out = append(out, newItemResponse(&items[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

type createItemRequest struct {
	SKU         string  `json:"sku" validate:"required,max=64"`
	Title       string  `json:"title" validate:"required,max=256"`
	Description *string `json:"description,omitempty"`
	Grade       *string `json:"grade,omitempty"`
	PriceCents  int64   `json:"price_cents" validate:"required,gt=0"`
	Currency    string  `json:"currency,omitempty"`
}

type itemResponse struct {
	ID         uuid.UUID  `json:"id"`
	SKU        string     `json:"sku"`
	Title      string     `json:"title"`
	Grade      *string    `json:"grade,omitempty"`
	PriceCents int64      `json:"price_cents"`
	Currency   string     `json:"currency"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ReservedTo *time.Time `json:"reserved_to,omitempty"`
}

func newItemResponse(item *models.Item) itemResponse {
	return itemResponse{
		ID:         item.ID,
		SKU:        item.SKU,
		Title:      item.Title,
		Grade:      item.Grade,
		PriceCents: item.PriceCents,
		Currency:   item.Currency.String(),
		Status:     item.Status.String(),
		CreatedAt:  item.CreatedAt,
		ReservedTo: item.ReservationExpiresAt,
	}
}
