package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/cardmint/cardmint-backend/internal/inventory"
	"github.com/cardmint/cardmint-backend/pkg/config"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

// Metadata keys written onto the provider session. The webhook consumer
// reads them back to settle items and release holds.
const (
	MetadataReservationID = "reservation_session_id"
	MetadataItemIDs       = "item_ids"
)

// SessionResult is what the storefront needs to send the buyer to payment.
type SessionResult struct {
	SessionID     string    `json:"session_id"`
	URL           string    `json:"url"`
	ReservationID string    `json:"reservation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Service places holds and opens provider checkout sessions. Holds are
// taken before the provider call so a buyer is never sent to pay for an
// item that someone else is already buying.
type Service struct {
	inventory *inventory.Service
	provider  StripeCheckoutClient
	cfg       config.CheckoutConfig
	logg      *logger.Logger
}

func NewService(inv *inventory.Service, provider StripeCheckoutClient, cfg config.CheckoutConfig, logg *logger.Logger) *Service {
	return &Service{
		inventory: inv,
		provider:  provider,
		cfg:       cfg,
		logg:      logg,
	}
}

// CreateSession opens a checkout session for one item.
func (s *Service) CreateSession(ctx context.Context, itemID uuid.UUID, customerEmail string) (*SessionResult, error) {
	return s.CreateLotSession(ctx, []uuid.UUID{itemID}, customerEmail)
}

// CreateLotSession holds every item, then opens one provider session for
// the lot. Any provider failure releases the holds before returning.
func (s *Service) CreateLotSession(ctx context.Context, itemIDs []uuid.UUID, customerEmail string) (*SessionResult, error) {
	if len(itemIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}

	items, err := s.inventory.GetItems(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	if len(items) != len(itemIDs) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "one or more items do not exist")
	}

	reservationID := "rs_" + uuid.NewString()
	if err := s.inventory.ReserveLot(ctx, itemIDs, reservationID, s.cfg.ReservationTTL); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.cfg.ReservationTTL)
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(s.cfg.SuccessURL),
		CancelURL:  stripe.String(s.cfg.CancelURL),
		ExpiresAt:  stripe.Int64(expiresAt.Unix()),
	}
	if customerEmail != "" {
		params.CustomerEmail = stripe.String(customerEmail)
	}
	for _, item := range items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(item.Currency.String())),
				UnitAmount: stripe.Int64(item.PriceCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Title),
				},
			},
		})
	}
	params.AddMetadata(MetadataReservationID, reservationID)
	params.AddMetadata(MetadataItemIDs, EncodeItemIDs(itemIDs))

	session, err := s.provider.CreateSession(ctx, params)
	if err != nil {
		if _, relErr := s.inventory.ReleaseSession(ctx, reservationID, "provider_error"); relErr != nil && s.logg != nil {
			s.logg.Error(ctx, "release holds after provider failure", relErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	return &SessionResult{
		SessionID:     session.ID,
		URL:           session.URL,
		ReservationID: reservationID,
		ExpiresAt:     expiresAt,
	}, nil
}

// Cancel releases the holds behind a provider session, but only after
// confirming with the provider that the session is unpaid. When payment
// state cannot be verified the holds stay in place; the TTL sweep will
// reclaim them if the session truly died.
func (s *Service) Cancel(ctx context.Context, providerSessionID string) (int64, error) {
	if providerSessionID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	session, err := s.provider.GetSession(ctx, providerSessionID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "verify session payment state")
	}
	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
		return 0, pkgerrors.New(pkgerrors.CodeConflict, "session is already paid")
	}

	reservationID := session.Metadata[MetadataReservationID]
	if reservationID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "session carries no reservation")
	}
	return s.inventory.ReleaseSession(ctx, reservationID, "cancelled")
}

// EncodeItemIDs renders item ids as session metadata.
func EncodeItemIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

// DecodeItemIDs parses the item_ids metadata value.
func DecodeItemIDs(raw string) ([]uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item_ids metadata is empty")
	}
	parts := strings.Split(raw, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, part := range parts {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse item id metadata")
		}
		ids = append(ids, id)
	}
	return ids, nil
}
