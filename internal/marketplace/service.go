package marketplace

import (
	"context"
	"errors"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/internal/fulfillment"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/outbox"
	"github.com/cardmint/cardmint-backend/pkg/outbox/payloads"
	"github.com/cardmint/cardmint-backend/pkg/types"
)

// orderSource is the slice of the Square client the importer needs.
type orderSource interface {
	SearchOpenOrders(ctx context.Context, limit int) ([]*sq.Order, error)
	GetOrder(ctx context.Context, orderID string) (*sq.Order, error)
}

// Service pulls open Square orders into fulfillment records so marketplace
// sales ship through the same label pipeline as direct checkout. Imports
// are keyed on the Square order id; re-running the poll is harmless.
type Service struct {
	db      *gorm.DB
	records fulfillment.Repository
	source  orderSource
	events  *outbox.Service
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(db *gorm.DB, records fulfillment.Repository, source orderSource, events *outbox.Service, logg *logger.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if records == nil {
		return nil, errors.New("fulfillment repository is required")
	}
	if source == nil {
		return nil, errors.New("order source is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		db:      db,
		records: records,
		source:  source,
		events:  events,
		logg:    logg,
		now:     time.Now,
	}, nil
}

// ImportOpenOrders polls Square and imports what is new. One bad order
// does not stop the batch.
func (s *Service) ImportOpenOrders(ctx context.Context, limit int) (int, error) {
	orders, err := s.source.SearchOpenOrders(ctx, limit)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, order := range orders {
		orderID := strings.TrimSpace(stringValue(order.GetID()))
		if orderID == "" {
			continue
		}
		_, created, err := s.importOrder(ctx, order)
		if err != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{"square_order_id": orderID})
			s.logg.Error(logCtx, "import marketplace order", err)
			continue
		}
		if created {
			imported++
		}
	}
	return imported, nil
}

// ImportOrder fetches and imports a single Square order by id.
func (s *Service) ImportOrder(ctx context.Context, squareOrderID string) (*models.FulfillmentRecord, bool, error) {
	if strings.TrimSpace(squareOrderID) == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "square order id is required")
	}
	order, err := s.source.GetOrder(ctx, squareOrderID)
	if err != nil {
		return nil, false, err
	}
	return s.importOrder(ctx, order)
}

func (s *Service) importOrder(ctx context.Context, order *sq.Order) (*models.FulfillmentRecord, bool, error) {
	squareOrderID := strings.TrimSpace(stringValue(order.GetID()))
	if squareOrderID == "" {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "square order has no id")
	}

	importedAt := s.now()
	record := &models.FulfillmentRecord{
		Channel:       enums.ShipmentTypeMarketplace,
		SquareOrderID: &squareOrderID,
		Status:        enums.FulfillmentStatusPending,
		ImportedAt:    &importedAt,
	}
	applyRecipient(record, order)

	// An import without a shippable address needs operator eyes before
	// anyone buys a label.
	if record.ShippingAddress == nil || !record.ShippingAddress.Complete() {
		record.RequiresManualReview = true
	}

	var (
		got     *models.FulfillmentRecord
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRecords := s.records.WithTx(tx)
		var err error
		got, created, err = txRecords.CreateIfAbsent(ctx, record)
		if err != nil {
			return err
		}
		if !created || s.events == nil {
			return nil
		}
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventMarketplaceOrderImported,
			AggregateType: enums.AggregateFulfillmentRecord,
			AggregateID:   got.ID,
			Data: payloads.MarketplaceOrderImportedEvent{
				ShipmentID:    got.ID,
				SquareOrderID: squareOrderID,
				ImportedAt:    importedAt,
			},
		})
	})
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "import square order")
	}
	return got, created, nil
}

// applyRecipient copies the shipment recipient from the order's first
// shipment fulfillment, when Square has one.
func applyRecipient(record *models.FulfillmentRecord, order *sq.Order) {
	for _, f := range order.GetFulfillments() {
		details := f.GetShipmentDetails()
		if details == nil {
			continue
		}
		recipient := details.GetRecipient()
		if recipient == nil {
			continue
		}
		if email := strings.TrimSpace(stringValue(recipient.GetEmailAddress())); email != "" {
			record.RecipientEmail = &email
		}
		record.ShippingAddress = toAddress(recipient)
		return
	}
}

func toAddress(recipient *sq.FulfillmentRecipient) *types.Address {
	sqAddr := recipient.GetAddress()
	if sqAddr == nil {
		return nil
	}
	addr := &types.Address{
		Name:       stringValue(recipient.GetDisplayName()),
		Line1:      stringValue(sqAddr.GetAddressLine1()),
		Line2:      sqAddr.GetAddressLine2(),
		City:       stringValue(sqAddr.GetLocality()),
		State:      stringValue(sqAddr.GetAdministrativeDistrictLevel1()),
		PostalCode: stringValue(sqAddr.GetPostalCode()),
	}
	if country := sqAddr.GetCountry(); country != nil {
		addr.Country = string(*country)
	}
	if phone := strings.TrimSpace(stringValue(recipient.GetPhoneNumber())); phone != "" {
		addr.Phone = &phone
	}
	return addr
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
