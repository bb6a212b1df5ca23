package marketplace

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/internal/fulfillment"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/outbox"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:marketplace_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.FulfillmentRecord{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeSource struct {
	orders []*sq.Order
	byID   map[string]*sq.Order
}

func (f *fakeSource) SearchOpenOrders(ctx context.Context, limit int) ([]*sq.Order, error) {
	return f.orders, nil
}

func (f *fakeSource) GetOrder(ctx context.Context, orderID string) (*sq.Order, error) {
	return f.byID[orderID], nil
}

func newTestService(t *testing.T, source *fakeSource) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "marketplace-test", Output: io.Discard})
	svc, err := NewService(db, fulfillment.NewRepository(db), source, outbox.NewService(outbox.NewRepository(db), logg), logg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, db
}

func ptr[T any](v T) *T { return &v }

func squareOrder(id string, withAddress bool) *sq.Order {
	order := &sq.Order{ID: ptr(id)}
	recipient := &sq.FulfillmentRecipient{
		DisplayName:  ptr("Misty Waterflower"),
		EmailAddress: ptr("misty@example.com"),
	}
	if withAddress {
		country := sq.Country("US")
		recipient.Address = &sq.Address{
			AddressLine1:                 ptr("42 Gym St"),
			Locality:                     ptr("Cerulean City"),
			AdministrativeDistrictLevel1: ptr("WA"),
			PostalCode:                   ptr("98101"),
			Country:                      &country,
		}
	}
	order.Fulfillments = []*sq.Fulfillment{
		{ShipmentDetails: &sq.FulfillmentShipmentDetails{Recipient: recipient}},
	}
	return order
}

func TestImportOrderCreatesRecordOnce(t *testing.T) {
	t.Parallel()

	order := squareOrder("sq_ord_1", true)
	source := &fakeSource{byID: map[string]*sq.Order{"sq_ord_1": order}}
	svc, db := newTestService(t, source)
	ctx := context.Background()

	record, created, err := svc.ImportOrder(ctx, "sq_ord_1")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !created {
		t.Fatal("expected record created")
	}
	if record.Channel != enums.ShipmentTypeMarketplace {
		t.Fatalf("expected marketplace channel, got %s", record.Channel)
	}
	if record.SquareOrderID == nil || *record.SquareOrderID != "sq_ord_1" {
		t.Fatalf("expected square order id recorded, got %v", record.SquareOrderID)
	}
	if record.RequiresManualReview {
		t.Fatal("complete address should not need review")
	}
	if record.RecipientEmail == nil || *record.RecipientEmail != "misty@example.com" {
		t.Fatalf("expected recipient email, got %v", record.RecipientEmail)
	}
	if record.ShippingAddress == nil || record.ShippingAddress.City != "Cerulean City" {
		t.Fatalf("expected shipping address mapped, got %+v", record.ShippingAddress)
	}
	if record.ImportedAt == nil {
		t.Fatal("expected imported_at set")
	}

	// Re-polls see the same order again; nothing duplicates.
	again, created, err := svc.ImportOrder(ctx, "sq_ord_1")
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if created {
		t.Fatal("expected replay absorbed")
	}
	if again.ID != record.ID {
		t.Fatalf("expected same record, got %s and %s", record.ID, again.ID)
	}

	var count int64
	if err := db.Model(&models.FulfillmentRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}
	var events int64
	if err := db.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventMarketplaceOrderImported).Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected 1 imported event, got %d", events)
	}
}

func TestImportOrderWithoutAddressNeedsReview(t *testing.T) {
	t.Parallel()

	order := squareOrder("sq_ord_2", false)
	source := &fakeSource{byID: map[string]*sq.Order{"sq_ord_2": order}}
	svc, _ := newTestService(t, source)

	record, _, err := svc.ImportOrder(context.Background(), "sq_ord_2")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !record.RequiresManualReview {
		t.Fatal("expected missing address to flag manual review")
	}
}

func TestImportOpenOrdersCountsNewOnly(t *testing.T) {
	t.Parallel()

	source := &fakeSource{orders: []*sq.Order{
		squareOrder("sq_ord_a", true),
		squareOrder("sq_ord_b", true),
		{ID: nil}, // orders without an id are skipped
	}}
	svc, _ := newTestService(t, source)
	ctx := context.Background()

	imported, err := svc.ImportOpenOrders(ctx, 50)
	if err != nil {
		t.Fatalf("import batch: %v", err)
	}
	if imported != 2 {
		t.Fatalf("expected 2 imports, got %d", imported)
	}

	imported, err = svc.ImportOpenOrders(ctx, 50)
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if imported != 0 {
		t.Fatalf("expected replayed batch to import nothing, got %d", imported)
	}
}
