package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/internal/checkout"
	"github.com/cardmint/cardmint-backend/internal/email"
	"github.com/cardmint/cardmint-backend/internal/fulfillment"
	"github.com/cardmint/cardmint-backend/internal/inventory"
	"github.com/cardmint/cardmint-backend/internal/orders"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/outbox"
)

type testTxRunner struct {
	db *gorm.DB
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(fn)
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := "file:stripewebhook_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	err = db.AutoMigrate(
		&models.Item{},
		&models.Order{},
		&models.OrderItem{},
		&models.WebhookEvent{},
		&models.FulfillmentRecord{},
		&models.EmailTask{},
		&models.OutboxEvent{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logg := logger.New(logger.Options{ServiceName: "stripewebhook-test", Output: io.Discard})
	events := outbox.NewService(outbox.NewRepository(db), logg)
	ordersRepo := orders.NewRepository(db)
	svc, err := NewService(ServiceParams{
		TransactionRunner: &testTxRunner{db: db},
		WebhookRepo:       NewRepository(db),
		InventoryRepo:     inventory.NewRepository(db),
		OrdersRepo:        ordersRepo,
		OrdersService:     orders.NewService(db, ordersRepo, nil, logg),
		FulfillmentRepo:   fulfillment.NewRepository(db),
		EmailRepo:         email.NewRepository(db),
		Outbox:            events,
		Logger:            logg,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc, db
}

func seedReservedItem(t *testing.T, db *gorm.DB, reservationID string) models.Item {
	t.Helper()
	session := reservationID
	expires := time.Now().Add(30 * time.Minute)
	item := models.Item{
		ID:                   uuid.New(),
		SKU:                  "CM-" + uuid.NewString()[:8],
		Title:                "Pikachu Illustrator",
		PriceCents:           90000,
		Currency:             enums.CurrencyUSD,
		Status:               enums.ItemStatusReserved,
		ReservationSessionID: &session,
		ReservationExpiresAt: &expires,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

func completedEvent(t *testing.T, eventID, sessionID, reservationID string, itemIDs []uuid.UUID) *stripe.Event {
	t.Helper()
	session := map[string]any{
		"id":           sessionID,
		"amount_total": 90000,
		"currency":     "usd",
		"payment_intent": map[string]any{
			"id": "pi_" + sessionID,
		},
		"customer_details": map[string]any{
			"email": "buyer@example.com",
			"name":  "Casey Buyer",
			"address": map[string]any{
				"line1":       "1 Card St",
				"city":        "Austin",
				"state":       "TX",
				"postal_code": "78701",
				"country":     "US",
			},
		},
		"metadata": map[string]string{
			checkout.MetadataReservationID: reservationID,
			checkout.MetadataItemIDs:       checkout.EncodeItemIDs(itemIDs),
		},
	}
	raw, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return &stripe.Event{
		ID:   eventID,
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleSessionCompletedMaterializesOnce(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	item := seedReservedItem(t, db, "rs_1")
	event := completedEvent(t, "evt_1", "cs_1", "rs_1", []uuid.UUID{item.ID})

	outcome, err := svc.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome.Idempotent || outcome.OrderNumber == "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	var got models.Item
	if err := db.First(&got, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if got.Status != enums.ItemStatusSold {
		t.Fatalf("item not sold: %+v", got)
	}
	if got.ChargeReference == nil || *got.ChargeReference != "pi_cs_1" {
		t.Fatalf("charge reference wrong: %v", got.ChargeReference)
	}

	var record models.FulfillmentRecord
	if err := db.First(&record, "provider_session_id = ?", "cs_1").Error; err != nil {
		t.Fatalf("fulfillment record missing: %v", err)
	}
	if record.Channel != enums.ShipmentTypeOrder || record.OrderID == nil {
		t.Fatalf("unexpected record: %+v", record)
	}

	var tasks int64
	if err := db.Model(&models.EmailTask{}).Count(&tasks).Error; err != nil {
		t.Fatalf("count tasks: %v", err)
	}
	if tasks != 1 {
		t.Fatalf("expected one email task, got %d", tasks)
	}

	var webhookRow models.WebhookEvent
	if err := db.First(&webhookRow, "provider_event_id = ?", "evt_1").Error; err != nil {
		t.Fatalf("webhook row missing: %v", err)
	}
	if webhookRow.Status != enums.WebhookEventStatusProcessed || webhookRow.OrderID == nil {
		t.Fatalf("webhook row not settled: %+v", webhookRow)
	}
}

func TestHandleSessionCompletedReplay(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	item := seedReservedItem(t, db, "rs_2")
	event := completedEvent(t, "evt_2", "cs_2", "rs_2", []uuid.UUID{item.ID})

	first, err := svc.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	second, err := svc.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Idempotent {
		t.Fatal("replay must be idempotent")
	}
	if second.OrderNumber != first.OrderNumber {
		t.Fatalf("replay returned different order: %q vs %q", second.OrderNumber, first.OrderNumber)
	}

	var orderCount, taskCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	db.Model(&models.EmailTask{}).Count(&taskCount)
	if orderCount != 1 || taskCount != 1 {
		t.Fatalf("replay duplicated work: orders=%d tasks=%d", orderCount, taskCount)
	}
}

func TestHandleSessionCompletedConcurrentDeliveries(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	// Stripe can deliver the same session under two different event ids.
	item := seedReservedItem(t, db, "rs_3")
	eventA := completedEvent(t, "evt_3a", "cs_3", "rs_3", []uuid.UUID{item.ID})
	eventB := completedEvent(t, "evt_3b", "cs_3", "rs_3", []uuid.UUID{item.ID})

	first, err := svc.HandleEvent(ctx, eventA)
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	second, err := svc.HandleEvent(ctx, eventB)
	if err != nil {
		t.Fatalf("second event: %v", err)
	}
	if !second.Idempotent {
		t.Fatal("second delivery must adopt the existing order")
	}
	if second.OrderNumber != first.OrderNumber {
		t.Fatalf("different orders materialized: %q vs %q", second.OrderNumber, first.OrderNumber)
	}

	var orderCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	if orderCount != 1 {
		t.Fatalf("expected one order, got %d", orderCount)
	}
}

func TestHandleSessionExpiredReleasesHolds(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	item := seedReservedItem(t, db, "rs_4")
	session := map[string]any{
		"id": "cs_4",
		"metadata": map[string]string{
			checkout.MetadataReservationID: "rs_4",
			checkout.MetadataItemIDs:       checkout.EncodeItemIDs([]uuid.UUID{item.ID}),
		},
	}
	raw, _ := json.Marshal(session)
	event := &stripe.Event{
		ID:   "evt_4",
		Type: stripe.EventTypeCheckoutSessionExpired,
		Data: &stripe.EventData{Raw: raw},
	}

	if _, err := svc.HandleEvent(ctx, event); err != nil {
		t.Fatalf("handle expired: %v", err)
	}

	var got models.Item
	if err := db.First(&got, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if got.Status != enums.ItemStatusInStock || got.ReservationSessionID != nil {
		t.Fatalf("hold not released: %+v", got)
	}
}

func TestHandleChargeRefundedRestoresItems(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	item := seedReservedItem(t, db, "rs_5")
	completed := completedEvent(t, "evt_5", "cs_5", "rs_5", []uuid.UUID{item.ID})
	outcome, err := svc.HandleEvent(ctx, completed)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}

	charge := map[string]any{
		"id": "ch_5",
		"payment_intent": map[string]any{
			"id": "pi_cs_5",
		},
	}
	raw, _ := json.Marshal(charge)
	refund := &stripe.Event{
		ID:   "evt_5r",
		Type: stripe.EventTypeChargeRefunded,
		Data: &stripe.EventData{Raw: raw},
	}

	refundOutcome, err := svc.HandleEvent(ctx, refund)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refundOutcome.OrderID == nil || *refundOutcome.OrderID != *outcome.OrderID {
		t.Fatalf("refund resolved wrong order: %+v", refundOutcome)
	}

	var got models.Item
	if err := db.First(&got, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if got.Status != enums.ItemStatusInStock || got.ChargeReference != nil {
		t.Fatalf("item not restored: %+v", got)
	}

	var order models.Order
	if err := db.First(&order, "id = ?", *outcome.OrderID).Error; err != nil {
		t.Fatalf("load order: %v", err)
	}
	if order.Status != enums.OrderStatusRefunded || order.RefundedAt == nil {
		t.Fatalf("order not refunded: %+v", order)
	}

	var refundTasks int64
	db.Model(&models.EmailTask{}).Where("kind = ?", enums.EmailTaskKindRefundNotice).Count(&refundTasks)
	if refundTasks != 1 {
		t.Fatalf("expected one refund notice, got %d", refundTasks)
	}
}

func TestHandleUnknownEventTypeSkipped(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	event := &stripe.Event{
		ID:   "evt_other",
		Type: stripe.EventType("invoice.paid"),
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	first, err := svc.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("unknown event must be accepted: %v", err)
	}
	if first.Idempotent {
		t.Fatal("first delivery is not a replay")
	}

	var row models.WebhookEvent
	if err := db.First(&row, "provider_event_id = ?", "evt_other").Error; err != nil {
		t.Fatalf("ledger row missing: %v", err)
	}
	if row.Status != enums.WebhookEventStatusSkipped || row.ProcessedAt == nil {
		t.Fatalf("row not skipped: %+v", row)
	}

	second, err := svc.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !second.Idempotent {
		t.Fatal("redelivery of a skipped event must replay from the ledger")
	}
}

func TestHandleSessionCompletedFailureRecordedAndResumed(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	item := seedReservedItem(t, db, "rs_6")
	// The session names an item that does not exist, so the first
	// delivery fails after the ledger row is committed.
	event := completedEvent(t, "evt_6", "cs_6", "rs_6", []uuid.UUID{item.ID, uuid.New()})

	if _, err := svc.HandleEvent(ctx, event); err == nil {
		t.Fatal("expected first delivery to fail")
	}

	var row models.WebhookEvent
	if err := db.First(&row, "provider_event_id = ?", "evt_6").Error; err != nil {
		t.Fatalf("failed delivery left no ledger row: %v", err)
	}
	if row.Status != enums.WebhookEventStatusReceived {
		t.Fatalf("failed delivery must stay at received: %+v", row)
	}
	if row.LastError == nil || *row.LastError == "" {
		t.Fatal("failure not recorded on the ledger row")
	}
	if row.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", row.Attempts)
	}

	// The provider retries with a payload that now resolves.
	retry := completedEvent(t, "evt_6", "cs_6", "rs_6", []uuid.UUID{item.ID})
	outcome, err := svc.HandleEvent(ctx, retry)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if outcome.OrderNumber == "" {
		t.Fatalf("retry did not settle: %+v", outcome)
	}

	if err := db.First(&row, "provider_event_id = ?", "evt_6").Error; err != nil {
		t.Fatalf("reload row: %v", err)
	}
	if row.Status != enums.WebhookEventStatusProcessed || row.LastError != nil {
		t.Fatalf("retry did not settle the row: %+v", row)
	}
	if row.Attempts != 2 {
		t.Fatalf("resume must count the attempt, got %d", row.Attempts)
	}
}
