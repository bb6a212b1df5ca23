package fulfillment

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/pkg/config"
	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/outbox"
	"github.com/cardmint/cardmint-backend/pkg/shipping"
	"github.com/cardmint/cardmint-backend/pkg/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:fulfillment_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.FulfillmentRecord{}, &models.ReviewAudit{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fakeShipper struct {
	purchases  int
	voids      []string
	err        error
	beforeErr  func()
	beforeDone func()
}

func (f *fakeShipper) PurchaseLabel(ctx context.Context, req shipping.PurchaseRequest) (*shipping.Label, error) {
	f.purchases++
	if f.err != nil {
		if f.beforeErr != nil {
			f.beforeErr()
		}
		return nil, f.err
	}
	if f.beforeDone != nil {
		f.beforeDone()
	}
	return &shipping.Label{
		ShipmentID:     "shp_" + req.Reference,
		TrackingNumber: "9400-" + req.Reference[:8],
		LabelURL:       "https://labels.example.com/" + req.Reference + ".pdf",
		Carrier:        "USPS",
		Service:        req.Service,
		RateCents:      525,
	}, nil
}

func (f *fakeShipper) VoidLabel(ctx context.Context, shipmentID string) error {
	f.voids = append(f.voids, shipmentID)
	return nil
}

type fakePrintQueue struct {
	enqueued []string
}

func (f *fakePrintQueue) EnqueueLabelJob(ctx context.Context, shipmentType enums.ShipmentType, shipmentID uuid.UUID, labelURL string) (*models.PrintQueueJob, bool, error) {
	f.enqueued = append(f.enqueued, labelURL)
	return &models.PrintQueueJob{ID: uuid.New(), ShipmentType: shipmentType, ShipmentID: shipmentID, LabelURL: labelURL}, true, nil
}

func newTestEnv(t *testing.T) (*Service, *gorm.DB, *fakeShipper, *fakePrintQueue) {
	t.Helper()
	db := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "fulfillment-test", Output: io.Discard})
	shipper := &fakeShipper{}
	queue := &fakePrintQueue{}
	svc, err := NewService(ServiceParams{
		DB:         db,
		Repo:       NewRepository(db),
		Shipper:    shipper,
		PrintQueue: queue,
		Events:     outbox.NewService(outbox.NewRepository(db), logg),
		Config:     config.FulfillmentConfig{LabelLockStaleAfter: 5 * time.Minute, DefaultWeightOz: 4, DefaultService: "GroundAdvantage"},
		Logger:     logg,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, db, shipper, queue
}

func seedRecord(t *testing.T, db *gorm.DB) models.FulfillmentRecord {
	t.Helper()
	sessionID := "cs_" + uuid.NewString()
	record := models.FulfillmentRecord{
		ID:                uuid.New(),
		Channel:           enums.ShipmentTypeOrder,
		ProviderSessionID: &sessionID,
		Status:            enums.FulfillmentStatusPending,
		ShippingAddress: &types.Address{
			Name:       "Ash Ketchum",
			Line1:      "1 Victory Rd",
			City:       "Indigo Plateau",
			State:      "CA",
			PostalCode: "94016",
			Country:    "US",
		},
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return record
}

func loadRecord(t *testing.T, db *gorm.DB, id uuid.UUID) models.FulfillmentRecord {
	t.Helper()
	var got models.FulfillmentRecord
	if err := db.First(&got, "id = ?", id).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	return got
}

func TestPurchaseLabelSettlesOnce(t *testing.T) {
	t.Parallel()

	svc, db, shipper, queue := newTestEnv(t)
	ctx := context.Background()
	record := seedRecord(t, db)
	operator := uuid.New()

	got, alreadyPurchased, err := svc.PurchaseLabel(ctx, record.ID, operator, nil)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if alreadyPurchased {
		t.Fatal("first purchase reported as already purchased")
	}
	if got.TrackingNumber == nil || got.LabelURL == nil {
		t.Fatalf("expected label recorded, got %+v", got)
	}
	if got.Status != enums.FulfillmentStatusLabelPurchased {
		t.Fatalf("expected label_purchased, got %s", got.Status)
	}
	if got.LabelPurchaseInProgress || got.LabelPurchaseLockedAt != nil {
		t.Fatalf("expected lock cleared, got in_progress=%v locked_at=%v", got.LabelPurchaseInProgress, got.LabelPurchaseLockedAt)
	}
	if shipper.purchases != 1 {
		t.Fatalf("expected 1 carrier purchase, got %d", shipper.purchases)
	}
	if len(queue.enqueued) != 1 {
		t.Fatalf("expected 1 print job, got %d", len(queue.enqueued))
	}

	var events int64
	if err := db.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventLabelPurchased).Count(&events).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected 1 label_purchased event, got %d", events)
	}

	// Retries after settlement never reach the carrier again.
	again, alreadyPurchased, err := svc.PurchaseLabel(ctx, record.ID, operator, nil)
	if err != nil {
		t.Fatalf("repeat purchase: %v", err)
	}
	if !alreadyPurchased {
		t.Fatal("repeat purchase must report the label as already purchased")
	}
	if *again.TrackingNumber != *got.TrackingNumber {
		t.Fatalf("expected same tracking, got %s and %s", *got.TrackingNumber, *again.TrackingNumber)
	}
	if shipper.purchases != 1 {
		t.Fatalf("expected carrier untouched on retry, got %d purchases", shipper.purchases)
	}
}

func TestPurchaseLabelBlockedByLiveLock(t *testing.T) {
	t.Parallel()

	svc, db, shipper, _ := newTestEnv(t)
	ctx := context.Background()
	record := seedRecord(t, db)

	lockedAt := time.Now().Add(-time.Minute)
	if err := db.Model(&models.FulfillmentRecord{}).Where("id = ?", record.ID).Updates(map[string]any{
		"label_purchase_in_progress": true,
		"label_purchase_locked_at":   lockedAt,
	}).Error; err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	_, _, err := svc.PurchaseLabel(ctx, record.ID, uuid.New(), nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if shipper.purchases != 0 {
		t.Fatalf("expected no carrier call, got %d", shipper.purchases)
	}
	// The holder's lease survives a losing attempt.
	got := loadRecord(t, db, record.ID)
	if !got.LabelPurchaseInProgress {
		t.Fatal("expected lease intact")
	}
}

func TestPurchaseLabelTakesOverStaleLock(t *testing.T) {
	t.Parallel()

	svc, db, shipper, _ := newTestEnv(t)
	ctx := context.Background()
	record := seedRecord(t, db)

	// A holder that died an hour ago no longer blocks the purchase.
	lockedAt := time.Now().Add(-time.Hour)
	if err := db.Model(&models.FulfillmentRecord{}).Where("id = ?", record.ID).Updates(map[string]any{
		"label_purchase_in_progress": true,
		"label_purchase_locked_at":   lockedAt,
	}).Error; err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	got, _, err := svc.PurchaseLabel(ctx, record.ID, uuid.New(), nil)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if got.TrackingNumber == nil {
		t.Fatal("expected label recorded")
	}
	if shipper.purchases != 1 {
		t.Fatalf("expected 1 carrier purchase, got %d", shipper.purchases)
	}
}

func TestPurchaseLabelReviewGate(t *testing.T) {
	t.Parallel()

	svc, db, shipper, _ := newTestEnv(t)
	ctx := context.Background()
	record := seedRecord(t, db)
	operator := uuid.New()

	if err := db.Model(&models.FulfillmentRecord{}).Where("id = ?", record.ID).
		Update("requires_manual_review", true).Error; err != nil {
		t.Fatalf("flag review: %v", err)
	}

	_, _, err := svc.PurchaseLabel(ctx, record.ID, operator, nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if shipper.purchases != 0 {
		t.Fatalf("expected no carrier call, got %d", shipper.purchases)
	}

	reason := "address verified by phone"
	got, _, err := svc.PurchaseLabel(ctx, record.ID, operator, &reason)
	if err != nil {
		t.Fatalf("override purchase: %v", err)
	}
	if got.TrackingNumber == nil {
		t.Fatal("expected label recorded")
	}

	var audits []models.ReviewAudit
	if err := db.Where("fulfillment_record_id = ?", record.ID).Find(&audits).Error; err != nil {
		t.Fatalf("load audits: %v", err)
	}
	if len(audits) != 1 || audits[0].Reason != reason {
		t.Fatalf("expected one audit with reason, got %+v", audits)
	}
}

func TestPurchaseLabelReleasesLockOnCarrierError(t *testing.T) {
	t.Parallel()

	svc, db, shipper, queue := newTestEnv(t)
	ctx := context.Background()
	record := seedRecord(t, db)
	shipper.err = pkgerrors.New(pkgerrors.CodeDependency, "carrier is down")

	_, _, err := svc.PurchaseLabel(ctx, record.ID, uuid.New(), nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}

	got := loadRecord(t, db, record.ID)
	if got.LabelPurchaseInProgress || got.LabelPurchaseLockedAt != nil {
		t.Fatal("expected lock released after carrier failure")
	}
	if got.TrackingNumber != nil {
		t.Fatal("expected no label recorded")
	}
	if len(queue.enqueued) != 0 {
		t.Fatalf("expected no print job, got %d", len(queue.enqueued))
	}

	// The record is immediately purchasable again.
	shipper.err = nil
	if _, _, err := svc.PurchaseLabel(ctx, record.ID, uuid.New(), nil); err != nil {
		t.Fatalf("retry purchase: %v", err)
	}
}

// A client disconnect mid-carrier-call cancels the request context; the
// lease must still be released or it strands until the staleness window.
func TestPurchaseLabelReleasesLockOnCancelledContext(t *testing.T) {
	t.Parallel()

	svc, db, shipper, _ := newTestEnv(t)
	record := seedRecord(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	shipper.err = context.Canceled
	shipper.beforeErr = cancel

	_, _, err := svc.PurchaseLabel(ctx, record.ID, uuid.New(), nil)
	if err == nil {
		t.Fatal("expected carrier error")
	}

	got := loadRecord(t, db, record.ID)
	if got.LabelPurchaseInProgress || got.LabelPurchaseLockedAt != nil {
		t.Fatal("expected lock released despite cancelled request context")
	}
}

func TestPurchaseLabelVoidsWhenCompetitorSettles(t *testing.T) {
	t.Parallel()

	svc, db, shipper, _ := newTestEnv(t)
	ctx := context.Background()
	record := seedRecord(t, db)

	// A competitor settles while this carrier call is in flight.
	shipper.beforeDone = func() {
		err := db.Model(&models.FulfillmentRecord{}).Where("id = ?", record.ID).Updates(map[string]any{
			"tracking_number":            "9400-competitor",
			"label_url":                  "https://labels.example.com/competitor.pdf",
			"status":                     enums.FulfillmentStatusLabelPurchased,
			"label_purchase_in_progress": false,
			"label_purchase_locked_at":   nil,
		}).Error
		if err != nil {
			t.Errorf("simulate competitor: %v", err)
		}
	}

	_, _, err := svc.PurchaseLabel(ctx, record.ID, uuid.New(), nil)
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(shipper.voids) != 1 {
		t.Fatalf("expected duplicate label voided, got %v", shipper.voids)
	}
	got := loadRecord(t, db, record.ID)
	if got.TrackingNumber == nil || *got.TrackingNumber != "9400-competitor" {
		t.Fatalf("expected competitor label kept, got %+v", got.TrackingNumber)
	}
}

func TestMarkShippedRequiresLabel(t *testing.T) {
	t.Parallel()

	svc, db, _, _ := newTestEnv(t)
	ctx := context.Background()
	record := seedRecord(t, db)

	if err := svc.MarkShipped(ctx, record.ID); !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict without label, got %v", err)
	}

	if _, _, err := svc.PurchaseLabel(ctx, record.ID, uuid.New(), nil); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := svc.MarkShipped(ctx, record.ID); err != nil {
		t.Fatalf("mark shipped: %v", err)
	}
	got := loadRecord(t, db, record.ID)
	if got.Status != enums.FulfillmentStatusShipped || got.ShippedAt == nil {
		t.Fatalf("expected shipped, got %s", got.Status)
	}

	if err := svc.MarkShipped(ctx, record.ID); !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected second ship to conflict, got %v", err)
	}
}

func TestReviewSettlesOnce(t *testing.T) {
	t.Parallel()

	svc, db, _, _ := newTestEnv(t)
	ctx := context.Background()
	record := seedRecord(t, db)
	if err := svc.FlagForReview(ctx, record.ID, true); err != nil {
		t.Fatalf("flag: %v", err)
	}

	operator := uuid.New()
	note := "looks fine"
	if err := svc.Review(ctx, record.ID, operator, &note); err != nil {
		t.Fatalf("review: %v", err)
	}
	got := loadRecord(t, db, record.ID)
	if got.RequiresManualReview || got.ReviewedAt == nil {
		t.Fatalf("expected review cleared, got %+v", got)
	}
	if got.ReviewedBy == nil || *got.ReviewedBy != operator {
		t.Fatalf("expected reviewer recorded, got %v", got.ReviewedBy)
	}

	if err := svc.Review(ctx, record.ID, uuid.New(), nil); !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected second review to conflict, got %v", err)
	}
}
