package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Item{}, &models.OutboxEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedItem(t *testing.T, db *gorm.DB) models.Item {
	t.Helper()
	item := models.Item{
		ID:         uuid.New(),
		SKU:        "CM-" + uuid.NewString()[:8],
		Title:      "Charizard Holo PSA 9",
		PriceCents: 45000,
		Currency:   enums.CurrencyUSD,
		Status:     enums.ItemStatusInStock,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

func TestReserveSingleWinner(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	item := seedItem(t, db)
	expiry := time.Now().Add(30 * time.Minute)

	winners := 0
	for _, session := range []string{"cs_1", "cs_2", "cs_3", "cs_4"} {
		won, err := repo.Reserve(ctx, item.ID, session, expiry)
		if err != nil {
			t.Fatalf("reserve: %v", err)
		}
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning session, got %d", winners)
	}

	var got models.Item
	if err := db.First(&got, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if got.Status != enums.ItemStatusReserved {
		t.Fatalf("unexpected status %q", got.Status)
	}
	if got.ReservationSessionID == nil || *got.ReservationSessionID != "cs_1" {
		t.Fatalf("unexpected owner %v", got.ReservationSessionID)
	}
}

func TestReserveSameSessionPromotes(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	item := seedItem(t, db)

	won, err := repo.Reserve(ctx, item.ID, "cs_1", time.Now().Add(time.Minute))
	if err != nil || !won {
		t.Fatalf("initial reserve: won=%v err=%v", won, err)
	}

	// Same owner re-reserving extends the hold instead of conflicting.
	later := time.Now().Add(30 * time.Minute)
	won, err = repo.Reserve(ctx, item.ID, "cs_1", later)
	if err != nil || !won {
		t.Fatalf("promote reserve: won=%v err=%v", won, err)
	}

	var got models.Item
	if err := db.First(&got, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if got.ReservationExpiresAt == nil || got.ReservationExpiresAt.Sub(later).Abs() > time.Second {
		t.Fatalf("expiry not extended: %v", got.ReservationExpiresAt)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	item := seedItem(t, db)

	if _, err := repo.Reserve(ctx, item.ID, "cs_1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	won, err := repo.Release(ctx, item.ID)
	if err != nil || !won {
		t.Fatalf("first release: won=%v err=%v", won, err)
	}
	won, err = repo.Release(ctx, item.ID)
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if won {
		t.Fatal("second release should be a no-op")
	}

	var got models.Item
	if err := db.First(&got, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if got.Status != enums.ItemStatusInStock || got.ReservationSessionID != nil {
		t.Fatalf("unexpected state after release: %+v", got)
	}
}

func TestMarkSoldDuplicateWebhookSafe(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	item := seedItem(t, db)

	if _, err := repo.Reserve(ctx, item.ID, "cs_1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	won, err := repo.MarkSold(ctx, item.ID, "ch_123")
	if err != nil || !won {
		t.Fatalf("first markSold: won=%v err=%v", won, err)
	}
	won, err = repo.MarkSold(ctx, item.ID, "ch_123")
	if err != nil {
		t.Fatalf("second markSold: %v", err)
	}
	if won {
		t.Fatal("duplicate markSold should report already sold")
	}

	var got models.Item
	if err := db.First(&got, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if got.Status != enums.ItemStatusSold {
		t.Fatalf("unexpected status %q", got.Status)
	}
	if got.ChargeReference == nil || *got.ChargeReference != "ch_123" {
		t.Fatalf("charge reference not recorded: %v", got.ChargeReference)
	}
	if got.ReservationSessionID != nil || got.ReservationExpiresAt != nil {
		t.Fatalf("reservation fields not cleared: %+v", got)
	}
}

func TestMarkSoldAfterExpiredHold(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	item := seedItem(t, db)

	// The sweep released the hold before a slow webhook arrived.
	if _, err := repo.Reserve(ctx, item.ID, "cs_1", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := repo.Release(ctx, item.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	won, err := repo.MarkSold(ctx, item.ID, "ch_456")
	if err != nil || !won {
		t.Fatalf("markSold after expiry: won=%v err=%v", won, err)
	}
}

func TestRestoreFromRefund(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	item := seedItem(t, db)

	if _, err := repo.Reserve(ctx, item.ID, "cs_1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := repo.MarkSold(ctx, item.ID, "ch_789"); err != nil {
		t.Fatalf("markSold: %v", err)
	}

	won, err := repo.RestoreFromRefund(ctx, item.ID)
	if err != nil || !won {
		t.Fatalf("restore: won=%v err=%v", won, err)
	}
	won, err = repo.RestoreFromRefund(ctx, item.ID)
	if err != nil {
		t.Fatalf("second restore: %v", err)
	}
	if won {
		t.Fatal("second restore should be a no-op")
	}

	var got models.Item
	if err := db.First(&got, "id = ?", item.ID).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	if got.Status != enums.ItemStatusInStock || got.ChargeReference != nil {
		t.Fatalf("unexpected state after restore: %+v", got)
	}
}

func TestFindExpiredReservations(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now()

	expired := seedItem(t, db)
	live := seedItem(t, db)

	if _, err := repo.Reserve(ctx, expired.ID, "cs_old", now.Add(-time.Minute)); err != nil {
		t.Fatalf("reserve expired: %v", err)
	}
	if _, err := repo.Reserve(ctx, live.ID, "cs_new", now.Add(30*time.Minute)); err != nil {
		t.Fatalf("reserve live: %v", err)
	}

	found, err := repo.FindExpiredReservations(ctx, now, 10)
	if err != nil {
		t.Fatalf("find expired: %v", err)
	}
	if len(found) != 1 || found[0].ID != expired.ID {
		t.Fatalf("unexpected expired set: %+v", found)
	}
}
