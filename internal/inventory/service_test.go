package inventory

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
	"github.com/cardmint/cardmint-backend/pkg/outbox"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "inventory-test", Output: io.Discard})
	events := outbox.NewService(outbox.NewRepository(db), logg)
	return NewService(db, NewRepository(db), events, logg), db
}

// panicRepository panics partway through a lot so the rollback path under
// panic unwinding can be exercised.
type panicRepository struct {
	Repository
	panicAfter int
	calls      int
}

func (p *panicRepository) Reserve(ctx context.Context, itemID uuid.UUID, sessionID string, expiresAt time.Time) (bool, error) {
	p.calls++
	if p.calls > p.panicAfter {
		panic("reserve blew up")
	}
	return p.Repository.Reserve(ctx, itemID, sessionID, expiresAt)
}

func itemStatus(t *testing.T, db *gorm.DB, id uuid.UUID) models.Item {
	t.Helper()
	var got models.Item
	if err := db.First(&got, "id = ?", id).Error; err != nil {
		t.Fatalf("load item: %v", err)
	}
	return got
}

func outboxEvents(t *testing.T, db *gorm.DB, eventType enums.OutboxEventType) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	if err := db.Where("event_type = ?", eventType).Find(&rows).Error; err != nil {
		t.Fatalf("load outbox: %v", err)
	}
	return rows
}

func TestReserveLotAllOrNothing(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	itemA := seedItem(t, db)
	itemB := seedItem(t, db)

	// Another session already holds B, so the lot must fail whole.
	if err := svc.Reserve(ctx, itemB.ID, "cs_other", 30*time.Minute); err != nil {
		t.Fatalf("seed hold: %v", err)
	}

	err := svc.ReserveLot(ctx, []uuid.UUID{itemA.ID, itemB.ID}, "cs_lot", 30*time.Minute)
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	gotA := itemStatus(t, db, itemA.ID)
	if gotA.Status != enums.ItemStatusInStock || gotA.ReservationSessionID != nil {
		t.Fatalf("hold on A not rolled back: %+v", gotA)
	}
	gotB := itemStatus(t, db, itemB.ID)
	if gotB.ReservationSessionID == nil || *gotB.ReservationSessionID != "cs_other" {
		t.Fatalf("competitor hold on B disturbed: %+v", gotB)
	}
}

// expiryRaceRepository hands an earlier hold in the lot to a rival session
// just before reporting the losing item, the way a TTL expiry followed by a
// rival reservation would mid-attempt.
type expiryRaceRepository struct {
	Repository
	db      *gorm.DB
	flipped uuid.UUID
	loseOn  uuid.UUID
}

func (r *expiryRaceRepository) Reserve(ctx context.Context, itemID uuid.UUID, sessionID string, expiresAt time.Time) (bool, error) {
	if itemID != r.loseOn {
		return r.Repository.Reserve(ctx, itemID, sessionID, expiresAt)
	}
	rivalExpiry := time.Now().Add(30 * time.Minute)
	err := r.db.Model(&models.Item{}).Where("id = ?", r.flipped).Updates(map[string]any{
		"reservation_session_id": "cs_rival",
		"reservation_expires_at": rivalExpiry,
	}).Error
	if err != nil {
		return false, err
	}
	return false, nil
}

func TestReserveLotRollbackSparesRivalHold(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	itemA := seedItem(t, db)
	itemB := seedItem(t, db)

	real := svc.repo
	svc.repo = &expiryRaceRepository{Repository: real, db: db, flipped: itemA.ID, loseOn: itemB.ID}
	defer func() { svc.repo = real }()

	err := svc.ReserveLot(ctx, []uuid.UUID{itemA.ID, itemB.ID}, "cs_lot", 30*time.Minute)
	if !pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// The rollback must only touch cs_lot's holds, never the rival's.
	got := itemStatus(t, db, itemA.ID)
	if got.Status != enums.ItemStatusReserved || got.ReservationSessionID == nil || *got.ReservationSessionID != "cs_rival" {
		t.Fatalf("rival hold dropped by rollback: %+v", got)
	}
}

func TestReserveLotSuccess(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	itemA := seedItem(t, db)
	itemB := seedItem(t, db)

	if err := svc.ReserveLot(ctx, []uuid.UUID{itemA.ID, itemB.ID}, "cs_lot", 30*time.Minute); err != nil {
		t.Fatalf("reserve lot: %v", err)
	}

	for _, id := range []uuid.UUID{itemA.ID, itemB.ID} {
		got := itemStatus(t, db, id)
		if got.Status != enums.ItemStatusReserved || got.ReservationSessionID == nil || *got.ReservationSessionID != "cs_lot" {
			t.Fatalf("item %s not held by lot session: %+v", id, got)
		}
	}
}

func TestReserveLotRollsBackOnPanic(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	itemA := seedItem(t, db)
	itemB := seedItem(t, db)

	real := svc.repo
	svc.repo = &panicRepository{Repository: real, panicAfter: 1}
	defer func() { svc.repo = real }()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = svc.ReserveLot(ctx, []uuid.UUID{itemA.ID, itemB.ID}, "cs_panic", 30*time.Minute)
	}()

	gotA := itemStatus(t, db, itemA.ID)
	if gotA.Status != enums.ItemStatusInStock || gotA.ReservationSessionID != nil {
		t.Fatalf("hold on A survived the panic: %+v", gotA)
	}
}

func TestReserveLotValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		ids     []uuid.UUID
		session string
		ttl     time.Duration
	}{
		{"no items", nil, "cs_1", time.Minute},
		{"no session", []uuid.UUID{uuid.New()}, "", time.Minute},
		{"zero ttl", []uuid.UUID{uuid.New()}, "cs_1", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.ReserveLot(ctx, tc.ids, tc.session, tc.ttl)
			if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestReleaseSessionEmitsOnce(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	itemA := seedItem(t, db)
	itemB := seedItem(t, db)

	if err := svc.ReserveLot(ctx, []uuid.UUID{itemA.ID, itemB.ID}, "cs_cancel", 30*time.Minute); err != nil {
		t.Fatalf("reserve lot: %v", err)
	}

	released, err := svc.ReleaseSession(ctx, "cs_cancel", "session_expired")
	if err != nil {
		t.Fatalf("release session: %v", err)
	}
	if released != 2 {
		t.Fatalf("expected 2 released, got %d", released)
	}

	events := outboxEvents(t, db, enums.EventReservationReleased)
	if len(events) != 1 {
		t.Fatalf("expected one release event, got %d", len(events))
	}

	// Re-releasing is a no-op and must not emit again.
	released, err = svc.ReleaseSession(ctx, "cs_cancel", "session_expired")
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected no-op, released %d", released)
	}
	if events := outboxEvents(t, db, enums.EventReservationReleased); len(events) != 1 {
		t.Fatalf("no-op release emitted an event, total %d", len(events))
	}
}

func TestReleaseExpiredSweep(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	stale := seedItem(t, db)
	live := seedItem(t, db)

	repo := NewRepository(db)
	if _, err := repo.Reserve(ctx, stale.ID, "cs_stale", now.Add(-time.Minute)); err != nil {
		t.Fatalf("reserve stale: %v", err)
	}
	if _, err := repo.Reserve(ctx, live.ID, "cs_live", now.Add(30*time.Minute)); err != nil {
		t.Fatalf("reserve live: %v", err)
	}

	released, err := svc.ReleaseExpired(ctx, now, 100)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected 1 released, got %d", released)
	}

	gotStale := itemStatus(t, db, stale.ID)
	if gotStale.Status != enums.ItemStatusInStock || gotStale.ReservationSessionID != nil {
		t.Fatalf("stale hold not released: %+v", gotStale)
	}
	gotLive := itemStatus(t, db, live.ID)
	if gotLive.Status != enums.ItemStatusReserved {
		t.Fatalf("live hold disturbed: %+v", gotLive)
	}

	events := outboxEvents(t, db, enums.EventReservationExpired)
	if len(events) != 1 {
		t.Fatalf("expected one expiry event, got %d", len(events))
	}

	// A second sweep finds nothing.
	released, err = svc.ReleaseExpired(ctx, now, 100)
	if err != nil || released != 0 {
		t.Fatalf("second sweep: released=%d err=%v", released, err)
	}
}

func TestCreateItemValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateItem(ctx, nil); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.CreateItem(ctx, &models.Item{Title: "no sku"}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
