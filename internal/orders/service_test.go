package orders

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
	pkgerrors "github.com/cardmint/cardmint-backend/pkg/errors"
	"github.com/cardmint/cardmint-backend/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Order{}, &models.OrderItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	return NewService(db, NewRepository(db), nil, logg), db
}

func testDraft(session string) Draft {
	return Draft{
		ProviderSessionID: session,
		CustomerEmail:     "buyer@example.com",
		TotalCents:        45000,
		Currency:          enums.CurrencyUSD,
		Items: []models.OrderItem{
			{ItemID: uuid.New(), Title: "Charizard Holo PSA 9", PriceCents: 45000},
		},
	}
}

func TestFormatOrderNumber(t *testing.T) {
	t.Parallel()

	if got := FormatOrderNumber("20260831", 7); got != "CM-20260831-0007" {
		t.Fatalf("unexpected order number %q", got)
	}
	if got := FormatOrderNumber("20260831", 10042); got != "CM-20260831-10042" {
		t.Fatalf("padding must not truncate: %q", got)
	}
}

func TestMaterializeAssignsSequentialNumbers(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	svc.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	first, adopted, err := svc.Materialize(ctx, db, testDraft("cs_a"))
	if err != nil || adopted {
		t.Fatalf("first materialize: adopted=%v err=%v", adopted, err)
	}
	second, adopted, err := svc.Materialize(ctx, db, testDraft("cs_b"))
	if err != nil || adopted {
		t.Fatalf("second materialize: adopted=%v err=%v", adopted, err)
	}

	if first.OrderNumber != "CM-20260831-0001" {
		t.Fatalf("unexpected first number %q", first.OrderNumber)
	}
	if second.OrderNumber != "CM-20260831-0002" {
		t.Fatalf("unexpected second number %q", second.OrderNumber)
	}
	if len(first.Items) != 1 {
		t.Fatalf("items not persisted: %+v", first.Items)
	}
}

func TestMaterializeReplayReturnsSameOrder(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	first, _, err := svc.Materialize(ctx, db, testDraft("cs_replay"))
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}

	again, adopted, err := svc.Materialize(ctx, db, testDraft("cs_replay"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !adopted {
		t.Fatal("replay must report the order as adopted")
	}
	if again.ID != first.ID || again.OrderNumber != first.OrderNumber {
		t.Fatalf("replay returned a different order: %s vs %s", again.OrderNumber, first.OrderNumber)
	}

	var count int64
	if err := db.Model(&models.Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one order row, got %d", count)
	}
}

func TestMaterializeValidation(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Materialize(ctx, db, Draft{CustomerEmail: "x@example.com"}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, _, err := svc.Materialize(ctx, db, Draft{ProviderSessionID: "cs_x"}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMarkRefundedIdempotent(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	order, _, err := svc.Materialize(ctx, db, testDraft("cs_refund"))
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}

	now := time.Now()
	won, err := svc.Refund(ctx, db, order.ID, now)
	if err != nil || !won {
		t.Fatalf("first refund: won=%v err=%v", won, err)
	}
	won, err = svc.Refund(ctx, db, order.ID, now)
	if err != nil {
		t.Fatalf("second refund: %v", err)
	}
	if won {
		t.Fatal("repeat refund should be a no-op")
	}

	got, err := svc.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != enums.OrderStatusRefunded || got.RefundedAt == nil {
		t.Fatalf("unexpected state: %+v", got)
	}
}

// conflictRepository simulates the unique violations Postgres raises under
// concurrent allocation; sqlite error text does not carry constraint
// names, so these branches are driven directly.
type conflictRepository struct {
	Repository
	createErrs []error
	creates    int
	adopted    *models.Order
}

func (c *conflictRepository) WithTx(tx *gorm.DB) Repository { return c }

func (c *conflictRepository) MaxDaySeq(ctx context.Context, dayPrefix string) (int, error) {
	return c.creates, nil
}

func (c *conflictRepository) FindByProviderSessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	if c.creates == 0 {
		return nil, nil
	}
	return c.adopted, nil
}

func (c *conflictRepository) Create(ctx context.Context, order *models.Order) error {
	idx := c.creates
	c.creates++
	if idx < len(c.createErrs) {
		return c.createErrs[idx]
	}
	return nil
}

func TestMaterializeRetriesSequenceConflict(t *testing.T) {
	t.Parallel()

	seqConflict := errors.New(`duplicate key value violates unique constraint "ux_orders_day_seq"`)
	fake := &conflictRepository{createErrs: []error{seqConflict, seqConflict}}
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	svc := NewService(newTestDB(t), fake, nil, logg)

	order, adopted, err := svc.Materialize(context.Background(), nil, testDraft("cs_race"))
	if err != nil || adopted {
		t.Fatalf("materialize: adopted=%v err=%v", adopted, err)
	}
	if fake.creates != 3 {
		t.Fatalf("expected 3 create attempts, got %d", fake.creates)
	}
	if order.DaySeq != 3 {
		t.Fatalf("sequence not re-read between attempts: %d", order.DaySeq)
	}
}

func TestMaterializeGivesUpAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	seqConflict := errors.New(`duplicate key value violates unique constraint "ux_orders_day_seq"`)
	fake := &conflictRepository{createErrs: []error{seqConflict, seqConflict, seqConflict, seqConflict}}
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	svc := NewService(newTestDB(t), fake, nil, logg)

	_, _, err := svc.Materialize(context.Background(), nil, testDraft("cs_storm"))
	if !pkgerrors.HasCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if fake.creates != 3 {
		t.Fatalf("expected exactly 3 create attempts, got %d", fake.creates)
	}
}

// poisonedCreateRepository performs the real insert and then reports the
// unique violation a concurrent writer would have raised, so the attempt's
// row must be rolled back before the allocation is retried.
type poisonedCreateRepository struct {
	Repository
	failures *int
}

func (p *poisonedCreateRepository) WithTx(tx *gorm.DB) Repository {
	return &poisonedCreateRepository{Repository: p.Repository.WithTx(tx), failures: p.failures}
}

func (p *poisonedCreateRepository) Create(ctx context.Context, order *models.Order) error {
	if err := p.Repository.Create(ctx, order); err != nil {
		return err
	}
	if *p.failures > 0 {
		*p.failures--
		return errors.New(`duplicate key value violates unique constraint "ux_orders_day_seq"`)
	}
	return nil
}

func TestMaterializeDiscardsFailedAttemptWrites(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	failures := 1
	repo := &poisonedCreateRepository{Repository: NewRepository(db), failures: &failures}
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	svc := NewService(db, repo, nil, logg)
	svc.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }

	var order *models.Order
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		order, _, txErr = svc.Materialize(context.Background(), tx, testDraft("cs_savepoint"))
		return txErr
	})
	if err != nil {
		t.Fatalf("materialize inside enclosing transaction: %v", err)
	}
	if order.OrderNumber != "CM-20260831-0001" {
		t.Fatalf("failed attempt's row leaked into the sequence: %q", order.OrderNumber)
	}

	var count int64
	if err := db.Model(&models.Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("rolled-back attempt left %d order rows", count)
	}
}

func TestMaterializeAdoptsCompetitorOrder(t *testing.T) {
	t.Parallel()

	winner := &models.Order{
		ID:                uuid.New(),
		OrderNumber:       "CM-20260831-0001",
		ProviderSessionID: "cs_adopt",
	}
	sessionConflict := errors.New(`duplicate key value violates unique constraint "ux_orders_provider_session"`)
	fake := &conflictRepository{createErrs: []error{sessionConflict}, adopted: winner}
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	svc := NewService(newTestDB(t), fake, nil, logg)

	order, adopted, err := svc.Materialize(context.Background(), nil, testDraft("cs_adopt"))
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if !adopted {
		t.Fatal("competitor's order must be adopted")
	}
	if order.ID != winner.ID {
		t.Fatalf("wrong order adopted: %s", order.ID)
	}
	if fake.creates != 1 {
		t.Fatalf("session conflict must not retry, attempts %d", fake.creates)
	}
}
