package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardmint/cardmint-backend/pkg/db/models"
	"github.com/cardmint/cardmint-backend/pkg/enums"
)

func seedOrder(t *testing.T, repo Repository, seq int, session string) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderNumber:       FormatOrderNumber("20260831", seq),
		DayPrefix:         "20260831",
		DaySeq:            seq,
		ProviderSessionID: session,
		CustomerEmail:     "buyer@example.com",
		TotalCents:        12500,
		Currency:          enums.CurrencyUSD,
		Status:            enums.OrderStatusConfirmed,
		Items: []models.OrderItem{
			{ItemID: uuid.New(), Title: "Blastoise 1st Edition", PriceCents: 12500},
		},
	}
	require.NoError(t, repo.Create(context.Background(), order))
	return order
}

func TestRepositoryMaxDaySeq(t *testing.T) {
	t.Parallel()

	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	max, err := repo.MaxDaySeq(ctx, "20260831")
	require.NoError(t, err)
	assert.Zero(t, max, "empty day starts at zero")

	seedOrder(t, repo, 1, "cs_one")
	seedOrder(t, repo, 2, "cs_two")

	max, err = repo.MaxDaySeq(ctx, "20260831")
	require.NoError(t, err)
	assert.Equal(t, 2, max)

	max, err = repo.MaxDaySeq(ctx, "20260901")
	require.NoError(t, err)
	assert.Zero(t, max, "sequence resets per day prefix")
}

func TestRepositoryFindByProviderSessionID(t *testing.T) {
	t.Parallel()

	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	created := seedOrder(t, repo, 1, "cs_lookup")

	found, err := repo.FindByProviderSessionID(ctx, "cs_lookup")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "Blastoise 1st Edition", found.Items[0].Title)

	missing, err := repo.FindByProviderSessionID(ctx, "cs_absent")
	require.NoError(t, err)
	assert.Nil(t, missing, "unknown session is not an error")
}

func TestRepositoryMarkRefundedWinsOnce(t *testing.T) {
	t.Parallel()

	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	order := seedOrder(t, repo, 1, "cs_refund_repo")
	at := time.Now().UTC()

	won, err := repo.MarkRefunded(ctx, order.ID, at)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.MarkRefunded(ctx, order.ID, at)
	require.NoError(t, err)
	assert.False(t, won, "second refund matches no rows")

	got, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusRefunded, got.Status)
	require.NotNil(t, got.RefundedAt)
}

func TestRepositoryListNewestFirst(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	older := seedOrder(t, repo, 1, "cs_older")
	require.NoError(t, db.Model(&models.Order{}).
		Where("id = ?", older.ID).
		Update("created_at", time.Now().Add(-time.Hour)).Error)
	newer := seedOrder(t, repo, 2, "cs_newer")

	rows, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.ID, rows[0].ID)
	assert.Equal(t, older.ID, rows[1].ID)

	rows, err = repo.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, older.ID, rows[0].ID)
}
