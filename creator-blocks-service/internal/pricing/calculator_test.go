package pricing

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
)

func testCalculator(t *testing.T) *Calculator {
	t.Helper()
	return NewCalculator(&Config{
		BlockSizeGB:      7.3,
		PricePerBlock:    9.90,
		GraceMonths:      3,
		PromoExpiryDays:  30,
		GraceGrantBlocks: 2,
		PromoGrantBlocks: 1,
	}, zap.NewNop())
}

func TestBlocksNeeded(t *testing.T) {
	calc := testCalculator(t)

	tests := []struct {
		name   string
		sizeGB float64
		want   int64
	}{
		{"exact two blocks", 14.6, 2},
		{"just over one block", 7.31, 2},
		{"exactly one block", 7.3, 1},
		{"tiny file still costs one block", 0.001, 1},
		{"large file", 73.0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := calc.BlocksNeeded(tt.sizeGB)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBlocksNeeded_InvalidSize(t *testing.T) {
	calc := testCalculator(t)

	for _, sizeGB := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := calc.BlocksNeeded(sizeGB)
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrInvalidSize)
	}
}

func TestEstimateSizeGB(t *testing.T) {
	calc := testCalculator(t)

	tests := []struct {
		name       string
		minutes    float64
		resolution string
		want       float64
	}{
		{"720p", 100, "720p", 1.83},
		{"1080p", 100, "1080p", 3.65},
		{"4k", 100, "4k", 10.95},
		{"unknown defaults to 1080p", 100, "8k", 3.65},
		{"case insensitive", 100, "4K", 10.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, calc.EstimateSizeGB(tt.minutes, tt.resolution), 1e-9)
		})
	}
}

func TestCost_NoFreeBlocks(t *testing.T) {
	calc := testCalculator(t)
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	ledger := &models.Ledger{
		CreatorID: "creator-1",
		JoinedAt:  now.AddDate(0, -6, 0),
		GraceEnd:  now.AddDate(0, -3, 0),
	}

	quote := calc.Cost(3, ledger, now)
	assert.Equal(t, int64(3), quote.BlocksNeeded)
	assert.Equal(t, int64(0), quote.FreeBlocksApplied)
	assert.True(t, quote.TotalPrice.Equal(decimal.NewFromFloat(9.90).Mul(decimal.NewFromInt(3))),
		"got %s", quote.TotalPrice)
}

func TestCost_GraceWaiverWithPromoCredit(t *testing.T) {
	calc := testCalculator(t)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	ledger := &models.Ledger{
		CreatorID: "creator-1",
		JoinedAt:  now.AddDate(0, -1, 0),
		GraceEnd:  now.AddDate(0, 2, 0),
		Credits: []models.PromotionalCredit{
			{ID: uuid.New(), Blocks: 1, GrantedAt: now.AddDate(0, 0, -5), ExpiresAt: now.AddDate(0, 0, 25)},
		},
	}

	quote := calc.Cost(1, ledger, now)
	assert.Equal(t, int64(1), quote.FreeBlocksApplied)
	assert.True(t, quote.TotalPrice.IsZero(), "got %s", quote.TotalPrice)
	assert.True(t, quote.GraceApplied)
}

func TestCost_ExpiredCreditNotApplied(t *testing.T) {
	calc := testCalculator(t)
	granted := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	ledger := &models.Ledger{
		CreatorID: "creator-1",
		GraceEnd:  granted.AddDate(0, -9, 0),
		Credits: []models.PromotionalCredit{
			{ID: uuid.New(), Blocks: 1, GrantedAt: granted, ExpiresAt: granted.AddDate(0, 0, 30)},
		},
	}

	quote := calc.Cost(1, ledger, now)
	assert.Equal(t, int64(0), quote.FreeBlocksApplied)
	assert.True(t, quote.TotalPrice.Equal(decimal.NewFromFloat(9.90)), "got %s", quote.TotalPrice)
}

func TestCost_CreditsConsumedSoonestExpiringFirst(t *testing.T) {
	calc := testCalculator(t)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	soon := uuid.New()
	later := uuid.New()
	ledger := &models.Ledger{
		CreatorID: "creator-1",
		GraceEnd:  now.AddDate(0, -9, 0),
		Credits: []models.PromotionalCredit{
			{ID: later, Blocks: 1, GrantedAt: now.AddDate(0, 0, -1), ExpiresAt: now.AddDate(0, 0, 29)},
			{ID: soon, Blocks: 1, GrantedAt: now.AddDate(0, 0, -25), ExpiresAt: now.AddDate(0, 0, 5)},
		},
	}

	quote := calc.Cost(1, ledger, now)
	require.Len(t, quote.AppliedCreditIDs, 1)
	assert.Equal(t, soon, quote.AppliedCreditIDs[0])
}

func TestPurchaseCost_GraceDoesNotDiscount(t *testing.T) {
	calc := testCalculator(t)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	ledger := &models.Ledger{
		CreatorID: "creator-1",
		GraceEnd:  now.AddDate(0, 2, 0), // still in grace
	}

	quote := calc.PurchaseCost(3, ledger, now)
	assert.Equal(t, int64(0), quote.FreeBlocksApplied)
	assert.True(t, quote.TotalPrice.Equal(decimal.NewFromFloat(9.90).Mul(decimal.NewFromInt(3))))
}

func TestPurchaseCost_CreditsDiscount(t *testing.T) {
	calc := testCalculator(t)
	now := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	creditID := uuid.New()
	ledger := &models.Ledger{
		CreatorID: "creator-1",
		GraceEnd:  now.AddDate(0, -9, 0),
		Credits: []models.PromotionalCredit{
			{ID: creditID, Blocks: 1, GrantedAt: now.AddDate(0, 0, -2), ExpiresAt: now.AddDate(0, 0, 28)},
		},
	}

	quote := calc.PurchaseCost(3, ledger, now)
	assert.Equal(t, int64(1), quote.FreeBlocksApplied)
	assert.Equal(t, int64(2), quote.ChargeableBlocks)
	assert.Equal(t, []uuid.UUID{creditID}, quote.AppliedCreditIDs)
	assert.True(t, quote.TotalPrice.Equal(decimal.NewFromFloat(9.90).Mul(decimal.NewFromInt(2))))
}

func TestGraceEndAndPromoExpiry(t *testing.T) {
	calc := testCalculator(t)
	joined := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC), calc.GraceEnd(joined))
	assert.Equal(t, joined.AddDate(0, 0, 30), calc.PromoExpiry(joined))
}
