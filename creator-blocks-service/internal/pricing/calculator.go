package pricing

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vidora-tv/vidora-backend/creator-blocks-service/internal/models"
)

// Calculator converts content sizes into billable storage blocks and
// prices them against a ledger snapshot. It is stateless and never
// mutates the ledger; callers apply credit consumption when an operation
// actually commits.
type Calculator struct {
	logger *zap.Logger
	config *Config
	price  decimal.Decimal
	rates  map[string]float64
}

// Config represents block pricing configuration
type Config struct {
	// Size of one billable block in GB
	BlockSizeGB float64 `yaml:"block_size_gb"`

	// Price of one block
	PricePerBlock float64 `yaml:"price_per_block"`

	// Grace window after creator approval, in months
	GraceMonths int `yaml:"grace_months"`

	// Promotional credit lifetime, in days
	PromoExpiryDays int `yaml:"promo_expiry_days"`

	// One-time allowance credited at creator approval
	GraceGrantBlocks int64 `yaml:"grace_grant_blocks"`

	// Blocks per scheduled promotional grant
	PromoGrantBlocks int64 `yaml:"promo_grant_blocks"`

	// Size estimate rates by resolution (GB per minute)
	EstimateRates map[string]float64 `yaml:"estimate_rates"`
}

// DefaultEstimateRates are the heuristic GB-per-minute rates by
// resolution. Unknown resolutions fall back to 1080p.
var DefaultEstimateRates = map[string]float64{
	"720p":  0.0183,
	"1080p": 0.0365,
	"4k":    0.1095,
}

// NewCalculator creates a new block calculator
func NewCalculator(config *Config, logger *zap.Logger) *Calculator {
	rates := make(map[string]float64)
	for res, rate := range DefaultEstimateRates {
		rates[res] = rate
	}
	for res, rate := range config.EstimateRates {
		rates[strings.ToLower(res)] = rate
	}

	return &Calculator{
		logger: logger,
		config: config,
		price:  decimal.NewFromFloat(config.PricePerBlock),
		rates:  rates,
	}
}

// EstimateSizeGB returns a best-effort size estimate from duration and
// resolution. It is a heuristic, never authoritative; the video host
// reports the final size used at finalize time.
func (c *Calculator) EstimateSizeGB(durationMinutes float64, resolution string) float64 {
	rate, ok := c.rates[strings.ToLower(strings.TrimSpace(resolution))]
	if !ok {
		c.logger.Debug("Unknown resolution, defaulting to 1080p",
			zap.String("resolution", resolution),
		)
		rate = c.rates["1080p"]
	}
	return durationMinutes * rate
}

// BlocksNeeded returns how many whole blocks cover the given size.
// Sizes round up and every upload consumes at least one block.
func (c *Calculator) BlocksNeeded(sizeGB float64) (int64, error) {
	if sizeGB <= 0 || math.IsNaN(sizeGB) || math.IsInf(sizeGB, 0) {
		return 0, models.NewInvalidSizeError(sizeGB)
	}
	blocks := int64(math.Ceil(sizeGB / c.config.BlockSizeGB))
	if blocks < 1 {
		blocks = 1
	}
	return blocks, nil
}

// PricePerBlock returns the configured unit price.
func (c *Calculator) PricePerBlock() decimal.Decimal {
	return c.price
}

// GraceGrantBlocks returns the one-time allowance credited at approval.
func (c *Calculator) GraceGrantBlocks() int64 {
	return c.config.GraceGrantBlocks
}

// PromoGrantBlocks returns the size of a scheduled promotional grant.
func (c *Calculator) PromoGrantBlocks() int64 {
	return c.config.PromoGrantBlocks
}

// Cost prices a block count against a ledger snapshot. The grace-period
// waiver is checked first; remaining blocks consume unexpired promotional
// credits ordered soonest-expiring first. No mutation happens here.
func (c *Calculator) Cost(blocksNeeded int64, ledger *models.Ledger, now time.Time) *models.Quote {
	quote := &models.Quote{
		BlocksNeeded:  blocksNeeded,
		PricePerBlock: c.price,
		CalculatedAt:  now,
	}

	free := int64(0)
	if ledger != nil {
		if ledger.InGrace(now) {
			free = blocksNeeded
			quote.GraceApplied = true
		} else {
			for _, credit := range ledger.ActiveCredits(now) {
				if free >= blocksNeeded {
					break
				}
				applied := credit.Blocks
				if free+applied > blocksNeeded {
					applied = blocksNeeded - free
				}
				free += applied
				quote.AppliedCreditIDs = append(quote.AppliedCreditIDs, credit.ID)
			}
		}
	}

	quote.FreeBlocksApplied = free
	quote.ChargeableBlocks = blocksNeeded - free
	if quote.ChargeableBlocks < 0 {
		quote.ChargeableBlocks = 0
	}
	quote.TotalPrice = c.price.Mul(decimal.NewFromInt(quote.ChargeableBlocks))

	return quote
}

// PurchaseCost prices a block purchase. Unlike Cost, the grace waiver
// does not apply: grace already granted free capacity up front, and
// purchased blocks are charged in full. Unexpired promotional credits
// still discount the purchase, soonest-expiring first.
func (c *Calculator) PurchaseCost(blocksRequested int64, ledger *models.Ledger, now time.Time) *models.Quote {
	quote := &models.Quote{
		BlocksNeeded:  blocksRequested,
		PricePerBlock: c.price,
		CalculatedAt:  now,
	}

	free := int64(0)
	if ledger != nil {
		for _, credit := range ledger.ActiveCredits(now) {
			if free >= blocksRequested {
				break
			}
			applied := credit.Blocks
			if free+applied > blocksRequested {
				applied = blocksRequested - free
			}
			free += applied
			quote.AppliedCreditIDs = append(quote.AppliedCreditIDs, credit.ID)
		}
	}

	quote.FreeBlocksApplied = free
	quote.ChargeableBlocks = blocksRequested - free
	quote.TotalPrice = c.price.Mul(decimal.NewFromInt(quote.ChargeableBlocks))
	return quote
}

// GraceEnd computes the grace-window end for a creator approved at the
// given time.
func (c *Calculator) GraceEnd(joinedAt time.Time) time.Time {
	return joinedAt.AddDate(0, c.config.GraceMonths, 0)
}

// PromoExpiry computes the expiry for a promotional credit granted at the
// given time.
func (c *Calculator) PromoExpiry(grantedAt time.Time) time.Time {
	return grantedAt.AddDate(0, 0, c.config.PromoExpiryDays)
}
