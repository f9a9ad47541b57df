package grid

import (
	"bitunix-grid-bot-go/internal/models"
	"crypto/md5"
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"
)

// Calculator derives the ladder of grid prices from the configured
// bounds. The price list is deterministic for a given config, so it is
// cached under a config hash and only recomputed after Invalidate or a
// parameter change.
type Calculator struct {
	cfg *models.GridConfig

	mu       sync.Mutex
	cacheKey string
	cached   []float64
}

// NewCalculator creates a calculator for the given grid config.
func NewCalculator(cfg *models.GridConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// configHash identifies the parameter set the cached ladder belongs to.
func (c *Calculator) configHash() string {
	raw := fmt.Sprintf("%.12f|%.12f|%d|%s|%.12f",
		c.cfg.UpperPrice, c.cfg.LowerPrice, c.cfg.GridLevels, c.cfg.GridMode, c.cfg.MinPriceStep)
	return fmt.Sprintf("%x", md5.Sum([]byte(raw)))
}

// PriceList returns the ascending list of grid prices. A grid with N
// levels has N+1 prices, both bounds included. Every price is aligned
// to the exchange tick; if two adjacent prices collide after rounding
// the configuration is rejected.
func (c *Calculator) PriceList() ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.configHash()
	if c.cached != nil && c.cacheKey == key {
		return c.cached, nil
	}

	n := c.cfg.GridLevels
	prices := make([]float64, 0, n+1)

	switch c.cfg.GridMode {
	case models.GridModeGeometric:
		ratio := math.Pow(c.cfg.UpperPrice/c.cfg.LowerPrice, 1/float64(n))
		price := c.cfg.LowerPrice
		for i := 0; i <= n; i++ {
			prices = append(prices, c.RoundToTick(price))
			price *= ratio
		}
	default: // arithmetic
		step := (c.cfg.UpperPrice - c.cfg.LowerPrice) / float64(n)
		for i := 0; i <= n; i++ {
			prices = append(prices, c.RoundToTick(c.cfg.LowerPrice+float64(i)*step))
		}
	}

	for i := 1; i < len(prices); i++ {
		if prices[i] <= prices[i-1] {
			return nil, &models.ConfigError{Field: "grid",
				Msg: fmt.Sprintf("levels %d and %d collide at %.12f after tick rounding; tick %v is too coarse",
					i-1, i, prices[i], c.cfg.MinPriceStep)}
		}
	}

	c.cacheKey = key
	c.cached = prices
	return prices, nil
}

// RoundToTick snaps a price onto the exchange tick grid. Ties round to
// the nearest even tick count (banker's rounding), so 0.5-tick
// remainders do not drift in one direction across the ladder.
func (c *Calculator) RoundToTick(price float64) float64 {
	tick := decimal.NewFromFloat(c.cfg.MinPriceStep)
	steps := decimal.NewFromFloat(price).Div(tick).RoundBank(0)
	out, _ := steps.Mul(tick).RoundBank(12).Float64()
	return out
}

// LevelCount returns the number of prices in the ladder.
func (c *Calculator) LevelCount() (int, error) {
	prices, err := c.PriceList()
	if err != nil {
		return 0, err
	}
	return len(prices), nil
}

// Span returns the distance between the outermost ladder prices.
func (c *Calculator) Span() (float64, error) {
	prices, err := c.PriceList()
	if err != nil {
		return 0, err
	}
	return prices[len(prices)-1] - prices[0], nil
}

// AverageStep returns the mean distance between adjacent ladder prices.
func (c *Calculator) AverageStep() (float64, error) {
	prices, err := c.PriceList()
	if err != nil {
		return 0, err
	}
	return (prices[len(prices)-1] - prices[0]) / float64(len(prices)-1), nil
}

// Invalidate drops the cached ladder; the next call recomputes it.
func (c *Calculator) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.cacheKey = ""
	c.mu.Unlock()
}
