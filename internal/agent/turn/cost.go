package turn

import "github.com/pi-run/pi/internal/llm"

// CostAccumulator tracks cumulative USD cost across a run's turns and
// reports which configured alert thresholds have newly been crossed.
type CostAccumulator struct {
	cfg           Config
	cumulativeUSD float64
	crossed       map[int]bool
}

// NewCostAccumulator builds an accumulator for cfg's per-million rates and
// budget thresholds.
func NewCostAccumulator(cfg Config) *CostAccumulator {
	return &CostAccumulator{cfg: cfg, crossed: map[int]bool{}}
}

// Add folds in one turn's usage and returns the turn's cost plus the
// sorted list of percent thresholds newly crossed by the updated
// cumulative total (empty if BudgetUSD is unset or no new threshold was
// crossed).
func (c *CostAccumulator) Add(usage llm.Usage) (turnCostUSD float64, newlyCrossed []int) {
	turnCostUSD = usage.cost(c.cfg)
	c.cumulativeUSD += turnCostUSD

	if c.cfg.BudgetUSD <= 0 {
		return turnCostUSD, nil
	}
	percent := (c.cumulativeUSD / c.cfg.BudgetUSD) * 100
	for _, threshold := range c.cfg.BudgetAlertThresholds {
		if c.crossed[threshold] {
			continue
		}
		if percent >= float64(threshold) {
			c.crossed[threshold] = true
			newlyCrossed = append(newlyCrossed, threshold)
		}
	}
	return turnCostUSD, newlyCrossed
}

// Cumulative returns the running total in USD.
func (c *CostAccumulator) Cumulative() float64 { return c.cumulativeUSD }

// BudgetExceeded reports whether cumulative cost has reached BudgetUSD
// (only meaningful when BudgetUSD > 0).
func (c *CostAccumulator) BudgetExceeded() bool {
	return c.cfg.BudgetUSD > 0 && c.cumulativeUSD >= c.cfg.BudgetUSD
}

func (u llm.Usage) cost(cfg Config) float64 {
	nonCachedInput := u.InputTokens - u.CachedInputTokens
	if nonCachedInput < 0 {
		nonCachedInput = 0
	}
	inputCost := float64(nonCachedInput) / 1_000_000 * cfg.CostPerMillionInput
	cachedCost := float64(u.CachedInputTokens) / 1_000_000 * cfg.CostPerMillionCachedInput
	outputCost := float64(u.OutputTokens) / 1_000_000 * cfg.CostPerMillionOutput
	return inputCost + cachedCost + outputCost
}
