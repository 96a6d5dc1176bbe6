package economy

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/mini-economy/internal/ledger"
)

// PricingConfig controls how listing prices respond to market pressure.
type PricingConfig struct {
	MaxChange         float64 `yaml:"max_change" toml:"max_change" json:"max_change"`                         // per-cycle clamp on relative change
	PriceFloor        float64 `yaml:"price_floor" toml:"price_floor" json:"price_floor"`                      // smallest allowed price
	MenuCost          float64 `yaml:"menu_cost" toml:"menu_cost" json:"menu_cost"`                            // 0 disables menu costs
	ForceAfter        int     `yaml:"force_after" toml:"force_after" json:"force_after"`                      // cycles without change before a forced adjustment
	StockWeight       float64 `yaml:"stock_weight" toml:"stock_weight" json:"stock_weight"`                   //
	DemandWeight      float64 `yaml:"demand_weight" toml:"demand_weight" json:"demand_weight"`                //
	CompetitionWeight float64 `yaml:"competition_weight" toml:"competition_weight" json:"competition_weight"` //
	ShockPremium      float64 `yaml:"shock_premium" toml:"shock_premium" json:"shock_premium"`                // extra upward pressure while a macro shock is on
	InflationPass     float64 `yaml:"inflation_pass" toml:"inflation_pass" json:"inflation_pass"`             // share of last cycle's inflation passed through
	CostWeight        float64 `yaml:"cost_weight" toml:"cost_weight" json:"cost_weight"`                      // pull toward the price that earns the normal margin
	Noise             float64 `yaml:"noise" toml:"noise" json:"noise"`                                        // amplitude of idiosyncratic noise
	DemandDecay       float64 `yaml:"demand_decay" toml:"demand_decay" json:"demand_decay"`                   // geometric decay for cycles without demand
	TargetCover       float64 `yaml:"target_cover" toml:"target_cover" json:"target_cover"`                   // shelf stock before trading, as a multiple of expected demand
}

// DefaultPricingConfig returns moderate, sticky pricing.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		MaxChange:         0.04,
		PriceFloor:        0.01,
		MenuCost:          1.0,
		ForceAfter:        6,
		StockWeight:       0.6,
		DemandWeight:      0.3,
		CompetitionWeight: 0.2,
		ShockPremium:      0.1,
		InflationPass:     0.3,
		CostWeight:        0.2,
		Noise:             0.01,
		DemandDecay:       0.8,
		TargetCover:       1.5,
	}
}

// Validate checks the configuration for impossible values.
func (c PricingConfig) Validate() error {
	if c.MaxChange <= 0 || c.MaxChange >= 1 {
		return fmt.Errorf("pricing: max_change must be in (0,1), got %v", c.MaxChange)
	}
	if c.PriceFloor <= 0 {
		return fmt.Errorf("pricing: price_floor must be positive, got %v", c.PriceFloor)
	}
	if c.MenuCost < 0 {
		return fmt.Errorf("pricing: menu_cost must not be negative, got %v", c.MenuCost)
	}
	if c.ForceAfter < 1 {
		return fmt.Errorf("pricing: force_after must be at least 1, got %d", c.ForceAfter)
	}
	if c.DemandDecay < 0 || c.DemandDecay >= 1 {
		return fmt.Errorf("pricing: demand_decay must be in [0,1), got %v", c.DemandDecay)
	}
	if c.TargetCover <= 0 {
		return fmt.Errorf("pricing: target_cover must be positive, got %v", c.TargetCover)
	}
	if c.InflationPass < 0 || c.InflationPass > 1 {
		return fmt.Errorf("pricing: inflation_pass must be in [0,1], got %v", c.InflationPass)
	}
	if c.CostWeight < 0 {
		return fmt.Errorf("pricing: cost_weight must not be negative, got %v", c.CostWeight)
	}
	return nil
}

// PricingInput is the frozen view of one listing the engine prices from.
// Stock is what is left after trading; Listing.Sold is what went.
type PricingInput struct {
	Listing     Listing
	Stock       int
	Params      CategoryParams
	DemandTrend float64
	Expected    float64 // expected units sold per cycle
	RivalMean   float64 // mean price of other sellers of the same good, 0 if none
	CostPrice   float64 // unit labor cost marked up to the opening margin, 0 if unknown
	Noise       float64 // pre-drawn, in [-1, 1]
}

// MarketContext carries the macro conditions for a pricing round.
type MarketContext struct {
	Cycle     uint64
	Shock     bool
	Inflation float64
}

// PriceUpdate is the proposed new price of one listing.
type PriceUpdate struct {
	Firm     ledger.AgentID `json:"firm"`
	Good     ledger.GoodID  `json:"good"`
	Old      float64        `json:"old"`
	New      float64        `json:"new"`
	Changed  bool           `json:"changed"`
	Clamped  bool           `json:"clamped"`
	Floored  bool           `json:"floored"`
	Sticky   bool           `json:"sticky"` // skipped because of menu cost
	Forced   bool           `json:"forced"` // adjusted because ForceAfter elapsed
	RawDelta float64        `json:"raw_delta"`
}

// PricingEngine computes price adjustments. It holds no per-run state, so
// one engine may price any number of listings concurrently.
type PricingEngine struct {
	cfg     PricingConfig
	workers int
}

// NewPricingEngine creates a pricing engine.
func NewPricingEngine(cfg PricingConfig) *PricingEngine {
	return &PricingEngine{cfg: cfg, workers: runtime.GOMAXPROCS(0)}
}

// Config returns the engine's configuration.
func (e *PricingEngine) Config() PricingConfig { return e.cfg }

// AdjustPrices prices every input concurrently and returns the updates in
// input order. Inputs are read-only; nothing is mutated here.
func (e *PricingEngine) AdjustPrices(ctx context.Context, inputs []PricingInput, mc MarketContext) ([]PriceUpdate, error) {
	updates := make([]PriceUpdate, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			u, err := e.adjust(inputs[i], mc)
			if err != nil {
				return err
			}
			updates[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return updates, nil
}

// adjust prices a single listing.
func (e *PricingEngine) adjust(in PricingInput, mc MarketContext) (PriceUpdate, error) {
	price := in.Listing.Price
	u := PriceUpdate{Firm: in.Listing.Firm, Good: in.Listing.Good, Old: price, New: price}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return u, fmt.Errorf("listing firm %d good %d has invalid price %v", in.Listing.Firm, in.Listing.Good, price)
	}

	stockPressure := e.inventoryPressure(in)

	// Inelastic goods pass more pressure into price.
	elasticity := math.Abs(in.Params.Elasticity)
	if elasticity < 0.2 {
		elasticity = 0.2
	}
	scale := clamp(1/elasticity, 0.5, 2)

	competition := 0.0
	if in.RivalMean > 0 {
		competition = clamp((in.RivalMean-price)/in.RivalMean, -1, 1)
	}

	cost := 0.0
	if in.CostPrice > 0 {
		cost = clamp((in.CostPrice-price)/price, -1, 1)
	}

	// Pass-through is bounded so last cycle's inflation cannot compound.
	macro := e.cfg.InflationPass * clamp(mc.Inflation, -e.cfg.MaxChange, e.cfg.MaxChange)
	if mc.Shock {
		macro += e.cfg.ShockPremium
	}

	raw := (e.cfg.StockWeight*stockPressure+e.cfg.DemandWeight*in.DemandTrend)*scale +
		e.cfg.CompetitionWeight*competition + e.cfg.CostWeight*cost + macro + e.cfg.Noise*in.Noise
	u.RawDelta = raw

	// Inertia: most of the weight stays on the prior price.
	inertia := clamp(in.Params.Inertia, 0, 0.99)
	change := (1 - inertia) * raw
	if change > e.cfg.MaxChange {
		change = e.cfg.MaxChange
		u.Clamped = true
	} else if change < -e.cfg.MaxChange {
		change = -e.cfg.MaxChange
		u.Clamped = true
	}

	next := price * (1 + change)
	if next < e.cfg.PriceFloor {
		next = e.cfg.PriceFloor
		u.Floored = true
	}

	// Menu cost: a change must be worth its fixed cost unless it is overdue.
	if e.cfg.MenuCost > 0 {
		expected := in.Expected
		if expected < 1 {
			expected = 1
		}
		benefit := math.Abs(next-price) * expected
		if benefit < e.cfg.MenuCost {
			if in.Listing.CyclesSinceChange+1 < e.cfg.ForceAfter {
				u.Sticky = true
				return u, nil
			}
			u.Forced = true
		}
	}

	u.New = next
	u.Changed = next != price
	return u, nil
}

// inventoryPressure reads the shelf as it stood before trading. A seller
// that stocked to target and sold its expected demand feels none; empty or
// sold-out shelves push up, stock left unsold pushes down.
func (e *PricingEngine) inventoryPressure(in PricingInput) float64 {
	target := in.Expected * e.cfg.TargetCover
	if target < 1 {
		target = 1
	}
	shelf := float64(in.Stock + in.Listing.Sold)
	cover := clamp(1-shelf/target, -1, 1)

	sellThrough := 0.0
	switch {
	case shelf > 0:
		sellThrough = clamp(float64(in.Listing.Sold)/shelf*e.cfg.TargetCover-1, -1, 1)
	case in.Expected > 0 || in.Listing.Requested > 0:
		sellThrough = 1
	}
	return (cover + sellThrough) / 2
}
