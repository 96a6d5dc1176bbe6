package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/entropy"
)

// price runs the pricing phase. Listings are priced concurrently from a
// frozen view; the budget cannot interrupt it, so either every listing moves
// or none does.
func (s *Simulation) price(ctx context.Context, cs *cycleState) error {
	ctx = context.WithoutCancel(ctx)
	rng := s.rand.Stream("pricing", cs.cycle)

	inputs := make([]economy.PricingInput, len(s.firms))
	for i, f := range s.firms {
		g, err := s.good(f.Good)
		if err != nil {
			return s.inconsistent(cs.cycle, PhasePricing, InvariantPrice, "listing for unknown good", err)
		}
		inputs[i] = economy.PricingInput{
			Listing:     *f.Listing,
			Stock:       s.ledger.Stock(f.ID, f.Good),
			Params:      g.Params,
			DemandTrend: g.Demand.Trend(),
			Expected:    f.Expected(),
			CostPrice:   f.CostPrice(),
			RivalMean:   s.rivalMean(i),
			Noise:       entropy.Symmetric(rng),
		}
	}

	updates, err := s.pricing.AdjustPrices(ctx, inputs, economy.MarketContext{
		Cycle:     cs.cycle,
		Shock:     cs.shock,
		Inflation: s.index.Inflation,
	})
	if err != nil {
		return s.inconsistent(cs.cycle, PhasePricing, InvariantPrice, "pricing failed", err)
	}

	changed := 0
	for i, u := range updates {
		if u.New <= 0 || math.IsNaN(u.New) || math.IsInf(u.New, 0) {
			return s.inconsistent(cs.cycle, PhasePricing, InvariantPrice,
				fmt.Sprintf("firm %d proposed price %v", u.Firm, u.New), nil)
		}
		l := s.firms[i].Listing
		l.Price = u.New
		if u.Changed {
			l.CyclesSinceChange = 0
			changed++
		} else {
			l.CyclesSinceChange++
		}
	}

	listings := make([]*economy.Listing, len(s.firms))
	for i, f := range s.firms {
		listings[i] = f.Listing
	}
	economy.RefreshReferencePrices(s.goods, listings)

	infl, err := s.index.Update(s.goods)
	if err != nil {
		return s.inconsistent(cs.cycle, PhasePricing, InvariantPriceIndex, "price index undefined", err)
	}
	cs.inflation = infl
	economy.CloseCycle(s.goods)

	slog.Debug("prices adjusted", "cycle", cs.cycle, "changed", changed, "inflation", infl, "index", s.index.Level)
	return nil
}

// rivalMean is the mean listing price of the other sellers of firm i's good,
// zero when it sells alone.
func (s *Simulation) rivalMean(i int) float64 {
	f := s.firms[i]
	total, n := 0.0, 0
	for _, r := range s.sellers[f.Good] {
		if r.ID == f.ID {
			continue
		}
		total += r.Listing.Price
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}
