package economy

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/ledger"
)

func basicFood() CategoryParams { return DefaultCategoryParams(CategoryBasicFood) }

func TestDemandHistoryTrendAndDecay(t *testing.T) {
	h := NewDemandHistory(4)
	assert.Zero(t, h.Trend(), "no trend before two observations")

	h.Observe(10, 0.8)
	h.Observe(10, 0.8)
	h.Observe(20, 0.8)
	assert.InDelta(t, 40.0/3, h.Mean(), 1e-9)
	assert.Greater(t, h.Trend(), 0.0)

	// A cycle with no demand decays instead of freezing.
	h.Observe(0, 0.5)
	assert.InDelta(t, 10, h.Last(), 1e-9)
	assert.Equal(t, 4, h.Len())

	h.Observe(0, 0.5)
	assert.InDelta(t, 5, h.Last(), 1e-9)
	assert.Equal(t, 4, h.Len(), "window stays bounded")
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("luxury_food")
	require.NoError(t, err)
	assert.Equal(t, CategoryLuxuryFood, c)
	assert.Equal(t, "luxury_food", c.String())

	_, err = ParseCategory("spaceships")
	assert.Error(t, err)
	assert.Len(t, Categories(), int(numCategories))
}

func TestPricingEmptyShelvesRaisePrice(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.MenuCost = 0
	eng := NewPricingEngine(cfg)

	updates, err := eng.AdjustPrices(context.Background(), []PricingInput{{
		Listing:  Listing{Firm: 1, Good: 1, Price: 10},
		Stock:    0,
		Params:   basicFood(),
		Expected: 20,
	}}, MarketContext{Shock: true})
	require.NoError(t, err)
	require.Len(t, updates, 1)

	u := updates[0]
	assert.True(t, u.Changed)
	assert.Greater(t, u.New, u.Old)
	assert.LessOrEqual(t, u.New, u.Old*(1+cfg.MaxChange)+1e-9)
}

func TestPricingChangeIsClamped(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.MenuCost = 0
	eng := NewPricingEngine(cfg)

	// Huge overstock and zero inertia force a large raw cut.
	params := basicFood()
	params.Inertia = 0
	updates, err := eng.AdjustPrices(context.Background(), []PricingInput{{
		Listing:     Listing{Price: 10},
		Stock:       10000,
		Params:      params,
		Expected:    1,
		DemandTrend: -1,
	}}, MarketContext{})
	require.NoError(t, err)

	u := updates[0]
	assert.True(t, u.Clamped)
	assert.InDelta(t, 10*(1-cfg.MaxChange), u.New, 1e-9)
}

func TestPricingNeverBelowFloor(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.MenuCost = 0
	cfg.PriceFloor = 0.5
	eng := NewPricingEngine(cfg)

	price := 0.51
	params := basicFood()
	params.Inertia = 0
	for i := 0; i < 20; i++ {
		updates, err := eng.AdjustPrices(context.Background(), []PricingInput{{
			Listing:  Listing{Price: price},
			Stock:    500,
			Params:   params,
			Expected: 1,
		}}, MarketContext{})
		require.NoError(t, err)
		price = updates[0].New
		require.Greater(t, price, 0.0)
		require.GreaterOrEqual(t, price, cfg.PriceFloor)
	}
	assert.Equal(t, cfg.PriceFloor, price)
}

func TestPricingMenuCostAndForcedAdjustment(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.MenuCost = 1000
	cfg.ForceAfter = 3
	eng := NewPricingEngine(cfg)

	in := PricingInput{
		Listing:  Listing{Price: 10, CyclesSinceChange: 0},
		Stock:    0,
		Params:   basicFood(),
		Expected: 5,
	}
	updates, err := eng.AdjustPrices(context.Background(), []PricingInput{in}, MarketContext{})
	require.NoError(t, err)
	assert.True(t, updates[0].Sticky)
	assert.False(t, updates[0].Changed)
	assert.Equal(t, 10.0, updates[0].New)

	in.Listing.CyclesSinceChange = 2
	updates, err = eng.AdjustPrices(context.Background(), []PricingInput{in}, MarketContext{})
	require.NoError(t, err)
	assert.True(t, updates[0].Forced)
	assert.True(t, updates[0].Changed)
}

func TestPricingNeutralAtTargetCover(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.MenuCost = 0
	cfg.Noise = 0
	eng := NewPricingEngine(cfg)

	// Stocked to cover before trading, sold exactly the expected demand.
	in := PricingInput{
		Listing:   Listing{Price: 10, Sold: 40},
		Stock:     20,
		Params:    basicFood(),
		Expected:  40,
		CostPrice: 10,
	}
	updates, err := eng.AdjustPrices(context.Background(), []PricingInput{in}, MarketContext{})
	require.NoError(t, err)
	assert.InDelta(t, 0, updates[0].RawDelta, 1e-12)
	assert.InDelta(t, 10, updates[0].New, 1e-9)

	// Selling out pushes up, leftovers push down.
	soldOut := in
	soldOut.Listing.Sold, soldOut.Stock = 60, 0
	leftover := in
	leftover.Listing.Sold, leftover.Stock = 20, 40
	updates, err = eng.AdjustPrices(context.Background(), []PricingInput{soldOut, leftover}, MarketContext{})
	require.NoError(t, err)
	assert.Greater(t, updates[0].New, 10.0)
	assert.Less(t, updates[1].New, 10.0)
}

func TestPricingInflationPassThroughIsBounded(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.MenuCost = 0
	cfg.Noise = 0
	eng := NewPricingEngine(cfg)
	in := PricingInput{Listing: Listing{Price: 10, Sold: 40}, Stock: 20, Params: basicFood(), Expected: 40}

	mild, err := eng.AdjustPrices(context.Background(), []PricingInput{in}, MarketContext{Inflation: cfg.MaxChange})
	require.NoError(t, err)
	wild, err := eng.AdjustPrices(context.Background(), []PricingInput{in}, MarketContext{Inflation: 0.5})
	require.NoError(t, err)
	assert.InDelta(t, mild[0].RawDelta, wild[0].RawDelta, 1e-12)
	assert.InDelta(t, cfg.InflationPass*cfg.MaxChange, wild[0].RawDelta, 1e-12)
}

func TestPriceIndexHoldsUnderFlatDemand(t *testing.T) {
	cfg := DefaultPricingConfig()
	eng := NewPricingEngine(cfg)
	rng := rand.New(rand.NewSource(11))

	var goods []*Good
	var listings []*Listing
	for i, c := range Categories() {
		price := float64(5 * (i + 1))
		g := NewGood(ledger.GoodID(i+1), c.String(), c, DefaultCategoryParams(c), price, 6)
		goods = append(goods, g)
		listings = append(listings, &Listing{Firm: 1, Good: g.ID, Price: price})
	}
	const expected = 100
	cost := make([]float64, len(listings))
	for i, l := range listings {
		cost[i] = l.Price
	}

	idx := NewPriceIndex()
	_, err := idx.Update(goods)
	require.NoError(t, err)

	for cycle := 1; cycle <= 60; cycle++ {
		// Production restores the cover, households buy the expected demand.
		shelf := int(math.Ceil(expected * cfg.TargetCover))
		inputs := make([]PricingInput, len(listings))
		for i, l := range listings {
			l.Sold = expected
			inputs[i] = PricingInput{
				Listing:   *l,
				Stock:     shelf - expected,
				Params:    goods[i].Params,
				Expected:  expected,
				CostPrice: cost[i],
				Noise:     rng.Float64()*2 - 1,
			}
			goods[i].Sold = expected
		}
		updates, err := eng.AdjustPrices(context.Background(), inputs, MarketContext{Inflation: idx.Inflation})
		require.NoError(t, err)
		for i, u := range updates {
			listings[i].Price = u.New
			if u.Changed {
				listings[i].CyclesSinceChange = 0
			} else {
				listings[i].CyclesSinceChange++
			}
		}
		RefreshReferencePrices(goods, listings)
		_, err = idx.Update(goods)
		require.NoError(t, err)
		CloseCycle(goods)

		require.InDelta(t, 100, idx.Level, 3, "index drifted to %.2f by cycle %d", idx.Level, cycle)
	}
}

func TestPricingRejectsInvalidPrice(t *testing.T) {
	eng := NewPricingEngine(DefaultPricingConfig())
	_, err := eng.AdjustPrices(context.Background(), []PricingInput{
		{Listing: Listing{Price: 5}, Params: basicFood(), Expected: 1},
		{Listing: Listing{Price: 0}, Params: basicFood(), Expected: 1},
	}, MarketContext{})
	assert.Error(t, err)
}

func TestPricingPreservesInputOrder(t *testing.T) {
	cfg := DefaultPricingConfig()
	cfg.MenuCost = 0
	eng := NewPricingEngine(cfg)

	inputs := make([]PricingInput, 64)
	for i := range inputs {
		inputs[i] = PricingInput{
			Listing:  Listing{Firm: 1, Good: 0, Price: float64(i + 1)},
			Params:   basicFood(),
			Stock:    i,
			Expected: 10,
		}
	}
	first, err := eng.AdjustPrices(context.Background(), inputs, MarketContext{})
	require.NoError(t, err)
	second, err := eng.AdjustPrices(context.Background(), inputs, MarketContext{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	for i, u := range first {
		assert.Equal(t, float64(i+1), u.Old)
	}
}

func TestPricingHonoursCancellation(t *testing.T) {
	eng := NewPricingEngine(DefaultPricingConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.AdjustPrices(ctx, []PricingInput{{Listing: Listing{Price: 1}, Params: basicFood()}}, MarketContext{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPricingConfigValidate(t *testing.T) {
	require.NoError(t, DefaultPricingConfig().Validate())

	bad := DefaultPricingConfig()
	bad.PriceFloor = 0
	assert.Error(t, bad.Validate())

	bad = DefaultPricingConfig()
	bad.MaxChange = 1.5
	assert.Error(t, bad.Validate())
}

func TestPriceIndexTracksLivePrices(t *testing.T) {
	bread := NewGood(1, "bread", CategoryBasicFood, basicFood(), 2, 4)
	tv := NewGood(2, "tv", CategoryTechnology, DefaultCategoryParams(CategoryTechnology), 100, 4)
	goods := []*Good{bread, tv}

	idx := NewPriceIndex()
	infl, err := idx.Update(goods)
	require.NoError(t, err)
	assert.Zero(t, infl)

	// Bread sold heavily, so it dominates the basket.
	bread.Sold, tv.Sold = 100, 1
	CloseCycle(goods)
	bread.Price = 2.2
	infl, err = idx.Update(goods)
	require.NoError(t, err)

	want := (2.2*100 + 100*1) / (2.0*100 + 100*1)
	assert.InDelta(t, want-1, infl, 1e-12)
	assert.InDelta(t, 100*want, idx.Level, 1e-9)

	// Unchanged prices give zero inflation even though the index was recomputed.
	infl, err = idx.Update(goods)
	require.NoError(t, err)
	assert.InDelta(t, 0, infl, 1e-12)
}

func TestPriceIndexFallsBackToCategoryWeight(t *testing.T) {
	bread := NewGood(1, "bread", CategoryBasicFood, basicFood(), 1, 4)
	wine := NewGood(2, "wine", CategoryLuxuryFood, DefaultCategoryParams(CategoryLuxuryFood), 1, 4)
	goods := []*Good{bread, wine}

	idx := NewPriceIndex()
	_, err := idx.Update(goods)
	require.NoError(t, err)

	wine.Price = 2
	infl, err := idx.Update(goods)
	require.NoError(t, err)
	// Weights 3 and 1.5 when nothing sold.
	assert.InDelta(t, (3+3.0)/(3+1.5)-1, infl, 1e-12)
}

func TestRefreshReferencePrices(t *testing.T) {
	g := NewGood(1, "bread", CategoryBasicFood, basicFood(), 5, 4)
	other := NewGood(2, "tea", CategoryBasicFood, basicFood(), 7, 4)
	RefreshReferencePrices([]*Good{g, other}, []*Listing{
		{Firm: 1, Good: 1, Price: 4},
		{Firm: 2, Good: 1, Price: 6},
		{Firm: 3, Good: 1, Price: 8},
	})
	assert.Equal(t, 6.0, g.Price)
	assert.Equal(t, 7.0, other.Price)
}

func TestSeasons(t *testing.T) {
	assert.Equal(t, uint8(SeasonSpring), SeasonOf(0))
	assert.Equal(t, uint8(SeasonSummer), SeasonOf(3))
	assert.Equal(t, uint8(SeasonWinter), SeasonOf(11))
	assert.Equal(t, uint8(SeasonSpring), SeasonOf(12))
	assert.Equal(t, "winter", SeasonName(SeasonWinter))
	assert.Greater(t, SeasonalDemandMod(SeasonWinter, CategoryLuxuryFood), 1.0)
	assert.Equal(t, 1.0, SeasonalDemandMod(SeasonSpring, CategoryBasicFood))
}

func TestListingRollDemand(t *testing.T) {
	l := &Listing{Requested: 10}
	l.RollDemand(0.5)
	assert.Equal(t, 10.0, l.DemandEMA)
	l.Requested = 20
	l.RollDemand(0.5)
	assert.Equal(t, 15.0, l.DemandEMA)
}
