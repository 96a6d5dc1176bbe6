package economy

import (
	"fmt"
	"math"

	"github.com/talgya/mini-economy/internal/ledger"
)

// PriceIndex is a chained, quantity-weighted price index. Each cycle the
// weights are last cycle's sold quantities, so the index always follows the
// live basket instead of a frozen one.
type PriceIndex struct {
	Level      float64 // chained level, base 100
	Inflation  float64 // last cycle-over-cycle change, as a fraction
	prevPrices map[ledger.GoodID]float64
}

// NewPriceIndex creates an index at level 100 with no history.
func NewPriceIndex() *PriceIndex {
	return &PriceIndex{Level: 100}
}

// Update recomputes the index from live reference prices and returns the
// cycle inflation. The first call only records the base prices.
func (p *PriceIndex) Update(goods []*Good) (float64, error) {
	if p.prevPrices == nil {
		p.record(goods)
		p.Inflation = 0
		return 0, nil
	}

	var cur, prev float64
	for _, g := range goods {
		old, ok := p.prevPrices[g.ID]
		if !ok {
			continue // new good enters the basket next cycle
		}
		w := float64(g.PrevSold)
		if w <= 0 {
			w = g.Params.IndexWeight
		}
		cur += g.Price * w
		prev += old * w
	}
	p.record(goods)

	if prev <= 0 {
		p.Inflation = 0
		return 0, nil
	}
	ratio := cur / prev
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return 0, fmt.Errorf("price index ratio %v from cur=%v prev=%v", ratio, cur, prev)
	}
	p.Level *= ratio
	p.Inflation = ratio - 1
	return p.Inflation, nil
}

func (p *PriceIndex) record(goods []*Good) {
	p.prevPrices = make(map[ledger.GoodID]float64, len(goods))
	for _, g := range goods {
		p.prevPrices[g.ID] = g.Price
	}
}

// CloseCycle shifts this cycle's sold quantities into the index weights.
func CloseCycle(goods []*Good) {
	for _, g := range goods {
		g.PrevSold = g.Sold
		g.Sold = 0
	}
}
