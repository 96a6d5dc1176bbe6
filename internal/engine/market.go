package engine

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/ledger"
)

// needTally is what one household set out to buy and what it got, per need.
type needTally struct {
	wanted [3]float64
	got    [3]float64
}

// trade runs the transactions phase: households and the government plan
// orders against reference prices, orders are served in a seeded random
// queue from the cheapest seller with stock, then firms pay dividends.
func (s *Simulation) trade(_ context.Context, cs *cycleState) error {
	for _, f := range s.firms {
		f.Listing.Sold = 0
		f.Listing.Requested = 0
		f.Revenue = 0
	}

	offers := s.offers()
	season := economy.SeasonOf(cs.cycle)
	floor := s.ledger.Floor()

	var orders []agents.Order
	for _, c := range s.consumers {
		c.Needs.Decay()
		cash := s.ledger.Balance(c.ID).Sub(floor).InexactFloat64()
		wealth := cash
		if b, ok := s.credit.Bank(c.Bank); ok {
			wealth += b.Claim(c.ID).InexactFloat64()
		}
		noise := s.rand.DemandNoise(uint64(c.ID), cs.cycle)
		orders = append(orders, agents.PlanOrders(c, cash, wealth, offers, season, noise, s.scn.Behavior)...)
	}
	govCash := s.ledger.Balance(s.gov.ID).Sub(floor).InexactFloat64()
	orders = append(orders, agents.PlanProcurement(s.gov, govCash, offers)...)

	queue := s.rand.Stream("queue", cs.cycle)
	queue.Shuffle(len(orders), func(i, j int) { orders[i], orders[j] = orders[j], orders[i] })

	// Seller order is fixed for the phase: listing prices only move in the
	// pricing phase.
	ranked := make(map[ledger.GoodID][]*agents.Firm, len(s.goods))
	for _, g := range s.goods {
		ranked[g.ID] = s.rankSellers(g.ID)
	}
	overflow := make(map[ledger.GoodID]int, len(s.goods))
	needs := make(map[ledger.AgentID]*needTally, len(s.consumers))

	for _, o := range orders {
		g, err := s.good(o.Good)
		if err != nil {
			return s.inconsistent(cs.cycle, PhaseTransactions, InvariantPosting, "order for unknown good", err)
		}
		need := agents.NeedFor(g.Category)
		tally := needs[o.Buyer]
		if _, ok := s.consumerIndex[o.Buyer]; ok {
			if tally == nil {
				tally = &needTally{}
				needs[o.Buyer] = tally
			}
			tally.wanted[need] += float64(o.Quantity)
		}

		remaining := o.Quantity
		for _, f := range ranked[o.Good] {
			if remaining == 0 {
				break
			}
			stock := s.ledger.Stock(f.ID, o.Good)
			if stock == 0 {
				continue
			}
			qty := min(remaining, stock)
			price := ledger.Cents(f.Listing.Price)
			cash := s.ledger.Balance(o.Buyer).Sub(floor)
			if cash.LessThan(price.Mul(decimal.NewFromInt(int64(qty)))) {
				qty = int(cash.Div(price).IntPart())
			}
			if qty <= 0 {
				break
			}
			f.Listing.Requested += qty

			tx := ledger.Transaction{Buyer: o.Buyer, Seller: f.ID, Good: o.Good, Quantity: qty, UnitPrice: price, Cycle: cs.cycle}
			if err := tx.Validate(); err != nil {
				cs.rejected++
				slog.Debug("sale rejected", "error", &ValidationError{Cycle: cs.cycle, Subject: "sale", Err: err})
				continue
			}
			if n, err := s.commit(cs.cycle, PhaseTransactions, false, tx.Posting("sale")); err != nil {
				return err
			} else if n > 0 {
				cs.rejected++
				continue
			}
			consumed := ledger.NewPosting(cs.cycle, "consumption", ledger.Scrap(o.Buyer, o.Good, qty))
			if _, err := s.commit(cs.cycle, PhaseTransactions, true, consumed); err != nil {
				return err
			}

			amount := tx.Amount()
			f.Listing.Sold += qty
			f.Revenue += amount.InexactFloat64()
			g.Sold += qty
			cs.tx++
			cs.volume = cs.volume.Add(amount)
			if o.Buyer == s.gov.ID {
				cs.govSpending = cs.govSpending.Add(amount)
			} else {
				cs.consumption = cs.consumption.Add(amount)
			}
			if tally != nil {
				tally.got[need] += float64(qty)
			}
			remaining -= qty
		}

		if remaining > 0 {
			cs.rejected++
			// Unmet demand still reaches the sellers' estimates.
			if sellers := ranked[o.Good]; len(sellers) > 0 {
				i := overflow[o.Good] % len(sellers)
				sellers[i].Listing.Requested += remaining
				overflow[o.Good]++
			}
		}
	}

	for _, c := range s.consumers {
		if t, ok := needs[c.ID]; ok {
			for n := range t.wanted {
				c.Needs.Satisfy(agents.NeedType(n), t.got[n], t.wanted[n])
			}
		}
	}

	if err := s.payDividends(cs); err != nil {
		return err
	}

	decay := s.pricing.Config().DemandDecay
	requested := make(map[ledger.GoodID]int, len(s.goods))
	for _, f := range s.firms {
		requested[f.Good] += f.Listing.Requested
		f.Listing.RollDemand(s.scn.Behavior.DemandAlpha)
	}
	for _, g := range s.goods {
		g.Demand.Observe(float64(requested[g.ID]), decay)
	}

	positive := decimal.Zero
	for _, f := range s.firms {
		if b := s.ledger.Balance(f.ID); b.IsPositive() {
			positive = positive.Add(b)
		}
	}
	cs.investment = positive.Mul(decimal.NewFromFloat(s.scn.InvestmentFraction)).Round(2)
	cs.gdp = sum(cs.consumption, cs.investment, cs.govSpending)

	slog.Debug("market cleared",
		"cycle", cs.cycle,
		"orders", len(orders),
		"transactions", cs.tx,
		"rejected", cs.rejected,
		"volume", cs.volume.StringFixed(2),
	)
	return nil
}

// rankSellers orders a good's sellers by listing price, then ID.
func (s *Simulation) rankSellers(good ledger.GoodID) []*agents.Firm {
	sellers := append([]*agents.Firm(nil), s.sellers[good]...)
	sort.SliceStable(sellers, func(i, j int) bool {
		if sellers[i].Listing.Price != sellers[j].Listing.Price {
			return sellers[i].Listing.Price < sellers[j].Listing.Price
		}
		return sellers[i].ID < sellers[j].ID
	})
	return sellers
}

// payDividends distributes each firm's surplus cash equally across
// households, in whole cents.
func (s *Simulation) payDividends(cs *cycleState) error {
	n := len(s.consumers)
	if n == 0 {
		return nil
	}
	floor := s.ledger.Floor()
	for _, f := range s.firms {
		cash := s.ledger.Balance(f.ID).Sub(floor).InexactFloat64()
		d := agents.Dividend(f, cash, s.scn.Behavior)
		each := math.Floor(d/float64(n)*100) / 100
		if each <= 0 {
			continue
		}
		amount := decimal.NewFromFloat(each)
		p := ledger.NewPosting(cs.cycle, "dividend")
		for _, c := range s.consumers {
			p.Add(ledger.Transfer(f.ID, c.ID, amount))
		}
		if _, err := s.commit(cs.cycle, PhaseTransactions, true, p); err != nil {
			return err
		}
		for _, c := range s.consumers {
			c.Earn(each)
		}
	}
	return nil
}
