package engine

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/ledger"
)

// produce runs the production phase: supply shocks, wages, output and the
// government's transfers.
func (s *Simulation) produce(_ context.Context, cs *cycleState) error {
	cs.shock = s.scn.ShockAt(cs.cycle)
	cs.stimulus = s.gov.Stimulating()
	for _, c := range s.consumers {
		c.RollIncome()
	}

	if cs.shock {
		if err := s.scrapInventory(cs); err != nil {
			return err
		}
	}
	if err := s.payWages(cs); err != nil {
		return err
	}

	cover := s.scn.Behavior.InventoryCover
	for _, f := range s.firms {
		f.Produced = 0
		if cs.shock {
			continue
		}
		qty := agents.ProductionTarget(f, s.ledger.Stock(f.ID, f.Good), cover, cs.stimulus)
		if qty <= 0 {
			continue
		}
		p := ledger.NewPosting(cs.cycle, "production", ledger.Produce(f.ID, f.Good, qty))
		if _, err := s.commit(cs.cycle, PhaseProduction, true, p); err != nil {
			return err
		}
		f.Produced = qty
	}

	return s.fiscal(cs)
}

// scrapInventory destroys every firm's stock: a supply shock wipes out
// inventories as well as output. Households consume what they buy, so they
// hold nothing to lose.
func (s *Simulation) scrapInventory(cs *cycleState) error {
	if !s.scn.ShockAt(cs.cycle - 1) {
		s.emit(cs.cycle, "shock", "supply shock: production halted and inventories destroyed")
		slog.Warn("supply shock", "cycle", cs.cycle)
	}
	for _, f := range s.firms {
		for _, g := range s.goods {
			if n := s.ledger.Stock(f.ID, g.ID); n > 0 {
				p := ledger.NewPosting(cs.cycle, "shock", ledger.Scrap(f.ID, g.ID, n))
				if _, err := s.commit(cs.cycle, PhaseProduction, true, p); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// payWages pays each worker gross wage in hire order while the firm has the
// cash. Income tax is withheld to the government. Workers the firm cannot
// pay are counted and shed by the labor phase.
func (s *Simulation) payWages(cs *cycleState) error {
	floor := s.ledger.Floor()
	for _, f := range s.firms {
		f.WageBill = 0
		f.Unpaid = 0
		cash := s.ledger.Balance(f.ID).Sub(floor)
		gross := ledger.Cents(f.Wage)
		if !gross.IsPositive() {
			continue
		}
		for _, id := range f.Employees {
			if cash.LessThan(gross) {
				f.Unpaid++
				continue
			}
			tax := ledger.Cents(f.Wage * s.gov.TaxRate)
			net := gross.Sub(tax)
			p := ledger.NewPosting(cs.cycle, "wage")
			if net.IsPositive() {
				p.Add(ledger.Transfer(f.ID, id, net))
			}
			if tax.IsPositive() {
				p.Add(ledger.Transfer(f.ID, s.gov.ID, tax))
			}
			if _, err := s.commit(cs.cycle, PhaseProduction, true, p); err != nil {
				return err
			}
			if c := s.consumerIndex[id]; c != nil {
				c.Earn(net.InexactFloat64())
			}
			cash = cash.Sub(gross)
			cs.wages = cs.wages.Add(gross)
			cs.taxes = cs.taxes.Add(tax)
			f.WageBill += gross.InexactFloat64()
		}
		if f.Unpaid > 0 {
			slog.Debug("firm short of wages", "cycle", cs.cycle, "firm", f.ID, "unpaid", f.Unpaid)
		}
	}
	s.gov.Collected = cs.taxes.InexactFloat64()
	return nil
}

// sum adds amounts.
func sum(ds ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total
}
