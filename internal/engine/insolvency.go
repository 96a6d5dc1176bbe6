package engine

import (
	"log/slog"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/credit"
	"github.com/talgya/mini-economy/internal/crisis"
	"github.com/talgya/mini-economy/internal/ledger"
)

// resolveInsolvent runs at the end of the credit phase, once loans have had
// their chance. A firm is in distress while it leaves wages unpaid or holds
// less than one wage. After Insolvency.After cycles of distress it is taken
// over by a healthy rival selling the same good, rescued by the government,
// or liquidated, in that order of preference.
func (s *Simulation) resolveInsolvent(cs *cycleState, out *credit.Outcome) error {
	cfg := s.scn.Insolvency
	floor := s.ledger.Floor()

	var failing []*agents.Firm
	for _, f := range s.firms {
		cash := s.ledger.Balance(f.ID).Sub(floor).InexactFloat64()
		if f.Unpaid > 0 || cash < f.Wage {
			f.Distress++
		} else {
			f.Distress = 0
		}
		if f.Distress >= cfg.After {
			failing = append(failing, f)
		}
	}

	for _, f := range failing {
		if rival := s.acquirer(f); rival != nil {
			if err := s.merge(cs, out, f, rival); err != nil {
				return err
			}
			continue
		}
		rescued, err := s.rescue(cs, f)
		if err != nil {
			return err
		}
		if rescued {
			continue
		}
		if err := s.liquidate(cs, out, f); err != nil {
			return err
		}
	}
	return nil
}

// acquirer is the richest rival of f that is out of distress and holds at
// least two cycles of its own wage bill, nil when there is none.
func (s *Simulation) acquirer(f *agents.Firm) *agents.Firm {
	floor := s.ledger.Floor()
	var best *agents.Firm
	bestCash := decimal.Zero
	for _, r := range s.sellers[f.Good] {
		if r.ID == f.ID || r.Distress > 0 {
			continue
		}
		cash := s.ledger.Balance(r.ID).Sub(floor)
		bill := math.Max(float64(r.Headcount())*r.Wage, r.Wage)
		if cash.LessThan(ledger.Cents(2 * bill)) {
			continue
		}
		if best == nil || cash.GreaterThan(bestCash) {
			best, bestCash = r, cash
		}
	}
	return best
}

// settle closes the firm's loans out of its cash and folds the repayments
// and write-offs into this cycle's credit outcome.
func (s *Simulation) settle(cs *cycleState, out *credit.Outcome, f *agents.Firm) (decimal.Decimal, error) {
	settled := s.credit.Settle(cs.cycle, f.ID, economyView{s})
	if _, err := s.commit(cs.cycle, PhaseCredit, true, settled.Postings...); err != nil {
		return decimal.Zero, err
	}
	written := decimal.Zero
	for _, w := range settled.WriteOffs {
		written = written.Add(w.Amount)
	}
	out.Repayments = append(out.Repayments, settled.Repayments...)
	out.WriteOffs = append(out.WriteOffs, settled.WriteOffs...)
	return written, nil
}

func (s *Simulation) merge(cs *cycleState, out *credit.Outcome, f, rival *agents.Firm) error {
	written, err := s.settle(cs, out, f)
	if err != nil {
		return err
	}

	p := ledger.NewPosting(cs.cycle, "takeover")
	for _, g := range s.goods {
		if n := s.ledger.Stock(f.ID, g.ID); n > 0 {
			p.Add(ledger.MoveGoods(f.ID, rival.ID, g.ID, n))
		}
	}
	if cash := s.ledger.Balance(f.ID); cash.IsPositive() {
		p.Add(ledger.Transfer(f.ID, rival.ID, cash))
	}
	if len(p.Legs) > 0 {
		if _, err := s.commit(cs.cycle, PhaseCredit, true, p); err != nil {
			return err
		}
	}

	for _, id := range f.Employees {
		c, ok := s.consumerIndex[id]
		if !ok {
			continue
		}
		c.Employer = rival.ID
		c.Wage = rival.Wage
		rival.Employees = append(rival.Employees, id)
		agents.AddMemory(c, cs.cycle, "Kept on by "+rival.Name+" after it took over "+f.Name, 0.5)
	}
	f.Employees = nil

	s.removeFirm(f)
	cs.bankruptcies++
	s.emit(cs.cycle, "firm", "%s taken over by %s, %s of loans written off",
		f.Name, rival.Name, humanize.CommafWithDigits(written.InexactFloat64(), 2))
	slog.Warn("firm taken over", "cycle", cs.cycle, "firm", f.ID, "acquirer", rival.ID, "written_off", written.StringFixed(2))
	return nil
}

// rescue tops the firm up with a few cycles of wages. Outside an active
// crisis the amount is capped at a share of this cycle's GDP and paid from
// the treasury's cash. During one there is no cap and a shortfall is
// covered by new money.
func (s *Simulation) rescue(cs *cycleState, f *agents.Firm) (bool, error) {
	cfg := s.scn.Insolvency
	if f.Rescues >= cfg.MaxRescues {
		return false, nil
	}
	emergency := s.crisis.State() == crisis.Active
	bill := math.Max(float64(f.Headcount())*f.Wage, f.Wage)
	amount := cfg.RescueCycles * bill
	if !emergency {
		amount = math.Min(amount, cfg.RescueShare*cs.gdp.InexactFloat64())
	}
	if ledger.Cents(amount).LessThan(ledger.Cents(bill)) {
		return false, nil
	}
	total := ledger.Cents(amount)

	cash := s.ledger.Balance(s.gov.ID).Sub(s.ledger.Floor())
	if shortfall := total.Sub(cash); shortfall.IsPositive() {
		if !emergency {
			return false, nil
		}
		p := ledger.NewPosting(cs.cycle, "rescue funding", ledger.Mint(s.gov.ID, shortfall))
		if _, err := s.commit(cs.cycle, PhaseCredit, true, p); err != nil {
			return false, err
		}
	}
	p := ledger.NewPosting(cs.cycle, "rescue", ledger.Transfer(s.gov.ID, f.ID, total))
	if _, err := s.commit(cs.cycle, PhaseCredit, true, p); err != nil {
		return false, err
	}

	f.Rescues++
	f.Distress = 0
	cs.rescues++
	s.emit(cs.cycle, "firm", "%s rescued by the government with %s", f.Name, humanize.CommafWithDigits(total.InexactFloat64(), 2))
	slog.Warn("firm rescued", "cycle", cs.cycle, "firm", f.ID, "amount", total.StringFixed(2), "rescues", f.Rescues)
	return true, nil
}

// liquidate closes the firm. The government buys its stock at a discount
// while it can afford to, the rest is scrapped. Cash left after settling
// loans goes to the treasury and the staff are released.
func (s *Simulation) liquidate(cs *cycleState, out *credit.Outcome, f *agents.Firm) error {
	cfg := s.scn.Insolvency
	floor := s.ledger.Floor()
	recovered := decimal.Zero

	for _, g := range s.goods {
		n := s.ledger.Stock(f.ID, g.ID)
		if n == 0 {
			continue
		}
		value := ledger.Cents(cfg.LiquidationValue * f.Listing.Price * float64(n))
		treasury := s.ledger.Balance(s.gov.ID).Sub(floor)
		var ps []ledger.Posting
		if value.IsPositive() && !treasury.LessThan(value) {
			ps = append(ps,
				ledger.NewPosting(cs.cycle, "liquidation sale", ledger.Transfer(s.gov.ID, f.ID, value), ledger.MoveGoods(f.ID, s.gov.ID, g.ID, n)),
				ledger.NewPosting(cs.cycle, "liquidation stock", ledger.Scrap(s.gov.ID, g.ID, n)),
			)
			recovered = recovered.Add(value)
		} else {
			ps = append(ps, ledger.NewPosting(cs.cycle, "liquidation scrap", ledger.Scrap(f.ID, g.ID, n)))
		}
		if _, err := s.commit(cs.cycle, PhaseCredit, true, ps...); err != nil {
			return err
		}
	}

	written, err := s.settle(cs, out, f)
	if err != nil {
		return err
	}
	if cash := s.ledger.Balance(f.ID); cash.IsPositive() {
		p := ledger.NewPosting(cs.cycle, "liquidation remainder", ledger.Transfer(f.ID, s.gov.ID, cash))
		if _, err := s.commit(cs.cycle, PhaseCredit, true, p); err != nil {
			return err
		}
	}

	for _, id := range f.Employees {
		c, ok := s.consumerIndex[id]
		if !ok {
			continue
		}
		c.Employer = 0
		c.Wage = 0
		agents.AddMemory(c, cs.cycle, "Lost job when "+f.Name+" closed", 0.8)
	}
	released := len(f.Employees)
	f.Employees = nil

	s.removeFirm(f)
	cs.bankruptcies++
	s.emit(cs.cycle, "firm", "%s liquidated: stock sold for %s, %s of loans written off, %d workers released",
		f.Name, humanize.CommafWithDigits(recovered.InexactFloat64(), 2),
		humanize.CommafWithDigits(written.InexactFloat64(), 2), released)
	slog.Warn("firm liquidated", "cycle", cs.cycle, "firm", f.ID, "written_off", written.StringFixed(2), "released", released)
	return nil
}

// removeFirm drops a firm from the market. Its ledger account stays open
// with whatever dust is left.
func (s *Simulation) removeFirm(f *agents.Firm) {
	s.firms = dropFirm(s.firms, f.ID)
	s.sellers[f.Good] = dropFirm(s.sellers[f.Good], f.ID)
	delete(s.firmIndex, f.ID)
}

func dropFirm(firms []*agents.Firm, id ledger.AgentID) []*agents.Firm {
	out := firms[:0]
	for _, f := range firms {
		if f.ID != id {
			out = append(out, f)
		}
	}
	return out
}
