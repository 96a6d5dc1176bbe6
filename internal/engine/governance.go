package engine

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/ledger"
)

// stimulusShare is the emergency transfer per household, as a share of the
// mean wage.
const stimulusShare = 0.5

// fiscal pays unemployment benefits from the government's cash and, while
// an emergency stimulus is in force, a transfer to every household. Any
// stimulus the treasury cannot cover is newly created money.
func (s *Simulation) fiscal(cs *cycleState) error {
	g := s.gov
	g.Paid = 0
	mean := s.meanWage()
	floor := s.ledger.Floor()

	benefit := ledger.Cents(g.Benefit * mean)
	if benefit.IsPositive() {
		cash := s.ledger.Balance(g.ID).Sub(floor)
		for _, c := range s.consumers {
			if c.Employed() {
				continue
			}
			if cash.LessThan(benefit) {
				slog.Debug("treasury cannot cover benefits", "cycle", cs.cycle, "cash", cash.StringFixed(2))
				break
			}
			p := ledger.NewPosting(cs.cycle, "benefit", ledger.Transfer(g.ID, c.ID, benefit))
			if _, err := s.commit(cs.cycle, PhaseProduction, true, p); err != nil {
				return err
			}
			c.Earn(benefit.InexactFloat64())
			cash = cash.Sub(benefit)
			cs.benefits = cs.benefits.Add(benefit)
		}
	}

	if cs.stimulus {
		if err := s.stimulate(cs, mean); err != nil {
			return err
		}
	}
	g.Paid = cs.benefits.InexactFloat64()
	return nil
}

func (s *Simulation) stimulate(cs *cycleState, mean float64) error {
	g := s.gov
	each := ledger.Cents(stimulusShare * mean)
	if !each.IsPositive() || len(s.consumers) == 0 {
		g.StimulusLeft--
		return nil
	}
	total := each.Mul(decimal.NewFromInt(int64(len(s.consumers))))
	cash := s.ledger.Balance(g.ID).Sub(s.ledger.Floor())
	if shortfall := total.Sub(cash); shortfall.IsPositive() {
		p := ledger.NewPosting(cs.cycle, "stimulus funding", ledger.Mint(g.ID, shortfall))
		if _, err := s.commit(cs.cycle, PhaseProduction, true, p); err != nil {
			return err
		}
		slog.Info("stimulus funded by money creation", "cycle", cs.cycle, "amount", shortfall.StringFixed(2))
	}

	p := ledger.NewPosting(cs.cycle, "stimulus")
	for _, c := range s.consumers {
		p.Add(ledger.Transfer(g.ID, c.ID, each))
	}
	if _, err := s.commit(cs.cycle, PhaseProduction, true, p); err != nil {
		return err
	}
	for _, c := range s.consumers {
		c.Earn(each.InexactFloat64())
	}
	cs.benefits = cs.benefits.Add(total)
	g.StimulusLeft--
	s.emit(cs.cycle, "policy", "stimulus paid: %s to each of %d households, %d cycles left",
		each.StringFixed(2), len(s.consumers), g.StimulusLeft)
	return nil
}
