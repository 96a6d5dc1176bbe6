package engine

import (
	"context"

	"github.com/talgya/mini-economy/internal/crisis"
)

// evaluate runs the crisis phase. The machine reads this cycle's macro
// figures; the measures it orders take effect next cycle.
func (s *Simulation) evaluate(_ context.Context, cs *cycleState) error {
	minSolv, err := s.minSolvency()
	if err != nil {
		return s.inconsistent(cs.cycle, PhaseCrisis, InvariantSolvency, "bank solvency undefined", err)
	}

	met := crisis.Metrics{
		Cycle:        cs.cycle,
		GDP:          cs.gdp.InexactFloat64(),
		Transactions: cs.tx,
		MinSolvency:  minSolv,
		LowActivity:  cs.tx < s.scn.MinTransactions,
	}
	if out := cs.credit; out != nil {
		met.DefaultRate = out.DefaultRate()
		met.NewDefaults = len(out.WriteOffs)
		met.LiveLoans = out.LiveAtStart
	}
	met.PriceIndex = s.index.Level
	met.SystemicRisk = crisis.SystemicRisk(s.bankReadings())
	cs.risk = met.SystemicRisk

	dir, tr := s.crisis.Evaluate(met)
	if tr != nil {
		s.log.appendTransition(*tr)
		s.emit(cs.cycle, "crisis", "%s -> %s: %s", tr.From, tr.To, tr.Reason)
	}

	s.pending = dir
	if dir.Stimulus && !s.gov.Stimulating() {
		s.gov.StimulusLeft = dir.StimulusCycles
		s.emit(cs.cycle, "policy", "emergency stimulus ordered for %d cycles", dir.StimulusCycles)
	}
	return nil
}

// bankReadings gives each bank's solvency and its lending over reserves.
func (s *Simulation) bankReadings() []crisis.BankReading {
	banks := s.credit.Banks()
	out := make([]crisis.BankReading, 0, len(banks))
	for _, b := range banks {
		reserves := s.ledger.Balance(b.ID)
		sol, err := b.Solvency(reserves)
		if err != nil {
			continue
		}
		exposure := 1.0
		if reserves.IsPositive() {
			exposure = b.Outstanding().Div(reserves).InexactFloat64()
		}
		out = append(out, crisis.BankReading{Solvency: sol, Exposure: exposure})
	}
	return out
}
