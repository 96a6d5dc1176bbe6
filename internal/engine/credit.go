package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/agents"
	"github.com/talgya/mini-economy/internal/credit"
	"github.com/talgya/mini-economy/internal/ledger"
)

// lend runs the credit phase: the central bank's scheduled decision on this
// cycle's inflation, then deposits, loan servicing and new lending under
// whatever measures the crisis machine ordered last cycle.
func (s *Simulation) lend(_ context.Context, cs *cycleState) error {
	s.central.Observe(cs.gdp.InexactFloat64())
	if d, ok := s.central.Decide(cs.cycle, cs.inflation); ok {
		s.log.appendDecision(d)
		if d.Action != credit.ActionHold {
			s.emit(cs.cycle, "policy", "central bank %s the policy rate to %.2f%%", actionVerb(d.Action), d.Rate*100)
		}
	}
	rate := s.central.Rate()

	floor := s.ledger.Floor()
	refWage := s.meanWage()
	beh := s.scn.Behavior

	var deposits []credit.DepositOrder
	for _, c := range s.consumers {
		b, ok := s.credit.Bank(c.Bank)
		if !ok {
			continue
		}
		cash := s.ledger.Balance(c.ID).Sub(floor).InexactFloat64()
		plan, ok := agents.PlanSavings(c, cash, b.Claim(c.ID).InexactFloat64(), refWage, beh)
		if !ok {
			continue
		}
		amount := ledger.Cents(plan.Amount)
		if !amount.IsPositive() {
			continue
		}
		deposits = append(deposits, credit.DepositOrder{Depositor: c.ID, Bank: c.Bank, Amount: amount, Withdraw: plan.Withdraw})
	}

	rng := s.rand.Stream("credit", cs.cycle)
	var requests []credit.Request
	for _, c := range s.consumers {
		cash := s.ledger.Balance(c.ID).Sub(floor).InexactFloat64()
		if amt, ok := agents.PlanConsumerLoan(c, cash, beh, rng); ok && c.Bank != 0 {
			requests = append(requests, credit.Request{Borrower: c.ID, Bank: c.Bank, Amount: ledger.Cents(amt), Purpose: "household"})
		}
	}
	for _, f := range s.firms {
		cash := s.ledger.Balance(f.ID).Sub(floor).InexactFloat64()
		if amt, ok := agents.PlanFirmLoan(f, cash, s.credit.Config().MaxLoan); ok && f.Bank != 0 {
			requests = append(requests, credit.Request{Borrower: f.ID, Bank: f.Bank, Amount: ledger.Cents(amt), Purpose: "working capital"})
		}
	}

	dir := credit.Directives{
		TightenBy:       s.pending.TightenCredit,
		InjectLiquidity: s.pending.InjectLiquidity,
		Run:             s.scn.RunAt(cs.cycle),
	}
	out, err := s.credit.ProcessCycle(cs.cycle, rate, requests, deposits, dir, economyView{s})
	if err != nil {
		return s.inconsistent(cs.cycle, PhaseCredit, InvariantSolvency, "bank balance sheet undefined", err)
	}
	if _, err := s.commit(cs.cycle, PhaseCredit, true, out.Postings...); err != nil {
		return err
	}
	if out.RunOff.IsPositive() {
		s.emit(cs.cycle, "shock", "bank run: depositors pulled %s", humanize.CommafWithDigits(out.RunOff.InexactFloat64(), 2))
	}
	if err := s.resolveInsolvent(cs, &out); err != nil {
		return err
	}

	for _, r := range out.Results {
		c, ok := s.consumerIndex[r.Req().Borrower]
		if !ok {
			continue
		}
		switch r := r.(type) {
		case credit.Approved:
			agents.AddMemory(c, cs.cycle, fmt.Sprintf("Borrowed %s at %.1f%%", r.Request.Amount.StringFixed(2), r.Loan.Rate*100), 0.5)
		case credit.Rejected:
			agents.AddMemory(c, cs.cycle, fmt.Sprintf("Loan of %s refused: %s", r.Request.Amount.StringFixed(2), r.Reason), 0.4)
		}
	}
	for _, w := range out.WriteOffs {
		if c, ok := s.consumerIndex[w.Borrower]; ok {
			agents.AddMemory(c, cs.cycle, fmt.Sprintf("Defaulted on a loan of %s", w.Amount.StringFixed(2)), 0.9)
		}
	}
	if n := len(out.WriteOffs); n > 0 {
		written := decimal.Zero
		for _, w := range out.WriteOffs {
			written = written.Add(w.Amount)
		}
		s.emit(cs.cycle, "credit", "%d loans written off, %s outstanding", n, humanize.CommafWithDigits(written.InexactFloat64(), 2))
	}
	for _, inj := range out.Injections {
		s.emit(cs.cycle, "credit", "liquidity injection of %s into bank %d", humanize.CommafWithDigits(inj.Amount.InexactFloat64(), 2), inj.Bank)
	}

	cs.credit = &out
	slog.Debug("credit cycle",
		"cycle", cs.cycle,
		"requests", len(requests),
		"approved", out.Approvals(),
		"defaults", len(out.WriteOffs),
		"deposited", out.Deposited.StringFixed(2),
		"withdrawn", out.Withdrawn.StringFixed(2),
	)
	return nil
}

func actionVerb(a credit.Action) string {
	if a == credit.ActionRaise {
		return "raised"
	}
	return "cut"
}
