package credit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/mini-economy/internal/ledger"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// book is a ledger-backed View for tests.
type book struct {
	l        *ledger.Ledger
	profiles map[ledger.AgentID]Profile
}

func (b *book) Balance(id ledger.AgentID) decimal.Decimal { return b.l.Balance(id) }
func (b *book) Profile(id ledger.AgentID) (Profile, bool) {
	p, ok := b.profiles[id]
	return p, ok
}

const bankID ledger.AgentID = 900

func newBook(t *testing.T) *book {
	t.Helper()
	l := ledger.New(decimal.Zero)
	require.NoError(t, l.Open(bankID, ledger.KindBank, d("10000")))
	require.NoError(t, l.Open(1, ledger.KindConsumer, d("500")))
	require.NoError(t, l.Open(2, ledger.KindConsumer, d("0")))
	require.NoError(t, l.Open(3, ledger.KindFirm, d("8000")))
	return &book{l: l, profiles: map[ledger.AgentID]Profile{
		1: {Kind: ledger.KindConsumer, Income: 60, Balance: 500, Employed: true},
		2: {Kind: ledger.KindConsumer, Income: 0, Balance: 0},
		3: {Kind: ledger.KindFirm, Income: 2000, Balance: 8000, Age: 30},
	}}
}

func commit(t *testing.T, b *book, out Outcome) {
	t.Helper()
	for _, p := range out.Postings {
		require.NoError(t, b.l.Commit(p), p.Reason)
	}
	require.NoError(t, b.l.CheckConservation())
}

func newSystem() *System {
	return NewSystem(DefaultConfig(), NewBank(bankID, 0.1))
}

func TestEveryRequestResolvesExactlyOnce(t *testing.T) {
	b := newBook(t)
	s := newSystem()
	reqs := []Request{
		{Borrower: 1, Bank: bankID, Amount: d("100")},
		{Borrower: 1, Bank: bankID, Amount: d("0")},
		{Borrower: 77, Bank: bankID, Amount: d("50")},
		{Borrower: 1, Bank: 12345, Amount: d("50")},
		{Borrower: 2, Bank: bankID, Amount: d("50")},
		{Borrower: 3, Bank: bankID, Amount: d("99999")},
		{Borrower: 3, Bank: bankID, Amount: d("2000"), Term: -1},
		{Borrower: 3, Bank: bankID, Amount: d("3000")},
	}
	out, err := s.ProcessCycle(1, 0.03, reqs, nil, Directives{}, b)
	require.NoError(t, err)
	require.Len(t, out.Results, len(reqs))

	reasons := make([]Reason, len(reqs))
	for i, r := range out.Results {
		assert.Equal(t, reqs[i], r.Req())
		switch v := r.(type) {
		case Approved:
			require.NotNil(t, v.Loan)
			assert.True(t, v.Loan.Principal.IsPositive(), "approved loans are never zero")
		case Rejected:
			reasons[i] = v.Reason
			assert.NotEmpty(t, v.Detail)
		}
	}
	assert.Equal(t, []Reason{"", ReasonInvalidRequest, ReasonUnknownBorrower, ReasonUnknownBank,
		ReasonRiskTooHigh, ReasonAmountLimit, ReasonInvalidRequest, ""}, reasons)
	assert.Equal(t, 2, out.Approvals())
	assert.Equal(t, 6, out.Rejections())
	assert.True(t, out.Originated().Equal(d("3100")))

	commit(t, b, out)
	assert.True(t, b.l.Created().Equal(d("3100")))
	assert.True(t, b.l.Balance(1).Equal(d("600")))
	bank, _ := s.Bank(bankID)
	assert.True(t, bank.LoanFunding.Equal(d("3100")))
}

func TestDebtServiceCap(t *testing.T) {
	b := newBook(t)
	s := newSystem()
	// 60 income, 0.4 cap: an installment above 24 is refused.
	out, err := s.ProcessCycle(1, 0.03, []Request{{Borrower: 1, Bank: bankID, Amount: d("1000"), Term: 12}}, nil, Directives{}, b)
	require.NoError(t, err)
	rej, ok := out.Results[0].(Rejected)
	require.True(t, ok)
	assert.Equal(t, ReasonDebtService, rej.Reason)
}

func TestSolvencyLimitAndFlagging(t *testing.T) {
	b := newBook(t)
	s := NewSystem(DefaultConfig(), NewBank(bankID, 0.5))
	bank, _ := s.Bank(bankID)
	bank.LoanFunding = d("19000") // 10000 / 19000 is just above the minimum

	out, err := s.ProcessCycle(1, 0.03, []Request{{Borrower: 3, Bank: bankID, Amount: d("3000")}}, nil, Directives{}, b)
	require.NoError(t, err)
	assert.False(t, bank.Flagged)
	rej, ok := out.Results[0].(Rejected)
	require.True(t, ok)
	assert.Equal(t, ReasonSolvencyLimit, rej.Reason)

	// A bank already below its minimum is flagged and refuses everything.
	bank.LoanFunding = d("25000")
	out, err = s.ProcessCycle(2, 0.03, []Request{{Borrower: 1, Bank: bankID, Amount: d("10")}}, nil, Directives{}, b)
	require.NoError(t, err)
	assert.True(t, bank.Flagged)
	assert.Equal(t, ReasonBankFlagged, out.Results[0].(Rejected).Reason)
}

func TestLiquidityInjectionRestoresSolvency(t *testing.T) {
	b := newBook(t)
	s := NewSystem(DefaultConfig(), NewBank(bankID, 0.5))
	bank, _ := s.Bank(bankID)
	bank.LoanFunding = d("40000")

	out, err := s.ProcessCycle(1, 0.03, nil, nil, Directives{InjectLiquidity: true}, b)
	require.NoError(t, err)
	require.Len(t, out.Injections, 1)
	commit(t, b, out)

	r, err := bank.Solvency(b.l.Balance(bankID))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, r, 0.5)
	assert.False(t, bank.Flagged)
	assert.True(t, b.l.Created().Equal(out.Injections[0].Amount))
}

func TestTighteningRaisesMinimumScore(t *testing.T) {
	b := newBook(t)
	s := newSystem()
	req := []Request{{Borrower: 1, Bank: bankID, Amount: d("100")}}

	out, err := s.ProcessCycle(1, 0.03, req, nil, Directives{TightenBy: 0.9}, b)
	require.NoError(t, err)
	assert.Equal(t, ReasonRiskTooHigh, out.Results[0].(Rejected).Reason)
}

func TestRepaymentBurnsPrincipalAndPaysInterest(t *testing.T) {
	b := newBook(t)
	s := newSystem()
	out, err := s.ProcessCycle(1, 0.03, []Request{{Borrower: 3, Bank: bankID, Amount: d("1200"), Term: 12}}, nil, Directives{}, b)
	require.NoError(t, err)
	commit(t, b, out)
	loan := out.Results[0].(Approved).Loan
	reserves := b.l.Balance(bankID)

	for cycle := uint64(2); cycle <= 13; cycle++ {
		out, err = s.ProcessCycle(cycle, 0.03, nil, nil, Directives{}, b)
		require.NoError(t, err)
		require.Len(t, out.Repayments, 1, "cycle %d", cycle)
		commit(t, b, out)
	}

	assert.Equal(t, StatusClosed, loan.Status)
	assert.True(t, loan.Outstanding.IsZero())
	assert.True(t, b.l.Destroyed().Equal(d("1200")), "all principal destroyed")
	assert.True(t, b.l.Balance(bankID).GreaterThan(reserves), "interest went to the bank")
	bank, _ := s.Bank(bankID)
	assert.True(t, bank.LoanFunding.IsZero())
	assert.Zero(t, s.LiveLoans())
}

func TestMissedPaymentsCapitaliseThenDefault(t *testing.T) {
	b := newBook(t)
	s := newSystem()
	out, err := s.ProcessCycle(1, 0.03, []Request{{Borrower: 1, Bank: bankID, Amount: d("200"), Term: 12}}, nil, Directives{}, b)
	require.NoError(t, err)
	commit(t, b, out)
	loan := out.Results[0].(Approved).Loan

	// Borrower spends everything.
	require.NoError(t, b.l.Commit(ledger.NewPosting(1, "spend", ledger.Transfer(1, 3, b.l.Balance(1)))))

	prev := loan.Outstanding
	cfg := s.Config()
	for i := 1; i <= cfg.MaxMissed; i++ {
		out, err = s.ProcessCycle(uint64(1+i), 0.03, nil, nil, Directives{}, b)
		require.NoError(t, err)
		require.Len(t, out.Missed, 1)
		require.Empty(t, out.WriteOffs, "miss %d of %d is not a default yet", i, cfg.MaxMissed)
		assert.True(t, loan.Outstanding.GreaterThanOrEqual(prev), "missed interest is capitalised")
		prev = loan.Outstanding
		commit(t, b, out)
	}
	assert.Equal(t, cfg.MaxMissed, loan.Missed)
	assert.NotEqual(t, StatusDefaulted, loan.Status)

	out, err = s.ProcessCycle(uint64(2+cfg.MaxMissed), 0.03, nil, nil, Directives{}, b)
	require.NoError(t, err)
	require.Len(t, out.WriteOffs, 1)
	assert.InDelta(t, 1.0, out.DefaultRate(), 1e-12)
	commit(t, b, out)

	assert.Equal(t, StatusDefaulted, loan.Status)
	assert.True(t, loan.Outstanding.IsZero())
	wo := out.WriteOffs[0]
	assert.True(t, wo.Burned.Equal(d("200")))
	assert.True(t, b.l.Destroyed().Equal(d("200")))
	bank, _ := s.Bank(bankID)
	assert.True(t, bank.LoanFunding.IsZero())
	assert.True(t, bank.Loss.Equal(wo.Amount))

	// The default follows the borrower into a worse tier.
	out, err = s.ProcessCycle(20, 0.03, []Request{{Borrower: 1, Bank: bankID, Amount: d("10")}}, nil, Directives{}, b)
	require.NoError(t, err)
	again, ok := out.Results[0].(Approved)
	require.True(t, ok)
	assert.Equal(t, TierA, loan.Tier)
	assert.Equal(t, TierC, again.Loan.Tier)
}

func TestDepositsWithdrawalsAndInterest(t *testing.T) {
	b := newBook(t)
	s := newSystem()
	out, err := s.ProcessCycle(1, 0.08, nil, []DepositOrder{
		{Depositor: 1, Bank: bankID, Amount: d("300")},
		{Depositor: 2, Bank: bankID, Amount: d("300")}, // nothing to deposit
	}, Directives{}, b)
	require.NoError(t, err)
	commit(t, b, out)

	bank, _ := s.Bank(bankID)
	assert.True(t, out.Deposited.Equal(d("300")))
	assert.True(t, b.l.Balance(1).Equal(d("200")))
	assert.True(t, b.l.Balance(bankID).Equal(d("10300")))
	// 6% annual over 12 cycles on 300.
	assert.True(t, out.Accrued.Equal(d("1.5")))
	assert.True(t, bank.Claim(1).Equal(d("301.5")))
	assert.True(t, bank.Deposits.Equal(d("301.5")))
	assert.Equal(t, []ledger.AgentID{1}, bank.Depositors())

	out, err = s.ProcessCycle(2, 0, nil, []DepositOrder{{Depositor: 1, Bank: bankID, Amount: d("1000"), Withdraw: true}}, Directives{}, b)
	require.NoError(t, err)
	commit(t, b, out)
	assert.True(t, out.Withdrawn.Equal(d("301.5")), "withdrawal capped at the claim")
	assert.True(t, bank.Deposits.IsZero())
	assert.True(t, b.l.Balance(1).Equal(d("501.5")))
}

func TestBankRunPullsShareOfClaims(t *testing.T) {
	b := newBook(t)
	s := newSystem()
	out, err := s.ProcessCycle(1, 0, nil, []DepositOrder{{Depositor: 1, Bank: bankID, Amount: d("300")}}, Directives{}, b)
	require.NoError(t, err)
	commit(t, b, out)
	bank, _ := s.Bank(bankID)

	out, err = s.ProcessCycle(2, 0, nil, nil, Directives{Run: 0.3}, b)
	require.NoError(t, err)
	commit(t, b, out)
	assert.True(t, out.RunOff.Equal(d("90")))
	assert.True(t, out.Withdrawn.Equal(out.RunOff))
	assert.True(t, bank.Claim(1).Equal(d("210")))
	assert.True(t, b.l.Balance(1).Equal(d("290")))

	// A run on a bank with thin reserves stops when they are gone.
	require.NoError(t, b.l.Commit(ledger.NewPosting(2, "drain", ledger.Transfer(bankID, 3, b.l.Balance(bankID).Sub(d("50"))))))
	out, err = s.ProcessCycle(3, 0, nil, nil, Directives{Run: 1}, b)
	require.NoError(t, err)
	commit(t, b, out)
	assert.True(t, out.RunOff.Equal(d("50")))
	assert.True(t, b.l.Balance(bankID).IsZero())
	assert.True(t, bank.Claim(1).Equal(d("160")))
}

func TestSettleRepaysWhatItCanAndWritesOffTheRest(t *testing.T) {
	b := newBook(t)
	s := newSystem()
	out, err := s.ProcessCycle(1, 0.03, []Request{{Borrower: 3, Bank: bankID, Amount: d("3000")}}, nil, Directives{}, b)
	require.NoError(t, err)
	commit(t, b, out)
	loan := out.Results[0].(Approved).Loan

	require.NoError(t, b.l.Commit(ledger.NewPosting(1, "spend", ledger.Transfer(3, 1, b.l.Balance(3).Sub(d("1000"))))))
	reserves := b.l.Balance(bankID)

	out = s.Settle(2, 3, b)
	commit(t, b, out)

	require.Len(t, out.Repayments, 1)
	assert.True(t, out.Repayments[0].Principal.Equal(d("1000")))
	require.Len(t, out.WriteOffs, 1)
	assert.True(t, out.WriteOffs[0].Amount.Equal(d("2000")))
	assert.True(t, b.l.Balance(3).IsZero())
	assert.True(t, b.l.Balance(bankID).Equal(reserves.Sub(d("2000"))))
	assert.True(t, b.l.Destroyed().Equal(d("3000")), "every unit of the loan is retired")
	assert.Equal(t, StatusDefaulted, loan.Status)
	bank, _ := s.Bank(bankID)
	assert.True(t, bank.LoanFunding.IsZero())
	assert.True(t, bank.Loss.Equal(d("2000")))
	assert.Zero(t, s.LiveLoans())

	out = s.Settle(3, 3, b)
	assert.Empty(t, out.Postings, "nothing left to settle")
}

func TestSettleClosesCoveredLoans(t *testing.T) {
	b := newBook(t)
	s := newSystem()
	out, err := s.ProcessCycle(1, 0.03, []Request{{Borrower: 3, Bank: bankID, Amount: d("3000")}}, nil, Directives{}, b)
	require.NoError(t, err)
	commit(t, b, out)
	loan := out.Results[0].(Approved).Loan

	out = s.Settle(2, 3, b)
	commit(t, b, out)
	assert.Empty(t, out.WriteOffs)
	assert.Equal(t, StatusClosed, loan.Status)
	assert.True(t, b.l.Balance(3).Equal(d("8000")))
}

func TestSolvencyRatio(t *testing.T) {
	bank := NewBank(1, 0.1)
	r, err := bank.Solvency(d("0"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, r, "a bank that owes nothing is solvent")

	bank.Deposits = d("200")
	r, err = bank.Solvency(d("50"))
	require.NoError(t, err)
	assert.Equal(t, 0.25, r)

	r, err = bank.SolvencyAfter(d("50"), d("300"))
	require.NoError(t, err)
	assert.Equal(t, 0.1, r)
}

func TestRiskScoreAndTiers(t *testing.T) {
	cfg := DefaultRiskConfig()
	best := cfg.Score(Profile{Kind: ledger.KindConsumer, Income: 100, Balance: 1000, Employed: true})
	assert.InDelta(t, 1.0, best, 1e-9)
	assert.Equal(t, TierA, TierFor(best))

	worst := cfg.Score(Profile{Kind: ledger.KindConsumer, Defaults: 3})
	assert.Equal(t, 0.1, worst, "scores are floored")
	assert.Equal(t, TierD, TierFor(worst))

	firm := cfg.Score(Profile{Kind: ledger.KindFirm, Balance: 2500, Income: 1500, Age: 12})
	assert.InDelta(t, 0.5*0.5+0.3+0.2*0.5, firm, 1e-12)
	assert.Equal(t, TierB, TierFor(0.65))
	assert.Equal(t, TierC, TierFor(0.45))
}

func TestInstallment(t *testing.T) {
	assert.True(t, Installment(d("1200"), 0, 12).Equal(d("100")))
	// 1% per period over 12 periods.
	assert.Equal(t, "106.62", Installment(d("1200"), 0.01, 12).StringFixed(2))
}

func TestTaylorRuleRaisesOnInflation(t *testing.T) {
	cb := NewCentralBank(DefaultTaylorConfig(), 0.03, 12)
	cb.Observe(1000)
	_, ok := cb.Decide(1, 0.04)
	assert.False(t, ok, "only every third cycle")

	cb.Observe(1000)
	dec, ok := cb.Decide(3, 0.04)
	require.True(t, ok)
	assert.Equal(t, ActionRaise, dec.Action)
	assert.True(t, dec.Clamped)
	assert.InDelta(t, 0.035, dec.Rate, 1e-12, "step limited to 50bp")
	assert.InDelta(t, 0.035, cb.Rate(), 1e-12)
	assert.Len(t, cb.Decisions(), 1)
}

func TestTaylorRuleCutsAndClampsToBounds(t *testing.T) {
	cfg := DefaultTaylorConfig()
	cb := NewCentralBank(cfg, 0.004, 12)
	cb.Observe(1000)
	cb.Observe(500) // deep negative gap, clamped
	assert.InDelta(t, -cfg.GapClamp, cb.Gap(), 1e-12)

	dec, ok := cb.Decide(3, -0.01)
	require.True(t, ok)
	assert.Equal(t, 0.0, dec.Rate, "never below the floor")
	assert.Equal(t, ActionCut, dec.Action)
}

func TestTaylorRuleHoldsNearTarget(t *testing.T) {
	cfg := DefaultTaylorConfig()
	cb := NewCentralBank(cfg, cfg.Neutral, 12)
	cb.Observe(1000)
	cb.Observe(1000)
	perCycle := 0.0020598 // about 2.5% a year
	dec, ok := cb.Decide(6, perCycle)
	require.True(t, ok)
	assert.Equal(t, ActionHold, dec.Action)
	assert.InDelta(t, cfg.Neutral, dec.Rate, 0.001)
}
