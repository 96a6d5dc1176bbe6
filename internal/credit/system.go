package credit

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/ledger"
)

// Reason is a machine-readable rejection code.
type Reason string

const (
	ReasonInvalidRequest  Reason = "invalid_request"
	ReasonUnknownBorrower Reason = "unknown_borrower"
	ReasonUnknownBank     Reason = "unknown_bank"
	ReasonRiskTooHigh     Reason = "risk_too_high"
	ReasonSolvencyLimit   Reason = "solvency_limit"
	ReasonDebtService     Reason = "debt_service"
	ReasonAmountLimit     Reason = "amount_limit"
	ReasonBankFlagged     Reason = "bank_flagged"
)

// Request asks a bank for a loan.
type Request struct {
	Borrower ledger.AgentID  `json:"borrower"`
	Bank     ledger.AgentID  `json:"bank"`
	Amount   decimal.Decimal `json:"amount"`
	Term     int             `json:"term"` // installments; 0 means the default term
	Purpose  string          `json:"purpose"`
}

// Result is the resolution of one request: either Approved or Rejected.
type Result interface {
	Req() Request
	isResult()
}

// Approved carries the originated loan.
type Approved struct {
	Request Request
	Loan    *Loan
}

// Rejected carries the reason the request was turned down.
type Rejected struct {
	Request Request
	Reason  Reason
	Detail  string
}

func (a Approved) Req() Request { return a.Request }
func (r Rejected) Req() Request { return r.Request }
func (Approved) isResult()      {}
func (Rejected) isResult()      {}

// DepositOrder moves cash into or out of a bank.
type DepositOrder struct {
	Depositor ledger.AgentID
	Bank      ledger.AgentID
	Amount    decimal.Decimal
	Withdraw  bool
}

// Repayment is one installment paid.
type Repayment struct {
	Loan      uint64          `json:"loan"`
	Borrower  ledger.AgentID  `json:"borrower"`
	Interest  decimal.Decimal `json:"interest"`
	Principal decimal.Decimal `json:"principal"`
}

// WriteOff is a defaulted loan removed from the books.
type WriteOff struct {
	Loan     uint64          `json:"loan"`
	Borrower ledger.AgentID  `json:"borrower"`
	Bank     ledger.AgentID  `json:"bank"`
	Amount   decimal.Decimal `json:"amount"` // outstanding at default
	Burned   decimal.Decimal `json:"burned"` // reserves destroyed to retire the funding
}

// Injection is central-bank liquidity minted into a bank.
type Injection struct {
	Bank   ledger.AgentID  `json:"bank"`
	Amount decimal.Decimal `json:"amount"`
}

// Directives are crisis measures and shocks the credit system applies this
// cycle.
type Directives struct {
	TightenBy       float64 // added to the minimum score
	InjectLiquidity bool
	Run             float64 // share of every deposit claim pulled in a bank run, 0 for none
}

// View is read access to the agent side of the economy.
type View interface {
	Balance(id ledger.AgentID) decimal.Decimal
	Profile(id ledger.AgentID) (Profile, bool)
}

// Outcome is everything one credit cycle proposes. Postings must be
// committed in order.
type Outcome struct {
	Cycle       uint64
	Postings    []ledger.Posting
	Results     []Result // one per request, in request order
	Repayments  []Repayment
	Missed      []uint64 // loan IDs with a missed installment
	WriteOffs   []WriteOff
	Injections  []Injection
	Deposited   decimal.Decimal
	Withdrawn   decimal.Decimal
	RunOff      decimal.Decimal // part of Withdrawn pulled by a bank run
	Accrued     decimal.Decimal // deposit interest credited to claims
	LiveAtStart int
}

// Approvals counts approved requests.
func (o Outcome) Approvals() int {
	n := 0
	for _, r := range o.Results {
		if _, ok := r.(Approved); ok {
			n++
		}
	}
	return n
}

// Rejections counts rejected requests.
func (o Outcome) Rejections() int { return len(o.Results) - o.Approvals() }

// Originated is the principal of all approved loans.
func (o Outcome) Originated() decimal.Decimal {
	total := decimal.Zero
	for _, r := range o.Results {
		if a, ok := r.(Approved); ok {
			total = total.Add(a.Loan.Principal)
		}
	}
	return total
}

// DefaultRate is this cycle's defaults over loans live at the start.
func (o Outcome) DefaultRate() float64 {
	if o.LiveAtStart == 0 {
		return 0
	}
	return float64(len(o.WriteOffs)) / float64(o.LiveAtStart)
}

// Config tunes underwriting and deposits.
type Config struct {
	CyclesPerYear  int                `yaml:"cycles_per_year" toml:"cycles_per_year" json:"cycles_per_year"`
	MinScore       float64            `yaml:"min_score" toml:"min_score" json:"min_score"`
	MaxDebtService float64            `yaml:"max_debt_service" toml:"max_debt_service" json:"max_debt_service"`
	MaxLoan        float64            `yaml:"max_loan" toml:"max_loan" json:"max_loan"`
	DefaultTerm    int                `yaml:"default_term" toml:"default_term" json:"default_term"`
	MaxMissed      int                `yaml:"max_missed" toml:"max_missed" json:"max_missed"`
	TierPremium    map[string]float64 `yaml:"tier_premium" toml:"tier_premium" json:"tier_premium"`
	DepositSpread  float64            `yaml:"deposit_spread" toml:"deposit_spread" json:"deposit_spread"` // deposit rate = policy - spread
	Risk           RiskConfig         `yaml:"risk" toml:"risk" json:"risk"`
}

// DefaultConfig returns the built-in credit parameters.
func DefaultConfig() Config {
	return Config{
		CyclesPerYear:  12,
		MinScore:       0.35,
		MaxDebtService: 0.4,
		MaxLoan:        20000,
		DefaultTerm:    12,
		MaxMissed:      6,
		TierPremium:    map[string]float64{"A": 0.01, "B": 0.03, "C": 0.06, "D": 0.1},
		DepositSpread:  0.02,
		Risk:           DefaultRiskConfig(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.CyclesPerYear < 1 {
		return fmt.Errorf("credit: cycles_per_year must be at least 1, got %d", c.CyclesPerYear)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("credit: min_score must be in [0,1], got %v", c.MinScore)
	}
	if c.MaxDebtService <= 0 {
		return fmt.Errorf("credit: max_debt_service must be positive, got %v", c.MaxDebtService)
	}
	if c.MaxLoan <= 0 {
		return fmt.Errorf("credit: max_loan must be positive, got %v", c.MaxLoan)
	}
	if c.DefaultTerm < 1 {
		return fmt.Errorf("credit: default_term must be at least 1, got %d", c.DefaultTerm)
	}
	if c.MaxMissed < 1 {
		return fmt.Errorf("credit: max_missed must be at least 1, got %d", c.MaxMissed)
	}
	for _, t := range []Tier{TierA, TierB, TierC, TierD} {
		if _, ok := c.TierPremium[t.String()]; !ok {
			return fmt.Errorf("credit: tier_premium missing tier %s", t)
		}
	}
	return nil
}

type history struct {
	missed   int
	defaults int
}

// System runs every commercial bank. It owns bank books and loans; ledger
// effects are returned as postings for the caller to commit.
type System struct {
	cfg     Config
	banks   []*Bank
	byID    map[ledger.AgentID]*Bank
	history map[ledger.AgentID]*history
	nextID  uint64
}

// NewSystem creates a credit system over the given banks.
func NewSystem(cfg Config, banks ...*Bank) *System {
	s := &System{
		cfg:     cfg,
		byID:    make(map[ledger.AgentID]*Bank, len(banks)),
		history: make(map[ledger.AgentID]*history),
		nextID:  1,
	}
	for _, b := range banks {
		s.banks = append(s.banks, b)
		s.byID[b.ID] = b
	}
	return s
}

// Config returns the credit configuration.
func (s *System) Config() Config { return s.cfg }

// Banks returns the banks in creation order.
func (s *System) Banks() []*Bank { return s.banks }

// Bank looks up a bank.
func (s *System) Bank(id ledger.AgentID) (*Bank, bool) {
	b, ok := s.byID[id]
	return b, ok
}

// PeriodRate converts an annual rate to a per-cycle rate.
func (s *System) PeriodRate(annual float64) float64 {
	return annual / float64(s.cfg.CyclesPerYear)
}

// Debt returns a borrower's total outstanding and per-cycle installments.
func (s *System) Debt(borrower ledger.AgentID) (outstanding, installments decimal.Decimal) {
	outstanding, installments = decimal.Zero, decimal.Zero
	for _, b := range s.banks {
		for _, l := range b.Loans {
			if l.Borrower == borrower && l.Live() {
				outstanding = outstanding.Add(l.Outstanding)
				installments = installments.Add(l.Installment)
			}
		}
	}
	return outstanding, installments
}

// LiveLoans counts loans still being repaid across all banks.
func (s *System) LiveLoans() int {
	n := 0
	for _, b := range s.banks {
		n += len(b.LiveLoans())
	}
	return n
}

// tally tracks balances as this cycle's postings would leave them.
type tally struct {
	view View
	bal  map[ledger.AgentID]decimal.Decimal
}

func (t *tally) get(id ledger.AgentID) decimal.Decimal {
	if v, ok := t.bal[id]; ok {
		return v
	}
	v := t.view.Balance(id)
	t.bal[id] = v
	return v
}

func (t *tally) add(id ledger.AgentID, amount decimal.Decimal) {
	t.bal[id] = t.get(id).Add(amount)
}

// ProcessCycle runs deposits, repayments and defaults, new loan requests,
// then deposit interest, in that order. Every request gets exactly one
// Result.
func (s *System) ProcessCycle(cycle uint64, policyRate float64, requests []Request, deposits []DepositOrder, dir Directives, view View) (Outcome, error) {
	out := Outcome{
		Cycle:     cycle,
		Results:   make([]Result, 0, len(requests)),
		Deposited: decimal.Zero,
		Withdrawn: decimal.Zero,
		RunOff:    decimal.Zero,
		Accrued:   decimal.Zero,
	}
	t := &tally{view: view, bal: make(map[ledger.AgentID]decimal.Decimal)}

	// Flags reflect the opening balance sheet.
	for _, b := range s.banks {
		r, err := b.Solvency(t.get(b.ID))
		if err != nil {
			return out, fmt.Errorf("bank %d at cycle %d: %w", b.ID, cycle, err)
		}
		was := b.Flagged
		b.Flagged = r < b.MinSolvency
		if b.Flagged && !was {
			slog.Warn("bank flagged for intervention", "cycle", cycle, "bank", b.ID, "solvency", r, "min", b.MinSolvency)
		}
	}

	if dir.InjectLiquidity {
		s.injectLiquidity(&out, t)
	}

	s.applyDeposits(&out, t, deposits)
	if dir.Run > 0 {
		s.bankRun(&out, t, dir.Run)
	}

	for _, b := range s.banks {
		out.LiveAtStart += len(b.LiveLoans())
	}
	for _, b := range s.banks {
		for _, l := range b.LiveLoans() {
			s.service(&out, t, b, l)
		}
	}

	minScore := s.cfg.MinScore + dir.TightenBy
	for _, req := range requests {
		out.Results = append(out.Results, s.underwrite(&out, t, cycle, policyRate, minScore, req))
	}

	depositRate := policyRate - s.cfg.DepositSpread
	if depositRate > 0 {
		per := decimal.NewFromFloat(s.PeriodRate(depositRate))
		for _, b := range s.banks {
			for _, id := range b.depositors {
				interest := b.Claim(id).Mul(per).Round(2)
				if interest.IsPositive() {
					b.credit(id, interest)
					out.Accrued = out.Accrued.Add(interest)
				}
			}
		}
	}

	return out, nil
}

func (s *System) injectLiquidity(out *Outcome, t *tally) {
	for _, b := range s.banks {
		if !b.Flagged {
			continue
		}
		// Restore the minimum ratio with a small margin.
		need := b.Liabilities().Mul(decimal.NewFromFloat(b.MinSolvency * 1.1)).Sub(t.get(b.ID)).Round(2)
		if !need.IsPositive() {
			continue
		}
		out.Postings = append(out.Postings, ledger.NewPosting(out.Cycle, "central bank liquidity injection", ledger.Mint(b.ID, need)))
		out.Injections = append(out.Injections, Injection{Bank: b.ID, Amount: need})
		t.add(b.ID, need)
		b.Flagged = false
		slog.Info("liquidity injected", "cycle", out.Cycle, "bank", b.ID, "amount", need.StringFixed(2))
	}
}

func (s *System) applyDeposits(out *Outcome, t *tally, orders []DepositOrder) {
	for _, o := range orders {
		b, ok := s.byID[o.Bank]
		if !ok || !o.Amount.IsPositive() {
			slog.Debug("deposit order ignored", "cycle", out.Cycle, "depositor", o.Depositor, "bank", o.Bank)
			continue
		}
		if o.Withdraw {
			amt := decimal.Min(o.Amount, b.Claim(o.Depositor), t.get(b.ID))
			if !amt.IsPositive() {
				continue
			}
			out.Postings = append(out.Postings, ledger.NewPosting(out.Cycle, "deposit withdrawal", ledger.Transfer(b.ID, o.Depositor, amt)))
			b.debit(o.Depositor, amt)
			t.add(b.ID, amt.Neg())
			t.add(o.Depositor, amt)
			out.Withdrawn = out.Withdrawn.Add(amt)
			continue
		}
		amt := decimal.Min(o.Amount, t.get(o.Depositor))
		if !amt.IsPositive() {
			continue
		}
		out.Postings = append(out.Postings, ledger.NewPosting(out.Cycle, "deposit", ledger.Transfer(o.Depositor, b.ID, amt)))
		b.credit(o.Depositor, amt)
		t.add(o.Depositor, amt.Neg())
		t.add(b.ID, amt)
		out.Deposited = out.Deposited.Add(amt)
	}
}

// bankRun pulls a share of every claim, first come first served, until
// reserves run dry.
func (s *System) bankRun(out *Outcome, t *tally, share float64) {
	frac := decimal.NewFromFloat(math.Min(share, 1))
	for _, b := range s.banks {
		pulled := decimal.Zero
		for _, id := range b.depositors {
			amt := decimal.Min(b.Claim(id).Mul(frac).Round(2), t.get(b.ID))
			if !amt.IsPositive() {
				continue
			}
			out.Postings = append(out.Postings, ledger.NewPosting(out.Cycle, "bank run withdrawal", ledger.Transfer(b.ID, id, amt)))
			b.debit(id, amt)
			t.add(b.ID, amt.Neg())
			t.add(id, amt)
			pulled = pulled.Add(amt)
		}
		if pulled.IsPositive() {
			out.Withdrawn = out.Withdrawn.Add(pulled)
			out.RunOff = out.RunOff.Add(pulled)
			slog.Warn("bank run", "cycle", out.Cycle, "bank", b.ID, "pulled", pulled.StringFixed(2), "share", share)
		}
	}
}

// service collects one installment, or records a miss and defaults the
// loan once the misses exceed MaxMissed.
func (s *System) service(out *Outcome, t *tally, b *Bank, l *Loan) {
	interest, principal := l.Due(s.PeriodRate(l.Rate))
	payment := interest.Add(principal)

	if payment.IsPositive() && t.get(l.Borrower).GreaterThanOrEqual(payment) {
		p := ledger.NewPosting(out.Cycle, "loan installment")
		if interest.IsPositive() {
			p.Add(ledger.Transfer(l.Borrower, b.ID, interest))
			t.add(b.ID, interest)
		}
		if principal.IsPositive() {
			p.Add(ledger.Burn(l.Borrower, principal))
			retired := decimal.Min(principal, l.Funded)
			l.Funded = l.Funded.Sub(retired)
			b.LoanFunding = b.LoanFunding.Sub(retired)
		}
		t.add(l.Borrower, payment.Neg())
		out.Postings = append(out.Postings, p)

		l.Outstanding = l.Outstanding.Sub(principal)
		l.Paid++
		l.Status = StatusRepaying
		if !l.Outstanding.IsPositive() {
			l.Outstanding = decimal.Zero
			l.Status = StatusClosed
			// Rounding residue on the funding side is retired with the loan.
			b.LoanFunding = b.LoanFunding.Sub(l.Funded)
			l.Funded = decimal.Zero
		}
		out.Repayments = append(out.Repayments, Repayment{Loan: l.ID, Borrower: l.Borrower, Interest: interest, Principal: principal})
		return
	}

	l.Missed++
	s.hist(l.Borrower).missed++
	out.Missed = append(out.Missed, l.ID)
	if l.Missed <= s.cfg.MaxMissed {
		l.Outstanding = l.Outstanding.Add(interest)
		l.Installment = Installment(l.Outstanding, s.PeriodRate(l.Rate), l.Remaining())
		return
	}

	s.writeOff(out, t, b, l)
}

// writeOff retires the funding out of reserves and books the loss.
func (s *System) writeOff(out *Outcome, t *tally, b *Bank, l *Loan) {
	burn := decimal.Min(l.Funded, t.get(b.ID))
	if burn.IsPositive() {
		out.Postings = append(out.Postings, ledger.NewPosting(out.Cycle, "loan write-off", ledger.Burn(b.ID, burn)))
		t.add(b.ID, burn.Neg())
	}
	b.LoanFunding = b.LoanFunding.Sub(l.Funded)
	b.Loss = b.Loss.Add(l.Outstanding)
	out.WriteOffs = append(out.WriteOffs, WriteOff{Loan: l.ID, Borrower: l.Borrower, Bank: b.ID, Amount: l.Outstanding, Burned: burn})
	slog.Info("loan defaulted", "cycle", out.Cycle, "loan", l.ID, "borrower", l.Borrower, "bank", b.ID,
		"outstanding", l.Outstanding.StringFixed(2), "missed", l.Missed)

	l.Funded = decimal.Zero
	l.Outstanding = decimal.Zero
	l.Status = StatusDefaulted
	s.hist(l.Borrower).defaults++
}

// Settle closes every live loan of a borrower that is leaving the economy.
// Cash on hand retires principal; whatever it cannot cover is written off.
// An overdrawn borrower pays nothing.
func (s *System) Settle(cycle uint64, borrower ledger.AgentID, view View) Outcome {
	out := Outcome{
		Cycle:     cycle,
		Deposited: decimal.Zero,
		Withdrawn: decimal.Zero,
		RunOff:    decimal.Zero,
		Accrued:   decimal.Zero,
	}
	t := &tally{view: view, bal: make(map[ledger.AgentID]decimal.Decimal)}
	for _, b := range s.banks {
		for _, l := range b.LiveLoans() {
			if l.Borrower != borrower {
				continue
			}
			out.LiveAtStart++
			pay := decimal.Min(l.Outstanding, t.get(borrower))
			if pay.IsPositive() {
				out.Postings = append(out.Postings, ledger.NewPosting(cycle, "loan settlement", ledger.Burn(borrower, pay)))
				t.add(borrower, pay.Neg())
				retired := decimal.Min(pay, l.Funded)
				l.Funded = l.Funded.Sub(retired)
				b.LoanFunding = b.LoanFunding.Sub(retired)
				l.Outstanding = l.Outstanding.Sub(pay)
				out.Repayments = append(out.Repayments, Repayment{Loan: l.ID, Borrower: borrower, Interest: decimal.Zero, Principal: pay})
			}
			if l.Outstanding.IsPositive() {
				s.writeOff(&out, t, b, l)
				continue
			}
			b.LoanFunding = b.LoanFunding.Sub(l.Funded)
			l.Funded = decimal.Zero
			l.Status = StatusClosed
		}
	}
	return out
}

func (s *System) hist(id ledger.AgentID) *history {
	h, ok := s.history[id]
	if !ok {
		h = &history{}
		s.history[id] = h
	}
	return h
}

func reject(req Request, reason Reason, format string, args ...any) Result {
	return Rejected{Request: req, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// underwrite resolves one request.
func (s *System) underwrite(out *Outcome, t *tally, cycle uint64, policyRate, minScore float64, req Request) Result {
	term := req.Term
	if term == 0 {
		term = s.cfg.DefaultTerm
	}
	if !req.Amount.IsPositive() || term < 1 {
		return reject(req, ReasonInvalidRequest, "amount %s term %d", req.Amount, req.Term)
	}
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return reject(req, ReasonInvalidRequest, "amount %s rounds to zero", req.Amount)
	}

	b, ok := s.byID[req.Bank]
	if !ok {
		return reject(req, ReasonUnknownBank, "bank %d", req.Bank)
	}
	prof, ok := t.view.Profile(req.Borrower)
	if !ok {
		return reject(req, ReasonUnknownBorrower, "borrower %d", req.Borrower)
	}
	if b.Flagged {
		return reject(req, ReasonBankFlagged, "bank %d below minimum solvency", b.ID)
	}
	if amount.GreaterThan(decimal.NewFromFloat(s.cfg.MaxLoan)) {
		return reject(req, ReasonAmountLimit, "amount %s above limit %v", amount, s.cfg.MaxLoan)
	}

	debt, installments := s.Debt(req.Borrower)
	h := s.hist(req.Borrower)
	prof.Debt = debt.InexactFloat64()
	prof.Missed = h.missed
	prof.Defaults = h.defaults
	score := s.cfg.Risk.Score(prof)
	if score < minScore {
		return reject(req, ReasonRiskTooHigh, "score %.3f below %.3f", score, minScore)
	}

	tier := TierFor(score)
	rate := policyRate + s.cfg.TierPremium[tier.String()]
	per := s.PeriodRate(rate)
	inst := Installment(amount, per, term)
	if prof.Income <= 0 {
		return reject(req, ReasonDebtService, "no income")
	}
	dsr := installments.Add(inst).InexactFloat64() / prof.Income
	if dsr > s.cfg.MaxDebtService {
		return reject(req, ReasonDebtService, "debt service %.3f above %.3f", dsr, s.cfg.MaxDebtService)
	}

	after, err := b.SolvencyAfter(t.get(b.ID), amount)
	if err != nil || after < b.MinSolvency {
		return reject(req, ReasonSolvencyLimit, "post-loan solvency %.3f below %.3f", after, b.MinSolvency)
	}

	loan := &Loan{
		ID:          s.nextID,
		Borrower:    req.Borrower,
		Lender:      b.ID,
		Principal:   amount,
		Outstanding: amount,
		Funded:      amount,
		Rate:        rate,
		Tier:        tier,
		Score:       score,
		Origination: cycle,
		Term:        term,
		Installment: inst,
		Status:      StatusActive,
	}
	s.nextID++
	b.Loans = append(b.Loans, loan)
	b.LoanFunding = b.LoanFunding.Add(amount)
	out.Postings = append(out.Postings, ledger.NewPosting(cycle, "loan origination", ledger.Mint(req.Borrower, amount)))
	t.add(req.Borrower, amount)
	return Approved{Request: req, Loan: loan}
}
