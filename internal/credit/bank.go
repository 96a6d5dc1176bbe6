package credit

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/ledger"
)

// ErrSolvencyUndefined is returned when a solvency ratio is not a finite number.
var ErrSolvencyUndefined = errors.New("solvency ratio is not finite")

// Bank is a commercial bank's balance sheet. Reserves are the bank's ledger
// balance; Deposits and LoanFunding are its liabilities.
type Bank struct {
	ID          ledger.AgentID  `json:"id"`
	MinSolvency float64         `json:"min_solvency"`
	Deposits    decimal.Decimal `json:"deposits"`
	LoanFunding decimal.Decimal `json:"loan_funding"`
	Loss        decimal.Decimal `json:"loss"` // cumulative write-offs
	Flagged     bool            `json:"flagged"`
	Loans       []*Loan         `json:"-"`

	claims     map[ledger.AgentID]decimal.Decimal
	depositors []ledger.AgentID // sorted
}

// NewBank creates a bank with no deposits or loans.
func NewBank(id ledger.AgentID, minSolvency float64) *Bank {
	return &Bank{
		ID:          id,
		MinSolvency: minSolvency,
		Deposits:    decimal.Zero,
		LoanFunding: decimal.Zero,
		Loss:        decimal.Zero,
		claims:      make(map[ledger.AgentID]decimal.Decimal),
	}
}

// Liabilities is deposits plus loan funding.
func (b *Bank) Liabilities() decimal.Decimal {
	return b.Deposits.Add(b.LoanFunding)
}

// Solvency returns reserves / liabilities, or 1 for a bank that owes nothing.
func (b *Bank) Solvency(reserves decimal.Decimal) (float64, error) {
	return solvency(reserves, b.Liabilities())
}

// SolvencyAfter is the ratio the bank would have after funding extra principal.
func (b *Bank) SolvencyAfter(reserves, principal decimal.Decimal) (float64, error) {
	return solvency(reserves, b.Liabilities().Add(principal))
}

func solvency(reserves, liabilities decimal.Decimal) (float64, error) {
	if !liabilities.IsPositive() {
		return 1, nil
	}
	r := reserves.InexactFloat64() / liabilities.InexactFloat64()
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return r, fmt.Errorf("bank reserves %s over liabilities %s: %w", reserves, liabilities, ErrSolvencyUndefined)
	}
	return r, nil
}

// Claim returns a depositor's balance with the bank.
func (b *Bank) Claim(id ledger.AgentID) decimal.Decimal {
	if c, ok := b.claims[id]; ok {
		return c
	}
	return decimal.Zero
}

// Depositors returns depositor IDs in ascending order.
func (b *Bank) Depositors() []ledger.AgentID {
	out := make([]ledger.AgentID, len(b.depositors))
	copy(out, b.depositors)
	return out
}

func (b *Bank) credit(id ledger.AgentID, amount decimal.Decimal) {
	cur, ok := b.claims[id]
	if !ok {
		i := sort.Search(len(b.depositors), func(i int) bool { return b.depositors[i] >= id })
		b.depositors = append(b.depositors, 0)
		copy(b.depositors[i+1:], b.depositors[i:])
		b.depositors[i] = id
		cur = decimal.Zero
	}
	b.claims[id] = cur.Add(amount)
	b.Deposits = b.Deposits.Add(amount)
}

func (b *Bank) debit(id ledger.AgentID, amount decimal.Decimal) {
	b.claims[id] = b.Claim(id).Sub(amount)
	b.Deposits = b.Deposits.Sub(amount)
}

// LiveLoans returns loans still expecting installments, in origination order.
func (b *Bank) LiveLoans() []*Loan {
	var out []*Loan
	for _, l := range b.Loans {
		if l.Live() {
			out = append(out, l)
		}
	}
	return out
}

// Outstanding is the sum of outstanding balances on live loans.
func (b *Bank) Outstanding() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.Loans {
		if l.Live() {
			total = total.Add(l.Outstanding)
		}
	}
	return total
}
