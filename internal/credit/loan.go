package credit

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/talgya/mini-economy/internal/ledger"
)

// Status is a loan's lifecycle state.
type Status uint8

const (
	StatusActive    Status = iota // originated, no payment yet
	StatusRepaying                // at least one installment paid
	StatusDefaulted               // written off
	StatusClosed                  // fully repaid
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusRepaying:
		return "repaying"
	case StatusDefaulted:
		return "defaulted"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Loan is one bank loan. Outstanding never goes negative and only grows by
// capitalised interest on a missed installment.
type Loan struct {
	ID          uint64          `json:"id"`
	Borrower    ledger.AgentID  `json:"borrower"`
	Lender      ledger.AgentID  `json:"lender"`
	Principal   decimal.Decimal `json:"principal"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Funded      decimal.Decimal `json:"funded"` // principal not yet repaid, backed by the bank's loan funding
	Rate        float64         `json:"rate"`   // annual
	Tier        Tier            `json:"tier"`
	Score       float64         `json:"score"`
	Origination uint64          `json:"origination"`
	Term        int             `json:"term"` // installments
	Installment decimal.Decimal `json:"installment"`
	Paid        int             `json:"paid"`
	Missed      int             `json:"missed"`
	Status      Status          `json:"status"`
}

// Live reports whether the loan still expects installments.
func (l *Loan) Live() bool {
	return l.Status == StatusActive || l.Status == StatusRepaying
}

// Remaining is the number of installments left, at least one while live.
func (l *Loan) Remaining() int {
	if n := l.Term - l.Paid; n > 1 {
		return n
	}
	return 1
}

// Due splits the next installment into interest and principal.
func (l *Loan) Due(periodRate float64) (interest, principal decimal.Decimal) {
	interest = l.Outstanding.Mul(decimal.NewFromFloat(periodRate)).Round(2)
	if l.Remaining() == 1 {
		return interest, l.Outstanding
	}
	principal = l.Installment.Sub(interest)
	if !principal.IsPositive() {
		principal = decimal.NewFromInt(0)
	}
	if principal.GreaterThan(l.Outstanding) {
		principal = l.Outstanding
	}
	return interest, principal
}

// Installment is the annuity payment for a principal over n periods.
func Installment(principal decimal.Decimal, periodRate float64, n int) decimal.Decimal {
	if n < 1 {
		n = 1
	}
	p := principal.InexactFloat64()
	if periodRate <= 0 {
		return ledger.Cents(p / float64(n))
	}
	pay := p * periodRate / (1 - math.Pow(1+periodRate, -float64(n)))
	return ledger.Cents(pay)
}
