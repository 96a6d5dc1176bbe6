package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LegKind is the type of a single movement inside a posting.
type LegKind uint8

const (
	LegTransfer LegKind = iota // money From → To
	LegMint                    // money created into To
	LegBurn                    // money destroyed from From
	LegGoods                   // goods From → To
	LegProduce                 // goods created into To
	LegScrap                   // goods destroyed from From
)

func (k LegKind) String() string {
	switch k {
	case LegTransfer:
		return "transfer"
	case LegMint:
		return "mint"
	case LegBurn:
		return "burn"
	case LegGoods:
		return "goods"
	case LegProduce:
		return "produce"
	case LegScrap:
		return "scrap"
	default:
		return "unknown"
	}
}

// Leg is one movement of money or goods.
type Leg struct {
	Kind     LegKind
	From     AgentID
	To       AgentID
	Amount   decimal.Decimal
	Good     GoodID
	Quantity int
}

// Posting is a proposed ledger mutation. Components build postings; only
// the orchestrator commits them.
type Posting struct {
	Reason string
	Cycle  uint64
	Legs   []Leg
}

// NewPosting starts a posting with the given reason.
func NewPosting(cycle uint64, reason string, legs ...Leg) Posting {
	return Posting{Reason: reason, Cycle: cycle, Legs: legs}
}

// Add appends legs to the posting.
func (p *Posting) Add(legs ...Leg) {
	p.Legs = append(p.Legs, legs...)
}

// Transfer moves money between two accounts.
func Transfer(from, to AgentID, amount decimal.Decimal) Leg {
	return Leg{Kind: LegTransfer, From: from, To: to, Amount: amount}
}

// Mint creates money into an account.
func Mint(to AgentID, amount decimal.Decimal) Leg {
	return Leg{Kind: LegMint, To: to, Amount: amount}
}

// Burn destroys money held by an account.
func Burn(from AgentID, amount decimal.Decimal) Leg {
	return Leg{Kind: LegBurn, From: from, Amount: amount}
}

// MoveGoods moves units of a good between accounts.
func MoveGoods(from, to AgentID, good GoodID, qty int) Leg {
	return Leg{Kind: LegGoods, From: from, To: to, Good: good, Quantity: qty}
}

// Produce creates units of a good in an account.
func Produce(to AgentID, good GoodID, qty int) Leg {
	return Leg{Kind: LegProduce, To: to, Good: good, Quantity: qty}
}

// Scrap destroys units of a good held by an account.
func Scrap(from AgentID, good GoodID, qty int) Leg {
	return Leg{Kind: LegScrap, From: from, Good: good, Quantity: qty}
}

// Transaction is a settled goods sale. Immutable once recorded.
type Transaction struct {
	Buyer     AgentID         `json:"buyer"`
	Seller    AgentID         `json:"seller"`
	Good      GoodID          `json:"good"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Cycle     uint64          `json:"cycle"`
}

// Amount is quantity × unit price.
func (t Transaction) Amount() decimal.Decimal {
	return t.UnitPrice.Mul(decimal.NewFromInt(int64(t.Quantity)))
}

// Validate rejects malformed transactions before they reach the ledger.
func (t Transaction) Validate() error {
	if t.Quantity <= 0 {
		return fmt.Errorf("transaction quantity %d: %w", t.Quantity, ErrInvalidAmount)
	}
	if !t.UnitPrice.IsPositive() {
		return fmt.Errorf("transaction unit price %s: %w", t.UnitPrice, ErrInvalidAmount)
	}
	if t.Buyer == t.Seller {
		return fmt.Errorf("transaction buyer and seller are both %d: %w", t.Buyer, ErrInvalidAmount)
	}
	return nil
}

// Posting turns the transaction into one atomic posting: the amount debited
// from the buyer is exactly the amount credited to the seller.
func (t Transaction) Posting(reason string) Posting {
	return NewPosting(t.Cycle, reason,
		Transfer(t.Buyer, t.Seller, t.Amount()),
		MoveGoods(t.Seller, t.Buyer, t.Good, t.Quantity),
	)
}

// Cents rounds an amount to two decimal places.
func Cents(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
