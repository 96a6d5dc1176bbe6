// Package ledger holds every agent's money balance and goods inventory.
// It is the only place balances change, and it tracks every money creation
// and destruction so total supply can be reconciled each cycle.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
)

// AgentID is a unique identifier for any account holder.
type AgentID uint64

// GoodID identifies a good in the catalog.
type GoodID uint16

// Kind is the variant of agent that owns an account.
type Kind uint8

const (
	KindConsumer Kind = iota
	KindFirm
	KindBank
	KindGovernment
)

func (k Kind) String() string {
	switch k {
	case KindConsumer:
		return "consumer"
	case KindFirm:
		return "firm"
	case KindBank:
		return "bank"
	case KindGovernment:
		return "government"
	default:
		return "unknown"
	}
}

var (
	ErrUnknownAccount    = errors.New("ledger: unknown account")
	ErrDuplicateAccount  = errors.New("ledger: account already exists")
	ErrInvalidAmount     = errors.New("ledger: amount must be positive")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	ErrConservation      = errors.New("ledger: money conservation violated")
)

// Account is one agent's holdings. Bank reserves are the bank's balance.
type Account struct {
	ID        AgentID
	Kind      Kind
	Balance   decimal.Decimal
	Inventory map[GoodID]int
}

// EventKind tells whether a money event created or destroyed currency.
type EventKind uint8

const (
	EventCreation EventKind = iota
	EventDestruction
)

func (k EventKind) String() string {
	if k == EventCreation {
		return "creation"
	}
	return "destruction"
}

// MoneyEvent is an explicit, logged change to the money supply.
type MoneyEvent struct {
	Cycle  uint64          `json:"cycle"`
	Kind   EventKind       `json:"kind"`
	Agent  AgentID         `json:"agent"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// Ledger is the authoritative store of balances and inventories.
// It is not safe for concurrent use; the cycle orchestrator owns it.
type Ledger struct {
	accounts map[AgentID]*Account
	ids      []AgentID // sorted
	floor    decimal.Decimal

	initial   decimal.Decimal
	created   decimal.Decimal
	destroyed decimal.Decimal
	events    []MoneyEvent
}

// New creates an empty ledger. No posting may push a balance below floor.
func New(floor decimal.Decimal) *Ledger {
	return &Ledger{
		accounts: make(map[AgentID]*Account),
		floor:    floor,
	}
}

// Open registers an account with an opening balance. Opening balances form
// the initial money supply.
func (l *Ledger) Open(id AgentID, kind Kind, balance decimal.Decimal) error {
	if _, ok := l.accounts[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateAccount, id)
	}
	if balance.LessThan(l.floor) {
		return fmt.Errorf("open %d: balance %s below floor %s: %w", id, balance, l.floor, ErrInsufficientFunds)
	}
	l.accounts[id] = &Account{
		ID:        id,
		Kind:      kind,
		Balance:   balance,
		Inventory: make(map[GoodID]int),
	}
	idx := sort.Search(len(l.ids), func(i int) bool { return l.ids[i] >= id })
	l.ids = append(l.ids, 0)
	copy(l.ids[idx+1:], l.ids[idx:])
	l.ids[idx] = id
	l.initial = l.initial.Add(balance)
	return nil
}

// Balance returns an account's balance (zero for unknown accounts).
func (l *Ledger) Balance(id AgentID) decimal.Decimal {
	if a, ok := l.accounts[id]; ok {
		return a.Balance
	}
	return decimal.Zero
}

// Stock returns how many units of a good an account holds.
func (l *Ledger) Stock(id AgentID, good GoodID) int {
	if a, ok := l.accounts[id]; ok {
		return a.Inventory[good]
	}
	return 0
}

// Has reports whether the account exists.
func (l *Ledger) Has(id AgentID) bool {
	_, ok := l.accounts[id]
	return ok
}

// KindOf returns the kind of an account.
func (l *Ledger) KindOf(id AgentID) (Kind, bool) {
	a, ok := l.accounts[id]
	if !ok {
		return 0, false
	}
	return a.Kind, true
}

// IDs returns all account IDs in ascending order.
func (l *Ledger) IDs() []AgentID {
	out := make([]AgentID, len(l.ids))
	copy(out, l.ids)
	return out
}

// Floor returns the configured balance floor.
func (l *Ledger) Floor() decimal.Decimal { return l.floor }

// Total sums every balance in the system, bank reserves and government included.
func (l *Ledger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, id := range l.ids {
		total = total.Add(l.accounts[id].Balance)
	}
	return total
}

// TotalFor sums balances of one agent kind.
func (l *Ledger) TotalFor(kind Kind) decimal.Decimal {
	total := decimal.Zero
	for _, id := range l.ids {
		if a := l.accounts[id]; a.Kind == kind {
			total = total.Add(a.Balance)
		}
	}
	return total
}

// Initial returns the opening money supply.
func (l *Ledger) Initial() decimal.Decimal { return l.initial }

// Created returns total money created since opening.
func (l *Ledger) Created() decimal.Decimal { return l.created }

// Destroyed returns total money destroyed since opening.
func (l *Ledger) Destroyed() decimal.Decimal { return l.destroyed }

// Expected is the supply implied by the opening balances and the event log.
func (l *Ledger) Expected() decimal.Decimal {
	return l.initial.Add(l.created).Sub(l.destroyed)
}

// Events returns the money creation/destruction log.
func (l *Ledger) Events() []MoneyEvent {
	out := make([]MoneyEvent, len(l.events))
	copy(out, l.events)
	return out
}

// CheckConservation verifies that the live total matches the expected supply
// and that no balance sits below the floor. Decimal arithmetic is exact, so
// any difference at all is drift.
func (l *Ledger) CheckConservation() error {
	total := l.Total()
	expected := l.Expected()
	if !total.Equal(expected) {
		return fmt.Errorf("%w: total %s, expected %s (initial %s + created %s - destroyed %s)",
			ErrConservation, total, expected, l.initial, l.created, l.destroyed)
	}
	for _, id := range l.ids {
		a := l.accounts[id]
		if a.Balance.LessThan(l.floor) {
			return fmt.Errorf("%w: %s %d balance %s below floor %s",
				ErrConservation, a.Kind, id, a.Balance, l.floor)
		}
		for good, qty := range a.Inventory {
			if qty < 0 {
				return fmt.Errorf("%w: %s %d holds %d of good %d",
					ErrConservation, a.Kind, id, qty, good)
			}
		}
	}
	return nil
}

// Commit validates every leg of a posting against the current state and
// applies all of them, or none.
func (l *Ledger) Commit(p Posting) error {
	if err := l.validate(p); err != nil {
		return fmt.Errorf("posting %q: %w", p.Reason, err)
	}
	for _, leg := range p.Legs {
		l.apply(p, leg)
	}
	return nil
}

// Rejection records a posting that failed validation.
type Rejection struct {
	Posting Posting
	Err     error
}

// CommitAll commits postings in order and returns the ones that were rejected.
func (l *Ledger) CommitAll(ps []Posting) []Rejection {
	var rejected []Rejection
	for _, p := range ps {
		if err := l.Commit(p); err != nil {
			slog.Debug("posting rejected", "reason", p.Reason, "cycle", p.Cycle, "error", err)
			rejected = append(rejected, Rejection{Posting: p, Err: err})
		}
	}
	return rejected
}

func (l *Ledger) validate(p Posting) error {
	if len(p.Legs) == 0 {
		return fmt.Errorf("empty posting: %w", ErrInvalidAmount)
	}
	money := make(map[AgentID]decimal.Decimal)
	goods := make(map[AgentID]map[GoodID]int)

	debitMoney := func(id AgentID, amt decimal.Decimal) error {
		a, ok := l.accounts[id]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownAccount, id)
		}
		cur, seen := money[id]
		if !seen {
			cur = a.Balance
		}
		next := cur.Sub(amt)
		if next.LessThan(l.floor) {
			return fmt.Errorf("%s %d has %s, needs %s: %w", a.Kind, id, cur, amt, ErrInsufficientFunds)
		}
		money[id] = next
		return nil
	}
	creditMoney := func(id AgentID, amt decimal.Decimal) error {
		a, ok := l.accounts[id]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownAccount, id)
		}
		cur, seen := money[id]
		if !seen {
			cur = a.Balance
		}
		money[id] = cur.Add(amt)
		return nil
	}
	moveGoods := func(id AgentID, good GoodID, delta int) error {
		a, ok := l.accounts[id]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownAccount, id)
		}
		inv, seen := goods[id]
		if !seen {
			inv = make(map[GoodID]int)
			goods[id] = inv
		}
		cur, seenGood := inv[good]
		if !seenGood {
			cur = a.Inventory[good]
		}
		next := cur + delta
		if next < 0 {
			return fmt.Errorf("%s %d has %d of good %d, needs %d: %w", a.Kind, id, cur, good, -delta, ErrInsufficientStock)
		}
		inv[good] = next
		return nil
	}

	for _, leg := range p.Legs {
		switch leg.Kind {
		case LegTransfer, LegMint, LegBurn:
			if !leg.Amount.IsPositive() {
				return fmt.Errorf("%s leg of %s: %w", leg.Kind, leg.Amount, ErrInvalidAmount)
			}
		case LegGoods, LegProduce, LegScrap:
			if leg.Quantity <= 0 {
				return fmt.Errorf("%s leg of %d units: %w", leg.Kind, leg.Quantity, ErrInvalidAmount)
			}
		}

		var err error
		switch leg.Kind {
		case LegTransfer:
			if err = debitMoney(leg.From, leg.Amount); err == nil {
				err = creditMoney(leg.To, leg.Amount)
			}
		case LegMint:
			err = creditMoney(leg.To, leg.Amount)
		case LegBurn:
			err = debitMoney(leg.From, leg.Amount)
		case LegGoods:
			if err = moveGoods(leg.From, leg.Good, -leg.Quantity); err == nil {
				err = moveGoods(leg.To, leg.Good, leg.Quantity)
			}
		case LegProduce:
			err = moveGoods(leg.To, leg.Good, leg.Quantity)
		case LegScrap:
			err = moveGoods(leg.From, leg.Good, -leg.Quantity)
		default:
			err = fmt.Errorf("unknown leg kind %d", leg.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) apply(p Posting, leg Leg) {
	switch leg.Kind {
	case LegTransfer:
		l.accounts[leg.From].Balance = l.accounts[leg.From].Balance.Sub(leg.Amount)
		l.accounts[leg.To].Balance = l.accounts[leg.To].Balance.Add(leg.Amount)
	case LegMint:
		l.accounts[leg.To].Balance = l.accounts[leg.To].Balance.Add(leg.Amount)
		l.created = l.created.Add(leg.Amount)
		l.record(MoneyEvent{Cycle: p.Cycle, Kind: EventCreation, Agent: leg.To, Amount: leg.Amount, Reason: p.Reason})
	case LegBurn:
		l.accounts[leg.From].Balance = l.accounts[leg.From].Balance.Sub(leg.Amount)
		l.destroyed = l.destroyed.Add(leg.Amount)
		l.record(MoneyEvent{Cycle: p.Cycle, Kind: EventDestruction, Agent: leg.From, Amount: leg.Amount, Reason: p.Reason})
	case LegGoods:
		l.accounts[leg.From].Inventory[leg.Good] -= leg.Quantity
		l.accounts[leg.To].Inventory[leg.Good] += leg.Quantity
	case LegProduce:
		l.accounts[leg.To].Inventory[leg.Good] += leg.Quantity
	case LegScrap:
		l.accounts[leg.From].Inventory[leg.Good] -= leg.Quantity
	}
}

func (l *Ledger) record(e MoneyEvent) {
	l.events = append(l.events, e)
	slog.Debug("money event",
		"cycle", e.Cycle,
		"kind", e.Kind.String(),
		"agent", e.Agent,
		"amount", e.Amount.StringFixed(2),
		"reason", e.Reason,
	)
}
