package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New(decimal.Zero)
	require.NoError(t, l.Open(1, KindConsumer, d("100")))
	require.NoError(t, l.Open(2, KindFirm, d("500")))
	require.NoError(t, l.Open(3, KindBank, d("1000")))
	require.NoError(t, l.Open(4, KindGovernment, d("250")))
	return l
}

func TestOpenRejectsDuplicatesAndBelowFloor(t *testing.T) {
	l := newTestLedger(t)
	assert.ErrorIs(t, l.Open(1, KindConsumer, d("1")), ErrDuplicateAccount)
	assert.ErrorIs(t, l.Open(9, KindConsumer, d("-1")), ErrInsufficientFunds)
	assert.Equal(t, []AgentID{1, 2, 3, 4}, l.IDs())
	assert.True(t, l.Initial().Equal(d("1850")))
}

func TestTransferConservesTotal(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Commit(NewPosting(1, "wage", Transfer(2, 1, d("40.25")))))

	assert.True(t, l.Balance(1).Equal(d("140.25")))
	assert.True(t, l.Balance(2).Equal(d("459.75")))
	assert.True(t, l.Total().Equal(l.Initial()))
	require.NoError(t, l.CheckConservation())
}

func TestPostingIsAllOrNothing(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Commit(NewPosting(0, "stock", Produce(2, 7, 5))))

	// Second leg overdraws the consumer after the first leg already spent most of it.
	p := NewPosting(1, "purchase",
		Transfer(1, 2, d("90")),
		Transfer(1, 2, d("20")),
		MoveGoods(2, 1, 7, 1),
	)
	err := l.Commit(p)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assert.True(t, l.Balance(1).Equal(d("100")), "no leg may apply when one fails")
	assert.Equal(t, 5, l.Stock(2, 7))
	assert.Equal(t, 0, l.Stock(1, 7))
}

func TestInsufficientStockRejected(t *testing.T) {
	l := newTestLedger(t)
	tx := Transaction{Buyer: 1, Seller: 2, Good: 3, Quantity: 2, UnitPrice: d("5"), Cycle: 1}
	require.NoError(t, tx.Validate())
	assert.ErrorIs(t, l.Commit(tx.Posting("sale")), ErrInsufficientStock)
	assert.True(t, l.Balance(1).Equal(d("100")))
}

func TestTransactionSettlement(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Commit(NewPosting(0, "production", Produce(2, 3, 10))))

	tx := Transaction{Buyer: 1, Seller: 2, Good: 3, Quantity: 4, UnitPrice: d("2.50"), Cycle: 1}
	require.NoError(t, l.Commit(tx.Posting("sale")))

	assert.True(t, tx.Amount().Equal(d("10")))
	assert.True(t, l.Balance(1).Equal(d("90")))
	assert.True(t, l.Balance(2).Equal(d("510")))
	assert.Equal(t, 6, l.Stock(2, 3))
	assert.Equal(t, 4, l.Stock(1, 3))
	require.NoError(t, l.CheckConservation())
}

func TestTransactionValidate(t *testing.T) {
	cases := []Transaction{
		{Buyer: 1, Seller: 2, Quantity: 0, UnitPrice: d("1")},
		{Buyer: 1, Seller: 2, Quantity: 1, UnitPrice: d("0")},
		{Buyer: 1, Seller: 2, Quantity: 1, UnitPrice: d("-3")},
		{Buyer: 2, Seller: 2, Quantity: 1, UnitPrice: d("1")},
	}
	for _, tx := range cases {
		assert.ErrorIs(t, tx.Validate(), ErrInvalidAmount)
	}
}

func TestMintAndBurnAreLogged(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Commit(NewPosting(3, "loan origination", Mint(2, d("300")))))
	require.NoError(t, l.Commit(NewPosting(4, "loan principal repayment", Burn(2, d("120")))))

	assert.True(t, l.Created().Equal(d("300")))
	assert.True(t, l.Destroyed().Equal(d("120")))
	assert.True(t, l.Expected().Equal(d("2030")))
	require.NoError(t, l.CheckConservation())

	events := l.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventCreation, events[0].Kind)
	assert.Equal(t, uint64(3), events[0].Cycle)
	assert.Equal(t, EventDestruction, events[1].Kind)
	assert.Equal(t, "loan principal repayment", events[1].Reason)
}

func TestBurnCannotOverdraw(t *testing.T) {
	l := newTestLedger(t)
	assert.ErrorIs(t, l.Commit(NewPosting(1, "write-off", Burn(1, d("100.01")))), ErrInsufficientFunds)
	assert.True(t, l.Destroyed().IsZero())
}

func TestZeroAndNegativeLegsRejected(t *testing.T) {
	l := newTestLedger(t)
	assert.ErrorIs(t, l.Commit(NewPosting(1, "zero", Transfer(1, 2, decimal.Zero))), ErrInvalidAmount)
	assert.ErrorIs(t, l.Commit(NewPosting(1, "neg", Mint(1, d("-5")))), ErrInvalidAmount)
	assert.ErrorIs(t, l.Commit(NewPosting(1, "empty")), ErrInvalidAmount)
	assert.ErrorIs(t, l.Commit(NewPosting(1, "noop goods", Produce(1, 1, 0))), ErrInvalidAmount)
	assert.ErrorIs(t, l.Commit(NewPosting(1, "ghost", Transfer(1, 99, d("1")))), ErrUnknownAccount)
}

func TestCommitAllReportsRejections(t *testing.T) {
	l := newTestLedger(t)
	rejected := l.CommitAll([]Posting{
		NewPosting(1, "ok", Transfer(4, 1, d("10"))),
		NewPosting(1, "too much", Transfer(1, 2, d("1000"))),
		NewPosting(1, "ok again", Transfer(3, 1, d("5"))),
	})
	require.Len(t, rejected, 1)
	assert.Equal(t, "too much", rejected[0].Posting.Reason)
	assert.True(t, l.Balance(1).Equal(d("115")))
}

func TestCheckConservationDetectsFloorBreach(t *testing.T) {
	l := New(d("10"))
	require.NoError(t, l.Open(1, KindConsumer, d("20")))
	assert.ErrorIs(t, l.Commit(NewPosting(1, "spend", Burn(1, d("15")))), ErrInsufficientFunds)
	require.NoError(t, l.CheckConservation())
}

func TestTotalFor(t *testing.T) {
	l := newTestLedger(t)
	assert.True(t, l.TotalFor(KindBank).Equal(d("1000")))
	assert.True(t, l.TotalFor(KindConsumer).Equal(d("100")))
}

func TestCents(t *testing.T) {
	assert.Equal(t, "2.35", Cents(2.345001).StringFixed(2))
	assert.Equal(t, "10.00", Cents(10).StringFixed(2))
}
