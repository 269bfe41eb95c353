package orders_test

import (
	"context"
	"github.com/ariefcatur/stockkeeper/internal/memstore"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestCountersApply(t *testing.T) {
	c := orders.Counters{Stock: 5, Sold: 1}

	reserved := c.Apply(3)
	assert.Equal(t, orders.Counters{Stock: 2, Sold: 4}, reserved)
	assert.Equal(t, c, reserved.Apply(-3), "reserve then release is the identity")
	assert.Equal(t, c, c.Apply(0))
}

func TestCountersReleaseFloorsSoldAtZero(t *testing.T) {
	c := orders.Counters{Stock: 0, Sold: 2}.Apply(-5)
	assert.Equal(t, orders.Counters{Stock: 5, Sold: 0}, c)
}

func TestCountersRoundTripPreservesSum(t *testing.T) {
	for stock := 0; stock <= 6; stock++ {
		for sold := 0; sold <= 6; sold++ {
			for n := 0; n <= stock; n++ {
				c := orders.Counters{Stock: stock, Sold: sold}
				after := c.Apply(n).Apply(-n)
				assert.Equal(t, c.Stock+c.Sold, after.Stock+after.Sold)
				assert.GreaterOrEqual(t, after.Sold, 0)
			}
		}
	}
}

func ledgerStore() *memstore.Store {
	s := memstore.New()
	s.Seed(orders.Product{ID: "p1", Name: "Widget", Price: decimal.NewFromInt(3), Stock: 4, SoldCount: 1})
	return s
}

func adjust(t *testing.T, s *memstore.Store, id string, delta int) (orders.Product, error) {
	t.Helper()
	var out orders.Product
	err := s.WithTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		var err error
		out, err = orders.Ledger{}.Adjust(ctx, tx, id, delta)
		return err
	})
	return out, err
}

func TestLedgerAdjust(t *testing.T) {
	s := ledgerStore()

	p, err := adjust(t, s, "p1", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Stock)
	assert.Equal(t, 4, p.SoldCount)

	_, err = adjust(t, s, "p1", 2)
	var short *orders.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 1, short.Available)
	assert.Equal(t, 2, short.Required)
	assert.Equal(t, "Widget", short.Product)

	p, err = adjust(t, s, "p1", -10)
	require.NoError(t, err)
	assert.Equal(t, 11, p.Stock)
	assert.Equal(t, 0, p.SoldCount)

	stored, err := s.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, p.Stock, stored.Stock)
	assert.Equal(t, p.SoldCount, stored.SoldCount)
}

func TestLedgerAdjustMissingProduct(t *testing.T) {
	_, err := adjust(t, ledgerStore(), "nope", 1)
	var missing *orders.ProductNotFoundError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "nope", missing.ProductID)
}

func TestLedgerSetStockLeavesSoldCount(t *testing.T) {
	s := ledgerStore()
	err := s.WithTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		p, err := orders.Ledger{}.SetStock(ctx, tx, "p1", 9)
		assert.Equal(t, 9, p.Stock)
		return err
	})
	require.NoError(t, err)
	p, err := s.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 9, p.Stock)
	assert.Equal(t, 1, p.SoldCount)

	err = s.WithTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		_, err := orders.Ledger{}.SetStock(ctx, tx, "p1", -1)
		return err
	})
	assert.ErrorIs(t, err, orders.ErrInvalidProduct)
}
