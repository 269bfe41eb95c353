package postgres_test

import (
	"context"
	"errors"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/ariefcatur/stockkeeper/internal/postgres"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"sync"
	"testing"
	"time"
)

// These tests need a throwaway database: STOCKKEEPER_TEST_DSN=postgres://...
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("STOCKKEEPER_TEST_DSN")
	if dsn == "" {
		t.Skip("STOCKKEEPER_TEST_DSN not set")
	}
	require.NoError(t, postgres.Migrate(dsn, false))

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, dsn, 16)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE order_items, orders, products`)
	require.NoError(t, err)
	return postgres.NewStore(pool, 2*time.Second)
}

func newService(t *testing.T, store orders.Store) *orders.Service {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	return orders.NewService(store, nil, log)
}

var admin = orders.Actor{UserID: "admin", Admin: true}

func createProduct(t *testing.T, svc *orders.Service, name, price string, stock int) *orders.Product {
	t.Helper()
	p, err := svc.CreateProduct(context.Background(), admin, orders.ProductInput{
		Name:  name,
		Price: decimal.RequireFromString(price),
		Stock: stock,
	})
	require.NoError(t, err)
	return p
}

func TestOrderLifecycle(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()
	user := orders.Actor{UserID: "u1"}

	p1 := createProduct(t, svc, "Keyboard", "10.00", 5)
	p2 := createProduct(t, svc, "Mouse", "5.00", 5)

	o, err := svc.CreateOrder(ctx, user, orders.CreateOrderInput{Items: []orders.ItemSpec{
		{ProductID: p1.ID, Quantity: 2},
		{ProductID: p2.ID, Quantity: 1},
	}})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("25").Equal(o.Total))

	got, err := svc.GetOrder(ctx, user, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
	assert.Equal(t, orders.StatusPending, got.Status)

	_, err = svc.Transition(ctx, user, o.ID, orders.ActionCancel)
	require.NoError(t, err)

	for _, id := range []string{p1.ID, p2.ID} {
		p, err := svc.GetProduct(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 5, p.Stock)
		assert.Equal(t, 0, p.SoldCount)
	}

	err = svc.DeleteProduct(ctx, admin, p1.ID)
	assert.ErrorIs(t, err, orders.ErrProductInUse)

	require.NoError(t, svc.DeleteOrder(ctx, user, o.ID))
	require.NoError(t, svc.DeleteProduct(ctx, admin, p1.ID))
}

func TestConcurrentReservationsDoNotOversell(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()
	p := createProduct(t, svc, "Lamp", "3.50", 10)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		short   int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(ctx, orders.Actor{UserID: "u"}, orders.CreateOrderInput{
				Items: []orders.ItemSpec{{ProductID: p.ID, Quantity: 1}},
			})
			var shortage *orders.InsufficientStockError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.As(err, &shortage):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, created)
	assert.Equal(t, 15, short)
	got, err := svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
	assert.Equal(t, 10, got.SoldCount)
}

func TestEditMovesOnlyTheDifference(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()
	user := orders.Actor{UserID: "u1"}
	p := createProduct(t, svc, "Cable", "1.25", 10)

	o, err := svc.CreateOrder(ctx, user, orders.CreateOrderInput{Items: []orders.ItemSpec{{ProductID: p.ID, Quantity: 2}}})
	require.NoError(t, err)

	o, err = svc.ChangeItem(ctx, user, o.ID, o.Items[0].ID, "", 5)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("6.25").Equal(o.Total))

	got, err := svc.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
	assert.Equal(t, 5, got.SoldCount)
}

func TestListOrdersFilters(t *testing.T) {
	svc := newService(t, newStore(t))
	ctx := context.Background()
	p := createProduct(t, svc, "Pen", "2.00", 100)

	for i, user := range []string{"a", "a", "b"} {
		_, err := svc.CreateOrder(ctx, orders.Actor{UserID: user}, orders.CreateOrderInput{
			Note:  []string{"gift wrap", "office", "gift"}[i],
			Items: []orders.ItemSpec{{ProductID: p.ID, Quantity: i + 1}},
		})
		require.NoError(t, err)
	}

	mine, err := svc.ListOrders(ctx, orders.Actor{UserID: "a"}, orders.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	gifts, err := svc.ListOrders(ctx, admin, orders.OrderFilter{Search: "GIFT", Ordering: "-total"})
	require.NoError(t, err)
	require.Len(t, gifts, 2)
	assert.True(t, gifts[0].Total.GreaterThan(gifts[1].Total))
}
