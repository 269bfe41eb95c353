package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/ariefcatur/stockkeeper/internal/httpx"
	"github.com/ariefcatur/stockkeeper/internal/memstore"
	"github.com/ariefcatur/stockkeeper/internal/metrics"
	"github.com/ariefcatur/stockkeeper/internal/orders"
	"github.com/ariefcatur/stockkeeper/internal/redisx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type fakeIdem struct {
	mu   sync.Mutex
	keys map[string]string
}

func (f *fakeIdem) Claim(_ context.Context, user, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.keys[user+":"+key]
	if !ok {
		f.keys[user+":"+key] = ""
		return "", nil
	}
	if v == "" {
		return "", redisx.ErrInFlight
	}
	return v, nil
}

func (f *fakeIdem) Complete(_ context.Context, user, key, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[user+":"+key] = orderID
	return nil
}

func (f *fakeIdem) Abandon(_ context.Context, user, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, user+":"+key)
	return nil
}

type fakeStatus map[string]redisx.OrderStatus

func (f fakeStatus) Get(_ context.Context, id string) (redisx.OrderStatus, bool, error) {
	st, ok := f[id]
	return st, ok, nil
}

type env struct {
	h      http.Handler
	store  *memstore.Store
	idem   *fakeIdem
	status fakeStatus
	reg    *prometheus.Registry
	om     *metrics.OrderMetrics
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := memstore.New()
	store.Seed(
		orders.Product{ID: "p1", Name: "Keyboard", Price: decimal.NewFromInt(10), Stock: 5},
		orders.Product{ID: "p2", Name: "Mouse", Price: decimal.NewFromInt(5), Stock: 5},
	)
	reg := prometheus.NewRegistry()
	e := &env{
		store:  store,
		idem:   &fakeIdem{keys: map[string]string{}},
		status: fakeStatus{},
		reg:    reg,
		om:     metrics.NewOrderMetrics(reg),
	}
	e.h = httpx.NewRouter(httpx.Deps{
		Orders:       orders.NewService(store, nil, logger),
		Idem:         e.idem,
		Status:       e.status,
		Server:       metrics.NewServerMetrics(reg, "test"),
		OrderMetrics: e.om,
		Gatherer:     reg,
		Log:          logger,
	})
	return e
}

type caller struct {
	user  string
	admin bool
}

var (
	alice = caller{user: "alice"}
	bob   = caller{user: "bob"}
	root  = caller{user: "root", admin: true}
)

func (e *env) do(t *testing.T, c caller, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if c.user != "" {
		req.Header.Set("X-User-Id", c.user)
	}
	if c.admin {
		req.Header.Set("X-User-Role", "admin")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

type orderResp struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	Status             orders.Status      `json:"status"`
	Total              decimal.Decimal    `json:"total"`
	Items              []orders.OrderItem `json:"items"`
	AllowedTransitions []orders.Action    `json:"allowed_transitions"`
}

type errResp struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details struct {
		ProductID string `json:"product_id"`
		Available int    `json:"available"`
		Required  int    `json:"required"`
	} `json:"details"`
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func items(pairs ...any) map[string]any {
	var out []map[string]any
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, map[string]any{"product_id": pairs[i], "quantity": pairs[i+1]})
	}
	return map[string]any{"items": out}
}

func (e *env) stock(t *testing.T, id string) (int, int) {
	t.Helper()
	p, err := e.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock, p.SoldCount
}

func (e *env) create(t *testing.T, c caller, body any) orderResp {
	t.Helper()
	rec := e.do(t, c, http.MethodPost, "/orders", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[orderResp](t, rec)
}

func TestCreateOrder(t *testing.T) {
	e := newEnv(t)

	o := e.create(t, alice, items("p1", 2, "p2", 1))
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.True(t, decimal.NewFromInt(25).Equal(o.Total))
	assert.Equal(t, []orders.Action{orders.ActionCancel, orders.ActionPay}, o.AllowedTransitions)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Keyboard", o.Items[0].ProductName)

	stock, sold := e.stock(t, "p1")
	assert.Equal(t, 3, stock)
	assert.Equal(t, 2, sold)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.om.Operations.WithLabelValues("create", "ok")))
}

func TestCreateOrderShortage(t *testing.T) {
	e := newEnv(t)
	e.create(t, alice, items("p1", 3))

	rec := e.do(t, bob, http.MethodPost, "/orders", items("p1", 3))
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decodeBody[errResp](t, rec)
	assert.Equal(t, "insufficient_stock", body.Code)
	assert.Equal(t, 2, body.Details.Available)
	assert.Equal(t, 3, body.Details.Required)
	assert.Contains(t, body.Error, "Keyboard")

	stock, _ := e.stock(t, "p1")
	assert.Equal(t, 2, stock)
	assert.Equal(t, float64(1), testutil.ToFloat64(e.om.Shortages.WithLabelValues("p1")))

	rec = e.do(t, bob, http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]orderResp](t, rec))
}

func TestCreateOrderValidation(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		name string
		body any
		code int
		err  string
	}{
		{"zero quantity", items("p1", 0), http.StatusBadRequest, "invalid_quantity"},
		{"duplicate product", items("p1", 1, "p1", 2), http.StatusBadRequest, "duplicate_item"},
		{"unknown product", items("nope", 1), http.StatusNotFound, "product_not_found"},
		{"unknown field", map[string]any{"itemz": []any{}}, http.StatusBadRequest, "invalid_json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, alice, http.MethodPost, "/orders", tc.body)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.err, decodeBody[errResp](t, rec).Code)
		})
	}
	stock, _ := e.stock(t, "p1")
	assert.Equal(t, 5, stock)
}

func TestOrdersRequireUser(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, caller{}, http.MethodGet, "/orders", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// the catalogue is public
	rec = e.do(t, caller{}, http.MethodGet, "/products", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTransitions(t *testing.T) {
	e := newEnv(t)
	o := e.create(t, alice, items("p1", 2))

	rec := e.do(t, alice, http.MethodPost, "/orders/"+o.ID+"/refund", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "illegal_transition", decodeBody[errResp](t, rec).Code)

	rec = e.do(t, alice, http.MethodPost, "/orders/"+o.ID+"/ship", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_action", decodeBody[errResp](t, rec).Code)

	rec = e.do(t, alice, http.MethodPost, "/orders/"+o.ID+"/pay", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusPaid, decodeBody[orderResp](t, rec).Status)

	rec = e.do(t, alice, http.MethodPost, "/orders/"+o.ID+"/refund", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stock, sold := e.stock(t, "p1")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, sold)

	rec = e.do(t, alice, http.MethodPost, "/orders/"+o.ID+"/reopen", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, root, http.MethodPost, "/orders/"+o.ID+"/reopen", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusPending, decodeBody[orderResp](t, rec).Status)
	stock, _ = e.stock(t, "p1")
	assert.Equal(t, 3, stock)
}

func TestOrdersAreScopedToOwner(t *testing.T) {
	e := newEnv(t)
	o := e.create(t, alice, items("p1", 1))

	assert.Equal(t, http.StatusNotFound, e.do(t, bob, http.MethodGet, "/orders/"+o.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, bob, http.MethodPost, "/orders/"+o.ID+"/cancel", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, bob, http.MethodDelete, "/orders/"+o.ID, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, root, http.MethodGet, "/orders/"+o.ID, nil).Code)

	stock, _ := e.stock(t, "p1")
	assert.Equal(t, 4, stock)
}

func TestEditItems(t *testing.T) {
	e := newEnv(t)
	o := e.create(t, alice, items("p1", 2))
	itemID := o.Items[0].ID

	rec := e.do(t, alice, http.MethodPatch, "/orders/"+o.ID+"/items/"+itemID, map[string]any{"quantity": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[orderResp](t, rec)
	assert.True(t, decimal.NewFromInt(50).Equal(got.Total))
	stock, sold := e.stock(t, "p1")
	assert.Equal(t, 0, stock)
	assert.Equal(t, 5, sold)

	rec = e.do(t, alice, http.MethodPost, "/orders/"+o.ID+"/items", map[string]any{"product_id": "p2", "quantity": 1})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, decodeBody[orderResp](t, rec).Items, 2)

	rec = e.do(t, alice, http.MethodPut, "/orders/"+o.ID, map[string]any{"note": "just the mouse", "items": []any{map[string]any{"product_id": "p2", "quantity": 2}}})
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeBody[orderResp](t, rec)
	require.Len(t, got.Items, 1)
	assert.True(t, decimal.NewFromInt(10).Equal(got.Total))
	stock, _ = e.stock(t, "p1")
	assert.Equal(t, 5, stock)
	stock, _ = e.stock(t, "p2")
	assert.Equal(t, 3, stock)

	rec = e.do(t, alice, http.MethodDelete, "/orders/"+o.ID+"/items/"+got.Items[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[orderResp](t, rec).Items)

	e.do(t, alice, http.MethodPost, "/orders/"+o.ID+"/pay", nil)
	rec = e.do(t, alice, http.MethodPost, "/orders/"+o.ID+"/items", map[string]any{"product_id": "p2", "quantity": 1})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "illegal_edit_state", decodeBody[errResp](t, rec).Code)
}

func TestDeleteOrderReleasesStock(t *testing.T) {
	e := newEnv(t)
	o := e.create(t, alice, items("p1", 4))

	rec := e.do(t, alice, http.MethodDelete, "/orders/"+o.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	stock, sold := e.stock(t, "p1")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, sold)
	assert.Equal(t, http.StatusNotFound, e.do(t, alice, http.MethodGet, "/orders/"+o.ID, nil).Code)
}

func TestIdempotentCreate(t *testing.T) {
	e := newEnv(t)

	first := e.do(t, alice, http.MethodPost, "/orders", items("p1", 1), "Idempotency-Key", "k1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := e.do(t, alice, http.MethodPost, "/orders", items("p1", 1), "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	assert.Equal(t, decodeBody[orderResp](t, first).ID, decodeBody[orderResp](t, second).ID)

	stock, _ := e.stock(t, "p1")
	assert.Equal(t, 4, stock)

	// a failed create frees the key
	rec := e.do(t, alice, http.MethodPost, "/orders", items("p1", 50), "Idempotency-Key", "k2")
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = e.do(t, alice, http.MethodPost, "/orders", items("p1", 1), "Idempotency-Key", "k2")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestOrderStatus(t *testing.T) {
	e := newEnv(t)
	o := e.create(t, alice, items("p1", 1))

	rec := e.do(t, alice, http.MethodGet, "/orders/"+o.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "db", rec.Header().Get("X-Status-Source"))
	assert.Equal(t, orders.StatusPending, decodeBody[redisx.OrderStatus](t, rec).Status)

	e.status[o.ID] = redisx.OrderStatus{OrderID: o.ID, UserID: "alice", Status: orders.StatusPaid}
	rec = e.do(t, alice, http.MethodGet, "/orders/"+o.ID+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cache", rec.Header().Get("X-Status-Source"))
	assert.Equal(t, orders.StatusPaid, decodeBody[redisx.OrderStatus](t, rec).Status)

	// the projection never leaks another user's order
	assert.Equal(t, http.StatusNotFound, e.do(t, bob, http.MethodGet, "/orders/"+o.ID+"/status", nil).Code)
}

func TestListOrdersFilters(t *testing.T) {
	e := newEnv(t)
	e.create(t, alice, map[string]any{"note": "gift", "items": []any{map[string]any{"product_id": "p1", "quantity": 1}}})
	o := e.create(t, alice, items("p2", 1))
	e.do(t, alice, http.MethodPost, "/orders/"+o.ID+"/cancel", nil)
	e.create(t, bob, items("p2", 1))

	rec := e.do(t, alice, http.MethodGet, "/orders?status=cancelled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]orderResp](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, o.ID, list[0].ID)

	rec = e.do(t, alice, http.MethodGet, "/orders?search=GIF", nil)
	assert.Len(t, decodeBody[[]orderResp](t, rec), 1)

	rec = e.do(t, root, http.MethodGet, "/orders", nil)
	assert.Len(t, decodeBody[[]orderResp](t, rec), 3)

	rec = e.do(t, alice, http.MethodGet, "/orders?status=draft", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProducts(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, alice, http.MethodPost, "/products", map[string]any{"name": "Desk", "price": "120.50", "stock": 2})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, root, http.MethodPost, "/products", map[string]any{"name": "Desk", "price": "120.50", "stock": 2})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	desk := decodeBody[orders.Product](t, rec)

	rec = e.do(t, root, http.MethodPost, "/products", map[string]any{"name": "", "price": "1", "stock": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, caller{}, http.MethodGet, "/products?ordering=-price", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]orders.Product](t, rec)
	require.Len(t, list, 3)
	assert.Equal(t, desk.ID, list[0].ID)

	rec = e.do(t, caller{}, http.MethodGet, "/products/info?search=o", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decodeBody[orders.ProductInfo](t, rec)
	assert.Equal(t, 2, info.Count)
	require.NotNil(t, info.MaxPrice)
	assert.True(t, decimal.NewFromInt(10).Equal(*info.MaxPrice))

	rec = e.do(t, root, http.MethodPatch, "/products/"+desk.ID, map[string]any{"stock": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, decodeBody[orders.Product](t, rec).Stock)

	e.create(t, alice, items("p1", 1))
	rec = e.do(t, root, http.MethodDelete, "/products/p1", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "product_in_use", decodeBody[errResp](t, rec).Code)

	assert.Equal(t, http.StatusNoContent, e.do(t, root, http.MethodDelete, "/products/"+desk.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, caller{}, http.MethodGet, "/products/"+desk.ID, nil).Code)
}

func TestBulkActions(t *testing.T) {
	e := newEnv(t)
	a := e.create(t, alice, items("p1", 1))
	b := e.create(t, bob, items("p1", 1))
	e.do(t, bob, http.MethodPost, "/orders/"+b.ID+"/cancel", nil)

	req := map[string]any{"action": "cancel", "ids": []string{a.ID, b.ID, "missing"}}
	assert.Equal(t, http.StatusForbidden, e.do(t, alice, http.MethodPost, "/admin/orders/actions", req).Code)

	rec := e.do(t, root, http.MethodPost, "/admin/orders/actions", req)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[orders.BulkResult](t, rec)
	assert.Equal(t, []string{a.ID}, res.Succeeded)
	assert.Equal(t, []string{b.ID}, res.Skipped)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "missing", res.Failed[0].OrderID)

	rec = e.do(t, root, http.MethodPost, "/admin/orders/actions", map[string]any{"action": "delete", "ids": []string{a.ID, b.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[orders.BulkResult](t, rec).Succeeded, 2)
	stock, sold := e.stock(t, "p1")
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, sold)

	rec = e.do(t, root, http.MethodPost, "/admin/orders/actions", map[string]any{"action": "ship", "ids": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(t, caller{}, http.MethodGet, "/healthz", nil).Code)
	e.do(t, alice, http.MethodGet, "/orders", nil)

	rec := e.do(t, caller{}, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `stockkeeper_http_requests_total{method="GET",route="/orders",service="test",status="200"} 1`)
}
