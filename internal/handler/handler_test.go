package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/xixi-cart/internal/domain/auth"
	"github.com/xenking/xixi-cart/internal/domain/cart"
	"github.com/xenking/xixi-cart/internal/domain/checkout"
	"github.com/xenking/xixi-cart/internal/domain/order"
	"github.com/xenking/xixi-cart/internal/domain/product"
)

// fakeCarts applies the real cart functions to in-memory carts.
type fakeCarts struct {
	carts   map[string]cart.Cart
	catalog *fakeCatalog
	err     error
}

func (f *fakeCarts) load(userID string) cart.Cart {
	c, ok := f.carts[userID]
	if !ok {
		c = cart.Cart{ID: "cart-" + userID, UserID: userID, Items: []cart.Item{}}
	}
	return c
}

func (f *fakeCarts) store(c cart.Cart, err error) (*cart.Cart, error) {
	if err != nil {
		return nil, err
	}
	f.carts[c.UserID] = c
	return &c, nil
}

func (f *fakeCarts) Get(_ context.Context, userID string) (*cart.Cart, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.store(f.load(userID), nil)
}

func (f *fakeCarts) AddItem(ctx context.Context, userID, productID string, quantity int) (*cart.Cart, error) {
	p, err := product.NewStockValidator(f.catalog).CheckAvailable(ctx, productID, quantity)
	if err != nil {
		return nil, errors.Wrap(err, "check stock")
	}
	return f.store(cart.AddItem(f.load(userID), p.ID, quantity, p.Price))
}

func (f *fakeCarts) UpdateItem(_ context.Context, userID, productID string, quantity int) (*cart.Cart, error) {
	return f.store(cart.SetItemQuantity(f.load(userID), productID, quantity))
}

func (f *fakeCarts) RemoveItem(_ context.Context, userID, productID string) (*cart.Cart, error) {
	return f.store(cart.RemoveItem(f.load(userID), productID))
}

func (f *fakeCarts) Clear(_ context.Context, userID string) (*cart.Cart, error) {
	return f.store(cart.Clear(f.load(userID)), nil)
}

type fakeCatalog struct {
	products map[string]product.Product
	err      error
}

func (f *fakeCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (f *fakeCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeCheckout struct {
	last checkout.Request
	err  error
}

func (f *fakeCheckout) Checkout(_ context.Context, req checkout.Request) (*order.Order, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return order.New(order.Draft{
		UserID:          req.UserID,
		Items:           []order.Item{order.NewItem("te-verde", "Té verde", 2, decimal.RequireFromString("4.50"))},
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		PaymentMethod:   req.PaymentMethod,
		IdempotencyKey:  req.IdempotencyKey,
	}, time.Now())
}

type fakeOrders struct {
	orders map[string]*order.Order
	lastBy string
}

func (f *fakeOrders) Get(_ context.Context, id string) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, errors.Wrap(order.ErrNotFound, "get order")
	}
	return o, nil
}

func (f *fakeOrders) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrders) ListAll(context.Context) ([]order.Order, error) {
	var out []order.Order
	for _, o := range f.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (f *fakeOrders) SetStatus(ctx context.Context, id, status, actor string) (*order.Order, error) {
	to, err := order.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	o, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Status = to
	f.lastBy = actor
	return o, nil
}

func (f *fakeOrders) History(ctx context.Context, id string) ([]order.StatusChange, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, err
	}
	return []order.StatusChange{{OrderID: id, From: order.StatusPending, To: order.StatusPaid, ChangedBy: "admin"}}, nil
}

type testEnv struct {
	srv      http.Handler
	carts    *fakeCarts
	catalog  *fakeCatalog
	checkout *fakeCheckout
	orders   *fakeOrders
	customer string
	other    string
	admin    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	catalog := &fakeCatalog{products: map[string]product.Product{
		"te-verde": {ID: "te-verde", Name: "Té verde", Price: decimal.RequireFromString("4.50"), Stock: 10},
		"matcha":   {ID: "matcha", Name: "Matcha", Price: decimal.RequireFromString("12.00"), Stock: 1},
	}}
	env := &testEnv{
		catalog:  catalog,
		carts:    &fakeCarts{carts: map[string]cart.Cart{}, catalog: catalog},
		checkout: &fakeCheckout{},
		orders: &fakeOrders{orders: map[string]*order.Order{
			"o-1": {ID: "o-1", UserID: "u1", Status: order.StatusPending, Items: []order.Item{}},
		}},
	}

	tokens := auth.NewTokenManager([]byte("test-secret"), "xixi")
	issue := func(p auth.Principal) string {
		tok, err := tokens.Issue(p, time.Hour)
		require.NoError(t, err)
		return tok
	}
	env.customer = issue(auth.Principal{UserID: "u1", Role: auth.RoleCustomer})
	env.other = issue(auth.Principal{UserID: "u2", Role: auth.RoleCustomer})
	env.admin = issue(auth.Principal{UserID: "admin", Role: auth.RoleAdmin})

	h := NewHandler(env.carts, env.checkout, env.orders, catalog)
	env.srv = h.Routes(NewSecurityHandler(tokens))
	return env
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (e *testEnv) do(t *testing.T, method, path, token, body string, headers ...string) (int, response) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)

	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func decodeData[T any](t *testing.T, resp response) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(resp.Data, &v))
	return v
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/cart", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)

	code, _ = env.do(t, http.MethodGet, "/cart", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, resp = env.do(t, http.MethodGet, "/orders", env.customer, "")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Admin access required", resp.Message)

	code, _ = env.do(t, http.MethodGet, "/orders", env.admin, "")
	assert.Equal(t, http.StatusOK, code)
}

func TestGetCart_Empty(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/cart", env.customer, "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	c := decodeData[cartResponse](t, resp)
	assert.Equal(t, "u1", c.UserID)
	assert.NotNil(t, c.Items)
	assert.Empty(t, c.Items)
	assert.Zero(t, c.TotalAmount)
}

func TestAddCartItem(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/cart/items", env.customer, `{"productId":"te-verde","quantity":2}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Product added to cart", resp.Message)

	c := decodeData[cartResponse](t, resp)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.InDelta(t, 9.0, c.TotalAmount, 1e-9)
	require.NotNil(t, c.Items[0].Product)
	assert.Equal(t, "Té verde", c.Items[0].Product.Name)

	// Quantity defaults to 1 and merges into the existing line.
	code, resp = env.do(t, http.MethodPost, "/cart/items", env.customer, `{"productId":"te-verde"}`)
	require.Equal(t, http.StatusOK, code)
	c = decodeData[cartResponse](t, resp)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 3, c.Items[0].Quantity)
}

func TestAddCartItem_Errors(t *testing.T) {
	env := newTestEnv(t)

	for _, tt := range []struct {
		name    string
		body    string
		code    int
		message string
	}{
		{"MissingBody", "", http.StatusBadRequest, "request body is required"},
		{"MissingProduct", `{"quantity":1}`, http.StatusBadRequest, "productId is required"},
		{"ZeroQuantity", `{"productId":"te-verde","quantity":0}`, http.StatusBadRequest, "quantity must be at least 1"},
		{"HugeQuantity", `{"productId":"te-verde","quantity":3000000000}`, http.StatusBadRequest, "quantity must be at most 9999"},
		{"FractionalQuantity", `{"productId":"te-verde","quantity":1.5}`, http.StatusBadRequest, "quantity must be of type integer"},
		{"StringQuantity", `{"productId":"te-verde","quantity":"2"}`, http.StatusBadRequest, "quantity must be of type integer"},
		{"Malformed", `{"productId":`, http.StatusBadRequest, "invalid JSON body"},
		{"UnknownProduct", `{"productId":"nope"}`, http.StatusNotFound, "product not found"},
		{"InsufficientStock", `{"productId":"matcha","quantity":2}`, http.StatusBadRequest,
			"insufficient stock for product matcha: requested 2, available 1"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, http.MethodPost, "/cart/items", env.customer, tt.body)
			assert.Equal(t, tt.code, code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
}

func TestUpdateAndRemoveCartItem(t *testing.T) {
	env := newTestEnv(t)
	code, _ := env.do(t, http.MethodPost, "/cart/items", env.customer, `{"productId":"te-verde","quantity":2}`)
	require.Equal(t, http.StatusOK, code)

	code, resp := env.do(t, http.MethodPut, "/cart/items/te-verde", env.customer, `{"quantity":5}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Cart updated", resp.Message)
	assert.Equal(t, 5, decodeData[cartResponse](t, resp).Items[0].Quantity)

	code, resp = env.do(t, http.MethodPut, "/cart/items/te-verde", env.customer, `{"quantity":3000000000}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "quantity must be at most 9999", resp.Message)

	code, resp = env.do(t, http.MethodPut, "/cart/items/te-verde", env.customer, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "quantity is required", resp.Message)

	code, resp = env.do(t, http.MethodPut, "/cart/items/te-verde", env.customer, `{"quantity":0}`)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decodeData[cartResponse](t, resp).Items)

	code, resp = env.do(t, http.MethodPut, "/cart/items/te-verde", env.customer, `{"quantity":1}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, cart.ErrItemNotFound.Error(), resp.Message)

	code, _ = env.do(t, http.MethodDelete, "/cart/items/te-verde", env.customer, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRemoveAndClearCart(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/cart/items", env.customer, `{"productId":"te-verde"}`)
	env.do(t, http.MethodPost, "/cart/items", env.customer, `{"productId":"matcha"}`)

	code, resp := env.do(t, http.MethodDelete, "/cart/items/matcha", env.customer, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Product removed from cart", resp.Message)
	assert.Len(t, decodeData[cartResponse](t, resp).Items, 1)

	code, resp = env.do(t, http.MethodDelete, "/cart", env.customer, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Cart emptied", resp.Message)
	assert.Empty(t, decodeData[cartResponse](t, resp).Items)
}

func TestCart_CatalogFailureOmitsProducts(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/cart/items", env.customer, `{"productId":"te-verde"}`)
	env.catalog.err = errors.New("catalog down")

	code, resp := env.do(t, http.MethodGet, "/cart", env.customer, "")
	require.Equal(t, http.StatusOK, code)
	c := decodeData[cartResponse](t, resp)
	require.Len(t, c.Items, 1)
	assert.Nil(t, c.Items[0].Product)
}

func TestCart_InternalError(t *testing.T) {
	env := newTestEnv(t)
	env.carts.err = errors.New("connection reset")

	code, resp := env.do(t, http.MethodGet, "/cart", env.customer, "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error", resp.Message)
}

func TestCheckout(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/orders/checkout", env.customer,
		`{"shippingAddress":{"street":"Calle 1","city":7},"notes":"ring twice","paymentMethod":"CARD"}`,
		IdempotencyKeyHeader, " key-1 ")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Order created", resp.Message)

	req := env.checkout.last
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, "key-1", req.IdempotencyKey)
	require.NotNil(t, req.ShippingAddress)
	assert.Equal(t, order.Address{Street: "Calle 1"}, *req.ShippingAddress)

	o := decodeData[orderResponse](t, resp)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, "CARD", o.PaymentMethod)
	assert.Equal(t, "ring twice", o.Notes)
	assert.InDelta(t, 9.0, o.TotalAmount, 1e-9)
}

func TestCheckout_LenientBody(t *testing.T) {
	env := newTestEnv(t)

	code, _ := env.do(t, http.MethodPost, "/orders/checkout", env.customer, "")
	require.Equal(t, http.StatusCreated, code)
	assert.Nil(t, env.checkout.last.ShippingAddress)

	code, _ = env.do(t, http.MethodPost, "/orders/checkout", env.customer,
		`{"shippingAddress":"nowhere","notes":42}`)
	require.Equal(t, http.StatusCreated, code)
	assert.Nil(t, env.checkout.last.ShippingAddress)
	assert.Empty(t, env.checkout.last.Notes)

	for _, body := range []string{`[]`, `null`, `"text"`, `7`} {
		code, _ = env.do(t, http.MethodPost, "/orders/checkout", env.customer, body)
		assert.Equal(t, http.StatusCreated, code, body)
	}

	code, resp := env.do(t, http.MethodPost, "/orders/checkout", env.customer, `{"notes":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid JSON body", resp.Message)
}

func TestCheckout_Errors(t *testing.T) {
	env := newTestEnv(t)

	env.checkout.err = errors.Wrap(checkout.ErrEmptyCart, "checkout")
	code, resp := env.do(t, http.MethodPost, "/orders/checkout", env.customer, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "cart is empty", resp.Message)

	env.checkout.err = &checkout.InvalidCartItemError{ProductID: "gone"}
	code, resp = env.do(t, http.MethodPost, "/orders/checkout", env.customer, "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Message, "gone")

	env.checkout.err = nil
	long := strings.Repeat("k", 256)
	code, _ = env.do(t, http.MethodPost, "/orders/checkout", env.customer, "", IdempotencyKeyHeader, long)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetOrder_Visibility(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/orders/o-1", env.customer, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "o-1", decodeData[orderResponse](t, resp).ID)

	code, resp = env.do(t, http.MethodGet, "/orders/o-1", env.other, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "order not found", resp.Message)

	code, _ = env.do(t, http.MethodGet, "/orders/o-1", env.admin, "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = env.do(t, http.MethodGet, "/orders/missing", env.admin, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListMyOrders(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/orders/my", env.customer, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decodeData[[]orderResponse](t, resp), 1)

	code, resp = env.do(t, http.MethodGet, "/orders/my", env.other, "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decodeData[[]orderResponse](t, resp))
}

func TestUpdateOrderStatus(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPatch, "/orders/o-1/status", env.admin, `{"status":"SHIPPED"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Order status updated", resp.Message)
	assert.Equal(t, order.StatusShipped, decodeData[orderResponse](t, resp).Status)
	assert.Equal(t, "admin", env.orders.lastBy)

	code, resp = env.do(t, http.MethodPatch, "/orders/o-1/status", env.admin, `{"status":"shipped"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, order.ErrInvalidStatus.Error(), resp.Message)

	code, _ = env.do(t, http.MethodPatch, "/orders/o-1/status", env.admin, `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPatch, "/orders/missing/status", env.admin, `{"status":"PAID"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = env.do(t, http.MethodPatch, "/orders/o-1/status", env.customer, `{"status":"PAID"}`)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestOrderHistory(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodGet, "/orders/o-1/history", env.admin, "")
	require.Equal(t, http.StatusOK, code)
	changes := decodeData[[]statusChangeResponse](t, resp)
	require.Len(t, changes, 1)
	assert.Equal(t, order.StatusPaid, changes[0].To)

	code, _ = env.do(t, http.MethodGet, "/orders/o-1/history", env.customer, "")
	assert.Equal(t, http.StatusForbidden, code)
}

func TestClassify(t *testing.T) {
	for _, tt := range []struct {
		err  error
		code int
	}{
		{errors.Wrap(cart.ErrConflict, "add item"), http.StatusConflict},
		{errors.Wrap(auth.ErrInvalidToken, "verify"), http.StatusUnauthorized},
		{errors.Wrap(order.ErrEmptyOrder, "new order"), http.StatusBadRequest},
		{errors.Wrap(cart.ErrNotFound, "lock"), http.StatusNotFound},
		{errors.Wrap(cart.ErrQuantityTooLarge, "set quantity"), http.StatusBadRequest},
		{errors.Wrap(cart.ErrTotalTooLarge, "add item"), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	} {
		code, _ := classify(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodGet, "/nope", env.customer, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Route not found", resp.Message)
}
