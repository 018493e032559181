// Package handler exposes the cart and order services over HTTP as a chi
// router mounted under /api.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/xixi-cart/internal/domain/cart"
	"github.com/xenking/xixi-cart/internal/domain/checkout"
	"github.com/xenking/xixi-cart/internal/domain/order"
	"github.com/xenking/xixi-cart/internal/domain/product"
)

// CartService is the cart behaviour the handlers need.
type CartService interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (*cart.Cart, error)
	UpdateItem(ctx context.Context, userID, productID string, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (*cart.Cart, error)
	Clear(ctx context.Context, userID string) (*cart.Cart, error)
}

// Checkouter converts carts into orders.
type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*order.Order, error)
}

// OrderService is the order behaviour the handlers need.
type OrderService interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	ListByUser(ctx context.Context, userID string) ([]order.Order, error)
	ListAll(ctx context.Context) ([]order.Order, error)
	SetStatus(ctx context.Context, id, status, actor string) (*order.Order, error)
	History(ctx context.Context, id string) ([]order.StatusChange, error)
}

// Handler serves the cart and order endpoints.
type Handler struct {
	carts    CartService
	checkout Checkouter
	orders   OrderService
	// catalog resolves product details embedded in cart responses.
	catalog product.Catalog
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(carts CartService, co Checkouter, orders OrderService, catalog product.Catalog) *Handler {
	return &Handler{
		carts:    carts,
		checkout: co,
		orders:   orders,
		catalog:  catalog,
	}
}

// Routes returns the API router. Every route requires a bearer token; the
// order administration routes additionally require the admin role. The
// middlewares run inside the router, after the route is matched.
func (h *Handler) Routes(sec *SecurityHandler, middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Group(func(r chi.Router) {
		r.Use(sec.Authenticate)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddCartItem)
			r.Put("/items/{productId}", h.UpdateCartItem)
			r.Delete("/items/{productId}", h.RemoveCartItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/checkout", h.Checkout)
			r.Get("/my", h.ListMyOrders)
			r.Get("/{id}", h.GetOrder)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Get("/", h.ListOrders)
				r.Patch("/{id}/status", h.UpdateOrderStatus)
				r.Get("/{id}/history", h.OrderHistory)
			})
		})
	})

	return r
}
