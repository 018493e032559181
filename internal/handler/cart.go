package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/xixi-cart/internal/domain/cart"
	"github.com/xenking/xixi-cart/internal/domain/product"
)

type addItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	// Quantity defaults to 1 when omitted.
	Quantity *int `json:"quantity" validate:"omitempty,min=1,max=9999"`
}

type updateItemRequest struct {
	// Zero or less removes the line.
	Quantity *int `json:"quantity" validate:"required,max=9999"`
}

// GetCart returns the caller's cart, creating it on first access.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	c, err := h.carts.Get(r.Context(), p.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCart(w, r, c, "")
}

// AddCartItem adds a product to the caller's cart.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req, false); err != nil {
		fail(w, r, err)
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}

	c, err := h.carts.AddItem(r.Context(), principal(r).UserID, req.ProductID, qty)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCart(w, r, c, "Product added to cart")
}

// UpdateCartItem overwrites the quantity of a line in the caller's cart.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := decodeJSON(r, &req, false); err != nil {
		fail(w, r, err)
		return
	}

	c, err := h.carts.UpdateItem(r.Context(), principal(r).UserID, chi.URLParam(r, "productId"), *req.Quantity)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCart(w, r, c, "Cart updated")
}

// RemoveCartItem drops a line from the caller's cart.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveItem(r.Context(), principal(r).UserID, chi.URLParam(r, "productId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCart(w, r, c, "Product removed from cart")
}

// ClearCart empties the caller's cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Clear(r.Context(), principal(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	h.writeCart(w, r, c, "Cart emptied")
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, c *cart.Cart, message string) {
	writeOK(w, http.StatusOK, toCartResponse(c, h.lookupProducts(r.Context(), c)), message)
}

// lookupProducts resolves the catalog entries of the cart's lines. A catalog
// failure only costs the embedded details, so it is logged and skipped.
func (h *Handler) lookupProducts(ctx context.Context, c *cart.Cart) map[string]product.Product {
	if len(c.Items) == 0 {
		return nil
	}
	products, err := h.catalog.GetByIDs(ctx, c.ProductIDs())
	if err != nil {
		zctx.From(ctx).Warn("Resolve cart products", zap.String("cart_id", c.ID), zap.Error(err))
		return nil
	}
	return product.Index(products)
}
