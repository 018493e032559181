package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/xixi-cart/internal/domain/checkout"
	"github.com/xenking/xixi-cart/internal/domain/order"
)

// IdempotencyKeyHeader makes checkout retries safe: a repeated key returns
// the order created by the first request.
const IdempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

// checkoutRequest keeps every field raw so malformed optional fields fall
// back to defaults instead of failing the checkout.
type checkoutRequest struct {
	ShippingAddress json.RawMessage `json:"shippingAddress"`
	Notes           json.RawMessage `json:"notes"`
	PaymentMethod   json.RawMessage `json:"paymentMethod"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// shippingAddress returns nil unless raw is a JSON object. Fields that are
// missing or not strings become "".
func shippingAddress(raw json.RawMessage) *order.Address {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil
	}
	return &order.Address{
		Street:     looseString(fields["street"]),
		City:       looseString(fields["city"]),
		PostalCode: looseString(fields["postalCode"]),
		Country:    looseString(fields["country"]),
	}
}

// Checkout turns the caller's cart into an order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req, true); err != nil {
		fail(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLen {
		fail(w, r, invalid(IdempotencyKeyHeader+" must be at most 255 characters"))
		return
	}

	o, err := h.checkout.Checkout(r.Context(), checkout.Request{
		UserID:          principal(r).UserID,
		ShippingAddress: shippingAddress(req.ShippingAddress),
		Notes:           looseString(req.Notes),
		PaymentMethod:   looseString(req.PaymentMethod),
		IdempotencyKey:  key,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOK(w, http.StatusCreated, toOrderResponse(o), "Order created")
}

// ListMyOrders returns the caller's orders, newest first.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListByUser(r.Context(), principal(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toOrderResponses(orders), "")
}

// ListOrders returns every order, newest first. Admin only.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListAll(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toOrderResponses(orders), "")
}

// GetOrder returns one order. Orders of other users are reported as not
// found unless the caller is an admin.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if p := principal(r); o.UserID != p.UserID && !p.IsAdmin() {
		fail(w, r, order.ErrNotFound)
		return
	}
	writeOK(w, http.StatusOK, toOrderResponse(o), "")
}

// UpdateOrderStatus assigns a new status to an order. Admin only.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req, false); err != nil {
		fail(w, r, err)
		return
	}

	o, err := h.orders.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status, principal(r).UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toOrderResponse(o), "Order status updated")
}

// OrderHistory lists the status changes of an order. Admin only.
func (h *Handler) OrderHistory(w http.ResponseWriter, r *http.Request) {
	changes, err := h.orders.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, toStatusChangeResponses(changes), "")
}
