package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/xixi-cart/internal/domain/auth"
	"github.com/xenking/xixi-cart/internal/domain/cart"
	"github.com/xenking/xixi-cart/internal/domain/checkout"
	"github.com/xenking/xixi-cart/internal/domain/order"
	"github.com/xenking/xixi-cart/internal/domain/product"
)

type okEnvelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, okEnvelope{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Message: message})
}

// validationError is malformed or missing request input.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(msg string) error { return &validationError{msg: msg} }

// classify maps a service error onto an HTTP status and the message shown
// to the client. Only the matched sentinel or typed error is exposed, never
// the wrapping context.
func classify(err error) (int, string) {
	var (
		ve    *validationError
		stock *product.InsufficientStockError
		item  *checkout.InvalidCartItemError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.As(err, &stock):
		return http.StatusBadRequest, stock.Error()
	case errors.As(err, &item):
		return http.StatusBadRequest, item.Error()
	}

	for _, m := range []struct {
		target error
		status int
	}{
		{cart.ErrInvalidQuantity, http.StatusBadRequest},
		{cart.ErrQuantityTooLarge, http.StatusBadRequest},
		{cart.ErrTotalTooLarge, http.StatusBadRequest},
		{order.ErrInvalidStatus, http.StatusBadRequest},
		{order.ErrEmptyOrder, http.StatusBadRequest},
		{checkout.ErrEmptyCart, http.StatusBadRequest},
		{product.ErrNotFound, http.StatusNotFound},
		{cart.ErrItemNotFound, http.StatusNotFound},
		{cart.ErrNotFound, http.StatusNotFound},
		{order.ErrNotFound, http.StatusNotFound},
		{cart.ErrConflict, http.StatusConflict},
		{auth.ErrInvalidToken, http.StatusUnauthorized},
	} {
		if errors.Is(err, m.target) {
			return m.status, m.target.Error()
		}
	}
	return http.StatusInternalServerError, "Internal server error"
}

// fail writes the failure envelope for err. Unclassified errors are logged
// since their details are hidden from the client.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	}
	writeError(w, status, msg)
}
