// Package cart holds the per-user shopping cart: its value types, the pure
// mutation functions over them, and the service that persists mutations
// with optimistic concurrency.
package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MaxQuantity bounds the quantity of a single cart line.
const MaxQuantity = 9999

// MaxTotal is the largest total a cart or order column can hold.
var MaxTotal = decimal.RequireFromString("999999999999.99")

var (
	// ErrInvalidQuantity is returned when an item is added with quantity < 1.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrQuantityTooLarge is returned when a line would exceed MaxQuantity.
	ErrQuantityTooLarge = errors.New("quantity must be at most 9999")
	// ErrTotalTooLarge is returned when the cart total would exceed MaxTotal.
	ErrTotalTooLarge = errors.New("cart total is too large")
	// ErrItemNotFound is returned when a product is not in the cart.
	ErrItemNotFound = errors.New("product is not in the cart")
	// ErrNotFound is returned when a user has no cart yet.
	ErrNotFound = errors.New("cart not found")
	// ErrConflict is returned when a cart was saved with a stale version.
	ErrConflict = errors.New("cart was modified concurrently")
)

// Cart is the single mutable cart owned by a user.
type Cart struct {
	ID     string
	UserID string
	Items  []Item
	// Total always equals the sum of item subtotals. It is only ever set
	// by RecomputeTotal.
	Total decimal.Decimal
	// Version is the stored revision this value was read at.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Item is a cart line. Price is the unit price captured when the product
// was first added.
type Item struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Subtotal returns Quantity × Price.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ProductIDs returns the product ids of all items in cart order.
func (c Cart) ProductIDs() []string {
	ids := make([]string, len(c.Items))
	for i, it := range c.Items {
		ids[i] = it.ProductID
	}
	return ids
}

// Store persists carts. Save must reject a cart whose Version no longer
// matches the stored one with ErrConflict, and bump Version on success.
type Store interface {
	GetOrCreate(ctx context.Context, userID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
}
