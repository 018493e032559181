package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyOrder is returned when an order is built without items.
	ErrEmptyOrder = errors.New("order must contain at least one item")
	// ErrInvalidStatus is returned for a status outside the known set.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateIdempotencyKey is returned when a user already placed an
	// order with the same idempotency key.
	ErrDuplicateIdempotencyKey = errors.New("order with this idempotency key already exists")
)

// DefaultPaymentMethod is used when checkout does not name one.
const DefaultPaymentMethod = "CASH"

// UnnamedProduct is captured as the item name when the product has none.
const UnnamedProduct = "Producto sin nombre"

// Order is an immutable record of a checkout. Only Status changes after
// creation.
type Order struct {
	ID              string
	UserID          string
	Items           []Item
	Total           decimal.Decimal
	ShippingAddress Address
	Notes           string
	PaymentMethod   string
	Status          Status
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Item is a frozen copy of a cart line at checkout time.
type Item struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// NewItem builds an Item and computes its subtotal.
func NewItem(productID, name string, quantity int, price decimal.Decimal) Item {
	if name == "" {
		name = UnnamedProduct
	}
	return Item{
		ProductID: productID,
		Name:      name,
		Quantity:  quantity,
		Price:     price,
		Subtotal:  price.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// Address is a shipping address. Every field may be empty.
type Address struct {
	Street     string
	City       string
	PostalCode string
	Country    string
}

// Draft holds what a caller supplies to create an order.
type Draft struct {
	UserID          string
	Items           []Item
	ShippingAddress *Address
	Notes           string
	PaymentMethod   string
	IdempotencyKey  string
}

// New validates a draft and returns a PENDING order stamped with now.
func New(d Draft, now time.Time) (*Order, error) {
	if len(d.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	total := decimal.Zero
	for _, it := range d.Items {
		total = total.Add(it.Subtotal)
	}

	var addr Address
	if d.ShippingAddress != nil {
		addr = *d.ShippingAddress
	}
	payment := d.PaymentMethod
	if payment == "" {
		payment = DefaultPaymentMethod
	}

	now = now.UTC()
	return &Order{
		ID:              uuid.New().String(),
		UserID:          d.UserID,
		Items:           d.Items,
		Total:           total,
		ShippingAddress: addr,
		Notes:           d.Notes,
		PaymentMethod:   payment,
		Status:          StatusPending,
		IdempotencyKey:  d.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// StatusChange is an audit entry for an admin status update.
type StatusChange struct {
	OrderID   string
	From      Status
	To        Status
	ChangedBy string
	ChangedAt time.Time
}

// Writer is the subset of order persistence used inside a checkout
// transaction.
type Writer interface {
	Create(ctx context.Context, o *Order) error
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*Order, error)
}

// Repository defines persistence operations for orders.
type Repository interface {
	Writer
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	// UpdateStatus overwrites the status and appends change to the history
	// atomically. It returns the updated order.
	UpdateStatus(ctx context.Context, id string, to Status, changedBy string) (*Order, error)
	History(ctx context.Context, id string) ([]StatusChange, error)
}
