// Package checkout converts a user's cart into an order. Creating the order
// and clearing the cart happen in one storage transaction, so either both
// are visible afterwards or neither is.
package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/xixi-cart/internal/domain/cart"
	"github.com/xenking/xixi-cart/internal/domain/order"
	"github.com/xenking/xixi-cart/internal/domain/product"
)

const instrumentationName = "github.com/xenking/xixi-cart/internal/domain/checkout"

// ErrEmptyCart is returned when the user has nothing to check out.
var ErrEmptyCart = errors.New("cart is empty")

// InvalidCartItemError is returned when a cart line references a product
// that no longer exists in the catalog.
type InvalidCartItemError struct {
	ProductID string
}

func (e *InvalidCartItemError) Error() string {
	return fmt.Sprintf("invalid cart item: product %s no longer exists", e.ProductID)
}

// CartLocker reads a cart with a row lock held until the transaction ends.
type CartLocker interface {
	// LockByUser returns cart.ErrNotFound if the user has no cart.
	LockByUser(ctx context.Context, userID string) (*cart.Cart, error)
	Save(ctx context.Context, c *cart.Cart) error
}

// Tx exposes repositories bound to one storage transaction.
type Tx interface {
	Carts() CartLocker
	Orders() order.Writer
	Products() product.Catalog
}

// Transactor runs fn inside a transaction. The transaction commits if fn
// returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Request is the input of a checkout. Empty strings mean "not supplied".
type Request struct {
	UserID          string
	ShippingAddress *order.Address
	Notes           string
	PaymentMethod   string
	// IdempotencyKey, when set, makes repeated checkouts with the same key
	// return the first order instead of creating another.
	IdempotencyKey string
}

// Service performs checkouts.
type Service struct {
	tx  Transactor
	now func() time.Time

	tracer    trace.Tracer
	completed metric.Int64Counter
	failed    metric.Int64Counter
	totals    metric.Float64Histogram
}

// NewService creates a checkout Service.
func NewService(tx Transactor, tp trace.TracerProvider, mp metric.MeterProvider) (*Service, error) {
	meter := mp.Meter(instrumentationName)

	completed, err := meter.Int64Counter("checkout.completed",
		metric.WithDescription("Number of orders created by checkout"))
	if err != nil {
		return nil, errors.Wrap(err, "create completed counter")
	}
	failed, err := meter.Int64Counter("checkout.failed",
		metric.WithDescription("Number of checkouts that returned an error"))
	if err != nil {
		return nil, errors.Wrap(err, "create failed counter")
	}
	totals, err := meter.Float64Histogram("checkout.order_total",
		metric.WithDescription("Total amount of created orders"))
	if err != nil {
		return nil, errors.Wrap(err, "create totals histogram")
	}

	return &Service{
		tx:        tx,
		now:       time.Now,
		tracer:    tp.Tracer(instrumentationName),
		completed: completed,
		failed:    failed,
		totals:    totals,
	}, nil
}

// Checkout turns the user's cart into a PENDING order and empties the cart.
func (s *Service) Checkout(ctx context.Context, req Request) (_ *order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "checkout",
		trace.WithAttributes(attribute.String("user.id", req.UserID)))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.failed.Add(ctx, 1)
		}
		span.End()
	}()

	var (
		placed   *order.Order
		replayed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, existing, err := s.place(ctx, tx, req)
		if err != nil {
			return err
		}
		placed, replayed = o, existing
		return nil
	})
	if errors.Is(err, order.ErrDuplicateIdempotencyKey) {
		// Lost a race against a checkout with the same key that had no
		// cart row to serialize on; return the winner's order.
		placed, err = s.findByKey(ctx, req.UserID, req.IdempotencyKey)
		replayed = true
	}
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx)
	if replayed {
		span.SetAttributes(attribute.Bool("checkout.replayed", true))
		lg.Info("Checkout replayed", zap.String("order_id", placed.ID), zap.String("user_id", req.UserID))
		return placed, nil
	}

	s.completed.Add(ctx, 1)
	s.totals.Record(ctx, placed.Total.InexactFloat64())
	span.SetAttributes(attribute.String("order.id", placed.ID))
	lg.Info("Order placed",
		zap.String("order_id", placed.ID),
		zap.String("user_id", req.UserID),
		zap.Int("items", len(placed.Items)),
		zap.String("total", placed.Total.String()),
	)
	return placed, nil
}

// place runs inside the transaction. The cart row is locked before the
// idempotency lookup so a concurrent checkout with the same key waits and
// then sees the committed order.
func (s *Service) place(ctx context.Context, tx Tx, req Request) (*order.Order, bool, error) {
	c, err := tx.Carts().LockByUser(ctx, req.UserID)
	if err != nil && !errors.Is(err, cart.ErrNotFound) {
		return nil, false, errors.Wrap(err, "lock cart")
	}

	if req.IdempotencyKey != "" {
		existing, err := tx.Orders().FindByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		switch {
		case err == nil:
			return existing, true, nil
		case !errors.Is(err, order.ErrNotFound):
			return nil, false, errors.Wrap(err, "find order by idempotency key")
		}
	}

	if c == nil || len(c.Items) == 0 {
		return nil, false, ErrEmptyCart
	}

	products, err := tx.Products().GetByIDs(ctx, c.ProductIDs())
	if err != nil {
		return nil, false, errors.Wrap(err, "resolve cart products")
	}
	byID := product.Index(products)

	items := make([]order.Item, 0, len(c.Items))
	for _, it := range c.Items {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, false, &InvalidCartItemError{ProductID: it.ProductID}
		}
		items = append(items, order.NewItem(it.ProductID, p.Name, it.Quantity, it.Price))
	}

	o, err := order.New(order.Draft{
		UserID:          req.UserID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		Notes:           req.Notes,
		PaymentMethod:   req.PaymentMethod,
		IdempotencyKey:  req.IdempotencyKey,
	}, s.now())
	if err != nil {
		return nil, false, err
	}

	if err := tx.Orders().Create(ctx, o); err != nil {
		return nil, false, errors.Wrap(err, "create order")
	}

	cleared := cart.Clear(*c)
	if err := tx.Carts().Save(ctx, &cleared); err != nil {
		return nil, false, errors.Wrap(err, "clear cart")
	}

	return o, false, nil
}

func (s *Service) findByKey(ctx context.Context, userID, key string) (*order.Order, error) {
	var found *order.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().FindByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return errors.Wrap(err, "find order by idempotency key")
		}
		found = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
