package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Service implements the order read paths and admin status updates. Order
// creation happens in checkout, inside the cart transaction.
type Service struct {
	orders Repository
}

// NewService creates an order Service.
func NewService(orders Repository) *Service {
	return &Service{orders: orders}
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// ListByUser returns the user's orders, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return orders, nil
}

// ListAll returns every order, newest first.
func (s *Service) ListAll(ctx context.Context) ([]Order, error) {
	orders, err := s.orders.ListAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// SetStatus overwrites the order's status. Any valid status may follow any
// other; only membership in the status set is enforced. The previous status
// is recorded in the order history together with actor.
func (s *Service) SetStatus(ctx context.Context, id, status, actor string) (*Order, error) {
	to, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	o, err := s.orders.UpdateStatus(ctx, id, to, actor)
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}

	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", o.ID),
		zap.Stringer("status", o.Status),
		zap.String("actor", actor),
	)
	return o, nil
}

// History returns the status changes of an order, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]StatusChange, error) {
	if _, err := s.orders.GetByID(ctx, id); err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	changes, err := s.orders.History(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order history")
	}
	return changes, nil
}
