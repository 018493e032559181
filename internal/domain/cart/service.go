package cart

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/xixi-cart/internal/domain/product"
)

// StockChecker resolves a product and verifies it has enough stock.
type StockChecker interface {
	CheckAvailable(ctx context.Context, productID string, requested int) (*product.Product, error)
}

// RetryConfig bounds the optimistic read-modify-write loop.
type RetryConfig struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Service applies cart mutations for a user. Every mutation reads the cart,
// applies a pure function to it and saves it back conditionally on the
// version it read; a concurrent writer makes Save fail with ErrConflict and
// the whole cycle is retried with jittered backoff.
type Service struct {
	store Store
	stock StockChecker
	retry RetryConfig
}

// NewService creates a cart Service.
func NewService(store Store, stock StockChecker, retry RetryConfig) *Service {
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = 20
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = 2 * time.Millisecond
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = 100 * time.Millisecond
	}
	return &Service{store: store, stock: stock, retry: retry}
}

// Get returns the user's cart, creating an empty one on first access.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.store.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return c, nil
}

// AddItem adds quantity units of productID, snapshotting the product's
// current price for new lines. Stock is checked against quantity alone.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (*Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	p, err := s.stock.CheckAvailable(ctx, productID, quantity)
	if err != nil {
		return nil, errors.Wrap(err, "check stock")
	}

	return s.mutate(ctx, userID, func(c Cart) (Cart, error) {
		return AddItem(c, p.ID, quantity, p.Price)
	})
}

// UpdateItem sets the quantity of a line already in the cart; quantity <= 0
// removes it. Stock is not consulted.
func (s *Service) UpdateItem(ctx context.Context, userID, productID string, quantity int) (*Cart, error) {
	return s.mutate(ctx, userID, func(c Cart) (Cart, error) {
		return SetItemQuantity(c, productID, quantity)
	})
}

// RemoveItem drops a line from the cart.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (*Cart, error) {
	return s.mutate(ctx, userID, func(c Cart) (Cart, error) {
		return RemoveItem(c, productID)
	})
}

// Clear empties the user's cart.
func (s *Service) Clear(ctx context.Context, userID string) (*Cart, error) {
	return s.mutate(ctx, userID, func(c Cart) (Cart, error) {
		return Clear(c), nil
	})
}

func (s *Service) mutate(ctx context.Context, userID string, fn func(Cart) (Cart, error)) (*Cart, error) {
	attempts := 0
	c, err := backoff.Retry(ctx, func() (*Cart, error) {
		attempts++

		current, err := s.store.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, backoff.Permanent(errors.Wrap(err, "get cart"))
		}
		next, err := fn(*current)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := s.store.Save(ctx, &next); err != nil {
			if errors.Is(err, ErrConflict) {
				return nil, err
			}
			return nil, backoff.Permanent(errors.Wrap(err, "save cart"))
		}
		return &next, nil
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.retry.MaxAttempts),
	)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			zctx.From(ctx).Warn("Cart update gave up after conflicts",
				zap.String("user_id", userID),
				zap.Int("attempts", attempts),
			)
		}
		return nil, err
	}
	if attempts > 1 {
		zctx.From(ctx).Debug("Cart update retried",
			zap.String("user_id", userID),
			zap.Int("attempts", attempts),
		)
	}
	return c, nil
}

func (s *Service) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialInterval
	b.MaxInterval = s.retry.MaxInterval
	return b
}
