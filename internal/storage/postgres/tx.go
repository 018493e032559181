package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/xixi-cart/internal/domain/checkout"
	"github.com/xenking/xixi-cart/internal/domain/order"
	"github.com/xenking/xixi-cart/internal/domain/product"
)

var _ checkout.Transactor = (*Transactor)(nil)

// Transactor runs checkout units of work in a single pgx transaction.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor returns a Transactor that begins transactions on pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// WithinTx begins a transaction, hands fn repositories bound to it and
// commits if fn succeeds. Any error from fn rolls everything back.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, tx checkout.Tx) error) error {
	return pgx.BeginFunc(ctx, t.pool, func(tx pgx.Tx) error {
		return fn(ctx, txRepos{tx: tx})
	})
}

type txRepos struct {
	tx pgx.Tx
}

func (r txRepos) Carts() checkout.CartLocker { return NewCartRepository(r.tx) }

func (r txRepos) Orders() order.Writer { return NewOrderRepository(r.tx) }

func (r txRepos) Products() product.Catalog { return NewProductRepository(r.tx) }
