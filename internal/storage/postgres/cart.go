package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/xixi-cart/internal/domain/cart"
	"github.com/xenking/xixi-cart/internal/domain/checkout"
)

const (
	// One statement so the cart row and its items come from one snapshot.
	selectCartSQL = `SELECT c.id::text, c.user_id, c.total_amount, c.version, c.created_at, c.updated_at,
			i.product_id, i.quantity, i.price
		FROM carts c
		LEFT JOIN cart_items i ON i.cart_id = c.id
		WHERE c.user_id = $1
		ORDER BY i.position`

	lockCartSQL = selectCartSQL + ` FOR UPDATE OF c`

	insertCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
		RETURNING id::text, user_id, total_amount, version, created_at, updated_at`

	updateCartSQL = `UPDATE carts SET total_amount = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`

	deleteCartItemsSQL = `DELETE FROM cart_items WHERE cart_id = $1`

	cartsUserIDKey = "carts_user_id_key"
)

var cartItemColumns = []string{"cart_id", "product_id", "quantity", "price", "position"}

var (
	_ cart.Store          = (*CartRepository)(nil)
	_ checkout.CartLocker = (*CartRepository)(nil)
)

// CartRepository implements cart.Store backed by PostgreSQL.
type CartRepository struct {
	db DBTX
}

// NewCartRepository returns a CartRepository that uses db.
func NewCartRepository(db DBTX) *CartRepository {
	return &CartRepository{db: db}
}

// GetOrCreate returns the user's cart, inserting an empty one if none exists.
// A concurrent insert for the same user trips the unique constraint on
// user_id; the loser then reads the winner's row.
func (r *CartRepository) GetOrCreate(ctx context.Context, userID string) (*cart.Cart, error) {
	c, err := r.selectCart(ctx, selectCartSQL, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, cart.ErrNotFound) {
		return nil, err
	}

	c = &cart.Cart{Items: []cart.Item{}}
	err = r.db.QueryRow(ctx, insertCartSQL, uuid.New().String(), userID).
		Scan(&c.ID, &c.UserID, &c.Total, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		return c, nil
	}
	if uniqueViolationOn(err, cartsUserIDKey) {
		return r.selectCart(ctx, selectCartSQL, userID)
	}
	return nil, fmt.Errorf("creating cart for user %q: %w", userID, err)
}

// LockByUser reads the user's cart and holds its row lock until the
// enclosing transaction ends. It must be called on a transaction-bound
// repository.
func (r *CartRepository) LockByUser(ctx context.Context, userID string) (*cart.Cart, error) {
	return r.selectCart(ctx, lockCartSQL, userID)
}

// Save writes c if the stored version still equals c.Version and replaces
// its items. On success c.Version and c.UpdatedAt reflect the new row.
func (r *CartRepository) Save(ctx context.Context, c *cart.Cart) error {
	var (
		version   int64
		updatedAt time.Time
	)
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, updateCartSQL, c.ID, c.Version, c.Total).Scan(&version, &updatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return cart.ErrConflict
			}
			return fmt.Errorf("updating cart %q: %w", c.ID, err)
		}

		if _, err := tx.Exec(ctx, deleteCartItemsSQL, c.ID); err != nil {
			return fmt.Errorf("deleting items of cart %q: %w", c.ID, err)
		}
		if len(c.Items) == 0 {
			return nil
		}

		rows := make([][]any, len(c.Items))
		for i, it := range c.Items {
			rows[i] = []any{c.ID, it.ProductID, it.Quantity, it.Price, i}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"cart_items"}, cartItemColumns, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("inserting items of cart %q: %w", c.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.Version = version
	c.UpdatedAt = updatedAt
	return nil
}

func (r *CartRepository) selectCart(ctx context.Context, query, userID string) (*cart.Cart, error) {
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("getting cart for user %q: %w", userID, err)
	}
	defer rows.Close()

	var c *cart.Cart
	for rows.Next() {
		var (
			row       cart.Cart
			productID *string
			quantity  *int32
			price     decimal.NullDecimal
		)
		if err := rows.Scan(
			&row.ID, &row.UserID, &row.Total, &row.Version, &row.CreatedAt, &row.UpdatedAt,
			&productID, &quantity, &price,
		); err != nil {
			return nil, fmt.Errorf("scanning cart for user %q: %w", userID, err)
		}
		if c == nil {
			row.Items = []cart.Item{}
			c = &row
		}
		if productID != nil {
			c.Items = append(c.Items, cart.Item{
				ProductID: *productID,
				Quantity:  int(*quantity),
				Price:     price.Decimal,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("getting cart for user %q: %w", userID, err)
	}
	if c == nil {
		return nil, cart.ErrNotFound
	}
	return c, nil
}
