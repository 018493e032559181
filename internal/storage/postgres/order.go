package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/xixi-cart/internal/domain/order"
)

const (
	orderColumns = `id::text, user_id, items, total_amount,
		ship_street, ship_city, ship_postal_code, ship_country,
		notes, payment_method, status, COALESCE(idempotency_key, ''), created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (id, user_id, items, total_amount,
			ship_street, ship_city, ship_postal_code, ship_country,
			notes, payment_method, status, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderStatusSQL = `SELECT status FROM orders WHERE id = $1 FOR UPDATE`

	getOrderByIdempotencyKeySQL = `SELECT ` + orderColumns + `
		FROM orders WHERE user_id = $1 AND idempotency_key = $2`

	listOrdersByUserSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC, id DESC`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1 RETURNING ` + orderColumns

	insertStatusChangeSQL = `INSERT INTO order_status_history (order_id, from_status, to_status, changed_by)
		VALUES ($1, $2, $3, $4)`

	listStatusChangesSQL = `SELECT order_id::text, from_status, to_status, changed_by, changed_at
		FROM order_status_history WHERE order_id = $1 ORDER BY id`

	ordersIdempotencyKeyIdx = "orders_user_idempotency_key_idx"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository returns an OrderRepository that uses db.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order. The order items are serialized to JSON for
// storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	var key *string
	if o.IdempotencyKey != "" {
		key = &o.IdempotencyKey
	}

	_, err = r.db.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, itemsJSON, o.Total,
		o.ShippingAddress.Street, o.ShippingAddress.City, o.ShippingAddress.PostalCode, o.ShippingAddress.Country,
		o.Notes, o.PaymentMethod, string(o.Status), key, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if uniqueViolationOn(err, ordersIdempotencyKeyIdx) {
			return order.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// GetByID returns a single order. Ids that are not UUIDs cannot exist and
// yield order.ErrNotFound.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}
	return r.queryOne(ctx, getOrderByIDSQL, id)
}

// FindByIdempotencyKey returns the user's order placed with key.
func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*order.Order, error) {
	return r.queryOne(ctx, getOrderByIdempotencyKeySQL, userID, key)
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListAll returns every order, newest first.
func (r *OrderRepository) ListAll(ctx context.Context) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, listOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus overwrites the status of an order and records the change in
// order_status_history within one transaction.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, to order.Status, changedBy string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}

	var updated order.Order
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var from string
		if err := tx.QueryRow(ctx, lockOrderStatusSQL, id).Scan(&from); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return fmt.Errorf("locking order %q: %w", id, err)
		}

		rows, err := tx.Query(ctx, updateOrderStatusSQL, id, string(to))
		if err != nil {
			return fmt.Errorf("updating status of order %q: %w", id, err)
		}
		updated, err = pgx.CollectExactlyOneRow(rows, scanOrder)
		if err != nil {
			return fmt.Errorf("updating status of order %q: %w", id, err)
		}

		if _, err := tx.Exec(ctx, insertStatusChangeSQL, id, from, string(to), changedBy); err != nil {
			return fmt.Errorf("recording status change of order %q: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// History returns the status changes of an order, oldest first.
func (r *OrderRepository) History(ctx context.Context, id string) ([]order.StatusChange, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}

	rows, err := r.db.Query(ctx, listStatusChangesSQL, id)
	if err != nil {
		return nil, fmt.Errorf("listing status history of order %q: %w", id, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.StatusChange, error) {
		var (
			c        order.StatusChange
			from, to string
		)
		err := row.Scan(&c.OrderID, &from, &to, &c.ChangedBy, &c.ChangedAt)
		c.From, c.To = order.Status(from), order.Status(to)
		return c, err
	})
}

func (r *OrderRepository) queryOne(ctx context.Context, query string, args ...any) (*order.Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		status    string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &itemsJSON, &o.Total,
		&o.ShippingAddress.Street, &o.ShippingAddress.City, &o.ShippingAddress.PostalCode, &o.ShippingAddress.Country,
		&o.Notes, &o.PaymentMethod, &status, &o.IdempotencyKey, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
	}
	return o, nil
}
