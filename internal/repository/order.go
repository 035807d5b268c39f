package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-discounts/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, status, subtotal, discount_amount, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING order_number`

	createOrderItemSQL = `INSERT INTO order_items (order_id, variant_id, category_id, name, quantity, unit_rate)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getOrderSQL = `SELECT id, order_number, user_id, status, subtotal, discount_amount, total, created_at, updated_at
		FROM orders WHERE id = $1`

	getOrderItemsSQL = `SELECT variant_id, category_id, name, quantity, unit_rate
		FROM order_items WHERE order_id = $1 ORDER BY variant_id`

	updateOrderTotalsSQL = `UPDATE orders SET subtotal = $2, discount_amount = $3, total = $4, updated_at = now()
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and its lines and fills in the order number.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	q := conn(ctx, r.pool)

	err := q.QueryRow(ctx, createOrderSQL,
		o.ID, o.UserID, string(o.Status), o.Subtotal, o.Discount, o.Total, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.Number)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	batch := &pgx.Batch{}
	for _, l := range o.Lines {
		batch.Queue(createOrderItemSQL, o.ID, l.VariantID, l.CategoryID, l.Name, l.Quantity, l.UnitRate)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("creating items of order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns an order with its lines.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	q := conn(ctx, r.pool)

	rows, err := q.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = q.Query(ctx, getOrderItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	o.Lines, err = pgx.CollectRows(rows, scanOrderLine)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	return &o, nil
}

// UpdateTotals writes the computed amounts of an order.
func (r *OrderRepository) UpdateTotals(ctx context.Context, id string, subtotal, discount, total decimal.Decimal) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateOrderTotalsSQL, id, subtotal, discount, total)
	if err != nil {
		return fmt.Errorf("updating totals of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &status, &o.Subtotal, &o.Discount, &o.Total, &o.CreatedAt, &o.UpdatedAt)
	o.Status = order.Status(status)
	return o, err
}

func scanOrderLine(row pgx.CollectableRow) (order.Line, error) {
	var (
		l   order.Line
		qty int32
	)
	err := row.Scan(&l.VariantID, &l.CategoryID, &l.Name, &qty, &l.UnitRate)
	l.Quantity = int(qty)
	return l, err
}
