package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// OrderRepo implements ports.OrderRepository.
type OrderRepo struct {
	pool Pool
}

// NewOrderRepo creates a new OrderRepo.
func NewOrderRepo(pool Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

const orderColumns = `id, seller_id, status, currency, subtotal, shipping_fee, discount, total,
		paid_at, payment_ref, created_at, updated_at`

// Create inserts an order together with its priced line items.
func (r *OrderRepo) Create(ctx context.Context, order *domain.Order, items []domain.OrderLineItem) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = tx.Exec(ctx, query,
		order.ID, order.SellerID, order.Status, order.Currency,
		order.Subtotal, order.ShippingFee, order.Discount, order.Total,
		order.PaidAt, order.PaymentRef, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range items {
		it := &items[i]
		_, err = tx.Exec(ctx, `INSERT INTO order_line_items
			(id, order_id, seller_id, quantity, unit_price, discount, commission_rate, commission_amount, seller_due, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.ID, it.OrderID, it.SellerID, it.Quantity, it.UnitPrice,
			it.Discount, it.CommissionRate, it.CommissionAmount, it.SellerDue, it.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert line item: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID fetches an order by UUID.
func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return scanOrder(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches an order with a row lock inside tx. The lock
// serializes concurrent reconciliations of the same order.
func (r *OrderRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	return scanOrder(tx.QueryRow(ctx, query, id))
}

// ListLineItems fetches the order's line items.
func (r *OrderRepo) ListLineItems(ctx context.Context, orderID uuid.UUID) ([]domain.OrderLineItem, error) {
	query := `SELECT id, order_id, seller_id, quantity, unit_price, discount,
		commission_rate, commission_amount, seller_due, created_at
		FROM order_line_items WHERE order_id = $1 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderLineItem
	for rows.Next() {
		var it domain.OrderLineItem
		err := rows.Scan(&it.ID, &it.OrderID, &it.SellerID, &it.Quantity, &it.UnitPrice,
			&it.Discount, &it.CommissionRate, &it.CommissionAmount, &it.SellerDue, &it.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return items, nil
}

// Update persists status, paid_at, payment_ref and updated_at within tx.
func (r *OrderRepo) Update(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	query := `UPDATE orders SET status = $1, paid_at = $2, payment_ref = $3, updated_at = $4 WHERE id = $5`
	tag, err := tx.Exec(ctx, query, order.Status, order.PaidAt, order.PaymentRef, order.UpdatedAt, order.ID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order not found: %s", order.ID)
	}
	return nil
}

// ListDeliveredWithoutPayout selects payout-eligible orders: DELIVERED
// on or before asOf with no payout row for their order/seller pair yet.
func (r *OrderRepo) ListDeliveredWithoutPayout(ctx context.Context, asOf time.Time) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o
		WHERE o.status = $1 AND o.updated_at <= $2
		AND NOT EXISTS (SELECT 1 FROM payouts p WHERE p.order_id = o.id AND p.seller_id = o.seller_id)
		ORDER BY o.updated_at`

	rows, err := r.pool.Query(ctx, query, domain.OrderStatusDelivered, asOf)
	if err != nil {
		return nil, fmt.Errorf("list eligible orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o := domain.Order{}
		err := rows.Scan(
			&o.ID, &o.SellerID, &o.Status, &o.Currency,
			&o.Subtotal, &o.ShippingFee, &o.Discount, &o.Total,
			&o.PaidAt, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return orders, nil
}

// scanOrder is a helper to scan a single row into an Order.
func scanOrder(row pgx.Row) (*domain.Order, error) {
	o := &domain.Order{}
	err := row.Scan(
		&o.ID, &o.SellerID, &o.Status, &o.Currency,
		&o.Subtotal, &o.ShippingFee, &o.Discount, &o.Total,
		&o.PaidAt, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return o, nil
}
