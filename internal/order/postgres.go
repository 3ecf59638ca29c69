package order

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store on top of the shop's Postgres database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool and applies pending migrations.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

const orderColumns = `id, number, status, currency, total,
	billing_email, billing_name, billing_address1, billing_address2,
	billing_city, billing_state, billing_postcode, billing_country,
	paid_at, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o      Order
		status string
		total  decimal.Decimal
		paidAt *time.Time
	)
	err := row.Scan(&o.ID, &o.Number, &status, &o.Currency, &total,
		&o.Billing.Email, &o.Billing.Name, &o.Billing.Address1, &o.Billing.Address2,
		&o.Billing.City, &o.Billing.State, &o.Billing.Postcode, &o.Billing.Country,
		&paidAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.Total = total
	o.PaidAt = paidAt
	return o, nil
}

// Get loads a single order by id.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// FindByMeta returns every order carrying the metadata key/value pair.
func (s *PostgresStore) FindByMeta(ctx context.Context, key, value string) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE id IN (SELECT order_id FROM order_meta WHERE meta_key = $1 AND meta_value = $2)
		ORDER BY created_at`, key, value)
	if err != nil {
		return nil, fmt.Errorf("find orders by meta: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetMeta returns the metadata value for key, or "" when unset.
func (s *PostgresStore) GetMeta(ctx context.Context, orderID uuid.UUID, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT meta_value FROM order_meta WHERE order_id = $1 AND meta_key = $2`,
		orderID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get order meta: %w", err)
	}
	return value, nil
}

// SetMeta upserts a single-valued metadata entry.
func (s *PostgresStore) SetMeta(ctx context.Context, orderID uuid.UUID, key, value string) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO order_meta (order_id, meta_key, meta_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value`,
		orderID, key, value)
	if err != nil {
		return fmt.Errorf("set order meta: %w", err)
	}
	return nil
}

// AddNote appends a note to the order's trail.
func (s *PostgresStore) AddNote(ctx context.Context, orderID uuid.UUID, note string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO order_notes (order_id, note) VALUES ($1, $2)`, orderID, note)
	if err != nil {
		return fmt.Errorf("add order note: %w", err)
	}
	return nil
}

// UpdateStatus transitions the order to the named local status.
func (s *PostgresStore) UpdateStatus(ctx context.Context, orderID uuid.UUID, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, orderID, string(status))
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid records payment completion once. The paid_at guard makes repeated
// settlement events a no-op.
func (s *PostgresStore) MarkPaid(ctx context.Context, orderID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE orders
		SET paid_at = now(), status = $2, updated_at = now()
		WHERE id = $1 AND paid_at IS NULL`, orderID, string(StatusCompleted))
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	return nil
}

// AddRefund records a refund row against the order.
func (s *PostgresStore) AddRefund(ctx context.Context, refund Refund) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO order_refunds
		(order_id, pull_payment_id, view_link, amount, currency, reason)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		refund.OrderID, refund.PullPaymentID, refund.ViewLink,
		refund.Amount, refund.Currency, refund.Reason)
	if err != nil {
		return fmt.Errorf("add order refund: %w", err)
	}
	return nil
}

// RemainingRefundable reports the order total minus all recorded refunds.
func (s *PostgresStore) RemainingRefundable(ctx context.Context, orderID uuid.UUID) (decimal.Decimal, error) {
	var remaining decimal.Decimal
	err := s.pool.QueryRow(ctx, `SELECT o.total - COALESCE(SUM(r.amount), 0)
		FROM orders o
		LEFT JOIN order_refunds r ON r.order_id = o.id
		WHERE o.id = $1
		GROUP BY o.total`, orderID).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("remaining refundable: %w", err)
	}
	return remaining, nil
}

// TotalItemsQuantity sums line-item quantities for the order.
func (s *PostgresStore) TotalItemsQuantity(ctx context.Context, orderID uuid.UUID) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM order_items WHERE order_id = $1`, orderID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total items quantity: %w", err)
	}
	return total, nil
}
