package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/order-service/internal/core/domain"
)

var ErrOptimisticLock = errors.New("optimistic lock conflict")

type mysqlTxKey struct{}

type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(mysqlTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, mysqlTxKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) conn(ctx context.Context) sqlExecutor {
	if tx, ok := ctx.Value(mysqlTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return m.db
}

// DecrementAndFetch locks the requested rows with SELECT ... FOR UPDATE, in id
// order so concurrent placements cannot deadlock, and writes the new
// quantities in the same transaction.
func (m *MySQLAdapter) DecrementAndFetch(ctx context.Context, requests []domain.OrderLineRequest) ([]domain.Product, error) {
	tx, ok := ctx.Value(mysqlTxKey{}).(*sql.Tx)
	if !ok {
		var products []domain.Product
		err := m.WithinTransaction(ctx, func(ctx context.Context) error {
			var err error
			products, err = m.DecrementAndFetch(ctx, requests)
			return err
		})
		return products, err
	}

	ids := domain.RequestedIDs(requests)
	if len(ids) == 0 {
		return nil, domain.ErrNoProducts
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, price, quantity, created_at, updated_at
		FROM products
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY id
		FOR UPDATE`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}

	fetched, err := scanMySQLProducts(rows)
	if err != nil {
		return nil, err
	}

	updated, err := domain.Decrement(fetched, requests)
	if err != nil {
		return nil, err
	}

	requested := domain.RequestedQuantities(requests)
	now := time.Now().UTC()
	for i, p := range updated {
		quantity := requested[p.ID]
		result, err := tx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity - ?, updated_at = ?
			WHERE id = ? AND quantity >= ?`,
			quantity, now, p.ID, quantity,
		)
		if err != nil {
			return nil, fmt.Errorf("update product %s: %w", p.ID, err)
		}

		affected, _ := result.RowsAffected()
		if affected == 0 {
			return nil, ErrOptimisticLock
		}
		updated[i].UpdatedAt = now
	}

	return updated, nil
}

func scanMySQLProducts(rows *sql.Rows) ([]domain.Product, error) {
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (m *MySQLAdapter) SaveProduct(ctx context.Context, p domain.Product) error {
	now := time.Now().UTC()
	_, err := m.conn(ctx).ExecContext(ctx, `
		INSERT INTO products (id, name, price, quantity, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), price = VALUES(price),
			quantity = VALUES(quantity), updated_at = VALUES(updated_at)`,
		p.ID, p.Name, p.Price, p.Quantity, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := m.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, price, quantity, created_at, updated_at
		FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Price, &p.Quantity, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) SaveCustomer(ctx context.Context, c domain.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := m.conn(ctx).ExecContext(ctx, `
		INSERT INTO customers (id, name, email, created_at) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE name = VALUES(name), email = VALUES(email)`,
		c.ID, c.Name, c.Email, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) Customers() *MySQLCustomers {
	return &MySQLCustomers{adapter: m}
}

func (m *MySQLAdapter) Orders() *MySQLOrders {
	return &MySQLOrders{adapter: m}
}

type MySQLCustomers struct {
	adapter *MySQLAdapter
}

func (c *MySQLCustomers) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := c.adapter.conn(ctx).QueryRowContext(ctx, `
		SELECT id, name, email, created_at FROM customers WHERE id = ?`, id,
	).Scan(&customer.ID, &customer.Name, &customer.Email, &customer.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	return &customer, nil
}

type MySQLOrders struct {
	adapter *MySQLAdapter
}

func (o *MySQLOrders) Create(ctx context.Context, customer domain.Customer, lines []domain.OrderLine) (domain.Order, error) {
	if _, ok := ctx.Value(mysqlTxKey{}).(*sql.Tx); !ok {
		var order domain.Order
		err := o.adapter.WithinTransaction(ctx, func(ctx context.Context) error {
			var err error
			order, err = o.Create(ctx, customer, lines)
			return err
		})
		return order, err
	}

	order := domain.Order{
		ID:        uuid.NewString(),
		Customer:  customer,
		Lines:     append([]domain.OrderLine(nil), lines...),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	conn := o.adapter.conn(ctx)

	_, err := conn.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, created_at) VALUES (?, ?, ?)`,
		order.ID, customer.ID, order.CreatedAt,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	if len(lines) == 0 {
		return order, nil
	}

	args := make([]any, 0, len(lines)*5)
	values := make([]string, 0, len(lines))
	for i, line := range lines {
		values = append(values, "(?, ?, ?, ?, ?)")
		args = append(args, order.ID, i, line.ProductID, line.Price, line.Quantity)
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO order_lines (order_id, position, product_id, price, quantity)
		VALUES `+strings.Join(values, ", "), args...,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order lines: %w", err)
	}

	return order, nil
}

func (o *MySQLOrders) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	conn := o.adapter.conn(ctx)

	var order domain.Order
	err := conn.QueryRowContext(ctx, `
		SELECT o.id, o.created_at, c.id, c.name, c.email, c.created_at
		FROM orders o JOIN customers c ON c.id = o.customer_id
		WHERE o.id = ?`, id,
	).Scan(&order.ID, &order.CreatedAt, &order.Customer.ID, &order.Customer.Name, &order.Customer.Email, &order.Customer.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := conn.QueryContext(ctx, `
		SELECT product_id, price, quantity FROM order_lines
		WHERE order_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ProductID, &line.Price, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		order.Lines = append(order.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return &order, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
