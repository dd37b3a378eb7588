package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-service/internal/core/domain"
)

type postgresTxKey struct{}

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func (p *PostgresAdapter) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(postgresTxKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(context.WithValue(ctx, postgresTxKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) conn(ctx context.Context) pgQuerier {
	if tx, ok := ctx.Value(postgresTxKey{}).(pgx.Tx); ok {
		return tx
	}
	return p.pool
}

func (p *PostgresAdapter) DecrementAndFetch(ctx context.Context, requests []domain.OrderLineRequest) ([]domain.Product, error) {
	tx, ok := ctx.Value(postgresTxKey{}).(pgx.Tx)
	if !ok {
		var products []domain.Product
		err := p.WithinTransaction(ctx, func(ctx context.Context) error {
			var err error
			products, err = p.DecrementAndFetch(ctx, requests)
			return err
		})
		return products, err
	}

	ids := domain.RequestedIDs(requests)
	if len(ids) == 0 {
		return nil, domain.ErrNoProducts
	}

	rows, err := tx.Query(ctx, `
		SELECT id, name, price::text, quantity, created_at, updated_at
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}

	fetched, err := scanPostgresProducts(rows)
	if err != nil {
		return nil, err
	}

	updated, err := domain.Decrement(fetched, requests)
	if err != nil {
		return nil, err
	}

	requested := domain.RequestedQuantities(requests)
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, product := range updated {
		batch.Queue(`UPDATE products
			SET quantity = quantity - $1, updated_at = $2
			WHERE id = $3 AND quantity >= $1`,
			requested[product.ID], now, product.ID)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range updated {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return nil, fmt.Errorf("update product %s: %w", updated[i].ID, err)
		}
		if tag.RowsAffected() == 0 {
			_ = results.Close()
			return nil, ErrOptimisticLock
		}
		updated[i].UpdatedAt = now
	}
	if err := results.Close(); err != nil {
		return nil, fmt.Errorf("close batch: %w", err)
	}

	return updated, nil
}

func scanPostgresProducts(rows pgx.Rows) ([]domain.Product, error) {
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var (
			product domain.Product
			price   string
		)
		if err := rows.Scan(&product.ID, &product.Name, &price, &product.Quantity, &product.CreatedAt, &product.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		parsed, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parse price of %s: %w", product.ID, err)
		}
		product.Price = parsed
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (p *PostgresAdapter) SaveProduct(ctx context.Context, product domain.Product) error {
	_, err := p.conn(ctx).Exec(ctx, `
		INSERT INTO products (id, name, price, quantity, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, now(), now())
		ON CONFLICT (id) DO UPDATE SET name = $2, price = $3::numeric, quantity = $4, updated_at = now()`,
		product.ID, product.Name, product.Price.String(), product.Quantity)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	rows, err := p.conn(ctx).Query(ctx, `
		SELECT id, name, price::text, quantity, created_at, updated_at
		FROM products WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}

	products, err := scanPostgresProducts(rows)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

func (p *PostgresAdapter) SaveCustomer(ctx context.Context, c domain.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := p.conn(ctx).Exec(ctx, `
		INSERT INTO customers (id, name, email, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = $2, email = $3`,
		c.ID, c.Name, c.Email, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) Customers() *PostgresCustomers {
	return &PostgresCustomers{adapter: p}
}

func (p *PostgresAdapter) Orders() *PostgresOrders {
	return &PostgresOrders{adapter: p}
}

type PostgresCustomers struct {
	adapter *PostgresAdapter
}

func (c *PostgresCustomers) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := c.adapter.conn(ctx).QueryRow(ctx, `
		SELECT id, name, email, created_at FROM customers WHERE id = $1`, id,
	).Scan(&customer.ID, &customer.Name, &customer.Email, &customer.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}
	return &customer, nil
}

type PostgresOrders struct {
	adapter *PostgresAdapter
}

func (o *PostgresOrders) Create(ctx context.Context, customer domain.Customer, lines []domain.OrderLine) (domain.Order, error) {
	tx, ok := ctx.Value(postgresTxKey{}).(pgx.Tx)
	if !ok {
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

	_, err := tx.Exec(ctx, `INSERT INTO orders (id, customer_id, created_at) VALUES ($1, $2, $3)`,
		order.ID, customer.ID, order.CreatedAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("insert order: %w", err)
	}

	if len(lines) == 0 {
		return order, nil
	}

	batch := &pgx.Batch{}
	for i, line := range lines {
		batch.Queue(`INSERT INTO order_lines (order_id, position, product_id, price, quantity)
			VALUES ($1, $2, $3, $4::numeric, $5)`,
			order.ID, i, line.ProductID, line.Price.String(), line.Quantity)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return domain.Order{}, fmt.Errorf("insert order lines: %w", err)
	}

	return order, nil
}

func (o *PostgresOrders) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	conn := o.adapter.conn(ctx)

	var order domain.Order
	err := conn.QueryRow(ctx, `
		SELECT o.id, o.created_at, c.id, c.name, c.email, c.created_at
		FROM orders o JOIN customers c ON c.id = o.customer_id
		WHERE o.id = $1`, id,
	).Scan(&order.ID, &order.CreatedAt, &order.Customer.ID, &order.Customer.Name, &order.Customer.Email, &order.Customer.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT product_id, price::text, quantity FROM order_lines
		WHERE order_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line  domain.OrderLine
			price string
		)
		if err := rows.Scan(&line.ProductID, &price, &line.Quantity); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		if line.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse order line price: %w", err)
		}
		order.Lines = append(order.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return &order, nil
}
