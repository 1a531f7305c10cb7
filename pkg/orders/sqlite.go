package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Service and Directory on SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens dsn and applies the schema.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS customers (
			phone      TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS threads (
			id         TEXT PRIMARY KEY,
			phone      TEXT NOT NULL REFERENCES customers(phone),
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_phone ON threads(phone, created_at)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id           TEXT PRIMARY KEY,
			phone        TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			total_amount REAL NOT NULL DEFAULT 0,
			address      TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_phone ON orders(phone, created_at)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			order_id     TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			seq          INTEGER NOT NULL,
			product_name TEXT NOT NULL,
			quantity     INTEGER NOT NULL,
			unit_price   REAL NOT NULL,
			subtotal     REAL NOT NULL,
			details      TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (order_id, seq)
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lastOrder(ctx context.Context, q querier, phone string) (*Snapshot, error) {
	var (
		order     = &Snapshot{Phone: phone}
		createdAt int64
		status    string
	)
	// rowid breaks ties between orders created in the same instant.
	err := q.QueryRowContext(ctx,
		`SELECT id, status, total_amount, address, created_at FROM orders
		 WHERE phone = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, phone).
		Scan(&order.ID, &status, &order.TotalAmount, &order.Address, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoOrder
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	order.Status = Status(status)
	order.CreatedAt = time.Unix(0, createdAt).UTC()

	rows, err := q.QueryContext(ctx,
		`SELECT product_name, quantity, unit_price, subtotal, details FROM order_items
		 WHERE order_id = ? ORDER BY seq`, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	order.Products = []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductName, &item.Quantity, &item.UnitPrice, &item.Subtotal, &item.Details); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		order.Products = append(order.Products, item)
	}
	return order, rows.Err()
}

func writeItems(ctx context.Context, tx *sql.Tx, order *Snapshot) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, order.ID); err != nil {
		return fmt.Errorf("failed to clear order items: %w", err)
	}
	for i, item := range order.Products {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, seq, product_name, quantity, unit_price, subtotal, details)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			order.ID, i, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal, item.Details); err != nil {
			return fmt.Errorf("failed to write order item: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) LastOrder(ctx context.Context, phone string) (*Snapshot, error) {
	return lastOrder(ctx, s.db, phone)
}

func (s *SQLiteStore) Create(ctx context.Context, in NewOrder) (*Snapshot, error) {
	if strings.TrimSpace(in.Address) == "" {
		return nil, fmt.Errorf("address is required")
	}
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("at least one product is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	last, err := lastOrder(ctx, tx, in.Phone)
	if err != nil && !errors.Is(err, ErrNoOrder) {
		return nil, err
	}
	if last.IsPending() {
		return nil, ErrPendingOrderExists
	}

	now := s.now().UTC()
	order := &Snapshot{
		ID:        uuid.NewString(),
		Phone:     in.Phone,
		Status:    StatusPending,
		Products:  []Item{},
		Address:   strings.TrimSpace(in.Address),
		CreatedAt: now,
	}
	if err := order.addItems(in.Items); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, phone, status, total_amount, address, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.Phone, string(order.Status), order.TotalAmount, order.Address, now.UnixNano(), now.UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	if err := writeItems(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	return order, nil
}

func (s *SQLiteStore) mutate(ctx context.Context, phone string, fn func(*Snapshot) error) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	order, err := lastOrder(ctx, tx, phone)
	if err != nil {
		return nil, err
	}
	if !order.IsPending() {
		return nil, fmt.Errorf("%w (status: %s)", ErrOrderNotMutable, order.Status)
	}
	if err := fn(order); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET total_amount = ?, updated_at = ? WHERE id = ?`,
		order.TotalAmount, s.now().UnixNano(), order.ID); err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}
	if err := writeItems(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	return order, nil
}

func (s *SQLiteStore) AddProducts(ctx context.Context, phone string, items []Item) (*Snapshot, error) {
	return s.mutate(ctx, phone, func(o *Snapshot) error { return o.addItems(items) })
}

func (s *SQLiteStore) UpdateProduct(ctx context.Context, phone string, update ProductUpdate) (*Snapshot, error) {
	return s.mutate(ctx, phone, func(o *Snapshot) error { return o.applyUpdate(update) })
}

func (s *SQLiteStore) SetStatus(ctx context.Context, orderID string, status Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UnixNano(), orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNoOrder)
	}
	return nil
}

func (s *SQLiteStore) EnsureCustomer(ctx context.Context, phone string) (*Customer, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (phone, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (phone) DO NOTHING`,
		phone, DefaultCustomerName, s.now().UnixNano()); err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return s.customer(ctx, phone)
}

func (s *SQLiteStore) customer(ctx context.Context, phone string) (*Customer, error) {
	c := &Customer{Phone: phone}
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT name, created_at FROM customers WHERE phone = ?`, phone).Scan(&c.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}
	c.CreatedAt = time.Unix(0, createdAt).UTC()
	return c, nil
}

func (s *SQLiteStore) ResolveSession(ctx context.Context, phone string) (string, error) {
	if _, err := s.EnsureCustomer(ctx, phone); err != nil {
		return "", err
	}

	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM threads WHERE phone = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, phone).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case errors.Is(err, sql.ErrNoRows):
		return s.NewThread(ctx, phone)
	default:
		return "", fmt.Errorf("failed to resolve thread: %w", err)
	}
}

func (s *SQLiteStore) NewThread(ctx context.Context, phone string) (string, error) {
	if _, err := s.EnsureCustomer(ctx, phone); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, phone, created_at) VALUES (?, ?, ?)`,
		id, phone, s.now().UnixNano()); err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Profile(ctx context.Context, phone string) (*Customer, error) {
	c, err := s.customer(ctx, phone)
	if err != nil {
		return nil, err
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT address FROM orders WHERE phone = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, phone).
		Scan(&c.LastAddress)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load last address: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) UpdateName(ctx context.Context, phone, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if _, err := s.EnsureCustomer(ctx, phone); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE customers SET name = ? WHERE phone = ?`, name, phone); err != nil {
		return fmt.Errorf("failed to update customer name: %w", err)
	}
	return nil
}
