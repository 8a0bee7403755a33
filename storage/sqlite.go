package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"tabsync/core"
)

// SQLite is the bundled OrderRepository implementation. WAL mode keeps
// reads concurrent with the single writer the engine produces.
type SQLite struct {
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
}

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id                 TEXT PRIMARY KEY,
	restaurant_id      TEXT NOT NULL,
	table_id           TEXT NOT NULL,
	status             TEXT NOT NULL,
	version            INTEGER NOT NULL,
	assigned_waiter_id TEXT NOT NULL DEFAULT '',
	payment_status     TEXT NOT NULL,
	dishes             TEXT NOT NULL,
	participants       TEXT NOT NULL,
	archived           INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_restaurant_active
	ON orders(restaurant_id, archived);
`

// NewSQLite opens (creating if needed) the order database at path and
// bootstraps the schema.
func NewSQLite(path string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// WAL mode and a busy timeout keep concurrent readers from tripping
	// over the write path. PRAGMAs go through Exec because connection
	// string parameters are not reliable across drivers.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	logger.Infow("SQLite order repository ready", "path", path)
	return &SQLite{db: db, path: path, logger: logger}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	if s.db == nil {
		return ErrDatabaseClosed
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetOrder loads one order by ID.
func (s *SQLite) GetOrder(ctx context.Context, orderID string) (*core.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, restaurant_id, table_id, status, version,
		       assigned_waiter_id, payment_status, dishes, participants,
		       created_at, updated_at
		FROM orders WHERE id = ?`, orderID)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	return order, err
}

// SaveOrder upserts the order, replacing the stored version. The state
// store serializes writers per order, so last-write-wins is safe here.
func (s *SQLite) SaveOrder(ctx context.Context, order *core.Order) error {
	dishes, err := json.Marshal(order.Dishes)
	if err != nil {
		return fmt.Errorf("marshal dishes: %w", err)
	}
	participants, err := json.Marshal(order.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, restaurant_id, table_id, status, version,
			assigned_waiter_id, payment_status, dishes, participants,
			archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			table_id = excluded.table_id,
			status = excluded.status,
			version = excluded.version,
			assigned_waiter_id = excluded.assigned_waiter_id,
			payment_status = excluded.payment_status,
			dishes = excluded.dishes,
			participants = excluded.participants,
			updated_at = excluded.updated_at`,
		order.ID, order.RestaurantID, order.TableID, string(order.Status),
		order.Version, order.AssignedWaiterID, string(order.PaymentStatus),
		string(dishes), string(participants),
		order.CreatedAt.UTC(), order.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save order %s: %w", order.ID, err)
	}
	return nil
}

// ArchiveOrder flags the order as archived; archived orders are excluded
// from active listings but stay readable.
func (s *SQLite) ArchiveOrder(ctx context.Context, orderID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET archived = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("archive order %s: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	return nil
}

// ListActiveOrders returns every non-archived order. The state store
// warms its live set from this at startup.
func (s *SQLite) ListActiveOrders(ctx context.Context) ([]*core.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, restaurant_id, table_id, status, version,
		       assigned_waiter_id, payment_status, dishes, participants,
		       created_at, updated_at
		FROM orders WHERE archived = 0
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	defer rows.Close()

	var orders []*core.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*core.Order, error) {
	var (
		order                core.Order
		status, payment      string
		dishes, participants string
	)
	err := row.Scan(&order.ID, &order.RestaurantID, &order.TableID, &status,
		&order.Version, &order.AssignedWaiterID, &payment,
		&dishes, &participants, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	order.Status = core.OrderStatus(status)
	order.PaymentStatus = core.PaymentStatus(payment)
	if err := json.Unmarshal([]byte(dishes), &order.Dishes); err != nil {
		return nil, fmt.Errorf("unmarshal dishes for %s: %w", order.ID, err)
	}
	if err := json.Unmarshal([]byte(participants), &order.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants for %s: %w", order.ID, err)
	}
	return &order, nil
}
