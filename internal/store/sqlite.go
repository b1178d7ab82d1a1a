package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/tradekit/tradeloop/internal/model"
	"github.com/tradekit/tradeloop/internal/portfolio"
)

// SQLite implements Store on a single sqlite database file
type SQLite struct {
	db *sql.DB
}

// Open creates or opens the durable store at path
func Open(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty REAL NOT NULL,
			price REAL NOT NULL,
			status TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			strategy TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_unix_millis INTEGER NOT NULL,
			submitted_unix_millis INTEGER NULL,
			executed_unix_millis INTEGER NULL,
			execution_price REAL NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE TABLE IF NOT EXISTS positions (
			symbol TEXT PRIMARY KEY,
			quantity TEXT NOT NULL,
			avg_price TEXT NOT NULL,
			last_price TEXT NOT NULL,
			realized_pnl TEXT NOT NULL,
			updated_unix_millis INTEGER NOT NULL
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// SaveOrder upserts the order by identifier
func (s *SQLite) SaveOrder(ctx context.Context, order model.Order) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (
			order_id, symbol, side, qty, price, status, reason, strategy, attempts,
			created_unix_millis, submitted_unix_millis, executed_unix_millis, execution_price
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			status = excluded.status,
			reason = excluded.reason,
			attempts = excluded.attempts,
			submitted_unix_millis = excluded.submitted_unix_millis,
			executed_unix_millis = excluded.executed_unix_millis,
			execution_price = excluded.execution_price`,
		order.ID, order.Symbol, string(order.Direction), order.Quantity, order.Price,
		string(order.Status), order.Reason, order.Strategy, order.Attempts,
		order.CreatedAt.UnixMilli(), nullMillis(order.SubmittedAt), nullMillis(order.ExecutedAt),
		nullFloat(order.ExecutionPrice, order.Status == model.OrderExecuted),
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// GetOrder reads an order by identifier
func (s *SQLite) GetOrder(ctx context.Context, id string) (model.Order, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT order_id, symbol, side, qty, price, status, reason, strategy, attempts,
			created_unix_millis, submitted_unix_millis, executed_unix_millis, execution_price
		 FROM orders WHERE order_id = ?`, id)

	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, fmt.Errorf("failed to read order: %w", err)
	}
	return order, true, nil
}

// FinalizeExecution marks the order EXECUTED unless it already is
func (s *SQLite) FinalizeExecution(ctx context.Context, id string, price float64, ts time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders
		 SET status = ?, execution_price = ?, executed_unix_millis = ?
		 WHERE order_id = ? AND status != ?`,
		string(model.OrderExecuted), price, ts.UnixMilli(), id, string(model.OrderExecuted),
	)
	if err != nil {
		return false, fmt.Errorf("failed to finalize execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	// Distinguish "already executed" from "never persisted"
	var status string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM orders WHERE order_id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("cannot finalize unknown order %s", id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check order status: %w", err)
	}
	return false, nil
}

// ListNonTerminal returns orders left in PENDING or SUBMITTED
func (s *SQLite) ListNonTerminal(ctx context.Context) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id, symbol, side, qty, price, status, reason, strategy, attempts,
			created_unix_millis, submitted_unix_millis, executed_unix_millis, execution_price
		 FROM orders WHERE status IN (?, ?)
		 ORDER BY created_unix_millis ASC`,
		string(model.OrderPending), string(model.OrderSubmitted),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query non-terminal orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// SavePosition upserts a position by symbol
func (s *SQLite) SavePosition(ctx context.Context, pos portfolio.Position) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions (symbol, quantity, avg_price, last_price, realized_pnl, updated_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			last_price = excluded.last_price,
			realized_pnl = excluded.realized_pnl,
			updated_unix_millis = excluded.updated_unix_millis`,
		pos.Symbol, pos.Quantity.String(), pos.AvgPrice.String(), pos.LastPrice.String(),
		pos.RealizedPnL.String(), pos.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// DeletePosition removes a closed position
func (s *SQLite) DeletePosition(ctx context.Context, symbol string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM positions WHERE symbol = ?", symbol); err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	return nil
}

// ListPositions returns all persisted positions
func (s *SQLite) ListPositions(ctx context.Context) ([]portfolio.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT symbol, quantity, avg_price, last_price, realized_pnl, updated_unix_millis FROM positions")
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []portfolio.Position
	for rows.Next() {
		var (
			pos                                portfolio.Position
			quantity, avgPrice, lastPrice, pnl string
			updatedMillis                      int64
		)
		if err := rows.Scan(&pos.Symbol, &quantity, &avgPrice, &lastPrice, &pnl, &updatedMillis); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		if pos.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return nil, fmt.Errorf("invalid quantity for %s: %w", pos.Symbol, err)
		}
		if pos.AvgPrice, err = decimal.NewFromString(avgPrice); err != nil {
			return nil, fmt.Errorf("invalid avg price for %s: %w", pos.Symbol, err)
		}
		if pos.LastPrice, err = decimal.NewFromString(lastPrice); err != nil {
			return nil, fmt.Errorf("invalid last price for %s: %w", pos.Symbol, err)
		}
		if pos.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("invalid realized pnl for %s: %w", pos.Symbol, err)
		}
		pos.UpdatedAt = time.UnixMilli(updatedMillis).UTC()
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// Close closes the database connection
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (model.Order, error) {
	var (
		o                               model.Order
		side, status                    string
		createdMillis                   int64
		submittedMillis, executedMillis sql.NullInt64
		executionPrice                  sql.NullFloat64
	)
	err := row.Scan(&o.ID, &o.Symbol, &side, &o.Quantity, &o.Price, &status, &o.Reason,
		&o.Strategy, &o.Attempts, &createdMillis, &submittedMillis, &executedMillis, &executionPrice)
	if err != nil {
		return model.Order{}, err
	}
	o.Direction = model.Direction(side)
	o.Status = model.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdMillis).UTC()
	if submittedMillis.Valid {
		o.SubmittedAt = time.UnixMilli(submittedMillis.Int64).UTC()
	}
	if executedMillis.Valid {
		o.ExecutedAt = time.UnixMilli(executedMillis.Int64).UTC()
	}
	if executionPrice.Valid {
		o.ExecutionPrice = executionPrice.Float64
	}
	return o, nil
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullFloat(v float64, valid bool) sql.NullFloat64 {
	if !valid {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
