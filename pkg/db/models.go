package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// OcoPairRecord is the persisted form of one OCO pair for a trading date.
type OcoPairRecord struct {
	Date      string
	Symbol    string
	State     string
	Payload   []byte
	UpdatedAt time.Time
}

// ActionRecord journals one dispatched action.
type ActionRecord struct {
	ID        string
	Date      string
	Kind      string
	Source    string
	Symbol    string
	Rule      string
	Reason    string
	Status    string
	Error     string
	CreatedAt time.Time
}

// OrderRecord journals one order the engine submitted.
type OrderRecord struct {
	ID              string
	ExchangeOrderID string
	Date            string
	Symbol          string
	Side            string
	Type            string
	Purpose         string
	Price           float64
	StopPrice       float64
	Qty             float64
	Status          string
	RealizedPnL     float64
	CreatedAt       time.Time
}

// SaveDailyState stores the encoded daily state for date.
func (d *Database) SaveDailyState(ctx context.Context, date string, payload []byte) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO daily_state (date, payload, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date) DO UPDATE SET payload=excluded.payload, updated_at=CURRENT_TIMESTAMP`,
		date, string(payload))
	return err
}

// LoadDailyState returns the encoded daily state for date or ErrNotFound.
func (d *Database) LoadDailyState(ctx context.Context, date string) ([]byte, error) {
	var payload string
	err := d.DB.QueryRowContext(ctx, `SELECT payload FROM daily_state WHERE date = ?`, date).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

// SaveOcoPairs replaces the pairs stored for date.
func (d *Database) SaveOcoPairs(ctx context.Context, date string, pairs []OcoPairRecord) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM oco_pairs WHERE date = ?`, date); err != nil {
		return err
	}
	for _, p := range pairs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO oco_pairs (date, symbol, state, payload, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`,
			date, p.Symbol, p.State, string(p.Payload)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListOcoPairs returns pairs stored for date ordered by symbol.
func (d *Database) ListOcoPairs(ctx context.Context, date string) ([]OcoPairRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT date, symbol, state, payload, updated_at FROM oco_pairs WHERE date = ? ORDER BY symbol`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []OcoPairRecord
	for rows.Next() {
		var (
			r       OcoPairRecord
			payload string
		)
		if err := rows.Scan(&r.Date, &r.Symbol, &r.State, &payload, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Payload = []byte(payload)
		res = append(res, r)
	}
	return res, rows.Err()
}

// InsertAction journals an action outcome.
func (d *Database) InsertAction(ctx context.Context, a ActionRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO actions (id, date, kind, source, symbol, rule, reason, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Date, a.Kind, a.Source, a.Symbol, a.Rule, a.Reason, a.Status, a.Error)
	return err
}

// ListActions returns actions journaled for date, oldest first.
func (d *Database) ListActions(ctx context.Context, date string) ([]ActionRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, date, kind, source, COALESCE(symbol,''), COALESCE(rule,''), COALESCE(reason,''),
		       status, COALESCE(error,''), created_at
		FROM actions WHERE date = ? ORDER BY created_at, rowid`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []ActionRecord
	for rows.Next() {
		var a ActionRecord
		if err := rows.Scan(&a.ID, &a.Date, &a.Kind, &a.Source, &a.Symbol, &a.Rule, &a.Reason,
			&a.Status, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// UpsertOrder records or updates an order by client id.
func (d *Database) UpsertOrder(ctx context.Context, o OrderRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (id, exchange_order_id, date, symbol, side, type, purpose, price, stop_price, qty, status, realized_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exchange_order_id=excluded.exchange_order_id,
			status=excluded.status,
			realized_pnl=excluded.realized_pnl,
			updated_at=CURRENT_TIMESTAMP`,
		o.ID, o.ExchangeOrderID, o.Date, o.Symbol, o.Side, o.Type, o.Purpose,
		o.Price, o.StopPrice, o.Qty, o.Status, o.RealizedPnL)
	return err
}

// ListOrders returns orders journaled for date, oldest first.
func (d *Database) ListOrders(ctx context.Context, date string) ([]OrderRecord, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, COALESCE(exchange_order_id,''), date, symbol, side, type, purpose,
		       price, stop_price, qty, status, COALESCE(realized_pnl,0), created_at
		FROM orders WHERE date = ? ORDER BY created_at, rowid`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []OrderRecord
	for rows.Next() {
		var o OrderRecord
		if err := rows.Scan(&o.ID, &o.ExchangeOrderID, &o.Date, &o.Symbol, &o.Side, &o.Type, &o.Purpose,
			&o.Price, &o.StopPrice, &o.Qty, &o.Status, &o.RealizedPnL, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}
