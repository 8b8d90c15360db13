package store

import (
	"context"
	"fmt"
	"time"
)

type Stock struct {
	PhoneID           int64     `json:"phone_id"`
	Model             string    `json:"model"`
	QuantityAvailable int       `json:"quantity_available"`
	QuantityReserved  int       `json:"quantity_reserved"`
	UpdatedAt         time.Time `json:"updated_at"`
}

const stockSelect = `SELECT s.phone_id, p.model, s.quantity_available, s.quantity_reserved, s.updated_at
	FROM stock s JOIN phones p ON p.id = s.phone_id`

func scanStock(row interface{ Scan(...any) error }) (*Stock, error) {
	var s Stock
	var updatedAt any
	if err := row.Scan(&s.PhoneID, &s.Model, &s.QuantityAvailable, &s.QuantityReserved, &updatedAt); err != nil {
		return nil, err
	}
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

func (c *Conn) GetStock(ctx context.Context, phoneID int64) (*Stock, error) {
	s, err := scanStock(c.ex.QueryRowContext(ctx, c.Q(stockSelect+` WHERE s.phone_id=?`), phoneID))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func (c *Conn) ListStock(ctx context.Context) ([]*Stock, error) {
	rows, err := c.ex.QueryContext(ctx, stockSelect+` ORDER BY s.phone_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Stock
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CheckAvailability reports whether at least qty units are available.
func (c *Conn) CheckAvailability(ctx context.Context, phoneID int64, qty int) (bool, error) {
	var available int
	err := c.ex.QueryRowContext(ctx, c.Q(`SELECT quantity_available FROM stock WHERE phone_id=?`), phoneID).Scan(&available)
	if err != nil {
		return false, notFound(err)
	}
	return available >= qty, nil
}

// ReserveStock moves qty units from available to reserved in a single
// conditional update. Zero affected rows means the guard failed.
func (c *Conn) ReserveStock(ctx context.Context, phoneID int64, qty int) error {
	res, err := c.ex.ExecContext(ctx, c.Q(`UPDATE stock
		SET quantity_available = quantity_available - ?, quantity_reserved = quantity_reserved + ?
		WHERE phone_id = ? AND quantity_available >= ?`), qty, qty, phoneID, qty)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}
	return c.guardResult(ctx, res, phoneID, ErrInsufficientStock)
}

// ReleaseReservedStock returns qty reserved units to available.
func (c *Conn) ReleaseReservedStock(ctx context.Context, phoneID int64, qty int) error {
	res, err := c.ex.ExecContext(ctx, c.Q(`UPDATE stock
		SET quantity_reserved = quantity_reserved - ?, quantity_available = quantity_available + ?
		WHERE phone_id = ? AND quantity_reserved >= ?`), qty, qty, phoneID, qty)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	return c.guardResult(ctx, res, phoneID, ErrReservationUnderflow)
}

// ConfirmCollection removes qty units from reserved once the carrier has
// collected them. Available was already decremented at reservation.
func (c *Conn) ConfirmCollection(ctx context.Context, phoneID int64, qty int) error {
	res, err := c.ex.ExecContext(ctx, c.Q(`UPDATE stock SET quantity_reserved = quantity_reserved - ?
		WHERE phone_id = ? AND quantity_reserved >= ?`), qty, phoneID, qty)
	if err != nil {
		return fmt.Errorf("confirm collection: %w", err)
	}
	return c.guardResult(ctx, res, phoneID, ErrReservationUnderflow)
}

func (c *Conn) AddProducedStock(ctx context.Context, phoneID int64, qty int, at time.Time) error {
	res, err := c.ex.ExecContext(ctx, c.Q(`UPDATE stock SET quantity_available = quantity_available + ?, updated_at = ?
		WHERE phone_id = ?`), qty, c.ts(at), phoneID)
	if err != nil {
		return fmt.Errorf("add produced stock: %w", err)
	}
	return c.guardResult(ctx, res, phoneID, ErrNotFound)
}

// guardResult turns a zero-row conditional update into guardErr, or
// ErrNotFound when the stock row does not exist at all.
func (c *Conn) guardResult(ctx context.Context, res interface{ RowsAffected() (int64, error) }, phoneID int64, guardErr error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	if err := c.ex.QueryRowContext(ctx, c.Q(`SELECT 1 FROM stock WHERE phone_id=?`), phoneID).Scan(&one); err != nil {
		return notFound(err)
	}
	return guardErr
}
