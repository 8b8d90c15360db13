package store

import (
	"context"
	"fmt"
	"time"
)

type Part struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Supplier string `json:"supplier"`
}

// InventoryLevel is one part's on-hand quantity.
type InventoryLevel struct {
	PartID            int64     `json:"part_id"`
	Name              string    `json:"name"`
	Supplier          string    `json:"supplier"`
	QuantityAvailable int       `json:"quantity_available"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (c *Conn) UpsertPart(ctx context.Context, name, supplier string) (*Part, error) {
	_, err := c.ex.ExecContext(ctx, c.Q(`INSERT INTO parts (name, supplier) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET supplier=excluded.supplier`), name, supplier)
	if err != nil {
		return nil, fmt.Errorf("upsert part %s: %w", name, err)
	}
	p, err := c.GetPartByName(ctx, name)
	if err != nil {
		return nil, err
	}
	_, err = c.ex.ExecContext(ctx, c.Q(`INSERT INTO inventory (part_id, quantity_available)
		VALUES (?, 0) ON CONFLICT(part_id) DO NOTHING`), p.ID)
	if err != nil {
		return nil, fmt.Errorf("ensure inventory %s: %w", name, err)
	}
	return p, nil
}

func (c *Conn) GetPartByName(ctx context.Context, name string) (*Part, error) {
	var p Part
	err := c.ex.QueryRowContext(ctx, c.Q(`SELECT id, name, supplier FROM parts WHERE name=?`), name).
		Scan(&p.ID, &p.Name, &p.Supplier)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (c *Conn) GetPart(ctx context.Context, id int64) (*Part, error) {
	var p Part
	err := c.ex.QueryRowContext(ctx, c.Q(`SELECT id, name, supplier FROM parts WHERE id=?`), id).
		Scan(&p.ID, &p.Name, &p.Supplier)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (c *Conn) ListParts(ctx context.Context) ([]*Part, error) {
	rows, err := c.ex.QueryContext(ctx, `SELECT id, name, supplier FROM parts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var parts []*Part
	for rows.Next() {
		var p Part
		if err := rows.Scan(&p.ID, &p.Name, &p.Supplier); err != nil {
			return nil, err
		}
		parts = append(parts, &p)
	}
	return parts, rows.Err()
}

func (c *Conn) ListInventory(ctx context.Context) ([]*InventoryLevel, error) {
	rows, err := c.ex.QueryContext(ctx, `SELECT i.part_id, p.name, p.supplier, i.quantity_available, i.updated_at
		FROM inventory i JOIN parts p ON p.id = i.part_id ORDER BY i.part_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var levels []*InventoryLevel
	for rows.Next() {
		var l InventoryLevel
		var updatedAt any
		if err := rows.Scan(&l.PartID, &l.Name, &l.Supplier, &l.QuantityAvailable, &updatedAt); err != nil {
			return nil, err
		}
		l.UpdatedAt = parseTime(updatedAt)
		levels = append(levels, &l)
	}
	return levels, rows.Err()
}

func (c *Conn) GetInventory(ctx context.Context, partID int64) (int, error) {
	var qty int
	err := c.ex.QueryRowContext(ctx, c.Q(`SELECT quantity_available FROM inventory WHERE part_id=?`), partID).Scan(&qty)
	if err != nil {
		return 0, notFound(err)
	}
	return qty, nil
}

// ConsumeParts decrements inventory for production. It never drives the
// quantity below zero.
func (c *Conn) ConsumeParts(ctx context.Context, partID int64, qty int, at time.Time) error {
	res, err := c.ex.ExecContext(ctx, c.Q(`UPDATE inventory SET quantity_available = quantity_available - ?, updated_at = ?
		WHERE part_id = ? AND quantity_available >= ?`), qty, c.ts(at), partID, qty)
	if err != nil {
		return fmt.Errorf("consume part %d: %w", partID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("consume part %d: %w", partID, ErrInsufficientInventory)
	}
	return nil
}

// AddInventory is called only from confirmed bulk deliveries.
func (c *Conn) AddInventory(ctx context.Context, partID int64, qty int, at time.Time) error {
	res, err := c.ex.ExecContext(ctx, c.Q(`UPDATE inventory SET quantity_available = quantity_available + ?, updated_at = ?
		WHERE part_id = ?`), qty, c.ts(at), partID)
	if err != nil {
		return fmt.Errorf("add inventory %d: %w", partID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
