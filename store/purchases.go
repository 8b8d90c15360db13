package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PurchasePending   = "pending"
	PurchasePaid      = "paid"
	PurchaseShipped   = "shipped"
	PurchaseCompleted = "completed"
	PurchaseFailed    = "failed"
)

type PartsPurchase struct {
	ID              int64           `json:"id"`
	ReferenceNumber string          `json:"reference_number"`
	PartID          int64           `json:"part_id"`
	Quantity        int             `json:"quantity"`
	Cost            decimal.Decimal `json:"cost"`
	Status          string          `json:"status"`
	AccountNumber   string          `json:"account_number"`
	PurchasedAt     time.Time       `json:"purchased_at"`
}

type MachinePurchase struct {
	ID                int64           `json:"id"`
	PhoneID           int64           `json:"phone_id"`
	MachinesPurchased int             `json:"machines_purchased"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	WeightPerMachine  float64         `json:"weight_per_machine"`
	RatePerDay        int             `json:"rate_per_day"`
	// Ratio maps part name to units consumed per phone.
	Ratio           map[string]int `json:"ratio"`
	ReferenceNumber string         `json:"reference_number"`
	AccountNumber   string         `json:"account_number"`
	Status          string         `json:"status"`
	PurchasedAt     time.Time      `json:"purchased_at"`
}

// UnitCost is the purchase's total cost split evenly across its machines.
func (p *MachinePurchase) UnitCost() decimal.Decimal {
	if p.MachinesPurchased <= 0 {
		return decimal.Zero
	}
	return p.TotalCost.Div(decimal.NewFromInt(int64(p.MachinesPurchased)))
}

// --- parts purchases ---

const partsPurchaseSelect = `SELECT id, reference_number, part_id, quantity, cost, status, account_number, purchased_at FROM parts_purchases`

func scanPartsPurchase(row interface{ Scan(...any) error }) (*PartsPurchase, error) {
	var p PartsPurchase
	var purchasedAt any
	if err := row.Scan(&p.ID, &p.ReferenceNumber, &p.PartID, &p.Quantity, &p.Cost, &p.Status, &p.AccountNumber, &purchasedAt); err != nil {
		return nil, err
	}
	p.PurchasedAt = parseTime(purchasedAt)
	return &p, nil
}

func (c *Conn) InsertPartsPurchase(ctx context.Context, p *PartsPurchase) error {
	id, err := c.insertID(ctx, `INSERT INTO parts_purchases (reference_number, part_id, quantity, cost, status, account_number, purchased_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ReferenceNumber, p.PartID, p.Quantity, p.Cost, p.Status, p.AccountNumber, c.ts(p.PurchasedAt))
	if err != nil {
		return fmt.Errorf("insert parts purchase: %w", err)
	}
	p.ID = id
	return nil
}

func (c *Conn) GetPartsPurchase(ctx context.Context, id int64) (*PartsPurchase, error) {
	p, err := scanPartsPurchase(c.ex.QueryRowContext(ctx, c.Q(partsPurchaseSelect+` WHERE id=?`), id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (c *Conn) ListPartsPurchases(ctx context.Context, limit int) ([]*PartsPurchase, error) {
	rows, err := c.ex.QueryContext(ctx, c.Q(partsPurchaseSelect+` ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*PartsPurchase
	for rows.Next() {
		p, err := scanPartsPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (c *Conn) UpdatePartsPurchaseStatus(ctx context.Context, id int64, status string) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`UPDATE parts_purchases SET status=? WHERE id=?`), status, id)
	return err
}

// PartsOnOrder sums the quantity of a part's purchases made at or after
// since that have not yet completed or failed.
func (c *Conn) PartsOnOrder(ctx context.Context, partID int64, since time.Time) (int, error) {
	var n int
	err := c.ex.QueryRowContext(ctx, c.Q(`SELECT COALESCE(SUM(quantity), 0) FROM parts_purchases
		WHERE part_id=? AND status IN (?, ?, ?) AND purchased_at >= ?`),
		partID, PurchasePending, PurchasePaid, PurchaseShipped, c.ts(since)).Scan(&n)
	return n, err
}

// --- machine purchases ---

const machinePurchaseSelect = `SELECT id, phone_id, machines_purchased, total_cost, weight_per_machine, rate_per_day, ratio, reference_number, account_number, status, purchased_at FROM machine_purchases`

func scanMachinePurchase(row interface{ Scan(...any) error }) (*MachinePurchase, error) {
	var p MachinePurchase
	var ratio []byte
	var purchasedAt any
	if err := row.Scan(&p.ID, &p.PhoneID, &p.MachinesPurchased, &p.TotalCost, &p.WeightPerMachine, &p.RatePerDay,
		&ratio, &p.ReferenceNumber, &p.AccountNumber, &p.Status, &purchasedAt); err != nil {
		return nil, err
	}
	if len(ratio) > 0 {
		if err := json.Unmarshal(ratio, &p.Ratio); err != nil {
			return nil, fmt.Errorf("decode machine ratio: %w", err)
		}
	}
	p.PurchasedAt = parseTime(purchasedAt)
	return &p, nil
}

func (c *Conn) InsertMachinePurchase(ctx context.Context, p *MachinePurchase) error {
	ratio, err := json.Marshal(p.Ratio)
	if err != nil {
		return fmt.Errorf("encode machine ratio: %w", err)
	}
	id, err := c.insertID(ctx, `INSERT INTO machine_purchases (phone_id, machines_purchased, total_cost, weight_per_machine, rate_per_day, ratio, reference_number, account_number, status, purchased_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.PhoneID, p.MachinesPurchased, p.TotalCost, p.WeightPerMachine, p.RatePerDay, string(ratio),
		p.ReferenceNumber, p.AccountNumber, p.Status, c.ts(p.PurchasedAt))
	if err != nil {
		return fmt.Errorf("insert machine purchase: %w", err)
	}
	p.ID = id
	return nil
}

func (c *Conn) GetMachinePurchase(ctx context.Context, id int64) (*MachinePurchase, error) {
	p, err := scanMachinePurchase(c.ex.QueryRowContext(ctx, c.Q(machinePurchaseSelect+` WHERE id=?`), id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (c *Conn) UpdateMachinePurchaseStatus(ctx context.Context, id int64, status string) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`UPDATE machine_purchases SET status=? WHERE id=?`), status, id)
	return err
}

// LatestMachinePurchase returns the newest non-failed purchase for a phone,
// or ErrNotFound when none exists.
func (c *Conn) LatestMachinePurchase(ctx context.Context, phoneID int64) (*MachinePurchase, error) {
	p, err := scanMachinePurchase(c.ex.QueryRowContext(ctx, c.Q(machinePurchaseSelect+
		` WHERE phone_id=? AND status<>? ORDER BY id DESC LIMIT 1`), phoneID, PurchaseFailed))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

// MachinesOnOrder sums machines bought for a phone at or after since that
// have not been delivered yet.
func (c *Conn) MachinesOnOrder(ctx context.Context, phoneID int64, since time.Time) (int, error) {
	var n int
	err := c.ex.QueryRowContext(ctx, c.Q(`SELECT COALESCE(SUM(machines_purchased), 0) FROM machine_purchases
		WHERE phone_id=? AND status IN (?, ?, ?) AND purchased_at >= ?`),
		phoneID, PurchasePending, PurchasePaid, PurchaseShipped, c.ts(since)).Scan(&n)
	return n, err
}
