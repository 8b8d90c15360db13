package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DeliveryPending   = "pending"
	DeliveryPaid      = "paid"
	DeliveryCollected = "collected"
	DeliveryReceived  = "received"
	DeliveryFailed    = "failed"
)

// ConsumerDelivery is an outbound shipment of an order to its customer.
type ConsumerDelivery struct {
	ID                int64           `json:"id"`
	OrderID           int64           `json:"order_id"`
	DeliveryReference string          `json:"delivery_reference"`
	Cost              decimal.Decimal `json:"cost"`
	Status            string          `json:"status"`
	AccountNumber     string          `json:"account_number"`
	UnitsCollected    int             `json:"units_collected"`
	CreatedAt         time.Time       `json:"created_at"`
}

// BulkDelivery is an inbound shipment of parts.
type BulkDelivery struct {
	ID                int64           `json:"id"`
	PartsPurchaseID   int64           `json:"parts_purchase_id"`
	DeliveryReference string          `json:"delivery_reference"`
	Cost              decimal.Decimal `json:"cost"`
	Status            string          `json:"status"`
	Address           string          `json:"address"`
	UnitsReceived     int             `json:"units_received"`
	CreatedAt         time.Time       `json:"created_at"`
}

// MachineDelivery is an inbound shipment of purchased machines.
type MachineDelivery struct {
	ID                 int64           `json:"id"`
	MachinePurchasesID int64           `json:"machine_purchases_id"`
	DeliveryReference  string          `json:"delivery_reference"`
	Cost               decimal.Decimal `json:"cost"`
	AccountNumber      string          `json:"account_number"`
	Status             string          `json:"status"`
	UnitsReceived      int             `json:"units_received"`
	CreatedAt          time.Time       `json:"created_at"`
}

// --- consumer deliveries ---

const consumerSelect = `SELECT id, order_id, delivery_reference, cost, status, account_number, units_collected, created_at FROM consumer_deliveries`

func scanConsumerDelivery(row interface{ Scan(...any) error }) (*ConsumerDelivery, error) {
	var d ConsumerDelivery
	var createdAt any
	if err := row.Scan(&d.ID, &d.OrderID, &d.DeliveryReference, &d.Cost, &d.Status, &d.AccountNumber, &d.UnitsCollected, &createdAt); err != nil {
		return nil, err
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

func (c *Conn) InsertConsumerDelivery(ctx context.Context, d *ConsumerDelivery) error {
	id, err := c.insertID(ctx, `INSERT INTO consumer_deliveries (order_id, delivery_reference, cost, status, account_number, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.OrderID, d.DeliveryReference, d.Cost, d.Status, d.AccountNumber, c.ts(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert consumer delivery: %w", err)
	}
	d.ID = id
	return nil
}

func (c *Conn) GetConsumerDeliveryByReference(ctx context.Context, ref string) (*ConsumerDelivery, error) {
	d, err := scanConsumerDelivery(c.ex.QueryRowContext(ctx, c.Q(consumerSelect+` WHERE delivery_reference=?`), ref))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (c *Conn) GetConsumerDeliveryByOrder(ctx context.Context, orderID int64) (*ConsumerDelivery, error) {
	d, err := scanConsumerDelivery(c.ex.QueryRowContext(ctx, c.Q(consumerSelect+` WHERE order_id=? ORDER BY id DESC LIMIT 1`), orderID))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (c *Conn) UpdateConsumerDeliveryStatus(ctx context.Context, id int64, status string) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`UPDATE consumer_deliveries SET status=? WHERE id=?`), status, id)
	return err
}

func (c *Conn) MarkConsumerDeliveryCollected(ctx context.Context, id int64, units int) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`UPDATE consumer_deliveries SET units_collected=?, status=? WHERE id=?`),
		units, DeliveryCollected, id)
	return err
}

// --- bulk (parts) deliveries ---

const bulkSelect = `SELECT id, parts_purchase_id, delivery_reference, cost, status, address, units_received, created_at FROM bulk_deliveries`

func scanBulkDelivery(row interface{ Scan(...any) error }) (*BulkDelivery, error) {
	var d BulkDelivery
	var createdAt any
	if err := row.Scan(&d.ID, &d.PartsPurchaseID, &d.DeliveryReference, &d.Cost, &d.Status, &d.Address, &d.UnitsReceived, &createdAt); err != nil {
		return nil, err
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

func (c *Conn) InsertBulkDelivery(ctx context.Context, d *BulkDelivery) error {
	id, err := c.insertID(ctx, `INSERT INTO bulk_deliveries (parts_purchase_id, delivery_reference, cost, status, address, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.PartsPurchaseID, d.DeliveryReference, d.Cost, d.Status, d.Address, c.ts(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert bulk delivery: %w", err)
	}
	d.ID = id
	return nil
}

func (c *Conn) GetBulkDeliveryByReference(ctx context.Context, ref string) (*BulkDelivery, error) {
	d, err := scanBulkDelivery(c.ex.QueryRowContext(ctx, c.Q(bulkSelect+` WHERE delivery_reference=?`), ref))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (c *Conn) UpdateBulkDeliveryStatus(ctx context.Context, id int64, status string) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`UPDATE bulk_deliveries SET status=? WHERE id=?`), status, id)
	return err
}

func (c *Conn) MarkBulkDeliveryReceived(ctx context.Context, id int64, units int) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`UPDATE bulk_deliveries SET units_received=?, status=? WHERE id=?`),
		units, DeliveryReceived, id)
	return err
}

// ListOpenBulkDeliveries returns paid deliveries that have not arrived yet.
func (c *Conn) ListOpenBulkDeliveries(ctx context.Context) ([]*BulkDelivery, error) {
	rows, err := c.ex.QueryContext(ctx, c.Q(bulkSelect+` WHERE status=? ORDER BY id`), DeliveryPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*BulkDelivery
	for rows.Next() {
		d, err := scanBulkDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- machine deliveries ---

const machineDeliverySelect = `SELECT id, machine_purchases_id, delivery_reference, cost, account_number, status, units_received, created_at FROM machine_deliveries`

func scanMachineDelivery(row interface{ Scan(...any) error }) (*MachineDelivery, error) {
	var d MachineDelivery
	var createdAt any
	if err := row.Scan(&d.ID, &d.MachinePurchasesID, &d.DeliveryReference, &d.Cost, &d.AccountNumber, &d.Status, &d.UnitsReceived, &createdAt); err != nil {
		return nil, err
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

func (c *Conn) InsertMachineDelivery(ctx context.Context, d *MachineDelivery) error {
	id, err := c.insertID(ctx, `INSERT INTO machine_deliveries (machine_purchases_id, delivery_reference, cost, account_number, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		d.MachinePurchasesID, d.DeliveryReference, d.Cost, d.AccountNumber, d.Status, c.ts(d.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert machine delivery: %w", err)
	}
	d.ID = id
	return nil
}

func (c *Conn) GetMachineDeliveryByReference(ctx context.Context, ref string) (*MachineDelivery, error) {
	d, err := scanMachineDelivery(c.ex.QueryRowContext(ctx, c.Q(machineDeliverySelect+` WHERE delivery_reference=?`), ref))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (c *Conn) UpdateMachineDeliveryStatus(ctx context.Context, id int64, status string) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`UPDATE machine_deliveries SET status=? WHERE id=?`), status, id)
	return err
}

func (c *Conn) MarkMachineDeliveryReceived(ctx context.Context, id int64, units int) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`UPDATE machine_deliveries SET units_received=?, status=? WHERE id=?`),
		units, DeliveryReceived, id)
	return err
}

func (c *Conn) ListOpenMachineDeliveries(ctx context.Context) ([]*MachineDelivery, error) {
	rows, err := c.ex.QueryContext(ctx, c.Q(machineDeliverySelect+` WHERE status=? ORDER BY id`), DeliveryPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*MachineDelivery
	for rows.Next() {
		d, err := scanMachineDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
