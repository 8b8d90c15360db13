package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
)

type Order struct {
	ID            int64           `json:"id"`
	Price         decimal.Decimal `json:"price"`
	Status        string          `json:"status"`
	AccountNumber string          `json:"account_number"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Items         []*OrderItem    `json:"items"`
}

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	PhoneID   int64           `json:"phone_id"`
	Model     string          `json:"model"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderHistory struct {
	ID        int64     `json:"id"`
	OrderID   int64     `json:"order_id"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

const orderSelectCols = `id, price, status, account_number, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*Order, error) {
	var o Order
	var createdAt, updatedAt any
	if err := row.Scan(&o.ID, &o.Price, &o.Status, &o.AccountNumber, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]*Order, error) {
	defer rows.Close()
	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CreateOrder inserts the order and its items. CreatedAt must be set by the
// caller from the simulated clock.
func (c *Conn) CreateOrder(ctx context.Context, o *Order) error {
	if o.Status == "" {
		o.Status = OrderPending
	}
	o.UpdatedAt = o.CreatedAt
	id, err := c.insertID(ctx, `INSERT INTO orders (price, status, account_number, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		o.Price, o.Status, o.AccountNumber, c.ts(o.CreatedAt), c.ts(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	o.ID = id
	for _, it := range o.Items {
		it.OrderID = id
		itemID, err := c.insertID(ctx, `INSERT INTO order_items (order_id, phone_id, quantity, unit_price) VALUES (?, ?, ?, ?)`,
			id, it.PhoneID, it.Quantity, it.UnitPrice)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
		it.ID = itemID
	}
	return c.InsertOrderHistory(ctx, id, o.Status, "created", o.CreatedAt)
}

func (c *Conn) GetOrder(ctx context.Context, id int64) (*Order, error) {
	o, err := scanOrder(c.ex.QueryRowContext(ctx, c.Q(`SELECT `+orderSelectCols+` FROM orders WHERE id=?`), id))
	if err != nil {
		return nil, notFound(err)
	}
	o.Items, err = c.ListOrderItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (c *Conn) ListOrderItems(ctx context.Context, orderID int64) ([]*OrderItem, error) {
	rows, err := c.ex.QueryContext(ctx, c.Q(`SELECT i.id, i.order_id, i.phone_id, p.model, i.quantity, i.unit_price
		FROM order_items i JOIN phones p ON p.id = i.phone_id WHERE i.order_id=? ORDER BY i.id`), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*OrderItem
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.PhoneID, &it.Model, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, &it)
	}
	return items, rows.Err()
}

// ListOrders returns the most recent orders, optionally filtered by status.
func (c *Conn) ListOrders(ctx context.Context, status string, limit int) ([]*Order, error) {
	if status == "" {
		rows, err := c.ex.QueryContext(ctx, c.Q(`SELECT `+orderSelectCols+` FROM orders ORDER BY id DESC LIMIT ?`), limit)
		if err != nil {
			return nil, err
		}
		return scanOrders(rows)
	}
	rows, err := c.ex.QueryContext(ctx, c.Q(`SELECT `+orderSelectCols+` FROM orders WHERE status=? ORDER BY id DESC LIMIT ?`), status, limit)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

// ListPendingOrdersBefore returns pending orders created strictly before cutoff.
func (c *Conn) ListPendingOrdersBefore(ctx context.Context, cutoff time.Time) ([]*Order, error) {
	rows, err := c.ex.QueryContext(ctx, c.Q(`SELECT `+orderSelectCols+` FROM orders
		WHERE status=? AND created_at < ? ORDER BY id`), OrderPending, c.ts(cutoff))
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

// TransitionOrder moves an order from one status to another only if it is
// still in the expected status. It reports whether the row changed.
func (c *Conn) TransitionOrder(ctx context.Context, id int64, from, to, detail string, at time.Time) (bool, error) {
	res, err := c.ex.ExecContext(ctx, c.Q(`UPDATE orders SET status=?, updated_at=? WHERE id=? AND status=?`),
		to, c.ts(at), id, from)
	if err != nil {
		return false, fmt.Errorf("transition order %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return true, c.InsertOrderHistory(ctx, id, to, detail, at)
}

// DeleteOrder removes an order that never became visible to a customer,
// together with its items, history and delivery rows.
func (c *Conn) DeleteOrder(ctx context.Context, id int64) error {
	for _, q := range []string{
		`DELETE FROM consumer_deliveries WHERE order_id=?`,
		`DELETE FROM order_history WHERE order_id=?`,
		`DELETE FROM order_items WHERE order_id=?`,
		`DELETE FROM orders WHERE id=?`,
	} {
		if _, err := c.ex.ExecContext(ctx, c.Q(q), id); err != nil {
			return fmt.Errorf("delete order %d: %w", id, err)
		}
	}
	return nil
}

func (c *Conn) InsertOrderHistory(ctx context.Context, orderID int64, status, detail string, at time.Time) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`INSERT INTO order_history (order_id, status, detail, created_at) VALUES (?, ?, ?, ?)`),
		orderID, status, detail, c.ts(at))
	return err
}

func (c *Conn) ListOrderHistory(ctx context.Context, orderID int64) ([]*OrderHistory, error) {
	rows, err := c.ex.QueryContext(ctx, c.Q(`SELECT id, order_id, status, detail, created_at FROM order_history WHERE order_id=? ORDER BY id`), orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hist []*OrderHistory
	for rows.Next() {
		var h OrderHistory
		var createdAt any
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Status, &h.Detail, &createdAt); err != nil {
			return nil, err
		}
		h.CreatedAt = parseTime(createdAt)
		hist = append(hist, &h)
	}
	return hist, rows.Err()
}
