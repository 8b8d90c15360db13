package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

type Phone struct {
	ID    int64           `json:"id"`
	Model string          `json:"model"`
	Price decimal.Decimal `json:"price"`
}

// UpsertPhone inserts the model or updates its price, and makes sure the
// phone has a stock row.
func (c *Conn) UpsertPhone(ctx context.Context, model string, price decimal.Decimal) (*Phone, error) {
	_, err := c.ex.ExecContext(ctx, c.Q(`INSERT INTO phones (model, price) VALUES (?, ?)
		ON CONFLICT(model) DO UPDATE SET price=excluded.price`), model, price)
	if err != nil {
		return nil, fmt.Errorf("upsert phone %s: %w", model, err)
	}
	p, err := c.GetPhoneByModel(ctx, model)
	if err != nil {
		return nil, err
	}
	_, err = c.ex.ExecContext(ctx, c.Q(`INSERT INTO stock (phone_id, quantity_available, quantity_reserved)
		VALUES (?, 0, 0) ON CONFLICT(phone_id) DO NOTHING`), p.ID)
	if err != nil {
		return nil, fmt.Errorf("ensure stock %s: %w", model, err)
	}
	return p, nil
}

func (c *Conn) GetPhone(ctx context.Context, id int64) (*Phone, error) {
	var p Phone
	err := c.ex.QueryRowContext(ctx, c.Q(`SELECT id, model, price FROM phones WHERE id=?`), id).
		Scan(&p.ID, &p.Model, &p.Price)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (c *Conn) GetPhoneByModel(ctx context.Context, model string) (*Phone, error) {
	var p Phone
	err := c.ex.QueryRowContext(ctx, c.Q(`SELECT id, model, price FROM phones WHERE model=?`), model).
		Scan(&p.ID, &p.Model, &p.Price)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (c *Conn) ListPhones(ctx context.Context) ([]*Phone, error) {
	rows, err := c.ex.QueryContext(ctx, `SELECT id, model, price FROM phones ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var phones []*Phone
	for rows.Next() {
		var p Phone
		if err := rows.Scan(&p.ID, &p.Model, &p.Price); err != nil {
			return nil, err
		}
		phones = append(phones, &p)
	}
	return phones, rows.Err()
}
