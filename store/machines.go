package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Machine struct {
	ID           int64           `json:"id"`
	PhoneID      int64           `json:"phone_id"`
	PurchaseID   *int64          `json:"purchase_id,omitempty"`
	RatePerDay   int             `json:"rate_per_day"`
	Cost         decimal.Decimal `json:"cost"`
	DateAcquired time.Time       `json:"date_acquired"`
	DateRetired  *time.Time      `json:"date_retired,omitempty"`
	Ratios       []MachineRatio  `json:"ratios"`
}

// MachineRatio is one bill-of-materials line: units of a part consumed per
// phone produced by the machine.
type MachineRatio struct {
	MachineID int64 `json:"machine_id"`
	PartID    int64 `json:"part_id"`
	Quantity  int   `json:"quantity"`
}

func (m *Machine) Active() bool { return m.DateRetired == nil }

// InsertMachine stores a machine and its ratio rows. Call it inside a
// transaction so a machine never exists without its bill of materials.
func (c *Conn) InsertMachine(ctx context.Context, m *Machine) error {
	var purchaseID any
	if m.PurchaseID != nil {
		purchaseID = *m.PurchaseID
	}
	id, err := c.insertID(ctx, `INSERT INTO machines (phone_id, purchase_id, rate_per_day, cost, date_acquired) VALUES (?, ?, ?, ?, ?)`,
		m.PhoneID, purchaseID, m.RatePerDay, m.Cost, c.ts(m.DateAcquired))
	if err != nil {
		return fmt.Errorf("insert machine: %w", err)
	}
	m.ID = id
	for i := range m.Ratios {
		r := &m.Ratios[i]
		r.MachineID = id
		if _, err := c.ex.ExecContext(ctx, c.Q(`INSERT INTO machine_ratios (machine_id, part_id, quantity) VALUES (?, ?, ?)`),
			id, r.PartID, r.Quantity); err != nil {
			return fmt.Errorf("insert machine ratio: %w", err)
		}
	}
	return nil
}

// ListActiveMachines returns the phone's active machines, oldest first,
// each with its ratios loaded.
func (c *Conn) ListActiveMachines(ctx context.Context, phoneID int64) ([]*Machine, error) {
	rows, err := c.ex.QueryContext(ctx, c.Q(`SELECT id, phone_id, purchase_id, rate_per_day, cost, date_acquired, date_retired
		FROM machines WHERE phone_id=? AND date_retired IS NULL ORDER BY date_acquired, id`), phoneID)
	if err != nil {
		return nil, err
	}
	var machines []*Machine
	byID := map[int64]*Machine{}
	for rows.Next() {
		var m Machine
		var purchaseID sql.NullInt64
		var acquired, retired any
		if err := rows.Scan(&m.ID, &m.PhoneID, &purchaseID, &m.RatePerDay, &m.Cost, &acquired, &retired); err != nil {
			rows.Close()
			return nil, err
		}
		if purchaseID.Valid {
			m.PurchaseID = &purchaseID.Int64
		}
		m.DateAcquired = parseTime(acquired)
		m.DateRetired = parseTimePtr(retired)
		machines = append(machines, &m)
		byID[m.ID] = &m
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(machines) == 0 {
		return nil, nil
	}

	rrows, err := c.ex.QueryContext(ctx, c.Q(`SELECT r.machine_id, r.part_id, r.quantity FROM machine_ratios r
		JOIN machines m ON m.id = r.machine_id
		WHERE m.phone_id=? AND m.date_retired IS NULL ORDER BY r.machine_id, r.part_id`), phoneID)
	if err != nil {
		return nil, err
	}
	defer rrows.Close()
	for rrows.Next() {
		var r MachineRatio
		if err := rrows.Scan(&r.MachineID, &r.PartID, &r.Quantity); err != nil {
			return nil, err
		}
		if m, ok := byID[r.MachineID]; ok {
			m.Ratios = append(m.Ratios, r)
		}
	}
	return machines, rrows.Err()
}

func (c *Conn) CountActiveMachines(ctx context.Context, phoneID int64) (int, error) {
	var n int
	err := c.ex.QueryRowContext(ctx, c.Q(`SELECT COUNT(*) FROM machines WHERE phone_id=? AND date_retired IS NULL`), phoneID).Scan(&n)
	return n, err
}

// RetireOldestMachines stamps date_retired on the n oldest active machines of
// a phone and returns how many were retired.
func (c *Conn) RetireOldestMachines(ctx context.Context, phoneID int64, n int, at time.Time) (int, error) {
	rows, err := c.ex.QueryContext(ctx, c.Q(`SELECT id FROM machines WHERE phone_id=? AND date_retired IS NULL
		ORDER BY date_acquired, id LIMIT ?`), phoneID, n)
	if err != nil {
		return 0, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, err := c.ex.ExecContext(ctx, c.Q(`UPDATE machines SET date_retired=? WHERE id=?`), c.ts(at), id); err != nil {
			return 0, fmt.Errorf("retire machine %d: %w", id, err)
		}
	}
	return len(ids), nil
}
