package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetSetting returns the value stored under key and whether it exists.
func (c *Conn) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := c.ex.QueryRowContext(ctx, c.Q(`SELECT value FROM system_settings WHERE key=?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetSetting inserts or replaces the value stored under key.
func (c *Conn) SetSetting(ctx context.Context, key, value string) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`INSERT INTO system_settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`), key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (c *Conn) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := c.ex.QueryContext(ctx, `SELECT key, value FROM system_settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
