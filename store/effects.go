package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EffectPending     = "pending"
	EffectSucceeded   = "succeeded"
	EffectFailed      = "failed"
	EffectNeedsReview = "needs_review"
)

// ExternalEffect records a call to a partner that moves money. The row is
// committed before the call so a sent payment is never lost by a rollback.
type ExternalEffect struct {
	ID             int64           `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Kind           string          `json:"kind"`
	EntityType     string          `json:"entity_type"`
	EntityID       int64           `json:"entity_id"`
	Counterparty   string          `json:"counterparty"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	ExternalRef    string          `json:"external_ref"`
	Error          string          `json:"error"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

const effectSelect = `SELECT id, idempotency_key, kind, entity_type, entity_id, counterparty, amount, status, external_ref, error, created_at, updated_at FROM external_effects`

func scanEffect(row interface{ Scan(...any) error }) (*ExternalEffect, error) {
	var e ExternalEffect
	var createdAt, updatedAt any
	if err := row.Scan(&e.ID, &e.IdempotencyKey, &e.Kind, &e.EntityType, &e.EntityID, &e.Counterparty,
		&e.Amount, &e.Status, &e.ExternalRef, &e.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func (c *Conn) InsertEffect(ctx context.Context, e *ExternalEffect) error {
	if e.Status == "" {
		e.Status = EffectPending
	}
	e.UpdatedAt = e.CreatedAt
	id, err := c.insertID(ctx, `INSERT INTO external_effects (idempotency_key, kind, entity_type, entity_id, counterparty, amount, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.IdempotencyKey, e.Kind, e.EntityType, e.EntityID, e.Counterparty, e.Amount, e.Status, c.ts(e.CreatedAt), c.ts(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert effect: %w", err)
	}
	e.ID = id
	return nil
}

func (c *Conn) GetEffect(ctx context.Context, key string) (*ExternalEffect, error) {
	e, err := scanEffect(c.ex.QueryRowContext(ctx, c.Q(effectSelect+` WHERE idempotency_key=?`), key))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (c *Conn) UpdateEffect(ctx context.Context, key, status, externalRef, errMsg string, at time.Time) error {
	res, err := c.ex.ExecContext(ctx, c.Q(`UPDATE external_effects SET status=?, external_ref=?, error=?, updated_at=? WHERE idempotency_key=?`),
		status, externalRef, errMsg, c.ts(at), key)
	if err != nil {
		return fmt.Errorf("update effect %s: %w", key, err)
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

// ListEffects returns effects in the given status, newest first. An empty
// status lists everything.
func (c *Conn) ListEffects(ctx context.Context, status string, limit int) ([]*ExternalEffect, error) {
	q, args := effectSelect+` ORDER BY id DESC LIMIT ?`, []any{limit}
	if status != "" {
		q, args = effectSelect+` WHERE status=? ORDER BY id DESC LIMIT ?`, []any{status, limit}
	}
	rows, err := c.ex.QueryContext(ctx, c.Q(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*ExternalEffect
	for rows.Next() {
		e, err := scanEffect(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FlagStaleEffects moves pending effects last touched before cutoff to
// needs_review and returns how many were flagged.
func (c *Conn) FlagStaleEffects(ctx context.Context, cutoff, at time.Time) (int64, error) {
	res, err := c.ex.ExecContext(ctx, c.Q(`UPDATE external_effects SET status=?, error=?, updated_at=?
		WHERE status=? AND updated_at < ?`),
		EffectNeedsReview, "no outcome recorded", c.ts(at), EffectPending, c.ts(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
