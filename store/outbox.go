package store

import (
	"context"
	"time"
)

type OutboxMessage struct {
	ID        int64
	Topic     string
	Payload   []byte
	MsgType   string
	Retries   int
	CreatedAt time.Time
	SentAt    *time.Time
}

func (c *Conn) EnqueueOutbox(ctx context.Context, topic string, payload []byte, msgType string) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`INSERT INTO outbox (topic, payload, msg_type) VALUES (?, ?, ?)`),
		topic, payload, msgType)
	return err
}

// ListPendingOutbox returns unsent messages that have not exhausted maxRetries.
func (c *Conn) ListPendingOutbox(ctx context.Context, limit, maxRetries int) ([]*OutboxMessage, error) {
	rows, err := c.ex.QueryContext(ctx, c.Q(`SELECT id, topic, payload, msg_type, retries, created_at FROM outbox
		WHERE sent_at IS NULL AND retries < ? ORDER BY id LIMIT ?`), maxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		var createdAt any
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.MsgType, &m.Retries, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func (c *Conn) AckOutbox(ctx context.Context, id int64) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`UPDATE outbox SET sent_at=datetime('now') WHERE id=?`), id)
	return err
}

func (c *Conn) IncrementOutboxRetries(ctx context.Context, id int64) error {
	_, err := c.ex.ExecContext(ctx, c.Q(`UPDATE outbox SET retries=retries+1 WHERE id=?`), id)
	return err
}
