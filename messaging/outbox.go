package messaging

import (
	"context"
	"sync"
	"time"

	"phonesim/store"

	"github.com/sirupsen/logrus"
)

const (
	drainBatch       = 50
	maxOutboxTries   = 10
	drainCallTimeout = 10 * time.Second
)

// OutboxDrainer periodically sends pending outbox messages.
type OutboxDrainer struct {
	db        *store.DB
	publisher Publisher
	interval  time.Duration
	log       logrus.FieldLogger

	mu       sync.Mutex
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

func NewOutboxDrainer(db *store.DB, publisher Publisher, interval time.Duration, log logrus.FieldLogger) *OutboxDrainer {
	return &OutboxDrainer{
		db:        db,
		publisher: publisher,
		interval:  interval,
		log:       log,
		stopChan:  make(chan struct{}),
	}
}

func (d *OutboxDrainer) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.doneChan != nil {
		return
	}
	d.doneChan = make(chan struct{})
	go d.run(d.doneChan)
}

// Stop ends draining and waits for the current batch to finish.
func (d *OutboxDrainer) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.mu.Lock()
	done := d.doneChan
	d.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (d *OutboxDrainer) run(done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), drainCallTimeout)
			d.Drain(ctx)
			cancel()
		}
	}
}

// Drain sends one batch of pending messages and returns how many were sent.
func (d *OutboxDrainer) Drain(ctx context.Context) int {
	msgs, err := d.db.ListPendingOutbox(ctx, drainBatch, maxOutboxTries)
	if err != nil {
		d.log.Errorf("outbox: list pending: %v", err)
		return 0
	}
	sent := 0
	for _, msg := range msgs {
		if err := d.publisher.Publish(ctx, msg.Topic, msg.Payload); err != nil {
			d.log.Warnf("outbox: publish %s to %s failed: %v", msg.MsgType, msg.Topic, err)
			d.db.IncrementOutboxRetries(ctx, msg.ID)
			continue
		}
		if err := d.db.AckOutbox(ctx, msg.ID); err != nil {
			d.log.Errorf("outbox: ack %d: %v", msg.ID, err)
			continue
		}
		sent++
	}
	return sent
}
