package partners

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PickupListener is told when a tracked bulk pickup has been delivered or
// the carrier has given up on it.
type PickupListener interface {
	PickupDelivered(ctx context.Context, pickupRequestID string) error
	PickupFailed(ctx context.Context, pickupRequestID, status string) error
}

// PickupTracker periodically polls the bulk carrier for every pickup it
// tracks and reports deliveries and failures to the listener.
type PickupTracker struct {
	carrier  BulkCarrier
	listener PickupListener
	interval time.Duration
	timeout  time.Duration
	log      logrus.FieldLogger

	mu       sync.Mutex
	active   map[string]string // pickup request id -> last seen status
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

func NewPickupTracker(carrier BulkCarrier, listener PickupListener, interval, timeout time.Duration, log logrus.FieldLogger) *PickupTracker {
	return &PickupTracker{
		carrier:  carrier,
		listener: listener,
		interval: interval,
		timeout:  timeout,
		log:      log,
		active:   make(map[string]string),
		stopChan: make(chan struct{}),
	}
}

// Track adds a pickup request to the poll set.
func (t *PickupTracker) Track(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.active[id]; !exists {
		t.active[id] = ""
	}
}

func (t *PickupTracker) Untrack(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
}

// ActiveCount returns the number of pickups being polled.
func (t *PickupTracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

func (t *PickupTracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.doneChan != nil {
		return
	}
	t.doneChan = make(chan struct{})
	go t.run(t.doneChan)
}

// Stop ends polling and waits for an in-flight poll to finish. It is safe to
// call more than once, and without Start.
func (t *PickupTracker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
	t.mu.Lock()
	done := t.doneChan
	t.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (t *PickupTracker) run(done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), t.interval)
			t.Poll(ctx)
			cancel()
		}
	}
}

// Poll checks every tracked pickup once.
func (t *PickupTracker) Poll(ctx context.Context) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.active))
	for id := range t.active {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		callCtx, cancel := context.WithTimeout(ctx, t.timeout)
		st, err := t.carrier.GetPickupRequest(callCtx, id)
		cancel()
		if err != nil {
			t.log.Warnf("tracker: get pickup %s: %v", id, err)
			continue
		}

		t.mu.Lock()
		last, exists := t.active[id]
		if exists {
			t.active[id] = st.Status
		}
		t.mu.Unlock()
		if !exists {
			continue
		}
		if st.Status != last {
			t.log.Debugf("tracker: pickup %s %q -> %q", id, last, st.Status)
		}
		switch {
		case st.Delivered:
			if err := t.listener.PickupDelivered(ctx, id); err != nil {
				t.log.Errorf("tracker: confirm delivery %s: %v", id, err)
				continue
			}
		case st.Failed:
			if err := t.listener.PickupFailed(ctx, id, st.Status); err != nil {
				t.log.Errorf("tracker: record failed pickup %s: %v", id, err)
				continue
			}
		default:
			continue
		}
		t.Untrack(id)
	}
}
