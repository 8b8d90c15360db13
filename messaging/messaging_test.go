package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"phonesim/config"
	"phonesim/logging"
	"phonesim/store/storetest"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	type tick struct {
		Day int `json:"day"`
	}
	env := NewEnvelope("tick.completed", "phonesim", "2050-01-02", tick{Day: 1})
	if env.MsgID == "" {
		t.Fatal("msg_id should be set")
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	raw, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw.MsgType != "tick.completed" {
		t.Errorf("msg_type = %q", raw.MsgType)
	}
	if raw.MsgID != env.MsgID {
		t.Errorf("msg_id = %q, want %q", raw.MsgID, env.MsgID)
	}
	if raw.SimDate != "2050-01-02" {
		t.Errorf("sim_date = %q", raw.SimDate)
	}
	var got tick
	if err := raw.DecodePayload(&got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Day != 1 {
		t.Errorf("day = %d, want 1", got.Day)
	}
}

func TestDecodeEnvelope_Invalid(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := DecodeEnvelope([]byte(`{"msg_id":"x"}`)); err == nil {
		t.Error("expected error for missing msg_type")
	}
}

func TestNewPublisher_None(t *testing.T) {
	p, err := NewPublisher(&config.MessagingConfig{Transport: "none"}, logging.Discard())
	if err != nil || p != nil {
		t.Fatalf("none transport = %v, %v; want nil, nil", p, err)
	}
	if _, err := NewPublisher(&config.MessagingConfig{Transport: "carrier-pigeon"}, logging.Discard()); err == nil {
		t.Error("expected error for unknown transport")
	}
}

func TestNewPublisher_KafkaWithoutBrokers(t *testing.T) {
	_, err := NewPublisher(&config.MessagingConfig{Transport: "kafka"}, logging.Discard())
	if err == nil {
		t.Error("expected error when no brokers are configured")
	}
}

type fakePublisher struct {
	mu    sync.Mutex
	fail  map[string]bool
	sent  []string
	delay time.Duration
	calls int
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[string(payload)] {
		return errors.New("broker down")
	}
	f.sent = append(f.sent, topic+":"+string(payload))
	return nil
}

func (f *fakePublisher) IsConnected() bool { return true }
func (f *fakePublisher) Close() error      { return nil }

func TestOutboxDrain(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	for _, p := range []string{"a", "b", "c"} {
		if err := db.EnqueueOutbox(ctx, "events", []byte(p), "test"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	pub := &fakePublisher{fail: map[string]bool{"b": true}}
	d := NewOutboxDrainer(db, pub, 0, logging.Discard())

	if n := d.Drain(ctx); n != 2 {
		t.Errorf("sent = %d, want 2", n)
	}
	if len(pub.sent) != 2 || pub.sent[0] != "events:a" || pub.sent[1] != "events:c" {
		t.Errorf("sent = %v", pub.sent)
	}

	pending, err := db.ListPendingOutbox(ctx, 10, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].Retries != 1 {
		t.Fatalf("pending = %+v, want b with one retry", pending)
	}

	pub.fail = nil
	if n := d.Drain(ctx); n != 1 {
		t.Errorf("second drain sent = %d, want 1", n)
	}
	if n := d.Drain(ctx); n != 0 {
		t.Errorf("empty drain sent = %d", n)
	}
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestOutboxDrainerStopWaitsForDrain(t *testing.T) {
	ctx := context.Background()
	db := storetest.New(t)
	for _, p := range []string{"a", "b"} {
		if err := db.EnqueueOutbox(ctx, "events", []byte(p), "test"); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	pub := &fakePublisher{fail: map[string]bool{"a": true, "b": true}, delay: 20 * time.Millisecond}
	d := NewOutboxDrainer(db, pub, 5*time.Millisecond, logging.Discard())
	d.Start()

	deadline := time.Now().Add(2 * time.Second)
	for pub.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Stop()
	stopped := pub.callCount()
	if stopped == 0 {
		t.Fatal("drainer never published")
	}

	time.Sleep(60 * time.Millisecond)
	if n := pub.callCount(); n != stopped {
		t.Errorf("drainer kept publishing after Stop: %d calls, %d at Stop", n, stopped)
	}
	d.Stop()
}

func TestOutboxDrainerStopWithoutStart(t *testing.T) {
	d := NewOutboxDrainer(storetest.New(t), &fakePublisher{}, time.Hour, logging.Discard())
	d.Stop()
}
