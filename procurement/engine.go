// Package procurement buys raw parts and production machines from partners
// and books their inbound bulk deliveries.
package procurement

import (
	"context"
	"fmt"
	"time"

	"phonesim/effects"
	"phonesim/partners"
	"phonesim/store"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Clock is the part of the simulated clock the engine needs.
type Clock interface {
	Now() time.Time
	DateString() string
}

// Tracker watches bulk pickups until the carrier reports them delivered.
type Tracker interface {
	Track(pickupRequestID string)
}

type Engine struct {
	db        *store.DB
	clock     Clock
	bank      partners.Bank
	suppliers map[string]partners.Supplier
	carrier   partners.BulkCarrier
	vendor    partners.MachineVendor
	effects   *effects.Recorder
	emitter   Emitter
	tracker   Tracker
	opts      Options
	log       logrus.FieldLogger
}

// Partners groups the collaborators the engine trades with. Suppliers is
// keyed by supplier name as recorded on each part.
type Partners struct {
	Bank      partners.Bank
	Suppliers map[string]partners.Supplier
	Carrier   partners.BulkCarrier
	Vendor    partners.MachineVendor
}

func NewEngine(db *store.DB, clock Clock, p Partners, rec *effects.Recorder, emitter Emitter, opts Options, log logrus.FieldLogger) *Engine {
	return &Engine{
		db:        db,
		clock:     clock,
		bank:      p.Bank,
		suppliers: p.Suppliers,
		carrier:   p.Carrier,
		vendor:    p.Vendor,
		effects:   rec,
		emitter:   emitter,
		opts:      opts,
		log:       log,
	}
}

// SetTracker registers the pickup tracker. Pickups booked before a tracker
// is set are only confirmed through carrier callbacks.
func (e *Engine) SetTracker(t Tracker) {
	e.tracker = t
}

// pay transfers amount under a recorded effect. A zero amount needs no
// transfer and returns an empty key.
func (e *Engine) pay(ctx context.Context, kind, entityType string, entityID int64, to string, amount decimal.Decimal, desc string) (string, error) {
	if !amount.IsPositive() {
		return "", nil
	}
	key, _, err := e.effects.Pay(ctx, e.bank, effects.Payment{
		Kind:        kind,
		EntityType:  entityType,
		EntityID:    entityID,
		ToAccount:   to,
		ToBank:      e.opts.BankCode,
		Amount:      amount,
		Description: desc,
	})
	return key, err
}

// flag marks a settled payment for review after the goods it paid for were lost.
func (e *Engine) flag(ctx context.Context, key, reason string) {
	if key == "" {
		return
	}
	if err := e.effects.Flag(context.WithoutCancel(ctx), key, reason); err != nil {
		e.log.Errorf("procurement: flag payment %s: %v", key, err)
	}
}

// bookPickup requests a bulk pickup.
func (e *Engine) bookPickup(ctx context.Context, req partners.PickupRequest) (partners.PickupQuote, error) {
	quote, err := e.carrier.CreatePickupRequest(ctx, req)
	if err != nil {
		return quote, fmt.Errorf("pickup request: %w", err)
	}
	if quote.PickupRequestID == "" {
		return quote, fmt.Errorf("pickup request: carrier returned no id")
	}
	return quote, nil
}

// inFlightSince is the purchase time from which undelivered purchases still
// count as on order.
func (e *Engine) inFlightSince() time.Time {
	if e.opts.InFlightTTL <= 0 {
		return time.Time{}
	}
	return e.clock.Now().Add(-e.opts.InFlightTTL)
}

func (e *Engine) track(id string) {
	if e.tracker != nil {
		e.tracker.Track(id)
	}
}
