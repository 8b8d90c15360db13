package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
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
}

type Engine struct {
	db      *store.DB
	clock   Clock
	bank    partners.Bank
	carrier partners.ConsumerCarrier
	effects *effects.Recorder
	emitter Emitter
	opts    Options
	log     logrus.FieldLogger
}

func NewEngine(db *store.DB, clock Clock, bank partners.Bank, carrier partners.ConsumerCarrier,
	rec *effects.Recorder, emitter Emitter, opts Options, log logrus.FieldLogger) *Engine {
	return &Engine{
		db:      db,
		clock:   clock,
		bank:    bank,
		carrier: carrier,
		effects: rec,
		emitter: emitter,
		opts:    opts,
		log:     log,
	}
}

// CreateOrder validates the request, reserves stock for every item and
// records a pending order. With inline payment it then pays the customer
// account and arranges delivery; any failure after the reservation releases
// it again.
func (e *Engine) CreateOrder(ctx context.Context, account string, items []ItemRequest) (*store.Order, error) {
	order, err := e.buildOrder(ctx, account, items)
	if err != nil {
		return nil, err
	}

	err = e.db.WithTx(ctx, func(tx *store.Tx) error {
		for _, it := range order.Items {
			ok, err := tx.CheckAvailability(ctx, it.PhoneID, it.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: phone %d", store.ErrInsufficientStock, it.PhoneID)
			}
			if err := tx.ReserveStock(ctx, it.PhoneID, it.Quantity); err != nil {
				return err
			}
		}
		return tx.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	e.log.Infof("orders: order %d reserved %d units for %s (total %s)", order.ID, units(order), account, order.Price)
	e.emitter.EmitOrderCreated(order.ID, account, order.Price, units(order))

	if !e.opts.InlinePayment {
		return order, nil
	}

	key, _, err := e.effects.Pay(ctx, e.bank, effects.Payment{
		Kind:        effects.KindRetailPayment,
		EntityType:  "order",
		EntityID:    order.ID,
		ToAccount:   account,
		ToBank:      e.opts.BankCode,
		Amount:      order.Price,
		Description: fmt.Sprintf("order %d", order.ID),
	})
	if err != nil {
		e.discardOrder(ctx, order)
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	if err := e.arrangeDelivery(ctx, order); err != nil {
		e.cancelAfterPayment(ctx, order, key, err)
		return nil, err
	}
	return e.db.GetOrder(ctx, order.ID)
}

func (e *Engine) buildOrder(ctx context.Context, account string, items []ItemRequest) (*store.Order, error) {
	if strings.TrimSpace(account) == "" {
		return nil, fmt.Errorf("%w: account number required", ErrInvalidOrder)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidOrder)
	}
	order := &store.Order{
		Price:         decimal.Zero,
		Status:        store.OrderPending,
		AccountNumber: account,
		CreatedAt:     e.clock.Now(),
	}
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %q must be positive", ErrInvalidOrder, it.Model)
		}
		p, err := e.db.GetPhoneByModel(ctx, it.Model)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidOrder, it.Model)
		}
		if err != nil {
			return nil, err
		}
		order.Items = append(order.Items, &store.OrderItem{
			PhoneID:   p.ID,
			Model:     p.Model,
			Quantity:  it.Quantity,
			UnitPrice: p.Price,
		})
		order.Price = order.Price.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return order, nil
}

// discardOrder undoes a reservation whose payment never went through. The
// order row is removed as if it had never been created.
func (e *Engine) discardOrder(ctx context.Context, order *store.Order) {
	ctx = context.WithoutCancel(ctx)
	err := e.db.WithTx(ctx, func(tx *store.Tx) error {
		for _, it := range order.Items {
			if err := tx.ReleaseReservedStock(ctx, it.PhoneID, it.Quantity); err != nil {
				return err
			}
		}
		return tx.DeleteOrder(ctx, order.ID)
	})
	if err != nil {
		// Left pending; expiry cleanup releases it later.
		e.log.Errorf("orders: roll back unpaid order %d: %v", order.ID, err)
		return
	}
	e.emitter.EmitOrderStatusChanged(order.ID, store.OrderPending, store.OrderCancelled, "payment failed")
}

// cancelAfterPayment unwinds an order whose payment already left the
// company. The payment cannot be undone, so its effect is flagged for review.
func (e *Engine) cancelAfterPayment(ctx context.Context, order *store.Order, paymentKey string, cause error) {
	ctx = context.WithoutCancel(ctx)
	if _, err := e.cancel(ctx, order.ID, "delivery failed: "+cause.Error()); err != nil {
		e.log.Errorf("orders: cancel order %d after failed delivery: %v", order.ID, err)
	}
	if err := e.effects.Flag(ctx, paymentKey, "order cancelled after payment"); err != nil {
		e.log.Errorf("orders: flag payment %s: %v", paymentKey, err)
	}
}

// arrangeDelivery books the consumer carrier, pays it and moves the order
// to processing.
func (e *Engine) arrangeDelivery(ctx context.Context, order *store.Order) error {
	quote, err := e.carrier.CreatePickup(ctx, partners.ConsumerPickupRequest{
		Quantity: units(order),
		From:     e.opts.CompanyName,
		To:       order.AccountNumber,
	})
	if err != nil {
		return fmt.Errorf("%w: pickup: %v", ErrDeliveryFailed, err)
	}

	d := &store.ConsumerDelivery{
		OrderID:           order.ID,
		DeliveryReference: quote.PickupRequestID,
		Cost:              quote.Cost,
		Status:            store.DeliveryPending,
		AccountNumber:     quote.PayToAccount,
		CreatedAt:         e.clock.Now(),
	}
	if err := e.db.InsertConsumerDelivery(ctx, d); err != nil {
		return fmt.Errorf("%w: record delivery: %v", ErrDeliveryFailed, err)
	}

	_, _, err = e.effects.Pay(ctx, e.bank, effects.Payment{
		Kind:        effects.KindCarrierPayment,
		EntityType:  "consumer_delivery",
		EntityID:    d.ID,
		ToAccount:   quote.PayToAccount,
		ToBank:      e.opts.BankCode,
		Amount:      quote.Cost,
		Description: "delivery " + quote.PickupRequestID,
	})
	if err != nil {
		e.db.UpdateConsumerDeliveryStatus(context.WithoutCancel(ctx), d.ID, store.DeliveryFailed)
		return fmt.Errorf("%w: carrier payment: %v", ErrDeliveryFailed, err)
	}

	var moved bool
	err = e.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpdateConsumerDeliveryStatus(ctx, d.ID, store.DeliveryPaid); err != nil {
			return err
		}
		var err error
		moved, err = tx.TransitionOrder(ctx, order.ID, store.OrderPending, store.OrderProcessing, "paid, delivery "+d.DeliveryReference, e.clock.Now())
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	if !moved {
		return fmt.Errorf("%w: order %d is no longer pending", ErrDeliveryFailed, order.ID)
	}
	e.log.Infof("orders: order %d processing, delivery %s", order.ID, d.DeliveryReference)
	e.emitter.EmitOrderStatusChanged(order.ID, store.OrderPending, store.OrderProcessing, d.DeliveryReference)
	return nil
}

// ProcessPayment handles a customer payment notification for a pending order.
func (e *Engine) ProcessPayment(ctx context.Context, n PaymentNotification) (*store.Order, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(n.Reference), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad reference %q", ErrInvalidPayment, n.Reference)
	}
	order, err := e.db.GetOrder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %d not found", ErrInvalidPayment, id)
	}
	if err != nil {
		return nil, err
	}
	if order.Status != store.OrderPending {
		return nil, fmt.Errorf("%w: order %d is %s", ErrInvalidPayment, id, order.Status)
	}
	if n.Amount.Sub(order.Price).Abs().GreaterThan(e.opts.PaymentEpsilon) {
		return nil, fmt.Errorf("%w: amount %s does not match total %s", ErrInvalidPayment, n.Amount, order.Price)
	}
	if err := e.arrangeDelivery(ctx, order); err != nil {
		return nil, err
	}
	return e.db.GetOrder(ctx, id)
}

// CancelOrder cancels a pending order and releases its reservation. It
// returns false when the order is not pending.
func (e *Engine) CancelOrder(ctx context.Context, id int64) (bool, error) {
	return e.cancel(ctx, id, "cancelled")
}

func (e *Engine) cancel(ctx context.Context, id int64, reason string) (bool, error) {
	var cancelled bool
	err := e.db.WithTx(ctx, func(tx *store.Tx) error {
		order, err := tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		cancelled, err = tx.TransitionOrder(ctx, id, store.OrderPending, store.OrderCancelled, reason, e.clock.Now())
		if err != nil || !cancelled {
			return err
		}
		for _, it := range order.Items {
			if err := tx.ReleaseReservedStock(ctx, it.PhoneID, it.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cancel order %d: %w", id, err)
	}
	if cancelled {
		e.log.Infof("orders: order %d cancelled (%s)", id, reason)
		e.emitter.EmitOrderStatusChanged(id, store.OrderPending, store.OrderCancelled, reason)
	}
	return cancelled, nil
}

// CleanupExpiredReservations cancels every pending order created more than
// the reservation TTL before now. Individual failures are logged and skipped.
func (e *Engine) CleanupExpiredReservations(ctx context.Context, now time.Time) (int, error) {
	expired, err := e.db.ListPendingOrdersBefore(ctx, now.Add(-e.opts.ReservationTTL))
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}
	n := 0
	for _, o := range expired {
		ok, err := e.cancel(ctx, o.ID, "reservation expired")
		if err != nil {
			e.log.Errorf("orders: expire order %d: %v", o.ID, err)
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		e.log.Infof("orders: expired %d reservations", n)
	}
	return n, nil
}

// ConfirmGoodsCollection records that the carrier collected a delivery and
// removes the collected units from reserved stock.
func (e *Engine) ConfirmGoodsCollection(ctx context.Context, ref string) error {
	var orderID int64
	var collected, delivered bool
	err := e.db.WithTx(ctx, func(tx *store.Tx) error {
		d, err := tx.GetConsumerDeliveryByReference(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrDeliveryNotFound, ref)
		}
		if err != nil {
			return err
		}
		orderID = d.OrderID
		if d.Status == store.DeliveryCollected {
			return nil
		}
		if d.Status != store.DeliveryPaid {
			return fmt.Errorf("%w: %s is %s", ErrDeliveryNotCollectable, ref, d.Status)
		}
		o, err := tx.GetOrder(ctx, d.OrderID)
		if err != nil {
			return err
		}
		// only a processing order still holds the reservation
		if o.Status != store.OrderProcessing {
			return fmt.Errorf("%w: order %d is %s", ErrDeliveryNotCollectable, o.ID, o.Status)
		}
		items, err := tx.ListOrderItems(ctx, d.OrderID)
		if err != nil {
			return err
		}
		total := 0
		for _, it := range items {
			total += it.Quantity
		}
		if err := tx.MarkConsumerDeliveryCollected(ctx, d.ID, total); err != nil {
			return err
		}
		for _, it := range items {
			if err := tx.ConfirmCollection(ctx, it.PhoneID, it.Quantity); err != nil {
				return err
			}
		}
		collected = true
		delivered, err = tx.TransitionOrder(ctx, d.OrderID, store.OrderProcessing, store.OrderDelivered, "collected "+ref, e.clock.Now())
		return err
	})
	if err != nil {
		return err
	}
	if collected {
		e.log.Infof("orders: delivery %s collected for order %d", ref, orderID)
	}
	if delivered {
		e.emitter.EmitOrderStatusChanged(orderID, store.OrderProcessing, store.OrderDelivered, ref)
	}
	return nil
}

func (e *Engine) GetOrder(ctx context.Context, id int64) (*store.Order, error) {
	return e.db.GetOrder(ctx, id)
}

func (e *Engine) ListOrders(ctx context.Context, status string, limit int) ([]*store.Order, error) {
	return e.db.ListOrders(ctx, status, limit)
}

func units(o *store.Order) int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}
