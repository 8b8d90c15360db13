package procurement

import (
	"context"
	"errors"
	"fmt"

	"phonesim/effects"
	"phonesim/partners"
	"phonesim/store"
)

// CheckAndOrderLowStock orders threshold - current units of every part below
// the threshold. Each part is attempted independently; failures are logged
// and reported, never returned.
func (e *Engine) CheckAndOrderLowStock(ctx context.Context) (*ReplenishReport, error) {
	report := &ReplenishReport{Date: e.clock.DateString()}
	levels, err := e.db.ListInventory(ctx)
	if err != nil {
		return report, fmt.Errorf("procurement: list inventory: %w", err)
	}
	for _, lvl := range levels {
		if lvl.QuantityAvailable >= e.opts.PartsThreshold {
			continue
		}
		res := e.replenish(ctx, lvl)
		report.Results = append(report.Results, res)
		switch {
		case res.Err != nil:
			e.log.Errorf("procurement: replenish %s: %v", lvl.Name, res.Err)
		case res.Skipped:
			e.log.Debugf("procurement: %s below threshold, delivery already on the way", lvl.Name)
		default:
			e.log.Infof("procurement: ordered %d %s for %s (delivery %s)", res.Ordered, res.Part, res.Cost, res.DeliveryReference)
		}
	}
	return report, nil
}

func (e *Engine) replenish(ctx context.Context, lvl *store.InventoryLevel) *PartResult {
	res := &PartResult{Part: lvl.Name, Current: lvl.QuantityAvailable}

	onOrder, err := e.db.PartsOnOrder(ctx, lvl.PartID, e.inFlightSince())
	if err != nil {
		res.setErr(err)
		return res
	}
	if onOrder > 0 {
		res.Skipped = true
		return res
	}

	supplier, ok := e.suppliers[lvl.Supplier]
	if !ok {
		res.setErr(fmt.Errorf("%w: %s", ErrNoSupplier, lvl.Supplier))
		return res
	}

	qty := e.opts.PartsThreshold - lvl.QuantityAvailable
	quote, err := supplier.CreateOrder(ctx, qty)
	if err != nil {
		res.setErr(fmt.Errorf("supplier order: %w", err))
		return res
	}

	purchase := &store.PartsPurchase{
		ReferenceNumber: quote.OrderID,
		PartID:          lvl.PartID,
		Quantity:        qty,
		Cost:            quote.TotalPrice,
		Status:          store.PurchasePending,
		AccountNumber:   quote.PayToAccount,
		PurchasedAt:     e.clock.Now(),
	}
	if err := e.db.InsertPartsPurchase(ctx, purchase); err != nil {
		res.setErr(err)
		return res
	}
	res.PurchaseID = purchase.ID
	res.Cost = purchase.Cost

	payKey, err := e.pay(ctx, effects.KindSupplierPayment, "parts_purchase", purchase.ID,
		quote.PayToAccount, quote.TotalPrice, fmt.Sprintf("%d %s (order %s)", qty, lvl.Name, quote.OrderID))
	if err != nil {
		e.abandonPartsPurchase(ctx, purchase.ID, "")
		res.setErr(fmt.Errorf("supplier payment: %w", err))
		return res
	}
	if err := e.db.UpdatePartsPurchaseStatus(ctx, purchase.ID, store.PurchasePaid); err != nil {
		e.abandonPartsPurchase(ctx, purchase.ID, payKey)
		res.setErr(err)
		return res
	}

	pickup, err := e.bookPickup(ctx, partners.PickupRequest{
		OriginOrderID:      quote.OrderID,
		OriginCompany:      lvl.Supplier,
		DestinationCompany: e.opts.CompanyName,
		Items:              []partners.PickupItem{{Name: lvl.Name, Quantity: qty}},
	})
	if err != nil {
		e.abandonPartsPurchase(ctx, purchase.ID, payKey)
		res.setErr(err)
		return res
	}

	delivery := &store.BulkDelivery{
		PartsPurchaseID:   purchase.ID,
		DeliveryReference: pickup.PickupRequestID,
		Cost:              pickup.Cost,
		Status:            store.DeliveryPending,
		Address:           e.opts.CompanyName,
		CreatedAt:         e.clock.Now(),
	}
	if err := e.db.InsertBulkDelivery(ctx, delivery); err != nil {
		e.abandonPartsPurchase(ctx, purchase.ID, payKey)
		res.setErr(fmt.Errorf("record delivery %s: %w", pickup.PickupRequestID, err))
		return res
	}
	res.DeliveryReference = delivery.DeliveryReference

	carrierKey, err := e.pay(ctx, effects.KindCarrierPayment, "bulk_delivery", delivery.ID,
		pickup.PayToAccount, pickup.Cost, "pickup "+pickup.PickupRequestID)
	if err != nil {
		e.db.UpdateBulkDeliveryStatus(context.WithoutCancel(ctx), delivery.ID, store.DeliveryFailed)
		e.abandonPartsPurchase(ctx, purchase.ID, payKey)
		res.setErr(fmt.Errorf("carrier payment: %w", err))
		return res
	}

	err = e.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpdateBulkDeliveryStatus(ctx, delivery.ID, store.DeliveryPaid); err != nil {
			return err
		}
		return tx.UpdatePartsPurchaseStatus(ctx, purchase.ID, store.PurchaseShipped)
	})
	if err != nil {
		e.db.UpdateBulkDeliveryStatus(context.WithoutCancel(ctx), delivery.ID, store.DeliveryFailed)
		e.abandonPartsPurchase(ctx, purchase.ID, payKey)
		e.flag(ctx, carrierKey, "bulk delivery abandoned after payment")
		res.setErr(err)
		return res
	}

	res.Ordered = qty
	e.track(delivery.DeliveryReference)
	e.emitter.EmitPartsOrdered(lvl.Name, qty, purchase.Cost, delivery.DeliveryReference)
	return res
}

// abandonPartsPurchase marks a purchase failed so the part can be ordered
// again. A supplier payment that already went out is flagged for review.
func (e *Engine) abandonPartsPurchase(ctx context.Context, id int64, payKey string) {
	if err := e.db.UpdatePartsPurchaseStatus(context.WithoutCancel(ctx), id, store.PurchaseFailed); err != nil {
		e.log.Errorf("procurement: mark parts purchase %d failed: %v", id, err)
	}
	e.flag(ctx, payKey, "parts purchase abandoned after payment")
}

// ConfirmPartsDelivery books a bulk delivery into inventory. A units value
// of zero or less means the full purchased quantity arrived. Confirming an
// already received delivery is a no-op.
func (e *Engine) ConfirmPartsDelivery(ctx context.Context, ref string, units int) error {
	var part string
	var received int
	err := e.db.WithTx(ctx, func(tx *store.Tx) error {
		d, err := tx.GetBulkDeliveryByReference(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrDeliveryNotFound, ref)
		}
		if err != nil {
			return err
		}
		if d.Status == store.DeliveryReceived {
			return nil
		}
		if d.Status != store.DeliveryPaid {
			return fmt.Errorf("%w: %s is %s", ErrDeliveryUnpaid, ref, d.Status)
		}
		purchase, err := tx.GetPartsPurchase(ctx, d.PartsPurchaseID)
		if err != nil {
			return err
		}
		p, err := tx.GetPart(ctx, purchase.PartID)
		if err != nil {
			return err
		}
		if units <= 0 {
			units = purchase.Quantity
		}
		if err := tx.AddInventory(ctx, purchase.PartID, units, e.clock.Now()); err != nil {
			return err
		}
		if err := tx.MarkBulkDeliveryReceived(ctx, d.ID, units); err != nil {
			return err
		}
		if err := tx.UpdatePartsPurchaseStatus(ctx, purchase.ID, store.PurchaseCompleted); err != nil {
			return err
		}
		part, received = p.Name, units
		return nil
	})
	if err != nil {
		return fmt.Errorf("confirm parts delivery %s: %w", ref, err)
	}
	if received > 0 {
		e.log.Infof("procurement: received %d %s (delivery %s)", received, part, ref)
		e.emitter.EmitPartsDelivered(part, received)
	}
	return nil
}
