package procurement

import (
	"context"
	"errors"
	"fmt"

	"phonesim/config"
	"phonesim/effects"
	"phonesim/partners"
	"phonesim/store"

	"github.com/shopspring/decimal"
)

// InitializeMachines buys the starter set for every phone model, counting
// machines already active or on order toward it.
func (e *Engine) InitializeMachines(ctx context.Context) (*ExpansionReport, error) {
	report := &ExpansionReport{Date: e.clock.DateString(), Branch: BranchStarter}
	for _, spec := range e.opts.Phones {
		phone, err := e.db.GetPhoneByModel(ctx, spec.Name)
		if err != nil {
			return report, fmt.Errorf("procurement: phone %s: %w", spec.Name, err)
		}
		have, err := e.machineCount(ctx, phone.ID)
		if err != nil {
			return report, err
		}
		need := e.opts.StarterMachines - have
		if need <= 0 {
			continue
		}
		report.Results = append(report.Results, e.buyMachines(ctx, phone, spec, need))
	}
	return report, nil
}

// PerformDailyMachineExpansion grows the machine park according to the
// day's balance. Above the wealth threshold every model gets one more
// machine while the balance left after it stays above the safety buffer.
// Otherwise only models short of the basic count get one, and only if the
// whole batch plus the buffer fits in the balance.
func (e *Engine) PerformDailyMachineExpansion(ctx context.Context, balance decimal.Decimal) (*ExpansionReport, error) {
	report := &ExpansionReport{Date: e.clock.DateString(), Balance: balance}
	if balance.GreaterThan(e.opts.WealthThreshold) {
		report.Branch = BranchWealthy
		return report, e.expandWealthy(ctx, balance, report)
	}
	report.Branch = BranchBasic
	return report, e.expandBasic(ctx, balance, report)
}

func (e *Engine) expandWealthy(ctx context.Context, balance decimal.Decimal, report *ExpansionReport) error {
	remaining := balance
	for _, spec := range e.opts.Phones {
		phone, err := e.db.GetPhoneByModel(ctx, spec.Name)
		if err != nil {
			return fmt.Errorf("procurement: phone %s: %w", spec.Name, err)
		}
		unit, err := e.estimateUnitCost(ctx, phone.ID, spec)
		if err != nil {
			return err
		}
		if !remaining.Sub(unit).GreaterThan(e.opts.SafetyBuffer) {
			e.log.Debugf("procurement: %s machine at %s would breach the safety buffer", spec.Name, unit)
			continue
		}
		res := e.buyMachines(ctx, phone, spec, 1)
		report.Results = append(report.Results, res)
		if res.Err == nil {
			remaining = remaining.Sub(res.Cost)
		}
	}
	return nil
}

func (e *Engine) expandBasic(ctx context.Context, balance decimal.Decimal, report *ExpansionReport) error {
	type need struct {
		phone *store.Phone
		spec  config.PhoneSpec
	}
	var needs []need
	total := decimal.Zero
	for _, spec := range e.opts.Phones {
		phone, err := e.db.GetPhoneByModel(ctx, spec.Name)
		if err != nil {
			return fmt.Errorf("procurement: phone %s: %w", spec.Name, err)
		}
		have, err := e.machineCount(ctx, phone.ID)
		if err != nil {
			return err
		}
		if have >= e.opts.BasicMachines {
			continue
		}
		unit, err := e.estimateUnitCost(ctx, phone.ID, spec)
		if err != nil {
			return err
		}
		needs = append(needs, need{phone, spec})
		total = total.Add(unit)
	}
	if len(needs) == 0 {
		return nil
	}
	if total.Add(e.opts.SafetyBuffer).GreaterThan(balance) {
		e.log.Infof("procurement: basic expansion of %d machines (%s) unaffordable at balance %s", len(needs), total, balance)
		return nil
	}
	for _, n := range needs {
		report.Results = append(report.Results, e.buyMachines(ctx, n.phone, n.spec, 1))
	}
	return nil
}

// machineCount is active machines plus machines bought but not yet delivered.
func (e *Engine) machineCount(ctx context.Context, phoneID int64) (int, error) {
	active, err := e.db.CountActiveMachines(ctx, phoneID)
	if err != nil {
		return 0, fmt.Errorf("procurement: count machines: %w", err)
	}
	onOrder, err := e.db.MachinesOnOrder(ctx, phoneID, e.inFlightSince())
	if err != nil {
		return 0, fmt.Errorf("procurement: machines on order: %w", err)
	}
	return active + onOrder, nil
}

// estimateUnitCost uses the last purchase price for the model, falling back
// to the catalog estimate.
func (e *Engine) estimateUnitCost(ctx context.Context, phoneID int64, spec config.PhoneSpec) (decimal.Decimal, error) {
	last, err := e.db.LatestMachinePurchase(ctx, phoneID)
	switch {
	case err == nil && last.UnitCost().IsPositive():
		return last.UnitCost(), nil
	case err == nil || errors.Is(err, store.ErrNotFound):
		return decimal.NewFromFloat(spec.MachineCostEstimate), nil
	default:
		return decimal.Zero, fmt.Errorf("procurement: last machine purchase: %w", err)
	}
}

// buyMachines purchases qty machines from the vendor, pays for them and
// books their delivery. Failures are logged and recorded on the result.
func (e *Engine) buyMachines(ctx context.Context, phone *store.Phone, spec config.PhoneSpec, qty int) *MachineResult {
	res := &MachineResult{Model: phone.Model, Quantity: qty}
	if err := e.purchaseMachines(ctx, phone, spec, qty, res); err != nil {
		res.setErr(err)
		e.log.Errorf("procurement: buy %d %s: %v", qty, spec.MachineName, err)
		return res
	}
	e.log.Infof("procurement: bought %d %s for %s (delivery %s)", res.Quantity, spec.MachineName, res.Cost, res.DeliveryReference)
	e.emitter.EmitMachinesPurchased(phone.Model, res.Quantity, res.Cost, res.DeliveryReference)
	return res
}

func (e *Engine) purchaseMachines(ctx context.Context, phone *store.Phone, spec config.PhoneSpec, qty int, res *MachineResult) error {
	quote, err := e.vendor.PurchaseMachine(ctx, spec.MachineName, qty)
	if err != nil {
		return fmt.Errorf("vendor purchase: %w", err)
	}
	if quote.Quantity > 0 {
		res.Quantity = quote.Quantity
	}

	purchase := &store.MachinePurchase{
		PhoneID:           phone.ID,
		MachinesPurchased: res.Quantity,
		TotalCost:         quote.TotalPrice,
		WeightPerMachine:  quote.UnitWeight,
		RatePerDay:        quote.ProductionRate,
		Ratio:             quote.BillOfMaterials,
		ReferenceNumber:   quote.OrderID,
		AccountNumber:     quote.PayToAccount,
		Status:            store.PurchasePending,
		PurchasedAt:       e.clock.Now(),
	}
	if err := e.db.InsertMachinePurchase(ctx, purchase); err != nil {
		return err
	}
	res.PurchaseID = purchase.ID
	res.Cost = purchase.TotalCost

	payKey, err := e.pay(ctx, effects.KindMachinePayment, "machine_purchase", purchase.ID,
		quote.PayToAccount, quote.TotalPrice, fmt.Sprintf("%d %s (order %s)", res.Quantity, spec.MachineName, quote.OrderID))
	if err != nil {
		e.abandonMachinePurchase(ctx, purchase.ID, "")
		return fmt.Errorf("vendor payment: %w", err)
	}
	if status, err := e.vendor.ConfirmPayment(ctx, quote.OrderID); err != nil {
		// The transfer is what counts; the vendor learns of it either way.
		e.log.Warnf("procurement: confirm payment for %s: %v", quote.OrderID, err)
	} else {
		e.log.Debugf("procurement: vendor order %s %s", quote.OrderID, status)
	}
	if err := e.db.UpdateMachinePurchaseStatus(ctx, purchase.ID, store.PurchasePaid); err != nil {
		e.abandonMachinePurchase(ctx, purchase.ID, payKey)
		return err
	}

	pickup, err := e.bookPickup(ctx, partners.PickupRequest{
		OriginOrderID:      quote.OrderID,
		OriginCompany:      machineVendorCompany,
		DestinationCompany: e.opts.CompanyName,
		Items:              []partners.PickupItem{{Name: spec.MachineName, Quantity: res.Quantity}},
	})
	if err != nil {
		e.abandonMachinePurchase(ctx, purchase.ID, payKey)
		return err
	}

	delivery := &store.MachineDelivery{
		MachinePurchasesID: purchase.ID,
		DeliveryReference:  pickup.PickupRequestID,
		Cost:               pickup.Cost,
		AccountNumber:      pickup.PayToAccount,
		Status:             store.DeliveryPending,
		CreatedAt:          e.clock.Now(),
	}
	if err := e.db.InsertMachineDelivery(ctx, delivery); err != nil {
		e.abandonMachinePurchase(ctx, purchase.ID, payKey)
		return fmt.Errorf("record delivery %s: %w", pickup.PickupRequestID, err)
	}
	res.DeliveryReference = delivery.DeliveryReference

	carrierKey, err := e.pay(ctx, effects.KindCarrierPayment, "machine_delivery", delivery.ID,
		pickup.PayToAccount, pickup.Cost, "pickup "+pickup.PickupRequestID)
	if err != nil {
		e.db.UpdateMachineDeliveryStatus(context.WithoutCancel(ctx), delivery.ID, store.DeliveryFailed)
		e.abandonMachinePurchase(ctx, purchase.ID, payKey)
		return fmt.Errorf("carrier payment: %w", err)
	}

	err = e.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.UpdateMachineDeliveryStatus(ctx, delivery.ID, store.DeliveryPaid); err != nil {
			return err
		}
		return tx.UpdateMachinePurchaseStatus(ctx, purchase.ID, store.PurchaseShipped)
	})
	if err != nil {
		e.db.UpdateMachineDeliveryStatus(context.WithoutCancel(ctx), delivery.ID, store.DeliveryFailed)
		e.abandonMachinePurchase(ctx, purchase.ID, payKey)
		e.flag(ctx, carrierKey, "machine delivery abandoned after payment")
		return err
	}
	e.track(delivery.DeliveryReference)
	return nil
}

func (e *Engine) abandonMachinePurchase(ctx context.Context, id int64, payKey string) {
	if err := e.db.UpdateMachinePurchaseStatus(context.WithoutCancel(ctx), id, store.PurchaseFailed); err != nil {
		e.log.Errorf("procurement: mark machine purchase %d failed: %v", id, err)
	}
	e.flag(ctx, payKey, "machine purchase abandoned after payment")
}

// ConfirmMachineDelivery installs the machines of a paid delivery: one
// machine row per unit with the purchase cost split evenly, each carrying
// the purchase's bill of materials. Confirming twice is a no-op.
func (e *Engine) ConfirmMachineDelivery(ctx context.Context, ref string) error {
	var model string
	var installed int
	err := e.db.WithTx(ctx, func(tx *store.Tx) error {
		d, err := tx.GetMachineDeliveryByReference(ctx, ref)
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
		purchase, err := tx.GetMachinePurchase(ctx, d.MachinePurchasesID)
		if err != nil {
			return err
		}
		phone, err := tx.GetPhone(ctx, purchase.PhoneID)
		if err != nil {
			return err
		}

		var ratios []store.MachineRatio
		for name, q := range purchase.Ratio {
			part, err := tx.GetPartByName(ctx, name)
			if err != nil {
				return fmt.Errorf("bill of materials part %q: %w", name, err)
			}
			ratios = append(ratios, store.MachineRatio{PartID: part.ID, Quantity: q})
		}

		unit := purchase.UnitCost()
		now := e.clock.Now()
		for i := 0; i < purchase.MachinesPurchased; i++ {
			m := &store.Machine{
				PhoneID:      purchase.PhoneID,
				PurchaseID:   &purchase.ID,
				RatePerDay:   purchase.RatePerDay,
				Cost:         unit,
				DateAcquired: now,
				Ratios:       append([]store.MachineRatio(nil), ratios...),
			}
			if err := tx.InsertMachine(ctx, m); err != nil {
				return err
			}
		}
		if err := tx.MarkMachineDeliveryReceived(ctx, d.ID, purchase.MachinesPurchased); err != nil {
			return err
		}
		if err := tx.UpdateMachinePurchaseStatus(ctx, purchase.ID, store.PurchaseCompleted); err != nil {
			return err
		}
		model, installed = phone.Model, purchase.MachinesPurchased
		return nil
	})
	if err != nil {
		return fmt.Errorf("confirm machine delivery %s: %w", ref, err)
	}
	if installed > 0 {
		e.log.Infof("procurement: installed %d %s machines (delivery %s)", installed, model, ref)
		e.emitter.EmitMachinesDelivered(model, installed)
	}
	return nil
}

// PickupDelivered confirms whichever parts or machine delivery the pickup
// belongs to. It lets the engine serve as the pickup tracker's listener.
func (e *Engine) PickupDelivered(ctx context.Context, pickupRequestID string) error {
	_, err := e.db.GetBulkDeliveryByReference(ctx, pickupRequestID)
	switch {
	case err == nil:
		return e.ConfirmPartsDelivery(ctx, pickupRequestID, 0)
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return e.ConfirmMachineDelivery(ctx, pickupRequestID)
}

// PickupFailed marks an undelivered pickup the carrier reports as failed or
// cancelled, together with the purchase behind it, as failed. The goods stop
// counting as on order and are bought again on a later day.
func (e *Engine) PickupFailed(ctx context.Context, pickupRequestID, status string) error {
	var entity string
	err := e.db.WithTx(ctx, func(tx *store.Tx) error {
		bd, err := tx.GetBulkDeliveryByReference(ctx, pickupRequestID)
		switch {
		case err == nil:
			if bd.Status == store.DeliveryReceived || bd.Status == store.DeliveryFailed {
				return nil
			}
			if err := tx.UpdateBulkDeliveryStatus(ctx, bd.ID, store.DeliveryFailed); err != nil {
				return err
			}
			entity = fmt.Sprintf("parts purchase %d", bd.PartsPurchaseID)
			return tx.UpdatePartsPurchaseStatus(ctx, bd.PartsPurchaseID, store.PurchaseFailed)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		md, err := tx.GetMachineDeliveryByReference(ctx, pickupRequestID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrDeliveryNotFound, pickupRequestID)
		}
		if err != nil {
			return err
		}
		if md.Status == store.DeliveryReceived || md.Status == store.DeliveryFailed {
			return nil
		}
		if err := tx.UpdateMachineDeliveryStatus(ctx, md.ID, store.DeliveryFailed); err != nil {
			return err
		}
		entity = fmt.Sprintf("machine purchase %d", md.MachinePurchasesID)
		return tx.UpdateMachinePurchaseStatus(ctx, md.MachinePurchasesID, store.PurchaseFailed)
	})
	if err != nil {
		return fmt.Errorf("fail pickup %s: %w", pickupRequestID, err)
	}
	if entity != "" {
		e.log.Warnf("procurement: pickup %s %s, %s marked failed", pickupRequestID, status, entity)
	}
	return nil
}

var _ partners.PickupListener = (*Engine)(nil)
