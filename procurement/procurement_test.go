package procurement

import (
	"context"
	"strings"
	"testing"
	"time"

	"phonesim/config"
	"phonesim/effects"
	"phonesim/logging"
	"phonesim/partners"
	"phonesim/partners/partnerstest"
	"phonesim/store"
	"phonesim/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

var day = time.Date(2050, 1, 3, 0, 0, 0, 0, time.UTC)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time     { return c.t }
func (c fixedClock) DateString() string { return c.t.Format("2006-01-02") }

type recordingEmitter struct {
	partsOrdered      map[string]int
	partsDelivered    map[string]int
	machinesPurchased map[string]int
	machinesDelivered map[string]int
}

func newEmitter() *recordingEmitter {
	return &recordingEmitter{
		partsOrdered:      map[string]int{},
		partsDelivered:    map[string]int{},
		machinesPurchased: map[string]int{},
		machinesDelivered: map[string]int{},
	}
}

func (r *recordingEmitter) EmitPartsOrdered(part string, qty int, _ decimal.Decimal, _ string) {
	r.partsOrdered[part] += qty
}
func (r *recordingEmitter) EmitPartsDelivered(part string, units int) { r.partsDelivered[part] += units }
func (r *recordingEmitter) EmitMachinesPurchased(model string, qty int, _ decimal.Decimal, _ string) {
	r.machinesPurchased[model] += qty
}
func (r *recordingEmitter) EmitMachinesDelivered(model string, units int) {
	r.machinesDelivered[model] += units
}

type harness struct {
	engine    *Engine
	db        *store.DB
	bank      *partnerstest.Bank
	suppliers map[string]*partnerstest.Supplier
	carrier   *partnerstest.BulkCarrier
	vendor    *partnerstest.MachineVendor
	emitter   *recordingEmitter
	opts      Options
}

func newHarness(t *testing.T, tweak ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		db:        storetest.New(t),
		bank:      &partnerstest.Bank{AccountNumber: "ACC-COMPANY", Balance: decimal.NewFromInt(10_000_000)},
		suppliers: map[string]*partnerstest.Supplier{},
		carrier:   &partnerstest.BulkCarrier{},
		vendor:    &partnerstest.MachineVendor{Specs: partnerstest.DefaultMachines()},
		emitter:   newEmitter(),
		opts:      OptionsFromConfig(config.Defaults()),
	}
	for _, fn := range tweak {
		fn(&h.opts)
	}
	clients := map[string]partners.Supplier{}
	for _, name := range []string{"screens", "cases", "electronics"} {
		s := &partnerstest.Supplier{Account: "SUP-" + strings.ToUpper(name), UnitPrice: decimal.NewFromInt(2)}
		h.suppliers[name] = s
		clients[name] = s
	}
	log := logging.Discard()
	h.engine = NewEngine(h.db, fixedClock{day}, Partners{
		Bank:      h.bank,
		Suppliers: clients,
		Carrier:   h.carrier,
		Vendor:    h.vendor,
	}, effects.NewRecorder(h.db, log), h.emitter, h.opts, log)
	return h
}

func (h *harness) setInventory(t *testing.T, levels map[string]int) {
	t.Helper()
	for name, qty := range levels {
		require.NoError(t, h.db.AddInventory(ctx, storetest.Part(t, h.db, name).ID, qty, day))
	}
}

func (h *harness) inventory(t *testing.T, name string) int {
	t.Helper()
	q, err := h.db.GetInventory(ctx, storetest.Part(t, h.db, name).ID)
	require.NoError(t, err)
	return q
}

func TestCheckAndOrderLowStockOrdersShortfall(t *testing.T) {
	h := newHarness(t)
	h.setInventory(t, map[string]int{"screens": 200, "cases": 600, "electronics": 500})

	report, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ordered())
	assert.Equal(t, 0, report.Failed())

	assert.Equal(t, []int{300}, h.suppliers["screens"].Orders)
	assert.Empty(t, h.suppliers["cases"].Orders)
	assert.Empty(t, h.suppliers["electronics"].Orders, "exactly at threshold is not low")

	purchases, err := h.db.ListPartsPurchases(ctx, 10)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, 300, purchases[0].Quantity)
	assert.Equal(t, store.PurchaseShipped, purchases[0].Status)

	d, err := h.db.GetBulkDeliveryByReference(ctx, "PU-1")
	require.NoError(t, err)
	assert.Equal(t, purchases[0].ID, d.PartsPurchaseID)
	assert.Equal(t, store.DeliveryPaid, d.Status)

	// free pickup: the supplier is the only transfer
	require.Equal(t, 1, h.bank.TransferCount())
	assert.Equal(t, "SUP-SCREENS", h.bank.Transfers[0].ToAccount)
	assert.True(t, h.bank.Transfers[0].Amount.Equal(decimal.NewFromInt(600)))

	require.Len(t, h.carrier.Requests, 1)
	assert.Equal(t, []partners.PickupItem{{Name: "screens", Quantity: 300}}, h.carrier.Requests[0].Items)
	assert.Equal(t, "pear-company", h.carrier.Requests[0].DestinationCompany)
	assert.Equal(t, 300, h.emitter.partsOrdered["screens"])
}

func TestCheckAndOrderLowStockPaysCarrier(t *testing.T) {
	h := newHarness(t)
	h.carrier.Cost = decimal.NewFromInt(40)
	h.setInventory(t, map[string]int{"screens": 100, "cases": 900, "electronics": 900})

	_, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, h.bank.TransferCount())
	assert.Equal(t, "BULK-ACC", h.bank.Transfers[1].ToAccount)
	assert.True(t, h.bank.Transfers[1].Amount.Equal(decimal.NewFromInt(40)))
}

func TestSupplierFailureDoesNotBlockOtherParts(t *testing.T) {
	h := newHarness(t)
	h.suppliers["screens"].Err = partnerstest.ErrUnavailable

	report, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, 2, report.Ordered())
	assert.Equal(t, []int{500}, h.suppliers["cases"].Orders)
	assert.Equal(t, []int{500}, h.suppliers["electronics"].Orders)
}

func TestPartsOnOrderAreNotReordered(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	report, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	for _, res := range report.Results {
		assert.True(t, res.Skipped, res.Part)
	}
	assert.Len(t, h.suppliers["screens"].Orders, 1)
}

func TestSupplierPaymentFailureAllowsRetry(t *testing.T) {
	h := newHarness(t)
	h.setInventory(t, map[string]int{"cases": 900, "electronics": 900})
	h.bank.TransferErr = func(partners.TransferRequest) error {
		return &partners.HTTPError{Partner: "bank", Status: 402, Body: "insufficient funds"}
	}

	report, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())

	purchases, err := h.db.ListPartsPurchases(ctx, 10)
	require.NoError(t, err)
	require.Len(t, purchases, 1)
	assert.Equal(t, store.PurchaseFailed, purchases[0].Status)
	assert.Empty(t, h.carrier.Requests)

	h.bank.TransferErr = nil
	report, err = h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ordered())
}

func TestPickupFailureFlagsSupplierPayment(t *testing.T) {
	h := newHarness(t)
	h.setInventory(t, map[string]int{"cases": 900, "electronics": 900})
	h.carrier.Err = partnerstest.ErrUnavailable

	report, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())

	review, err := h.db.ListEffects(ctx, store.EffectNeedsReview, 10)
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, effects.KindSupplierPayment, review[0].Kind)
}

func TestConfirmPartsDelivery(t *testing.T) {
	h := newHarness(t)
	h.setInventory(t, map[string]int{"screens": 200, "cases": 900, "electronics": 900})
	_, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)

	require.NoError(t, h.engine.ConfirmPartsDelivery(ctx, "PU-1", 0))
	assert.Equal(t, 500, h.inventory(t, "screens"))

	d, err := h.db.GetBulkDeliveryByReference(ctx, "PU-1")
	require.NoError(t, err)
	assert.Equal(t, store.DeliveryReceived, d.Status)
	assert.Equal(t, 300, d.UnitsReceived)

	p, err := h.db.GetPartsPurchase(ctx, d.PartsPurchaseID)
	require.NoError(t, err)
	assert.Equal(t, store.PurchaseCompleted, p.Status)

	require.NoError(t, h.engine.ConfirmPartsDelivery(ctx, "PU-1", 0))
	assert.Equal(t, 500, h.inventory(t, "screens"), "second confirmation is a no-op")
	assert.Equal(t, 300, h.emitter.partsDelivered["screens"])

	err = h.engine.ConfirmPartsDelivery(ctx, "PU-404", 0)
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
}

func TestTrackerConfirmsDeliveredPickups(t *testing.T) {
	h := newHarness(t)
	h.setInventory(t, map[string]int{"cases": 900, "electronics": 900})
	tracker := partners.NewPickupTracker(h.carrier, h.engine, time.Hour, time.Second, logging.Discard())
	h.engine.SetTracker(tracker)

	_, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, tracker.ActiveCount())

	tracker.Poll(ctx)
	assert.Equal(t, 0, h.inventory(t, "screens"), "not delivered yet")

	h.carrier.Deliver("PU-1")
	tracker.Poll(ctx)
	assert.Equal(t, 500, h.inventory(t, "screens"))
	assert.Equal(t, 0, tracker.ActiveCount())
}

func TestFailedPickupAllowsReorder(t *testing.T) {
	h := newHarness(t)
	h.setInventory(t, map[string]int{"cases": 900, "electronics": 900})
	tracker := partners.NewPickupTracker(h.carrier, h.engine, time.Hour, time.Second, logging.Discard())
	h.engine.SetTracker(tracker)

	_, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)

	h.carrier.Fail("PU-1")
	tracker.Poll(ctx)
	assert.Equal(t, 0, tracker.ActiveCount())

	d, err := h.db.GetBulkDeliveryByReference(ctx, "PU-1")
	require.NoError(t, err)
	assert.Equal(t, store.DeliveryFailed, d.Status)
	p, err := h.db.GetPartsPurchase(ctx, d.PartsPurchaseID)
	require.NoError(t, err)
	assert.Equal(t, store.PurchaseFailed, p.Status)

	report, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ordered())
	assert.Len(t, h.suppliers["screens"].Orders, 2)

	// a late failure report for a received delivery changes nothing
	require.NoError(t, h.engine.ConfirmPartsDelivery(ctx, "PU-2", 0))
	require.NoError(t, h.engine.PickupFailed(ctx, "PU-2", "FAILED"))
	d, err = h.db.GetBulkDeliveryByReference(ctx, "PU-2")
	require.NoError(t, err)
	assert.Equal(t, store.DeliveryReceived, d.Status)

	assert.ErrorIs(t, h.engine.PickupFailed(ctx, "PU-404", "FAILED"), ErrDeliveryNotFound)
}

func TestDeliveryRecordFailureAbandonsPurchase(t *testing.T) {
	h := newHarness(t)
	h.setInventory(t, map[string]int{"cases": 900, "electronics": 900})

	// an earlier delivery already holds the reference the carrier hands out next
	old := &store.PartsPurchase{ReferenceNumber: "OLD", PartID: storetest.Part(t, h.db, "cases").ID,
		Quantity: 1, Status: store.PurchaseCompleted, PurchasedAt: day}
	require.NoError(t, h.db.InsertPartsPurchase(ctx, old))
	require.NoError(t, h.db.InsertBulkDelivery(ctx, &store.BulkDelivery{
		PartsPurchaseID: old.ID, DeliveryReference: "PU-1", Status: store.DeliveryReceived, CreatedAt: day,
	}))

	report, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed())

	purchases, err := h.db.ListPartsPurchases(ctx, 10)
	require.NoError(t, err)
	for _, p := range purchases {
		if p.ReferenceNumber != "OLD" {
			assert.Equal(t, store.PurchaseFailed, p.Status)
		}
	}
	review, err := h.db.ListEffects(ctx, store.EffectNeedsReview, 10)
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, effects.KindSupplierPayment, review[0].Kind)

	report, err = h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ordered())
	assert.Len(t, h.suppliers["screens"].Orders, 2)
}

func TestStalePurchasesStopCountingAsOnOrder(t *testing.T) {
	stuck := func(t *testing.T, h *harness) {
		t.Helper()
		require.NoError(t, h.db.InsertPartsPurchase(ctx, &store.PartsPurchase{
			ReferenceNumber: "STUCK", PartID: storetest.Part(t, h.db, "screens").ID,
			Quantity: 500, Status: store.PurchasePaid, PurchasedAt: day.AddDate(0, 0, -8),
		}))
	}

	h := newHarness(t)
	h.setInventory(t, map[string]int{"cases": 900, "electronics": 900})
	stuck(t, h)
	report, err := h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Ordered())

	h = newHarness(t, func(o *Options) { o.InFlightTTL = 0 })
	h.setInventory(t, map[string]int{"cases": 900, "electronics": 900})
	stuck(t, h)
	report, err = h.engine.CheckAndOrderLowStock(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Skipped)
}

func TestInitializeMachines(t *testing.T) {
	h := newHarness(t)

	report, err := h.engine.InitializeMachines(ctx)
	require.NoError(t, err)
	assert.Equal(t, BranchStarter, report.Branch)
	assert.Equal(t, 9, report.Purchased())
	assert.Equal(t, 3, h.vendor.PurchaseCount())
	assert.Len(t, h.vendor.Confirmed, 3)

	ephone := storetest.Phone(t, h.db, "ePhone")
	onOrder, err := h.db.MachinesOnOrder(ctx, ephone.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, onOrder)

	// machines on order count toward the starter set
	report, err = h.engine.InitializeMachines(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Equal(t, 3, h.vendor.PurchaseCount())
}

func TestFailedMachinePickupAllowsRebuy(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.InitializeMachines(ctx)
	require.NoError(t, err)

	require.NoError(t, h.engine.PickupFailed(ctx, "PU-1", "CANCELLED"))
	d, err := h.db.GetMachineDeliveryByReference(ctx, "PU-1")
	require.NoError(t, err)
	assert.Equal(t, store.DeliveryFailed, d.Status)

	ephone := storetest.Phone(t, h.db, "ePhone")
	onOrder, err := h.db.MachinesOnOrder(ctx, ephone.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 0, onOrder)

	report, err := h.engine.InitializeMachines(ctx)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "ePhone", report.Results[0].Model)
	assert.Equal(t, 4, h.vendor.PurchaseCount())
}

func TestConfirmMachineDeliveryInstallsMachines(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.InitializeMachines(ctx)
	require.NoError(t, err)

	require.NoError(t, h.engine.PickupDelivered(ctx, "PU-1"))

	ephone := storetest.Phone(t, h.db, "ePhone")
	machines, err := h.db.ListActiveMachines(ctx, ephone.ID)
	require.NoError(t, err)
	require.Len(t, machines, 3)
	for _, m := range machines {
		assert.True(t, m.Cost.Equal(decimal.NewFromInt(50_000)), "cost = %s", m.Cost)
		assert.Equal(t, 100, m.RatePerDay)
		assert.Len(t, m.Ratios, 3)
		require.NotNil(t, m.PurchaseID)
	}

	p, err := h.db.GetMachinePurchase(ctx, *machines[0].PurchaseID)
	require.NoError(t, err)
	assert.Equal(t, store.PurchaseCompleted, p.Status)

	require.NoError(t, h.engine.ConfirmMachineDelivery(ctx, "PU-1"))
	n, err := h.db.CountActiveMachines(ctx, ephone.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "second confirmation is a no-op")
	assert.Equal(t, 3, h.emitter.machinesDelivered["ePhone"])
}

func TestConfirmMachineDeliveryRequiresPayment(t *testing.T) {
	h := newHarness(t)
	h.carrier.Cost = decimal.NewFromInt(10)
	h.bank.TransferErr = func(req partners.TransferRequest) error {
		if strings.HasPrefix(req.Description, "pickup") {
			return &partners.HTTPError{Partner: "bank", Status: 402}
		}
		return nil
	}
	report, err := h.engine.InitializeMachines(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Purchased())

	err = h.engine.ConfirmMachineDelivery(ctx, "PU-1")
	assert.ErrorIs(t, err, ErrDeliveryUnpaid)
}

func TestExpansionWithLowBalanceBuysNothing(t *testing.T) {
	h := newHarness(t)

	report, err := h.engine.PerformDailyMachineExpansion(ctx, decimal.NewFromInt(50_000))
	require.NoError(t, err)
	assert.Equal(t, BranchBasic, report.Branch)
	assert.Equal(t, 0, report.Purchased())
	assert.Equal(t, 0, h.vendor.PurchaseCount())
	assert.Equal(t, 0, h.bank.TransferCount())
}

func TestExpansionBasicBranch(t *testing.T) {
	h := newHarness(t)

	// 225k of machines plus the 200k buffer fits
	report, err := h.engine.PerformDailyMachineExpansion(ctx, decimal.NewFromInt(500_000))
	require.NoError(t, err)
	assert.Equal(t, BranchBasic, report.Branch)
	assert.Equal(t, 3, report.Purchased())

	// 424,999 does not
	h2 := newHarness(t)
	report, err = h2.engine.PerformDailyMachineExpansion(ctx, decimal.NewFromInt(424_999))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Purchased())
}

func TestExpansionWealthyRespectsSafetyBuffer(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.SafetyBuffer = decimal.NewFromInt(1_200_000)
	})

	report, err := h.engine.PerformDailyMachineExpansion(ctx, decimal.NewFromInt(1_300_000))
	require.NoError(t, err)
	assert.Equal(t, BranchWealthy, report.Branch)
	assert.Equal(t, 1, report.Purchased())
	assert.Equal(t, []string{"ephone_machine"}, h.vendor.Purchases)
}

func TestExpansionUsesLastPurchasePrice(t *testing.T) {
	h := newHarness(t)
	h.vendor.Specs["ephone_machine"] = partnerstest.MachineSpec{
		UnitPrice: decimal.NewFromInt(400_000), Rate: 100, Weight: 200,
		BOM: map[string]int{"screens": 1},
	}
	_, err := h.engine.InitializeMachines(ctx)
	require.NoError(t, err)

	unit, err := h.engine.estimateUnitCost(ctx, storetest.Phone(t, h.db, "ePhone").ID, h.opts.Phones[0])
	require.NoError(t, err)
	assert.True(t, unit.Equal(decimal.NewFromInt(400_000)), "unit = %s", unit)

	unit, err = h.engine.estimateUnitCost(ctx, storetest.Phone(t, h.db, "ePhone_plus").ID, h.opts.Phones[1])
	require.NoError(t, err)
	assert.True(t, unit.Equal(decimal.NewFromInt(75_000)), "unit = %s", unit)
}
