package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"phonesim/config"
	"phonesim/logging"
	"phonesim/partners"
	"phonesim/partners/partnerstest"
	"phonesim/simclock"
	"phonesim/store"
	"phonesim/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

const epoch = "1700000000000"

type harness struct {
	engine  *Engine
	db      *store.DB
	cfg     *config.Config
	bank    *partnerstest.Bank
	carrier *partnerstest.BulkCarrier
	vendor  *partnerstest.MachineVendor
	sups    map[string]*partnerstest.Supplier
}

func newHarness(t *testing.T, tweak ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Defaults()
	for _, fn := range tweak {
		fn(cfg)
	}
	h := &harness{
		db:      storetest.New(t),
		cfg:     cfg,
		bank:    &partnerstest.Bank{Balance: decimal.NewFromInt(10_000_000)},
		carrier: &partnerstest.BulkCarrier{},
		vendor:  &partnerstest.MachineVendor{Specs: partnerstest.DefaultMachines()},
		sups:    map[string]*partnerstest.Supplier{},
	}
	h.engine = h.build(t)
	return h
}

// build returns a fresh engine over the harness database and partners, as
// a restarted process would create.
func (h *harness) build(t *testing.T) *Engine {
	t.Helper()
	suppliers := map[string]partners.Supplier{}
	for _, name := range []string{"screens", "cases", "electronics"} {
		s, ok := h.sups[name]
		if !ok {
			s = &partnerstest.Supplier{Account: "SUP-" + strings.ToUpper(name), UnitPrice: decimal.NewFromInt(2)}
			h.sups[name] = s
		}
		suppliers[name] = s
	}
	e := New(Config{
		AppConfig: h.cfg,
		DB:        h.db,
		Clock:     simclock.New(h.cfg.Simulation.DayLength),
		Partners: Partners{
			Bank:            h.bank,
			Suppliers:       suppliers,
			BulkCarrier:     h.carrier,
			ConsumerCarrier: &partnerstest.ConsumerCarrier{},
			MachineVendor:   h.vendor,
		},
		Log: logging.Discard(),
	})
	t.Cleanup(e.Close)
	return e
}

type eventLog struct {
	mu    sync.Mutex
	types []EventType
}

func (l *eventLog) record(evt Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types = append(l.types, evt.Type)
}

func (l *eventLog) count(t EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, x := range l.types {
		if x == t {
			n++
		}
	}
	return n
}

func TestStartRejectsInvalidEpoch(t *testing.T) {
	h := newHarness(t)
	for _, in := range []string{"", "soon", "0", "-5", "NaN"} {
		_, err := h.engine.StartSimulation(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidEpoch, "epoch %q", in)
	}
	assert.Equal(t, StateStopped, h.engine.State())
	assert.Zero(t, h.vendor.PurchaseCount())
}

func TestStartRunsDayZeroSetup(t *testing.T) {
	h := newHarness(t)
	events := &eventLog{}
	h.engine.Events.Subscribe(events.record)

	st, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, "2050-01-01", st.Date)
	assert.Equal(t, 0, st.DayOffset)
	assert.Equal(t, int64(1700000000000), st.EpochMs)

	// starter machines for each of the three models
	assert.Equal(t, 3, h.vendor.PurchaseCount())
	// empty warehouse: every part reordered up to the threshold
	for name, s := range h.sups {
		assert.Equal(t, []int{500}, s.Orders, name)
	}
	assert.Empty(t, h.bank.Loans, "healthy balance needs no loan")

	v, ok, err := h.db.GetSetting(ctx, keyStatus)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateRunning, v)
	assert.Equal(t, 1, events.count(EventSimulationStarted))
	assert.Equal(t, 3, events.count(EventMachinesPurchased))
	assert.Equal(t, 3, events.count(EventPartsOrdered))
}

func TestStartWhileRunning(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)

	_, err = h.engine.StartSimulation(ctx, epoch)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, 3, h.vendor.PurchaseCount(), "setup must not run twice")
}

func TestStartFailsWhenBankingFails(t *testing.T) {
	h := newHarness(t)
	h.bank.CreateErr = partnerstest.ErrUnavailable

	_, err := h.engine.StartSimulation(ctx, epoch)
	require.Error(t, err)
	assert.ErrorIs(t, err, partnerstest.ErrUnavailable)
	assert.Equal(t, StateStopped, h.engine.State())
}

func TestTickAndStopRequireRunning(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Tick(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = h.engine.StopSimulation(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestTickAdvancesOneDay(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)

	res, err := h.engine.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Tick)
	assert.Equal(t, "2050-01-02", res.Date)
	assert.Equal(t, 1, res.DayOffset)
	assert.Equal(t, StateRunning, res.Status)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(10_000_000)))
	// wealthy: one more machine per model
	assert.Equal(t, 3, res.MachinesPurchased)
	// parts already on order are not ordered again
	assert.Zero(t, res.PartsOrdered)
	assert.Zero(t, res.PhonesProduced)

	st := h.engine.Status()
	assert.Equal(t, 1, st.Ticks)
	require.NotNil(t, st.LastTick)
	assert.Equal(t, "2050-01-02", st.LastTick.Date)
}

func TestTenTicks(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)

	var res *TickResult
	for i := 0; i < 10; i++ {
		res, err = h.engine.Tick(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 10, res.Tick)
	assert.Equal(t, "2050-01-11", res.Date)
}

func TestTickInProgress(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)

	h.engine.tickMu.Lock()
	_, err = h.engine.Tick(ctx)
	h.engine.tickMu.Unlock()
	assert.ErrorIs(t, err, ErrTickInProgress)
	assert.Equal(t, 0, h.engine.Status().Ticks)
}

func TestTickBorrowsWhenLow(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)

	h.bank.Reads = []partnerstest.BalanceRead{
		{Balance: decimal.NewFromInt(100_000)},
		{Balance: decimal.NewFromInt(100_000)},
	}
	res, err := h.engine.Tick(ctx)
	require.NoError(t, err)
	require.Len(t, h.bank.Loans, 1)
	assert.True(t, res.Balance.Equal(decimal.NewFromInt(1_100_000)), "got %s", res.Balance)
}

func TestDeliveriesFeedProduction(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)

	// three machine pickups then three parts pickups
	require.Len(t, h.carrier.Requests, 6)
	for i := 1; i <= 6; i++ {
		h.carrier.Deliver(fmt.Sprintf("PU-%d", i))
	}
	h.engine.Tracker().Poll(ctx)

	res, err := h.engine.Tick(ctx)
	require.NoError(t, err)
	assert.Positive(t, res.PhonesProduced)
	assert.LessOrEqual(t, res.PhonesProduced, 500, "bounded by 500 of each part")
	// consumed parts drop below the threshold and are reordered the same day
	assert.Equal(t, 3, res.PartsOrdered)

	stock, err := h.engine.Stock(ctx)
	require.NoError(t, err)
	total := 0
	for _, s := range stock {
		total += s.QuantityAvailable
	}
	assert.Equal(t, res.PhonesProduced, total)
}

func TestStopHaltsTicks(t *testing.T) {
	h := newHarness(t)
	events := &eventLog{}
	h.engine.Events.SubscribeTypes(events.record, EventSimulationStopped)
	_, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)

	st, err := h.engine.StopSimulation(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, st.State)
	assert.Equal(t, 1, events.count(EventSimulationStopped))

	_, err = h.engine.Tick(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)
	_, err = h.engine.StopSimulation(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)

	// a stopped simulation can be started again
	_, err = h.engine.StartSimulation(ctx, epoch)
	assert.NoError(t, err)
}

func TestOpenResumesRunningSimulation(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)
	_, err = h.engine.Tick(ctx)
	require.NoError(t, err)
	purchases := h.vendor.PurchaseCount()

	restarted := h.build(t)
	require.NoError(t, restarted.Open(ctx))

	st := restarted.Status()
	assert.Equal(t, StateRunning, st.State)
	assert.Equal(t, 1, st.Ticks)
	assert.Equal(t, "2050-01-02", st.Date)
	assert.Equal(t, purchases, h.vendor.PurchaseCount(), "resume must not repeat setup")
	// every paid pickup is tracked again
	assert.Equal(t, len(h.carrier.Requests), restarted.Tracker().ActiveCount())

	res, err := restarted.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tick)
	assert.Equal(t, "2050-01-03", res.Date)
}

func TestOpenLeavesStoppedSimulationStopped(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)
	_, err = h.engine.StopSimulation(ctx)
	require.NoError(t, err)

	restarted := h.build(t)
	require.NoError(t, restarted.Open(ctx))
	assert.Equal(t, StateStopped, restarted.State())
	assert.Equal(t, "2050-01-01", restarted.Status().Date)
}

func TestEventsAreAudited(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)
	_, err = h.engine.Tick(ctx)
	require.NoError(t, err)

	entries, err := h.db.ListAuditLog(ctx, 100)
	require.NoError(t, err)
	actions := map[string]int{}
	for _, e := range entries {
		actions[e.Action]++
	}
	assert.Equal(t, 1, actions["simulation.started"])
	assert.Equal(t, 1, actions["tick.completed"])
	assert.Equal(t, 3, actions["parts.ordered"])
}

func TestOutboxOnlyWithTransport(t *testing.T) {
	quiet := newHarness(t)
	_, err := quiet.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)
	msgs, err := quiet.db.ListPendingOutbox(ctx, 100, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	h := newHarness(t, func(c *config.Config) { c.Messaging.Transport = "kafka" })
	_, err = h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)
	msgs, err = h.db.ListPendingOutbox(ctx, 100, 10)
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	types := map[string]bool{}
	for _, m := range msgs {
		assert.Equal(t, "phonesim.events", m.Topic)
		types[m.MsgType] = true
	}
	assert.True(t, types["simulation.started"])
	assert.True(t, types["machines.purchased"])
}

func TestAutoTick(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Simulation.AutoTick = true
		c.Simulation.DayLength = 20 * time.Millisecond
	})
	_, err := h.engine.StartSimulation(ctx, epoch)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.engine.Status().Ticks >= 2 }, 5*time.Second, 10*time.Millisecond)
	_, err = h.engine.StopSimulation(ctx)
	require.NoError(t, err)
}
