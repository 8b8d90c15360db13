// Package engine wires the simulation components together and drives the
// simulated day.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"phonesim/banking"
	"phonesim/cache"
	"phonesim/config"
	"phonesim/effects"
	"phonesim/manufacturing"
	"phonesim/orders"
	"phonesim/partners"
	"phonesim/procurement"
	"phonesim/simclock"
	"phonesim/store"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Partners groups the external collaborators. Suppliers is keyed by the
// supplier name recorded on each part.
type Partners struct {
	Bank            partners.Bank
	Suppliers       map[string]partners.Supplier
	BulkCarrier     partners.BulkCarrier
	ConsumerCarrier partners.ConsumerCarrier
	MachineVendor   partners.MachineVendor
}

type Config struct {
	AppConfig *config.Config
	DB        *store.DB
	Clock     *simclock.Clock
	Partners  Partners
	// Redis is optional; without it there is no stock cache and the tick
	// lock is process-local only.
	Redis *redis.Client
	Log   logrus.FieldLogger
}

type Engine struct {
	cfg   *config.Config
	db    *store.DB
	clock *simclock.Clock
	log   logrus.FieldLogger

	Events *EventBus

	banking       *banking.Policy
	procurement   *procurement.Engine
	manufacturing *manufacturing.Engine
	orders        *orders.Engine
	effects       *effects.Recorder
	reconciler    *effects.Reconciler
	tracker       *partners.PickupTracker
	stockCache    *cache.StockCache
	tickLock      *cache.TickLock

	tickMu   sync.Mutex
	mu       sync.RWMutex
	state    string
	ticks    int
	lastTick *TickResult
	autoStop chan struct{}
	autoDone chan struct{}
}

func New(c Config) *Engine {
	log := c.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg := c.AppConfig
	e := &Engine{
		cfg:        cfg,
		db:         c.DB,
		clock:      c.Clock,
		log:        log,
		Events:     NewEventBus(log),
		state:      StateStopped,
		stockCache: cache.NewStockCache(c.Redis, cfg.Simulation.DayLength),
		tickLock:   cache.NewTickLock(c.Redis, cfg.Redis.TickLockTTL),
	}

	e.effects = effects.NewRecorder(c.DB, log)
	e.reconciler = effects.NewReconciler(c.DB, cfg.Procurement.EffectReviewAfter, log)
	e.banking = banking.NewPolicy(c.Partners.Bank, c.DB, c.Clock, &bankingEmitter{bus: e.Events},
		banking.OptionsFromConfig(&cfg.Banking), log)
	e.procurement = procurement.NewEngine(c.DB, c.Clock, procurement.Partners{
		Bank:      c.Partners.Bank,
		Suppliers: c.Partners.Suppliers,
		Carrier:   c.Partners.BulkCarrier,
		Vendor:    c.Partners.MachineVendor,
	}, e.effects, &procurementEmitter{bus: e.Events}, procurement.OptionsFromConfig(cfg), log)
	e.manufacturing = manufacturing.NewEngine(c.DB, c.Clock, &manufacturingEmitter{bus: e.Events},
		cfg.Manufacturing.TargetStockLevel, log)
	e.orders = orders.NewEngine(c.DB, c.Clock, c.Partners.Bank, c.Partners.ConsumerCarrier, e.effects,
		&orderEmitter{bus: e.Events}, orders.OptionsFromConfig(cfg), log)

	if c.Partners.BulkCarrier != nil {
		e.tracker = partners.NewPickupTracker(c.Partners.BulkCarrier, e.procurement,
			cfg.Partners.TrackInterval, cfg.Partners.Timeout, log)
		e.procurement.SetTracker(e.tracker)
	}

	e.wireEventHandlers()
	return e
}

// Open restores persisted state, reloads open pickups into the tracker and
// starts it. A simulation that was running when the process stopped is
// resumed without repeating its setup.
func (e *Engine) Open(ctx context.Context) error {
	restored, err := e.clock.Restore(ctx, e.db)
	if err != nil {
		return err
	}
	account, ok, err := e.banking.RestoreAccount(ctx)
	if err != nil {
		return err
	}
	if ok {
		e.log.Infof("engine: using bank account %s", account)
	}
	e.loadOpenDeliveries(ctx)
	if e.tracker != nil {
		e.tracker.Start()
	}
	if restored {
		e.log.Infof("engine: clock restored at %s (day %d)", e.clock.DateString(), e.clock.Offset())
		if err := e.Resume(ctx); err != nil && !errors.Is(err, ErrNotResumable) {
			return err
		}
	}
	e.log.Info("engine: started")
	return nil
}

// Close stops background work. The simulation state stays persisted.
func (e *Engine) Close() {
	e.stopAutoTick()
	if e.tracker != nil {
		e.tracker.Stop()
	}
	e.log.Info("engine: stopped")
}

// Accessors
func (e *Engine) DB() *store.DB                        { return e.db }
func (e *Engine) AppConfig() *config.Config            { return e.cfg }
func (e *Engine) Clock() *simclock.Clock               { return e.clock }
func (e *Engine) Orders() *orders.Engine               { return e.orders }
func (e *Engine) Procurement() *procurement.Engine     { return e.procurement }
func (e *Engine) Manufacturing() *manufacturing.Engine { return e.manufacturing }
func (e *Engine) Banking() *banking.Policy             { return e.banking }
func (e *Engine) Reconciler() *effects.Reconciler      { return e.reconciler }
func (e *Engine) Tracker() *partners.PickupTracker     { return e.tracker }

// Stock returns current stock levels, from the cache when it is warm.
func (e *Engine) Stock(ctx context.Context) ([]*store.Stock, error) {
	if cached, err := e.stockCache.Get(ctx); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		e.log.Warnf("engine: stock cache read: %v", err)
	}
	stocks, err := e.db.ListStock(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.stockCache.Set(ctx, stocks); err != nil {
		e.log.Warnf("engine: stock cache write: %v", err)
	}
	return stocks, nil
}

// ConfirmBulkDelivery handles a carrier's report that an inbound pickup
// arrived. A positive units count overrides the purchased quantity for parts.
func (e *Engine) ConfirmBulkDelivery(ctx context.Context, ref string, units int) error {
	var err error
	if units > 0 {
		err = e.procurement.ConfirmPartsDelivery(ctx, ref, units)
		if errors.Is(err, procurement.ErrDeliveryNotFound) {
			err = e.procurement.ConfirmMachineDelivery(ctx, ref)
		}
	} else {
		err = e.procurement.PickupDelivered(ctx, ref)
	}
	if err != nil {
		return err
	}
	if e.tracker != nil {
		e.tracker.Untrack(ref)
	}
	return nil
}

func (e *Engine) invalidateStock(ctx context.Context) {
	if err := e.stockCache.Invalidate(ctx); err != nil {
		e.log.Warnf("engine: stock cache invalidate: %v", err)
	}
}

func (e *Engine) loadOpenDeliveries(ctx context.Context) {
	if e.tracker == nil {
		return
	}
	bulk, err := e.db.ListOpenBulkDeliveries(ctx)
	if err != nil {
		e.log.Errorf("engine: load open bulk deliveries: %v", err)
		return
	}
	machines, err := e.db.ListOpenMachineDeliveries(ctx)
	if err != nil {
		e.log.Errorf("engine: load open machine deliveries: %v", err)
		return
	}
	for _, d := range bulk {
		e.tracker.Track(d.DeliveryReference)
	}
	for _, d := range machines {
		e.tracker.Track(d.DeliveryReference)
	}
	if n := len(bulk) + len(machines); n > 0 {
		e.log.Infof("engine: loaded %d open deliveries into tracker", n)
	}
}

// callTimeout bounds an auto-tick, which has no caller context.
func (e *Engine) callTimeout() time.Duration {
	if d := e.cfg.Simulation.DayLength; d > time.Minute {
		return d
	}
	return time.Minute
}
