package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"phonesim/cache"

	"github.com/shopspring/decimal"
)

const (
	StateStopped = "stopped"
	StateRunning = "running"

	keyStatus = "simulation_status"
	keyTicks  = "simulation_ticks"
)

var (
	ErrInvalidEpoch   = errors.New("epoch start time must be a positive number of milliseconds")
	ErrAlreadyRunning = errors.New("simulation already running")
	ErrNotRunning     = errors.New("simulation not running")
	ErrTickInProgress = errors.New("tick already in progress")
	ErrNotResumable   = errors.New("no running simulation to resume")
)

// TickResult summarizes one simulated day.
type TickResult struct {
	Tick              int             `json:"tick"`
	Date              string          `json:"date"`
	DayOffset         int             `json:"day_offset"`
	Status            string          `json:"status"`
	Balance           decimal.Decimal `json:"balance"`
	MachinesPurchased int             `json:"machines_purchased"`
	PhonesProduced    int             `json:"phones_produced"`
	OrdersExpired     int             `json:"orders_expired"`
	PartsOrdered      int             `json:"parts_ordered"`
	EffectsFlagged    int64           `json:"effects_flagged"`
	Duration          time.Duration   `json:"duration"`
}

type Status struct {
	State     string      `json:"state"`
	Ticks     int         `json:"ticks"`
	Date      string      `json:"date,omitempty"`
	DayOffset int         `json:"day_offset"`
	EpochMs   int64       `json:"epoch_ms,omitempty"`
	LastTick  *TickResult `json:"last_tick,omitempty"`
}

func parseEpoch(s string) (int64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, ErrInvalidEpoch
	}
	return int64(v), nil
}

// StartSimulation anchors the clock at epochStartTime and runs the day-0
// setup. It fails without changing state when the simulation is already
// running or the epoch is invalid.
func (e *Engine) StartSimulation(ctx context.Context, epochStartTime string) (*Status, error) {
	epoch, err := parseEpoch(epochStartTime)
	if err != nil {
		return nil, err
	}
	if !e.tickMu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer e.tickMu.Unlock()

	if e.State() == StateRunning {
		return nil, ErrAlreadyRunning
	}

	if err := e.clock.SetStart(epoch, e.cfg.Simulation.StartDate); err != nil {
		return nil, fmt.Errorf("anchor clock: %w", err)
	}
	if err := e.clock.Persist(ctx, e.db); err != nil {
		return nil, fmt.Errorf("persist clock: %w", err)
	}
	e.log.Infof("engine: simulation starting at %s (epoch %d)", e.clock.DateString(), epoch)

	if _, err := e.banking.InitializeBanking(ctx); err != nil {
		return nil, fmt.Errorf("initialize banking: %w", err)
	}
	rep, err := e.procurement.InitializeMachines(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize machines: %w", err)
	}
	e.log.Infof("engine: %d starter machines purchased", rep.Purchased())
	if _, err := e.procurement.CheckAndOrderLowStock(ctx); err != nil {
		return nil, fmt.Errorf("initial parts order: %w", err)
	}
	if _, err := e.manufacturing.ProcessManufacturing(ctx); err != nil {
		return nil, fmt.Errorf("initial manufacturing: %w", err)
	}
	if _, err := e.orders.CleanupExpiredReservations(ctx, e.clock.Now()); err != nil {
		return nil, fmt.Errorf("initial reservation cleanup: %w", err)
	}

	e.mu.Lock()
	e.state = StateRunning
	e.ticks = 0
	e.lastTick = nil
	e.mu.Unlock()
	e.persistState(ctx)
	e.invalidateStock(ctx)

	e.Events.Emit(Event{Type: EventSimulationStarted, Payload: SimulationEvent{
		EpochMs: epoch,
		Date:    e.clock.DateString(),
	}})
	if e.cfg.Simulation.AutoTick {
		e.startAutoTick()
	}
	st := e.Status()
	return &st, nil
}

// Tick advances the simulation by one day and runs the daily sequence in
// fixed order. A component error aborts the rest of the day.
func (e *Engine) Tick(ctx context.Context) (*TickResult, error) {
	if !e.tickMu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer e.tickMu.Unlock()

	if e.State() != StateRunning {
		return nil, ErrNotRunning
	}

	release, err := e.tickLock.Acquire(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrLocked) {
			return nil, ErrTickInProgress
		}
		return nil, fmt.Errorf("tick lock: %w", err)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			e.log.Warnf("engine: release tick lock: %v", err)
		}
	}()

	started := time.Now()
	offset, err := e.clock.AdvanceDay()
	if err != nil {
		return nil, err
	}
	if err := e.clock.Persist(ctx, e.db); err != nil {
		return nil, fmt.Errorf("persist clock: %w", err)
	}
	res := &TickResult{Date: e.clock.DateString(), DayOffset: offset}

	res.Balance = e.banking.PerformDailyBalanceCheck(ctx)

	exp, err := e.procurement.PerformDailyMachineExpansion(ctx, res.Balance)
	if err != nil {
		return nil, fmt.Errorf("machine expansion: %w", err)
	}
	res.MachinesPurchased = exp.Purchased()

	run, err := e.manufacturing.ProcessManufacturing(ctx)
	if err != nil {
		return nil, fmt.Errorf("manufacturing: %w", err)
	}
	res.PhonesProduced = run.TotalProduced()

	res.OrdersExpired, err = e.orders.CleanupExpiredReservations(ctx, e.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("reservation cleanup: %w", err)
	}

	parts, err := e.procurement.CheckAndOrderLowStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("parts replenishment: %w", err)
	}
	res.PartsOrdered = parts.Ordered()

	if n, err := e.reconciler.Sweep(ctx); err != nil {
		e.log.Warnf("engine: effect sweep: %v", err)
	} else {
		res.EffectsFlagged = n
	}

	e.mu.Lock()
	e.ticks++
	res.Tick = e.ticks
	res.Status = e.state
	res.Duration = time.Since(started)
	e.lastTick = res
	e.mu.Unlock()
	e.persistState(ctx)
	e.invalidateStock(ctx)

	e.log.Infof("engine: tick %d done for %s (produced %d, machines %d, parts orders %d, expired %d) in %s",
		res.Tick, res.Date, res.PhonesProduced, res.MachinesPurchased, res.PartsOrdered, res.OrdersExpired, res.Duration)
	e.Events.Emit(Event{Type: EventTickCompleted, Payload: TickCompletedEvent{Result: res}})
	return res, nil
}

// StopSimulation halts auto-ticking and marks the simulation stopped. The
// clock keeps its position.
func (e *Engine) StopSimulation(ctx context.Context) (*Status, error) {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil, ErrNotRunning
	}
	e.state = StateStopped
	ticks := e.ticks
	e.mu.Unlock()

	e.stopAutoTick()
	e.persistState(ctx)
	e.log.Infof("engine: simulation stopped after %d ticks", ticks)
	e.Events.Emit(Event{Type: EventSimulationStopped, Payload: SimulationEvent{
		EpochMs: e.clock.EpochMs(),
		Date:    e.clock.DateString(),
		Ticks:   ticks,
	}})
	st := e.Status()
	return &st, nil
}

// Resume puts a simulation that was persisted as running back into the
// running state without repeating the day-0 setup.
func (e *Engine) Resume(ctx context.Context) error {
	status, ok, err := e.db.GetSetting(ctx, keyStatus)
	if err != nil {
		return err
	}
	if !ok || status != StateRunning || !e.clock.Initialized() {
		return ErrNotResumable
	}
	ticks := 0
	if v, ok, err := e.db.GetSetting(ctx, keyTicks); err == nil && ok {
		ticks, _ = strconv.Atoi(v)
	}

	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.state = StateRunning
	e.ticks = ticks
	e.mu.Unlock()

	e.log.Infof("engine: resumed simulation at %s after %d ticks", e.clock.DateString(), ticks)
	if e.cfg.Simulation.AutoTick {
		e.startAutoTick()
	}
	return nil
}

func (e *Engine) State() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) Status() Status {
	e.mu.RLock()
	st := Status{State: e.state, Ticks: e.ticks, LastTick: e.lastTick}
	e.mu.RUnlock()
	if e.clock.Initialized() {
		st.Date = e.clock.DateString()
		st.DayOffset = e.clock.Offset()
		st.EpochMs = e.clock.EpochMs()
	}
	return st
}

func (e *Engine) persistState(ctx context.Context) {
	e.mu.RLock()
	state, ticks := e.state, e.ticks
	e.mu.RUnlock()
	if err := e.db.SetSetting(ctx, keyStatus, state); err != nil {
		e.log.Errorf("engine: persist status: %v", err)
	}
	if err := e.db.SetSetting(ctx, keyTicks, strconv.Itoa(ticks)); err != nil {
		e.log.Errorf("engine: persist tick count: %v", err)
	}
}

func (e *Engine) startAutoTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.autoStop != nil {
		return
	}
	e.autoStop = make(chan struct{})
	e.autoDone = make(chan struct{})
	go e.autoTickLoop(e.autoStop, e.autoDone)
}

// stopAutoTick stops the scheduler and waits for an in-flight tick.
func (e *Engine) stopAutoTick() {
	e.mu.Lock()
	stop, done := e.autoStop, e.autoDone
	e.autoStop, e.autoDone = nil, nil
	e.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (e *Engine) autoTickLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := e.cfg.Simulation.DayLength
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.log.Infof("engine: auto-tick every %s", interval)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout())
			_, err := e.Tick(ctx)
			cancel()
			switch {
			case err == nil:
			case errors.Is(err, ErrTickInProgress), errors.Is(err, ErrNotRunning):
				e.log.Debugf("engine: auto-tick skipped: %v", err)
			default:
				e.log.Errorf("engine: auto-tick: %v", err)
			}
		}
	}
}
