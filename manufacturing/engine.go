package manufacturing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"phonesim/store"

	"github.com/sirupsen/logrus"
)

var ErrInvalidCount = errors.New("machine count must be positive")

// Clock is the part of the simulated clock the engine needs.
type Clock interface {
	Now() time.Time
	DateString() string
}

// PhoneRun is the outcome of one phone's production run.
type PhoneRun struct {
	PhoneID  int64         `json:"phone_id"`
	Model    string        `json:"model"`
	Demand   int           `json:"demand"`
	Produced int           `json:"produced"`
	Consumed map[int64]int `json:"consumed"` // part id -> units
	Err      error         `json:"-"`
}

type Report struct {
	Date string      `json:"date"`
	Runs []*PhoneRun `json:"runs"`
}

// TotalProduced sums produced units over every committed run.
func (r *Report) TotalProduced() int {
	n := 0
	for _, run := range r.Runs {
		if run.Err == nil {
			n += run.Produced
		}
	}
	return n
}

type Engine struct {
	db      *store.DB
	clock   Clock
	emitter Emitter
	target  int
	log     logrus.FieldLogger
}

func NewEngine(db *store.DB, clock Clock, emitter Emitter, targetStockLevel int, log logrus.FieldLogger) *Engine {
	return &Engine{db: db, clock: clock, emitter: emitter, target: targetStockLevel, log: log}
}

// ProcessManufacturing runs one day of production for every phone model,
// smallest stock deficit first. Each phone commits in its own transaction;
// a failed phone is reported and does not stop the others.
func (e *Engine) ProcessManufacturing(ctx context.Context) (*Report, error) {
	stocks, err := e.db.ListStock(ctx)
	if err != nil {
		return nil, fmt.Errorf("manufacturing: list stock: %w", err)
	}
	sort.SliceStable(stocks, func(i, j int) bool {
		return e.stockNeeded(stocks[i]) < e.stockNeeded(stocks[j])
	})

	report := &Report{Date: e.clock.DateString()}
	for _, s := range stocks {
		run := &PhoneRun{PhoneID: s.PhoneID, Model: s.Model}
		run.Err = e.db.WithTx(ctx, func(tx *store.Tx) error {
			return e.produce(ctx, tx, run)
		})
		report.Runs = append(report.Runs, run)
		if run.Err != nil {
			e.log.Errorf("manufacturing: %s run rolled back: %v", s.Model, run.Err)
			continue
		}
		if run.Produced > 0 {
			e.log.Infof("manufacturing: produced %d %s (demand %d)", run.Produced, run.Model, run.Demand)
			e.emitter.EmitProductionRun(report.Date, run.Model, run.Produced, run.Consumed)
		}
	}
	return report, nil
}

func (e *Engine) stockNeeded(s *store.Stock) int {
	if n := e.target - s.QuantityAvailable; n > 0 {
		return n
	}
	return 0
}

// produce plans and applies one phone's run inside tx. Counters are re-read
// inside the transaction so the plan matches what gets decremented.
func (e *Engine) produce(ctx context.Context, tx *store.Tx, run *PhoneRun) error {
	s, err := tx.GetStock(ctx, run.PhoneID)
	if err != nil {
		return err
	}
	machines, err := tx.ListActiveMachines(ctx, run.PhoneID)
	if err != nil {
		return err
	}
	if len(machines) == 0 {
		return nil
	}

	capacity := 0
	for _, m := range machines {
		capacity += m.RatePerDay
	}
	run.Demand = min(capacity, e.stockNeeded(s))
	if run.Demand == 0 {
		return nil
	}

	remaining := map[int64]int{}
	for _, m := range machines {
		for _, r := range m.Ratios {
			if _, seen := remaining[r.PartID]; seen {
				continue
			}
			qty, err := tx.GetInventory(ctx, r.PartID)
			if err != nil {
				return fmt.Errorf("inventory for part %d: %w", r.PartID, err)
			}
			remaining[r.PartID] = qty
		}
	}

	run.Consumed = map[int64]int{}
	left := run.Demand
	for _, m := range machines {
		if left == 0 {
			break
		}
		n := plan(m, min(left, m.RatePerDay), remaining)
		if n <= 0 {
			continue
		}
		for _, r := range m.Ratios {
			remaining[r.PartID] -= n * r.Quantity
			run.Consumed[r.PartID] += n * r.Quantity
		}
		run.Produced += n
		left -= n
	}
	if run.Produced == 0 {
		return nil
	}

	now := e.clock.Now()
	for partID, qty := range run.Consumed {
		if err := tx.ConsumeParts(ctx, partID, qty, now); err != nil {
			return err
		}
	}
	return tx.AddProducedStock(ctx, run.PhoneID, run.Produced, now)
}

// plan clamps a machine's candidate output to what the remaining parts allow.
func plan(m *store.Machine, candidate int, remaining map[int64]int) int {
	for _, r := range m.Ratios {
		if r.Quantity <= 0 {
			continue
		}
		candidate = min(candidate, remaining[r.PartID]/r.Quantity)
	}
	return candidate
}

// HandleMachineFailure retires the oldest count active machines of a phone
// model and returns how many were retired.
func (e *Engine) HandleMachineFailure(ctx context.Context, model string, count int) (int, error) {
	if count <= 0 {
		return 0, ErrInvalidCount
	}
	p, err := e.db.GetPhoneByModel(ctx, model)
	if err != nil {
		return 0, fmt.Errorf("machine failure %s: %w", model, err)
	}
	n, err := e.db.RetireOldestMachines(ctx, p.ID, count, e.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("machine failure %s: %w", model, err)
	}
	e.log.Warnf("manufacturing: %d %s machines failed, %d retired", count, model, n)
	if n > 0 {
		e.emitter.EmitMachinesRetired(model, n)
	}
	return n, nil
}
