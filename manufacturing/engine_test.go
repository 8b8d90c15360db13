package manufacturing

import (
	"context"
	"errors"
	"testing"
	"time"

	"phonesim/logging"
	"phonesim/store"
	"phonesim/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time     { return c.t }
func (c fixedClock) DateString() string { return c.t.Format("2006-01-02") }

type recordingEmitter struct {
	runs    map[string]int
	retired map[string]int
}

func newEmitter() *recordingEmitter {
	return &recordingEmitter{runs: map[string]int{}, retired: map[string]int{}}
}

func (r *recordingEmitter) EmitProductionRun(_ string, model string, produced int, _ map[int64]int) {
	r.runs[model] += produced
}

func (r *recordingEmitter) EmitMachinesRetired(model string, count int) {
	r.retired[model] += count
}

var day = time.Date(2050, 1, 2, 0, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*Engine, *store.DB, *recordingEmitter) {
	t.Helper()
	db := storetest.New(t)
	em := newEmitter()
	return NewEngine(db, fixedClock{day}, em, 10_000, logging.Discard()), db, em
}

// addMachine installs an active machine with the given BOM (part name -> qty).
func addMachine(t *testing.T, db *store.DB, model string, rate int, bom map[string]int, acquired time.Time) {
	t.Helper()
	p := storetest.Phone(t, db, model)
	m := &store.Machine{PhoneID: p.ID, RatePerDay: rate, Cost: decimal.NewFromInt(1000), DateAcquired: acquired}
	for name, q := range bom {
		m.Ratios = append(m.Ratios, store.MachineRatio{PartID: storetest.Part(t, db, name).ID, Quantity: q})
	}
	require.NoError(t, db.InsertMachine(ctx, m))
}

func setInventory(t *testing.T, db *store.DB, name string, qty int) {
	t.Helper()
	require.NoError(t, db.AddInventory(ctx, storetest.Part(t, db, name).ID, qty, day))
}

func inventory(t *testing.T, db *store.DB, name string) int {
	t.Helper()
	q, err := db.GetInventory(ctx, storetest.Part(t, db, name).ID)
	require.NoError(t, err)
	return q
}

func available(t *testing.T, db *store.DB, model string) int {
	t.Helper()
	s, err := db.GetStock(ctx, storetest.Phone(t, db, model).ID)
	require.NoError(t, err)
	return s.QuantityAvailable
}

func TestProductionConservesMaterial(t *testing.T) {
	e, db, em := newEngine(t)
	bom := map[string]int{"screens": 1, "cases": 1, "electronics": 2}
	addMachine(t, db, "ePhone", 100, bom, day)
	addMachine(t, db, "ePhone", 100, bom, day)
	setInventory(t, db, "screens", 1000)
	setInventory(t, db, "cases", 1000)
	setInventory(t, db, "electronics", 250) // allows 125 phones

	report, err := e.ProcessManufacturing(ctx)
	require.NoError(t, err)

	produced := available(t, db, "ePhone")
	assert.Equal(t, 125, produced, "clamped by electronics")
	assert.Equal(t, 1000-produced, inventory(t, db, "screens"))
	assert.Equal(t, 1000-produced, inventory(t, db, "cases"))
	assert.Equal(t, 250-2*produced, inventory(t, db, "electronics"))
	assert.Equal(t, 125, report.TotalProduced())
	assert.Equal(t, 125, em.runs["ePhone"])
}

func TestDemandCappedByCapacityAndTarget(t *testing.T) {
	e, db, _ := newEngine(t)
	bom := map[string]int{"screens": 1}
	addMachine(t, db, "ePhone", 300, bom, day)
	setInventory(t, db, "screens", 5000)
	p := storetest.Phone(t, db, "ePhone")
	require.NoError(t, db.AddProducedStock(ctx, p.ID, 9_900, day))

	report, err := e.ProcessManufacturing(ctx)
	require.NoError(t, err)

	assert.Equal(t, 10_000, available(t, db, "ePhone"), "never overshoots the target")
	for _, run := range report.Runs {
		if run.Model == "ePhone" {
			assert.Equal(t, 100, run.Demand)
			assert.Equal(t, 100, run.Produced)
		}
	}

	// At target: nothing more is produced.
	_, err = e.ProcessManufacturing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10_000, available(t, db, "ePhone"))
	assert.Equal(t, 4_900, inventory(t, db, "screens"))
}

func TestSmallestDeficitServedFirst(t *testing.T) {
	e, db, _ := newEngine(t)
	bom := map[string]int{"screens": 1}
	addMachine(t, db, "ePhone", 1000, bom, day)
	addMachine(t, db, "ePhone_plus", 1000, bom, day)
	setInventory(t, db, "screens", 80)

	plus := storetest.Phone(t, db, "ePhone_plus")
	require.NoError(t, db.AddProducedStock(ctx, plus.ID, 9_950, day)) // deficit 50

	_, err := e.ProcessManufacturing(ctx)
	require.NoError(t, err)

	assert.Equal(t, 10_000, available(t, db, "ePhone_plus"), "smaller deficit gets parts first")
	assert.Equal(t, 30, available(t, db, "ePhone"))
	assert.Equal(t, 0, inventory(t, db, "screens"))
}

func TestNoMachinesNoProduction(t *testing.T) {
	e, db, em := newEngine(t)
	setInventory(t, db, "screens", 100)

	report, err := e.ProcessManufacturing(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.TotalProduced())
	assert.Empty(t, em.runs)
	assert.Equal(t, 100, inventory(t, db, "screens"))
}

func TestNoInventorySkipsMachine(t *testing.T) {
	e, db, _ := newEngine(t)
	addMachine(t, db, "ePhone", 100, map[string]int{"screens": 1, "cases": 1}, day)
	setInventory(t, db, "screens", 100) // cases stays at zero

	_, err := e.ProcessManufacturing(ctx)
	require.NoError(t, err)
	assert.Zero(t, available(t, db, "ePhone"))
	assert.Equal(t, 100, inventory(t, db, "screens"), "no consumption without production")
}

func TestHandleMachineFailure(t *testing.T) {
	e, db, em := newEngine(t)
	bom := map[string]int{"screens": 1}
	addMachine(t, db, "ePhone", 100, bom, day.AddDate(0, 0, -3))
	addMachine(t, db, "ePhone", 200, bom, day.AddDate(0, 0, -2))
	addMachine(t, db, "ePhone", 300, bom, day.AddDate(0, 0, -1))

	n, err := e.HandleMachineFailure(ctx, "ePhone", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, em.retired["ePhone"])

	active, err := db.ListActiveMachines(ctx, storetest.Phone(t, db, "ePhone").ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 300, active[0].RatePerDay, "newest machine survives")

	_, err = e.HandleMachineFailure(ctx, "ePhone", 0)
	assert.True(t, errors.Is(err, ErrInvalidCount))
	_, err = e.HandleMachineFailure(ctx, "iBrick", 1)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
