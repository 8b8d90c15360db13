package manufacturing

// Emitter bridges manufacturing events to the engine's event bus.
type Emitter interface {
	EmitProductionRun(date, model string, produced int, consumed map[int64]int)
	EmitMachinesRetired(model string, count int)
}
