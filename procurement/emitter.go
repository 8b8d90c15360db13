package procurement

import "github.com/shopspring/decimal"

// Emitter is the interface adapters must satisfy to bridge procurement events to the engine.
type Emitter interface {
	EmitPartsOrdered(part string, quantity int, cost decimal.Decimal, deliveryRef string)
	EmitPartsDelivered(part string, units int)
	EmitMachinesPurchased(model string, quantity int, cost decimal.Decimal, deliveryRef string)
	EmitMachinesDelivered(model string, units int)
}
