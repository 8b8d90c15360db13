package orders

import "github.com/shopspring/decimal"

// Emitter is the interface adapters must satisfy to bridge order events to the engine.
type Emitter interface {
	EmitOrderCreated(orderID int64, account string, total decimal.Decimal, units int)
	EmitOrderStatusChanged(orderID int64, oldStatus, newStatus, detail string)
}
