package engine

import "github.com/shopspring/decimal"

// orderEmitter bridges the orders package's emitter interface to the EventBus.
type orderEmitter struct {
	bus *EventBus
}

func (e *orderEmitter) EmitOrderCreated(orderID int64, account string, total decimal.Decimal, units int) {
	e.bus.Emit(Event{Type: EventOrderCreated, Payload: OrderCreatedEvent{
		OrderID: orderID,
		Account: account,
		Total:   total,
		Units:   units,
	}})
}

func (e *orderEmitter) EmitOrderStatusChanged(orderID int64, oldStatus, newStatus, detail string) {
	e.bus.Emit(Event{Type: EventOrderStatusChanged, Payload: OrderStatusChangedEvent{
		OrderID:   orderID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
		Detail:    detail,
	}})
}

// procurementEmitter bridges parts and machine purchasing to the EventBus.
type procurementEmitter struct {
	bus *EventBus
}

func (e *procurementEmitter) EmitPartsOrdered(part string, quantity int, cost decimal.Decimal, deliveryRef string) {
	e.bus.Emit(Event{Type: EventPartsOrdered, Payload: PartsOrderedEvent{
		Part:        part,
		Quantity:    quantity,
		Cost:        cost,
		DeliveryRef: deliveryRef,
	}})
}

func (e *procurementEmitter) EmitPartsDelivered(part string, units int) {
	e.bus.Emit(Event{Type: EventPartsDelivered, Payload: PartsDeliveredEvent{Part: part, Units: units}})
}

func (e *procurementEmitter) EmitMachinesPurchased(model string, quantity int, cost decimal.Decimal, deliveryRef string) {
	e.bus.Emit(Event{Type: EventMachinesPurchased, Payload: MachinesPurchasedEvent{
		Model:       model,
		Quantity:    quantity,
		Cost:        cost,
		DeliveryRef: deliveryRef,
	}})
}

func (e *procurementEmitter) EmitMachinesDelivered(model string, units int) {
	e.bus.Emit(Event{Type: EventMachinesDelivered, Payload: MachinesChangedEvent{Model: model, Count: units}})
}

// manufacturingEmitter bridges production runs and machine failures to the EventBus.
type manufacturingEmitter struct {
	bus *EventBus
}

func (e *manufacturingEmitter) EmitProductionRun(date, model string, produced int, consumed map[int64]int) {
	e.bus.Emit(Event{Type: EventProductionRun, Payload: ProductionRunEvent{
		Date:     date,
		Model:    model,
		Produced: produced,
		Consumed: consumed,
	}})
}

func (e *manufacturingEmitter) EmitMachinesRetired(model string, count int) {
	e.bus.Emit(Event{Type: EventMachinesRetired, Payload: MachinesChangedEvent{Model: model, Count: count}})
}

type bankingEmitter struct {
	bus *EventBus
}

func (e *bankingEmitter) EmitLoanTaken(date, loanNumber string, amount decimal.Decimal) {
	e.bus.Emit(Event{Type: EventLoanTaken, Payload: LoanTakenEvent{
		Date:       date,
		LoanNumber: loanNumber,
		Amount:     amount,
	}})
}
