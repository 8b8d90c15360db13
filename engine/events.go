package engine

import "github.com/shopspring/decimal"

type EventType int

const (
	EventSimulationStarted EventType = iota + 1
	EventSimulationStopped
	EventTickCompleted
	EventOrderCreated
	EventOrderStatusChanged
	EventPartsOrdered
	EventPartsDelivered
	EventMachinesPurchased
	EventMachinesDelivered
	EventMachinesRetired
	EventProductionRun
	EventLoanTaken
)

var eventNames = map[EventType]string{
	EventSimulationStarted:  "simulation.started",
	EventSimulationStopped:  "simulation.stopped",
	EventTickCompleted:      "tick.completed",
	EventOrderCreated:       "order.created",
	EventOrderStatusChanged: "order.status_changed",
	EventPartsOrdered:       "parts.ordered",
	EventPartsDelivered:     "parts.delivered",
	EventMachinesPurchased:  "machines.purchased",
	EventMachinesDelivered:  "machines.delivered",
	EventMachinesRetired:    "machines.retired",
	EventProductionRun:      "production.run",
	EventLoanTaken:          "loan.taken",
}

// String is the event's message type on the wire.
func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// --- Event payloads ---

type SimulationEvent struct {
	EpochMs int64  `json:"epoch_ms"`
	Date    string `json:"date"`
	Ticks   int    `json:"ticks"`
}

type TickCompletedEvent struct {
	Result *TickResult `json:"result"`
}

type OrderCreatedEvent struct {
	OrderID int64           `json:"order_id"`
	Account string          `json:"account"`
	Total   decimal.Decimal `json:"total"`
	Units   int             `json:"units"`
}

type OrderStatusChangedEvent struct {
	OrderID   int64  `json:"order_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Detail    string `json:"detail"`
}

type PartsOrderedEvent struct {
	Part        string          `json:"part"`
	Quantity    int             `json:"quantity"`
	Cost        decimal.Decimal `json:"cost"`
	DeliveryRef string          `json:"delivery_ref"`
}

type PartsDeliveredEvent struct {
	Part  string `json:"part"`
	Units int    `json:"units"`
}

type MachinesPurchasedEvent struct {
	Model       string          `json:"model"`
	Quantity    int             `json:"quantity"`
	Cost        decimal.Decimal `json:"cost"`
	DeliveryRef string          `json:"delivery_ref"`
}

type MachinesChangedEvent struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

type ProductionRunEvent struct {
	Date     string        `json:"date"`
	Model    string        `json:"model"`
	Produced int           `json:"produced"`
	Consumed map[int64]int `json:"consumed"`
}

type LoanTakenEvent struct {
	Date       string          `json:"date"`
	LoanNumber string          `json:"loan_number"`
	Amount     decimal.Decimal `json:"amount"`
}
