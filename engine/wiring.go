package engine

import (
	"context"
	"encoding/json"
	"time"

	"phonesim/messaging"
)

const handlerTimeout = 5 * time.Second

func (e *Engine) wireEventHandlers() {
	e.Events.Subscribe(e.auditEvent)

	if t := e.cfg.Messaging.Transport; t != "" && t != "none" {
		e.Events.Subscribe(e.enqueueEvent)
	}

	// Stock-changing events drop the cached snapshot
	e.Events.SubscribeTypes(func(evt Event) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		e.invalidateStock(ctx)
	}, EventOrderCreated, EventOrderStatusChanged, EventProductionRun)
}

// auditEvent records every event in the audit log.
func (e *Engine) auditEvent(evt Event) {
	entityType, entityID, action, oldValue, newValue := auditFields(evt)
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := e.db.AppendAudit(ctx, entityType, entityID, action, oldValue, newValue, "engine"); err != nil {
		e.log.Errorf("engine: audit %s: %v", evt.Type, err)
	}
}

func auditFields(evt Event) (entityType string, entityID int64, action, oldValue, newValue string) {
	action = evt.Type.String()
	switch p := evt.Payload.(type) {
	case OrderCreatedEvent:
		return "order", p.OrderID, action, "", p.Total.String()
	case OrderStatusChangedEvent:
		return "order", p.OrderID, action, p.OldStatus, p.NewStatus
	case PartsOrderedEvent:
		return "part", 0, action, "", summarize(p)
	case PartsDeliveredEvent:
		return "part", 0, action, "", summarize(p)
	case MachinesPurchasedEvent:
		return "machine", 0, action, "", summarize(p)
	case MachinesChangedEvent:
		return "machine", 0, action, "", summarize(p)
	case ProductionRunEvent:
		return "phone", 0, action, "", summarize(p)
	case LoanTakenEvent:
		return "loan", 0, action, "", summarize(p)
	case TickCompletedEvent:
		return "simulation", 0, action, "", summarize(p.Result)
	default:
		return "simulation", 0, action, "", summarize(p)
	}
}

func summarize(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// enqueueEvent stores the event in the outbox for the drainer to publish.
func (e *Engine) enqueueEvent(evt Event) {
	simDate := ""
	if e.clock.Initialized() {
		simDate = e.clock.DateString()
	}
	env := messaging.NewEnvelope(evt.Type.String(), e.cfg.Messaging.Source, simDate, evt.Payload)
	data, err := env.Encode()
	if err != nil {
		e.log.Errorf("engine: encode %s: %v", evt.Type, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := e.db.EnqueueOutbox(ctx, e.cfg.Messaging.EventsTopic, data, env.MsgType); err != nil {
		e.log.Errorf("engine: enqueue %s: %v", evt.Type, err)
	}
}
