// Package partners holds the HTTP clients for the external services the
// company trades with, and the normalized value types their responses are
// translated into.
package partners

import (
	"context"

	"github.com/shopspring/decimal"
)

type TransferRequest struct {
	ToAccount   string
	ToBank      string
	Amount      decimal.Decimal
	Description string
	// IdempotencyKey is sent to the bank and doubles as our reference.
	IdempotencyKey string
}

type TransferResult struct {
	TransactionNumber string
	Status            string
}

type LoanResult struct {
	LoanNumber string
	Amount     decimal.Decimal
}

// PurchaseQuote is a supplier's answer to an order, whatever its wire shape.
type PurchaseQuote struct {
	OrderID      string
	TotalPrice   decimal.Decimal
	PayToAccount string
}

type PickupItem struct {
	Name     string
	Quantity int
}

type PickupRequest struct {
	OriginOrderID      string
	OriginCompany      string
	DestinationCompany string
	Items              []PickupItem
}

// PickupQuote is a carrier's answer to a pickup request.
type PickupQuote struct {
	PickupRequestID    string
	Cost               decimal.Decimal
	PaymentReferenceID string
	PayToAccount       string
	Status             string
}

type PickupStatus struct {
	PickupRequestID string
	Status          string
	Delivered       bool
	// Failed means the carrier will never deliver the pickup.
	Failed bool
}

type ConsumerPickupRequest struct {
	Quantity int
	From     string
	To       string
}

// MachineQuote is the machine vendor's answer to a purchase.
type MachineQuote struct {
	OrderID      string
	TotalPrice   decimal.Decimal
	UnitWeight   float64
	Quantity     int
	PayToAccount string
	// BillOfMaterials maps part name to units consumed per phone.
	BillOfMaterials map[string]int
	ProductionRate  int
}

// Bank is the commercial bank holding the company account.
type Bank interface {
	CreateAccount(ctx context.Context) (string, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	TakeLoan(ctx context.Context, amount decimal.Decimal) (LoanResult, error)
	CreateTransaction(ctx context.Context, req TransferRequest) (TransferResult, error)
}

type Supplier interface {
	CreateOrder(ctx context.Context, quantity int) (PurchaseQuote, error)
}

type BulkCarrier interface {
	CreatePickupRequest(ctx context.Context, req PickupRequest) (PickupQuote, error)
	GetPickupRequest(ctx context.Context, id string) (PickupStatus, error)
}

type ConsumerCarrier interface {
	CreatePickup(ctx context.Context, req ConsumerPickupRequest) (PickupQuote, error)
}

type MachineVendor interface {
	PurchaseMachine(ctx context.Context, name string, quantity int) (MachineQuote, error)
	ConfirmPayment(ctx context.Context, orderID string) (string, error)
}
