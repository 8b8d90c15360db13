// Package partnerstest provides in-memory partner fakes for tests.
package partnerstest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"phonesim/partners"

	"github.com/shopspring/decimal"
)

var ErrUnavailable = errors.New("partner unavailable")

// BalanceRead is one scripted GetBalance answer.
type BalanceRead struct {
	Balance decimal.Decimal
	Err     error
}

type Bank struct {
	mu sync.Mutex

	AccountNumber string
	CreateErr     error
	Balance       decimal.Decimal
	// Reads, when non-empty, are consumed in order before Balance is used.
	Reads       []BalanceRead
	BalanceCall int
	LoanErr     error
	Loans       []decimal.Decimal
	// TransferErr decides the outcome of each transfer; nil means success.
	TransferErr func(req partners.TransferRequest) error
	Transfers   []partners.TransferRequest
	nextTx      int
}

func (b *Bank) CreateAccount(context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CreateErr != nil {
		return "", b.CreateErr
	}
	if b.AccountNumber == "" {
		b.AccountNumber = "ACC-COMPANY"
	}
	return b.AccountNumber, nil
}

func (b *Bank) GetBalance(context.Context) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.BalanceCall++
	if len(b.Reads) > 0 {
		r := b.Reads[0]
		b.Reads = b.Reads[1:]
		return r.Balance, r.Err
	}
	return b.Balance, nil
}

func (b *Bank) TakeLoan(_ context.Context, amount decimal.Decimal) (partners.LoanResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.LoanErr != nil {
		return partners.LoanResult{}, b.LoanErr
	}
	b.Loans = append(b.Loans, amount)
	b.Balance = b.Balance.Add(amount)
	return partners.LoanResult{LoanNumber: fmt.Sprintf("LOAN-%d", len(b.Loans)), Amount: amount}, nil
}

func (b *Bank) CreateTransaction(_ context.Context, req partners.TransferRequest) (partners.TransferResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.TransferErr != nil {
		if err := b.TransferErr(req); err != nil {
			return partners.TransferResult{}, err
		}
	}
	b.Transfers = append(b.Transfers, req)
	b.nextTx++
	return partners.TransferResult{TransactionNumber: fmt.Sprintf("TX-%d", b.nextTx), Status: "completed"}, nil
}

// TransferCount returns the number of successful transfers.
func (b *Bank) TransferCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Transfers)
}

// Supplier quotes UnitPrice per unit.
type Supplier struct {
	mu        sync.Mutex
	Account   string
	UnitPrice decimal.Decimal
	Err       error
	Orders    []int
}

func (s *Supplier) CreateOrder(_ context.Context, quantity int) (partners.PurchaseQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return partners.PurchaseQuote{}, s.Err
	}
	s.Orders = append(s.Orders, quantity)
	acct := s.Account
	if acct == "" {
		acct = "SUPPLIER-ACC"
	}
	return partners.PurchaseQuote{
		OrderID:      fmt.Sprintf("SO-%d", len(s.Orders)),
		TotalPrice:   s.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))),
		PayToAccount: acct,
	}, nil
}

type BulkCarrier struct {
	mu       sync.Mutex
	Cost     decimal.Decimal
	Err      error
	Requests []partners.PickupRequest
	Status   map[string]string
}

func (c *BulkCarrier) CreatePickupRequest(_ context.Context, req partners.PickupRequest) (partners.PickupQuote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return partners.PickupQuote{}, c.Err
	}
	c.Requests = append(c.Requests, req)
	id := fmt.Sprintf("PU-%d", len(c.Requests))
	if c.Status == nil {
		c.Status = map[string]string{}
	}
	c.Status[id] = "PENDING"
	return partners.PickupQuote{
		PickupRequestID:    id,
		Cost:               c.Cost,
		PaymentReferenceID: "PAY-" + id,
		PayToAccount:       "BULK-ACC",
		Status:             "PENDING_PAYMENT",
	}, nil
}

func (c *BulkCarrier) GetPickupRequest(_ context.Context, id string) (partners.PickupStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.Status[id]
	if !ok {
		return partners.PickupStatus{}, ErrUnavailable
	}
	return partners.PickupStatus{PickupRequestID: id, Status: s, Delivered: s == "DELIVERED", Failed: s == "FAILED"}, nil
}

// Deliver marks a pickup as delivered.
func (c *BulkCarrier) Deliver(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status == nil {
		c.Status = map[string]string{}
	}
	c.Status[id] = "DELIVERED"
}

// Fail marks a pickup as failed.
func (c *BulkCarrier) Fail(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status == nil {
		c.Status = map[string]string{}
	}
	c.Status[id] = "FAILED"
}

type ConsumerCarrier struct {
	mu       sync.Mutex
	Cost     decimal.Decimal
	Err      error
	Requests []partners.ConsumerPickupRequest
}

func (c *ConsumerCarrier) CreatePickup(_ context.Context, req partners.ConsumerPickupRequest) (partners.PickupQuote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return partners.PickupQuote{}, c.Err
	}
	c.Requests = append(c.Requests, req)
	return partners.PickupQuote{
		PickupRequestID: fmt.Sprintf("CD-%d", len(c.Requests)),
		Cost:            c.Cost,
		PayToAccount:    "CONSUMER-ACC",
	}, nil
}

// MachineSpec is what the fake vendor quotes for one machine model.
type MachineSpec struct {
	UnitPrice decimal.Decimal
	Rate      int
	Weight    float64
	BOM       map[string]int
}

type MachineVendor struct {
	mu        sync.Mutex
	Specs     map[string]MachineSpec
	Err       error
	Purchases []string
	Confirmed []string
}

func (v *MachineVendor) PurchaseMachine(_ context.Context, name string, quantity int) (partners.MachineQuote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.Err != nil {
		return partners.MachineQuote{}, v.Err
	}
	spec, ok := v.Specs[name]
	if !ok {
		return partners.MachineQuote{}, fmt.Errorf("unknown machine %q", name)
	}
	v.Purchases = append(v.Purchases, name)
	bom := make(map[string]int, len(spec.BOM))
	for k, q := range spec.BOM {
		bom[k] = q
	}
	return partners.MachineQuote{
		OrderID:         fmt.Sprintf("MO-%d", len(v.Purchases)),
		TotalPrice:      spec.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))),
		UnitWeight:      spec.Weight,
		Quantity:        quantity,
		PayToAccount:    "VENDOR-ACC",
		BillOfMaterials: bom,
		ProductionRate:  spec.Rate,
	}, nil
}

func (v *MachineVendor) ConfirmPayment(_ context.Context, orderID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Confirmed = append(v.Confirmed, orderID)
	return "paid", nil
}

// PurchaseCount returns how many purchases the vendor accepted.
func (v *MachineVendor) PurchaseCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.Purchases)
}

// DefaultMachines returns vendor specs for the default catalog machines.
func DefaultMachines() map[string]MachineSpec {
	bom := map[string]int{"screens": 1, "cases": 1, "electronics": 1}
	return map[string]MachineSpec{
		"ephone_machine":         {UnitPrice: decimal.NewFromInt(50_000), Rate: 100, Weight: 200, BOM: bom},
		"ephone_plus_machine":    {UnitPrice: decimal.NewFromInt(75_000), Rate: 80, Weight: 250, BOM: bom},
		"ephone_pro_max_machine": {UnitPrice: decimal.NewFromInt(100_000), Rate: 50, Weight: 300, BOM: bom},
	}
}
