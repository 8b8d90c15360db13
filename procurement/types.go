package procurement

import (
	"errors"
	"time"

	"phonesim/config"

	"github.com/shopspring/decimal"
)

var (
	ErrDeliveryNotFound = errors.New("delivery not found")
	ErrDeliveryUnpaid   = errors.New("delivery has not been paid")
	ErrNoSupplier       = errors.New("no supplier client")
)

// machineVendorCompany is the origin company named on machine pickups.
const machineVendorCompany = "machine-vendor"

type Options struct {
	CompanyName     string
	BankCode        string
	PartsThreshold  int
	StarterMachines int
	BasicMachines   int
	WealthThreshold decimal.Decimal
	SafetyBuffer    decimal.Decimal
	InFlightTTL     time.Duration
	Phones          []config.PhoneSpec
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CompanyName:     cfg.Partners.CompanyName,
		BankCode:        cfg.Partners.BankCode,
		PartsThreshold:  cfg.Procurement.PartsThreshold,
		StarterMachines: cfg.Procurement.StarterMachinesPerModel,
		BasicMachines:   cfg.Procurement.BasicMachinesPerModel,
		WealthThreshold: decimal.NewFromFloat(cfg.Procurement.WealthThreshold),
		SafetyBuffer:    decimal.NewFromFloat(cfg.Procurement.SafetyBuffer),
		InFlightTTL:     cfg.Procurement.InFlightTTL,
		Phones:          cfg.Catalog.Phones,
	}
}

// PartResult is the outcome of one part's replenishment check.
type PartResult struct {
	Part              string          `json:"part"`
	Current           int             `json:"current"`
	Ordered           int             `json:"ordered"`
	Cost              decimal.Decimal `json:"cost"`
	PurchaseID        int64           `json:"purchase_id,omitempty"`
	DeliveryReference string          `json:"delivery_reference,omitempty"`
	// Skipped is set when a purchase for the part is still in transit.
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

type ReplenishReport struct {
	Date    string        `json:"date"`
	Results []*PartResult `json:"results"`
}

// Ordered returns the number of parts successfully ordered.
func (r *ReplenishReport) Ordered() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil && res.Ordered > 0 {
			n++
		}
	}
	return n
}

func (r *ReplenishReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// MachineResult is the outcome of one machine purchase attempt.
type MachineResult struct {
	Model             string          `json:"model"`
	Quantity          int             `json:"quantity"`
	Cost              decimal.Decimal `json:"cost"`
	PurchaseID        int64           `json:"purchase_id,omitempty"`
	DeliveryReference string          `json:"delivery_reference,omitempty"`
	Error             string          `json:"error,omitempty"`
	Err               error           `json:"-"`
}

const (
	BranchStarter = "starter"
	BranchWealthy = "wealthy"
	BranchBasic   = "basic"
)

type ExpansionReport struct {
	Date    string           `json:"date"`
	Branch  string           `json:"branch"`
	Balance decimal.Decimal  `json:"balance"`
	Results []*MachineResult `json:"results"`
}

// Purchased returns the number of machines bought.
func (r *ExpansionReport) Purchased() int {
	n := 0
	for _, res := range r.Results {
		if res.Err == nil {
			n += res.Quantity
		}
	}
	return n
}

func (r *PartResult) setErr(err error) {
	r.Err = err
	r.Error = err.Error()
}

func (r *MachineResult) setErr(err error) {
	r.Err = err
	r.Error = err.Error()
}
