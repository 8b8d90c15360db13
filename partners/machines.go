package partners

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MachineVendorClient buys manufacturing machines from the simulation provider.
type MachineVendorClient struct {
	c *Client
}

func NewMachineVendorClient(baseURL string, timeout time.Duration) *MachineVendorClient {
	return &MachineVendorClient{c: NewClient("machine-vendor", baseURL, timeout)}
}

type machinePurchaseRequest struct {
	MachineName string `json:"machineName"`
	Quantity    int    `json:"quantity"`
}

type machineMaterial struct {
	Material string `json:"material"`
	Quantity int    `json:"quantity"`
}

type machinePurchaseResponse struct {
	OrderID        flexID          `json:"orderId"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
	UnitWeight     float64         `json:"unitWeight"`
	Quantity       int             `json:"quantity"`
	BankAccount    string          `json:"bankAccount"`
	MachineDetails struct {
		RequiredMaterials []machineMaterial `json:"requiredMaterials"`
		ProductionRate    int               `json:"productionRate"`
	} `json:"machineDetails"`
}

func (m *MachineVendorClient) PurchaseMachine(ctx context.Context, name string, quantity int) (MachineQuote, error) {
	var resp machinePurchaseResponse
	if err := m.c.post(ctx, "/machines", machinePurchaseRequest{MachineName: name, Quantity: quantity}, &resp); err != nil {
		return MachineQuote{}, err
	}
	if resp.OrderID == "" {
		return MachineQuote{}, fmt.Errorf("machine purchase: %w: no order id", ErrRejected)
	}
	q := MachineQuote{
		OrderID:         string(resp.OrderID),
		TotalPrice:      resp.TotalPrice,
		UnitWeight:      resp.UnitWeight,
		Quantity:        resp.Quantity,
		PayToAccount:    resp.BankAccount,
		BillOfMaterials: make(map[string]int, len(resp.MachineDetails.RequiredMaterials)),
		ProductionRate:  resp.MachineDetails.ProductionRate,
	}
	if q.Quantity == 0 {
		q.Quantity = quantity
	}
	for _, mat := range resp.MachineDetails.RequiredMaterials {
		if mat.Quantity > 0 {
			q.BillOfMaterials[mat.Material] += mat.Quantity
		}
	}
	return q, nil
}

type machinePaymentResponse struct {
	Status string `json:"status"`
}

func (m *MachineVendorClient) ConfirmPayment(ctx context.Context, orderID string) (string, error) {
	var resp machinePaymentResponse
	if err := m.c.post(ctx, "/orders/payment-confirmation", map[string]string{"orderId": orderID}, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}
