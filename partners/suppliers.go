package partners

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Each supplier names the same three facts differently. A supplierWire holds
// the request shape and the translation of the response into a PurchaseQuote.
type supplierWire struct {
	path    string
	request func(quantity int) any
	decode  func(data []byte) (PurchaseQuote, error)
}

var supplierWires = map[string]supplierWire{
	"screens": {
		path:    "/screens/orders",
		request: func(q int) any { return map[string]int{"quantity": q} },
		decode: func(data []byte) (PurchaseQuote, error) {
			var r struct {
				OrderID       flexID          `json:"screenOrderId"`
				TotalPrice    decimal.Decimal `json:"totalPrice"`
				BankAccountNo string          `json:"bankAccountNumber"`
			}
			err := json.Unmarshal(data, &r)
			return PurchaseQuote{OrderID: string(r.OrderID), TotalPrice: r.TotalPrice, PayToAccount: r.BankAccountNo}, err
		},
	},
	"cases": {
		path:    "/cases/orders",
		request: func(q int) any { return map[string]int{"quantity": q} },
		decode: func(data []byte) (PurchaseQuote, error) {
			var r struct {
				ID            flexID          `json:"id"`
				TotalPrice    decimal.Decimal `json:"total_price"`
				AccountNumber string          `json:"account_number"`
			}
			err := json.Unmarshal(data, &r)
			return PurchaseQuote{OrderID: string(r.ID), TotalPrice: r.TotalPrice, PayToAccount: r.AccountNumber}, err
		},
	},
	"electronics": {
		path:    "/electronics/orders",
		request: func(q int) any { return map[string]int{"amount": q} },
		decode: func(data []byte) (PurchaseQuote, error) {
			var r struct {
				OrderID    flexID          `json:"orderId"`
				AmountDue  decimal.Decimal `json:"amountDue"`
				BankNumber string          `json:"bankNumber"`
			}
			err := json.Unmarshal(data, &r)
			return PurchaseQuote{OrderID: string(r.OrderID), TotalPrice: r.AmountDue, PayToAccount: r.BankNumber}, err
		},
	},
}

// SupplierClient orders one part type from its supplier.
type SupplierClient struct {
	c    *Client
	wire supplierWire
}

// NewSupplierClient returns the adapter for the named supplier.
func NewSupplierClient(name, baseURL string, timeout time.Duration) (*SupplierClient, error) {
	w, ok := supplierWires[name]
	if !ok {
		return nil, fmt.Errorf("unknown supplier %q", name)
	}
	return &SupplierClient{c: NewClient(name+"-supplier", baseURL, timeout), wire: w}, nil
}

func (s *SupplierClient) CreateOrder(ctx context.Context, quantity int) (PurchaseQuote, error) {
	var raw json.RawMessage
	if err := s.c.post(ctx, s.wire.path, s.wire.request(quantity), &raw); err != nil {
		return PurchaseQuote{}, err
	}
	q, err := s.wire.decode(raw)
	if err != nil {
		return PurchaseQuote{}, fmt.Errorf("%s decode: %w", s.c.name, err)
	}
	if q.OrderID == "" || q.PayToAccount == "" {
		return PurchaseQuote{}, fmt.Errorf("%s order: %w: incomplete quote", s.c.name, ErrRejected)
	}
	return q, nil
}
