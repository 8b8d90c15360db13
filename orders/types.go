package orders

import (
	"errors"
	"time"

	"phonesim/config"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder           = errors.New("invalid order")
	ErrPaymentFailed          = errors.New("payment failed")
	ErrInvalidPayment         = errors.New("invalid payment")
	ErrDeliveryNotFound       = errors.New("delivery not found")
	ErrDeliveryFailed         = errors.New("delivery arrangement failed")
	ErrDeliveryNotCollectable = errors.New("delivery not collectable")
)

// ItemRequest is one line of a customer order.
type ItemRequest struct {
	Model    string `json:"model" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

// PaymentNotification is a customer's report that an order has been paid.
// Reference is the order id.
type PaymentNotification struct {
	Reference string          `json:"reference" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
}

type Options struct {
	CompanyName    string
	BankCode       string
	InlinePayment  bool
	ReservationTTL time.Duration
	PaymentEpsilon decimal.Decimal
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CompanyName:    cfg.Partners.CompanyName,
		BankCode:       cfg.Partners.BankCode,
		InlinePayment:  cfg.Orders.InlinePayment,
		ReservationTTL: cfg.Orders.ReservationTTL,
		PaymentEpsilon: decimal.NewFromFloat(cfg.Orders.PaymentEpsilon),
	}
}
