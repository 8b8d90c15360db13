package partners

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BulkCarrierClient arranges inbound shipments of parts and machines.
type BulkCarrierClient struct {
	c *Client
}

func NewBulkCarrierClient(baseURL string, timeout time.Duration) *BulkCarrierClient {
	return &BulkCarrierClient{c: NewClient("bulk-logistics", baseURL, timeout)}
}

type bulkPickupItem struct {
	ItemName string `json:"itemName"`
	Quantity int    `json:"quantity"`
}

type bulkPickupRequest struct {
	OriginalExternalOrderID string           `json:"originalExternalOrderId"`
	OriginCompany           string           `json:"originCompany"`
	DestinationCompany      string           `json:"destinationCompany"`
	Items                   []bulkPickupItem `json:"items"`
}

type bulkPickupResponse struct {
	PickupRequestID    flexID          `json:"pickupRequestId"`
	Cost               decimal.Decimal `json:"cost"`
	PaymentReferenceID string          `json:"paymentReferenceId"`
	BankAccountNumber  string          `json:"bulkLogisticsBankAccountNumber"`
	Status             string          `json:"status"`
}

func (b *BulkCarrierClient) CreatePickupRequest(ctx context.Context, req PickupRequest) (PickupQuote, error) {
	body := bulkPickupRequest{
		OriginalExternalOrderID: req.OriginOrderID,
		OriginCompany:           req.OriginCompany,
		DestinationCompany:      req.DestinationCompany,
	}
	for _, it := range req.Items {
		body.Items = append(body.Items, bulkPickupItem{ItemName: it.Name, Quantity: it.Quantity})
	}
	var resp bulkPickupResponse
	if err := b.c.post(ctx, "/pickup-requests", body, &resp); err != nil {
		return PickupQuote{}, err
	}
	if resp.PickupRequestID == "" {
		return PickupQuote{}, fmt.Errorf("bulk pickup: %w: no pickup request id", ErrRejected)
	}
	return PickupQuote{
		PickupRequestID:    string(resp.PickupRequestID),
		Cost:               resp.Cost,
		PaymentReferenceID: resp.PaymentReferenceID,
		PayToAccount:       resp.BankAccountNumber,
		Status:             resp.Status,
	}, nil
}

type bulkPickupStatusResponse struct {
	PickupRequestID flexID `json:"pickupRequestId"`
	Status          string `json:"status"`
}

func (b *BulkCarrierClient) GetPickupRequest(ctx context.Context, id string) (PickupStatus, error) {
	var resp bulkPickupStatusResponse
	if err := b.c.get(ctx, "/pickup-requests/"+url.PathEscape(id), &resp); err != nil {
		return PickupStatus{}, err
	}
	return PickupStatus{
		PickupRequestID: id,
		Status:          resp.Status,
		Delivered:       isDelivered(resp.Status),
		Failed:          isFailed(resp.Status),
	}, nil
}

func isDelivered(status string) bool {
	switch strings.ToLower(status) {
	case "delivered", "completed", "complete":
		return true
	}
	return false
}

func isFailed(status string) bool {
	switch strings.ToLower(status) {
	case "failed", "cancelled", "canceled", "rejected", "lost":
		return true
	}
	return false
}

// ConsumerCarrierClient arranges outbound delivery of phones to customers.
type ConsumerCarrierClient struct {
	c *Client
}

func NewConsumerCarrierClient(baseURL string, timeout time.Duration) *ConsumerCarrierClient {
	return &ConsumerCarrierClient{c: NewClient("consumer-logistics", baseURL, timeout)}
}

type consumerPickupRequest struct {
	Quantity   int    `json:"quantity"`
	PickupFrom string `json:"pickupFrom"`
	DeliveryTo string `json:"deliveryTo"`
}

type consumerPickupResponse struct {
	ReferenceNo   flexID          `json:"referenceno"`
	Amount        decimal.Decimal `json:"amount"`
	AccountNumber string          `json:"account_number"`
}

func (cc *ConsumerCarrierClient) CreatePickup(ctx context.Context, req ConsumerPickupRequest) (PickupQuote, error) {
	var resp consumerPickupResponse
	body := consumerPickupRequest{Quantity: req.Quantity, PickupFrom: req.From, DeliveryTo: req.To}
	if err := cc.c.post(ctx, "/pickups", body, &resp); err != nil {
		return PickupQuote{}, err
	}
	if resp.ReferenceNo == "" {
		return PickupQuote{}, fmt.Errorf("consumer pickup: %w: no reference", ErrRejected)
	}
	return PickupQuote{
		PickupRequestID: string(resp.ReferenceNo),
		Cost:            resp.Amount,
		PayToAccount:    resp.AccountNumber,
	}, nil
}
