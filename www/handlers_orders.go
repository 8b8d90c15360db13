package www

import (
	"net/http"
	"strconv"

	"phonesim/orders"
)

type createOrderRequest struct {
	AccountNumber string               `json:"account_number" validate:"required"`
	Items         []orders.ItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handlers) apiCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.engine.Orders().CreateOrder(r.Context(), req.AccountNumber, req.Items)
	if err != nil {
		h.fail(w, r, "create order", err)
		return
	}
	h.jsonStatus(w, http.StatusCreated, order)
}

func (h *Handlers) apiListOrders(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := h.engine.Orders().ListOrders(r.Context(), status, limit)
	if err != nil {
		h.fail(w, r, "list orders", err)
		return
	}
	h.jsonOK(w, list)
}

func (h *Handlers) apiGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.jsonError(w, "invalid id", http.StatusBadRequest)
		return
	}
	order, err := h.engine.Orders().GetOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get order", err)
		return
	}
	h.jsonOK(w, order)
}

func (h *Handlers) apiCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		h.jsonError(w, "invalid id", http.StatusBadRequest)
		return
	}
	cancelled, err := h.engine.Orders().CancelOrder(r.Context(), id)
	if err != nil {
		h.fail(w, r, "cancel order", err)
		return
	}
	h.jsonOK(w, map[string]any{"id": id, "cancelled": cancelled})
}

func (h *Handlers) apiPayment(w http.ResponseWriter, r *http.Request) {
	var req orders.PaymentNotification
	if !h.decode(w, r, &req) {
		return
	}
	order, err := h.engine.Orders().ProcessPayment(r.Context(), req)
	if err != nil {
		h.fail(w, r, "process payment", err)
		return
	}
	h.jsonOK(w, order)
}
