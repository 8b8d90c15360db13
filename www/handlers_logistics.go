package www

import "net/http"

type collectedRequest struct {
	DeliveryReference string `json:"delivery_reference" validate:"required"`
}

type bulkDeliveredRequest struct {
	DeliveryReference string `json:"delivery_reference" validate:"required"`
	// Quantity, when set, is the number of units the carrier handed over.
	Quantity int `json:"quantity" validate:"gte=0"`
}

func (h *Handlers) apiGoodsCollected(w http.ResponseWriter, r *http.Request) {
	var req collectedRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.Orders().ConfirmGoodsCollection(r.Context(), req.DeliveryReference); err != nil {
		h.fail(w, r, "goods collected", err)
		return
	}
	h.jsonOK(w, map[string]string{"status": "collected", "delivery_reference": req.DeliveryReference})
}

func (h *Handlers) apiBulkDelivered(w http.ResponseWriter, r *http.Request) {
	var req bulkDeliveredRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.ConfirmBulkDelivery(r.Context(), req.DeliveryReference, req.Quantity); err != nil {
		h.fail(w, r, "bulk delivered", err)
		return
	}
	h.jsonOK(w, map[string]string{"status": "received", "delivery_reference": req.DeliveryReference})
}
