package www

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type startRequest struct {
	// EpochStartTime is epoch milliseconds, sent as a number or a string.
	EpochStartTime json.RawMessage `json:"epoch_start_time"`
}

func (r startRequest) epoch() string {
	return strings.Trim(strings.TrimSpace(string(r.EpochStartTime)), `"`)
}

type machineFailureRequest struct {
	Model           string `json:"model" validate:"required"`
	FailureQuantity int    `json:"failure_quantity" validate:"gt=0"`
}

func (h *Handlers) apiSimulationStatus(w http.ResponseWriter, r *http.Request) {
	h.jsonOK(w, h.engine.Status())
}

func (h *Handlers) apiSimulationStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	// day-0 setup runs to completion even if the caller goes away
	st, err := h.engine.StartSimulation(context.WithoutCancel(r.Context()), req.epoch())
	if err != nil {
		h.fail(w, r, "start simulation", err)
		return
	}
	h.jsonOK(w, st)
}

func (h *Handlers) apiSimulationTick(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Tick(context.WithoutCancel(r.Context()))
	if err != nil {
		h.fail(w, r, "tick", err)
		return
	}
	h.jsonOK(w, res)
}

func (h *Handlers) apiSimulationStop(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.StopSimulation(r.Context())
	if err != nil {
		h.fail(w, r, "stop simulation", err)
		return
	}
	h.jsonOK(w, st)
}

func (h *Handlers) apiMachineFailure(w http.ResponseWriter, r *http.Request) {
	var req machineFailureRequest
	if !h.decode(w, r, &req) {
		return
	}
	retired, err := h.engine.Manufacturing().HandleMachineFailure(r.Context(), req.Model, req.FailureQuantity)
	if err != nil {
		h.fail(w, r, "machine failure", err)
		return
	}
	h.jsonOK(w, map[string]any{"model": req.Model, "retired": retired})
}

func (h *Handlers) apiStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.engine.Stock(r.Context())
	if err != nil {
		h.fail(w, r, "stock", err)
		return
	}
	h.jsonOK(w, stock)
}

func (h *Handlers) apiHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DB().PingContext(r.Context()); err != nil {
		h.log.Errorf("www: health: %v", err)
		h.jsonStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	st := h.engine.Status()
	h.jsonOK(w, map[string]any{
		"status":     "ok",
		"simulation": st.State,
		"date":       st.Date,
	})
}
