package www

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"phonesim/engine"
	"phonesim/manufacturing"
	"phonesim/orders"
	"phonesim/procurement"
	"phonesim/simclock"
	"phonesim/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var errBadRequest = errors.New("malformed request body")

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	h.jsonStatus(w, http.StatusOK, data)
}

func (h *Handlers) jsonStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warnf("www: encode response: %v", err)
	}
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	h.jsonStatus(w, code, map[string]string{"error": msg})
}

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		h.jsonError(w, fmt.Sprintf("%s: %v", errBadRequest, err), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			h.jsonStatus(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationFields(verrs),
			})
			return false
		}
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func validationFields(verrs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Namespace()] = fe.Tag()
	}
	return fields
}

// statusFor maps domain errors to HTTP status codes. Zero means the error is
// unexpected.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrInvalidOrder),
		errors.Is(err, orders.ErrInvalidPayment),
		errors.Is(err, engine.ErrInvalidEpoch),
		errors.Is(err, manufacturing.ErrInvalidCount):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, orders.ErrDeliveryNotFound),
		errors.Is(err, procurement.ErrDeliveryNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrReservationUnderflow),
		errors.Is(err, procurement.ErrDeliveryUnpaid),
		errors.Is(err, orders.ErrDeliveryNotCollectable),
		errors.Is(err, engine.ErrAlreadyRunning),
		errors.Is(err, engine.ErrNotRunning),
		errors.Is(err, engine.ErrTickInProgress),
		errors.Is(err, simclock.ErrNotInitialized):
		return http.StatusConflict
	case errors.Is(err, orders.ErrPaymentFailed),
		errors.Is(err, orders.ErrDeliveryFailed):
		return http.StatusBadGateway
	}
	return 0
}

// fail writes err as a client or gateway error when it is a known domain
// error, otherwise logs it and answers with a generic 500.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if code := statusFor(err); code != 0 {
		h.jsonError(w, err.Error(), code)
		return
	}
	h.log.WithField("request", r.URL.Path).Errorf("www: %s: %v", op, err)
	h.jsonError(w, "internal server error", http.StatusInternalServerError)
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
