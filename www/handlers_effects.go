package www

import (
	"net/http"
	"strconv"

	"phonesim/store"
)

// apiListEffects lists recorded partner payments by status. Without a status
// it lists the ones waiting for manual review.
func (h *Handlers) apiListEffects(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = store.EffectNeedsReview
	}
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	var list []*store.ExternalEffect
	var err error
	switch status {
	case store.EffectNeedsReview:
		list, err = h.engine.Reconciler().Outstanding(r.Context(), limit)
	case store.EffectPending, store.EffectSucceeded, store.EffectFailed:
		list, err = h.engine.DB().ListEffects(r.Context(), status, limit)
	default:
		h.jsonError(w, "unknown status "+strconv.Quote(status), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.fail(w, r, "list effects", err)
		return
	}
	if list == nil {
		list = []*store.ExternalEffect{}
	}
	h.jsonOK(w, list)
}
