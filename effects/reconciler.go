package effects

import (
	"context"
	"time"

	"phonesim/store"

	"github.com/sirupsen/logrus"
)

// Reconciler flags pending effects that never received an outcome.
type Reconciler struct {
	db    *store.DB
	after time.Duration
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewReconciler(db *store.DB, after time.Duration, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{db: db, after: after, log: log, now: time.Now}
}

// Sweep moves every pending effect older than the review window to
// needs_review and returns how many were moved.
func (r *Reconciler) Sweep(ctx context.Context) (int64, error) {
	now := r.now()
	n, err := r.db.FlagStaleEffects(ctx, now.Add(-r.after), now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Warnf("reconciler: %d external effects need review", n)
	}
	return n, nil
}

// Outstanding lists effects waiting for manual review.
func (r *Reconciler) Outstanding(ctx context.Context, limit int) ([]*store.ExternalEffect, error) {
	return r.db.ListEffects(ctx, store.EffectNeedsReview, limit)
}
