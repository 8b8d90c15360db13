// Package effects keeps a durable ledger of calls that move money outside the
// database. Each call gets an idempotency key and a pending row committed
// before the call is made; the outcome is written afterwards. Rows that never
// receive an outcome are swept into needs_review by the Reconciler.
package effects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"phonesim/partners"
	"phonesim/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Effect kinds.
const (
	KindRetailPayment   = "retail_payment"
	KindCarrierPayment  = "carrier_payment"
	KindSupplierPayment = "supplier_payment"
	KindMachinePayment  = "machine_payment"
)

// Payment describes one bank transfer to make through the recorder.
type Payment struct {
	Kind        string
	EntityType  string
	EntityID    int64
	ToAccount   string
	ToBank      string
	Amount      decimal.Decimal
	Description string
}

type Recorder struct {
	db  *store.DB
	log logrus.FieldLogger
	now func() time.Time
}

func NewRecorder(db *store.DB, log logrus.FieldLogger) *Recorder {
	return &Recorder{db: db, log: log, now: time.Now}
}

// Begin commits a pending effect and returns it with a fresh key.
func (r *Recorder) Begin(ctx context.Context, kind, entityType string, entityID int64, counterparty string, amount decimal.Decimal) (*store.ExternalEffect, error) {
	e := &store.ExternalEffect{
		IdempotencyKey: uuid.NewString(),
		Kind:           kind,
		EntityType:     entityType,
		EntityID:       entityID,
		Counterparty:   counterparty,
		Amount:         amount,
		Status:         store.EffectPending,
		CreatedAt:      r.now(),
	}
	if err := r.db.InsertEffect(ctx, e); err != nil {
		return nil, fmt.Errorf("effects: begin %s: %w", kind, err)
	}
	return e, nil
}

func (r *Recorder) Succeed(ctx context.Context, key, externalRef string) error {
	return r.db.UpdateEffect(ctx, key, store.EffectSucceeded, externalRef, "", r.now())
}

func (r *Recorder) Fail(ctx context.Context, key string, cause error) error {
	return r.db.UpdateEffect(ctx, key, store.EffectFailed, "", cause.Error(), r.now())
}

// Flag marks an effect for manual review, keeping its external reference.
func (r *Recorder) Flag(ctx context.Context, key, reason string) error {
	e, err := r.db.GetEffect(ctx, key)
	if err != nil {
		return err
	}
	return r.db.UpdateEffect(ctx, key, store.EffectNeedsReview, e.ExternalRef, reason, r.now())
}

// Pay makes a bank transfer under a recorded effect. The pending row is
// committed first; if that fails no money moves. A definite refusal from the
// bank marks the effect failed. A transport error leaves the outcome unknown,
// so the effect goes to needs_review instead.
func (r *Recorder) Pay(ctx context.Context, bank partners.Bank, p Payment) (string, partners.TransferResult, error) {
	e, err := r.Begin(ctx, p.Kind, p.EntityType, p.EntityID, p.ToAccount, p.Amount)
	if err != nil {
		return "", partners.TransferResult{}, err
	}
	key := e.IdempotencyKey

	res, err := bank.CreateTransaction(ctx, partners.TransferRequest{
		ToAccount:      p.ToAccount,
		ToBank:         p.ToBank,
		Amount:         p.Amount,
		Description:    p.Description,
		IdempotencyKey: key,
	})
	if err != nil {
		status := store.EffectFailed
		if !definiteFailure(err) {
			status = store.EffectNeedsReview
		}
		if uerr := r.db.UpdateEffect(context.WithoutCancel(ctx), key, status, "", err.Error(), r.now()); uerr != nil {
			r.log.Errorf("effects: record %s outcome for %s: %v", status, key, uerr)
		}
		return key, partners.TransferResult{}, err
	}

	if uerr := r.Succeed(context.WithoutCancel(ctx), key, res.TransactionNumber); uerr != nil {
		// The transfer happened; the reconciler will flag the pending row.
		r.log.Errorf("effects: payment %s succeeded (tx %s) but could not be recorded: %v", key, res.TransactionNumber, uerr)
	}
	return key, res, nil
}

func definiteFailure(err error) bool {
	var httpErr *partners.HTTPError
	return errors.Is(err, partners.ErrRejected) || errors.As(err, &httpErr)
}
