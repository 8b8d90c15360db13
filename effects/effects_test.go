package effects

import (
	"context"
	"errors"
	"testing"
	"time"

	"phonesim/logging"
	"phonesim/partners"
	"phonesim/partners/partnerstest"
	"phonesim/store"
	"phonesim/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func payment() Payment {
	return Payment{
		Kind:       KindSupplierPayment,
		EntityType: "parts_purchase",
		ToAccount:  "SUP-1",
		ToBank:     "commercial-bank",
		Amount:     decimal.NewFromInt(300),
	}
}

func TestPaySuccessRecordsOutcome(t *testing.T) {
	db := storetest.New(t)
	bank := &partnerstest.Bank{}
	rec := NewRecorder(db, logging.Discard())

	key, res, err := rec.Pay(ctx, bank, payment())
	require.NoError(t, err)
	assert.Equal(t, "TX-1", res.TransactionNumber)

	e, err := db.GetEffect(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, store.EffectSucceeded, e.Status)
	assert.Equal(t, "TX-1", e.ExternalRef)
	require.Len(t, bank.Transfers, 1)
	assert.Equal(t, key, bank.Transfers[0].IdempotencyKey, "key travels as the transaction reference")
}

func TestPayRejectedIsFailed(t *testing.T) {
	db := storetest.New(t)
	bank := &partnerstest.Bank{TransferErr: func(partners.TransferRequest) error {
		return &partners.HTTPError{Partner: "bank", Status: 402, Body: "no funds"}
	}}
	rec := NewRecorder(db, logging.Discard())

	key, _, err := rec.Pay(ctx, bank, payment())
	require.Error(t, err)
	e, err := db.GetEffect(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, store.EffectFailed, e.Status)
	assert.Contains(t, e.Error, "no funds")
}

func TestPayUnknownOutcomeNeedsReview(t *testing.T) {
	db := storetest.New(t)
	bank := &partnerstest.Bank{TransferErr: func(partners.TransferRequest) error {
		return context.DeadlineExceeded
	}}
	rec := NewRecorder(db, logging.Discard())

	key, _, err := rec.Pay(ctx, bank, payment())
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	e, _ := db.GetEffect(ctx, key)
	assert.Equal(t, store.EffectNeedsReview, e.Status)
}

func TestFlagKeepsReference(t *testing.T) {
	db := storetest.New(t)
	rec := NewRecorder(db, logging.Discard())
	key, _, err := rec.Pay(ctx, &partnerstest.Bank{}, payment())
	require.NoError(t, err)

	require.NoError(t, rec.Flag(ctx, key, "order cancelled after payment"))
	e, _ := db.GetEffect(ctx, key)
	assert.Equal(t, store.EffectNeedsReview, e.Status)
	assert.Equal(t, "TX-1", e.ExternalRef)
	assert.Equal(t, "parts_purchase", e.EntityType)
}

func TestReconcilerSweepsStalePending(t *testing.T) {
	db := storetest.New(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewRecorder(db, logging.Discard())
	rec.now = func() time.Time { return now.Add(-2 * time.Hour) }
	stale, err := rec.Begin(ctx, KindCarrierPayment, "order", 1, "CONS", decimal.NewFromInt(10))
	require.NoError(t, err)
	rec.now = func() time.Time { return now.Add(-time.Minute) }
	fresh, err := rec.Begin(ctx, KindCarrierPayment, "order", 2, "CONS", decimal.NewFromInt(10))
	require.NoError(t, err)

	r := NewReconciler(db, time.Hour, logging.Discard())
	r.now = func() time.Time { return now }
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	out, err := r.Outstanding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, stale.IdempotencyKey, out[0].IdempotencyKey)

	e, _ := db.GetEffect(ctx, fresh.IdempotencyKey)
	assert.Equal(t, store.EffectPending, e.Status)
}
