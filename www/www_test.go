package www

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"phonesim/config"
	"phonesim/engine"
	"phonesim/logging"
	"phonesim/partners"
	"phonesim/partners/partnerstest"
	"phonesim/simclock"
	"phonesim/store"
	"phonesim/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler http.Handler
	db      *store.DB
	bank    *partnerstest.Bank
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.Defaults()
	db := storetest.New(t)
	bank := &partnerstest.Bank{Balance: decimal.NewFromInt(10_000_000)}
	suppliers := map[string]partners.Supplier{}
	for _, name := range []string{"screens", "cases", "electronics"} {
		suppliers[name] = &partnerstest.Supplier{Account: "SUP-" + name, UnitPrice: decimal.NewFromInt(2)}
	}
	log := logging.Discard()
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		Clock:     simclock.New(cfg.Simulation.DayLength),
		Partners: engine.Partners{
			Bank:            bank,
			Suppliers:       suppliers,
			BulkCarrier:     &partnerstest.BulkCarrier{},
			ConsumerCarrier: &partnerstest.ConsumerCarrier{},
			MachineVendor:   &partnerstest.MachineVendor{Specs: partnerstest.DefaultMachines()},
		},
		Log: log,
	})
	t.Cleanup(eng.Close)
	return &testServer{handler: NewRouter(eng, &cfg.Web, log), db: db, bank: bank}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) stock(t *testing.T, model string, qty int) {
	t.Helper()
	p := storetest.Phone(t, s.db, model)
	require.NoError(t, s.db.AddProducedStock(context.Background(), p.ID, qty, time.Now()))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, "GET", "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "stopped", body["simulation"])
}

func TestCreateOrder(t *testing.T) {
	s := newServer(t)
	s.stock(t, "ePhone", 10)

	rec := s.do(t, "POST", "/api/orders", `{"account_number":"ACC1","items":[{"model":"ePhone","quantity":2}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, "ACC1", body["account_number"])

	id := int(body["id"].(float64))
	rec = s.do(t, "GET", "/api/orders/"+strconv.Itoa(id), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, "GET", "/api/orders?status=processing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestCreateOrderRejections(t *testing.T) {
	s := newServer(t)
	s.stock(t, "ePhone", 1)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{"account_number":`, http.StatusBadRequest},
		{"no items", `{"account_number":"ACC1","items":[]}`, http.StatusBadRequest},
		{"zero quantity", `{"account_number":"ACC1","items":[{"model":"ePhone","quantity":0}]}`, http.StatusBadRequest},
		{"missing account", `{"items":[{"model":"ePhone","quantity":1}]}`, http.StatusBadRequest},
		{"unknown model", `{"account_number":"ACC1","items":[{"model":"brick","quantity":1}]}`, http.StatusBadRequest},
		{"out of stock", `{"account_number":"ACC1","items":[{"model":"ePhone","quantity":5}]}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "POST", "/api/orders", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Contains(t, decodeBody(t, rec), "error")
		})
	}
}

func TestCreateOrderPaymentFailure(t *testing.T) {
	s := newServer(t)
	s.stock(t, "ePhone", 5)
	s.bank.TransferErr = func(partners.TransferRequest) error { return partnerstest.ErrUnavailable }

	rec := s.do(t, "POST", "/api/orders", `{"account_number":"ACC1","items":[{"model":"ePhone","quantity":1}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestGetOrderErrors(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusBadRequest, s.do(t, "GET", "/api/orders/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "GET", "/api/orders/99", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, "POST", "/api/orders/99/cancel", "").Code)
}

func TestPaymentForUnknownOrder(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, "POST", "/api/payments", `{"reference":"42","amount":1000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, "POST", "/api/payments", `{"amount":1000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCarrierCallbacksUnknownReference(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, "POST", "/api/logistics/consumer/collected", `{"delivery_reference":"CD-404"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, "POST", "/api/logistics/bulk/delivered", `{"delivery_reference":"PU-404"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, "POST", "/api/logistics/bulk/delivered", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSimulationLifecycle(t *testing.T) {
	s := newServer(t)

	assert.Equal(t, http.StatusConflict, s.do(t, "POST", "/api/simulation/tick", "").Code)
	assert.Equal(t, http.StatusConflict, s.do(t, "POST", "/api/simulation/stop", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, "POST", "/api/simulation/start", `{"epoch_start_time":"later"}`).Code)

	rec := s.do(t, "POST", "/api/simulation/start", `{"epoch_start_time":1700000000000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "running", decodeBody(t, rec)["state"])

	rec = s.do(t, "POST", "/api/simulation/start", `{"epoch_start_time":"1700000000000"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, "POST", "/api/simulation/tick", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["tick"])
	assert.Equal(t, "2050-01-02", body["date"])

	rec = s.do(t, "GET", "/api/simulation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["ticks"])

	rec = s.do(t, "POST", "/api/simulation/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", decodeBody(t, rec)["state"])
}

func TestTickSurvivesClientDisconnect(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, "POST", "/api/simulation/start", `{"epoch_start_time":1700000000000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	reqCtx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("POST", "/api/simulation/tick", nil).WithContext(reqCtx)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decodeBody(t, rec)["tick"])

	rec = s.do(t, "GET", "/api/simulation", "")
	assert.Equal(t, float64(1), decodeBody(t, rec)["ticks"])
}

func TestListEffects(t *testing.T) {
	s := newServer(t)
	s.stock(t, "ePhone", 5)
	s.bank.TransferErr = func(partners.TransferRequest) error { return partnerstest.ErrUnavailable }
	rec := s.do(t, "POST", "/api/orders", `{"account_number":"ACC1","items":[{"model":"ePhone","quantity":1}]}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec = s.do(t, "GET", "/api/effects", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "needs_review", list[0]["status"])
	assert.Equal(t, "ACC1", list[0]["counterparty"])

	rec = s.do(t, "GET", "/api/effects?status=succeeded", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, s.do(t, "GET", "/api/effects?status=lost", "").Code)
}

func TestMachineFailure(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, "POST", "/api/machines/failure", `{"model":"ePhone","failure_quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, "POST", "/api/machines/failure", `{"model":"ePhone","failure_quantity":2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["retired"])

	rec = s.do(t, "POST", "/api/machines/failure", `{"model":"brick","failure_quantity":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStock(t *testing.T) {
	s := newServer(t)
	s.stock(t, "ePhone_plus", 7)

	rec := s.do(t, "GET", "/api/stock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stock []*store.Stock
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stock))
	levels := map[string]int{}
	for _, st := range stock {
		levels[st.Model] = st.QuantityAvailable
	}
	assert.Equal(t, 7, levels["ePhone_plus"])
	assert.Equal(t, 0, levels["ePhone"])
}

func TestUnexpectedErrorsAreHidden(t *testing.T) {
	assert.Zero(t, statusFor(errors.New("disk on fire")))

	s := &Handlers{log: logging.Discard()}
	rec := httptest.NewRecorder()
	s.fail(rec, httptest.NewRequest("GET", "/api/stock", nil), "stock", errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk")
}

