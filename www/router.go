// Package www serves the JSON API for orders, partner callbacks and
// simulation control.
package www

import (
	"net/http"

	"phonesim/config"
	"phonesim/engine"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	engine   *engine.Engine
	validate *validator.Validate
	log      logrus.FieldLogger
}

func NewRouter(eng *engine.Engine, cfg *config.WebConfig, log logrus.FieldLogger) http.Handler {
	h := &Handlers{
		engine:   eng,
		validate: validator.New(),
		log:      log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.apiHealth)
		r.Get("/stock", h.apiStock)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.apiListOrders)
			r.Post("/", h.apiCreateOrder)
			r.Get("/{id}", h.apiGetOrder)
			r.Post("/{id}/cancel", h.apiCancelOrder)
		})
		r.Post("/payments", h.apiPayment)

		// Carrier callbacks
		r.Post("/logistics/consumer/collected", h.apiGoodsCollected)
		r.Post("/logistics/bulk/delivered", h.apiBulkDelivered)

		r.Route("/simulation", func(r chi.Router) {
			r.Get("/", h.apiSimulationStatus)
			r.Post("/start", h.apiSimulationStart)
			r.Post("/tick", h.apiSimulationTick)
			r.Post("/stop", h.apiSimulationStop)
		})
		r.Post("/machines/failure", h.apiMachineFailure)
		r.Get("/effects", h.apiListEffects)
	})

	return r
}
