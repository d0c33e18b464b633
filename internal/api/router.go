package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/paygate/internal/challenge"
	"github.com/punchamoorthee/paygate/internal/config"
	"github.com/rs/cors"
)

// NewRouter wires every route. Protected resources are mounted at their
// configured paths and accept GET only.
func NewRouter(h *Handler, resources []config.Resource, corsOrigins []string) http.Handler {
	standard := alice.New(h.recoverPanic, h.logRequest, h.instrument)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.Handle("/verify", standard.ThenFunc(h.VerifyHandler)).Methods(http.MethodPost)
	r.Handle("/invoices/{id}", standard.ThenFunc(h.GetInvoiceHandler)).Methods(http.MethodGet)

	for _, res := range resources {
		r.Handle(res.Path, standard.Then(h.Resource(res))).Methods(http.MethodGet)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: challenge.ExposedHeaders,
	})
	return c.Handler(r)
}
