package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"address-key-service/config"
)

// NewRouter はルーターを生成する。
func NewRouter(h *AddressHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// ルート定義
	r.Route("/v1/addresses", func(r chi.Router) {
		r.Get("/", h.ListAddresses)
		r.Get("/default", h.GetDefaultAddress)
		r.Get("/{address_id}", h.GetAddress)
		r.Get("/{address_id}/keys", h.ListKeys)
		r.Delete("/{address_id}/keys", h.InvalidateKeys)
	})
	r.Get("/v1/public-keys/{email}", h.GetPublicKeys)

	if !cfg.OtelEnabled {
		return r
	}
	return otelhttp.NewHandler(r, cfg.OtelServiceName)
}
