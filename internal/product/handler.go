package product

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/credmart/credmart/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	Service *Service
	Logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: *transport.NewBaseHandler(logger),
		Service:     service,
		Logger:      logger,
	}
}

// GetCatalog handles GET /api/v1/products
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	products, err := h.Service.GetCatalog()
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"products": products,
	})
}

// GetProduct handles GET /api/v1/products/{ref}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	p, err := h.Service.GetByRef(ref)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, toResponse(p))
}
