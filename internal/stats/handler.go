package stats

import (
	"log/slog"
	"net/http"

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

// Overview handles GET /api/v1/admin/stats
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.Service.Overview(r.Context())
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, overview)
}
