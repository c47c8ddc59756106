package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/reembolso/internal/platform/httpx"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Handler exposes the caller's resolved roles to presentation layers.
type Handler struct {
	logger   *slog.Logger
	resolver Resolver
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, resolver Resolver) *Handler {
	return &Handler{logger: logger, resolver: resolver}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me", h.me)
}

type meResponse struct {
	UserID        int64    `json:"user_id"`
	Name          string   `json:"name"`
	ColaboradorID int64    `json:"colaborador_id,omitempty"`
	Roles         []string `json:"roles"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	if !p.Authenticated() {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	set := h.resolver.Resolve(r.Context(), p)
	httpx.JSON(w, http.StatusOK, meResponse{
		UserID:        p.UserID,
		Name:          p.Name,
		ColaboradorID: p.ColaboradorID,
		Roles:         set.Strings(),
	})
}
