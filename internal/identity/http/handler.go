package identityhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/reembolso/internal/identity"
	"github.com/odyssey-erp/reembolso/internal/platform/httpx"
	"github.com/odyssey-erp/reembolso/internal/roles"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

type reconciler interface {
	Inconsistencies(ctx context.Context) ([]identity.NameInconsistency, error)
	Refresh(ctx context.Context) (identity.RefreshResult, error)
	ResolveDisplayName(ctx context.Context, employeeID int64, hrName string, viewerIsHR bool) string
}

// RefreshEnqueuer hands a refresh to the background worker.
type RefreshEnqueuer interface {
	EnqueueIdentityRefresh(ctx context.Context) (string, error)
}

// Handler exposes name reconciliation to HR and Finance.
type Handler struct {
	logger     *slog.Logger
	reconciler reconciler
	resolver   roles.Resolver
	enqueuer   RefreshEnqueuer
}

// NewHandler builds the identity handler. A nil enqueuer makes refresh run
// inline.
func NewHandler(logger *slog.Logger, reconciler reconciler, resolver roles.Resolver, enqueuer RefreshEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reconciler: reconciler, resolver: resolver, enqueuer: enqueuer}
}

// MountRoutes registers identity routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/identity", func(r chi.Router) {
		r.Get("/inconsistencies", h.list)
		r.Post("/refresh", h.refresh)
		r.Get("/display-name", h.displayName)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if !roles.SeesHRNames(h.resolver.Resolve(r.Context(), shared.PrincipalFromContext(r.Context()))) {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	list, err := h.reconciler.Inconsistencies(r.Context())
	if err != nil {
		h.logger.Error("list inconsistencies", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if list == nil {
		list = []identity.NameInconsistency{}
	}
	httpx.JSON(w, http.StatusOK, list)
}

type refreshResponse struct {
	Queued bool                    `json:"queued"`
	TaskID string                  `json:"task_id,omitempty"`
	Result *identity.RefreshResult `json:"result,omitempty"`
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	if !h.resolver.Resolve(r.Context(), p).Has(roles.RH) {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	if h.enqueuer != nil {
		id, err := h.enqueuer.EnqueueIdentityRefresh(r.Context())
		if err != nil {
			h.logger.Error("enqueue identity refresh", slog.Any("error", err))
			httpx.RespondError(w, shared.Unavailable("identity: enqueue refresh", err))
			return
		}
		httpx.JSON(w, http.StatusAccepted, refreshResponse{Queued: true, TaskID: id})
		return
	}
	result, err := h.reconciler.Refresh(r.Context())
	if err != nil {
		h.logger.Error("identity refresh", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, refreshResponse{Result: &result})
}

type displayNameResponse struct {
	EmployeeID int64  `json:"employee_id"`
	Name       string `json:"name"`
}

func (h *Handler) displayName(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	if !p.Authenticated() {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	q := r.URL.Query()
	employeeID, err := strconv.ParseInt(q.Get("employee_id"), 10, 64)
	if err != nil || employeeID <= 0 {
		httpx.RespondError(w, shared.Invalid("employee_id", "must be a positive integer"))
		return
	}
	hrName := strings.TrimSpace(q.Get("hr_name"))
	if hrName == "" {
		httpx.RespondError(w, shared.Invalid("hr_name", "required"))
		return
	}
	viewerIsHR := roles.SeesHRNames(h.resolver.Resolve(r.Context(), p))
	httpx.JSON(w, http.StatusOK, displayNameResponse{
		EmployeeID: employeeID,
		Name:       h.reconciler.ResolveDisplayName(r.Context(), employeeID, hrName, viewerIsHR),
	})
}
