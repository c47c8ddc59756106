package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/odyssey-erp/reembolso/internal/audit/http"
	expenseshttp "github.com/odyssey-erp/reembolso/internal/expenses/http"
	identityhttp "github.com/odyssey-erp/reembolso/internal/identity/http"
	"github.com/odyssey-erp/reembolso/internal/observability"
	"github.com/odyssey-erp/reembolso/internal/platform/httpx"
	periodshttp "github.com/odyssey-erp/reembolso/internal/periods/http"
	"github.com/odyssey-erp/reembolso/internal/roles"
	"github.com/odyssey-erp/reembolso/internal/shared"
	"github.com/odyssey-erp/reembolso/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	SessionManager  *shared.SessionManager
	Principals      PrincipalLoader
	RolesHandler    *roles.Handler
	ExpensesHandler *expenseshttp.Handler
	PeriodsHandler  *periodshttp.Handler
	AuditHandler    *audithttp.Handler
	IdentityHandler *identityhttp.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
	Readiness       map[string]ReadinessCheck
}

// NewRouter constructs the chi.Router with reembolso defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Principals:     params.Principals,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readinessHandler(logger, params.Readiness))

	if params.RolesHandler != nil {
		params.RolesHandler.MountRoutes(r)
	}
	if params.PeriodsHandler != nil {
		params.PeriodsHandler.MountRoutes(r)
	}
	if params.ExpensesHandler != nil {
		params.ExpensesHandler.MountRoutes(r)
	}
	if params.AuditHandler != nil {
		params.AuditHandler.MountRoutes(r)
	}
	if params.IdentityHandler != nil {
		params.IdentityHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
