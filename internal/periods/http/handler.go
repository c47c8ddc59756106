package periodshttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/reembolso/internal/periods"
	"github.com/odyssey-erp/reembolso/internal/platform/httpx"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

type periodService interface {
	List(ctx context.Context) ([]periods.CalendarPeriod, error)
	Get(ctx context.Context, id int64) (periods.CalendarPeriod, error)
	Current(ctx context.Context) (periods.CalendarPeriod, error)
	Create(ctx context.Context, p shared.Principal, in periods.CreateInput) (periods.CalendarPeriod, error)
	Close(ctx context.Context, p shared.Principal, periodID int64) (periods.ClosingResult, error)
	Now() time.Time
}

// Handler wires HTTP endpoints for calendar periods and closings.
type Handler struct {
	logger  *slog.Logger
	service periodService
}

// NewHandler constructs a period HTTP handler.
func NewHandler(logger *slog.Logger, service periodService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/periods", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/current", h.current)
		r.Get("/{id}", h.show)
		r.Post("/{id}/close", h.close)
	})
}

type periodView struct {
	periods.CalendarPeriod
	StatusLabel string `json:"status_label"`
	CanSubmit   bool   `json:"can_submit"`
}

func (h *Handler) view(p periods.CalendarPeriod) periodView {
	return periodView{
		CalendarPeriod: p,
		StatusLabel:    p.Status.Label(),
		CanSubmit:      periods.CanSubmit(p, h.service.Now()),
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if !shared.PrincipalFromContext(r.Context()).Authenticated() {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	list, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list periods", err)
		return
	}
	views := make([]periodView, 0, len(list))
	for _, p := range list {
		views = append(views, h.view(p))
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	if !shared.PrincipalFromContext(r.Context()).Authenticated() {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	p, err := h.service.Current(r.Context())
	if err != nil {
		h.fail(w, "current period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(p))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	if !shared.PrincipalFromContext(r.Context()).Authenticated() {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "load period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(p))
}

type createRequest struct {
	Periodo         string `json:"periodo"`
	DataInicio      string `json:"data_inicio"`
	DataFinal       string `json:"data_final"`
	AbreLancamento  string `json:"abre_lancamento"`
	FechaLancamento string `json:"fecha_lancamento"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("body", err.Error()))
		return
	}
	in := periods.CreateInput{Periodo: req.Periodo}
	fields := []struct {
		name string
		raw  string
		into *time.Time
	}{
		{"data_inicio", req.DataInicio, &in.DataInicio},
		{"data_final", req.DataFinal, &in.DataFinal},
		{"abre_lancamento", req.AbreLancamento, &in.AbreLancamento},
		{"fecha_lancamento", req.FechaLancamento, &in.FechaLancamento},
	}
	for _, f := range fields {
		t, err := time.Parse("2006-01-02", strings.TrimSpace(f.raw))
		if err != nil {
			httpx.RespondError(w, shared.Invalid(f.name, "must be YYYY-MM-DD"))
			return
		}
		*f.into = t
	}
	p, err := h.service.Create(r.Context(), shared.PrincipalFromContext(r.Context()), in)
	if err != nil {
		h.fail(w, "create period", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.view(p))
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Close(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "close period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if shared.IsDomainError(err) {
		h.logger.Warn(message, slog.Any("error", err))
	} else {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid("id", "must be a positive integer")
	}
	return id, nil
}
