package expenseshttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/reembolso/internal/expenses"
	"github.com/odyssey-erp/reembolso/internal/periods"
	"github.com/odyssey-erp/reembolso/internal/platform/httpx"
	"github.com/odyssey-erp/reembolso/internal/roles"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

type expenseService interface {
	Submit(ctx context.Context, p shared.Principal, in expenses.SubmitInput) (expenses.Expense, error)
	Update(ctx context.Context, p shared.Principal, id int64, in expenses.UpdateInput) (expenses.Expense, error)
	Delete(ctx context.Context, p shared.Principal, id int64, expectedVersion *int64) error
	Transition(ctx context.Context, p shared.Principal, in expenses.TransitionInput) (expenses.Expense, error)
	Get(ctx context.Context, p shared.Principal, id int64) (expenses.Expense, error)
	ListByPeriod(ctx context.Context, p shared.Principal, periodID int64) ([]expenses.Expense, error)
	Attachments(ctx context.Context, p shared.Principal, id int64) ([]expenses.Attachment, error)
}

// NameResolver picks the colaborador name shown to a viewer.
type NameResolver interface {
	ResolveDisplayName(ctx context.Context, employeeID int64, hrName string, viewerIsHR bool) string
}

// NameDirectory returns HR-recorded colaborador names.
type NameDirectory interface {
	EmployeeName(ctx context.Context, employeeID int64) (string, error)
}

type periodLookup interface {
	Get(ctx context.Context, id int64) (periods.CalendarPeriod, error)
	Current(ctx context.Context) (periods.CalendarPeriod, error)
}

// Handler wires HTTP endpoints for expenses.
type Handler struct {
	logger    *slog.Logger
	service   expenseService
	periods   periodLookup
	resolver  roles.Resolver
	names     NameResolver
	directory NameDirectory
}

// NewHandler constructs an expense HTTP handler. names and directory may be nil,
// in which case responses carry no colaborador name.
func NewHandler(logger *slog.Logger, service expenseService, periodLookup periodLookup, resolver roles.Resolver, names NameResolver, directory NameDirectory) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		periods:   periodLookup,
		resolver:  resolver,
		names:     names,
		directory: directory,
	}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/expenses", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.submit)
		r.Get("/{id}", h.show)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.remove)
		r.Post("/{id}/transition", h.transition)
		r.Get("/{id}/attachments", h.attachments)
	})
}

type expenseView struct {
	expenses.Expense
	StatusLabel     string            `json:"status_label"`
	OrigemLabel     string            `json:"origem_label"`
	ColaboradorNome string            `json:"colaborador_nome,omitempty"`
	Transitions     []expenses.Status `json:"transitions"`
}

func (h *Handler) view(ctx context.Context, set roles.Set, e expenses.Expense) expenseView {
	v := expenseView{
		Expense:     e,
		StatusLabel: e.Status.Label(),
		OrigemLabel: e.Origem.Label(),
		Transitions: expenses.AvailableTransitions(e, set),
	}
	if v.Transitions == nil {
		v.Transitions = []expenses.Status{}
	}
	if h.directory != nil {
		hrName, err := h.directory.EmployeeName(ctx, e.ColaboradorID)
		if err != nil {
			h.logger.Warn("load colaborador name", slog.Int64("colaborador_id", e.ColaboradorID), slog.Any("error", err))
		} else {
			v.ColaboradorNome = hrName
			if h.names != nil {
				v.ColaboradorNome = h.names.ResolveDisplayName(ctx, e.ColaboradorID, hrName, roles.SeesHRNames(set))
			}
		}
	}
	return v
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	periodID, err := h.periodParam(r)
	if err != nil {
		h.fail(w, "resolve period", err)
		return
	}
	list, err := h.service.ListByPeriod(r.Context(), p, periodID)
	if err != nil {
		h.fail(w, "list expenses", err)
		return
	}
	set := h.resolver.Resolve(r.Context(), p)
	views := make([]expenseView, 0, len(list))
	for _, e := range list {
		views = append(views, h.view(r.Context(), set, e))
	}
	httpx.JSON(w, http.StatusOK, views)
}

// periodParam reads periodo_id, falling back to the current period.
func (h *Handler) periodParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("periodo_id")
	if raw == "" {
		current, err := h.periods.Current(r.Context())
		if err != nil {
			return 0, err
		}
		return current.ID, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Invalid("periodo_id", "must be a positive integer")
	}
	return id, nil
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var in expenses.SubmitInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.Invalid("body", err.Error()))
		return
	}
	p := shared.PrincipalFromContext(r.Context())
	e, err := h.service.Submit(r.Context(), p, in)
	if err != nil {
		h.fail(w, "submit expense", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.view(r.Context(), h.resolver.Resolve(r.Context(), p), e))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p := shared.PrincipalFromContext(r.Context())
	e, err := h.service.Get(r.Context(), p, id)
	if err != nil {
		h.fail(w, "load expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(r.Context(), h.resolver.Resolve(r.Context(), p), e))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in expenses.UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, shared.Invalid("body", err.Error()))
		return
	}
	p := shared.PrincipalFromContext(r.Context())
	e, err := h.service.Update(r.Context(), p, id, in)
	if err != nil {
		h.fail(w, "update expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(r.Context(), h.resolver.Resolve(r.Context(), p), e))
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var expected *int64
	if raw := r.URL.Query().Get("expected_version"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("expected_version", "must be an integer"))
			return
		}
		expected = &v
	}
	if err := h.service.Delete(r.Context(), shared.PrincipalFromContext(r.Context()), id, expected); err != nil {
		h.fail(w, "delete expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionRequest struct {
	To              expenses.Status `json:"to"`
	Motivo          string          `json:"motivo"`
	ExpectedVersion *int64          `json:"expected_version"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Invalid("body", err.Error()))
		return
	}
	p := shared.PrincipalFromContext(r.Context())
	e, err := h.service.Transition(r.Context(), p, expenses.TransitionInput{
		ExpenseID:       id,
		To:              req.To,
		Motivo:          req.Motivo,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.fail(w, "transition expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.view(r.Context(), h.resolver.Resolve(r.Context(), p), e))
}

func (h *Handler) attachments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.service.Attachments(r.Context(), shared.PrincipalFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, "list attachments", err)
		return
	}
	if list == nil {
		list = []expenses.Attachment{}
	}
	httpx.JSON(w, http.StatusOK, list)
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
