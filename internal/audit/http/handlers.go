package audithttp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/reembolso/internal/audit"
	"github.com/odyssey-erp/reembolso/internal/platform/httpx"
	"github.com/odyssey-erp/reembolso/internal/roles"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

// LedgerService defines the read contract the handler needs.
type LedgerService interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
	Report(ctx context.Context, p shared.Principal, f audit.Filter) (audit.Report, error)
}

// Handler serves audit queries and exports.
type Handler struct {
	logger   *slog.Logger
	ledger   LedgerService
	exporter *audit.Exporter
	resolver roles.Resolver
	now      func() time.Time

	exportsPerMinute int
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, ledger LedgerService, exporter *audit.Exporter, resolver roles.Resolver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if exporter == nil {
		exporter = audit.NewExporter(time.UTC)
	}
	return &Handler{
		logger:   logger,
		ledger:   ledger,
		exporter: exporter,
		resolver: resolver,
		now:      time.Now,

		exportsPerMinute: defaultExportsPerMinute,
	}
}

// WithExportLimit caps exports per user per minute. Non-positive values keep the default.
func (h *Handler) WithExportLimit(perMinute int) *Handler {
	if perMinute > 0 {
		h.exportsPerMinute = perMinute
	}
	return h
}

type listResponse struct {
	Filter  audit.Filter  `json:"filter"`
	Entries []audit.Entry `json:"entries"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authorize(r); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err = filter.Normalize()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.ledger.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, "query audit log", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Filter: filter, Entries: entries})
}

func (h *Handler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "text/csv; charset=utf-8", "csv", h.exporter.WriteCSV)
}

func (h *Handler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.export(w, r, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", h.exporter.WriteXLSX)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, contentType, ext string, write func(w io.Writer, rep audit.Report) error) {
	p, err := h.authorize(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.ledger.Report(r.Context(), p, filter)
	if err != nil {
		h.fail(w, "build audit report", err)
		return
	}
	var buf bytes.Buffer
	if err := write(&buf, report); err != nil {
		h.fail(w, "encode audit report", err)
		return
	}
	filename := fmt.Sprintf("auditoria-%s.%s", h.now().Format("20060102-150405"), ext)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("write audit export", slog.Any("error", err))
	}
}

func (h *Handler) authorize(r *http.Request) (shared.Principal, error) {
	p := shared.PrincipalFromContext(r.Context())
	if !p.Authenticated() || h.resolver == nil {
		return p, shared.ErrPermissionDenied
	}
	if !roles.CanReadAudit(h.resolver.Resolve(r.Context(), p)) {
		return p, shared.ErrPermissionDenied
	}
	return p, nil
}

func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	if !shared.IsDomainError(err) {
		h.logger.Error(message, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{
		EntityType: audit.EntityType(strings.TrimSpace(q.Get("entity_type"))),
		EntityID:   strings.TrimSpace(q.Get("entity_id")),
	}
	if v := strings.TrimSpace(q.Get("user_id")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			return f, shared.Invalid("user_id", "must be a positive integer")
		}
		f.UserID = id
	}
	var err error
	if f.From, err = parseBound(q.Get("from"), false); err != nil {
		return f, shared.Invalid("from", "must be RFC3339 or YYYY-MM-DD")
	}
	if f.To, err = parseBound(q.Get("to"), true); err != nil {
		return f, shared.Invalid("to", "must be RFC3339 or YYYY-MM-DD")
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return f, shared.Invalid("limit", "must be a positive integer")
		}
		f.Limit = limit
	}
	return f, nil
}

// parseBound accepts a timestamp or a bare date. A bare upper bound covers the
// whole day.
func parseBound(raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if upper {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return t, nil
}
