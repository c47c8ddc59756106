package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/reembolso/internal/platform/httpx"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

const defaultExportsPerMinute = 10

// MountRoutes registers the audit query and the rate limited exports.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/audit", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.With(h.exportLimiter()).Group(func(r chi.Router) {
			r.Get("/export.csv", h.handleExportCSV)
			r.Get("/export.xlsx", h.handleExportXLSX)
		})
	})
}

func (h *Handler) exportLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(h.exportsPerMinute, time.Minute,
		httprate.WithKeyFuncs(exportKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteProblem(w, httpx.ProblemDetail{
				Type:   "urn:reembolso:problem:export-rate-limited",
				Title:  "Too Many Requests",
				Status: http.StatusTooManyRequests,
				Detail: "audit export limit reached, retry later",
			})
		}),
	)
}

// exportKey buckets by user when authenticated, otherwise by client IP.
func exportKey(r *http.Request) (string, error) {
	if p := shared.PrincipalFromContext(r.Context()); p.Authenticated() {
		return "user:" + strconv.FormatInt(p.UserID, 10), nil
	}
	ip, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + ip, nil
}
