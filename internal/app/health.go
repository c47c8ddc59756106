package app

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/reembolso/internal/platform/httpx"
)

// ReadinessCheck probes one dependency.
type ReadinessCheck func(ctx context.Context) error

const readinessTimeout = 2 * time.Second

type readinessReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// readinessHandler runs every check concurrently and answers 503 when any fails.
func readinessHandler(logger *slog.Logger, checks map[string]ReadinessCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		var mu sync.Mutex
		report := readinessReport{Status: "ok", Checks: make(map[string]string, len(names))}
		var g errgroup.Group
		for _, name := range names {
			check := checks[name]
			g.Go(func() error {
				err := check(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Checks[name] = "unavailable"
					report.Status = "degraded"
					logger.Warn("readiness check failed", slog.String("dependency", name), slog.Any("error", err))
					return nil
				}
				report.Checks[name] = "ok"
				return nil
			})
		}
		_ = g.Wait()

		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, status, report)
	}
}
