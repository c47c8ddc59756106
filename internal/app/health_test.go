package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadinessReportsEachDependency(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	cases := []struct {
		name   string
		checks map[string]ReadinessCheck
		status int
		want   map[string]string
	}{
		{"all healthy", map[string]ReadinessCheck{"postgres": ok, "redis": ok}, http.StatusOK, map[string]string{"postgres": "ok", "redis": "ok"}},
		{"redis down", map[string]ReadinessCheck{"postgres": ok, "redis": down}, http.StatusServiceUnavailable, map[string]string{"postgres": "ok", "redis": "unavailable"}},
		{"no checks", nil, http.StatusOK, map[string]string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			readinessHandler(logger, tc.checks).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			require.Equal(t, tc.status, rr.Code)

			var report readinessReport
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
			assert.Equal(t, tc.want, report.Checks)
			assert.NotContains(t, rr.Body.String(), "refused")
		})
	}
}

func TestRouterServesProbes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := NewRouter(RouterParams{
		Logger: logger,
		Config: &Config{},
		Readiness: map[string]ReadinessCheck{
			"redis": func(context.Context) error { return errors.New("down") },
		},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
