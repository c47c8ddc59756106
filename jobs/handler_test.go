package jobs

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func serveHealth(h *Handler) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/jobs", h.MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	return rr
}

func TestHealthReportsQueue(t *testing.T) {
	h := &Handler{logger: discardLogger(), inspector: stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Retry: 1, Failed: 2}}}
	rr := serveHealth(h)
	require.Equal(t, http.StatusOK, rr.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, queueHealth{Queue: QueueDefault, Pending: 3, Retry: 1, Failed: 2}, body)
}

func TestHealthWithoutInspector(t *testing.T) {
	rr := serveHealth(NewHandler(nil, discardLogger()))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"queue":"default"`)
}

func TestHealthRedisDown(t *testing.T) {
	h := &Handler{logger: discardLogger(), inspector: stubInspector{err: errors.New("dial tcp: refused")}}
	rr := serveHealth(h)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
