package periodshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/reembolso/internal/periods"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

type stubPeriodService struct {
	list       []periods.CalendarPeriod
	now        time.Time
	lastCreate periods.CreateInput
	closeErr   error
}

func (s *stubPeriodService) List(ctx context.Context) ([]periods.CalendarPeriod, error) {
	return s.list, nil
}

func (s *stubPeriodService) Get(ctx context.Context, id int64) (periods.CalendarPeriod, error) {
	for _, p := range s.list {
		if p.ID == id {
			return p, nil
		}
	}
	return periods.CalendarPeriod{}, shared.ErrNotFound
}

func (s *stubPeriodService) Current(ctx context.Context) (periods.CalendarPeriod, error) {
	p, ok := periods.FindCurrent(s.list, s.now)
	if !ok {
		return periods.CalendarPeriod{}, shared.ErrNotFound
	}
	return p, nil
}

func (s *stubPeriodService) Create(ctx context.Context, p shared.Principal, in periods.CreateInput) (periods.CalendarPeriod, error) {
	s.lastCreate = in
	return periods.CalendarPeriod{ID: 10, Periodo: "02/2026", Status: periods.StatusAberto}, nil
}

func (s *stubPeriodService) Close(ctx context.Context, p shared.Principal, id int64) (periods.ClosingResult, error) {
	if s.closeErr != nil {
		return periods.ClosingResult{}, s.closeErr
	}
	return periods.ClosingResult{ClosingRef: "ref"}, nil
}

func (s *stubPeriodService) Now() time.Time { return s.now }

func newRouter(svc *stubPeriodService) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func authed(req *http.Request) *http.Request {
	return req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: 1, Name: "Renata"}))
}

func january() periods.CalendarPeriod {
	return periods.CalendarPeriod{
		ID:              1,
		Periodo:         "01/2026",
		DataInicio:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		DataFinal:       time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		AbreLancamento:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		FechaLancamento: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Status:          periods.StatusAberto,
	}
}

func TestCurrentReportsSubmissionWindow(t *testing.T) {
	svc := &stubPeriodService{list: []periods.CalendarPeriod{january()}, now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	rr := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rr, authed(httptest.NewRequest(http.MethodGet, "/periods/current", nil)))
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "01/2026", body["periodo"])
	assert.Equal(t, false, body["can_submit"])
	assert.Equal(t, "Aberto", body["status_label"])
}

func TestCreateParsesDates(t *testing.T) {
	svc := &stubPeriodService{}
	payload := `{"periodo":"02/2026","data_inicio":"2026-02-01","data_final":"2026-02-28","abre_lancamento":"2026-02-01","fecha_lancamento":"2026-02-05"}`
	rr := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rr, authed(httptest.NewRequest(http.MethodPost, "/periods/", strings.NewReader(payload))))
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, 28, svc.lastCreate.DataFinal.Day())
}

func TestCreateRejectsBadDate(t *testing.T) {
	svc := &stubPeriodService{}
	payload := `{"periodo":"02/2026","data_inicio":"01/02/2026","data_final":"2026-02-28","abre_lancamento":"2026-02-01","fecha_lancamento":"2026-02-05"}`
	rr := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rr, authed(httptest.NewRequest(http.MethodPost, "/periods/", strings.NewReader(payload))))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCloseMapsErrors(t *testing.T) {
	svc := &stubPeriodService{closeErr: &shared.TransitionError{From: "fechado", To: "fechado"}}
	rr := httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rr, authed(httptest.NewRequest(http.MethodPost, "/periods/1/close", nil)))
	assert.Equal(t, http.StatusConflict, rr.Code)

	svc.closeErr = shared.ErrPermissionDenied
	rr = httptest.NewRecorder()
	newRouter(svc).ServeHTTP(rr, authed(httptest.NewRequest(http.MethodPost, "/periods/1/close", nil)))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestListRequiresPrincipal(t *testing.T) {
	rr := httptest.NewRecorder()
	newRouter(&stubPeriodService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/periods/", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
