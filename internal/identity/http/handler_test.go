package identityhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/reembolso/internal/identity"
	"github.com/odyssey-erp/reembolso/internal/roles"
	"github.com/odyssey-erp/reembolso/internal/shared"
)

type stubResolver map[int64]roles.Set

func (s stubResolver) Resolve(ctx context.Context, p shared.Principal) roles.Set {
	return s[p.UserID]
}

type stubEnqueuer struct {
	calls int
	err   error
}

func (s *stubEnqueuer) EnqueueIdentityRefresh(ctx context.Context) (string, error) {
	s.calls++
	return "task-1", s.err
}

const (
	hrUser    int64 = 1
	colabUser int64 = 2
)

func newReconciler(t *testing.T) *identity.Reconciler {
	t.Helper()
	store := identity.NewMemoryStore()
	require.NoError(t, store.Replace(context.Background(), []identity.NameInconsistency{
		{EmployeeID: 7, UserID: colabUser, HRName: "Maria Souza", AccountName: "Maria S. Souza"},
	}))
	return identity.NewReconciler(nil, nil, store, nil)
}

func newRouter(t *testing.T, enqueuer RefreshEnqueuer) http.Handler {
	resolver := stubResolver{
		hrUser:    roles.NewSet(roles.RH),
		colabUser: roles.NewSet(roles.Colaborador),
	}
	r := chi.NewRouter()
	NewHandler(nil, newReconciler(t), resolver, enqueuer).MountRoutes(r)
	return r
}

func as(req *http.Request, userID int64) *http.Request {
	return req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: userID, Name: "x"}))
}

func TestListInconsistenciesForHR(t *testing.T) {
	router := newRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, as(httptest.NewRequest(http.MethodGet, "/identity/inconsistencies", nil), colabUser))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, as(httptest.NewRequest(http.MethodGet, "/identity/inconsistencies", nil), hrUser))
	require.Equal(t, http.StatusOK, rr.Code)
	var body []identity.NameInconsistency
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "Maria S. Souza", body[0].AccountName)
}

func TestDisplayNameDependsOnViewer(t *testing.T) {
	router := newRouter(t, nil)
	cases := map[int64]string{hrUser: "Maria Souza", colabUser: "Maria S. Souza"}
	for user, want := range cases {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/identity/display-name?employee_id=7&hr_name=Maria+Souza", nil)
		router.ServeHTTP(rr, as(req, user))
		require.Equal(t, http.StatusOK, rr.Code)
		var body displayNameResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, want, body.Name)
	}
}

func TestDisplayNameValidatesQuery(t *testing.T) {
	router := newRouter(t, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, as(httptest.NewRequest(http.MethodGet, "/identity/display-name?employee_id=abc&hr_name=x", nil), hrUser))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRefreshEnqueuesForRH(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	router := newRouter(t, enqueuer)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, as(httptest.NewRequest(http.MethodPost, "/identity/refresh", nil), colabUser))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Zero(t, enqueuer.calls)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, as(httptest.NewRequest(http.MethodPost, "/identity/refresh", nil), hrUser))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, enqueuer.calls)
}

func TestRefreshEnqueueFailureIsUnavailable(t *testing.T) {
	router := newRouter(t, &stubEnqueuer{err: errors.New("redis down")})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, as(httptest.NewRequest(http.MethodPost, "/identity/refresh", nil), hrUser))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
