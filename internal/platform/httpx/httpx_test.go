package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		slug   string
	}{
		{shared.ErrNotFound, http.StatusNotFound, "not-found"},
		{fmt.Errorf("expenses: get: %w", shared.ErrPermissionDenied), http.StatusForbidden, "permission-denied"},
		{shared.ErrPeriodClosed, http.StatusUnprocessableEntity, "period-closed"},
		{&shared.TransitionError{From: "valido", To: "enviado"}, http.StatusConflict, "invalid-transition"},
		{shared.ErrConflictingTransition, http.StatusConflict, "conflicting-transition"},
		{shared.Invalid("motivo", "required"), http.StatusBadRequest, "validation"},
		{shared.Unavailable("db", errors.New("refused")), http.StatusServiceUnavailable, "dependency-unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.slug, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)
			require.Equal(t, tc.status, rr.Code)
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

			var p ProblemDetail
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
			assert.Equal(t, "urn:reembolso:problem:"+tc.slug, p.Type)
			assert.Equal(t, tc.status, p.Status)
		})
	}
}

func TestRespondErrorDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, shared.Invalid("valor_lancado", "must be positive"))
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, "valor_lancado", p.Field)

	rr = httptest.NewRecorder()
	RespondError(rr, shared.Unavailable("db", errors.New("password authentication failed")))
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.NotContains(t, rr.Body.String(), "password")

	rr = httptest.NewRecorder()
	RespondError(rr, errors.New("nil map write"))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "nil map")
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		To string `json:"to"`
	}
	decode := func(raw string) (body, error) {
		var b body
		err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw)), &b)
		return b, err
	}

	b, err := decode(`{"to":"valido"}`)
	require.NoError(t, err)
	assert.Equal(t, "valido", b.To)

	_, err = decode(`{"to":"valido","extra":1}`)
	assert.Error(t, err)
	_, err = decode(`{"to":"valido"}{"to":"invalido"}`)
	assert.Error(t, err)
	_, err = decode(`{"to":"` + strings.Repeat("x", MaxBodyBytes) + `"}`)
	assert.Error(t, err)
}
