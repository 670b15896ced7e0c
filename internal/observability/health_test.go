package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"OptionLedger/internal/observability"

	"github.com/stretchr/testify/require"
)

func TestReadiness(t *testing.T) {
	h := observability.NewHealthChecker()
	var transitions []bool
	h.OnChange(func(ready bool) { transitions = append(transitions, ready) })

	probe := func() int {
		rec := httptest.NewRecorder()
		h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	require.Equal(t, http.StatusServiceUnavailable, probe())

	h.SetReady(true)
	h.SetReady(true)
	require.Equal(t, http.StatusOK, probe())
	require.Equal(t, []bool{true}, transitions)

	down := errors.New("connection refused")
	h.AddCheck("postgres", func(context.Context) error { return down })
	require.Equal(t, http.StatusServiceUnavailable, probe())
	require.Equal(t, map[string]string{"postgres": "connection refused"}, h.Check(context.Background()))
}

func TestLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	observability.NewHealthChecker().LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"alive"`)
}
