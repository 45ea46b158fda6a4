package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parlorworks/seatguard/testutil"
)

func TestMetricsEndpoint(t *testing.T) {
	mux := NewMux(nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Correlation-ID"), "every response carries a correlation id")
}

func TestCorrelationIDPassthrough(t *testing.T) {
	mux := NewMux(nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, "corr-123", rec.Header().Get("X-Correlation-ID"))
}

func TestUnknownRoute(t *testing.T) {
	mux := NewMux(nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProbesAgainstPostgres(t *testing.T) {
	database := testutil.SetupTestDB(t)
	_, err := database.ExecContext(context.Background(), `TRUNCATE bindings, kv`)
	require.NoError(t, err)
	mux := NewMux(database)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	require.Equal(t, http.StatusOK, get("/healthz").Code)
	require.Equal(t, http.StatusOK, get("/readyz").Code)

	rec := get("/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Bindings map[string]int    `json:"bindings"`
		Scanners map[string]string `json:"scanners"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Zero(t, body.Bindings["total"])
}
