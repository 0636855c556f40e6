package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthHandlerReportsOK(t *testing.T) {
	ok := func(context.Context) error { return nil }
	handler := healthHandler(func() int { return 3 }, ok, ok)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["connections"])
}

func TestHealthHandlerDegradesWhenADependencyFails(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	// Postgres or redis failing each degrades the endpoint.
	for _, checks := range [][]func(context.Context) error{{down, ok}, {ok, down}} {
		rec := httptest.NewRecorder()
		handler := healthHandler(func() int { return 0 }, checks...)
		handler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body["status"])
	}
}
