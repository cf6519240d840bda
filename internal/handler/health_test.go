package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type healthBody struct {
	Success bool         `json:"success"`
	Data    HealthStatus `json:"data"`
}

func serve(t *testing.T, h *HealthHandler, path string) (int, healthBody) {
	t.Helper()
	router := mux.NewRouter()
	h.Register(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body healthBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		db             Pinger
		expectedStatus int
		expectedChecks map[string]string
	}{
		{
			name:           "liveness",
			path:           "/health",
			db:             pingFunc(func(context.Context) error { return errors.New("down") }),
			expectedStatus: http.StatusOK,
			expectedChecks: map[string]string{},
		},
		{
			name:           "ready with healthy database",
			path:           "/ready",
			db:             pingFunc(func(context.Context) error { return nil }),
			expectedStatus: http.StatusOK,
			expectedChecks: map[string]string{"database": "ok"},
		},
		{
			name:           "not ready when database fails",
			path:           "/ready",
			db:             pingFunc(func(context.Context) error { return errors.New("connection refused") }),
			expectedStatus: http.StatusServiceUnavailable,
			expectedChecks: map[string]string{"database": "failed: connection refused"},
		},
		{
			name:           "ready without dependencies",
			path:           "/ready",
			expectedStatus: http.StatusOK,
			expectedChecks: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.db, nil, time.Second)
			code, body := serve(t, h, tt.path)

			assert.Equal(t, tt.expectedStatus, code)
			assert.Equal(t, tt.expectedStatus == http.StatusOK, body.Success)
			assert.Equal(t, tt.expectedChecks, body.Data.Checks)
		})
	}
}

func TestHealthHandler_ReadyHonoursTimeout(t *testing.T) {
	db := pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h := NewHealthHandler(db, nil, 20*time.Millisecond)

	code, body := serve(t, h, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "error", body.Data.Status)
}
