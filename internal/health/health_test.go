package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestHealthyWhenAllChecksPass(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.Register("redis", func(ctx context.Context) error { return nil })
	m.Register("postgres", func(ctx context.Context) error { return nil })
	m.runAll()

	assert.True(t, m.Healthy())
	report := m.Report()
	require.Len(t, report, 2)
	assert.True(t, report["redis"].Healthy)
}

func TestUnhealthyCheckSurfaces(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.Register("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	m.runAll()

	assert.False(t, m.Healthy())
	assert.Equal(t, "connection refused", m.Report()["redis"].Error)
}

func TestHandlerStatusCodes(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.Register("ok", func(ctx context.Context) error { return nil })
	m.runAll()

	rec := httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy":true`)

	m.Register("bad", func(ctx context.Context) error { return errors.New("down") })
	m.runAll()

	rec = httptest.NewRecorder()
	m.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
