package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error {
	return p.err
}

func TestHealthChecker(t *testing.T) {
	t.Run("全部依赖正常", func(t *testing.T) {
		hc := NewHealthChecker(nil)
		hc.AddCheck("routes", func() error { return nil })
		hc.AddPinger("redis", stubPinger{})

		results := hc.CheckHealth()
		assert.Equal(t, "OK", results["routes"])
		assert.Equal(t, "OK", results["redis"])
		assert.NotEmpty(t, results["timestamp"])

		rec := httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("依赖异常时未就绪但仍存活", func(t *testing.T) {
		hc := NewHealthChecker(nil)
		hc.AddCheck("messages", func() error { return errors.New("connection refused") })

		results := hc.CheckHealth()
		assert.Equal(t, "ERROR: connection refused", results["messages"])

		rec := httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		rec = httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
