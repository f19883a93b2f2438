package prometheus

import (
	"net/http/httptest"
	"testing"

	"github.com/goldstake/stakebridge/internal/logger"
	"github.com/stretchr/testify/assert"
)

func Test_PrometheusServer(t *testing.T) {
	l, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	ps := NewPrometheusServer(&PrometheusServerConfig{Port: 0}, l)

	t.Run("Should serve metrics and health", func(t *testing.T) {
		for _, path := range []string{"/metrics", "/healthz"} {
			rec := httptest.NewRecorder()
			ps.handler().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			assert.Equal(t, 200, rec.Code, path)
		}
	})
	t.Run("Should stop serving on shutdown", func(t *testing.T) {
		shutdown := make(chan bool)
		assert.Nil(t, ps.Start(shutdown))
		shutdown <- true
		close(shutdown)
	})
}
